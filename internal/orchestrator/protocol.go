package orchestrator

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire message IDs (spec.md §6.2).
const (
	msgIDImuState    byte = 0x01 // server -> client
	msgIDImuData     byte = 0x02 // server -> client
	msgIDSetImuState byte = 0x81 // client -> server
)

// headerSize is the fixed 5-byte frame header: 1 byte message id, 4 bytes
// little-endian payload length.
const headerSize = 5

// samplePayloadSize is the fixed IMU_DATA payload length: u64 timestamp_ns
// plus 6 float32 values (gyro xyz, accel xyz), all little-endian.
const samplePayloadSize = 8 + 4*6

// maxPayloadLength rejects runaway payload_length fields as a protocol
// violation (spec.md §4.2 step 2).
const maxPayloadLength = 1_000_000

// Vec3 is a little-endian triple of float32 values.
type Vec3 struct {
	X, Y, Z float32
}

// Sample is a decoded IMU_DATA frame.
type Sample struct {
	TimestampNs uint64
	Gyro        Vec3
	Accel       Vec3
}

// decodeHeader parses the fixed 5-byte frame header.
func decodeHeader(b [headerSize]byte) (messageID byte, payloadLength uint32) {
	return b[0], binary.LittleEndian.Uint32(b[1:5])
}

// encodeHeader serializes a frame header.
func encodeHeader(messageID byte, payloadLength uint32) [headerSize]byte {
	var b [headerSize]byte
	b[0] = messageID
	binary.LittleEndian.PutUint32(b[1:5], payloadLength)
	return b
}

// decodeStatePayload parses an IMU_STATE payload (spec.md §6.2: 1 byte, 0|1).
func decodeStatePayload(payload []byte) (on bool, err error) {
	if len(payload) != 1 {
		return false, fmt.Errorf("imu_state payload: expected 1 byte, got %d", len(payload))
	}
	switch payload[0] {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	default:
		return false, fmt.Errorf("imu_state payload: invalid value %#x", payload[0])
	}
}

// decodeSample parses an IMU_DATA payload into a Sample (spec.md §6.2).
func decodeSample(payload []byte) (Sample, error) {
	if len(payload) != samplePayloadSize {
		return Sample{}, fmt.Errorf("imu_data payload: expected %d bytes, got %d", samplePayloadSize, len(payload))
	}

	s := Sample{
		TimestampNs: binary.LittleEndian.Uint64(payload[0:8]),
	}
	s.Gyro.X = decodeFloat32(payload[8:12])
	s.Gyro.Y = decodeFloat32(payload[12:16])
	s.Gyro.Z = decodeFloat32(payload[16:20])
	s.Accel.X = decodeFloat32(payload[20:24])
	s.Accel.Y = decodeFloat32(payload[24:28])
	s.Accel.Z = decodeFloat32(payload[28:32])
	return s, nil
}

// encodeSample serializes a Sample into an IMU_DATA payload. Used by the
// test fixture IMU server; not exercised by production code paths, which
// only ever decode samples.
func encodeSample(s Sample) []byte {
	payload := make([]byte, samplePayloadSize)
	binary.LittleEndian.PutUint64(payload[0:8], s.TimestampNs)
	encodeFloat32(payload[8:12], s.Gyro.X)
	encodeFloat32(payload[12:16], s.Gyro.Y)
	encodeFloat32(payload[16:20], s.Gyro.Z)
	encodeFloat32(payload[20:24], s.Accel.X)
	encodeFloat32(payload[24:28], s.Accel.Y)
	encodeFloat32(payload[28:32], s.Accel.Z)
	return payload
}

func decodeFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func encodeFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

// encodeFrame wraps a payload with its header.
func encodeFrame(messageID byte, payload []byte) []byte {
	hdr := encodeHeader(messageID, uint32(len(payload)))
	out := make([]byte, 0, headerSize+len(payload))
	out = append(out, hdr[:]...)
	out = append(out, payload...)
	return out
}

// encodeSetImuStateFrame builds the re-arm request frame the IMU Client
// sends when the device reports OFF (spec.md §4.2 step 4).
func encodeSetImuStateFrame(on bool) []byte {
	var v byte
	if on {
		v = 0x01
	}
	return encodeFrame(msgIDSetImuState, []byte{v})
}

// encodeStateFrame builds an IMU_STATE frame, used only by the fixture IMU
// server in tests to emulate spec.md §6.2's assumed server behavior.
func encodeStateFrame(on bool) []byte {
	var v byte
	if on {
		v = 0x01
	}
	return encodeFrame(msgIDImuState, []byte{v})
}

// encodeSampleFrame builds an IMU_DATA frame, used only by the fixture IMU
// server in tests.
func encodeSampleFrame(s Sample) []byte {
	return encodeFrame(msgIDImuData, encodeSample(s))
}
