package orchestrator

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		name          string
		messageID     byte
		payloadLength uint32
	}{
		{"imu_state", msgIDImuState, 1},
		{"imu_data", msgIDImuData, samplePayloadSize},
		{"set_imu_state", msgIDSetImuState, 1},
		{"zero length", 0x01, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hdr := encodeHeader(tc.messageID, tc.payloadLength)
			gotID, gotLen := decodeHeader(hdr)
			if gotID != tc.messageID {
				t.Errorf("message id = %#x, want %#x", gotID, tc.messageID)
			}
			if gotLen != tc.payloadLength {
				t.Errorf("payload length = %d, want %d", gotLen, tc.payloadLength)
			}
		})
	}
}

func TestDecodeStatePayload(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
		want    bool
		wantErr bool
	}{
		{"off", []byte{0x00}, false, false},
		{"on", []byte{0x01}, true, false},
		{"invalid value", []byte{0x02}, false, true},
		{"wrong length", []byte{0x00, 0x01}, false, true},
		{"empty", []byte{}, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeStatePayload(tc.payload)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if err == nil && got != tc.want {
				t.Errorf("on = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSampleRoundTrip(t *testing.T) {
	want := Sample{
		TimestampNs: 1234567890123,
		Gyro:        Vec3{X: 1.5, Y: -2.25, Z: 0.0},
		Accel:       Vec3{X: -9.81, Y: 0.02, Z: 0.125},
	}

	payload := encodeSample(want)
	if len(payload) != samplePayloadSize {
		t.Fatalf("encoded payload length = %d, want %d", len(payload), samplePayloadSize)
	}

	got, err := decodeSample(payload)
	if err != nil {
		t.Fatalf("decodeSample: %v", err)
	}
	if got != want {
		t.Errorf("decodeSample round trip = %+v, want %+v", got, want)
	}
}

func TestDecodeSampleRejectsWrongLength(t *testing.T) {
	_, err := decodeSample(make([]byte, samplePayloadSize-1))
	if err == nil {
		t.Fatal("expected error for short payload, got nil")
	}
}

func TestEncodeFrameIncludesHeader(t *testing.T) {
	frame := encodeFrame(msgIDImuState, []byte{0x01})
	if len(frame) != headerSize+1 {
		t.Fatalf("frame length = %d, want %d", len(frame), headerSize+1)
	}
	id, length := decodeHeader([headerSize]byte(frame[:headerSize]))
	if id != msgIDImuState {
		t.Errorf("message id = %#x, want %#x", id, msgIDImuState)
	}
	if length != 1 {
		t.Errorf("payload length = %d, want 1", length)
	}
}

func TestEncodeSetImuStateFrame(t *testing.T) {
	on := encodeSetImuStateFrame(true)
	off := encodeSetImuStateFrame(false)

	id, length := decodeHeader([headerSize]byte(on[:headerSize]))
	if id != msgIDSetImuState || length != 1 {
		t.Fatalf("unexpected header for on-frame: id=%#x length=%d", id, length)
	}
	if on[headerSize] != 0x01 {
		t.Errorf("on-frame payload byte = %#x, want 0x01", on[headerSize])
	}
	if off[headerSize] != 0x00 {
		t.Errorf("off-frame payload byte = %#x, want 0x00", off[headerSize])
	}
}
