package orchestrator

import "testing"

func TestParseStartPayload(t *testing.T) {
	cases := []struct {
		name        string
		raw         string
		wantAddr    string
		wantPort    int
		wantHasAddr bool
	}{
		{"valid", `{"address":"192.168.1.50","port":9000}`, "192.168.1.50", 9000, true},
		{"empty payload", "", "", 0, false},
		{"not json", "not json at all", "", 0, false},
		{"missing address", `{"port":9000}`, "", 0, false},
		{"port zero", `{"address":"10.0.0.1","port":0}`, "", 0, false},
		{"port too large", `{"address":"10.0.0.1","port":70000}`, "", 0, false},
		{"port negative", `{"address":"10.0.0.1","port":-1}`, "", 0, false},
		{"extra unknown fields", `{"address":"10.0.0.1","port":80,"extra":true}`, "10.0.0.1", 80, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr, port, ok := parseStartPayload(tc.raw)
			if ok != tc.wantHasAddr {
				t.Fatalf("ok = %v, want %v", ok, tc.wantHasAddr)
			}
			if ok {
				if addr != tc.wantAddr || port != tc.wantPort {
					t.Errorf("got (%q, %d), want (%q, %d)", addr, port, tc.wantAddr, tc.wantPort)
				}
			}
		})
	}
}

func TestNewResultDerivesSuccess(t *testing.T) {
	cmd := NewModelCommand("ctrl-1", CommandStart, "", "corr-1")

	cases := []struct {
		status      ImuControlStatus
		wantSuccess bool
	}{
		{StatusSuccess, true},
		{StatusAlreadyRunning, true},
		{StatusOwnershipError, false},
		{StatusFailed, false},
	}

	for _, tc := range cases {
		r := newResult(cmd, tc.status, false, "", "")
		if r.Success != tc.wantSuccess {
			t.Errorf("status %s: Success = %v, want %v", tc.status, r.Success, tc.wantSuccess)
		}
		if r.ControllerID != cmd.ControllerID {
			t.Errorf("ControllerID = %q, want %q", r.ControllerID, cmd.ControllerID)
		}
		if r.CorrelationID != cmd.CorrelationID {
			t.Errorf("CorrelationID = %q, want %q", r.CorrelationID, cmd.CorrelationID)
		}
	}
}

func TestNewCorrelationIDUnique(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty correlation ids")
	}
	if a == b {
		t.Errorf("expected distinct correlation ids, got %q twice", a)
	}
}
