package pairing

import "testing"

func TestMarshalParseRoundTrip(t *testing.T) {
	want := Payload{
		IP:              "192.168.1.42",
		Port:            8443,
		Fingerprint:     "aa:bb:cc:dd",
		Token:           "deadbeef",
		ProtocolVersion: 1,
	}

	raw, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected error parsing invalid JSON")
	}
}
