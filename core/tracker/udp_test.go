package tracker

import "testing"

func TestConnectRoundTrip(t *testing.T) {
	req := prepareConnectInput(7)
	if len(req) != 16 {
		t.Fatalf("connect request len = %d, want 16", len(req))
	}

	reply := make([]byte, 16)
	copy(reply[0:4], []byte{0, 0, 0, 0})
	copy(reply[4:8], []byte{0, 0, 0, 7})
	copy(reply[8:16], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	connID, ok := processConnectOutput(reply, 7)
	if !ok {
		t.Fatal("expected ok reply")
	}
	if connID != 0x0102030405060708 {
		t.Fatalf("connID = %x, want 0102030405060708", connID)
	}
}

func TestConnectOutputRejectsMismatchedTransaction(t *testing.T) {
	reply := make([]byte, 16)
	if _, ok := processConnectOutput(reply, 99); ok {
		t.Fatal("expected mismatched transaction id to be rejected")
	}
}

func TestAnnounceInputIsExactly98Bytes(t *testing.T) {
	stats := Stats{Port: 6881, NumWant: 50}
	req, err := prepareAnnounceInput(1, 2, EventStarted, stats)
	if err != nil {
		t.Fatal(err)
	}
	if len(req) != 98 {
		t.Fatalf("announce request len = %d, want 98", len(req))
	}
}

func TestAnnounceOutputParsesCompactPeers(t *testing.T) {
	reply := make([]byte, 20+12)
	copy(reply[0:4], []byte{0, 0, 0, 1})
	copy(reply[4:8], []byte{0, 0, 0, 5})
	copy(reply[8:12], []byte{0, 0, 7, 8}) // interval = 1800
	copy(reply[20:26], []byte{127, 0, 0, 1, 0x1A, 0xE1})
	copy(reply[26:32], []byte{10, 0, 0, 2, 0x1A, 0xE2})

	result, interval, ok := processAnnounceOutput(reply, 5)
	if !ok {
		t.Fatal("expected ok reply")
	}
	if interval.Seconds() != 1800 {
		t.Fatalf("interval = %v, want 1800s", interval)
	}
	if len(result.Peers) != 2 {
		t.Fatalf("peers = %v, want 2", result.Peers)
	}
	if result.Peers[0].IP != "127.0.0.1" || result.Peers[0].Port != 0x1AE1 {
		t.Fatalf("peer 0 = %+v", result.Peers[0])
	}
}

func TestErrorOutputExtractsReason(t *testing.T) {
	reply := append([]byte{0, 0, 0, 3, 0, 0, 0, 9}, []byte("bad hash")...)
	reason, ok := processErrorOutput(reply, 9)
	if !ok {
		t.Fatal("expected ok reply")
	}
	if reason != "bad hash" {
		t.Fatalf("reason = %q, want %q", reason, "bad hash")
	}
}

func TestParseUDPAddr(t *testing.T) {
	cases := map[string]string{
		"udp://tracker.example.com:6969/announce": "tracker.example.com:6969",
		"udp://tracker.example.com:6969":           "tracker.example.com:6969",
	}
	for in, want := range cases {
		got, err := parseUDPAddr(in)
		if err != nil {
			t.Fatalf("parseUDPAddr(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseUDPAddr(%q) = %q, want %q", in, got, want)
		}
	}
}
