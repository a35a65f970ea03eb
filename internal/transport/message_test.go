package transport

import "testing"

func TestParseMessage(t *testing.T) {
	testCases := []struct {
		Name     string
		Line     string
		ExpectOK bool
		Expect   Message
	}{
		{Name: "election", Line: "ELECTION 42", ExpectOK: true, Expect: Message{Kind: Election, ID: 42}},
		{Name: "leader", Line: "LEADER 7", ExpectOK: true, Expect: Message{Kind: Leader, ID: 7}},
		{Name: "heartbeat", Line: "HEARTBEAT 7", ExpectOK: true, Expect: Message{Kind: Heartbeat, ID: 7}},
		{Name: "unknown command", Line: "FOO 1", ExpectOK: false},
		{Name: "missing id", Line: "ELECTION", ExpectOK: false},
		{Name: "non numeric id", Line: "ELECTION abc", ExpectOK: false},
		{Name: "extra fields", Line: "ELECTION 1 2", ExpectOK: false},
		{Name: "empty line", Line: "", ExpectOK: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			got, ok := ParseMessage(tc.Line)
			if ok != tc.ExpectOK {
				t.Fatalf("ParseMessage(%q) ok = %v, want %v", tc.Line, ok, tc.ExpectOK)
			}
			if ok && got != tc.Expect {
				t.Fatalf("ParseMessage(%q) = %+v, want %+v", tc.Line, got, tc.Expect)
			}
		})
	}
}

func TestMessageEncodeRoundTrip(t *testing.T) {
	for _, m := range []Message{
		{Kind: Election, ID: 3},
		{Kind: Leader, ID: 99},
		{Kind: Heartbeat, ID: 1},
	} {
		encoded := m.Encode()
		// Encode appends the newline the wire format requires; ParseMessage
		// trims it via strings.Fields, so round-tripping must recover m.
		got, ok := ParseMessage(encoded)
		if !ok {
			t.Fatalf("ParseMessage(%q) failed to parse its own Encode() output", encoded)
		}
		if got != m {
			t.Fatalf("round trip %+v -> %q -> %+v", m, encoded, got)
		}
	}
}
