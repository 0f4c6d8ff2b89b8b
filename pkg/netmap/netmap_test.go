package netmap

import (
	"fmt"
	"net"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseEntry(t *testing.T) {
	for _, tc := range []struct {
		Token string
		Norm  string // empty means the parse must fail
	}{
		{"192.0.2.0/24", "192.0.2.0/24"},
		{"192.0.2.7", "192.0.2.7/32"},
		{"10.0.0.0/8", "10.0.0.0/8"},
		{"0.0.0.0/0", "0.0.0.0/0"},
		{"2001:db8::/32", "2001:db8::/32"},
		{"2001:db8::1", "2001:db8::1/128"},
		{"::/0", "::/0"},
		{"192.0.2.1/24", ""},        // host bits outside the mask
		{"2001:db8::1/32", ""},      // host bits outside the mask
		{"192.0.2.0/33", ""},        // prefix too long
		{"2001:db8::/129", ""},      // prefix too long
		{"192.0.2.0/-1", ""},        // negative prefix
		{"192.0.2.0/abc", ""},       // junk prefix
		{"localhost", ""},           // neither v4 nor v6
		{"300.0.2.0/24", ""},        // not an address
		{"2001:zz8::/32", ""},       // not an address
		{"", ""},
	} {
		e, err := ParseEntry(tc.Token)
		if tc.Norm == "" {
			if err == nil {
				t.Errorf("parse %q: expected error, got %v", tc.Token, e)
			}
			continue
		}
		if err != nil {
			t.Errorf("parse %q: unexpected error: %v", tc.Token, err)
			continue
		}
		if s := e.String(); s != tc.Norm {
			t.Errorf("parse %q: expected %q, got %q", tc.Token, tc.Norm, s)
		}
	}
}

func TestParseEntryNormalizes(t *testing.T) {
	// re-stringifying a normalized form must be a fixed point
	for _, tok := range []string{"192.0.2.0/24", "10.0.0.0/8", "2001:db8::/32", "192.0.2.7/32"} {
		e, err := ParseEntry(tok)
		if err != nil {
			t.Fatalf("parse %q: unexpected error: %v", tok, err)
		}
		e2, err := ParseEntry(e.String())
		if err != nil {
			t.Fatalf("reparse %q: unexpected error: %v", e.String(), err)
		}
		if e != e2 {
			t.Fatalf("reparse %q: entry changed", tok)
		}
	}
}

func TestEntryContains(t *testing.T) {
	e, err := ParseEntry("198.51.100.0/30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var n int
	for i := 0; i < 256; i++ {
		if e.Contains([]byte{198, 51, 100, byte(i)}) {
			n++
		}
	}
	if n != 4 {
		t.Fatalf("a /30 must cover exactly 4 addresses, got %d", n)
	}
	for i := 0; i < 4; i++ {
		if !e.Contains([]byte{198, 51, 100, byte(i)}) {
			t.Fatalf("198.51.100.%d should be in 198.51.100.0/30", i)
		}
	}
	if e.Contains(net.ParseIP("198.51.100.1").To16()) {
		t.Fatalf("a 16-byte address must not match a 4-byte entry")
	}
}

func TestList(t *testing.T) {
	l, err := ParseList("203.0.113.0/24, 2001:db8:1::/48,192.0.2.7", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", l.Len())
	}

	for _, tc := range []struct {
		Addr  string
		Match bool
	}{
		{"203.0.113.5", true},
		{"203.0.114.5", false},
		{"192.0.2.7", true},
		{"192.0.2.8", false},
		{"2001:db8:1::42", true},
		{"2001:db8:2::42", false},
		{"not-an-address", false}, // malformed input yields no-match
		{"", false},
	} {
		if m := l.ContainsString(tc.Addr); m != tc.Match {
			t.Errorf("lookup %q: expected %v, got %v", tc.Addr, tc.Match, m)
		}
	}

	if _, err := ParseList("203.0.113.0/24,bogus", zerolog.Nop()); err == nil {
		t.Fatalf("expected error for malformed list entry")
	}
}

func TestEmptyList(t *testing.T) {
	l, err := ParseList("", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Len() != 0 {
		t.Fatalf("expected empty list")
	}
	if l.ContainsString("203.0.113.5") {
		t.Fatalf("empty list must not match")
	}
}

func TestEntryPrefix(t *testing.T) {
	for p := 0; p <= 32; p++ {
		e, err := ParseEntry(fmt.Sprintf("0.0.0.0/%d", p))
		if err != nil {
			t.Fatalf("parse /%d: unexpected error: %v", p, err)
		}
		if e.Prefix() != p {
			t.Fatalf("expected prefix %d, got %d", p, e.Prefix())
		}
	}
}
