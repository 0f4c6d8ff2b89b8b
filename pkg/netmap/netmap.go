// Package netmap implements fixed lists of IPv4/IPv6 networks used for
// whitelist and proxy-list membership checks.
package netmap

import (
	"fmt"
	"math/bits"
	"net"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Entry is a single network in a list. The address and mask are 4 bytes for
// IPv4 and 16 for IPv6. Address bits outside the mask are always zero.
type Entry struct {
	length  int
	address [16]byte
	mask    [16]byte
}

// ParseEntry parses an addr[/prefix] token. A token containing a colon is
// parsed as IPv6, one containing a period as IPv4, and anything else is
// rejected. If the prefix is omitted, the mask covers the whole address. An
// address with bits set outside the mask is rejected.
func ParseEntry(s string) (Entry, error) {
	var e Entry

	addr, prefixStr, hasPrefix := strings.Cut(s, "/")
	var prefix int
	if hasPrefix {
		v, err := strconv.Atoi(prefixStr)
		if err != nil {
			return Entry{}, fmt.Errorf("parse prefix of %q: %w", s, err)
		}
		prefix = v
	}

	switch {
	case strings.Contains(addr, ":"):
		ip := net.ParseIP(addr)
		if ip == nil {
			return Entry{}, fmt.Errorf("address %q has a colon but is not an IPv6 address", addr)
		}
		e.length = net.IPv6len
		copy(e.address[:], ip.To16())
	case strings.Contains(addr, "."):
		ip := net.ParseIP(addr)
		if ip == nil || ip.To4() == nil {
			return Entry{}, fmt.Errorf("address %q has a period but is not an IPv4 address", addr)
		}
		e.length = net.IPv4len
		copy(e.address[:], ip.To4())
	default:
		return Entry{}, fmt.Errorf("address %q is neither an IPv4 nor an IPv6 address", addr)
	}

	if !hasPrefix {
		prefix = e.length * 8
	}
	if prefix < 0 || prefix > e.length*8 {
		return Entry{}, fmt.Errorf("prefix /%d of %q is out of range", prefix, s)
	}
	for i, n := 0, prefix; i < e.length; i++ {
		switch {
		case n >= 8:
			e.mask[i] = 0xff
			n -= 8
		case n > 0:
			e.mask[i] = byte(0xff << (8 - n))
			n = 0
		}
	}

	for i := 0; i < e.length; i++ {
		if e.address[i]&^e.mask[i] != 0 {
			return Entry{}, fmt.Errorf("address %q has bits set outside the /%d mask", addr, prefix)
		}
	}
	return e, nil
}

// Prefix returns the number of leading one bits in the mask.
func (e Entry) Prefix() int {
	var n int
	for i := 0; i < e.length; i++ {
		n += bits.OnesCount8(e.mask[i])
		if e.mask[i] != 0xff {
			break
		}
	}
	return n
}

// Contains reports whether addr, given as 4 or 16 raw bytes, is in the
// network.
func (e Entry) Contains(addr []byte) bool {
	if len(addr) != e.length {
		return false
	}
	for i := range addr {
		if addr[i]&e.mask[i] != e.address[i] {
			return false
		}
	}
	return true
}

// String returns the normalized addr/prefix form of the entry.
func (e Entry) String() string {
	if e.length == 0 {
		return "<invalid>"
	}
	return net.IP(e.address[:e.length]).String() + "/" + strconv.Itoa(e.Prefix())
}

// List is an immutable set of networks built once at startup. The zero value
// is an empty list.
type List struct {
	entries []Entry
	log     zerolog.Logger
}

// ParseList parses a comma-separated list of addr[/prefix] tokens. An empty
// string yields an empty list. The logger is used to warn about malformed
// lookup addresses.
func ParseList(s string, log zerolog.Logger) (*List, error) {
	l := &List{log: log}
	if s == "" {
		return l, nil
	}
	for _, tok := range strings.Split(s, ",") {
		e, err := ParseEntry(strings.TrimSpace(tok))
		if err != nil {
			return nil, err
		}
		l.entries = append(l.entries, e)
	}
	return l, nil
}

// Len returns the number of networks in the list.
func (l *List) Len() int {
	return len(l.entries)
}

// Contains reports whether addr, given as 4 or 16 raw bytes, is in one of the
// networks. Lookup is linear; lists are expected to be small.
func (l *List) Contains(addr []byte) bool {
	for _, e := range l.entries {
		if e.Contains(addr) {
			return true
		}
	}
	return false
}

// ContainsString parses addr as an IPv4 or IPv6 literal and reports whether
// it is in one of the networks. A malformed address is logged and reported as
// no-match.
func (l *List) ContainsString(addr string) bool {
	b, err := addrBytes(addr)
	if err != nil {
		l.log.Warn().Str("addr", addr).Err(err).Msg("netmap lookup for malformed address")
		return false
	}
	return l.Contains(b)
}

func addrBytes(addr string) ([]byte, error) {
	switch {
	case strings.Contains(addr, ":"):
		ip := net.ParseIP(addr)
		if ip == nil {
			return nil, fmt.Errorf("address %q has a colon but is not an IPv6 address", addr)
		}
		return ip.To16(), nil
	case strings.Contains(addr, "."):
		ip := net.ParseIP(addr)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("address %q has a period but is not an IPv4 address", addr)
		}
		return ip.To4(), nil
	default:
		return nil, fmt.Errorf("address %q is neither an IPv4 nor an IPv6 address", addr)
	}
}
