package wire

import (
	"net"
	"strings"

	"github.com/nsblast/nsblast/internal/xlog"
)

// Typed views interpret an RR's already-decoded Name/TTL/RData without
// owning or copying memory, per spec.md §4.1 "Type-specific views".

// A is the rdata view for an A record.
type A struct{ RR }

func (a A) Address() net.IP {
	if len(a.RData) != 4 {
		return nil
	}
	return net.IP(a.RData).To4()
}

// AAAA is the rdata view for an AAAA record.
type AAAA struct{ RR }

func (a AAAA) Address() net.IP {
	if len(a.RData) != 16 {
		return nil
	}
	return net.IP(a.RData)
}

// decodeNameRdata decodes a single domain-name rdata (used by CNAME, NS,
// PTR) starting at offset 0 of rdata alone; a compression pointer in it
// can only resolve within rdata itself, not the message it came from.
func decodeNameRdata(rdata []byte) (string, error) {
	name, _, err := decodeName(rdata, 0)
	if err != nil {
		return "", err
	}
	return name, nil
}

// CNAME is the rdata view for a CNAME record.
type CNAME struct{ RR }

func (c CNAME) Target() (string, error) { return decodeNameRdata(c.RData) }

// NS is the rdata view for an NS record.
type NS struct{ RR }

func (n NS) Target() (string, error) { return decodeNameRdata(n.RData) }

// PTR is the rdata view for a PTR record.
type PTR struct{ RR }

func (p PTR) Target() (string, error) { return decodeNameRdata(p.RData) }

// MX is the rdata view for an MX record: preference(2) + exchange name.
type MX struct{ RR }

func (m MX) Preference() uint16 {
	if len(m.RData) < 2 {
		return 0
	}
	return be16(m.RData[0:2])
}

func (m MX) Exchange() (string, error) {
	if len(m.RData) < 2 {
		return "", newError("MX rdata too short").WithKind(xlog.KindMalformed)
	}
	name, _, err := decodeName(m.RData, 2)
	return name, err
}

// SRV is the rdata view for an SRV record: priority(2) weight(2) port(2) target.
type SRV struct{ RR }

func (s SRV) Priority() uint16 { return be16(s.RData[0:2]) }
func (s SRV) Weight() uint16   { return be16(s.RData[2:4]) }
func (s SRV) Port() uint16     { return be16(s.RData[4:6]) }
func (s SRV) Target() (string, error) {
	name, _, err := decodeName(s.RData, 6)
	return name, err
}

// HINFO is the rdata view for a HINFO record: two character-strings.
type HINFO struct{ RR }

func (h HINFO) CPU() string {
	cpu, _ := decodeCharString(h.RData, 0)
	return cpu
}

func (h HINFO) OS() string {
	_, next := decodeCharString(h.RData, 0)
	os, _ := decodeCharString(h.RData, next)
	return os
}

// RP is the rdata view for an RP record: mbox-dname, txt-dname.
type RP struct{ RR }

func (r RP) Mailbox() (string, error) {
	name, _, err := decodeName(r.RData, 0)
	return name, err
}

func (r RP) TXTDomain() (string, error) {
	_, next, err := decodeName(r.RData, 0)
	if err != nil {
		return "", err
	}
	name, _, err := decodeName(r.RData, next)
	return name, err
}

// AFSDB is the rdata view for an AFSDB record: subtype(2), hostname.
type AFSDB struct{ RR }

func (a AFSDB) Subtype() uint16 { return be16(a.RData[0:2]) }
func (a AFSDB) Hostname() (string, error) {
	name, _, err := decodeName(a.RData, 2)
	return name, err
}

// TXT is the rdata view for a TXT record: one or more length-prefixed
// character-strings, concatenated by the caller if desired.
type TXT struct{ RR }

func (t TXT) Strings() []string {
	var out []string
	pos := 0
	for pos < len(t.RData) {
		s, next := decodeCharString(t.RData, pos)
		out = append(out, s)
		pos = next
	}
	return out
}

func decodeCharString(buf []byte, pos int) (string, int) {
	if pos >= len(buf) {
		return "", pos
	}
	n := int(buf[pos])
	end := pos + 1 + n
	if end > len(buf) {
		end = len(buf)
	}
	return string(buf[pos+1 : end]), end
}

// SOA is the rdata view for a zone's start-of-authority record:
// mname, rname(1), serial/refresh/retry/expire/minimum(4 each).
type SOA struct{ RR }

func (s SOA) MName() (string, error) {
	name, _, err := decodeName(s.RData, 0)
	return name, err
}

func (s SOA) RName() (string, error) {
	_, next, err := decodeName(s.RData, 0)
	if err != nil {
		return "", err
	}
	name, _, err := decodeName(s.RData, next)
	return unescapeSOARName(name), err
}

func (s SOA) fixedFieldsOffset() (int, error) {
	_, next, err := decodeName(s.RData, 0)
	if err != nil {
		return 0, err
	}
	_, next2, err := decodeName(s.RData, next)
	return next2, err
}

func (s SOA) Serial() uint32 {
	off, err := s.fixedFieldsOffset()
	if err != nil || off+4 > len(s.RData) {
		return 0
	}
	return be32(s.RData[off : off+4])
}

func (s SOA) Refresh() uint32 { return s.fixedAt(4) }
func (s SOA) Retry() uint32   { return s.fixedAt(8) }
func (s SOA) Expire() uint32  { return s.fixedAt(12) }
func (s SOA) Minimum() uint32 { return s.fixedAt(16) }

func (s SOA) fixedAt(delta int) uint32 {
	off, err := s.fixedFieldsOffset()
	if err != nil || off+delta+4 > len(s.RData) {
		return 0
	}
	return be32(s.RData[off+delta : off+delta+4])
}

// EscapeSOARName exposes escapeSOARName for callers outside this package
// (the storage Entry builder, C2) that assemble SOA rdata from a plain
// email address.
func EscapeSOARName(email string) string { return escapeSOARName(email) }

// escapeSOARName escapes literal '.' bytes within the local part of an
// email address into SOA rname form ("first.last@example.com" ->
// "first\.last.example.com"), per spec.md §4.1.
func escapeSOARName(email string) string {
	at := strings.IndexByte(email, '@')
	if at < 0 {
		return email
	}
	local := strings.ReplaceAll(email[:at], ".", `\.`)
	return local + "." + email[at+1:]
}

// unescapeSOARName reverses escapeSOARName for display purposes.
func unescapeSOARName(rname string) string {
	var b strings.Builder
	labels := splitUnescaped(rname)
	if len(labels) == 0 {
		return rname
	}
	b.WriteString(strings.ReplaceAll(labels[0], `\.`, "."))
	b.WriteByte('@')
	b.WriteString(strings.Join(labels[1:], "."))
	return b.String()
}

// splitUnescaped splits rname on unescaped dots only, keeping the first
// label (the escaped local part) intact for the caller to unescape.
func splitUnescaped(rname string) []string {
	var labels []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(rname); i++ {
		c := rname[i]
		if escaped {
			cur.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			cur.WriteByte(c)
			escaped = true
			continue
		}
		if c == '.' {
			labels = append(labels, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	labels = append(labels, cur.String())
	return labels
}

// OPT is the pseudo-RR view carrying the EDNS extended rcode and the
// advertised UDP buffer size (spec.md §4.1 "Extended rcode"). Per RFC 6891
// its Class field holds the UDP size and its TTL field packs
// extended-rcode(8) | version(8) | flags(16).
type OPT struct{ RR }

func NewOPT(version uint8, extendedRcode uint8, udpSize uint16) RR {
	return RR{
		Name:  "",
		Type:  TypeOPT,
		Class: Class(udpSize),
		TTL:   uint32(extendedRcode)<<24 | uint32(version)<<16,
		RData: nil,
	}
}

func (o OPT) UDPSize() uint16      { return uint16(o.Class) }
func (o OPT) Version() uint8       { return uint8(o.TTL >> 16) }
func (o OPT) ExtendedRcode() uint8 { return uint8(o.TTL >> 24) }
