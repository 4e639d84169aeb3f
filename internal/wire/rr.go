package wire

import "github.com/nsblast/nsblast/internal/xlog"

// Question is one entry of a message's question section.
type Question struct {
	Name  string
	Type  Type
	Class Class
}

// RR is a parsed resource record. RData is the raw, already-decompressed
// rdata bytes; typed views in rdata.go interpret it without copying.
type RR struct {
	Name  string
	Type  Type
	Class Class
	TTL   uint32
	RData []byte
}

// decodeQuestion parses one question entry starting at offset.
func decodeQuestion(buf []byte, offset int) (Question, int, error) {
	name, pos, err := decodeName(buf, offset)
	if err != nil {
		return Question{}, 0, err
	}
	if pos+4 > len(buf) {
		return Question{}, 0, newError("truncated question").WithKind(xlog.KindMalformed)
	}
	q := Question{
		Name:  name,
		Type:  Type(be16(buf[pos : pos+2])),
		Class: Class(be16(buf[pos+2 : pos+4])),
	}
	return q, pos + 4, nil
}

// DecodeRR exposes decodeRR for callers outside this package that need to
// walk RR-encoded bytes sharing this codec's name compression, namely the
// storage Entry reader (C2), which spec.md §4.2 requires to use "the same
// in-message compression scheme as the wire codec".
func DecodeRR(buf []byte, offset int) (RR, int, error) { return decodeRR(buf, offset) }

// decodeRR parses one non-question RR starting at offset, enforcing that
// ttl/rdlength/rdata all fit within buf (spec.md's TruncatedRR case).
func decodeRR(buf []byte, offset int) (RR, int, error) {
	name, pos, err := decodeName(buf, offset)
	if err != nil {
		return RR{}, 0, err
	}
	if pos+10 > len(buf) {
		return RR{}, 0, newError("truncated RR header").WithKind(xlog.KindMalformed)
	}
	rtype := Type(be16(buf[pos : pos+2]))
	class := Class(be16(buf[pos+2 : pos+4]))
	ttl := be32(buf[pos+4 : pos+8])
	rdlen := int(be16(buf[pos+8 : pos+10]))
	pos += 10
	if pos+rdlen > len(buf) {
		return RR{}, 0, newError("truncated rdata").WithKind(xlog.KindMalformed)
	}
	rdata := make([]byte, rdlen)
	copy(rdata, buf[pos:pos+rdlen])
	return RR{Name: name, Type: rtype, Class: class, TTL: ttl, RData: rdata}, pos + rdlen, nil
}
