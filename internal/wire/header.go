package wire

import "github.com/nsblast/nsblast/internal/xlog"

// Header is the 12-byte fixed DNS message header (RFC 1035 §4.1.1).
type Header struct {
	ID      uint16
	QR      bool
	Opcode  Opcode
	AA      bool
	TC      bool
	RD      bool
	RA      bool
	Z       bool
	AD      bool
	CD      bool
	Rcode   Rcode // low 4 bits go on the wire here; the extended bits live in the OPT RR
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

const headerLen = 12

// decodeHeader parses and validates the 12-byte header at the start of buf.
// Validation matches spec.md §4.1: the reserved Z bit must be 0, and a query
// (QR=0) must not claim AA/RA, a nonzero answer count, or a nonzero rcode.
func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerLen {
		return Header{}, newError("message shorter than DNS header").WithKind(xlog.KindMalformed)
	}
	flags := be16(buf[2:4])
	h := Header{
		ID:      be16(buf[0:2]),
		QR:      flags&0x8000 != 0,
		Opcode:  Opcode((flags >> 11) & 0xF),
		AA:      flags&0x0400 != 0,
		TC:      flags&0x0200 != 0,
		RD:      flags&0x0100 != 0,
		RA:      flags&0x0080 != 0,
		Z:       flags&0x0040 != 0,
		AD:      flags&0x0020 != 0,
		CD:      flags&0x0010 != 0,
		Rcode:   Rcode(flags & 0xF),
		QDCount: be16(buf[4:6]),
		ANCount: be16(buf[6:8]),
		NSCount: be16(buf[8:10]),
		ARCount: be16(buf[10:12]),
	}

	if h.Z {
		return Header{}, newError("reserved Z bit set").WithKind(xlog.KindMalformed)
	}
	if h.Opcode > 4 || h.Opcode == 3 {
		return Header{}, newError("invalid opcode ", h.Opcode).WithKind(xlog.KindMalformed)
	}
	if !h.QR {
		if h.ANCount != 0 || h.AA || h.RA || h.Rcode != 0 {
			return Header{}, newError("malformed query header").WithKind(xlog.KindMalformed)
		}
	}
	return h, nil
}

func (h Header) encode(dst []byte) {
	put16(dst[0:2], h.ID)
	var flags uint16
	if h.QR {
		flags |= 0x8000
	}
	flags |= uint16(h.Opcode&0xF) << 11
	if h.AA {
		flags |= 0x0400
	}
	if h.TC {
		flags |= 0x0200
	}
	if h.RD {
		flags |= 0x0100
	}
	if h.RA {
		flags |= 0x0080
	}
	if h.AD {
		flags |= 0x0020
	}
	if h.CD {
		flags |= 0x0010
	}
	flags |= uint16(h.Rcode) & 0xF
	put16(dst[2:4], flags)
	put16(dst[4:6], h.QDCount)
	put16(dst[6:8], h.ANCount)
	put16(dst[8:10], h.NSCount)
	put16(dst[10:12], h.ARCount)
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func put16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func put32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
