package wire

// Message is a fully parsed DNS message: header plus the four sections
// (RFC 1035 §4). Decode never retains offsets into the source buffer —
// every name has already been decompressed into a plain fqdn string and
// every RR's rdata has been copied out, so buf can be reused or discarded
// by the caller immediately after Decode returns.
type Message struct {
	Header     Header
	Question   []Question
	Answer     []RR
	Authority  []RR
	Additional []RR
}

// Decode parses buf into a Message. Any violation of spec.md §4.1's
// header/label/RR constraints returns a *xlog.Error tagged KindMalformed
// (spec.md's MalformedHeader/MalformedLabel/TruncatedRR all map to it,
// a truncated RR included).
func Decode(buf []byte) (*Message, error) {
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	m := &Message{Header: h}
	pos := headerLen

	for i := 0; i < int(h.QDCount); i++ {
		q, next, err := decodeQuestion(buf, pos)
		if err != nil {
			return nil, err
		}
		m.Question = append(m.Question, q)
		pos = next
	}

	sections := []struct {
		count int
		dst   *[]RR
	}{
		{int(h.ANCount), &m.Answer},
		{int(h.NSCount), &m.Authority},
		{int(h.ARCount), &m.Additional},
	}
	for _, sec := range sections {
		for i := 0; i < sec.count; i++ {
			rr, next, err := decodeRR(buf, pos)
			if err != nil {
				return nil, err
			}
			*sec.dst = append(*sec.dst, rr)
			pos = next
		}
	}

	return m, nil
}

// EDNSBufferSize returns the client-advertised UDP payload size from an OPT
// RR in Additional, or 0 if none is present. Resolvers use this to size
// their reply Builder (spec.md §4.1, default 512 when absent).
func (m *Message) EDNSBufferSize() (size uint16, extendedRcode uint8, present bool) {
	for _, rr := range m.Additional {
		if rr.Type == TypeOPT {
			opt := OPT{RR: rr}
			return opt.UDPSize(), opt.ExtendedRcode(), true
		}
	}
	return 0, 0, false
}
