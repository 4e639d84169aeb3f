package wire

// Builder assembles a reply Message directly into its wire form, sharing
// AppendName's compression table across all four sections the way a single
// parsed Message would have been compressed on the wire (spec.md §4.1,
// §4.2's "same in-message compression scheme"). Sections must be added in
// wire order: AddQuestion calls, then AddRR(SectionAnswer, ...), then
// SectionAuthority, then SectionAdditional; SetOPT and Finish come last.
type Builder struct {
	buf     []byte
	offsets map[string]int

	id     uint16
	opcode Opcode
	aa     bool
	tc     bool
	rd     bool
	ra     bool
	ad     bool
	cd     bool
	rcode  Rcode

	maxSize int

	qdcount uint16
	ancount uint16
	nscount uint16
	arcount uint16

	optVersion  uint8
	optUDPSize  uint16
	optExtRcode uint8
	hasOPT      bool
}

// Section identifies which of the three RR sections AddRR appends to.
type Section int

const (
	SectionAnswer Section = iota
	SectionAuthority
	SectionAdditional
)

// NewBuilder starts a reply to the query with the given id. maxSize is the
// wire budget for the whole message (the client's EDNS UDP size, or 512 when
// absent per spec.md §4.1); it bounds every AddRR call but never the header
// or question, which are assumed to always fit.
func NewBuilder(id uint16, opcode Opcode, rd bool, maxSize uint16) *Builder {
	if maxSize == 0 {
		maxSize = 512
	}
	return &Builder{
		buf:     make([]byte, headerLen),
		offsets: make(map[string]int),
		id:      id,
		opcode:  opcode,
		rd:      rd,
		maxSize: int(maxSize),
	}
}

// SetFlags lets the resolver set the AA/RA/AD/CD bits and the base rcode
// before Finish. The extended-rcode bits (set via SetOPT) are layered on top
// of rcode's low 4 bits at encode time.
func (b *Builder) SetFlags(aa, ra, ad, cd bool, rcode Rcode) {
	b.aa = aa
	b.ra = ra
	b.ad = ad
	b.cd = cd
	b.rcode = rcode
}

// AddQuestion appends the single question this reply echoes. Questions are
// never subject to the maxSize budget or truncation (spec.md §4.5: a query
// that doesn't fit its own question back is a different kind of failure).
func (b *Builder) AddQuestion(q Question) error {
	if err := AppendName(&b.buf, q.Name, b.offsets); err != nil {
		return err
	}
	b.buf = append(b.buf, 0, 0, 0, 0)
	n := len(b.buf)
	put16(b.buf[n-4:n-2], uint16(q.Type))
	put16(b.buf[n-2:], uint16(q.Class))
	b.qdcount++
	return nil
}

// AddRR appends rr to section if it fits within maxSize. When it doesn't
// fit, AddRR returns false without modifying the buffer; an overflow in
// ANSWER also sets the TC bit (RFC 1035 §4.1.1: TC means "some RRs were
// left out"), while an overflow in AUTHORITY or ADDITIONAL is dropped
// silently (spec.md §4.5). Either way the caller should stop adding
// further RRs to that section.
func (b *Builder) AddRR(section Section, rr RR) (bool, error) {
	mark := len(b.buf)
	markOffsets := b.snapshotOffsets()

	if err := AppendName(&b.buf, rr.Name, b.offsets); err != nil {
		b.rollback(mark, markOffsets)
		return false, err
	}
	b.buf = append(b.buf, make([]byte, 10)...)
	n := len(b.buf)
	put16(b.buf[n-10:n-8], uint16(rr.Type))
	put16(b.buf[n-8:n-6], uint16(rr.Class))
	put32(b.buf[n-6:n-2], rr.TTL)
	put16(b.buf[n-2:], uint16(len(rr.RData)))
	b.buf = append(b.buf, rr.RData...)

	if len(b.buf) > b.maxSize {
		b.rollback(mark, markOffsets)
		if section == SectionAnswer {
			b.tc = true
		}
		return false, nil
	}

	switch section {
	case SectionAnswer:
		b.ancount++
	case SectionAuthority:
		b.nscount++
	case SectionAdditional:
		b.arcount++
	}
	return true, nil
}

func (b *Builder) snapshotOffsets() map[string]int {
	cp := make(map[string]int, len(b.offsets))
	for k, v := range b.offsets {
		cp[k] = v
	}
	return cp
}

func (b *Builder) rollback(mark int, offsets map[string]int) {
	b.buf = b.buf[:mark]
	b.offsets = offsets
}

// SetOPT requests an EDNS OPT pseudo-RR be appended to Additional at
// Finish time, carrying extendedRcode in its top 8 rcode bits (spec.md
// §4.1's "Extended rcode").
func (b *Builder) SetOPT(version uint8, extendedRcode uint8, udpSize uint16) {
	b.hasOPT = true
	b.optVersion = version
	b.optUDPSize = udpSize
	b.optExtRcode = extendedRcode
}

// Finish appends the pending OPT RR (if any) and returns the complete wire
// message with its header filled in. If the OPT RR itself doesn't fit
// within maxSize, the extended rcode is lost along with it and the reply
// is downgraded to a plain SERVER_FAILURE, per spec.md §4.1: a truncated
// EDNS response can't reliably carry an extended rcode the client would be
// able to read back.
func (b *Builder) Finish() []byte {
	if b.hasOPT {
		ok, err := b.AddRR(SectionAdditional, NewOPT(b.optVersion, b.optExtRcode, b.optUDPSize))
		if err != nil || !ok {
			b.rcode = RcodeServerFailure
		}
	}

	flags := uint16(0x8000) // QR=1
	flags |= uint16(b.opcode&0xF) << 11
	if b.aa {
		flags |= 0x0400
	}
	if b.tc {
		flags |= 0x0200
	}
	if b.rd {
		flags |= 0x0100
	}
	if b.ra {
		flags |= 0x0080
	}
	if b.ad {
		flags |= 0x0020
	}
	if b.cd {
		flags |= 0x0010
	}
	flags |= uint16(b.rcode) & 0xF

	put16(b.buf[0:2], b.id)
	put16(b.buf[2:4], flags)
	put16(b.buf[4:6], b.qdcount)
	put16(b.buf[6:8], b.ancount)
	put16(b.buf[8:10], b.nscount)
	put16(b.buf[10:12], b.arcount)
	return b.buf
}
