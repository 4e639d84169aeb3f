// Package codec implements the packed on-disk representation of one zone
// node ("Entry") stored under a storage/key.ClassEntry key: every RRset
// owned by a single fqdn, grouped by type with a sorted index for
// type-indexed lookup, and RR owner names compressed against each other
// with the exact scheme internal/wire uses for in-message compression
// (spec.md §4.2's "same in-message compression scheme as the wire codec").
// Names inside rdata (an SOA's mname/rname, an NS, CNAME, MX or SRV
// target) are stored uncompressed, so each rdata value stays
// self-contained and can be copied into a reply message verbatim.
package codec

import (
	"sort"

	"github.com/nsblast/nsblast/internal/wire"
	"github.com/nsblast/nsblast/internal/xlog"
)

// Flag bits live in the Entry header.
type Flag uint16

const (
	FlagApex  Flag = 1 << 0 // this entry is a zone's apex (carries the SOA)
	FlagCNAME Flag = 1 << 1 // owner has a CNAME (must be its only RRset, RFC 1034 §3.6.2)
)

type typeIndexEntry struct {
	Type   wire.Type
	Offset uint32
	Length uint32
	Count  uint16
}

// EntryBuilder accumulates RRs for a single owner name and packs them into
// the on-disk Entry format at Finish.
type EntryBuilder struct {
	flags   Flag
	byType  map[wire.Type][]wire.RR
	typeSeq []wire.Type // first-seen order, for deterministic iteration before sort
}

// NewEntryBuilder starts building the Entry for owner.
func NewEntryBuilder() *EntryBuilder {
	return &EntryBuilder{byType: make(map[wire.Type][]wire.RR)}
}

func (b *EntryBuilder) add(rr wire.RR) {
	if _, ok := b.byType[rr.Type]; !ok {
		b.typeSeq = append(b.typeSeq, rr.Type)
	}
	b.byType[rr.Type] = append(b.byType[rr.Type], rr)
}

// CreateRR adds a raw, already-encoded RR as-is (used by slave sync, which
// receives RRs off the wire verbatim, and by the admin service's
// CreateRRset).
func (b *EntryBuilder) CreateRR(rr wire.RR) { b.add(rr) }

// CreateSOA adds the zone's SOA record. mname/rname are plain dotted
// names/email addresses; rname is escaped into SOA rname form internally.
func (b *EntryBuilder) CreateSOA(owner, mname, rname string, ttl uint32, serial, refresh, retry, expire, minimum uint32) error {
	b.flags |= FlagApex
	rdata, err := encodeSOARData(mname, rname, serial, refresh, retry, expire, minimum)
	if err != nil {
		return err
	}
	b.add(wire.RR{Name: owner, Type: wire.TypeSOA, Class: wire.ClassIN, TTL: ttl, RData: rdata})
	return nil
}

// CreateCNAME adds a CNAME record. An owner with a CNAME must have no
// other RRset (RFC 1034 §3.6.2); callers enforce that before calling.
func (b *EntryBuilder) CreateCNAME(owner, target string, ttl uint32) error {
	b.flags |= FlagCNAME
	rdata, err := encodeNameOnly(target)
	if err != nil {
		return err
	}
	b.add(wire.RR{Name: owner, Type: wire.TypeCNAME, Class: wire.ClassIN, TTL: ttl, RData: rdata})
	return nil
}

// CreateNS adds an NS record.
func (b *EntryBuilder) CreateNS(owner, target string, ttl uint32) error {
	rdata, err := encodeNameOnly(target)
	if err != nil {
		return err
	}
	b.add(wire.RR{Name: owner, Type: wire.TypeNS, Class: wire.ClassIN, TTL: ttl, RData: rdata})
	return nil
}

// CreateMX adds an MX record.
func (b *EntryBuilder) CreateMX(owner string, preference uint16, exchange string, ttl uint32) error {
	name, err := wire.AppendNameStandalone(exchange)
	if err != nil {
		return err
	}
	rdata := make([]byte, 2+len(name))
	rdata[0] = byte(preference >> 8)
	rdata[1] = byte(preference)
	copy(rdata[2:], name)
	b.add(wire.RR{Name: owner, Type: wire.TypeMX, Class: wire.ClassIN, TTL: ttl, RData: rdata})
	return nil
}

// CreateSRV adds an SRV record.
func (b *EntryBuilder) CreateSRV(owner string, priority, weight, port uint16, target string, ttl uint32) error {
	name, err := wire.AppendNameStandalone(target)
	if err != nil {
		return err
	}
	rdata := make([]byte, 6+len(name))
	rdata[0], rdata[1] = byte(priority>>8), byte(priority)
	rdata[2], rdata[3] = byte(weight>>8), byte(weight)
	rdata[4], rdata[5] = byte(port>>8), byte(port)
	copy(rdata[6:], name)
	b.add(wire.RR{Name: owner, Type: wire.TypeSRV, Class: wire.ClassIN, TTL: ttl, RData: rdata})
	return nil
}

// CreateA adds an A record.
func (b *EntryBuilder) CreateA(owner string, addr [4]byte, ttl uint32) {
	b.add(wire.RR{Name: owner, Type: wire.TypeA, Class: wire.ClassIN, TTL: ttl, RData: addr[:]})
}

// CreateAAAA adds an AAAA record.
func (b *EntryBuilder) CreateAAAA(owner string, addr [16]byte, ttl uint32) {
	b.add(wire.RR{Name: owner, Type: wire.TypeAAAA, Class: wire.ClassIN, TTL: ttl, RData: addr[:]})
}

// maxCharString is the largest a single TXT character-string chunk may be
// (RFC 1035 §3.3: a character-string's length prefix is one byte).
const maxCharString = 255

// CreateTXT adds a TXT record, splitting text into maxCharString-byte
// character-string chunks as RFC 1035 requires for strings that don't fit
// in one chunk.
func (b *EntryBuilder) CreateTXT(owner, text string, ttl uint32) {
	var rdata []byte
	for len(text) > 0 {
		n := len(text)
		if n > maxCharString {
			n = maxCharString
		}
		rdata = append(rdata, byte(n))
		rdata = append(rdata, text[:n]...)
		text = text[n:]
	}
	if rdata == nil {
		rdata = []byte{0}
	}
	b.add(wire.RR{Name: owner, Type: wire.TypeTXT, Class: wire.ClassIN, TTL: ttl, RData: rdata})
}

// Finish packs the accumulated RRs into the on-disk Entry byte form.
//
// Layout: [flags u16][typeCount u16]
//
//	body bytes, grouped by type in ascending type-code order, each RR
//	encoded as name+type+class+ttl+rdlength+rdata and compressed against
//	every name written earlier in the body
//	typeCount index entries: [type u16][offset u32][length u32][count u16]
func (b *EntryBuilder) Finish() ([]byte, error) {
	types := make([]wire.Type, len(b.typeSeq))
	copy(types, b.typeSeq)
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var body []byte
	offsets := map[string]int{}
	var index []typeIndexEntry

	for _, t := range types {
		rrs := b.byType[t]
		start := len(body)
		for _, rr := range rrs {
			if err := wire.AppendName(&body, rr.Name, offsets); err != nil {
				return nil, err
			}
			body = append(body, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
			n := len(body)
			put16(body[n-10:n-8], uint16(rr.Type))
			put16(body[n-8:n-6], uint16(rr.Class))
			put32(body[n-6:n-2], rr.TTL)
			put16(body[n-2:], uint16(len(rr.RData)))
			body = append(body, rr.RData...)
		}
		index = append(index, typeIndexEntry{Type: t, Offset: uint32(start), Length: uint32(len(body) - start), Count: uint16(len(rrs))})
	}

	var flags Flag
	if len(b.byType[wire.TypeSOA]) > 0 {
		flags |= FlagApex
	}
	if len(b.byType[wire.TypeCNAME]) > 0 {
		flags |= FlagCNAME
	}
	out := make([]byte, 4, 4+len(body)+len(index)*12)
	put16(out[0:2], uint16(flags))
	put16(out[2:4], uint16(len(index)))
	out = append(out, body...)
	for _, e := range index {
		var rec [12]byte
		put16(rec[0:2], uint16(e.Type))
		put32(rec[2:6], e.Offset)
		put32(rec[6:10], e.Length)
		put16(rec[10:12], e.Count)
		out = append(out, rec[:]...)
	}
	return out, nil
}

// Rebuild returns a fresh EntryBuilder seeded with every RR already in e,
// for callers that need to modify one RRset (replace the SOA, append an
// RR) without hand-copying the rest of the entry.
func Rebuild(e *Entry) (*EntryBuilder, error) {
	b := NewEntryBuilder()
	b.flags = e.flags
	rrs, err := e.All()
	if err != nil {
		return nil, err
	}
	for _, rr := range rrs {
		b.add(rr)
	}
	return b, nil
}

// ReplaceSOA drops any existing SOA RRset from the builder and installs a
// new one, used when a zone update carries an explicit new SOA.
func (b *EntryBuilder) ReplaceSOA(owner, mname, rname string, ttl uint32, serial, refresh, retry, expire, minimum uint32) error {
	b.dropType(wire.TypeSOA)
	return b.CreateSOA(owner, mname, rname, ttl, serial, refresh, retry, expire, minimum)
}

// DropType removes an entire RRset from the builder, used by the admin
// service's RRset-delete operation.
func (b *EntryBuilder) DropType(t wire.Type) { b.dropType(t) }

func (b *EntryBuilder) dropType(t wire.Type) {
	delete(b.byType, t)
	for i, seen := range b.typeSeq {
		if seen == t {
			b.typeSeq = append(b.typeSeq[:i], b.typeSeq[i+1:]...)
			break
		}
	}
}

// IncrementSOASerial returns a builder equal to e but with its SOA serial
// bumped by one, the update spec.md §4.3 requires on every zone-content
// mutation so secondaries can detect it needs refreshing via AXFR/IXFR.
func IncrementSOASerial(e *Entry) (*EntryBuilder, error) {
	rrs, err := e.RRs(wire.TypeSOA)
	if err != nil {
		return nil, err
	}
	if len(rrs) != 1 {
		return nil, xlog.New("entry has no single SOA to increment").WithKind(xlog.KindConstraint)
	}
	soa := wire.SOA{RR: rrs[0]}
	mname, err := soa.MName()
	if err != nil {
		return nil, err
	}
	rname, err := soa.RName()
	if err != nil {
		return nil, err
	}
	b, err := Rebuild(e)
	if err != nil {
		return nil, err
	}
	return b, b.ReplaceSOA(rrs[0].Name, mname, rname, rrs[0].TTL, soa.Serial()+1, soa.Refresh(), soa.Retry(), soa.Expire(), soa.Minimum())
}

// Entry is a parsed on-disk Entry: a single owner's RRsets, indexed by
// type for O(log n) type-specific lookup without a full scan.
type Entry struct {
	flags Flag
	body  []byte
	index []typeIndexEntry // sorted ascending by Type
}

// Parse decodes buf (as produced by EntryBuilder.Finish) into an Entry.
func Parse(buf []byte) (*Entry, error) {
	if len(buf) < 4 {
		return nil, xlog.New("entry shorter than header").WithKind(xlog.KindMalformed)
	}
	flags := Flag(be16(buf[0:2]))
	count := int(be16(buf[2:4]))
	pos := 4

	// the index trails the body; its length is fixed (12 bytes/entry) so
	// it can be sliced off the tail before the body length is even known.
	indexLen := count * 12
	if pos+indexLen > len(buf) {
		return nil, xlog.New("entry index truncated").WithKind(xlog.KindMalformed)
	}
	bodyEnd := len(buf) - indexLen
	body := buf[pos:bodyEnd]
	idxBuf := buf[bodyEnd:]

	index := make([]typeIndexEntry, count)
	for i := 0; i < count; i++ {
		rec := idxBuf[i*12 : i*12+12]
		index[i] = typeIndexEntry{
			Type:   wire.Type(be16(rec[0:2])),
			Offset: be32(rec[2:6]),
			Length: be32(rec[6:10]),
			Count:  be16(rec[10:12]),
		}
	}
	return &Entry{flags: flags, body: body, index: index}, nil
}

// HasFlag reports whether f is set on this entry.
func (e *Entry) HasFlag(f Flag) bool { return e.flags&f != 0 }

// Types returns every RR type present, ascending by type code.
func (e *Entry) Types() []wire.Type {
	out := make([]wire.Type, len(e.index))
	for i, t := range e.index {
		out[i] = t.Type
	}
	return out
}

// RRs decodes and returns every RR of the given type, or nil if absent.
// Lookup is a binary search over the sorted type index followed by a
// direct decode of just that type's body slice — spec.md §4.2's motivation
// for keeping the index sorted.
func (e *Entry) RRs(t wire.Type) ([]wire.RR, error) {
	i := sort.Search(len(e.index), func(i int) bool { return e.index[i].Type >= t })
	if i == len(e.index) || e.index[i].Type != t {
		return nil, nil
	}
	entry := e.index[i]
	pos := int(entry.Offset)
	end := pos + int(entry.Length)
	if end > len(e.body) {
		return nil, xlog.New("entry type index out of range").WithKind(xlog.KindMalformed)
	}
	rrs := make([]wire.RR, 0, entry.Count)
	for pos < end {
		rr, next, err := wire.DecodeRR(e.body, pos)
		if err != nil {
			return nil, err
		}
		rrs = append(rrs, rr)
		pos = next
	}
	return rrs, nil
}

// All decodes and returns every RR in the entry, in type-sorted order.
func (e *Entry) All() ([]wire.RR, error) {
	var out []wire.RR
	for _, idx := range e.index {
		rrs, err := e.RRs(idx.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, rrs...)
	}
	return out, nil
}

func encodeNameOnly(name string) ([]byte, error) {
	var buf []byte
	if err := wire.AppendName(&buf, name, map[string]int{}); err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeSOARData(mname, rname string, serial, refresh, retry, expire, minimum uint32) ([]byte, error) {
	var buf []byte
	offsets := map[string]int{}
	if err := wire.AppendName(&buf, mname, offsets); err != nil {
		return nil, err
	}
	if err := wire.AppendName(&buf, wire.EscapeSOARName(rname), map[string]int{}); err != nil {
		return nil, err
	}
	tail := make([]byte, 20)
	put32(tail[0:4], serial)
	put32(tail[4:8], refresh)
	put32(tail[8:12], retry)
	put32(tail[12:16], expire)
	put32(tail[16:20], minimum)
	return append(buf, tail...), nil
}

func put16(b []byte, v uint16) { b[0] = byte(v >> 8); b[1] = byte(v) }
func be16(b []byte) uint16     { return uint16(b[0])<<8 | uint16(b[1]) }
func put32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
