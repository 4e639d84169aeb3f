// Package slave implements the AXFR/IXFR pull side of zone synchronization:
// a TCP client that fetches a zone from a configured master, a merger that
// reconciles the fetched RRs against what's already stored, and the
// IXFR-fails-fall-back-to-AXFR rule spec.md §4.8a mandates.
package slave

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/nsblast/nsblast/internal/storage/codec"
	"github.com/nsblast/nsblast/internal/storage/engine"
	"github.com/nsblast/nsblast/internal/storage/key"
	"github.com/nsblast/nsblast/internal/wire"
	"github.com/nsblast/nsblast/internal/xlog"
)

// Config describes one zone this server slaves from a remote master.
type Config struct {
	Tenant  string
	Apex    string
	Masters []string // dial addresses, tried in order
	Timeout time.Duration
}

// Client pulls zone data over AXFR/IXFR and applies it to the storage
// engine.
type Client struct {
	eng *engine.Engine
}

// New returns a Client writing into eng.
func New(eng *engine.Engine) *Client { return &Client{eng: eng} }

// Refresh fetches cfg's zone from the first reachable master, preferring
// an incremental IXFR over the zone's current serial and falling back to
// a full AXFR when the master doesn't support IXFR, has no diff history
// back to our serial, or the IXFR attempt otherwise fails (spec.md
// §4.8a).
func (c *Client) Refresh(cfg Config) error {
	currentSerial, haveSerial, err := c.localSerial(cfg.Tenant, cfg.Apex)
	if err != nil {
		return err
	}

	var lastErr error
	for _, master := range cfg.Masters {
		if haveSerial {
			rrs, isDiff, err := c.transfer(master, cfg, wire.TypeIXFR, currentSerial)
			if err == nil {
				if isDiff {
					return c.applyIncremental(cfg, rrs)
				}
				// master answered with a full zone instead of a diff
				// (spec.md §4.8a: "IXFR may fall back to AXFR response").
				return c.applyFull(cfg, rrs)
			}
			lastErr = err
		}
		rrs, _, err := c.transfer(master, cfg, wire.TypeAXFR, 0)
		if err == nil {
			return c.applyFull(cfg, rrs)
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = xlog.New("no masters configured").WithKind(xlog.KindConstraint)
	}
	return xlog.New("zone transfer failed for ", cfg.Apex).Base(lastErr).WithKind(xlog.KindTimeout)
}

func (c *Client) localSerial(tenant, apex string) (uint32, bool, error) {
	txn, err := c.eng.Begin(false)
	if err != nil {
		return 0, false, err
	}
	defer txn.Rollback()
	v, ok, err := txn.Get(engine.CategoryMasterZone, key.EncodeZone(tenant, apex))
	if err != nil || !ok {
		return 0, false, err
	}
	e, err := codec.Parse(v)
	if err != nil {
		return 0, false, err
	}
	rrs, err := e.RRs(wire.TypeSOA)
	if err != nil || len(rrs) != 1 {
		return 0, false, err
	}
	return wire.SOA{RR: rrs[0]}.Serial(), true, nil
}

// transfer opens a TCP connection to master, issues an AXFR or IXFR
// query, and reads the streamed reply to completion. isDiff reports
// whether the reply actually took diff (IXFR) shape, i.e. began with one
// SOA, the "old" serial's SOA, removed RRs, then added RRs, rather than a
// plain AXFR-shaped full zone.
func (c *Client) transfer(master string, cfg Config, qtype wire.Type, serial uint32) (rrs []wire.RR, isDiff bool, err error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	conn, err := net.DialTimeout("tcp", master, timeout)
	if err != nil {
		return nil, false, xlog.New("dial master").Base(err).WithKind(xlog.KindInternal)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	b := wire.NewBuilder(1, wire.OpcodeQuery, false, 65535)
	if err := b.AddQuestion(wire.Question{Name: cfg.Apex, Type: qtype, Class: wire.ClassIN}); err != nil {
		return nil, false, err
	}
	if qtype == wire.TypeIXFR {
		b.AddRR(wire.SectionAuthority, wire.RR{
			Name: cfg.Apex, Type: wire.TypeSOA, Class: wire.ClassIN, TTL: 0,
			RData: soaSerialOnlyRData(serial),
		})
	}
	if err := writeFramed(conn, b.Finish()); err != nil {
		return nil, false, err
	}

	var all []wire.RR
	soaCount := 0
	for {
		msgBuf, err := readFramed(conn)
		if err != nil {
			return nil, false, xlog.New("read transfer response").Base(err).WithKind(xlog.KindInternal)
		}
		msg, err := wire.Decode(msgBuf)
		if err != nil {
			return nil, false, err
		}
		if msg.Header.Rcode != wire.RcodeSuccess {
			return nil, false, xlog.New("master refused transfer, rcode ", msg.Header.Rcode).WithKind(xlog.KindDenied)
		}
		for _, rr := range msg.Answer {
			all = append(all, rr)
			if rr.Type == wire.TypeSOA {
				soaCount++
			}
		}
		// AXFR/IXFR both terminate when the closing SOA (matching the
		// opening one) has been seen a second time.
		if soaCount >= 2 {
			firstSerial := (wire.SOA{RR: all[0]}).Serial()
			lastSerial := (wire.SOA{RR: all[len(all)-1]}).Serial()
			if firstSerial == lastSerial {
				break
			}
		}
	}

	// a true IXFR diff stream has more than two SOAs total (the envelope
	// pair plus at least one "old serial" SOA marking the removed/added
	// boundary); exactly two means the master sent a full zone instead.
	isDiff = qtype == wire.TypeIXFR && soaCount > 2
	return all, isDiff, nil
}

// applyFull replaces the zone's entire stored content with rrs (AXFR
// semantics): every owner's Entry is rebuilt from scratch.
func (c *Client) applyFull(cfg Config, rrs []wire.RR) error {
	// the transfer's closing SOA repeats the opening one; store it once
	if n := len(rrs); n > 1 && rrs[n-1].Type == wire.TypeSOA {
		rrs = rrs[:n-1]
	}
	txn, err := c.eng.Begin(true)
	if err != nil {
		return err
	}
	if _, err := txn.DeleteRecursive(engine.CategoryEntry, key.EntryPrefix(cfg.Tenant, cfg.Apex)); err != nil {
		txn.Rollback()
		return err
	}

	byOwner := groupByOwner(rrs)
	var apexEntry []byte
	for owner, ownerRRs := range byOwner {
		b := codec.NewEntryBuilder()
		for _, rr := range ownerRRs {
			b.CreateRR(rr)
		}
		buf, err := b.Finish()
		if err != nil {
			txn.Rollback()
			return err
		}
		if err := txn.Put(engine.CategoryEntry, key.EncodeEntry(cfg.Tenant, owner), buf, false); err != nil {
			txn.Rollback()
			return err
		}
		if normalizeOwner(owner) == normalizeOwner(cfg.Apex) {
			apexEntry = buf
		}
	}
	if apexEntry != nil {
		if err := txn.Put(engine.CategoryMasterZone, key.EncodeZone(cfg.Tenant, cfg.Apex), apexEntry, false); err != nil {
			txn.Rollback()
			return err
		}
	}
	return txn.Commit()
}

// applyIncremental applies an IXFR diff stream, shaped as:
// [new SOA][old SOA][removed RRs...][new SOA][added RRs...][new SOA], by
// rebuilding only the owners the diff actually touches.
func (c *Client) applyIncremental(cfg Config, rrs []wire.RR) error {
	if len(rrs) < 2 {
		return xlog.New("malformed ixfr diff stream").WithKind(xlog.KindMalformed)
	}
	removed, added := splitDiff(rrs)

	txn, err := c.eng.Begin(true)
	if err != nil {
		return err
	}

	touched := map[string]bool{}
	for _, rr := range removed {
		touched[normalizeOwner(rr.Name)] = true
	}
	for _, rr := range added {
		touched[normalizeOwner(rr.Name)] = true
	}

	for owner := range touched {
		k := key.EncodeEntry(cfg.Tenant, owner)
		existing, ok, err := txn.Get(engine.CategoryEntry, k)
		if err != nil {
			txn.Rollback()
			return err
		}
		var b *codec.EntryBuilder
		if ok {
			e, err := codec.Parse(existing)
			if err != nil {
				txn.Rollback()
				return err
			}
			all, err := e.All()
			if err != nil {
				txn.Rollback()
				return err
			}
			b = codec.NewEntryBuilder()
			for _, rr := range all {
				if !containsRR(removed, rr) {
					b.CreateRR(rr)
				}
			}
		} else {
			b = codec.NewEntryBuilder()
		}
		for _, rr := range added {
			if normalizeOwner(rr.Name) == owner {
				b.CreateRR(rr)
			}
		}
		buf, err := b.Finish()
		if err != nil {
			txn.Rollback()
			return err
		}
		if err := txn.Put(engine.CategoryEntry, k, buf, false); err != nil {
			txn.Rollback()
			return err
		}
		if owner == normalizeOwner(cfg.Apex) {
			if err := txn.Put(engine.CategoryMasterZone, key.EncodeZone(cfg.Tenant, cfg.Apex), buf, false); err != nil {
				txn.Rollback()
				return err
			}
		}
	}
	return txn.Commit()
}

func groupByOwner(rrs []wire.RR) map[string][]wire.RR {
	out := map[string][]wire.RR{}
	for _, rr := range rrs {
		owner := normalizeOwner(rr.Name)
		out[owner] = append(out[owner], rr)
	}
	return out
}

func normalizeOwner(name string) string {
	if len(name) > 0 && name[len(name)-1] == '.' {
		name = name[:len(name)-1]
	}
	return name
}

func containsRR(rrs []wire.RR, target wire.RR) bool {
	for _, rr := range rrs {
		if rr.Type == target.Type && normalizeOwner(rr.Name) == normalizeOwner(target.Name) &&
			string(rr.RData) == string(target.RData) {
			return true
		}
	}
	return false
}

// splitDiff separates an IXFR body (minus the envelope SOAs) into removed
// and added RR sets: the stream is [new SOA, old SOA, removed..., new
// SOA, added..., new SOA].
func splitDiff(rrs []wire.RR) (removed, added []wire.RR) {
	if len(rrs) < 3 {
		return nil, nil
	}
	i := 2 // skip the two leading SOAs
	for i < len(rrs) && rrs[i].Type != wire.TypeSOA {
		removed = append(removed, rrs[i])
		i++
	}
	i++ // skip the "new serial" SOA marking the add section
	for i < len(rrs)-1 {
		added = append(added, rrs[i])
		i++
	}
	return removed, added
}

func soaSerialOnlyRData(serial uint32) []byte {
	rdata := make([]byte, 0, 22)
	rdata = append(rdata, 0) // root mname
	rdata = append(rdata, 0) // root rname
	tail := make([]byte, 20)
	binary.BigEndian.PutUint32(tail[0:4], serial)
	return append(rdata, tail...)
}

func writeFramed(conn net.Conn, msg []byte) error {
	out := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(out, uint16(len(msg)))
	copy(out[2:], msg)
	_, err := conn.Write(out)
	return err
}

func readFramed(conn net.Conn) ([]byte, error) {
	lenBuf := make([]byte, 2)
	if _, err := fullRead(conn, lenBuf); err != nil {
		return nil, err
	}
	buf := make([]byte, binary.BigEndian.Uint16(lenBuf))
	if _, err := fullRead(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func fullRead(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
