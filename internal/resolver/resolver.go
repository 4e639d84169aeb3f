// Package resolver implements the query-resolution state machine spec.md
// §4.5 describes: CNAME chasing, delegation referrals with glue, the three
// QTYPE=ANY response modes, truncation, and rcode selection. It operates
// directly against the storage engine (C4) and storage codec (C2) so a
// lookup never leaves the transaction boundary its answer was read under.
package resolver

import (
	"strings"

	"github.com/nsblast/nsblast/internal/metrics"
	"github.com/nsblast/nsblast/internal/storage/codec"
	"github.com/nsblast/nsblast/internal/storage/engine"
	"github.com/nsblast/nsblast/internal/storage/key"
	"github.com/nsblast/nsblast/internal/wire"
	"github.com/nsblast/nsblast/internal/xlog"
)

// AnyMode selects how a QTYPE=ANY query is answered, per spec.md §4.5.
type AnyMode int

const (
	// AnyModeAll returns every RRset stored at the owner.
	AnyModeAll AnyMode = iota
	// AnyModeRelevant returns only the RRsets most clients actually want
	// (SOA, NS, A, AAAA, CNAME), omitting the rest.
	AnyModeRelevant
	// AnyModeHinfo ignores the owner's real data and returns a single
	// synthesized HINFO record, the historical mitigation against
	// ANY-based reflection amplification.
	AnyModeHinfo
)

// maxCNAMEChase bounds CNAME-following to protect against a chain that
// loops back on itself (spec.md §4.5's "chase limit").
const maxCNAMEChase = 8

// relevantAnyTypes is the RRset allowlist for AnyModeRelevant.
var relevantAnyTypes = []wire.Type{wire.TypeSOA, wire.TypeNS, wire.TypeA, wire.TypeAAAA, wire.TypeCNAME}

// Resolver answers queries against a tenant's stored zones.
type Resolver struct {
	eng     *engine.Engine
	AnyMode AnyMode
}

// New returns a Resolver reading from eng.
func New(eng *engine.Engine) *Resolver {
	return &Resolver{eng: eng}
}

// Answer resolves q for tenant and writes the result into b, returning the
// rcode the caller should set on the reply header (spec.md §4.5's rcode
// selection: SUCCESS, NAME_ERROR, NOT_IMPLEMENTED, REFUSED, or SERVER_FAILURE).
func (r *Resolver) Answer(b *wire.Builder, tenant string, q wire.Question) wire.Rcode {
	rcode := r.answer(b, tenant, q)
	metrics.QueriesTotal.WithLabelValues(rcode.String()).Inc()
	return rcode
}

func (r *Resolver) answer(b *wire.Builder, tenant string, q wire.Question) wire.Rcode {
	if q.Class != wire.ClassIN && q.Class != wire.ClassANY {
		return wire.RcodeNotImplemented
	}

	txn, err := r.eng.Begin(false)
	if err != nil {
		xlog.New("resolver begin transaction").Base(err).AtError().WriteToLog()
		return wire.RcodeServerFailure
	}
	defer txn.Rollback()

	owner := normalize(q.Name)
	qtype := q.Type
	aa := false

	for chase := 0; ; chase++ {
		apex, zoneEntry, ok, err := closestZone(txn, tenant, owner)
		if err != nil {
			xlog.New("resolver closest zone lookup").Base(err).AtError().WriteToLog()
			return wire.RcodeServerFailure
		}
		if !ok {
			if chase == 0 {
				return wire.RcodeRefused // not authoritative for anything covering this name
			}
			// a CNAME chased us outside every zone we serve: answer with
			// what we already chased, no further authority section.
			return wire.RcodeSuccess
		}

		delegated, delegationOwner, delegationEntry, err := findDelegation(txn, tenant, apex, owner)
		if err != nil {
			xlog.New("resolver delegation lookup").Base(err).AtError().WriteToLog()
			return wire.RcodeServerFailure
		}
		if delegated {
			addReferral(b, txn, tenant, delegationOwner, delegationEntry)
			return wire.RcodeSuccess
		}

		entry, found, err := lookupEntry(txn, tenant, owner)
		if err != nil {
			xlog.New("resolver entry lookup").Base(err).AtError().WriteToLog()
			return wire.RcodeServerFailure
		}
		aa = true

		if !found {
			addSOAAuthority(b, zoneEntry, owner != apex)
			if owner == apex {
				// an authoritative apex must always exist once a zone is
				// served; absence here means the zone record is corrupt.
				return wire.RcodeServerFailure
			}
			return wire.RcodeNameError
		}

		if entry.HasFlag(codec.FlagCNAME) && qtype != wire.TypeCNAME {
			cnameRRs, err := entry.RRs(wire.TypeCNAME)
			if err != nil || len(cnameRRs) != 1 {
				return wire.RcodeServerFailure
			}
			if _, err := b.AddRR(wire.SectionAnswer, cnameRRs[0]); err != nil {
				return wire.RcodeServerFailure
			}
			target, err := wire.CNAME{RR: cnameRRs[0]}.Target()
			if err != nil {
				return wire.RcodeServerFailure
			}
			if chase >= maxCNAMEChase {
				b.SetFlags(aa, false, false, false, wire.RcodeSuccess)
				return wire.RcodeSuccess
			}
			owner = normalize(target)
			continue
		}

		rrs, rcode := answerRRs(entry, qtype, r.AnyMode)
		for _, rr := range rrs {
			if _, err := b.AddRR(wire.SectionAnswer, rr); err != nil {
				return wire.RcodeServerFailure
			}
		}
		if len(rrs) == 0 {
			addSOAAuthority(b, zoneEntry, false)
		}
		b.SetFlags(aa, false, false, false, rcode)
		return rcode
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// closestZone finds the nearest ancestor of name (inclusive) that is a
// served zone apex, per spec.md §4.5's "find the enclosing zone" step.
func closestZone(txn *engine.Txn, tenant, name string) (apex string, zoneEntry *codec.Entry, ok bool, err error) {
	for _, candidate := range ancestorsOf(name) {
		zk := key.EncodeZone(tenant, candidate)
		v, exists, err := txn.Get(engine.CategoryMasterZone, zk)
		if err != nil {
			return "", nil, false, err
		}
		if !exists {
			continue
		}
		e, err := codec.Parse(v)
		if err != nil {
			return "", nil, false, err
		}
		return candidate, e, true, nil
	}
	return "", nil, false, nil
}

// ancestorsOf yields name, its parent, its grandparent, ..., the root, in
// that order.
func ancestorsOf(name string) []string {
	if name == "" {
		return []string{""}
	}
	parts := strings.Split(name, ".")
	out := make([]string, 0, len(parts)+1)
	for i := 0; i < len(parts); i++ {
		out = append(out, strings.Join(parts[i:], "."))
	}
	out = append(out, "")
	return out
}

// findDelegation reports whether some ancestor of owner strictly below
// apex (exclusive of owner itself's own NS-at-apex case) holds an NS
// RRset, marking a delegation cut per spec.md §4.5's referral rule.
func findDelegation(txn *engine.Txn, tenant, apex, owner string) (delegated bool, cutOwner string, cutEntry *codec.Entry, err error) {
	if owner == apex {
		return false, "", nil, nil
	}
	for _, candidate := range ancestorsOf(owner) {
		if candidate == apex {
			break // apex's own NS records are the zone's NS, not a delegation
		}
		ek := key.EncodeEntry(tenant, candidate)
		v, exists, err := txn.Get(engine.CategoryEntry, ek)
		if err != nil {
			return false, "", nil, err
		}
		if !exists {
			continue
		}
		e, err := codec.Parse(v)
		if err != nil {
			return false, "", nil, err
		}
		nsRRs, err := e.RRs(wire.TypeNS)
		if err != nil {
			return false, "", nil, err
		}
		if len(nsRRs) > 0 {
			return true, candidate, e, nil
		}
	}
	return false, "", nil, nil
}

func lookupEntry(txn *engine.Txn, tenant, owner string) (*codec.Entry, bool, error) {
	v, exists, err := txn.Get(engine.CategoryEntry, key.EncodeEntry(tenant, owner))
	if err != nil || !exists {
		return nil, exists, err
	}
	e, err := codec.Parse(v)
	return e, true, err
}

// addReferral writes a delegation cut's NS RRs to Authority and any glue
// (A/AAAA under the zone we still serve) to Additional, per spec.md
// §4.5's referral synthesis. AA is left unset: a referral is never an
// authoritative answer.
func addReferral(b *wire.Builder, txn *engine.Txn, tenant, cutOwner string, cutEntry *codec.Entry) {
	nsRRs, err := cutEntry.RRs(wire.TypeNS)
	if err != nil {
		return
	}
	for _, rr := range nsRRs {
		b.AddRR(wire.SectionAuthority, rr)
		target, err := wire.NS{RR: rr}.Target()
		if err != nil {
			continue
		}
		addGlue(b, txn, tenant, target)
	}
	b.SetFlags(false, false, false, false, wire.RcodeSuccess)
}

func addGlue(b *wire.Builder, txn *engine.Txn, tenant, target string) {
	entry, found, err := lookupEntry(txn, tenant, normalize(target))
	if err != nil || !found {
		return
	}
	for _, t := range []wire.Type{wire.TypeA, wire.TypeAAAA} {
		rrs, err := entry.RRs(t)
		if err != nil {
			continue
		}
		for _, rr := range rrs {
			b.AddRR(wire.SectionAdditional, rr)
		}
	}
}

// addSOAAuthority writes the enclosing zone's SOA into Authority with the
// negative-caching TTL rule (min of the SOA's own TTL and its Minimum
// field, RFC 2308), for both NXDOMAIN and NOERROR/NODATA responses.
func addSOAAuthority(b *wire.Builder, zoneEntry *codec.Entry, _ bool) {
	soaRRs, err := zoneEntry.RRs(wire.TypeSOA)
	if err != nil || len(soaRRs) != 1 {
		return
	}
	rr := soaRRs[0]
	soa := wire.SOA{RR: rr}
	if min := soa.Minimum(); rr.TTL > min {
		rr.TTL = min
	}
	b.AddRR(wire.SectionAuthority, rr)
}

// answerRRs selects the RRsets to return for qtype at entry, handling the
// three QTYPE=ANY modes, and returns the rcode for the case where nothing
// at all matched (always RcodeSuccess — an empty answer with the zone's
// SOA in Authority is NOERROR/NODATA, not NXDOMAIN, since the owner
// itself does exist).
func answerRRs(entry *codec.Entry, qtype wire.Type, mode AnyMode) ([]wire.RR, wire.Rcode) {
	if qtype == wire.TypeANY {
		switch mode {
		case AnyModeHinfo:
			return []wire.RR{synthesizeHinfo(entry)}, wire.RcodeSuccess
		case AnyModeRelevant:
			var out []wire.RR
			for _, t := range relevantAnyTypes {
				rrs, err := entry.RRs(t)
				if err != nil {
					continue
				}
				out = append(out, rrs...)
			}
			return out, wire.RcodeSuccess
		default:
			all, _ := entry.All()
			return all, wire.RcodeSuccess
		}
	}
	rrs, err := entry.RRs(qtype)
	if err != nil {
		return nil, wire.RcodeSuccess
	}
	return rrs, wire.RcodeSuccess
}

func synthesizeHinfo(entry *codec.Entry) wire.RR {
	rdata := []byte{3, 'R', 'F', 'C', 3, '8', '4', '8'} // "RFC" "848" per the historical convention
	all, _ := entry.All()
	var owner string
	if len(all) > 0 {
		owner = all[0].Name
	}
	return wire.RR{Name: owner, Type: wire.TypeHINFO, Class: wire.ClassIN, TTL: 0, RData: rdata}
}
