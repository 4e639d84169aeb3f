// Package key implements the binary key encoding the storage engine (C4)
// sorts on, grounded on the reversed-label ordering spec.md §4.3 mandates:
// a zone's apex key must sort before every key belonging to one of its
// descendants, so a recursive subtree delete or an AXFR-style range scan
// can be expressed as a seek to the apex plus a prefix-bounded scan.
package key

import (
	"strings"

	"github.com/nsblast/nsblast/internal/xlog"
)

// Class is the leading byte of every key, partitioning the keyspace into
// the categories spec.md §4.3 and §4.4 name.
type Class byte

const (
	ClassEntry  Class = 'E'
	ClassDiff   Class = 'D'
	ClassTenant Class = 'T'
	ClassUser   Class = 'U'
	ClassZone   Class = 'Z'
	ClassTZone  Class = 'z' // tenant -> zone list, not reversed
	ClassTrxID  Class = 'X'
	ClassZRR    Class = 'r' // tenant + fqdn -> zone's own RR set, not reversed
)

// reverseLabels turns "www.example.com" into "com.example.www" so that a
// zone apex ("example.com" -> "com.example") sorts before any of its
// descendants ("www.example.com" -> "com.example.www") under plain
// lexicographic byte ordering — descendants all share the apex's reversed
// string as a prefix followed by '.'. '.' (0x2E) sorts below letters and
// digits but not below every byte splitLabels accepts ('-' is 0x2D), so a
// sibling such as "example-x.com" ("com.example-x") can sort between a
// parent and its children; the engine's prefix scans skip such keys.
func reverseLabels(fqdn string) string {
	fqdn = strings.ToLower(strings.TrimSuffix(fqdn, "."))
	if fqdn == "" {
		return ""
	}
	parts := strings.Split(fqdn, ".")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// unreverseLabels inverts reverseLabels.
func unreverseLabels(reversed string) string {
	return reverseLabels(reversed) // the operation is its own inverse
}

func put32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func put64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

func be64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// EncodeEntry builds the key for a zone's apex or descendant entry:
// class 'E' + tenant (lowercase, NUL-terminated) + reversed fqdn.
func EncodeEntry(tenant, fqdn string) []byte {
	return encodeTenantReversed(ClassEntry, tenant, fqdn)
}

// EncodeZone builds the key identifying a zone's metadata record: class
// 'Z' + tenant + reversed apex fqdn, the same shape as EncodeEntry apart
// from the class byte (ZONE records live in their own category).
func EncodeZone(tenant, apex string) []byte {
	return encodeTenantReversed(ClassZone, tenant, apex)
}

// EncodeDiff builds the key for one versioned diff of a zone: class 'D' +
// tenant + reversed apex + NUL + big-endian u32 serial, so diffs for the
// same zone sort together in ascending serial order (spec.md §4.4's IXFR
// diff chain).
func EncodeDiff(tenant, apex string, serial uint32) []byte {
	base := encodeTenantReversed(ClassDiff, tenant, apex)
	out := make([]byte, len(base)+1+4)
	n := copy(out, base)
	out[n] = 0
	put32(out[n+1:], serial)
	return out
}

// DecodeDiffSerial extracts the serial encoded by EncodeDiff.
func DecodeDiffSerial(k []byte) (uint32, error) {
	if len(k) < 5 {
		return 0, xlog.New("diff key too short").WithKind(xlog.KindMalformed)
	}
	return be32(k[len(k)-4:]), nil
}

func encodeTenantReversed(class Class, tenant, fqdn string) []byte {
	tenant = strings.ToLower(tenant)
	rev := reverseLabels(fqdn)
	out := make([]byte, 0, 2+len(tenant)+len(rev))
	out = append(out, byte(class))
	out = append(out, []byte(tenant)...)
	out = append(out, 0)
	out = append(out, []byte(rev)...)
	return out
}

// decodeTenantReversed reverses encodeTenantReversed, returning the tenant
// and the (un-reversed) fqdn.
func decodeTenantReversed(k []byte) (tenant, fqdn string, err error) {
	if len(k) < 2 {
		return "", "", xlog.New("key too short").WithKind(xlog.KindMalformed)
	}
	rest := k[1:]
	nul := indexByte(rest, 0)
	if nul < 0 {
		return "", "", xlog.New("key missing tenant terminator").WithKind(xlog.KindMalformed)
	}
	tenant = string(rest[:nul])
	fqdn = unreverseLabels(string(rest[nul+1:]))
	return tenant, fqdn, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// DecodeEntry reverses EncodeEntry.
func DecodeEntry(k []byte) (tenant, fqdn string, err error) { return decodeTenantReversed(k) }

// DecodeZone reverses EncodeZone.
func DecodeZone(k []byte) (tenant, apex string, err error) { return decodeTenantReversed(k) }

// EncodeTZone builds the key listing one zone owned by a tenant: class 'z'
// + tenant + NUL + apex fqdn verbatim (not reversed — this index is looked
// up by exact apex, never range-scanned by descendant).
func EncodeTZone(tenant, apex string) []byte {
	tenant = strings.ToLower(tenant)
	apex = strings.ToLower(strings.TrimSuffix(apex, "."))
	out := make([]byte, 0, 2+len(tenant)+len(apex))
	out = append(out, byte(ClassTZone))
	out = append(out, []byte(tenant)...)
	out = append(out, 0)
	out = append(out, []byte(apex)...)
	return out
}

// TZonePrefix returns the prefix common to every zone a tenant owns, for a
// forward-iteration scan that lists them all.
func TZonePrefix(tenant string) []byte {
	tenant = strings.ToLower(tenant)
	out := make([]byte, 0, 2+len(tenant))
	out = append(out, byte(ClassTZone))
	out = append(out, []byte(tenant)...)
	out = append(out, 0)
	return out
}

// EncodeZRR builds the key for a zone's own non-apex RR lookup cache: class
// 'r' + tenant + NUL + apex + NUL + owner fqdn, all verbatim (an exact-
// lookup key, not built for prefix scans by label hierarchy; no other
// package calls it).
func EncodeZRR(tenant, apex, owner string) []byte {
	tenant = strings.ToLower(tenant)
	apex = strings.ToLower(strings.TrimSuffix(apex, "."))
	owner = strings.ToLower(strings.TrimSuffix(owner, "."))
	out := make([]byte, 0, 3+len(tenant)+len(apex)+len(owner))
	out = append(out, byte(ClassZRR))
	out = append(out, []byte(tenant)...)
	out = append(out, 0)
	out = append(out, []byte(apex)...)
	out = append(out, 0)
	out = append(out, []byte(owner)...)
	return out
}

// EncodeTenant builds the key for a tenant's own account record.
func EncodeTenant(tenant string) []byte {
	out := []byte{byte(ClassTenant)}
	return append(out, []byte(strings.ToLower(tenant))...)
}

// EncodeUser builds the key for a user account record.
func EncodeUser(user string) []byte {
	out := []byte{byte(ClassUser)}
	return append(out, []byte(strings.ToLower(user))...)
}

// EncodeTrxID builds the fixed-width key the transaction log is indexed
// by: class 'X' + big-endian u64 transaction id, so TRXLOG naturally
// iterates in commit order and "largest key" gives the last assigned id.
func EncodeTrxID(id uint64) []byte {
	out := make([]byte, 9)
	out[0] = byte(ClassTrxID)
	put64(out[1:], id)
	return out
}

// DecodeTrxID reverses EncodeTrxID.
func DecodeTrxID(k []byte) (uint64, error) {
	if len(k) != 9 {
		return 0, xlog.New("malformed trxid key").WithKind(xlog.KindMalformed)
	}
	return be64(k[1:]), nil
}

// SameFQDN reports whether two ENTRY/ZONE-shaped keys address the same
// tenant+fqdn pair, ignoring class byte, so an ENTRY key and its
// corresponding ZONE key compare equal.
func SameFQDN(a, b []byte) bool {
	if len(a) < 1 || len(b) < 1 {
		return false
	}
	return string(a[1:]) == string(b[1:])
}

// ZonePrefix returns the prefix bounding every ClassZone key a tenant
// owns, for the admin service's zone-listing scan.
func ZonePrefix(tenant string) []byte {
	tenant = strings.ToLower(tenant)
	out := make([]byte, 0, 2+len(tenant))
	out = append(out, byte(ClassZone))
	out = append(out, []byte(tenant)...)
	out = append(out, 0)
	return out
}

// EntryPrefix returns the prefix that bounds a zone apex and every one of
// its descendants under ClassEntry, for recursive subtree delete and
// AXFR full-zone scans (spec.md §4.4's "iterate zone" operation). It is
// also a raw byte prefix of a sibling whose last label extends the apex's
// ("examplex.com"); only the '.' that follows the prefix in a descendant
// key tells the two apart, which is the check the engine applies.
func EntryPrefix(tenant, apex string) []byte {
	return EncodeEntry(tenant, apex)
}
