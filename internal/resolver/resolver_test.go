package resolver

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsblast/nsblast/internal/storage/codec"
	"github.com/nsblast/nsblast/internal/storage/engine"
	"github.com/nsblast/nsblast/internal/storage/key"
	"github.com/nsblast/nsblast/internal/wire"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func putEntry(t *testing.T, e *engine.Engine, cat engine.Category, tenant, fqdn string, b *codec.EntryBuilder) {
	t.Helper()
	buf, err := b.Finish()
	require.NoError(t, err)
	txn, err := e.Begin(true)
	require.NoError(t, err)
	var k []byte
	if cat == engine.CategoryMasterZone {
		k = key.EncodeZone(tenant, fqdn)
	} else {
		k = key.EncodeEntry(tenant, fqdn)
	}
	require.NoError(t, txn.Put(cat, k, buf, false))
	require.NoError(t, txn.Commit())
}

func seedBasicZone(t *testing.T, e *engine.Engine) {
	t.Helper()
	apexB := codec.NewEntryBuilder()
	require.NoError(t, apexB.CreateSOA("example.com", "ns1.example.com", "hostmaster@example.com", 3600, 1, 7200, 3600, 1209600, 3600))
	require.NoError(t, apexB.CreateNS("example.com", "ns1.example.com", 3600))
	apexB.CreateA("example.com", [4]byte{192, 0, 2, 1}, 300)
	putEntry(t, e, engine.CategoryMasterZone, "acme", "example.com", apexB)

	apexEntryB := codec.NewEntryBuilder()
	require.NoError(t, apexEntryB.CreateSOA("example.com", "ns1.example.com", "hostmaster@example.com", 3600, 1, 7200, 3600, 1209600, 3600))
	require.NoError(t, apexEntryB.CreateNS("example.com", "ns1.example.com", 3600))
	apexEntryB.CreateA("example.com", [4]byte{192, 0, 2, 1}, 300)
	require.NoError(t, apexEntryB.CreateMX("example.com", 10, "mail.example.com", 3600))
	apexEntryB.CreateTXT("example.com", "v=spf1 -all", 3600)
	putEntry(t, e, engine.CategoryEntry, "acme", "example.com", apexEntryB)

	wwwB := codec.NewEntryBuilder()
	wwwB.CreateA("www.example.com", [4]byte{192, 0, 2, 2}, 300)
	putEntry(t, e, engine.CategoryEntry, "acme", "www.example.com", wwwB)

	aliasB := codec.NewEntryBuilder()
	require.NoError(t, aliasB.CreateCNAME("alias.example.com", "www.example.com", 300))
	putEntry(t, e, engine.CategoryEntry, "acme", "alias.example.com", aliasB)

	delB := codec.NewEntryBuilder()
	require.NoError(t, delB.CreateNS("sub.example.com", "ns1.sub.example.com", 300))
	putEntry(t, e, engine.CategoryEntry, "acme", "sub.example.com", delB)

	glueB := codec.NewEntryBuilder()
	glueB.CreateA("ns1.sub.example.com", [4]byte{192, 0, 2, 53}, 300)
	putEntry(t, e, engine.CategoryEntry, "acme", "ns1.sub.example.com", glueB)
}

func answer(t *testing.T, r *Resolver, name string, qtype wire.Type) (*wire.Message, wire.Rcode) {
	t.Helper()
	b := wire.NewBuilder(1, wire.OpcodeQuery, true, 4096)
	require.NoError(t, b.AddQuestion(wire.Question{Name: name, Type: qtype, Class: wire.ClassIN}))
	rcode := r.Answer(b, "acme", wire.Question{Name: name, Type: qtype, Class: wire.ClassIN})
	out := b.Finish()
	msg, err := wire.Decode(out)
	require.NoError(t, err)
	return msg, rcode
}

func TestResolveExactMatch(t *testing.T) {
	e := newTestEngine(t)
	seedBasicZone(t, e)
	r := New(e)

	msg, rcode := answer(t, r, "www.example.com", wire.TypeA)
	assert.Equal(t, wire.RcodeSuccess, rcode)
	require.Len(t, msg.Answer, 1)
	assert.Equal(t, "192.0.2.2", wire.A{RR: msg.Answer[0]}.Address().String())
}

func TestResolveCNAMEChase(t *testing.T) {
	e := newTestEngine(t)
	seedBasicZone(t, e)
	r := New(e)

	msg, rcode := answer(t, r, "alias.example.com", wire.TypeA)
	assert.Equal(t, wire.RcodeSuccess, rcode)
	require.Len(t, msg.Answer, 2)
	assert.Equal(t, wire.TypeCNAME, msg.Answer[0].Type)
	assert.Equal(t, wire.TypeA, msg.Answer[1].Type)
}

func TestResolveNameError(t *testing.T) {
	e := newTestEngine(t)
	seedBasicZone(t, e)
	r := New(e)

	msg, rcode := answer(t, r, "nope.example.com", wire.TypeA)
	assert.Equal(t, wire.RcodeNameError, rcode)
	assert.Len(t, msg.Answer, 0)
	assert.Len(t, msg.Authority, 1)
	assert.Equal(t, wire.TypeSOA, msg.Authority[0].Type)
}

func TestResolveNoData(t *testing.T) {
	e := newTestEngine(t)
	seedBasicZone(t, e)
	r := New(e)

	msg, rcode := answer(t, r, "www.example.com", wire.TypeMX)
	assert.Equal(t, wire.RcodeSuccess, rcode)
	assert.Len(t, msg.Answer, 0)
	require.Len(t, msg.Authority, 1)
	assert.Equal(t, wire.TypeSOA, msg.Authority[0].Type)
}

func TestResolveReferralWithGlue(t *testing.T) {
	e := newTestEngine(t)
	seedBasicZone(t, e)
	r := New(e)

	msg, rcode := answer(t, r, "host.sub.example.com", wire.TypeA)
	assert.Equal(t, wire.RcodeSuccess, rcode)
	assert.False(t, msg.Header.AA)
	require.Len(t, msg.Authority, 1)
	assert.Equal(t, wire.TypeNS, msg.Authority[0].Type)
	require.Len(t, msg.Additional, 1)
	assert.Equal(t, wire.TypeA, msg.Additional[0].Type)
}

func TestResolveRefusedOutsideServedZones(t *testing.T) {
	e := newTestEngine(t)
	seedBasicZone(t, e)
	r := New(e)

	_, rcode := answer(t, r, "www.unrelated.org", wire.TypeA)
	assert.Equal(t, wire.RcodeRefused, rcode)
}

func TestResolveAnyModeRelevantExcludesHinfo(t *testing.T) {
	e := newTestEngine(t)
	seedBasicZone(t, e)
	r := New(e)
	r.AnyMode = AnyModeRelevant

	msg, rcode := answer(t, r, "example.com", wire.TypeANY)
	assert.Equal(t, wire.RcodeSuccess, rcode)
	assert.NotEmpty(t, msg.Answer)

	var gotTypes []wire.Type
	for _, rr := range msg.Answer {
		gotTypes = append(gotTypes, rr.Type)
	}
	// spec.md's relevant allowlist is exactly SOA/NS/A/AAAA/CNAME: the
	// apex here also carries MX and TXT, neither of which belongs.
	assert.Contains(t, gotTypes, wire.TypeSOA)
	assert.Contains(t, gotTypes, wire.TypeNS)
	assert.Contains(t, gotTypes, wire.TypeA)
	assert.NotContains(t, gotTypes, wire.TypeHINFO)
	assert.NotContains(t, gotTypes, wire.TypeMX)
	assert.NotContains(t, gotTypes, wire.TypeTXT)
}

func TestResolveAnyModeChasesCNAME(t *testing.T) {
	e := newTestEngine(t)
	seedBasicZone(t, e)
	r := New(e)
	r.AnyMode = AnyModeRelevant

	msg, rcode := answer(t, r, "alias.example.com", wire.TypeANY)
	assert.Equal(t, wire.RcodeSuccess, rcode)
	// ANY against a CNAME owner chases like any other qtype: the owner
	// contributes only the CNAME RR (not a second copy via the per-RR
	// loop), then resolution continues at the chased-to target.
	require.Len(t, msg.Answer, 2)
	assert.Equal(t, wire.TypeCNAME, msg.Answer[0].Type)
	assert.Equal(t, wire.TypeA, msg.Answer[1].Type)
}
