package codec

import (
	"testing"

	"github.com/nsblast/nsblast/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryRoundTripMixedTypes(t *testing.T) {
	b := NewEntryBuilder()
	require.NoError(t, b.CreateSOA("example.com", "ns1.example.com", "hostmaster@example.com", 3600, 1, 7200, 3600, 1209600, 3600))
	require.NoError(t, b.CreateNS("example.com", "ns1.example.com", 3600))
	require.NoError(t, b.CreateNS("example.com", "ns2.example.com", 3600))
	b.CreateA("example.com", [4]byte{192, 0, 2, 1}, 300)

	buf, err := b.Finish()
	require.NoError(t, err)

	e, err := Parse(buf)
	require.NoError(t, err)
	assert.True(t, e.HasFlag(FlagApex))
	assert.ElementsMatch(t, []wire.Type{wire.TypeA, wire.TypeNS, wire.TypeSOA}, e.Types())

	nsRRs, err := e.RRs(wire.TypeNS)
	require.NoError(t, err)
	assert.Len(t, nsRRs, 2)

	soaRRs, err := e.RRs(wire.TypeSOA)
	require.NoError(t, err)
	require.Len(t, soaRRs, 1)
	soa := wire.SOA{RR: soaRRs[0]}
	assert.Equal(t, uint32(1), soa.Serial())

	aRRs, err := e.RRs(wire.TypeA)
	require.NoError(t, err)
	require.Len(t, aRRs, 1)
	a := wire.A{RR: aRRs[0]}
	assert.Equal(t, "192.0.2.1", a.Address().String())

	// no MX present
	mxRRs, err := e.RRs(wire.TypeMX)
	require.NoError(t, err)
	assert.Nil(t, mxRRs)
}

func TestEntryCNAMEFlag(t *testing.T) {
	b := NewEntryBuilder()
	require.NoError(t, b.CreateCNAME("www.example.com", "example.com", 300))
	buf, err := b.Finish()
	require.NoError(t, err)

	e, err := Parse(buf)
	require.NoError(t, err)
	assert.True(t, e.HasFlag(FlagCNAME))
}

func TestIncrementSOASerial(t *testing.T) {
	b := NewEntryBuilder()
	require.NoError(t, b.CreateSOA("example.com", "ns1.example.com", "hostmaster@example.com", 3600, 41, 7200, 3600, 1209600, 3600))
	buf, err := b.Finish()
	require.NoError(t, err)
	e, err := Parse(buf)
	require.NoError(t, err)

	nb, err := IncrementSOASerial(e)
	require.NoError(t, err)
	buf2, err := nb.Finish()
	require.NoError(t, err)
	e2, err := Parse(buf2)
	require.NoError(t, err)

	rrs, err := e2.RRs(wire.TypeSOA)
	require.NoError(t, err)
	require.Len(t, rrs, 1)
	assert.Equal(t, uint32(42), wire.SOA{RR: rrs[0]}.Serial())
}

func TestTXTSplitsLongStrings(t *testing.T) {
	b := NewEntryBuilder()
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	b.CreateTXT("example.com", string(long), 300)
	buf, err := b.Finish()
	require.NoError(t, err)
	e, err := Parse(buf)
	require.NoError(t, err)
	rrs, err := e.RRs(wire.TypeTXT)
	require.NoError(t, err)
	require.Len(t, rrs, 1)
	strs := wire.TXT{RR: rrs[0]}.Strings()
	require.Len(t, strs, 2)
	assert.Len(t, strs[0], 255)
	assert.Len(t, strs[1], 45)
}
