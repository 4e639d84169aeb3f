package key

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryKeyOrderingApexBeforeDescendants(t *testing.T) {
	apex := EncodeEntry("acme", "example.com")
	child := EncodeEntry("acme", "www.example.com")
	sibling := EncodeEntry("acme", "zzz.example.com")
	other := EncodeEntry("acme", "other.com")

	keys := [][]byte{sibling, other, child, apex}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	assert.True(t, bytes.Equal(keys[0], apex) || bytes.Equal(keys[1], apex))
	// apex must come before both of its own descendants
	apexIdx, childIdx, siblingIdx := -1, -1, -1
	for i, k := range keys {
		switch {
		case bytes.Equal(k, apex):
			apexIdx = i
		case bytes.Equal(k, child):
			childIdx = i
		case bytes.Equal(k, sibling):
			siblingIdx = i
		}
	}
	assert.Less(t, apexIdx, childIdx)
	assert.Less(t, apexIdx, siblingIdx)
}

func TestEntryRoundTrip(t *testing.T) {
	k := EncodeEntry("acme", "www.example.com")
	tenant, fqdn, err := DecodeEntry(k)
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant)
	assert.Equal(t, "www.example.com", fqdn)
}

func TestDiffKeysOrderBySerial(t *testing.T) {
	d1 := EncodeDiff("acme", "example.com", 1)
	d2 := EncodeDiff("acme", "example.com", 2)
	d10 := EncodeDiff("acme", "example.com", 10)
	assert.Less(t, bytes.Compare(d1, d2), 0)
	assert.Less(t, bytes.Compare(d2, d10), 0)

	serial, err := DecodeDiffSerial(d10)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), serial)
}

func TestTrxIDOrdersMonotonically(t *testing.T) {
	k1 := EncodeTrxID(1)
	k2 := EncodeTrxID(2)
	k256 := EncodeTrxID(256)
	assert.Less(t, bytes.Compare(k1, k2), 0)
	assert.Less(t, bytes.Compare(k2, k256), 0)

	id, err := DecodeTrxID(k256)
	require.NoError(t, err)
	assert.Equal(t, uint64(256), id)
}

func TestEntryPrefixBoundsDescendantsOnly(t *testing.T) {
	prefix := EntryPrefix("acme", "example.com")
	child := EncodeEntry("acme", "www.example.com")
	unrelated := EncodeEntry("acme", "exampleX.com")

	assert.True(t, bytes.HasPrefix(child, prefix))
	assert.Equal(t, byte('.'), child[len(prefix)])
	// "com.examplex" shares the raw bytes; the separator after the prefix
	// is what excludes it from the subtree
	require.True(t, bytes.HasPrefix(unrelated, prefix))
	assert.NotEqual(t, byte('.'), unrelated[len(prefix)])
}

func TestSameFQDNIgnoresClass(t *testing.T) {
	entry := EncodeEntry("acme", "example.com")
	zone := EncodeZone("acme", "example.com")
	assert.True(t, SameFQDN(entry, zone))

	other := EncodeEntry("acme", "other.com")
	assert.False(t, SameFQDN(entry, other))
}
