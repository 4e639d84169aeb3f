package wire

import (
	"testing"

	"github.com/nsblast/nsblast/internal/xlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSimpleQuery(t *testing.T, name string, qtype Type) []byte {
	t.Helper()
	var buf []byte
	buf = append(buf, 0x12, 0x34) // id
	buf = append(buf, 0x01, 0x00) // flags: RD=1
	buf = append(buf, 0, 1)       // qdcount
	buf = append(buf, 0, 0, 0, 0, 0, 0)
	offsets := map[string]int{}
	require.NoError(t, AppendName(&buf, name, offsets))
	buf = append(buf, 0, 0)
	put16(buf[len(buf)-2:], uint16(qtype))
	buf = append(buf, 0, 0)
	put16(buf[len(buf)-2:], uint16(ClassIN))
	return buf
}

func TestDecodeQuery(t *testing.T) {
	buf := buildSimpleQuery(t, "www.example.com", TypeA)
	m, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), m.Header.ID)
	assert.False(t, m.Header.QR)
	assert.True(t, m.Header.RD)
	require.Len(t, m.Question, 1)
	assert.Equal(t, "www.example.com", m.Question[0].Name)
	assert.Equal(t, TypeA, m.Question[0].Type)
}

func TestDecodeHeaderTooShort(t *testing.T) {
	_, err := Decode([]byte{0, 1, 2})
	require.Error(t, err)
	assert.Equal(t, xlog.KindMalformed, xlog.KindOf(err))
}

func TestDecodeRejectsReservedZBit(t *testing.T) {
	buf := buildSimpleQuery(t, "example.com", TypeA)
	put16(buf[2:4], be16(buf[2:4])|0x0040)
	_, err := Decode(buf)
	require.Error(t, err)
}

func TestDecodeRejectsMalformedQueryWithAnswers(t *testing.T) {
	buf := buildSimpleQuery(t, "example.com", TypeA)
	put16(buf[6:8], 1) // claim an answer with QR=0
	_, err := Decode(buf)
	require.Error(t, err)
}

func TestNameCompressionRoundTrip(t *testing.T) {
	var buf []byte
	buf = append(buf, make([]byte, headerLen)...)
	offsets := map[string]int{}

	nameOffset := len(buf)
	require.NoError(t, AppendName(&buf, "www.example.com", offsets))

	secondOffset := len(buf)
	require.NoError(t, AppendName(&buf, "mail.example.com", offsets))

	// second name should have compressed against "example.com" registered by
	// the first, so it must be shorter than an uncompressed encoding would be.
	assert.Less(t, len(buf)-secondOffset, len("mail.example.com")+2)

	name1, next1, err := decodeName(buf, nameOffset)
	require.NoError(t, err)
	assert.Equal(t, "www.example.com", name1)
	assert.Equal(t, secondOffset, next1)

	name2, _, err := decodeName(buf, secondOffset)
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com", name2)
}

func TestDecodeNameRejectsPointerLoop(t *testing.T) {
	buf := make([]byte, headerLen)
	buf = append(buf, 0xC0, byte(headerLen)) // pointer to itself
	_, _, err := decodeName(buf, headerLen)
	require.Error(t, err)
}

func TestDecodeNameRejectsOversizedLabel(t *testing.T) {
	buf := []byte{64} // length 64 > maxLabelLength
	buf = append(buf, make([]byte, 64)...)
	_, _, err := decodeName(buf, 0)
	require.Error(t, err)
}

func TestSOARNameEscaping(t *testing.T) {
	rname := escapeSOARName(`first.last@example.com`)
	assert.Equal(t, `first\.last.example.com`, rname)

	back := unescapeSOARName(rname)
	assert.Equal(t, `first.last@example.com`, back)
}

func TestBuilderTruncatesAndSetsTC(t *testing.T) {
	b := NewBuilder(0x1234, OpcodeQuery, true, 64)
	require.NoError(t, b.AddQuestion(Question{Name: "example.com", Type: TypeA, Class: ClassIN}))
	b.SetFlags(true, false, false, false, RcodeSuccess)

	rr := RR{Name: "example.com", Type: TypeA, Class: ClassIN, TTL: 300, RData: []byte{1, 2, 3, 4}}
	ok1, err := b.AddRR(SectionAnswer, rr)
	require.NoError(t, err)
	require.True(t, ok1)

	// a second, larger RR should overflow the tiny budget and flip TC.
	big := RR{Name: "example.com", Type: TypeTXT, Class: ClassIN, TTL: 300, RData: make([]byte, 64)}
	ok2, err := b.AddRR(SectionAnswer, big)
	require.NoError(t, err)
	assert.False(t, ok2)

	out := b.Finish()
	msg, err := Decode(out)
	require.NoError(t, err)
	assert.True(t, msg.Header.TC)
	assert.Len(t, msg.Answer, 1)
}

func TestBuilderTruncatesAuthorityWithoutSettingTC(t *testing.T) {
	b := NewBuilder(0x1234, OpcodeQuery, true, 64)
	require.NoError(t, b.AddQuestion(Question{Name: "example.com", Type: TypeA, Class: ClassIN}))
	b.SetFlags(true, false, false, false, RcodeSuccess)

	rr := RR{Name: "example.com", Type: TypeNS, Class: ClassIN, TTL: 300, RData: []byte{3, 'n', 's', '1', 0}}
	ok1, err := b.AddRR(SectionAuthority, rr)
	require.NoError(t, err)
	require.True(t, ok1)

	// an overflowing AUTHORITY (or ADDITIONAL) RR is silently dropped:
	// spec.md §4.5 reserves tc=1 for ANSWER overflow only.
	big := RR{Name: "example.com", Type: TypeTXT, Class: ClassIN, TTL: 300, RData: make([]byte, 64)}
	ok2, err := b.AddRR(SectionAuthority, big)
	require.NoError(t, err)
	assert.False(t, ok2)

	out := b.Finish()
	msg, err := Decode(out)
	require.NoError(t, err)
	assert.False(t, msg.Header.TC)
	assert.Len(t, msg.Authority, 1)
}

func TestBuilderRoundTripsOPT(t *testing.T) {
	b := NewBuilder(7, OpcodeQuery, false, 4096)
	require.NoError(t, b.AddQuestion(Question{Name: "example.com", Type: TypeA, Class: ClassIN}))
	b.SetFlags(true, false, false, false, RcodeSuccess)
	b.SetOPT(0, 0, 4096)

	out := b.Finish()
	msg, err := Decode(out)
	require.NoError(t, err)
	size, extRcode, present := msg.EDNSBufferSize()
	require.True(t, present)
	assert.Equal(t, uint16(4096), size)
	assert.Equal(t, uint8(0), extRcode)
}
