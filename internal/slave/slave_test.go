package slave

import (
	"encoding/binary"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsblast/nsblast/internal/storage/codec"
	"github.com/nsblast/nsblast/internal/storage/engine"
	"github.com/nsblast/nsblast/internal/storage/key"
	"github.com/nsblast/nsblast/internal/wire"
)

func soaRR(apex string, serial uint32) wire.RR {
	var buf []byte
	offsets := map[string]int{}
	_ = wire.AppendName(&buf, "ns1."+apex, offsets)
	_ = wire.AppendName(&buf, "hostmaster."+apex, offsets)
	tail := make([]byte, 20)
	binary.BigEndian.PutUint32(tail[0:4], serial)
	buf = append(buf, tail...)
	return wire.RR{Name: apex, Type: wire.TypeSOA, Class: wire.ClassIN, TTL: 3600, RData: buf}
}

// fakeMaster serves a single canned AXFR response over one TCP
// connection then stops accepting.
func fakeMaster(t *testing.T, answer []wire.RR) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		lenBuf := make([]byte, 2)
		if _, err := fullRead(conn, lenBuf); err != nil {
			return
		}
		qBuf := make([]byte, binary.BigEndian.Uint16(lenBuf))
		if _, err := fullRead(conn, qBuf); err != nil {
			return
		}
		q, err := wire.Decode(qBuf)
		if err != nil {
			return
		}

		b := wire.NewBuilder(q.Header.ID, wire.OpcodeQuery, false, 65535)
		b.AddQuestion(q.Question[0])
		b.SetFlags(true, false, false, false, wire.RcodeSuccess)
		for _, rr := range answer {
			b.AddRR(wire.SectionAnswer, rr)
		}
		writeFramed(conn, b.Finish())
	}()

	return ln.Addr().String()
}

func TestAXFRFullApply(t *testing.T) {
	eng, err := engine.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer eng.Close()

	apex := "example.com"
	answer := []wire.RR{
		soaRR(apex, 5),
		{Name: apex, Type: wire.TypeNS, Class: wire.ClassIN, TTL: 3600, RData: mustName(t, "ns1.example.com")},
		{Name: "www.example.com", Type: wire.TypeA, Class: wire.ClassIN, TTL: 300, RData: []byte{192, 0, 2, 9}},
		soaRR(apex, 5),
	}
	master := fakeMaster(t, answer)

	c := New(eng)
	cfg := Config{Tenant: "acme", Apex: apex, Masters: []string{master}, Timeout: 5 * time.Second}
	require.NoError(t, c.Refresh(cfg))

	txn, err := eng.Begin(false)
	require.NoError(t, err)
	defer txn.Rollback()

	v, ok, err := txn.Get(engine.CategoryEntry, key.EncodeEntry("acme", "www.example.com"))
	require.NoError(t, err)
	require.True(t, ok)
	e, err := codec.Parse(v)
	require.NoError(t, err)
	aRRs, err := e.RRs(wire.TypeA)
	require.NoError(t, err)
	require.Len(t, aRRs, 1)
	assert.Equal(t, "192.0.2.9", wire.A{RR: aRRs[0]}.Address().String())

	zv, ok, err := txn.Get(engine.CategoryMasterZone, key.EncodeZone("acme", apex))
	require.NoError(t, err)
	require.True(t, ok)
	ze, err := codec.Parse(zv)
	require.NoError(t, err)
	soaRRs, err := ze.RRs(wire.TypeSOA)
	require.NoError(t, err)
	require.Len(t, soaRRs, 1)
	assert.Equal(t, uint32(5), wire.SOA{RR: soaRRs[0]}.Serial())
}

func mustName(t *testing.T, name string) []byte {
	t.Helper()
	buf, err := wire.AppendNameStandalone(name)
	require.NoError(t, err)
	return buf
}
