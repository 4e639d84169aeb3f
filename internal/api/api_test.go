package api

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsblast/nsblast/internal/storage/engine"
	"github.com/nsblast/nsblast/internal/wire"
	"github.com/nsblast/nsblast/internal/xlog"
)

func soaRR(apex string, serial uint32) wire.RR {
	var buf []byte
	offsets := map[string]int{}
	_ = wire.AppendName(&buf, "ns1."+apex, offsets)
	_ = wire.AppendName(&buf, "hostmaster."+apex, offsets)
	tail := make([]byte, 20)
	binary.BigEndian.PutUint32(tail[0:4], serial)
	return wire.RR{Name: apex, Type: wire.TypeSOA, Class: wire.ClassIN, TTL: 3600, RData: append(buf, tail...)}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	eng, err := engine.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return NewService(eng, nil, t.TempDir())
}

func TestZoneLifecycle(t *testing.T) {
	svc := newTestService(t)
	apex := "example.com"

	require.NoError(t, svc.CreateZone("acme", apex, soaRR(apex, 1)))
	assert.Error(t, svc.CreateZone("acme", apex, soaRR(apex, 1)), "creating the same zone twice must fail")

	zone, err := svc.GetZone("acme", apex)
	require.NoError(t, err)
	assert.Equal(t, apex, zone.Apex)
	assert.Equal(t, uint32(1), zone.Serial)

	zones, err := svc.ListZones("acme")
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, apex, zones[0].Apex)

	require.NoError(t, svc.UpdateZone("acme", apex, soaRR(apex, 2)))
	zone, err = svc.GetZone("acme", apex)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), zone.Serial)

	require.NoError(t, svc.DeleteZone("acme", apex))
	_, err = svc.GetZone("acme", apex)
	assert.Equal(t, xlog.KindNotFound, xlog.KindOf(err))
}

func TestZoneIsolatedByTenant(t *testing.T) {
	svc := newTestService(t)
	apex := "example.com"

	require.NoError(t, svc.CreateZone("acme", apex, soaRR(apex, 1)))
	_, err := svc.GetZone("other", apex)
	assert.Equal(t, xlog.KindNotFound, xlog.KindOf(err))
}

func TestRRsetLifecycle(t *testing.T) {
	svc := newTestService(t)
	apex := "example.com"
	require.NoError(t, svc.CreateZone("acme", apex, soaRR(apex, 1)))

	www := "www." + apex
	a := wire.RR{Name: www, Type: wire.TypeA, Class: wire.ClassIN, TTL: 300, RData: []byte{192, 0, 2, 1}}
	require.NoError(t, svc.CreateRRset("acme", www, []wire.RR{a}))

	got, err := svc.GetRRset("acme", www, wire.TypeA)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.RData, got[0].RData)

	all, err := svc.ListRRsets("acme", www)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, svc.DeleteRRset("acme", www, wire.TypeA))
	_, err = svc.GetRRset("acme", www, wire.TypeA)
	assert.Equal(t, xlog.KindNotFound, xlog.KindOf(err))
}

func TestCreateRRsetRejectsEmpty(t *testing.T) {
	svc := newTestService(t)
	err := svc.CreateRRset("acme", "www.example.com", nil)
	assert.Equal(t, xlog.KindConstraint, xlog.KindOf(err))
}

func TestBackupLifecycle(t *testing.T) {
	svc := newTestService(t)
	apex := "example.com"
	require.NoError(t, svc.CreateZone("acme", apex, soaRR(apex, 1)))

	info, err := svc.CreateBackup()
	require.NoError(t, err)
	assert.NotEmpty(t, info.UUID)

	backups, err := svc.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 1)

	verified, err := svc.VerifyBackup(info.UUID)
	require.NoError(t, err)
	assert.True(t, verified)

	err = svc.RestoreBackup(info.UUID)
	assert.Equal(t, xlog.KindDenied, xlog.KindOf(err))

	require.NoError(t, svc.DeleteBackup(info.UUID))
	_, err = svc.VerifyBackup(info.UUID)
	assert.Equal(t, xlog.KindNotFound, xlog.KindOf(err))
}

func TestTriggerTransferRequiresSlaveClient(t *testing.T) {
	svc := newTestService(t)
	err := svc.TriggerTransfer("acme", "example.com", []string{"127.0.0.1:53"})
	assert.Equal(t, xlog.KindConstraint, xlog.KindOf(err))
}
