package server

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsblast/nsblast/internal/config"
	"github.com/nsblast/nsblast/internal/wire"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.DNS.ListenAddress = "127.0.0.1:0"
	cfg.Replication.ListenAddress = "127.0.0.1:0"
	cfg.Backup.Interval = 0
	return cfg
}

func TestServerStartCloseLifecycle(t *testing.T) {
	srv, err := New(testConfig(t))
	require.NoError(t, err)

	require.NoError(t, srv.Start())
	assert.NotNil(t, srv.udp)
	assert.NotNil(t, srv.tcp)
	assert.NotNil(t, srv.Hub, "default role is primary, so a replication Hub is built")
	assert.NotNil(t, srv.grpcServer)

	require.NoError(t, srv.Close())
}

func TestServerAnswersQueriesOverUDP(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Close()

	addr := srv.udp.Addr().String()
	client, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer client.Close()

	b := wire.NewBuilder(7, wire.OpcodeQuery, true, 512)
	require.NoError(t, b.AddQuestion(wire.Question{Name: "example.com", Type: wire.TypeA, Class: wire.ClassIN}))
	_, err = client.Write(b.Finish())
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := client.Read(buf)
	require.NoError(t, err)

	msg, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint16(7), msg.Header.ID)
	assert.True(t, msg.Header.QR)
	assert.Equal(t, wire.RcodeRefused, msg.Header.Rcode, "no zone is configured, so the resolver refuses")
}

func TestServerFollowerRoleSkipsHub(t *testing.T) {
	cfg := testConfig(t)
	cfg.Replication.Role = config.RoleFollower
	cfg.Replication.PrimaryAddress = "127.0.0.1:1"
	cfg.ClusterAuthKey = "s3cret"

	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Close()

	assert.Nil(t, srv.Hub)
	assert.Nil(t, srv.grpcServer)
	assert.NotNil(t, srv.follower)
}

func TestNormalizeZone(t *testing.T) {
	assert.Equal(t, "example.com", normalizeZone("example.com."))
	assert.Equal(t, "example.com", normalizeZone("example.com"))
}
