package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsblast/nsblast/internal/xlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nsblast.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
[dns]
listen_address = ":5353"

[storage]
db_path = "/var/lib/nsblast.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":5353", cfg.DNS.ListenAddress)
	assert.Equal(t, "/var/lib/nsblast.db", cfg.Storage.DBPath)
	// Untouched sections keep Default()'s values.
	assert.Equal(t, 4, cfg.DNS.NumThreads)
	assert.Equal(t, RolePrimary, cfg.Replication.Role)
	assert.Equal(t, ":8053", cfg.Admin.ListenAddress)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	assert.Equal(t, xlog.KindNotFound, xlog.KindOf(err))
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, `not valid toml [[[`)
	_, err := Load(path)
	assert.Equal(t, xlog.KindMalformed, xlog.KindOf(err))
}

func TestLoadFollowerRequiresClusterAuthKey(t *testing.T) {
	path := writeConfig(t, `
[replication]
role = "follower"
primary_address = "10.0.0.1:853"
`)

	os.Unsetenv(EnvClusterAuthKey)
	_, err := Load(path)
	assert.Equal(t, xlog.KindConstraint, xlog.KindOf(err))

	t.Setenv(EnvClusterAuthKey, "s3cret")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.ClusterAuthKey)
	assert.Equal(t, RoleFollower, cfg.Replication.Role)
}

func TestLoadReadsAdminPasswordFromEnv(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv(EnvAdminPassword, "hunter2")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.AdminPassword)
}
