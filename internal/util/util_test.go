package util

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanOldLogsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"a.log", "b.log", "c.log", "notes.txt"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, nil, 0644))
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, ts, ts))
	}

	assert.Equal(t, 1, cleanOldLogs(dir, 2))
	assert.NoFileExists(t, filepath.Join(dir, "a.log"))
	assert.FileExists(t, filepath.Join(dir, "b.log"))
	assert.FileExists(t, filepath.Join(dir, "c.log"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))

	assert.Equal(t, 0, cleanOldLogs(dir, 0))
}

func TestInitLoggerCreatesFile(t *testing.T) {
	cfg := DefaultLogConfig()
	cfg.Directory = t.TempDir()
	cfg.Console = false
	require.NoError(t, InitLogger(cfg))

	matches, err := filepath.Glob(filepath.Join(cfg.Directory, "rsmod_*.log"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestResourceUsage(t *testing.T) {
	usage := GetResourceUsage(t.TempDir())
	assert.Positive(t, usage.Goroutines)
	assert.False(t, usage.SampledAt.IsZero())
	assert.NotEmpty(t, GetSystemInfo().GoVersion)
}

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	cert, key := filepath.Join(dir, "api.crt"), filepath.Join(dir, "api.key")

	created, err := EnsureSelfSignedCert(cert, key, []string{"localhost", "127.0.0.1"})
	require.NoError(t, err)
	assert.True(t, created)

	pair, err := tls.LoadX509KeyPair(cert, key)
	require.NoError(t, err)
	parsed, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost"}, parsed.DNSNames)
	require.Len(t, parsed.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", parsed.IPAddresses[0].String())

	info, err := os.Stat(key)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	created, err = EnsureSelfSignedCert(cert, key, nil)
	require.NoError(t, err)
	assert.False(t, created, "existing files are kept")
}
