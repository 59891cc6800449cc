package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultMaxConcurrentSyncs, cfg.MaxConcurrentSyncs)
	assert.Equal(t, DefaultMaxConcurrentSyncsPerType, cfg.MaxConcurrentSyncsPerType)
	assert.Equal(t, 30*time.Second, cfg.SchedulerInterval())
	assert.Equal(t, 10*time.Minute, cfg.StaleSyncTimeout())
	assert.Equal(t, BlobBackendSQLite, cfg.BlobBackend)
	assert.Equal(t, "http://localhost:8090", cfg.ResolvedPublicURL())
}

func TestLoadFromTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
port = 9001
max_concurrent_syncs = 5
scheduler_interval_seconds = 10

[connectors]
files = "http://localhost:9101"
wiki = "http://localhost:9102"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, 5, cfg.MaxConcurrentSyncs)
	assert.Equal(t, 10*time.Second, cfg.SchedulerInterval())

	urls := cfg.TypedConnectorURLs()
	assert.Equal(t, "http://localhost:9101", urls[domain.SourceTypeFiles])
	assert.Equal(t, "http://localhost:9102", urls[domain.SourceTypeWiki])
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = 9001\n"), 0o644))

	t.Setenv("PORT", "9002")
	t.Setenv("CONNECTOR_FILES_URL", "http://localhost:9103/")
	t.Setenv("STALE_SYNC_TIMEOUT_MINUTES", "25")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9002, cfg.Port)
	assert.Equal(t, 25*time.Minute, cfg.StaleSyncTimeout())
	assert.Equal(t, "http://localhost:9103", cfg.TypedConnectorURLs()[domain.SourceTypeFiles])
}

func TestValidationFailures(t *testing.T) {
	t.Run("bad port", func(t *testing.T) {
		t.Setenv("PORT", "-1")
		_, err := Load("")
		require.Error(t, err)
	})

	t.Run("s3 backend without bucket", func(t *testing.T) {
		t.Setenv("BLOB_STORAGE_BACKEND", "s3")
		_, err := Load("")
		require.Error(t, err)
	})

	t.Run("s3 backend with bucket", func(t *testing.T) {
		t.Setenv("BLOB_STORAGE_BACKEND", "s3")
		t.Setenv("BLOB_S3_BUCKET", "blobs")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, BlobBackendS3, cfg.BlobBackend)
		assert.Equal(t, "blobs", cfg.S3Bucket)
	})

	t.Run("unknown blob backend", func(t *testing.T) {
		t.Setenv("BLOB_STORAGE_BACKEND", "tape")
		_, err := Load("")
		require.Error(t, err)
	})

	t.Run("unknown connector type in file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "coordinator.toml")
		require.NoError(t, os.WriteFile(path, []byte("[connectors]\nfloppy = \"http://x\"\n"), 0o644))
		_, err := Load(path)
		require.Error(t, err)
	})
}

func TestMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
}
