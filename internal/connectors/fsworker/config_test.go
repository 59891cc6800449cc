package fsworker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{"roots": []any{"/data/docs"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/docs"}, cfg.Roots)
	assert.Empty(t, cfg.Extensions)
	assert.Equal(t, int64(defaultMaxFileSize), cfg.MaxFileSize)
	assert.Equal(t, defaultScanRate, cfg.ScanRate)
	assert.False(t, cfg.Watch)
}

func TestParseConfigShorthandsAndOverrides(t *testing.T) {
	// Single "path" shorthand.
	cfg, err := ParseConfig(map[string]any{"path": "/data/docs"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/docs"}, cfg.Roots)

	// JSON-decoded numbers arrive as float64.
	cfg, err = ParseConfig(map[string]any{
		"roots":         []any{"/a", "/b/"},
		"extensions":    []any{"md", ".TXT"},
		"max_file_size": float64(1024),
		"scan_rate":     float64(10),
		"watch":         true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Roots)
	assert.Equal(t, []string{".md", ".TXT"}, cfg.Extensions)
	assert.Equal(t, int64(1024), cfg.MaxFileSize)
	assert.Equal(t, 10.0, cfg.ScanRate)
	assert.True(t, cfg.Watch)
}

func TestParseConfigRejectsBadRoots(t *testing.T) {
	_, err := ParseConfig(map[string]any{})
	require.Error(t, err)

	_, err = ParseConfig(map[string]any{"roots": []any{"relative/path"}})
	require.Error(t, err)
}

func TestWantsFileExtensionFilter(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{
		"roots":      []any{"/data"},
		"extensions": []any{".md"},
	})
	require.NoError(t, err)

	assert.True(t, cfg.wantsFile("/data/readme.md"))
	assert.True(t, cfg.wantsFile("/data/README.MD"))
	assert.False(t, cfg.wantsFile("/data/binary.bin"))

	unfiltered, err := ParseConfig(map[string]any{"roots": []any{"/data"}})
	require.NoError(t, err)
	assert.True(t, unfiltered.wantsFile("/data/anything.xyz"))
}

func TestStateRoundTrip(t *testing.T) {
	state := connectorState{Roots: map[string]rootCursor{
		"/data": {
			LastScanUnix: 1700000000,
			Files: map[string]fileStamp{
				"a.txt": {ModifiedUnixNano: 123, Size: 5, SHA256: "abc"},
			},
		},
	}}

	encoded, err := state.encode()
	require.NoError(t, err)

	decoded := parseState(encoded)
	require.Contains(t, decoded.Roots, "/data")
	assert.Equal(t, state.Roots["/data"].Files["a.txt"], decoded.Roots["/data"].Files["a.txt"])

	// Garbage and empty inputs degrade to an empty cursor, never an error.
	assert.NotNil(t, parseState("").Roots)
	assert.Empty(t, parseState("{not json").Roots)
}
