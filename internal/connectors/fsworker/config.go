package fsworker

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// defaultMaxFileSize caps how large a file body may be before the worker
// skips it rather than park it in the blob store.
const defaultMaxFileSize = 10 << 20

// defaultScanRate bounds filesystem stat/read operations per second. Local
// disks rarely need throttling, but network mounts do, and the limiter is
// the same seam an API-backed connector throttles through.
const defaultScanRate = 200.0

// Config is the typed view of a filesystem Source's opaque config document.
type Config struct {
	// Roots are the directory trees to sync. Each root is one partition
	// with its own cursor.
	Roots []string

	// Extensions, when non-empty, restricts sync to files with these
	// extensions (".md", ".txt"). Matched case-insensitively.
	Extensions []string

	// MaxFileSize in bytes; larger files are counted as scanned but not
	// emitted.
	MaxFileSize int64

	// ScanRate is the token-bucket rate for filesystem operations.
	ScanRate float64

	// Watch enables the fsnotify-based change watcher after a successful
	// sync, which nudges the coordinator to trigger incremental syncs.
	Watch bool
}

// ParseConfig extracts Config from the source's opaque config map.
func ParseConfig(raw map[string]any) (Config, error) {
	cfg := Config{
		MaxFileSize: defaultMaxFileSize,
		ScanRate:    defaultScanRate,
	}

	switch v := raw["roots"].(type) {
	case nil:
		// "path" is accepted as a single-root shorthand.
		if p, ok := raw["path"].(string); ok && p != "" {
			cfg.Roots = []string{p}
		}
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				cfg.Roots = append(cfg.Roots, s)
			}
		}
	case []string:
		cfg.Roots = v
	case string:
		cfg.Roots = []string{v}
	}
	if len(cfg.Roots) == 0 {
		return Config{}, errors.New("filesystem source config requires at least one root path")
	}
	for i, root := range cfg.Roots {
		if !filepath.IsAbs(root) {
			return Config{}, fmt.Errorf("root %q must be an absolute path", root)
		}
		cfg.Roots[i] = filepath.Clean(root)
	}

	switch v := raw["extensions"].(type) {
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				cfg.Extensions = append(cfg.Extensions, normalizeExt(s))
			}
		}
	case []string:
		for _, s := range v {
			cfg.Extensions = append(cfg.Extensions, normalizeExt(s))
		}
	}

	if v, ok := numberValue(raw["max_file_size"]); ok && v > 0 {
		cfg.MaxFileSize = int64(v)
	}
	if v, ok := numberValue(raw["scan_rate"]); ok && v > 0 {
		cfg.ScanRate = v
	}
	if v, ok := raw["watch"].(bool); ok {
		cfg.Watch = v
	}

	return cfg, nil
}

// numberValue copes with JSON decoding every number as float64 while direct
// Go callers pass ints.
func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func normalizeExt(ext string) string {
	if len(ext) > 0 && ext[0] != '.' {
		return "." + ext
	}
	return ext
}

// wantsFile applies the extension filter.
func (c Config) wantsFile(path string) bool {
	if len(c.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, want := range c.Extensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}
