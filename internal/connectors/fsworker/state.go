package fsworker

import (
	"encoding/json"
	"fmt"
)

// fileStamp is one file's cursor entry: enough to detect change without
// re-reading the body, plus the content hash for the dedup layer that
// suppresses re-emitting a body whose bytes did not move.
type fileStamp struct {
	ModifiedUnixNano int64  `json:"mtime"`
	Size             int64  `json:"size"`
	SHA256           string `json:"sha256"`
}

// rootCursor is one partition's checkpoint: the set of files known at the
// end of the last completed walk of that root.
type rootCursor struct {
	LastScanUnix int64                `json:"last_scan"`
	Files        map[string]fileStamp `json:"files"`
}

// connectorState is the whole opaque cursor document the coordinator stores
// on the Source row, keyed by root path.
type connectorState struct {
	Roots map[string]rootCursor `json:"roots"`
}

// parseState decodes the connector-state document handed over in the
// SyncRequest. An empty or unparseable document means "no cursor": the
// walk starts from the beginning, which is always safe because document
// IDs are deterministic.
func parseState(raw string) connectorState {
	state := connectorState{Roots: map[string]rootCursor{}}
	if raw == "" {
		return state
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil || state.Roots == nil {
		state.Roots = map[string]rootCursor{}
	}
	return state
}

func (s connectorState) encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding connector state: %w", err)
	}
	return string(data), nil
}
