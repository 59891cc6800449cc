package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// DocumentID derives the deterministic document ID for an external document.
// It is a pure function of the source, the partition that owns the document,
// and the document's external identifier, never of mutable fields, so the
// same document always maps to the same ID across processes and versions,
// and duplicate queue deliveries collide into an upsert at the indexer.
func DocumentID(sourceID, partition, externalID string) string {
	h := sha256.New()
	h.Write([]byte(sourceID))
	h.Write([]byte{0})
	h.Write([]byte(partition))
	h.Write([]byte{0})
	h.Write([]byte(externalID))
	return hex.EncodeToString(h.Sum(nil))
}
