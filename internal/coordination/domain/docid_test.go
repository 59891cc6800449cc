package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentIDDeterministic(t *testing.T) {
	a := DocumentID("src-1", "folder/a", "doc.txt")
	b := DocumentID("src-1", "folder/a", "doc.txt")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestDocumentIDDistinguishesComponents(t *testing.T) {
	base := DocumentID("src-1", "folder/a", "doc.txt")

	assert.NotEqual(t, base, DocumentID("src-2", "folder/a", "doc.txt"))
	assert.NotEqual(t, base, DocumentID("src-1", "folder/b", "doc.txt"))
	assert.NotEqual(t, base, DocumentID("src-1", "folder/a", "other.txt"))

	// Separator keeps (partition, external-id) splits from colliding.
	assert.NotEqual(t,
		DocumentID("src-1", "folder", "a/doc.txt"),
		DocumentID("src-1", "folder/a", "doc.txt"))
}
