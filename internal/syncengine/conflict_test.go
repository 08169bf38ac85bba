package syncengine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vaultsync/core/internal/store"
)

func TestMergeNameNoCollision(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, Name: "notes.md"}
	resolved := mergeName(f, map[string][][16]byte{"other.md": {{9}}})
	assert.Equal(t, "notes.md", resolved)
}

func TestMergeNameOwnEntryIsNotACollision(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, Name: "notes.md"}
	resolved := mergeName(f, map[string][][16]byte{"notes.md": {{1}}})
	assert.Equal(t, "notes.md", resolved, "the name already held by this same file must not count as a collision")
}

func TestMergeNameCollisionAppendsSuffix(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, Name: "notes.md"}
	resolved := mergeName(f, map[string][][16]byte{"notes.md": {{9}}})
	assert.NotEqual(t, "notes.md", resolved)
	assert.Contains(t, resolved, "renamed-")
	assert.Contains(t, resolved, ".md")
}

func TestMergeNameCollisionWithBothSelfAndOtherHoldingName(t *testing.T) {
	// The transient state mergeOne actually produces: local renamed f to a
	// name a third sibling already holds, so the index carries both ids
	// under that one key.
	f := &store.FileMetadata{ID: [16]byte{1}, Name: "notes.md"}
	resolved := mergeName(f, map[string][][16]byte{"notes.md": {{1}, {3}}})
	assert.NotEqual(t, "notes.md", resolved)
	assert.Contains(t, resolved, "renamed-")
}

func TestMergeDeletionWinsEitherSide(t *testing.T) {
	assert.True(t, mergeDeletion(true, false))
	assert.True(t, mergeDeletion(false, true))
	assert.False(t, mergeDeletion(false, false))
}

func TestThreeWayMergeTextNoConflict(t *testing.T) {
	ancestor := []byte("a\nb\nc")
	local := []byte("a\nB\nc")
	remote := []byte("a\nb\nC")

	merged, conflict := threeWayMergeText(ancestor, local, remote)
	assert.False(t, conflict)
	assert.Equal(t, "a\nB\nC", string(merged))
}

func TestThreeWayMergeTextConflictPrefersLocal(t *testing.T) {
	ancestor := []byte("a")
	local := []byte("local-change")
	remote := []byte("remote-change")

	merged, conflict := threeWayMergeText(ancestor, local, remote)
	assert.True(t, conflict)
	assert.Equal(t, "local-change", string(merged))
}

func TestIsTextDocument(t *testing.T) {
	assert.True(t, isTextDocument("notes.md"))
	assert.True(t, isTextDocument("README.TXT"))
	assert.False(t, isTextDocument("photo.png"))
}

func TestConflictSiblingName(t *testing.T) {
	assert.Equal(t, "photo.png.conflict-123", conflictSiblingName("photo.png", 123))
}
