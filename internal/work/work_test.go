package work

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/core/internal/store"
)

func TestCalculateNewLocalFile(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, NewLocally: true}

	units := Calculate([]*store.FileMetadata{f}, nil)
	require.Len(t, units, 1)
	assert.Equal(t, PushNewFile, units[0].Kind)
}

func TestCalculateServerDeletesClean(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, MetadataVersion: 1}
	srv := &store.FileMetadata{ID: [16]byte{1}, Deleted: true, MetadataVersion: 2}

	units := Calculate([]*store.FileMetadata{f}, map[[16]byte]*store.FileMetadata{f.ID: srv})
	require.Len(t, units, 1)
	assert.Equal(t, DeleteLocally, units[0].Kind)
}

func TestCalculateLocalDeletePending(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, DeletedLocally: true}
	srv := &store.FileMetadata{ID: [16]byte{1}}

	units := Calculate([]*store.FileMetadata{f}, map[[16]byte]*store.FileMetadata{f.ID: srv})
	require.Len(t, units, 1)
	assert.Equal(t, PushDelete, units[0].Kind)
}

func TestCalculateBothDeletedIsNop(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, DeletedLocally: true}
	srv := &store.FileMetadata{ID: [16]byte{1}, Deleted: true}

	units := Calculate([]*store.FileMetadata{f}, map[[16]byte]*store.FileMetadata{f.ID: srv})
	require.Len(t, units, 1)
	assert.Equal(t, Nop, units[0].Kind)
}

func TestCalculateServerNewerMetadataClean(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, MetadataVersion: 1, ContentVersion: 1}
	srv := &store.FileMetadata{ID: [16]byte{1}, MetadataVersion: 2, ContentVersion: 1}

	units := Calculate([]*store.FileMetadata{f}, map[[16]byte]*store.FileMetadata{f.ID: srv})
	require.Len(t, units, 1)
	assert.Equal(t, UpdateLocalMetadata, units[0].Kind)
}

func TestCalculateServerNewerContentClean(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, MetadataVersion: 1, ContentVersion: 1}
	srv := &store.FileMetadata{ID: [16]byte{1}, MetadataVersion: 1, ContentVersion: 2}

	units := Calculate([]*store.FileMetadata{f}, map[[16]byte]*store.FileMetadata{f.ID: srv})
	require.Len(t, units, 1)
	assert.Equal(t, PullFileContent, units[0].Kind)
}

func TestCalculateLocalContentDirtyServerUnchanged(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, ContentEditedLocally: true, ContentVersion: 1}
	srv := &store.FileMetadata{ID: [16]byte{1}, ContentVersion: 1}

	units := Calculate([]*store.FileMetadata{f}, map[[16]byte]*store.FileMetadata{f.ID: srv})
	require.Len(t, units, 1)
	assert.Equal(t, PushFileContent, units[0].Kind)
}

func TestCalculateBothContentChanged(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, ContentEditedLocally: true, ContentVersion: 1}
	srv := &store.FileMetadata{ID: [16]byte{1}, ContentVersion: 2}

	units := Calculate([]*store.FileMetadata{f}, map[[16]byte]*store.FileMetadata{f.ID: srv})
	require.Len(t, units, 1)
	assert.Equal(t, PullMergePush, units[0].Kind)
}

func TestCalculateBothMetadataChanged(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, MetadataEditedLocally: true, MetadataVersion: 1}
	srv := &store.FileMetadata{ID: [16]byte{1}, MetadataVersion: 2}

	units := Calculate([]*store.FileMetadata{f}, map[[16]byte]*store.FileMetadata{f.ID: srv})
	require.Len(t, units, 1)
	assert.Equal(t, MergeMetadataAndPushMetadata, units[0].Kind)
}

func TestCalculateOrderingDeletionsLast(t *testing.T) {
	newFile := &store.FileMetadata{ID: [16]byte{1}, NewLocally: true}
	del := &store.FileMetadata{ID: [16]byte{2}, DeletedLocally: true}
	srv := &store.FileMetadata{ID: [16]byte{2}}

	units := Calculate([]*store.FileMetadata{del, newFile}, map[[16]byte]*store.FileMetadata{del.ID: srv})
	require.Len(t, units, 2)
	assert.Equal(t, PushNewFile, units[0].Kind)
	assert.Equal(t, PushDelete, units[1].Kind)
}

func TestCalculateNoServerUpdateIsNop(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, MetadataVersion: 1}

	units := Calculate([]*store.FileMetadata{f}, nil)
	require.Len(t, units, 1)
	assert.Equal(t, Nop, units[0].Kind)
}

// TestCalculateLocalContentDirtyNoServerDelta covers the shape the real
// engine actually produces: serverUpdates is the raw pull delta, so a file
// the server hasn't touched since the watermark simply has no entry at all
// — it is not handed a synthetic srv the way the other tests do. A lone
// local content edit with no concurrent server change must still push.
func TestCalculateLocalContentDirtyNoServerDelta(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, ContentEditedLocally: true, ContentVersion: 1}

	units := Calculate([]*store.FileMetadata{f}, map[[16]byte]*store.FileMetadata{})
	require.Len(t, units, 1)
	assert.Equal(t, PushFileContent, units[0].Kind)
}

// TestCalculateLocalMetadataDirtyNoServerDelta is the move/rename analogue:
// a purely local move with nothing in the pull delta must push, not Nop.
func TestCalculateLocalMetadataDirtyNoServerDelta(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, MetadataEditedLocally: true, MetadataVersion: 1}

	units := Calculate([]*store.FileMetadata{f}, map[[16]byte]*store.FileMetadata{})
	require.Len(t, units, 1)
	assert.Equal(t, PushMetadata, units[0].Kind)
}

// TestCalculateLocalDeletePendingNoServerDelta: a pending local delete with
// no server counterpart in the delta must still push the delete.
func TestCalculateLocalDeletePendingNoServerDelta(t *testing.T) {
	f := &store.FileMetadata{ID: [16]byte{1}, DeletedLocally: true}

	units := Calculate([]*store.FileMetadata{f}, map[[16]byte]*store.FileMetadata{})
	require.Len(t, units, 1)
	assert.Equal(t, PushDelete, units[0].Kind)
}
