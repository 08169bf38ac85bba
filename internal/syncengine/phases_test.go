package syncengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/core/internal/crypto"
	"github.com/vaultsync/core/internal/store"
)

// TestMergeRenameCollisionResolvesTransitivelyAgainstThirdSibling covers
// open question 11(a): local and remote independently rename the same file
// to the identical name, which also happens to collide with an unrelated,
// untouched third sibling already using that name. The result must still be
// disambiguated against that third sibling, not just against the discarded
// remote name.
func TestMergeRenameCollisionResolvesTransitivelyAgainstThirdSibling(t *testing.T) {
	e, st := newTestEngine(t, nil)

	kp, err := crypto.GenerateAccountKeypair()
	require.NoError(t, err)

	root := &store.FileMetadata{ID: [16]byte{1}, Parent: [16]byte{1}, Name: "root", FileType: store.FileTypeFolder}
	require.NoError(t, st.Put(root))

	renamed := &store.FileMetadata{
		ID:                    [16]byte{2},
		Parent:                [16]byte{1},
		Name:                  "notes.md", // already renamed locally from "report.md"
		FileType:              store.FileTypeDocument,
		MetadataEditedLocally: true,
		MetadataVersion:       1,
		BaseParent:            [16]byte{1},
		BaseName:              "report.md",
	}
	require.NoError(t, st.Put(renamed))

	thirdSibling := &store.FileMetadata{
		ID:              [16]byte{3},
		Parent:          [16]byte{1},
		Name:            "notes.md", // pre-existing, untouched by this sync
		FileType:        store.FileTypeDocument,
		MetadataVersion: 1,
		BaseParent:      [16]byte{1},
		BaseName:        "notes.md",
	}
	require.NoError(t, st.Put(thirdSibling))

	// The server independently renamed the same file to the same name.
	srv := &store.FileMetadata{
		ID:              [16]byte{2},
		Parent:          [16]byte{1},
		Name:            "notes.md",
		FileType:        store.FileTypeDocument,
		MetadataVersion: 2,
	}

	local := []*store.FileMetadata{root, renamed, thirdSibling}
	serverUpdates := map[[16]byte]*store.FileMetadata{{2}: srv}

	conflicts, err := e.merge(local, serverUpdates, nil, kp.Private)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "name", conflicts[0].Field)

	got, err := st.Get([16]byte{2})
	require.NoError(t, err)
	assert.NotEqual(t, "notes.md", got.Name, "must disambiguate against the pre-existing third sibling")
	assert.Contains(t, got.Name, "renamed-")

	unchanged, err := st.Get([16]byte{3})
	require.NoError(t, err)
	assert.Equal(t, "notes.md", unchanged.Name, "the untouched third sibling keeps its name")
}

// TestMergeRenameNoCollisionKeepsLocalName guards against the opposite
// failure mode: a lone local rename must not be treated as colliding with
// itself merely because it's the only file holding that name.
func TestMergeRenameNoCollisionKeepsLocalName(t *testing.T) {
	e, st := newTestEngine(t, nil)

	kp, err := crypto.GenerateAccountKeypair()
	require.NoError(t, err)

	root := &store.FileMetadata{ID: [16]byte{1}, Parent: [16]byte{1}, Name: "root", FileType: store.FileTypeFolder}
	require.NoError(t, st.Put(root))

	renamed := &store.FileMetadata{
		ID:                    [16]byte{2},
		Parent:                [16]byte{1},
		Name:                  "notes.md",
		FileType:              store.FileTypeDocument,
		MetadataEditedLocally: true,
		MetadataVersion:       1,
		BaseParent:            [16]byte{1},
		BaseName:              "report.md",
	}
	require.NoError(t, st.Put(renamed))

	srv := &store.FileMetadata{
		ID:              [16]byte{2},
		Parent:          [16]byte{1},
		Name:            "report.md", // server hasn't seen the rename yet
		FileType:        store.FileTypeDocument,
		MetadataVersion: 2,
	}

	local := []*store.FileMetadata{root, renamed}
	serverUpdates := map[[16]byte]*store.FileMetadata{{2}: srv}

	conflicts, err := e.merge(local, serverUpdates, nil, kp.Private)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	got, err := st.Get([16]byte{2})
	require.NoError(t, err)
	assert.Equal(t, "notes.md", got.Name)
}
