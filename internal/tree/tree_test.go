package tree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/core/internal/store"
)

func buildSimpleTree() []*store.FileMetadata {
	root := &store.FileMetadata{ID: [16]byte{1}, Parent: [16]byte{1}, Name: "root", FileType: store.FileTypeFolder}
	a := &store.FileMetadata{ID: [16]byte{2}, Parent: [16]byte{1}, Name: "a", FileType: store.FileTypeFolder}
	b := &store.FileMetadata{ID: [16]byte{3}, Parent: [16]byte{1}, Name: "b", FileType: store.FileTypeFolder}
	notes := &store.FileMetadata{ID: [16]byte{4}, Parent: [16]byte{2}, Name: "notes.md", FileType: store.FileTypeDocument}

	return []*store.FileMetadata{root, a, b, notes}
}

func TestBuildAndRoot(t *testing.T) {
	tr := Build(buildSimpleTree())

	root, err := tr.Root()
	require.NoError(t, err)
	assert.Equal(t, [16]byte{1}, root.ID)
}

func TestChildrenAndDescendants(t *testing.T) {
	tr := Build(buildSimpleTree())

	children := tr.Children([16]byte{1})
	assert.Len(t, children, 2)

	desc := tr.Descendants([16]byte{1})
	assert.Len(t, desc, 3)
}

func TestFindByPathAndToPath(t *testing.T) {
	tr := Build(buildSimpleTree())

	id, err := tr.FindByPath("/a/notes.md")
	require.NoError(t, err)
	assert.Equal(t, [16]byte{4}, id)

	path, err := tr.ToPath(id)
	require.NoError(t, err)
	assert.Equal(t, "/a/notes.md", path)

	folderPath, err := tr.ToPath([16]byte{2})
	require.NoError(t, err)
	assert.Equal(t, "/a/", folderPath)
}

func TestFindByPathRejectsEmptySegment(t *testing.T) {
	tr := Build(buildSimpleTree())

	_, err := tr.FindByPath("/a//notes.md")
	require.Error(t, err)
}

func TestValidateDetectsCycle(t *testing.T) {
	files := buildSimpleTree()
	// Introduce a cycle: a's parent becomes notes (a descendant of a).
	files[1].Parent = [16]byte{4}

	tr := Build(files)
	err := tr.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycle))
}

func TestValidateDetectsDuplicateSibling(t *testing.T) {
	files := buildSimpleTree()
	files[2].Name = "a" // collides with files[1] under the same parent

	tr := Build(files)
	err := tr.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateSibling))
}

func TestValidateIgnoresDeletedSiblingCollision(t *testing.T) {
	files := buildSimpleTree()
	files[2].Name = "a"
	files[2].Deleted = true

	tr := Build(files)
	require.NoError(t, tr.Validate())
}

func TestValidateNoRoot(t *testing.T) {
	files := buildSimpleTree()[1:] // drop root
	tr := Build(files)

	err := tr.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoRoot))
}

func TestIsDeletedByAncestor(t *testing.T) {
	files := buildSimpleTree()
	files[1].Deleted = true // folder "a" is deleted

	tr := Build(files)
	assert.True(t, tr.IsDeletedByAncestor([16]byte{4})) // notes.md under a
	assert.False(t, tr.IsDeletedByAncestor([16]byte{3})) // b is unaffected
}
