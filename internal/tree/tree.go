// Package tree builds an in-memory overlay of the merged file tree from the
// local store's flat, id-keyed files. Per the store's design, ownership of
// file data lives in internal/store; Tree only computes derived structure
// (parent pointers already exist on each FileMetadata; Tree adds the
// transient children index) and validates the tree's structural invariants.
package tree

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/vaultsync/core/internal/store"
)

// Sentinel errors describing a structural violation, returned by Validate.
var (
	ErrNoRoot          = errors.New("tree: no root file")
	ErrMultipleRoots    = errors.New("tree: multiple root files")
	ErrCycle            = errors.New("tree: cycle in parent relation")
	ErrDuplicateSibling = errors.New("tree: duplicate sibling name")
	ErrOrphan           = errors.New("tree: file has no resolvable parent")
)

// Tree is a computed overlay over a flat set of FileMetadata: a children
// index built by a single scan, kept only as long as the caller holds this
// Tree value. It is never persisted — the Design Note's "cyclic
// references... flat maps plus a parent id field" representation lives in
// the store; Tree is the engine's transient view over it.
type Tree struct {
	byID     map[[16]byte]*store.FileMetadata
	children map[[16]byte][][16]byte
	rootID   [16]byte
	hasRoot  bool
}

// Build constructs a Tree from a flat slice of files (typically Store.All()).
func Build(files []*store.FileMetadata) *Tree {
	t := &Tree{
		byID:     make(map[[16]byte]*store.FileMetadata, len(files)),
		children: make(map[[16]byte][][16]byte, len(files)),
	}

	for _, f := range files {
		t.byID[f.ID] = f
	}

	for _, f := range files {
		if f.ID == f.Parent {
			t.rootID = f.ID
			t.hasRoot = true

			continue
		}

		t.children[f.Parent] = append(t.children[f.Parent], f.ID)
	}

	return t
}

// Get returns the file with the given id, or nil if absent.
func (t *Tree) Get(id [16]byte) *store.FileMetadata {
	return t.byID[id]
}

// Root returns the tree's root file, or an error if none was found.
func (t *Tree) Root() (*store.FileMetadata, error) {
	if !t.hasRoot {
		return nil, ErrNoRoot
	}

	return t.byID[t.rootID], nil
}

// Children returns the direct children of parentID.
func (t *Tree) Children(parentID [16]byte) []*store.FileMetadata {
	ids := t.children[parentID]
	out := make([]*store.FileMetadata, 0, len(ids))

	for _, id := range ids {
		out = append(out, t.byID[id])
	}

	return out
}

// Ancestors returns the chain of ancestors of id, nearest first, not
// including id itself, and not including the root's self-loop.
func (t *Tree) Ancestors(id [16]byte) ([]*store.FileMetadata, error) {
	var out []*store.FileMetadata

	cur := id
	seen := map[[16]byte]bool{id: true}

	for {
		f := t.byID[cur]
		if f == nil {
			return nil, fmt.Errorf("%w: %x", ErrOrphan, cur)
		}

		if f.ID == f.Parent {
			return out, nil
		}

		if seen[f.Parent] {
			return nil, fmt.Errorf("%w: at %x", ErrCycle, f.Parent)
		}

		seen[f.Parent] = true
		parent := t.byID[f.Parent]

		if parent == nil {
			return nil, fmt.Errorf("%w: %x", ErrOrphan, f.Parent)
		}

		out = append(out, parent)
		cur = f.Parent
	}
}

// Descendants returns every file transitively rooted at id (not including
// id itself), in breadth-first order.
func (t *Tree) Descendants(id [16]byte) []*store.FileMetadata {
	var out []*store.FileMetadata

	queue := append([][16]byte{}, t.children[id]...)

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		f := t.byID[cur]
		if f == nil {
			continue
		}

		out = append(out, f)
		queue = append(queue, t.children[cur]...)
	}

	return out
}

// NormalizeName applies Unicode NFC normalization to a path segment so that
// visually identical names from different devices compare equal.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

// FindByPath resolves a "/"-separated path to a file id. A trailing "/"
// indicates the target must be a folder. Empty segments (e.g. "//") are
// rejected.
func (t *Tree) FindByPath(path string) ([16]byte, error) {
	root, err := t.Root()
	if err != nil {
		return [16]byte{}, err
	}

	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return root.ID, nil
	}

	segments := strings.Split(trimmed, "/")
	cur := root.ID

	for _, seg := range segments {
		if seg == "" {
			return [16]byte{}, fmt.Errorf("tree: empty path segment in %q", path)
		}

		seg = NormalizeName(seg)

		var next [16]byte

		found := false

		for _, c := range t.Children(cur) {
			if NormalizeName(c.Name) == seg {
				next = c.ID
				found = true

				break
			}
		}

		if !found {
			return [16]byte{}, fmt.Errorf("tree: path segment %q not found", seg)
		}

		cur = next
	}

	if strings.HasSuffix(path, "/") {
		if f := t.byID[cur]; f == nil || f.FileType != store.FileTypeFolder {
			return [16]byte{}, fmt.Errorf("tree: %q is not a folder", path)
		}
	}

	return cur, nil
}

// ToPath renders the "/"-separated path from the root to id. Folders are
// suffixed with a trailing "/".
func (t *Tree) ToPath(id [16]byte) (string, error) {
	f := t.byID[id]
	if f == nil {
		return "", fmt.Errorf("%w: %x", ErrOrphan, id)
	}

	ancestors, err := t.Ancestors(id)
	if err != nil {
		return "", err
	}

	segments := make([]string, 0, len(ancestors))
	for i := len(ancestors) - 1; i >= 0; i-- {
		segments = append(segments, ancestors[i].Name)
	}

	if f.ID != f.Parent {
		segments = append(segments, f.Name)
	}

	path := "/" + strings.Join(segments, "/")
	if f.FileType == store.FileTypeFolder && path != "/" {
		path += "/"
	}

	return path, nil
}

// Validate checks the merged tree for a single root, resolvable parents, no
// cycles and unique sibling names, and returns the first violation found, or
// nil if none is found. Deletion by a deleted ancestor is not checked here;
// IsDeletedByAncestor answers that per file.
func (t *Tree) Validate() error {
	if err := t.validateRoot(); err != nil {
		return err
	}

	if err := t.validateAcyclic(); err != nil {
		return err
	}

	return t.validateUniqueSiblings()
}

func (t *Tree) validateRoot() error {
	rootCount := 0

	for _, f := range t.byID {
		if f.ID == f.Parent {
			rootCount++
		}
	}

	switch rootCount {
	case 0:
		return ErrNoRoot
	case 1:
		return nil
	default:
		return ErrMultipleRoots
	}
}

func (t *Tree) validateAcyclic() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)

	state := make(map[[16]byte]int, len(t.byID))

	var visit func(id [16]byte) error

	visit = func(id [16]byte) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: at %x", ErrCycle, id)
		}

		state[id] = visiting

		f := t.byID[id]
		if f == nil {
			return fmt.Errorf("%w: %x", ErrOrphan, id)
		}

		if f.ID != f.Parent {
			if err := visit(f.Parent); err != nil {
				return err
			}
		}

		state[id] = done

		return nil
	}

	for id := range t.byID {
		if err := visit(id); err != nil {
			return err
		}
	}

	return nil
}

func (t *Tree) validateUniqueSiblings() error {
	for parent, childIDs := range t.children {
		seen := make(map[string]bool, len(childIDs))

		for _, id := range childIDs {
			f := t.byID[id]
			if f == nil || f.Deleted {
				continue
			}

			name := NormalizeName(f.Name)
			if seen[name] {
				return fmt.Errorf("%w: %q under parent %x", ErrDuplicateSibling, f.Name, parent)
			}

			seen[name] = true
		}
	}

	return nil
}

// IsDeletedByAncestor reports whether id's nearest non-root ancestor (or id
// itself) is marked Deleted, per invariant 4: such files are considered
// deleted by access even before they are individually tombstoned.
func (t *Tree) IsDeletedByAncestor(id [16]byte) bool {
	f := t.byID[id]
	if f == nil {
		return true
	}

	if f.Deleted {
		return true
	}

	ancestors, err := t.Ancestors(id)
	if err != nil {
		return false
	}

	for _, a := range ancestors {
		if a.ID == a.Parent {
			continue // root is never considered deleted by this check
		}

		if a.Deleted {
			return true
		}
	}

	return false
}
