package syncengine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vaultsync/core/internal/store"
	"github.com/vaultsync/core/internal/tree"
)

// Conflict records one per-field merge decision surfaced to the user. Never
// silently dropped: every Conflict produced during a sync is returned in the
// Report.
type Conflict struct {
	ID    [16]byte
	Field string // "name", "parent", "content", "deletion"
	Note  string
}

// mergeName resolves a simultaneous rename: local wins, then the result is
// disambiguated against its siblings until unique. siblingNames maps a
// normalized name to every file id currently holding it — local's own entry
// under its own (possibly about-to-change) name must not count as a
// collision against itself, even while it transiently shares that name with
// exactly one other file (the one it's colliding with).
func mergeName(local *store.FileMetadata, siblingNames map[string][][16]byte) string {
	name := local.Name

	if !collidesWithOther(siblingNames, name, local.ID) {
		return name
	}

	base := name
	ext := ""

	if dot := strings.LastIndex(name, "."); dot > 0 {
		base, ext = name[:dot], name[dot:]
	}

	for {
		candidate := fmt.Sprintf("%s (renamed-%s)%s", base, shortID(), ext)
		if !collidesWithOther(siblingNames, candidate, local.ID) {
			return candidate
		}
	}
}

func collidesWithOther(siblingNames map[string][][16]byte, name string, selfID [16]byte) bool {
	for _, id := range siblingNames[tree.NormalizeName(name)] {
		if id != selfID {
			return true
		}
	}

	return false
}

func shortID() string {
	return uuid.New().String()[:8]
}

// mergeDeletion applies the deletion-wins rule: if either side deleted the
// file, the merged result is deleted.
func mergeDeletion(localDeleted, serverDeleted bool) bool {
	return localDeleted || serverDeleted
}

// threeWayMergeText performs a naive line-based three-way merge of UTF-8 text
// documents: lines changed on only one side are taken from that side; lines
// changed on both sides are taken from local, with the server's version
// noted as a conflict for the caller to preserve as a sibling.
func threeWayMergeText(ancestor, local, remote []byte) (merged []byte, hadConflict bool) {
	aLines := strings.Split(string(ancestor), "\n")
	lLines := strings.Split(string(local), "\n")
	rLines := strings.Split(string(remote), "\n")

	if len(aLines) != len(lLines) || len(aLines) != len(rLines) {
		// Line counts diverged — structural change on at least one side;
		// fall back to local-wins with the remote flagged as a conflict.
		return local, !bytesEqual(local, remote)
	}

	out := make([]string, len(aLines))

	for i := range aLines {
		lChanged := lLines[i] != aLines[i]
		rChanged := rLines[i] != aLines[i]

		switch {
		case lChanged && rChanged:
			out[i] = lLines[i]
			hadConflict = true
		case lChanged:
			out[i] = lLines[i]
		case rChanged:
			out[i] = rLines[i]
		default:
			out[i] = aLines[i]
		}
	}

	return []byte(strings.Join(out, "\n")), hadConflict
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// isTextDocument reports whether a document's content should be treated as
// UTF-8 text for three-way merge, vs. a binary document that is simply
// overwritten by the local version with the server's preserved as a sibling.
func isTextDocument(name string) bool {
	textExts := []string{".md", ".txt", ".json", ".yaml", ".yml", ".toml", ".csv", ".go", ".rs", ".py", ".js", ".ts"}
	lower := strings.ToLower(name)

	for _, ext := range textExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	return false
}

// conflictSiblingName builds the "name.conflict-<ts>" sibling name used when
// a binary document's server version must be preserved instead of merged.
func conflictSiblingName(name string, unixTS int64) string {
	return fmt.Sprintf("%s.conflict-%d", name, unixTS)
}
