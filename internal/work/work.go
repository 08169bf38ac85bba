// Package work diffs local store state against the server's view of files
// changed since the last-synced watermark, producing an ordered sequence of
// WorkUnits — the closed set of reconciliation steps the sync engine
// executes in Phase C.
package work

import (
	"sort"

	"github.com/vaultsync/core/internal/store"
)

// Kind is one member of the WorkUnit closed set.
type Kind int

// WorkUnit kinds.
const (
	Nop Kind = iota
	PushNewFile
	UpdateLocalMetadata
	PullFileContent
	DeleteLocally
	PushMetadata
	PushFileContent
	PushDelete
	PullMergePush
	MergeMetadataAndPushMetadata
)

func (k Kind) String() string {
	switch k {
	case Nop:
		return "Nop"
	case PushNewFile:
		return "PushNewFile"
	case UpdateLocalMetadata:
		return "UpdateLocalMetadata"
	case PullFileContent:
		return "PullFileContent"
	case DeleteLocally:
		return "DeleteLocally"
	case PushMetadata:
		return "PushMetadata"
	case PushFileContent:
		return "PushFileContent"
	case PushDelete:
		return "PushDelete"
	case PullMergePush:
		return "PullMergePush"
	case MergeMetadataAndPushMetadata:
		return "MergeMetadataAndPushMetadata"
	default:
		return "Unknown"
	}
}

// WorkUnit is one atomic reconciliation step between local and server state.
type WorkUnit struct {
	Kind   Kind
	ID     [16]byte
	Local  *store.FileMetadata // local view, if present
	Server *store.FileMetadata // server's pushed view, if present (nil for purely-local units)
}

// priority implements the ordering rule: new files first, then content,
// then metadata, deletions last. Lower values sort first. Units of equal
// priority keep their input order; a new folder is not ordered before its
// new children.
func (u WorkUnit) priority() int {
	switch u.Kind {
	case PushNewFile:
		return 0
	case PushFileContent, PullMergePush, PullFileContent:
		return 1
	case UpdateLocalMetadata, PushMetadata, MergeMetadataAndPushMetadata:
		return 2
	case DeleteLocally, PushDelete:
		return 3
	case Nop:
		return 4
	default:
		return 4
	}
}

// Calculate computes the ordered WorkUnit sequence for one sync pass. local
// is every file currently in the store (dirty or clean); serverUpdates is
// the server's view for every file whose metadata_version exceeds the
// watermark, keyed by id (as returned by rpc.Client.GetUpdates).
// Calculate assumes Phase A has already merged newly-seen server files into
// the local store (with NewLocally left false), so every server update has
// a local counterpart to pair against here.
func Calculate(local []*store.FileMetadata, serverUpdates map[[16]byte]*store.FileMetadata) []WorkUnit {
	var units []WorkUnit

	for _, f := range local {
		units = append(units, unitForFile(f, serverUpdates[f.ID]))
	}

	sort.SliceStable(units, func(i, j int) bool {
		return units[i].priority() < units[j].priority()
	})

	return units
}

// unitForFile classifies one local file against its server counterpart, if
// any. serverUpdates only carries entries for files the server has changed
// since the watermark — a missing entry means "server unchanged", not
// "nothing to do": a dirty local file with no server counterpart still has
// to be pushed, so every *EditedLocally/DeletedLocally/NewLocally case is
// checked before falling back to the srv-less Nop/clean-vs-server cases.
func unitForFile(f *store.FileMetadata, srv *store.FileMetadata) WorkUnit {
	switch {
	case f.NewLocally:
		return WorkUnit{Kind: PushNewFile, ID: f.ID, Local: f}

	case f.DeletedLocally:
		if srv != nil && srv.Deleted {
			return WorkUnit{Kind: Nop, ID: f.ID, Local: f, Server: srv}
		}

		return WorkUnit{Kind: PushDelete, ID: f.ID, Local: f, Server: srv}

	case srv != nil && srv.Deleted:
		return WorkUnit{Kind: DeleteLocally, ID: f.ID, Local: f, Server: srv}

	case f.ContentEditedLocally && f.MetadataEditedLocally:
		return WorkUnit{Kind: PullMergePush, ID: f.ID, Local: f, Server: srv}

	case f.ContentEditedLocally:
		return WorkUnit{Kind: mergeOrPushContent(f, srv), ID: f.ID, Local: f, Server: srv}

	case f.MetadataEditedLocally:
		return WorkUnit{Kind: mergeOrPushMetadata(f, srv), ID: f.ID, Local: f, Server: srv}

	case srv == nil:
		return WorkUnit{Kind: Nop, ID: f.ID, Local: f}

	default:
		// Local is clean on both axes; server has a newer view.
		if srv.ContentVersion > f.ContentVersion {
			return WorkUnit{Kind: PullFileContent, ID: f.ID, Local: f, Server: srv}
		}

		return WorkUnit{Kind: UpdateLocalMetadata, ID: f.ID, Local: f, Server: srv}
	}
}

func mergeOrPushContent(f, srv *store.FileMetadata) Kind {
	if srv != nil && srv.ContentVersion > f.ContentVersion {
		return PullMergePush
	}

	return PushFileContent
}

func mergeOrPushMetadata(f, srv *store.FileMetadata) Kind {
	if srv != nil && srv.MetadataVersion > f.MetadataVersion {
		return MergeMetadataAndPushMetadata
	}

	return PushMetadata
}
