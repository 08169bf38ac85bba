package syncengine

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vaultsync/core/internal/store"
	"github.com/vaultsync/core/internal/tree"
	"github.com/vaultsync/core/internal/work"
)

// pull fetches server updates since watermark and applies Phase A's rules:
// insert new files, ignore deleted files we never had, overwrite clean local
// copies, and record a conflict (without overwriting) for dirty ones. It also
// returns remoteMoves: clean local files the server moved to a new parent
// this pass, which must still enter Phase B's cycle-detection graph even
// though they never touch mergeOne (mergeOne only runs over locally-dirty
// files).
//
// A server-sourced record owned by username is signature-checked the moment
// it is first seen — that's the one point a record carries exactly the
// signature its owner produced at creation. Move/rename/delete never resend
// a fresh signature over the wire (internal/rpc's mutateMetadata sends only
// id/version/new-value, not a resigned record), so a record already known
// locally cannot be re-verified without producing false positives on every
// ordinary rename; it is applied as-is, same as a record owned by someone
// else, for whom there is no mechanism here to fetch a public key at all.
func (e *Engine) pull(ctx context.Context, username string, priv *rsa.PrivateKey, watermark uint64, report *Report) (map[[16]byte]*store.FileMetadata, map[[16]byte]move, error) {
	updates, err := e.rpc.GetUpdates(ctx, username, priv, watermark)
	if err != nil {
		return nil, nil, fmt.Errorf("syncengine: pulling updates: %w", err)
	}

	byID := make(map[[16]byte]*store.FileMetadata, len(updates))
	remoteMoves := make(map[[16]byte]move)

	for _, srv := range updates {
		local, getErr := e.store.Get(srv.ID)

		switch {
		case errors.Is(getErr, store.ErrNotFound):
			if srv.Owner == username {
				if verr := srv.Verify(&priv.PublicKey); verr != nil {
					e.logger.Error("syncengine: rejecting server metadata with invalid signature",
						slog.String("file_id", fmt.Sprintf("%x", srv.ID)), slog.Any("err", verr))

					if qerr := e.store.PutQuarantine(srv, verr.Error()); qerr != nil {
						return nil, nil, fmt.Errorf("syncengine: quarantining %x: %w", srv.ID, qerr)
					}

					report.Quarantined++

					continue
				}
			}

			byID[srv.ID] = srv

			if srv.Deleted {
				continue // never had it, and it's gone: nothing to do
			}

			merged := *srv
			merged.BaseParent = srv.Parent
			merged.BaseName = srv.Name

			if err := e.store.Put(&merged); err != nil {
				return nil, nil, fmt.Errorf("syncengine: inserting pulled file %x: %w", srv.ID, err)
			}

			report.Pulled++

		case getErr != nil:
			return nil, nil, fmt.Errorf("syncengine: loading local file %x: %w", srv.ID, getErr)

		case !local.IsDirty():
			byID[srv.ID] = srv

			if local.Parent != srv.Parent {
				remoteMoves[srv.ID] = move{
					id:        srv.ID,
					localMove: false,
					timestamp: time.Now().Unix(),
					revertTo:  local.BaseParent,
				}
			}

			merged := *srv
			merged.BaseParent = srv.Parent
			merged.BaseName = srv.Name

			if err := e.store.Put(&merged); err != nil {
				return nil, nil, fmt.Errorf("syncengine: overwriting local file %x: %w", srv.ID, err)
			}

			report.Pulled++

		default:
			// Dirty locally: leave local state untouched here. The conflict
			// is resolved per-field in Phase B against this same srv value.
			byID[srv.ID] = srv
		}
	}

	return byID, remoteMoves, nil
}

// merge implements Phase B: for every dirty local file, resolve each changed
// field per the spec's per-field rules (against the file's matching server
// delta entry when one exists, or against its own BaseParent/BaseName
// otherwise — serverUpdates only covers files the server changed since the
// watermark, not every file that needs reconciling), stage the result back
// into the store, then run cycle resolution over every move accepted this
// pass — local or remote.
func (e *Engine) merge(local []*store.FileMetadata, serverUpdates map[[16]byte]*store.FileMetadata, remoteMoves map[[16]byte]move, priv *rsa.PrivateKey) ([]Conflict, error) {
	var conflicts []Conflict

	changedParents := make(map[[16]byte][16]byte)
	moveInfo := make(map[[16]byte]move)

	for id, m := range remoteMoves {
		changedParents[id] = serverUpdates[id].Parent
		moveInfo[id] = m
	}

	siblingNames := e.siblingNameIndex(local)

	for _, f := range local {
		if !f.IsDirty() {
			continue
		}

		srv := serverUpdates[f.ID]

		fieldConflicts := e.mergeOne(f, srv, siblingNames, changedParents, moveInfo)
		conflicts = append(conflicts, fieldConflicts...)

		if srv != nil {
			if err := f.Sign(priv); err != nil {
				return nil, fmt.Errorf("syncengine: re-signing merged file %x: %w", f.ID, err)
			}
		}

		if err := e.store.Put(f); err != nil {
			return nil, fmt.Errorf("syncengine: staging merged file %x: %w", f.ID, err)
		}
	}

	reverted := resolveCycles(changedParents, moveInfo)

	for id := range reverted {
		f, err := e.store.Get(id)
		if err != nil {
			return nil, fmt.Errorf("syncengine: loading file %x for cycle revert: %w", id, err)
		}

		f.Parent = moveInfo[id].revertTo
		f.MetadataEditedLocally = true

		if err := f.Sign(priv); err != nil {
			return nil, fmt.Errorf("syncengine: re-signing reverted file %x: %w", id, err)
		}

		if err := e.store.Put(f); err != nil {
			return nil, fmt.Errorf("syncengine: reverting move for %x: %w", id, err)
		}

		conflicts = append(conflicts, Conflict{ID: id, Field: "parent", Note: "move reverted to break a cycle"})
	}

	return conflicts, nil
}

// mergeOne resolves every changed field for one dirty local file, mutating f
// in place to the staged result, and records any accepted parent change for
// later cycle resolution. srv is nil when the server hasn't changed this
// file since the watermark — in that case there is nothing to reconcile
// against, f's own intent simply stands, but a move still has to be
// registered so it can be caught in a cycle with some other file's move.
func (e *Engine) mergeOne(f, srv *store.FileMetadata, siblingNames map[[16]byte]map[string][][16]byte, changedParents map[[16]byte][16]byte, moveInfo map[[16]byte]move) []Conflict {
	if srv == nil {
		if f.MetadataEditedLocally && f.Parent != f.BaseParent {
			changedParents[f.ID] = f.Parent
			moveInfo[f.ID] = move{id: f.ID, localMove: true, timestamp: time.Now().Unix(), revertTo: f.BaseParent}
		}

		return nil
	}

	var conflicts []Conflict

	deleted := mergeDeletion(f.DeletedLocally || f.Deleted, srv.Deleted)
	if deleted {
		f.Deleted = true
		f.DeletedLocally = false
		conflicts = append(conflicts, Conflict{ID: f.ID, Field: "deletion", Note: "deletion wins"})

		return conflicts
	}

	if f.MetadataEditedLocally {
		// Local wins whether or not srv renamed too (f.Name already holds
		// the local intent either way), then the result is re-checked
		// against every current sibling under the target parent — a
		// pre-existing third file with that name is just as much a
		// collision as the discarded remote name would have been.
		names := siblingNames[srv.Parent]
		resolved := mergeName(f, names)

		if resolved != f.Name {
			conflicts = append(conflicts, Conflict{ID: f.ID, Field: "name", Note: fmt.Sprintf("renamed to %q to avoid collision", resolved)})
		}

		f.Name = resolved
	} else {
		f.Name = srv.Name
	}

	if f.MetadataEditedLocally && f.Parent != srv.Parent {
		changedParents[f.ID] = f.Parent
		moveInfo[f.ID] = move{id: f.ID, localMove: true, timestamp: time.Now().Unix(), revertTo: f.BaseParent}
		conflicts = append(conflicts, Conflict{ID: f.ID, Field: "parent", Note: "local move accepted, pending cycle check"})
	} else if !f.MetadataEditedLocally {
		f.Parent = srv.Parent
	}

	f.MetadataEditedLocally = true // re-push the resolved metadata regardless of which side won
	f.MetadataVersion = srv.MetadataVersion
	f.BaseParent = f.Parent
	f.BaseName = f.Name

	return conflicts
}

// siblingNameIndex groups existing (non-deleted) local names by parent,
// recording every file id currently holding each name (ordinarily one, but
// transiently two while a rename's target name collides with an existing
// sibling), used to disambiguate a renamed file against its new siblings
// without mistaking its own current name for a collision against itself.
func (e *Engine) siblingNameIndex(local []*store.FileMetadata) map[[16]byte]map[string][][16]byte {
	out := make(map[[16]byte]map[string][][16]byte)

	for _, f := range local {
		if f.Deleted {
			continue
		}

		if out[f.Parent] == nil {
			out[f.Parent] = make(map[string][][16]byte)
		}

		name := tree.NormalizeName(f.Name)
		out[f.Parent][name] = append(out[f.Parent][name], f.ID)
	}

	return out
}

// push implements Phase C: content first, then metadata mutations (with
// optimistic concurrency), deletions last, each dispatched across a bounded
// worker pool. Returns restart=true if any push hit IncorrectOldVersion.
func (e *Engine) push(ctx context.Context, username string, priv *rsa.PrivateKey, units []work.WorkUnit, report *Report) (bool, error) {
	restart := false

	var mu sync.Mutex

	// Push happens in the priority order Calculate already sorted units
	// into (content before metadata before deletes), but within each
	// priority tier dispatch is fanned out across a bounded pool — the
	// ordering constraint is between tiers, not within one.
	tiers := groupByPriorityTier(units)

	for _, tier := range tiers {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)

		for _, u := range tier {
			u := u

			g.Go(func() error {
				needsRestart, err := e.pushOne(gctx, username, priv, u, report, &mu)
				if needsRestart {
					mu.Lock()
					restart = true
					mu.Unlock()

					return nil
				}

				return err
			})
		}

		if err := g.Wait(); err != nil {
			return restart, err
		}

		if restart {
			return true, nil
		}
	}

	return false, nil
}

// groupByPriorityTier splits units (already sorted by Calculate) into
// contiguous runs sharing the same priority tier, preserving order.
func groupByPriorityTier(units []work.WorkUnit) [][]work.WorkUnit {
	var tiers [][]work.WorkUnit

	var cur []work.WorkUnit

	lastTier := -1

	for _, u := range units {
		tier := unitTier(u)

		if tier != lastTier && cur != nil {
			tiers = append(tiers, cur)
			cur = nil
		}

		cur = append(cur, u)
		lastTier = tier
	}

	if cur != nil {
		tiers = append(tiers, cur)
	}

	return tiers
}

func unitTier(u work.WorkUnit) int {
	switch u.Kind {
	case work.PushNewFile, work.PushFileContent, work.PullMergePush:
		return 0
	case work.PushMetadata, work.MergeMetadataAndPushMetadata:
		return 1
	case work.PushDelete:
		return 2
	default:
		return 3
	}
}
