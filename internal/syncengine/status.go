package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultsync/core/internal/crypto"
	"github.com/vaultsync/core/internal/store"
	"github.com/vaultsync/core/internal/work"
)

// WorkUnitStatus is one human-readable status line, grounded directly on
// the original CLI's status command: every WorkUnit kind maps to a fixed
// message describing what the next sync would do for that file.
type WorkUnitStatus struct {
	Kind    work.Kind
	Name    string
	Message string
}

// StatusReport summarizes pending work and the last successful sync, without
// performing any mutation — a dry peek at what Sync would do next.
type StatusReport struct {
	WorkUnits    []WorkUnitStatus
	LastSyncedAt time.Time
}

// Status computes the work a Sync call would perform right now, without
// applying any of it.
func (e *Engine) Status(ctx context.Context) (*StatusReport, error) {
	acct, err := e.store.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("syncengine: loading account: %w", err)
	}

	priv, err := crypto.ParsePrivateKey(acct.PrivateKeyDER)
	if err != nil {
		return nil, fmt.Errorf("syncengine: parsing account key: %w", err)
	}

	state, err := e.store.GetSyncState()
	if err != nil {
		return nil, fmt.Errorf("syncengine: loading sync state: %w", err)
	}

	updates, err := e.rpc.GetUpdates(ctx, acct.Username, priv, state.LastSyncedMetadataVersion)
	if err != nil {
		return nil, fmt.Errorf("syncengine: fetching updates for status: %w", err)
	}

	serverUpdates := make(map[[16]byte]*store.FileMetadata, len(updates))
	for _, u := range updates {
		serverUpdates[u.ID] = u
	}

	local, err := e.store.All()
	if err != nil {
		return nil, fmt.Errorf("syncengine: loading local files for status: %w", err)
	}

	units := work.Calculate(local, serverUpdates)

	var out []WorkUnitStatus

	for _, u := range units {
		if u.Kind == work.Nop {
			continue
		}

		name := workUnitName(u)
		out = append(out, WorkUnitStatus{Kind: u.Kind, Name: name, Message: statusMessage(u.Kind, name)})
	}

	return &StatusReport{WorkUnits: out, LastSyncedAt: time.Unix(state.LastSyncedAtUnix, 0)}, nil
}

// workUnitName picks the display name: the server's view where one exists
// (it reflects the name the message is describing, e.g. "renamed on the
// server"), falling back to the local name otherwise.
func workUnitName(u work.WorkUnit) string {
	if u.Server != nil {
		return u.Server.Name
	}

	return u.Local.Name
}

// statusMessage renders the fixed per-kind message, grounded directly on the
// original CLI's status command text.
func statusMessage(kind work.Kind, name string) string {
	switch kind {
	case work.PushNewFile:
		return fmt.Sprintf("%s has local changes that need to be pushed", name)
	case work.UpdateLocalMetadata:
		return fmt.Sprintf("%s has been moved or renamed on the server", name)
	case work.PullFileContent:
		return fmt.Sprintf("%s has new content available", name)
	case work.DeleteLocally:
		return fmt.Sprintf("%s needs to be deleted locally", name)
	case work.PushMetadata:
		return fmt.Sprintf("%s has been moved locally", name)
	case work.PushFileContent:
		return fmt.Sprintf("%s has local changes that need to be pushed", name)
	case work.PushDelete:
		return fmt.Sprintf("%s has been deleted locally", name)
	case work.PullMergePush:
		return fmt.Sprintf("%s has changes locally and on the server", name)
	case work.MergeMetadataAndPushMetadata:
		return fmt.Sprintf("%s has been moved or renamed locally and on the server", name)
	default:
		return fmt.Sprintf("%s: no action needed", name)
	}
}
