package syncengine

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaultsync/core/internal/crypto"
	"github.com/vaultsync/core/internal/rpc"
	"github.com/vaultsync/core/internal/store"
	"github.com/vaultsync/core/internal/work"
)

// pushOne executes one WorkUnit. It returns needsRestart=true when the unit
// hit rpc.ErrIncorrectOldVersion, per spec: abort the sync and restart from
// Phase A rather than treating it as a per-file warning.
func (e *Engine) pushOne(ctx context.Context, username string, priv *rsa.PrivateKey, u work.WorkUnit, report *Report, mu *sync.Mutex) (needsRestart bool, err error) {
	switch u.Kind {
	case work.Nop:
		return false, nil

	case work.DeleteLocally:
		return false, e.applyDeleteLocally(u, report, mu)

	case work.UpdateLocalMetadata:
		return false, e.applyUpdateLocalMetadata(u, report, mu)

	case work.PullFileContent:
		return false, e.applyPullFileContent(ctx, username, priv, u, report, mu)

	case work.PushNewFile:
		return e.pushNewFile(ctx, username, priv, u, report, mu)

	case work.PushFileContent:
		return e.pushFileContent(ctx, username, priv, u, report, mu)

	case work.PullMergePush:
		return e.pullMergePush(ctx, username, priv, u, report, mu)

	case work.PushMetadata, work.MergeMetadataAndPushMetadata:
		return e.pushMetadata(ctx, username, priv, u, report, mu)

	case work.PushDelete:
		return e.pushDelete(ctx, username, priv, u, report, mu)

	default:
		return false, e.invariantViolated("unhandled work unit kind %v for file %x", u.Kind, u.ID)
	}
}

func bump(mu *sync.Mutex, counter *int) {
	mu.Lock()
	*counter++
	mu.Unlock()
}

func (e *Engine) applyDeleteLocally(u work.WorkUnit, report *Report, mu *sync.Mutex) error {
	f := u.Local
	f.Deleted = true

	if err := e.store.Put(f); err != nil {
		return fmt.Errorf("syncengine: applying server delete for %x: %w", u.ID, err)
	}

	bump(mu, &report.Deleted)

	return nil
}

func (e *Engine) applyUpdateLocalMetadata(u work.WorkUnit, report *Report, mu *sync.Mutex) error {
	f := *u.Server
	f.ContentEditedLocally = u.Local.ContentEditedLocally
	f.MetadataEditedLocally = false
	f.NewLocally = false
	f.DeletedLocally = false
	f.BaseParent = f.Parent
	f.BaseName = f.Name

	if err := e.store.Put(&f); err != nil {
		return fmt.Errorf("syncengine: updating local metadata for %x: %w", u.ID, err)
	}

	bump(mu, &report.Pulled)

	return nil
}

func (e *Engine) applyPullFileContent(ctx context.Context, username string, priv *rsa.PrivateKey, u work.WorkUnit, report *Report, mu *sync.Mutex) error {
	doc, err := e.rpc.GetDocument(ctx, username, priv, u.ID, u.Server.ContentVersion)
	if err != nil {
		return fmt.Errorf("syncengine: pulling content for %x: %w", u.ID, err)
	}

	if err := e.store.PutDocument(u.ID, doc); err != nil {
		return fmt.Errorf("syncengine: storing pulled content for %x: %w", u.ID, err)
	}

	f := *u.Server
	f.MetadataEditedLocally = false
	f.ContentEditedLocally = false
	f.BaseParent = f.Parent
	f.BaseName = f.Name

	if err := e.store.Put(&f); err != nil {
		return fmt.Errorf("syncengine: updating metadata after content pull for %x: %w", u.ID, err)
	}

	bump(mu, &report.Pulled)

	return nil
}

func (e *Engine) pushNewFile(ctx context.Context, username string, priv *rsa.PrivateKey, u work.WorkUnit, report *Report, mu *sync.Mutex) (bool, error) {
	resp, err := e.rpc.CreateFile(ctx, username, priv, u.Local)
	if restart, handled := e.handlePushError(err, u.ID); handled {
		return restart, nil
	} else if err != nil {
		return false, fmt.Errorf("syncengine: pushing new file %x: %w", u.ID, err)
	}

	f := u.Local
	f.MetadataVersion = resp.MetadataVersion
	f.NewLocally = false
	f.MetadataEditedLocally = false
	f.BaseParent = f.Parent
	f.BaseName = f.Name

	if err := e.store.Put(f); err != nil {
		return false, fmt.Errorf("syncengine: clearing new-file flag for %x: %w", u.ID, err)
	}

	bump(mu, &report.Pushed)

	return false, nil
}

func (e *Engine) pushFileContent(ctx context.Context, username string, priv *rsa.PrivateKey, u work.WorkUnit, report *Report, mu *sync.Mutex) (bool, error) {
	doc, err := e.store.GetDocument(u.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("syncengine: loading document for %x: %w", u.ID, err)
	}

	if doc == nil {
		doc = &store.Document{}
	}

	resp, err := e.rpc.ChangeDocumentContent(ctx, username, priv, u.ID, u.Local.ContentVersion, u.Local.MetadataVersion, doc)
	if restart, handled := e.handlePushError(err, u.ID); handled {
		return restart, nil
	} else if err != nil {
		return false, fmt.Errorf("syncengine: pushing content for %x: %w", u.ID, err)
	}

	f := u.Local
	f.ContentVersion = resp.NewContentVersion
	f.MetadataVersion = resp.NewMetadataVersion
	f.ContentEditedLocally = false
	// MetadataEditedLocally is left as-is: change-document-content carries no
	// room for a new name or parent, so a pending rename/move is still owed
	// its own push (pushMetadata clears the flag once that happens).

	if err := e.store.Put(f); err != nil {
		return false, err
	}

	bump(mu, &report.Pushed)

	return false, nil
}

// pullMergePush handles a file dirtied on both content and metadata axes.
// When the server hasn't independently changed it (u.Server nil), there is
// nothing to merge — push the content, then the still-pending rename/move as
// its own call. When the server has changed it, Phase B has already resolved
// the name/parent fields against srv (see mergeOne); what's left here is the
// content side: fetch the server's document, three-way-merge it against the
// local edit using the pre-edit snapshot as the common ancestor, and push the
// merged result. A genuine content conflict (the merge can't cleanly resolve,
// or a non-text document's local and server bytes differ) preserves
// the server's version as a new sibling file rather than ever discarding it.
func (e *Engine) pullMergePush(ctx context.Context, username string, priv *rsa.PrivateKey, u work.WorkUnit, report *Report, mu *sync.Mutex) (bool, error) {
	if u.Server == nil {
		restart, err := e.pushFileContent(ctx, username, priv, u, report, mu)
		if err != nil || restart {
			return restart, err
		}

		if !u.Local.MetadataEditedLocally {
			return false, nil
		}

		return e.pushMetadata(ctx, username, priv, u, report, mu)
	}

	localDoc, err := e.store.GetDocument(u.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("syncengine: loading local document for %x: %w", u.ID, err)
	}

	if localDoc == nil {
		localDoc = &store.Document{}
	}

	remoteDoc, err := e.rpc.GetDocument(ctx, username, priv, u.ID, u.Server.ContentVersion)
	if err != nil {
		return false, fmt.Errorf("syncengine: fetching server content for %x: %w", u.ID, err)
	}

	key, err := fileKeyForMerge(priv, u.Local)
	if err != nil {
		return false, fmt.Errorf("syncengine: deriving file key for %x: %w", u.ID, err)
	}

	localPlain, err := crypto.DecryptDocument(key, localDoc.Nonce, localDoc.Ciphertext)
	if err != nil {
		return false, fmt.Errorf("syncengine: decrypting local content for %x: %w", u.ID, err)
	}

	remotePlain, err := crypto.DecryptDocument(key, remoteDoc.Nonce, remoteDoc.Ciphertext)
	if err != nil {
		return false, fmt.Errorf("syncengine: decrypting server content for %x: %w", u.ID, err)
	}

	ancestorPlain := remotePlain

	if baseDoc, baseErr := e.store.GetBaseDocument(u.ID); baseErr == nil {
		if plain, decErr := crypto.DecryptDocument(key, baseDoc.Nonce, baseDoc.Ciphertext); decErr == nil {
			ancestorPlain = plain
		}
	}

	var mergedPlain []byte

	var conflicted bool

	if isTextDocument(u.Local.Name) {
		mergedPlain, conflicted = threeWayMergeText(ancestorPlain, localPlain, remotePlain)
	} else {
		mergedPlain = localPlain
		conflicted = !bytesEqual(localPlain, remotePlain)
	}

	if conflicted {
		if err := e.createConflictSibling(username, priv, u.Local, remotePlain); err != nil {
			return false, fmt.Errorf("syncengine: preserving server content for %x as a conflict sibling: %w", u.ID, err)
		}

		mu.Lock()
		report.Conflicts = append(report.Conflicts, Conflict{ID: u.ID, Field: "content", Note: "content merged; server version preserved as a sibling"})
		mu.Unlock()
	}

	nonce, ciphertext, err := crypto.EncryptDocument(key, mergedPlain)
	if err != nil {
		return false, fmt.Errorf("syncengine: encrypting merged content for %x: %w", u.ID, err)
	}

	doc := &store.Document{Nonce: nonce, Ciphertext: ciphertext}

	resp, err := e.rpc.ChangeDocumentContent(ctx, username, priv, u.ID, u.Server.ContentVersion, u.Local.MetadataVersion, doc)
	if restart, handled := e.handlePushError(err, u.ID); handled {
		return restart, nil
	} else if err != nil {
		return false, fmt.Errorf("syncengine: pushing merged content for %x: %w", u.ID, err)
	}

	if err := e.store.PutDocument(u.ID, doc); err != nil {
		return false, fmt.Errorf("syncengine: storing merged content for %x: %w", u.ID, err)
	}

	if err := e.store.DeleteBaseDocument(u.ID); err != nil {
		return false, fmt.Errorf("syncengine: clearing merge ancestor for %x: %w", u.ID, err)
	}

	f := u.Local
	f.ContentVersion = resp.NewContentVersion
	f.MetadataVersion = resp.NewMetadataVersion
	f.ContentEditedLocally = false

	if err := e.store.Put(f); err != nil {
		return false, err
	}

	bump(mu, &report.Pushed)

	if !f.MetadataEditedLocally {
		return false, nil
	}

	return e.pushMetadata(ctx, username, priv, u, report, mu)
}

// fileKeyForMerge unwraps f's content key for an already-existing file being
// merged — unlike edit.go's fileKeyFor, it never mints a new key, since a
// file reaching PullMergePush always has one already.
func fileKeyForMerge(priv *rsa.PrivateKey, f *store.FileMetadata) (crypto.FileKey, error) {
	wrapped, ok := f.UserAccessKeys[f.Owner]
	if !ok {
		return crypto.FileKey{}, fmt.Errorf("no wrapped file key recorded for owner %s", f.Owner)
	}

	return crypto.UnwrapFileKeyRSA(priv, crypto.AccessInfo{WrappedKey: wrapped})
}

// createConflictSibling stores the server's content as a brand-new document
// alongside the original, named per conflictSiblingName, so a real content
// conflict never silently discards either side. The sibling is created
// locally as a new, dirty file — it gets pushed to the server on its own by
// the next cycle's PushNewFile/PushFileContent units, same as any other
// locally-created document.
func (e *Engine) createConflictSibling(owner string, priv *rsa.PrivateKey, original *store.FileMetadata, remotePlain []byte) error {
	key, err := crypto.GenerateFileKey()
	if err != nil {
		return err
	}

	wrapped, err := crypto.WrapFileKeyRSA(&priv.PublicKey, key)
	if err != nil {
		return err
	}

	nonce, ciphertext, err := crypto.EncryptDocument(key, remotePlain)
	if err != nil {
		return err
	}

	sibling := &store.FileMetadata{
		ID:                   [16]byte(uuid.New()),
		FileType:             store.FileTypeDocument,
		Parent:               original.Parent,
		Name:                 conflictSiblingName(original.Name, time.Now().Unix()),
		Owner:                owner,
		UserAccessKeys:       map[string][]byte{owner: wrapped.WrappedKey},
		NewLocally:           true,
		ContentEditedLocally: true,
	}

	if err := sibling.Sign(priv); err != nil {
		return err
	}

	if err := e.store.Put(sibling); err != nil {
		return err
	}

	return e.store.PutDocument(sibling.ID, &store.Document{Nonce: nonce, Ciphertext: ciphertext})
}

func (e *Engine) pushMetadata(ctx context.Context, username string, priv *rsa.PrivateKey, u work.WorkUnit, report *Report, mu *sync.Mutex) (bool, error) {
	f := u.Local

	newVersion, err := e.rpc.MoveFile(ctx, username, priv, u.ID, f.Parent, f.MetadataVersion)
	if restart, handled := e.handlePushError(err, u.ID); handled {
		return restart, nil
	}

	if err == nil {
		newVersion, err = e.rpc.RenameFile(ctx, username, priv, u.ID, f.Name, newVersion)
		if restart, handled := e.handlePushError(err, u.ID); handled {
			return restart, nil
		}
	}

	if err != nil {
		return false, fmt.Errorf("syncengine: pushing metadata for %x: %w", u.ID, err)
	}

	f.MetadataVersion = newVersion
	f.MetadataEditedLocally = false
	f.BaseParent = f.Parent
	f.BaseName = f.Name

	if err := e.store.Put(f); err != nil {
		return false, err
	}

	bump(mu, &report.Pushed)

	return false, nil
}

func (e *Engine) pushDelete(ctx context.Context, username string, priv *rsa.PrivateKey, u work.WorkUnit, report *Report, mu *sync.Mutex) (bool, error) {
	newVersion, err := e.rpc.DeleteFile(ctx, username, priv, u.ID, u.Local.MetadataVersion)
	if restart, handled := e.handlePushError(err, u.ID); handled {
		return restart, nil
	} else if err != nil {
		return false, fmt.Errorf("syncengine: pushing delete for %x: %w", u.ID, err)
	}

	f := u.Local
	f.MetadataVersion = newVersion
	f.DeletedLocally = false
	f.Deleted = true

	if err := e.store.Put(f); err != nil {
		return false, err
	}

	bump(mu, &report.Deleted)

	return false, nil
}

// handlePushError classifies a push RPC error per spec's failure semantics:
// IncorrectOldVersion aborts the whole sync and restarts from Phase A;
// Deleted/ParentDoesNotExist/PathTaken are logged as per-file warnings and
// do not abort the rest of the push.
func (e *Engine) handlePushError(err error, id [16]byte) (restart bool, handled bool) {
	if err == nil {
		return false, false
	}

	switch {
	case errors.Is(err, rpc.ErrIncorrectOldVersion):
		e.logger.Warn("syncengine: incorrect old version, restarting sync", "id", fmt.Sprintf("%x", id))

		return true, true

	case errors.Is(err, rpc.ErrFileDeleted), errors.Is(err, rpc.ErrParentDoesNotExist), errors.Is(err, rpc.ErrPathTaken):
		e.logger.Warn("syncengine: server rejected push", "id", fmt.Sprintf("%x", id), "err", err)

		return false, true

	default:
		return false, false
	}
}
