// Package store implements the local, transactional metadata store. Every
// file's metadata is keyed by its 128-bit id and persisted as JSON inside a
// bbolt bucket, alongside document ciphertexts, the local account record,
// and sync watermark state.
package store

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/vaultsync/core/internal/crypto"
)

// Sentinel errors, classified with errors.Is at call sites.
var (
	ErrStoreIO   = errors.New("store: I/O failure")
	ErrNotFound  = errors.New("store: not found")
	ErrCorrupt   = errors.New("store: corrupt entry")
	ErrNoAccount = errors.New("store: no account configured")
)

// Bucket names. "meta" holds the schema version for forward-compatible
// migrations — bbolt has no migration framework of its own.
var (
	bucketFiles      = []byte("files")
	bucketDocuments  = []byte("documents")
	bucketBaseDocs   = []byte("base_documents")
	bucketAccount    = []byte("account")
	bucketState      = []byte("state")
	bucketQuarantine = []byte("quarantine")
	bucketMeta       = []byte("meta")
)

const schemaVersion = 1

// FileType distinguishes documents from folders.
type FileType uint8

// FileType values.
const (
	FileTypeDocument FileType = iota
	FileTypeFolder
)

// FileMetadata is the canonical, persisted representation of one file or
// folder. Local-only shadow fields capture pending local intent that has
// not yet been reconciled with the server.
type FileMetadata struct {
	ID       [16]byte `json:"id"`
	FileType FileType `json:"file_type"`
	Parent   [16]byte `json:"parent"`
	Name     string   `json:"name"`
	Owner    string   `json:"owner"`
	// Signature is the detached signature over CanonicalBytes, produced by
	// the owner's private key.
	Signature []byte `json:"signature"`

	MetadataVersion uint64 `json:"metadata_version"`
	ContentVersion  uint64 `json:"content_version"`
	Deleted         bool   `json:"deleted"`

	// UserAccessKeys maps sharee username to an RSA-wrapped per-file AES key.
	UserAccessKeys map[string][]byte `json:"user_access_keys,omitempty"`
	// FolderAccessKeys is the parent's folder key, re-wrapped under this
	// file's own key so descendants can derive their parent's key.
	FolderAccessKeys []byte `json:"folder_access_keys,omitempty"`

	// Local-only shadow flags. Never sent to or received from the server.
	ContentEditedLocally  bool `json:"-"`
	MetadataEditedLocally bool `json:"-"`
	NewLocally            bool `json:"-"`
	DeletedLocally        bool `json:"-"`

	// BaseParent and BaseName mirror the last Parent/Name this client
	// received from (or confirmed with) the server. They never move when a
	// local edit touches Parent/Name; they only follow the server. This is
	// the reference a dirty file not covered by the current pull delta is
	// diffed against, and the value a reverted move falls back to.
	BaseParent [16]byte `json:"base_parent"`
	BaseName   string   `json:"base_name"`
}

// IsDirty reports whether f has any pending local intent not yet reconciled
// with the server.
func (f *FileMetadata) IsDirty() bool {
	return f.ContentEditedLocally || f.MetadataEditedLocally || f.NewLocally || f.DeletedLocally
}

func (f *FileMetadata) canonicalFields() crypto.CanonicalFields {
	return crypto.CanonicalFields{
		ID:              f.ID,
		Parent:          f.Parent,
		Name:            f.Name,
		FileType:        uint8(f.FileType),
		Deleted:         f.Deleted,
		MetadataVersion: f.MetadataVersion,
	}
}

// Sign computes and sets f.Signature over f's canonical fields with priv.
// Called by the owner on file creation, rename and move, and after Phase B's
// merge resolves a file against the server. Deletion tombstones and version
// numbers set during push are stored without re-signing.
func (f *FileMetadata) Sign(priv *rsa.PrivateKey) error {
	sig, err := crypto.SignMetadata(priv, crypto.CanonicalBytes(f.canonicalFields()))
	if err != nil {
		return err
	}

	f.Signature = sig

	return nil
}

// Verify checks f.Signature against pub. A server-sourced file that fails
// verification must never be applied — the caller quarantines it instead.
func (f *FileMetadata) Verify(pub *rsa.PublicKey) error {
	return crypto.VerifyMetadata(pub, crypto.CanonicalBytes(f.canonicalFields()), f.Signature)
}

// Document is an encrypted document body: AES-GCM ciphertext plus its nonce.
type Document struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Account is the local account record: username, RSA keypair (DER-encoded),
// and optional API key. Exactly one Account is stored per local store,
// under the fixed key "me".
type Account struct {
	Username      string `json:"username"`
	PrivateKeyDER []byte `json:"private_key_der"`
	PublicKeyDER  []byte `json:"public_key_der"`
	APIKey        string `json:"api_key,omitempty"`
}

// SyncState holds the sync watermark.
type SyncState struct {
	LastSyncedMetadataVersion uint64 `json:"last_synced_metadata_version"`
	LastSyncedAtUnix          int64  `json:"last_synced_at"`
}

// Store is the bbolt-backed metadata store.
type Store struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the bbolt database at path and ensures all
// required buckets exist.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrStoreIO, path, err)
	}

	s := &Store{db: db, logger: logger}

	if err := s.init(); err != nil {
		_ = db.Close()

		return nil, err
	}

	return s, nil
}

func (s *Store) init() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketFiles, bucketDocuments, bucketBaseDocs, bucketAccount, bucketState, bucketQuarantine, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket(bucketMeta)
		if meta.Get([]byte("schema_version")) == nil {
			v := make([]byte, 8)
			putUint64(v, schemaVersion)

			if err := meta.Put([]byte("schema_version"), v); err != nil {
				return fmt.Errorf("writing schema version: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: initializing buckets: %v", ErrStoreIO, err)
	}

	return nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: closing store: %v", ErrStoreIO, err)
	}

	return nil
}

// InTx runs fn inside a single read-write bbolt transaction. All writes
// within fn flush together when fn returns nil; any error aborts the whole
// transaction, leaving the store unchanged. This is the spec's `in_tx(fn)`
// transactional wrapper.
func (s *Store) InTx(fn func(tx *bbolt.Tx) error) error {
	if err := s.db.Update(fn); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt) || errors.Is(err, ErrStoreIO) {
			return err
		}

		return fmt.Errorf("%w: transaction failed: %v", ErrStoreIO, err)
	}

	return nil
}

// Get returns the file with the given id.
func (s *Store) Get(id [16]byte) (*FileMetadata, error) {
	var f *FileMetadata

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketFiles).Get(id[:])
		if v == nil {
			return ErrNotFound
		}

		var err error
		f, err = decodeFile(v)

		return err
	})
	if err != nil {
		return nil, err
	}

	return f, nil
}

// Put writes (inserts or replaces) a file's metadata.
func (s *Store) Put(f *FileMetadata) error {
	return s.PutTx(nil, f)
}

// PutTx writes a file's metadata within an existing transaction, or opens
// its own if tx is nil.
func (s *Store) PutTx(tx *bbolt.Tx, f *FileMetadata) error {
	data, err := json.Marshal(storedFile{f, f.ContentEditedLocally, f.MetadataEditedLocally, f.NewLocally, f.DeletedLocally})
	if err != nil {
		return fmt.Errorf("%w: encoding file %x: %v", ErrCorrupt, f.ID, err)
	}

	if tx != nil {
		return putBytes(tx.Bucket(bucketFiles), f.ID[:], data)
	}

	return s.InTx(func(tx *bbolt.Tx) error {
		return putBytes(tx.Bucket(bucketFiles), f.ID[:], data)
	})
}

// Delete permanently removes a file's metadata entry (used once a tombstone
// has been pruned — not for logical deletion, which sets Deleted/DeletedLocally).
func (s *Store) Delete(id [16]byte) error {
	return s.InTx(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketFiles).Delete(id[:]); err != nil {
			return fmt.Errorf("deleting file %x: %w", id, err)
		}

		return nil
	})
}

// FindByName returns every file whose Name matches name, regardless of
// parent. Callers needing siblings under a specific parent should filter
// the result by Parent.
func (s *Store) FindByName(name string) ([]*FileMetadata, error) {
	var out []*FileMetadata

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(_, v []byte) error {
			f, err := decodeFile(v)
			if err != nil {
				return err
			}

			if f.Name == name {
				out = append(out, f)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// All returns every file in the store.
func (s *Store) All() ([]*FileMetadata, error) {
	var out []*FileMetadata

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(_, v []byte) error {
			f, err := decodeFile(v)
			if err != nil {
				return err
			}

			out = append(out, f)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Children returns every file whose Parent equals parentID. This is a full
// scan: the spec requires that the parent->children index be maintained by
// the engine (internal/tree), not persisted by the store.
func (s *Store) Children(parentID [16]byte) ([]*FileMetadata, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}

	var out []*FileMetadata

	for _, f := range all {
		if f.Parent == parentID && f.ID != parentID {
			out = append(out, f)
		}
	}

	return out, nil
}

// GetRoot returns the file whose id equals its own parent — the single root
// of the tree.
func (s *Store) GetRoot() (*FileMetadata, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}

	for _, f := range all {
		if f.ID == f.Parent {
			return f, nil
		}
	}

	return nil, fmt.Errorf("%w: no root file present", ErrNotFound)
}

// GetDocument returns the encrypted document body for id. It does not
// decrypt — the store never holds plaintext in memory longer than the
// caller's own decrypt call requires, so there is no plaintext cache here.
func (s *Store) GetDocument(id [16]byte) (*Document, error) {
	var doc Document

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketDocuments).Get(id[:])
		if v == nil {
			return ErrNotFound
		}

		if err := json.Unmarshal(v, &doc); err != nil {
			return fmt.Errorf("%w: decoding document %x: %v", ErrCorrupt, id, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &doc, nil
}

// PutDocument writes an encrypted document body for id.
func (s *Store) PutDocument(id [16]byte, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encoding document %x: %v", ErrCorrupt, id, err)
	}

	return s.InTx(func(tx *bbolt.Tx) error {
		return putBytes(tx.Bucket(bucketDocuments), id[:], data)
	})
}

// GetBaseDocument returns the content snapshot taken the moment a document
// was first locally dirtied since its last server-confirmed content — the
// common ancestor a three-way content merge diffs against. ErrNotFound means
// no local edit is in flight (or the edit has already been pushed).
func (s *Store) GetBaseDocument(id [16]byte) (*Document, error) {
	var doc Document

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketBaseDocs).Get(id[:])
		if v == nil {
			return ErrNotFound
		}

		if err := json.Unmarshal(v, &doc); err != nil {
			return fmt.Errorf("%w: decoding base document %x: %v", ErrCorrupt, id, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &doc, nil
}

// PutBaseDocument records doc as id's merge ancestor. Callers must only call
// this once per edit — before the first local mutation overwrites the
// document the ancestor is taken from.
func (s *Store) PutBaseDocument(id [16]byte, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encoding base document %x: %v", ErrCorrupt, id, err)
	}

	return s.InTx(func(tx *bbolt.Tx) error {
		return putBytes(tx.Bucket(bucketBaseDocs), id[:], data)
	})
}

// DeleteBaseDocument discards id's merge ancestor once its content has been
// successfully pushed — the just-pushed version becomes the new ancestor
// implicitly, by there no longer being a stored one to diff against.
func (s *Store) DeleteBaseDocument(id [16]byte) error {
	return s.InTx(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketBaseDocs).Delete(id[:]); err != nil {
			return fmt.Errorf("deleting base document %x: %w", id, err)
		}

		return nil
	})
}

// QuarantineEntry records a server-sourced file metadata record this client
// refused to apply because its signature did not verify — held for
// inspection, never silently dropped per the crypto layer's verification
// contract.
type QuarantineEntry struct {
	File   *FileMetadata `json:"file"`
	Reason string        `json:"reason"`
	AtUnix int64         `json:"at_unix"`
}

// PutQuarantine records f as quarantined, keyed by id so a repeated rejection
// of the same file overwrites the previous entry rather than accumulating.
func (s *Store) PutQuarantine(f *FileMetadata, reason string) error {
	entry := QuarantineEntry{File: f, Reason: reason, AtUnix: time.Now().Unix()}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: encoding quarantine entry %x: %v", ErrCorrupt, f.ID, err)
	}

	return s.InTx(func(tx *bbolt.Tx) error {
		return putBytes(tx.Bucket(bucketQuarantine), f.ID[:], data)
	})
}

// ListQuarantine returns every currently quarantined entry.
func (s *Store) ListQuarantine() ([]QuarantineEntry, error) {
	var out []QuarantineEntry

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketQuarantine).ForEach(func(_, v []byte) error {
			var entry QuarantineEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("%w: decoding quarantine entry: %v", ErrCorrupt, err)
			}

			out = append(out, entry)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// GetAccount returns the local account record.
func (s *Store) GetAccount() (*Account, error) {
	var acct Account

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketAccount).Get([]byte("me"))
		if v == nil {
			return ErrNoAccount
		}

		if err := json.Unmarshal(v, &acct); err != nil {
			return fmt.Errorf("%w: decoding account: %v", ErrCorrupt, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &acct, nil
}

// PutAccount writes the local account record, replacing any existing one.
func (s *Store) PutAccount(acct *Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("%w: encoding account: %v", ErrCorrupt, err)
	}

	return s.InTx(func(tx *bbolt.Tx) error {
		return putBytes(tx.Bucket(bucketAccount), []byte("me"), data)
	})
}

// GetSyncState returns the current sync watermark, or a zero value if sync
// has never run.
func (s *Store) GetSyncState() (*SyncState, error) {
	var st SyncState

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketState).Get([]byte("sync_state"))
		if v == nil {
			return nil
		}

		if err := json.Unmarshal(v, &st); err != nil {
			return fmt.Errorf("%w: decoding sync state: %v", ErrCorrupt, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &st, nil
}

// PutSyncState writes the sync watermark within an existing transaction, or
// opens its own if tx is nil.
func (s *Store) PutSyncState(tx *bbolt.Tx, st *SyncState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("%w: encoding sync state: %v", ErrCorrupt, err)
	}

	if tx != nil {
		return putBytes(tx.Bucket(bucketState), []byte("sync_state"), data)
	}

	return s.InTx(func(tx *bbolt.Tx) error {
		return putBytes(tx.Bucket(bucketState), []byte("sync_state"), data)
	})
}

// storedFile is the on-disk form of a FileMetadata: its wire fields plus the
// local-only shadow flags, which FileMetadata's own JSON encoding leaves out.
type storedFile struct {
	*FileMetadata
	ContentEditedLocally  bool `json:"content_edited_locally"`
	MetadataEditedLocally bool `json:"metadata_edited_locally"`
	NewLocally            bool `json:"new_locally"`
	DeletedLocally        bool `json:"deleted_locally"`
}

func decodeFile(v []byte) (*FileMetadata, error) {
	sf := storedFile{FileMetadata: &FileMetadata{}}
	if err := json.Unmarshal(v, &sf); err != nil {
		return nil, fmt.Errorf("%w: decoding file entry: %v", ErrCorrupt, err)
	}

	f := sf.FileMetadata
	f.ContentEditedLocally, f.MetadataEditedLocally = sf.ContentEditedLocally, sf.MetadataEditedLocally
	f.NewLocally, f.DeletedLocally = sf.NewLocally, sf.DeletedLocally

	return f, nil
}

func putBytes(b *bbolt.Bucket, key, value []byte) error {
	if err := b.Put(key, value); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreIO, err)
	}

	return nil
}

func putUint64(dst []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}
