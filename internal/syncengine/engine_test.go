package syncengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/core/internal/crypto"
	"github.com/vaultsync/core/internal/rpc"
	"github.com/vaultsync/core/internal/store"
)

func newTestEngine(t *testing.T, handler http.HandlerFunc) (*Engine, *store.Store) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "store.db"), nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = st.Close() })

	kp, err := crypto.GenerateAccountKeypair()
	require.NoError(t, err)

	privDER, err := crypto.MarshalPrivateKey(kp.Private)
	require.NoError(t, err)

	pubDER, err := crypto.MarshalPublicKey(kp.Public)
	require.NoError(t, err)

	require.NoError(t, st.PutAccount(&store.Account{Username: "alice", PrivateKeyDER: privDER, PublicKeyDER: pubDER}))
	require.NoError(t, st.PutSyncState(nil, &store.SyncState{}))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := rpc.NewClient(srv.URL, nil)

	return NewEngine(EngineConfig{Store: st, RPC: client}), st
}

func TestSyncNoOpWhenNothingChanged(t *testing.T) {
	e, st := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]*store.FileMetadata{})
	})

	root := &store.FileMetadata{ID: [16]byte{1}, Parent: [16]byte{1}, Name: "root", FileType: store.FileTypeFolder}
	require.NoError(t, st.Put(root))

	report, err := e.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Pulled)
	assert.Zero(t, report.Pushed)
	assert.Zero(t, report.Deleted)
}

func TestSyncConcurrentCallReturnsSyncInProgress(t *testing.T) {
	e, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]*store.FileMetadata{})
	})

	require.True(t, e.tryLock())
	defer e.unlock()

	_, err := e.Sync(context.Background())
	require.ErrorIs(t, err, ErrSyncInProgress)
}

func TestSyncPushesNewLocalFile(t *testing.T) {
	var created *store.FileMetadata

	e, st := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/get-updates":
			_ = json.NewEncoder(w).Encode([]*store.FileMetadata{})
		case "/create-file":
			var req rpc.CreateFileRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			created = req.File
			_ = json.NewEncoder(w).Encode(rpc.CreateFileResponse{MetadataVersion: 1})
		}
	})

	root := &store.FileMetadata{ID: [16]byte{1}, Parent: [16]byte{1}, Name: "root", FileType: store.FileTypeFolder}
	newFile := &store.FileMetadata{ID: [16]byte{2}, Parent: [16]byte{1}, Name: "notes.md", NewLocally: true}
	require.NoError(t, st.Put(root))
	require.NoError(t, st.Put(newFile))

	report, err := e.Sync(context.Background())
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, [16]byte{2}, created.ID)
	assert.Equal(t, 1, report.Pushed)

	got, err := st.Get([16]byte{2})
	require.NoError(t, err)
	assert.False(t, got.NewLocally)
}

func TestStatusListsPendingPush(t *testing.T) {
	e, st := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]*store.FileMetadata{})
	})

	root := &store.FileMetadata{ID: [16]byte{1}, Parent: [16]byte{1}, Name: "root", FileType: store.FileTypeFolder}
	newFile := &store.FileMetadata{ID: [16]byte{2}, Parent: [16]byte{1}, Name: "notes.md", NewLocally: true}
	require.NoError(t, st.Put(root))
	require.NoError(t, st.Put(newFile))

	report, err := e.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, report.WorkUnits, 1)
	assert.Contains(t, report.WorkUnits[0].Message, "need to be pushed")
}
