package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/core/internal/crypto"
	"github.com/vaultsync/core/internal/store"
)

func testKey(t *testing.T) *crypto.KeyPair {
	t.Helper()

	kp, err := crypto.GenerateAccountKeypair()
	require.NoError(t, err)

	return kp
}

func testPubDER(t *testing.T, kp *crypto.KeyPair) []byte {
	t.Helper()

	der, err := crypto.MarshalPublicKey(kp.Public)
	require.NoError(t, err)

	return der
}

func TestNewAccountSuccess(t *testing.T) {
	kp := testKey(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/new-account", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	err := c.NewAccount(context.Background(), "alice", kp.Private, testPubDER(t, kp))
	require.NoError(t, err)
}

func TestNewAccountUsernameTaken(t *testing.T) {
	kp := testKey(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(serverErrorBody{Code: "username_taken"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	err := c.NewAccount(context.Background(), "alice", kp.Private, testPubDER(t, kp))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestGetUpdatesDecodesList(t *testing.T) {
	kp := testKey(t)
	id := [16]byte{9}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get-updates", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]*store.FileMetadata{{ID: id, Name: "a"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	updates, err := c.GetUpdates(context.Background(), "alice", kp.Private, 5)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, id, updates[0].ID)
}

func TestRetriesOn503ThenSucceeds(t *testing.T) {
	oldSleep := timeSleep
	timeSleep = func(time.Duration) {}
	defer func() { timeSleep = oldSleep }()

	kp := testKey(t)

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	err := c.NewAccount(context.Background(), "alice", kp.Private, testPubDER(t, kp))
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestNoRetryOnLogicalError(t *testing.T) {
	kp := testKey(t)

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(serverErrorBody{Code: "incorrect_old_version"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.MoveFile(context.Background(), "alice", kp.Private, [16]byte{1}, [16]byte{2}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncorrectOldVersion)
	assert.Equal(t, 1, attempts)
}

func TestChangeDocumentContent(t *testing.T) {
	kp := testKey(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/change-document-content", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ChangeDocumentContentResponse{NewContentVersion: 2, NewMetadataVersion: 2})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	resp, err := c.ChangeDocumentContent(context.Background(), "alice", kp.Private, [16]byte{1}, 1, 1, &store.Document{Nonce: []byte("n"), Ciphertext: []byte("c")})
	require.NoError(t, err)
	assert.EqualValues(t, 2, resp.NewContentVersion)
}

func TestGetDocument(t *testing.T) {
	kp := testKey(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(store.Document{Nonce: []byte("n"), Ciphertext: []byte("ct")})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	doc, err := c.GetDocument(context.Background(), "alice", kp.Private, [16]byte{1}, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("ct"), doc.Ciphertext)
}

func TestCalcBackoffCapsAtMax(t *testing.T) {
	d := calcBackoff(10)
	assert.LessOrEqual(t, d, maxBackoff+maxBackoff/5)
}

func TestContextCancellationStopsRetries(t *testing.T) {
	kp := testKey(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, nil)
	err := c.NewAccount(ctx, "alice", kp.Private, testPubDER(t, kp))
	require.Error(t, err)
}
