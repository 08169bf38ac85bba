package rpc

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/vaultsync/core/internal/crypto"
	"github.com/vaultsync/core/internal/store"
)

// Retry/timeout policy.
const (
	baseBackoff  = 200 * time.Millisecond
	backoffFactor = 2
	maxBackoff    = 5 * time.Second
	maxAttempts   = 4
	callTimeout   = 10 * time.Second
)

// timeSleep is indirected for tests to fast-forward backoff waits.
var timeSleep = time.Sleep

// Client is the coordination server's HTTP client: typed wrappers over each
// endpoint, retried with exponential backoff on transport failures, with the
// account's RSA key used to sign every mutation's auth payload.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a Client pointed at baseURL (e.g. "https://api.example.com").
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: callTimeout},
		logger:     logger,
	}
}

// signedAuth is the {username, signed_auth} envelope attached to every call.
type signedAuth struct {
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
	Signature []byte `json:"signature"`
}

func newSignedAuth(username string, key *rsa.PrivateKey) (signedAuth, error) {
	ts := time.Now().Unix()

	sig, err := crypto.SignMetadata(key, []byte(fmt.Sprintf("%s:%d", username, ts)))
	if err != nil {
		return signedAuth{}, fmt.Errorf("rpc: signing auth: %w", err)
	}

	return signedAuth{Username: username, Timestamp: ts, Signature: sig}, nil
}

// NewAccountRequest is the body of POST /new-account.
type NewAccountRequest struct {
	Auth         signedAuth `json:"auth"`
	PublicKeyDER []byte     `json:"public_key_der"`
}

// NewAccount registers username with the server under the given keypair.
func (c *Client) NewAccount(ctx context.Context, username string, key *rsa.PrivateKey, pubDER []byte) error {
	auth, err := newSignedAuth(username, key)
	if err != nil {
		return err
	}

	req := NewAccountRequest{Auth: auth, PublicKeyDER: pubDER}

	return c.doRetry(ctx, http.MethodPost, "/new-account", req, nil)
}

// GetUpdates fetches every FileMetadata whose metadata_version exceeds since.
func (c *Client) GetUpdates(ctx context.Context, username string, key *rsa.PrivateKey, since uint64) ([]*store.FileMetadata, error) {
	auth, err := newSignedAuth(username, key)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/get-updates?since=%d&username=%s", since, username)

	var out []*store.FileMetadata
	if err := c.doRetryAuth(ctx, http.MethodGet, path, auth, nil, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// CreateFileRequest is the body of POST /create-file.
type CreateFileRequest struct {
	Auth signedAuth         `json:"auth"`
	File *store.FileMetadata `json:"file"`
}

// CreateFileResponse carries the server-assigned metadata_version.
type CreateFileResponse struct {
	MetadataVersion uint64 `json:"metadata_version"`
}

// CreateFile pushes a new file's metadata.
func (c *Client) CreateFile(ctx context.Context, username string, key *rsa.PrivateKey, f *store.FileMetadata) (*CreateFileResponse, error) {
	auth, err := newSignedAuth(username, key)
	if err != nil {
		return nil, err
	}

	req := CreateFileRequest{Auth: auth, File: f}

	var resp CreateFileResponse
	if err := c.doRetry(ctx, http.MethodPost, "/create-file", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// ChangeDocumentContentRequest is the body of POST /change-document-content.
type ChangeDocumentContentRequest struct {
	Auth               signedAuth `json:"auth"`
	ID                 [16]byte   `json:"id"`
	OldContentVersion  uint64     `json:"old_content_version"`
	OldMetadataVersion uint64     `json:"old_metadata_version"`
	Ciphertext         []byte     `json:"ciphertext"`
	Nonce              []byte     `json:"nonce"`
}

// ChangeDocumentContentResponse carries the new content/metadata versions.
type ChangeDocumentContentResponse struct {
	NewContentVersion  uint64 `json:"new_content_version"`
	NewMetadataVersion uint64 `json:"new_metadata_version"`
}

// ChangeDocumentContent pushes new ciphertext for an existing document,
// guarded by optimistic concurrency on oldContentVersion/oldMetadataVersion.
func (c *Client) ChangeDocumentContent(ctx context.Context, username string, key *rsa.PrivateKey, id [16]byte, oldContentVersion, oldMetadataVersion uint64, doc *store.Document) (*ChangeDocumentContentResponse, error) {
	auth, err := newSignedAuth(username, key)
	if err != nil {
		return nil, err
	}

	req := ChangeDocumentContentRequest{
		Auth:               auth,
		ID:                 id,
		OldContentVersion:  oldContentVersion,
		OldMetadataVersion: oldMetadataVersion,
		Ciphertext:         doc.Ciphertext,
		Nonce:              doc.Nonce,
	}

	var resp ChangeDocumentContentResponse
	if err := c.doRetry(ctx, http.MethodPost, "/change-document-content", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// metadataMutationRequest is the shared body shape of move-file, rename-file
// and delete-file: the id plus whatever changed plus the optimistic-
// concurrency guard.
type metadataMutationRequest struct {
	Auth               signedAuth `json:"auth"`
	ID                 [16]byte   `json:"id"`
	OldMetadataVersion uint64     `json:"old_metadata_version"`
	NewParent          *[16]byte  `json:"new_parent,omitempty"`
	NewName            *string    `json:"new_name,omitempty"`
}

// metadataMutationResponse carries the new metadata_version.
type metadataMutationResponse struct {
	MetadataVersion uint64 `json:"metadata_version"`
}

// MoveFile reparents id, enforcing optimistic concurrency on oldMetadataVersion.
func (c *Client) MoveFile(ctx context.Context, username string, key *rsa.PrivateKey, id, newParent [16]byte, oldMetadataVersion uint64) (uint64, error) {
	return c.mutateMetadata(ctx, username, key, "/move-file", id, oldMetadataVersion, &newParent, nil)
}

// RenameFile renames id, enforcing optimistic concurrency on oldMetadataVersion.
func (c *Client) RenameFile(ctx context.Context, username string, key *rsa.PrivateKey, id [16]byte, newName string, oldMetadataVersion uint64) (uint64, error) {
	return c.mutateMetadata(ctx, username, key, "/rename-file", id, oldMetadataVersion, nil, &newName)
}

// DeleteFile tombstones id, enforcing optimistic concurrency on oldMetadataVersion.
func (c *Client) DeleteFile(ctx context.Context, username string, key *rsa.PrivateKey, id [16]byte, oldMetadataVersion uint64) (uint64, error) {
	return c.mutateMetadata(ctx, username, key, "/delete-file", id, oldMetadataVersion, nil, nil)
}

func (c *Client) mutateMetadata(ctx context.Context, username string, key *rsa.PrivateKey, path string, id [16]byte, oldMetadataVersion uint64, newParent *[16]byte, newName *string) (uint64, error) {
	auth, err := newSignedAuth(username, key)
	if err != nil {
		return 0, err
	}

	req := metadataMutationRequest{
		Auth:               auth,
		ID:                 id,
		OldMetadataVersion: oldMetadataVersion,
		NewParent:          newParent,
		NewName:            newName,
	}

	var resp metadataMutationResponse
	if err := c.doRetry(ctx, http.MethodPost, path, req, &resp); err != nil {
		return 0, err
	}

	return resp.MetadataVersion, nil
}

// GetDocument fetches the ciphertext body of id at contentVersion.
func (c *Client) GetDocument(ctx context.Context, username string, key *rsa.PrivateKey, id [16]byte, contentVersion uint64) (*store.Document, error) {
	auth, err := newSignedAuth(username, key)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/get-document?id=%x&content_version=%d", id, contentVersion)

	var doc store.Document
	if err := c.doRetryAuth(ctx, http.MethodGet, path, auth, nil, &doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

// doRetry signs nothing itself; it is used where the body already carries a
// signedAuth field.
func (c *Client) doRetry(ctx context.Context, method, path string, body, out any) error {
	return c.doRetryAuth(ctx, method, path, signedAuth{}, body, out)
}

// doRetryAuth performs up to maxAttempts attempts of one logical call,
// waiting calcBackoff(attempt) between retryable failures. Mirrors the
// teacher's doRetry/doOnce split: doOnce performs exactly one HTTP
// round-trip, doRetryAuth owns the loop and backoff.
func (c *Client) doRetryAuth(ctx context.Context, method, path string, auth signedAuth, body, out any) error {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := calcBackoff(attempt)

			c.logger.Debug("rpc: retrying", "path", path, "attempt", attempt, "wait", wait)

			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			}

			timeSleep(wait)
		}

		statusCode, err := c.doOnce(ctx, method, path, auth, body, out)
		if err == nil {
			return nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}

		if !isRetryable(statusCode) {
			return err
		}
	}

	return fmt.Errorf("%w: exhausted %d attempts: %v", ErrTransport, maxAttempts, lastErr)
}

// doOnce performs exactly one HTTP round trip and classifies the result.
// statusCode is returned even on error so the retry loop can consult
// isRetryable without re-parsing the error.
func (c *Client) doOnce(ctx context.Context, method, path string, auth signedAuth, body, out any) (int, error) {
	var reqBody io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("rpc: encoding request: %w", err)
		}

		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("%w: building request: %v", ErrTransport, err)
	}

	req.Header.Set("Content-Type", "application/json")

	if auth.Username != "" {
		req.Header.Set("X-Vaultsync-Username", auth.Username)
		req.Header.Set("X-Vaultsync-Timestamp", strconv.FormatInt(auth.Timestamp, 10))
		req.Header.Set("X-Vaultsync-Signature", base64.StdEncoding.EncodeToString(auth.Signature))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}

	if resp.StatusCode >= 300 {
		return resp.StatusCode, c.classifyErrorBody(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("rpc: decoding response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

type serverErrorBody struct {
	Code string `json:"error"`
}

func (c *Client) classifyErrorBody(statusCode int, data []byte) error {
	var body serverErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return &ServerError{StatusCode: statusCode, Code: "unknown", Err: classifyStatus(statusCode)}
	}

	return &ServerError{StatusCode: statusCode, Code: body.Code, Err: classifyLogicalError(body.Code)}
}

// calcBackoff returns base*factor^(attempt-1), capped at maxBackoff, with up
// to 20% jitter to avoid thundering-herd retries against the server.
func calcBackoff(attempt int) time.Duration {
	d := baseBackoff

	for i := 1; i < attempt; i++ {
		d *= backoffFactor

		if d > maxBackoff {
			d = maxBackoff

			break
		}
	}

	jitter := time.Duration(rand.Int63n(int64(d) / 5))

	return d + jitter
}
