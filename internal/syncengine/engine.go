// Package syncengine implements the three-phase sync cycle: Pull server
// updates into the local store, Merge them with local dirty state (resolving
// field-level conflicts and breaking any move cycles), then Push the
// resulting local intent back to the server.
package syncengine

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vaultsync/core/internal/crypto"
	"github.com/vaultsync/core/internal/rpc"
	"github.com/vaultsync/core/internal/store"
	"github.com/vaultsync/core/internal/work"
)

// Sentinel errors.
var (
	ErrSyncInProgress    = errors.New("syncengine: sync already in progress")
	ErrCancelled         = errors.New("syncengine: sync cancelled")
	ErrInvariantViolated = errors.New("syncengine: invariant violated")
	ErrTooManyRetries    = errors.New("syncengine: exceeded max sync retries")
)

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	Store          *store.Store
	RPC            *rpc.Client
	Logger         *slog.Logger
	MaxSyncRetries int  // bounded restarts from Phase A on IncorrectOldVersion; 0 uses the default of 3
	Debug          bool // when true, InvariantViolated panics instead of returning an error
}

// Report summarizes the result of one Sync call.
type Report struct {
	Pulled      int
	Pushed      int
	Deleted     int
	Quarantined int // server-sourced files rejected for failing signature verification
	Conflicts   []Conflict
	Duration    time.Duration
}

// Engine runs the sync cycle against one local store and one server.
type Engine struct {
	store  *store.Store
	rpc    *rpc.Client
	logger *slog.Logger

	maxRetries int
	debug      bool

	mu        sync.Mutex
	syncingAt time.Time
}

// NewEngine builds an Engine. cfg.MaxSyncRetries defaults to 3 when zero.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxRetries := cfg.MaxSyncRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	return &Engine{
		store:      cfg.Store,
		rpc:        cfg.RPC,
		logger:     logger,
		maxRetries: maxRetries,
		debug:      cfg.Debug,
	}
}

// Sync runs one complete Pull -> Merge -> Push cycle. Concurrent calls on
// the same Engine return ErrSyncInProgress immediately rather than blocking,
// mirroring the store's sole-writer-transaction model at the engine level.
func (e *Engine) Sync(ctx context.Context) (*Report, error) {
	if !e.tryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.unlock()

	start := time.Now()

	acct, err := e.store.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("syncengine: loading account: %w", err)
	}

	priv, err := crypto.ParsePrivateKey(acct.PrivateKeyDER)
	if err != nil {
		return nil, fmt.Errorf("syncengine: parsing account key: %w", err)
	}

	report := &Report{}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return report, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}

		restart, err := e.runOnce(ctx, acct.Username, priv, report)
		if err != nil {
			return report, err
		}

		if !restart {
			break
		}

		if attempt >= e.maxRetries {
			return report, ErrTooManyRetries
		}

		e.logger.Warn("syncengine: restarting after IncorrectOldVersion", "attempt", attempt+1)
	}

	report.Duration = time.Since(start)

	e.logger.Info("sync cycle complete",
		slog.Int("pulled", report.Pulled),
		slog.Int("pushed", report.Pushed),
		slog.Int("deleted", report.Deleted),
		slog.Int("quarantined", report.Quarantined),
		slog.Int("conflicts", len(report.Conflicts)),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

// runOnce executes Phase A, B and C once. It returns restart=true when a
// push hit IncorrectOldVersion and the whole cycle must restart from Phase A.
func (e *Engine) runOnce(ctx context.Context, username string, priv *rsa.PrivateKey, report *Report) (restart bool, err error) {
	state, err := e.store.GetSyncState()
	if err != nil {
		return false, fmt.Errorf("syncengine: loading sync state: %w", err)
	}

	serverUpdates, remoteMoves, err := e.pull(ctx, username, priv, state.LastSyncedMetadataVersion, report)
	if err != nil {
		return false, err
	}

	local, err := e.store.All()
	if err != nil {
		return false, fmt.Errorf("syncengine: loading local files: %w", err)
	}

	conflicts, err := e.merge(local, serverUpdates, remoteMoves, priv)
	if err != nil {
		return false, err
	}

	report.Conflicts = append(report.Conflicts, conflicts...)

	local, err = e.store.All()
	if err != nil {
		return false, fmt.Errorf("syncengine: reloading local files after merge: %w", err)
	}

	units := work.Calculate(local, serverUpdates)

	restart, err = e.push(ctx, username, priv, units, report)
	if err != nil || restart {
		return restart, err
	}

	newWatermark := state.LastSyncedMetadataVersion

	for _, srv := range serverUpdates {
		if srv.MetadataVersion > newWatermark {
			newWatermark = srv.MetadataVersion
		}
	}

	state.LastSyncedMetadataVersion = newWatermark
	state.LastSyncedAtUnix = time.Now().Unix()

	if err := e.store.PutSyncState(nil, state); err != nil {
		return false, fmt.Errorf("syncengine: advancing sync watermark: %w", err)
	}

	return false, nil
}

// tryLock acquires the engine's single-sync-at-a-time guard without blocking.
func (e *Engine) tryLock() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.syncingAt.IsZero() {
		return false
	}

	e.syncingAt = time.Now()

	return true
}

func (e *Engine) unlock() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.syncingAt = time.Time{}
}

// invariantViolated reports a bug: in debug mode it panics with an
// actionable message so the failure is loud during development; in release
// it returns a wrapped ErrInvariantViolated so the caller can fail the sync
// without crashing the process.
func (e *Engine) invariantViolated(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)

	if e.debug {
		panic(fmt.Sprintf("%s: %s", ErrInvariantViolated, msg))
	}

	return fmt.Errorf("%w: %s", ErrInvariantViolated, msg)
}
