package main

import (
	"errors"

	"github.com/vaultsync/core/internal/rpc"
	"github.com/vaultsync/core/internal/store"
	"github.com/vaultsync/core/internal/syncengine"
)

// errConflictsPresent is returned by the sync command's RunE when a sync
// completes successfully but leaves one or more user-visible conflicts,
// mapping to exit code 2 per the CLI's documented exit code scheme.
var errConflictsPresent = errors.New("sync completed with unresolved conflicts")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}

// classifyExitCode maps an error to the exit code scheme: 0 success,
// 1 user error, 2 sync conflict, 3 network error, 4 corruption.
func classifyExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, store.ErrCorrupt):
		return 4
	case errors.Is(err, rpc.ErrTransport), errors.Is(err, rpc.ErrTimeout), errors.Is(err, rpc.ErrThrottled), errors.Is(err, rpc.ErrServerError):
		return 3
	case errors.Is(err, syncengine.ErrTooManyRetries), errors.Is(err, errConflictsPresent):
		return 2
	default:
		return 1
	}
}
