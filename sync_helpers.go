package main

import (
	"fmt"
	"path/filepath"

	"github.com/vaultsync/core/internal/config"
	"github.com/vaultsync/core/internal/rpc"
	"github.com/vaultsync/core/internal/store"
	"github.com/vaultsync/core/internal/syncengine"
)

const storeFileName = "store.db"

// storePath resolves the local metadata store's file path from config,
// falling back to the platform default data directory when unset.
func storePath(cfg *config.Config) (string, error) {
	dir := cfg.Account.DataDir
	if dir == "" {
		dir = config.DefaultDataDir()
	}

	if dir == "" {
		return "", fmt.Errorf("cannot determine data directory — set account.data_dir in config")
	}

	return filepath.Join(dir, storeFileName), nil
}

// openStore opens the local metadata store for the resolved config.
func openStore(cc *CLIContext) (*store.Store, error) {
	path, err := storePath(cc.Cfg)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(path, cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	return s, nil
}

// openEngine opens the local store and builds a syncengine.Engine wired to
// the configured coordination server. Callers must close the returned store.
func openEngine(cc *CLIContext) (*store.Store, *syncengine.Engine, error) {
	s, err := openStore(cc)
	if err != nil {
		return nil, nil, err
	}

	client := rpc.NewClient(cc.Cfg.Account.APILocation, cc.Logger)

	engine := syncengine.NewEngine(syncengine.EngineConfig{
		Store:          s,
		RPC:            client,
		Logger:         cc.Logger,
		MaxSyncRetries: cc.Cfg.Sync.MaxSyncRetries,
		Debug:          flagDebug,
	})

	return s, engine, nil
}

// requireAccount loads the local account record, erroring with actionable
// guidance if no account has been set up yet.
func requireAccount(s *store.Store) (*store.Account, error) {
	acct, err := s.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("no account configured — run 'vaultsync new-account' or 'vaultsync import' first: %w", err)
	}

	return acct, nil
}
