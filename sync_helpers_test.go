package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/core/internal/config"
)

func TestStorePathUsesConfiguredDataDir(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Account: config.AccountConfig{DataDir: dir}}

	path, err := storePath(cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, storeFileName), path)
}

func TestOpenStoreAndEngine(t *testing.T) {
	dir := t.TempDir()
	cc := &CLIContext{
		Cfg: &config.Config{
			Account: config.AccountConfig{DataDir: dir, APILocation: "http://localhost:0"},
		},
		Logger: nil,
	}

	s, engine, err := openEngine(cc)
	require.NoError(t, err)
	require.NotNil(t, engine)
	defer s.Close()

	_, err = requireAccount(s)
	assert.Error(t, err)
}
