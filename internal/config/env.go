package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "VAULTSYNC_CONFIG"
	EnvAccount = "VAULTSYNC_ACCOUNT"
	EnvSyncDir = "VAULTSYNC_SYNC_DIR"
)

// EnvOverrides holds values derived from environment variables.
// These are resolved by ReadEnvOverrides and applied by Resolve.
type EnvOverrides struct {
	ConfigPath string // VAULTSYNC_CONFIG: override config file path
	Account    string // VAULTSYNC_ACCOUNT: username override
	SyncDir    string // VAULTSYNC_SYNC_DIR: sync directory override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Account:    os.Getenv(EnvAccount),
		SyncDir:    os.Getenv(EnvSyncDir),
	}
}
