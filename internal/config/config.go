// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the vaultsync CLI.
package config

// Config is the top-level configuration structure. A single Config serves
// one local account (one FileMetadata tree); vaultsync has no multi-profile
// or multi-drive concept, so there is no per-section override table here.
type Config struct {
	Account AccountConfig `toml:"account"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// AccountConfig identifies the local account and the coordination server it
// talks to.
type AccountConfig struct {
	Username    string `toml:"username"`
	APILocation string `toml:"api_location"`
	DataDir     string `toml:"data_dir"` // directory holding the local metadata store file
}

// SyncConfig controls sync engine behavior.
type SyncConfig struct {
	SyncDir         string `toml:"sync_dir"`         // local file tree root, for CLI-visible paths
	MaxDocumentSize string `toml:"max_document_size"`
	PollInterval    string `toml:"poll_interval"`    // validated and shown only; --watch does no periodic rescan
	ConflictSuffix  string `toml:"conflict_suffix"`  // validated and shown only; conflict siblings always use "conflict"
	MaxSyncRetries  int    `toml:"max_sync_retries"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig holds RPC client settings. They are validated and shown by
// `config show`; the RPC client does not read them and uses its own fixed
// timeout.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	RequestTimeout string `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}
