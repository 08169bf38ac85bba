package config

// Default values for configuration options, used both as the starting point
// for TOML decoding (so unset fields retain defaults) and as the fallback
// when no config file exists.
const (
	defaultAPILocation     = "https://api.vaultsync.example/v1"
	defaultMaxDocumentSize = "100MB"
	defaultPollInterval    = "30s"
	defaultConflictSuffix  = "conflict"
	defaultMaxSyncRetries  = 3
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultConnectTimeout  = "10s"
	defaultRequestTimeout  = "10s"
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Account: defaultAccountConfig(),
		Sync:    defaultSyncConfig(),
		Logging: defaultLoggingConfig(),
		Network: defaultNetworkConfig(),
	}
}

func defaultAccountConfig() AccountConfig {
	return AccountConfig{
		APILocation: defaultAPILocation,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxDocumentSize: defaultMaxDocumentSize,
		PollInterval:    defaultPollInterval,
		ConflictSuffix:  defaultConflictSuffix,
		MaxSyncRetries:  defaultMaxSyncRetries,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		RequestTimeout: defaultRequestTimeout,
	}
}
