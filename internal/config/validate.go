package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Validation range constants.
const (
	minConnectTimeout = 1 * time.Second
	minRequestTimeout = 1 * time.Second
	minPollInterval   = 1 * time.Second
	minSyncRetries    = 0
	maxSyncRetries    = 20
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAccount(&cfg.Account)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateAccount(a *AccountConfig) []error {
	var errs []error

	if a.APILocation != "" {
		u, err := url.Parse(a.APILocation)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("api_location: must be an absolute URL, got %q", a.APILocation))
		}
	}

	if a.DataDir != "" && !filepath.IsAbs(a.DataDir) {
		errs = append(errs, fmt.Errorf("data_dir: must be absolute, got %q", a.DataDir))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.SyncDir != "" && !filepath.IsAbs(s.SyncDir) {
		errs = append(errs, fmt.Errorf("sync_dir: must be absolute, got %q", s.SyncDir))
	}

	if s.MaxDocumentSize != "" {
		if _, err := parseSize(s.MaxDocumentSize); err != nil {
			errs = append(errs, fmt.Errorf("max_document_size: %w", err))
		}
	}

	errs = append(errs, validateDurationMin("poll_interval", s.PollInterval, minPollInterval)...)

	if strings.TrimSpace(s.ConflictSuffix) == "" {
		errs = append(errs, errors.New("conflict_suffix: must not be empty"))
	}

	if s.MaxSyncRetries < minSyncRetries || s.MaxSyncRetries > maxSyncRetries {
		errs = append(errs, fmt.Errorf("max_sync_retries: must be between %d and %d, got %d",
			minSyncRetries, maxSyncRetries, s.MaxSyncRetries))
	}

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("request_timeout", n.RequestTimeout, minRequestTimeout)...)

	return errs
}
