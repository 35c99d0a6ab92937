// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"time"
)

// StructuredConfig is the top-level configuration container for the vault
// sync engine. It is populated by merging values from environment variables,
// command-line flags, and an optional JSON file.
//
// Struct tags:
//   - envPrefix — prefix applied to all nested env tag lookups (caarlos0/env).
//   - env       — direct environment variable name for scalar fields.
type StructuredConfig struct {
	// Engine holds the orchestrator tunables: trigger cadence, backoff
	// bounds, and retry budgets.
	Engine Engine `envPrefix:"ENGINE_" json:"engine"`

	// Store holds the local persistence locations.
	Store Store `envPrefix:"STORE_" json:"store"`

	// Crypto holds the key-derivation cost parameters for this device.
	Crypto Crypto `envPrefix:"CRYPTO_" json:"crypto"`

	// Provider holds the backend connection settings.
	Provider Provider `envPrefix:"PROVIDER_" json:"provider"`

	// JSONFilePath is the optional path to a JSON configuration file.
	// When non-empty, the file is parsed and merged on top of the values
	// already loaded from environment variables and flags.
	// Populated via the CONFIG environment variable or the -c / -config flag.
	JSONFilePath string `env:"CONFIG" json:"-"`
}

// Engine holds the orchestrator's timing and retry settings.
type Engine struct {
	// DeviceID is the stable UUID identifying this device in change
	// journals and container headers. Generated on first run when empty.
	// Env: ENGINE_DEVICE_ID
	DeviceID string `env:"DEVICE_ID" json:"device_id"`

	// Debounce is how long after the last local edit the deferred push
	// waits (e.g. "2s").
	// Env: ENGINE_DEBOUNCE
	Debounce time.Duration `env:"DEBOUNCE" json:"debounce"`

	// PeriodicInterval is the background full-sync cadence (e.g. "5m").
	// Env: ENGINE_PERIODIC_INTERVAL
	PeriodicInterval time.Duration `env:"PERIODIC_INTERVAL" json:"periodic_interval"`

	// BackoffFloor is the first retry delay after a transient backend
	// failure (e.g. "10s").
	// Env: ENGINE_BACKOFF_FLOOR
	BackoffFloor time.Duration `env:"BACKOFF_FLOOR" json:"backoff_floor"`

	// BackoffCap is the maximum retry delay (e.g. "1h").
	// Env: ENGINE_BACKOFF_CAP
	BackoffCap time.Duration `env:"BACKOFF_CAP" json:"backoff_cap"`

	// PushRetryBudget bounds the pull-merge-push loop when conditional
	// uploads keep losing races.
	// Env: ENGINE_PUSH_RETRY_BUDGET
	PushRetryBudget int `env:"PUSH_RETRY_BUDGET" json:"push_retry_budget"`

	// JournalRetention caps change-journal rows kept per vault.
	// Env: ENGINE_JOURNAL_RETENTION
	JournalRetention int `env:"JOURNAL_RETENTION" json:"journal_retention"`
}

// Store holds the on-disk locations of the local persistence layer.
type Store struct {
	// DBPath is the SQLite database file holding sync metadata, journals
	// and the pending-operation queue.
	// Env: STORE_DB_PATH
	DBPath string `env:"DB_PATH" json:"db_path"`

	// BlobDir is the directory holding one encrypted container per vault.
	// Env: STORE_BLOB_DIR
	BlobDir string `env:"BLOB_DIR" json:"blob_dir"`

	// SecretDir is the directory for sealed device secrets (tokens).
	// Env: STORE_SECRET_DIR
	SecretDir string `env:"SECRET_DIR" json:"secret_dir"`
}

// Crypto holds the KDF cost parameters. Zero values fall back to the
// recommended defaults; CalibrateBudget can lower the Argon2 memory cost to
// fit a wall-clock budget on slow targets.
type Crypto struct {
	// ArgonTime is the Argon2id time cost.
	// Env: CRYPTO_ARGON_TIME
	ArgonTime uint32 `env:"ARGON_TIME" json:"argon_time"`

	// ArgonMemoryKiB is the Argon2id memory cost in KiB.
	// Env: CRYPTO_ARGON_MEMORY_KIB
	ArgonMemoryKiB uint32 `env:"ARGON_MEMORY_KIB" json:"argon_memory_kib"`

	// ArgonThreads is the Argon2id parallelism degree.
	// Env: CRYPTO_ARGON_THREADS
	ArgonThreads uint8 `env:"ARGON_THREADS" json:"argon_threads"`

	// PBKDF2Iters is the PBKDF2-HMAC-SHA256 iteration count for the
	// fallback KDF.
	// Env: CRYPTO_PBKDF2_ITERS
	PBKDF2Iters int `env:"PBKDF2_ITERS" json:"pbkdf2_iters"`

	// CalibrateBudget, when non-zero, tunes the Argon2 memory cost down
	// until one derivation fits the budget (e.g. "500ms").
	// Env: CRYPTO_CALIBRATE_BUDGET
	CalibrateBudget time.Duration `env:"CALIBRATE_BUDGET" json:"calibrate_budget"`
}

// Provider holds the cloud backend connection settings.
type Provider struct {
	// Kind selects the backend adapter: drive, graph, dropbox or webdav.
	// Env: PROVIDER_KIND
	Kind string `env:"KIND" json:"kind"`

	// BaseURL is the backend endpoint (e.g. "https://dav.example.com").
	// Env: PROVIDER_BASE_URL
	BaseURL string `env:"BASE_URL" json:"base_url"`

	// RootPath is the backend folder under which vault containers live.
	// Env: PROVIDER_ROOT_PATH
	RootPath string `env:"ROOT_PATH" json:"root_path"`

	// Timeout is the per-request HTTP timeout (e.g. "30s").
	// Env: PROVIDER_TIMEOUT
	Timeout time.Duration `env:"TIMEOUT" json:"timeout"`

	// TokenSecret is the secret-store entry name holding the bearer token.
	// Env: PROVIDER_TOKEN_SECRET
	TokenSecret string `env:"TOKEN_SECRET" json:"token_secret"`
}

// GetStructuredConfig loads, merges, and validates the engine configuration
// from all available sources in the following priority order (last source
// wins for non-zero fields):
//  1. Environment variables
//  2. Command-line flags
//  3. JSON file (path resolved from sources 1 and 2)
//
// Returns a fully populated *StructuredConfig or an error if any source
// fails to load or the final config fails validation.
func GetStructuredConfig() (*StructuredConfig, error) {
	return newConfigBuilder().
		withEnv().
		withFlags().
		withJSON().
		build()
}
