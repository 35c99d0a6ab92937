// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// parseJSON reads and decodes a JSON configuration file into a
// StructuredConfig. The file uses the same shape as the struct's json tags:
//
//	{
//	  "engine":   {"debounce": "2s", "periodic_interval": "5m"},
//	  "store":    {"db_path": "/var/lib/vault-sync/sync.db"},
//	  "provider": {"kind": "webdav", "base_url": "https://dav.example.com"}
//	}
//
// Duration fields accept Go duration strings.
func parseJSON(path string) (*StructuredConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJSONFileNotFound, err)
	}

	var raw jsonConfig
	if err = json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJSONMalformed, err)
	}
	return raw.toConfig()
}

// jsonConfig mirrors StructuredConfig with string durations so the file can
// say "5m" instead of nanosecond integers.
type jsonConfig struct {
	Engine struct {
		DeviceID         string `json:"device_id"`
		Debounce         string `json:"debounce"`
		PeriodicInterval string `json:"periodic_interval"`
		BackoffFloor     string `json:"backoff_floor"`
		BackoffCap       string `json:"backoff_cap"`
		PushRetryBudget  int    `json:"push_retry_budget"`
		JournalRetention int    `json:"journal_retention"`
	} `json:"engine"`
	Store  Store `json:"store"`
	Crypto struct {
		ArgonTime       uint32 `json:"argon_time"`
		ArgonMemoryKiB  uint32 `json:"argon_memory_kib"`
		ArgonThreads    uint8  `json:"argon_threads"`
		PBKDF2Iters     int    `json:"pbkdf2_iters"`
		CalibrateBudget string `json:"calibrate_budget"`
	} `json:"crypto"`
	Provider struct {
		Kind        string `json:"kind"`
		BaseURL     string `json:"base_url"`
		RootPath    string `json:"root_path"`
		Timeout     string `json:"timeout"`
		TokenSecret string `json:"token_secret"`
	} `json:"provider"`
}

func (j jsonConfig) toConfig() (*StructuredConfig, error) {
	cfg := &StructuredConfig{
		Store: j.Store,
		Crypto: Crypto{
			ArgonTime:      j.Crypto.ArgonTime,
			ArgonMemoryKiB: j.Crypto.ArgonMemoryKiB,
			ArgonThreads:   j.Crypto.ArgonThreads,
			PBKDF2Iters:    j.Crypto.PBKDF2Iters,
		},
	}

	cfg.Engine.DeviceID = j.Engine.DeviceID
	cfg.Engine.PushRetryBudget = j.Engine.PushRetryBudget
	cfg.Engine.JournalRetention = j.Engine.JournalRetention
	cfg.Provider.Kind = j.Provider.Kind
	cfg.Provider.BaseURL = j.Provider.BaseURL
	cfg.Provider.RootPath = j.Provider.RootPath
	cfg.Provider.TokenSecret = j.Provider.TokenSecret

	durations := []struct {
		raw  string
		dest *time.Duration
	}{
		{j.Engine.Debounce, &cfg.Engine.Debounce},
		{j.Engine.PeriodicInterval, &cfg.Engine.PeriodicInterval},
		{j.Engine.BackoffFloor, &cfg.Engine.BackoffFloor},
		{j.Engine.BackoffCap, &cfg.Engine.BackoffCap},
		{j.Crypto.CalibrateBudget, &cfg.Crypto.CalibrateBudget},
		{j.Provider.Timeout, &cfg.Provider.Timeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrJSONMalformed, d.raw, err)
		}
		*d.dest = parsed
	}

	return cfg, nil
}
