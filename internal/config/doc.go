// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package config loads the engine configuration from environment variables,
// command-line flags and an optional JSON file, merging the three sources
// with mergo (later non-zero values win) and validating the result.
package config
