// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"flag"
	"os"
	"time"
)

// ParseFlags parses all configuration flags from the process arguments.
//
// Flags:
//
//	-provider backend kind (drive, graph, dropbox, webdav)
//	-base-url backend endpoint
//	-root-path backend folder for vault containers
//	-db local sqlite database path
//	-blob-dir encrypted container cache directory
//	-secret-dir sealed device secret directory
//	-device-id device UUID
//	-debounce deferred push window (e.g. "2s")
//	-interval periodic sync interval (e.g. "5m")
//	-c/-config json file path with configs
func ParseFlags() *StructuredConfig {
	return parseFlags(flag.CommandLine, os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, args []string) *StructuredConfig {
	var (
		providerKind string
		baseURL      string
		rootPath     string
		dbPath       string
		blobDir      string
		secretDir    string
		deviceID     string
		debounce     time.Duration
		interval     time.Duration
		jsonPath     string
	)

	fs.StringVar(&providerKind, "provider", "", "Backend kind (drive, graph, dropbox, webdav)")
	fs.StringVar(&baseURL, "base-url", "", "Backend endpoint URL")
	fs.StringVar(&rootPath, "root-path", "", "Backend folder for vault containers")
	fs.StringVar(&dbPath, "db", "", "Local sqlite database path")
	fs.StringVar(&blobDir, "blob-dir", "", "Encrypted container cache directory")
	fs.StringVar(&secretDir, "secret-dir", "", "Sealed device secret directory")
	fs.StringVar(&deviceID, "device-id", "", "Device UUID")
	fs.DurationVar(&debounce, "debounce", 0, "Deferred push window (e.g. 2s)")
	fs.DurationVar(&interval, "interval", 0, "Periodic sync interval (e.g. 5m)")
	fs.StringVar(&jsonPath, "c", "", "JSON config file path")
	fs.StringVar(&jsonPath, "config", "", "JSON config file path (alias)")

	_ = fs.Parse(args)

	return &StructuredConfig{
		Engine: Engine{
			DeviceID:         deviceID,
			Debounce:         debounce,
			PeriodicInterval: interval,
		},
		Store: Store{
			DBPath:    dbPath,
			BlobDir:   blobDir,
			SecretDir: secretDir,
		},
		Provider: Provider{
			Kind:     providerKind,
			BaseURL:  baseURL,
			RootPath: rootPath,
		},
		JSONFilePath: jsonPath,
	}
}
