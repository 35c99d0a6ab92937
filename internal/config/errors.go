// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import "errors"

var (
	// ErrJSONFileNotFound is returned when the configured JSON file cannot
	// be read.
	ErrJSONFileNotFound = errors.New("json config file not found")

	// ErrJSONMalformed is returned when the JSON file fails to decode.
	ErrJSONMalformed = errors.New("json config file malformed")

	// ErrUnknownProviderKind is returned by validation for an unrecognised
	// provider kind.
	ErrUnknownProviderKind = errors.New("unknown provider kind")

	// ErrInvalidDeviceID is returned when the configured device ID is not a
	// UUID.
	ErrInvalidDeviceID = errors.New("device id must be a UUID")
)
