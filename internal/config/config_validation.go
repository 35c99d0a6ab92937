// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/MKhiriev/go-vault-sync/models"
)

// validate checks the merged configuration for values that would only fail
// later and more confusingly. Empty values are fine — callers apply
// defaults — but present values must be well-formed.
func (c *StructuredConfig) validate() error {
	if c.Engine.DeviceID != "" {
		if _, err := uuid.Parse(c.Engine.DeviceID); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidDeviceID, c.Engine.DeviceID)
		}
	}

	if c.Provider.Kind != "" {
		switch models.ProviderKind(c.Provider.Kind) {
		case models.ProviderDrive, models.ProviderGraph, models.ProviderDropbox,
			models.ProviderWebDAV, models.ProviderMemory:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownProviderKind, c.Provider.Kind)
		}
	}

	if c.Engine.PushRetryBudget < 0 {
		return fmt.Errorf("push retry budget must not be negative, got %d", c.Engine.PushRetryBudget)
	}
	if c.Engine.JournalRetention < 0 {
		return fmt.Errorf("journal retention must not be negative, got %d", c.Engine.JournalRetention)
	}
	if c.Engine.BackoffCap != 0 && c.Engine.BackoffFloor > c.Engine.BackoffCap {
		return fmt.Errorf("backoff floor %s exceeds cap %s", c.Engine.BackoffFloor, c.Engine.BackoffCap)
	}
	return nil
}
