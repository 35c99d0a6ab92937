// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// mapHTTPError converts a backend response into the engine's error taxonomy:
//
//	2xx            → nil
//	401            → ErrAuthExpired
//	403 quota/rate → transient (providers abuse 403 for throttling)
//	403 otherwise  → fatal
//	404            → ErrNotFound
//	409, 412       → ErrPreconditionFailed
//	429, 5xx       → transient, honoring Retry-After when present
//
// Every adapter routes all responses through this single mapper so the
// orchestrator sees one uniform taxonomy regardless of backend.
func mapHTTPError(resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return nil
	}

	body := strings.TrimSpace(string(resp.Body()))
	if body == "" {
		body = http.StatusText(code)
	}

	switch {
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrAuthExpired, body)

	case code == http.StatusForbidden:
		if isQuotaSignal(body) {
			return &TransientError{Status: code, Delay: parseRetryAfter(resp), cause: errors.New(body)}
		}
		return fmt.Errorf("backend refused request: %s", body)

	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, body)

	case code == http.StatusConflict, code == http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %s", ErrPreconditionFailed, body)

	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return &TransientError{Status: code, Delay: parseRetryAfter(resp), cause: errors.New(body)}

	default:
		return fmt.Errorf("http %d: %s", code, body)
	}
}

// isQuotaSignal recognises 403 bodies that actually mean "slow down".
// Drive-style backends report userRateLimitExceeded / quotaExceeded reasons
// with 403 rather than 429.
func isQuotaSignal(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "rate") || strings.Contains(lower, "quota")
}

// parseRetryAfter reads the Retry-After response header, accepting both the
// delta-seconds and HTTP-date forms. Returns zero when absent or invalid.
func parseRetryAfter(resp *resty.Response) time.Duration {
	raw := strings.TrimSpace(resp.Header().Get("Retry-After"))
	if raw == "" {
		return 0
	}

	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// wrapTransportErr classifies request-level failures (DNS, timeout, reset)
// that never produced a response. They are all transient from the
// orchestrator's point of view.
func wrapTransportErr(op string, err error) error {
	return &TransientError{cause: fmt.Errorf("%s: %w", op, err)}
}
