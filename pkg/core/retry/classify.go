package retry

import (
	"context"
	"errors"
	"strings"
	"syscall"

	"github.com/voxmeet/voxmeet/pkg/core/providers"
)

// Verdict is the transient/permanent decision for a provider failure.
// The rest of the system depends only on this verdict, never on the
// vendor-specific fields that produced it.
type Verdict int

const (
	// Permanent failures surface immediately; retrying cannot help.
	Permanent Verdict = iota
	// Transient failures are retried under the backoff policy.
	Transient
)

// String returns a human-readable verdict name.
func (v Verdict) String() string {
	if v == Transient {
		return "transient"
	}
	return "permanent"
}

// transientCodes are the provider error code names treated as retryable.
var transientCodes = map[string]struct{}{
	"DEADLINE_EXCEEDED":   {},
	"RESOURCE_EXHAUSTED":  {},
	"UNAVAILABLE":         {},
	"INTERNAL":            {},
	"SERVICE_UNAVAILABLE": {},
}

// transientStatuses are the HTTP-style statuses treated as retryable.
var transientStatuses = map[int]struct{}{
	408: {},
	429: {},
	500: {},
	502: {},
	503: {},
	504: {},
}

// transientFragments are case-insensitive message substrings treated as
// retryable when neither a code nor a status matched.
var transientFragments = []string{
	"timeout",
	"deadline",
	"unavailable",
	"resource exhausted",
	"rate limit",
	"too many requests",
}

// Classify decides whether an error is worth retrying.
func Classify(err error) Verdict {
	if err == nil {
		return Permanent
	}

	// Context cancellation is the caller giving up, not the provider failing.
	if errors.Is(err, context.Canceled) {
		return Permanent
	}

	var perr *providers.Error
	if errors.As(err, &perr) {
		if _, ok := transientCodes[strings.ToUpper(perr.Code)]; ok {
			return Transient
		}
		if _, ok := transientStatuses[perr.Status]; ok {
			return Transient
		}
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return Transient
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(msg, fragment) {
			return Transient
		}
	}

	return Permanent
}

// IsQuota reports whether the failure is quota exhaustion. Quota errors
// are transient for batch calls but disable automatic restart of
// streaming transcription to avoid tight reconnect loops.
func IsQuota(err error) bool {
	var perr *providers.Error
	if errors.As(err, &perr) {
		if strings.ToUpper(perr.Code) == "RESOURCE_EXHAUSTED" || perr.Status == 429 {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resource exhausted") || strings.Contains(msg, "quota")
}
