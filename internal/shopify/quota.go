package shopify

import (
	"strconv"
	"strings"
	"time"

	"github.com/jafarshop/catalogsync/internal/domain"
)

// DefaultRetryAfter is used when a 429 carries no usable Retry-After header
const DefaultRetryAfter = time.Second

// ParseRetryAfter parses the Retry-After header (whole or fractional seconds).
// Missing or invalid values fall back to DefaultRetryAfter.
func ParseRetryAfter(retryAfter string) time.Duration {
	retryAfter = strings.TrimSpace(retryAfter)
	if retryAfter == "" {
		return DefaultRetryAfter
	}
	seconds, err := strconv.ParseFloat(retryAfter, 64)
	if err != nil || seconds < 0 {
		return DefaultRetryAfter
	}
	return time.Duration(seconds * float64(time.Second))
}

// ParseCallLimit parses "<calls_made>/<call_limit>" into a quota snapshot
func ParseCallLimit(header string, observedAt time.Time) (domain.QuotaSnapshot, bool) {
	made, limit, ok := strings.Cut(strings.TrimSpace(header), "/")
	if !ok {
		return domain.QuotaSnapshot{}, false
	}
	m, err := strconv.Atoi(strings.TrimSpace(made))
	if err != nil || m < 0 {
		return domain.QuotaSnapshot{}, false
	}
	l, err := strconv.Atoi(strings.TrimSpace(limit))
	if err != nil || l <= 0 {
		return domain.QuotaSnapshot{}, false
	}
	remaining := l - m
	if remaining < 0 {
		remaining = 0
	}
	return domain.QuotaSnapshot{Made: m, Limit: l, Remaining: remaining, ObservedAt: observedAt}, true
}
