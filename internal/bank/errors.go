package bank

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates the requested user, account or payee is absent.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds indicates the account balance cannot cover the
	// requested amount. Nothing is mutated.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrMalformedInput indicates a request that fails validation before
	// touching the store.
	ErrMalformedInput = errors.New("malformed input")

	// ErrContention is a transient write-write conflict. Retried internally;
	// callers outside the store never see it directly.
	ErrContention = errors.New("store contention")

	// ErrStoreUnavailable escalates ErrContention once the retry budget is
	// exhausted.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// isLocked reports whether err is a SQLite lock/busy condition.
func isLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}
