// Package idempotency builds the deterministic key that identifies a single
// scheduled occurrence of a (user, kind, date) event. It is intentionally
// pure: no I/O, no clock reads, no global state.
package idempotency

import "strings"

// Key formats the idempotency key for a scheduled occurrence:
//
//	{userID}:{messageType}:{occurrenceDate}:{timezone}
//
// occurrenceDate must already be an ISO-8601 (YYYY-MM-DD) string in the
// given zone; messageType is upper-cased by the caller's registry before
// reaching here, not by this function, so Key stays a pure string join.
func Key(userID, messageType, occurrenceDate, zone string) string {
	return strings.Join([]string{userID, messageType, occurrenceDate, zone}, ":")
}
