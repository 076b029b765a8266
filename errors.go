package amqtx

import (
	"errors"
	"fmt"
)

// Failure codes used by the transaction layer. Link implementations may add
// their own codes; callers should branch with the Is* helpers rather than
// comparing strings.
const (
	// FailureIllegalState marks caller bugs: begin while a transaction is
	// still active, or commit/rollback against a transaction that is not the
	// current one. Never retried.
	FailureIllegalState = "illegal_state"
	// FailureRolledBack marks a definitive rollback notification: commit was
	// requested but the transaction cannot have committed.
	FailureRolledBack = "txn_rolled_back"
	// FailureLinkClosed marks protocol exchanges attempted on a coordinator
	// link that has already closed.
	FailureLinkClosed = "link_closed"
)

// Failure captures transport-neutral error details for protocol-surface
// failures so callers can branch on kind without inspecting messages.
type Failure struct {
	Code   string
	Detail string
}

func (f Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	}
	return f.Code
}

// IsIllegalState reports whether err is a Failure carrying
// FailureIllegalState.
func IsIllegalState(err error) bool {
	return failureCode(err) == FailureIllegalState
}

// IsRolledBack reports whether err is a Failure carrying FailureRolledBack.
func IsRolledBack(err error) bool {
	return failureCode(err) == FailureRolledBack
}

// IsLinkClosed reports whether err is a Failure carrying FailureLinkClosed.
func IsLinkClosed(err error) bool {
	return failureCode(err) == FailureLinkClosed
}

func failureCode(err error) string {
	var f Failure
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}
