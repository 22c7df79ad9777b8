package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrDraftConflict means a merge lost its version check twice. Transient;
	// the whole message is safe to retry.
	ErrDraftConflict = errors.New("draft was modified concurrently")

	// ErrInsufficientCredit halts the publish workflow before pending_publish.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrNoActiveDraft is returned when publish/delete arrives without a draft.
	ErrNoActiveDraft = errors.New("no active draft")

	// ErrNothingPending is returned for a confirm/deny with no pending action.
	ErrNothingPending = errors.New("nothing pending confirmation")

	// ErrConfirmationExpired is returned for a confirm after the window closed.
	// The pending state has been reverted; the action is not performed.
	ErrConfirmationExpired = errors.New("confirmation window expired")

	// ErrExtractionUnavailable is returned only when every field extractor
	// timed out; single timeouts degrade to per-field no-ops.
	ErrExtractionUnavailable = errors.New("extraction capability unavailable")
)

// PublishCommitError reports a publish write that failed after the wallet was
// debited. When ReversalErr is non-nil the compensating credit also failed and
// wallet/listing state has diverged: manual reconciliation is required.
type PublishCommitError struct {
	DraftID     string
	UserID      string
	Cause       error
	ReversalErr error
}

func (e *PublishCommitError) Error() string {
	if e.ReversalErr != nil {
		return fmt.Sprintf("publish commit failed for draft %s and wallet reversal failed for user %s: %v (reversal: %v)",
			e.DraftID, e.UserID, e.Cause, e.ReversalErr)
	}
	return fmt.Sprintf("publish commit failed for draft %s, debit reversed: %v", e.DraftID, e.Cause)
}

func (e *PublishCommitError) Unwrap() error { return e.Cause }
