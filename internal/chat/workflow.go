package chat

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/pazarglobal/assistant/internal/session"
	"github.com/pazarglobal/assistant/internal/store"
	"github.com/pazarglobal/assistant/internal/telemetry"
)

// Workflow drives the confirmation-gated publish and delete state machines.
// Publishing costs credits; the debit and the publish commit are separate
// writes, reconciled by a compensating credit when the commit fails.
type Workflow struct {
	drafts         DraftStore
	wallet         WalletStore
	audit          Auditor
	publishCost    int64
	confirmTimeout time.Duration
	logger         *log.Logger
	tele           *telemetry.Telemetry
	now            func() time.Time

	// OnPublish is called after a successful publish commit, e.g. to feed
	// the keyword index. Optional.
	OnPublish func(store.Listing)
}

func NewWorkflow(drafts DraftStore, wallet WalletStore, audit Auditor, publishCost int64, confirmTimeout time.Duration, logger *log.Logger, tele *telemetry.Telemetry) *Workflow {
	return &Workflow{
		drafts:         drafts,
		wallet:         wallet,
		audit:          audit,
		publishCost:    publishCost,
		confirmTimeout: confirmTimeout,
		logger:         logger,
		tele:           tele,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// ConfirmResult reports which pending action a confirm resolved and what it
// produced. Listing is set only for a publish.
type ConfirmResult struct {
	Kind    string
	Draft   store.Draft
	Listing *store.Listing
}

// RequestPublish validates the active draft and the wallet balance, moves the
// draft to pending_publish and arms the confirmation window. The wallet is
// only checked here; the debit happens on confirm.
func (w *Workflow) RequestPublish(ctx context.Context, sess *session.Session) (store.Draft, error) {
	if sess.ActiveDraftID == "" {
		return store.Draft{}, ErrNoActiveDraft
	}
	d, err := w.drafts.GetDraft(ctx, sess.ActiveDraftID)
	if err != nil {
		return store.Draft{}, err
	}
	if d.Status != store.DraftStatusInProgress {
		return store.Draft{}, ErrNoActiveDraft
	}

	balance, err := w.wallet.GetBalance(ctx, sess.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.Draft{}, err
	}
	if balance < w.publishCost {
		// Draft stays in_progress so the user can top up and retry.
		return store.Draft{}, ErrInsufficientCredit
	}

	d, err = w.transition(ctx, d, store.DraftStatusInProgress, store.DraftStatusPendingPublish)
	if err != nil {
		return store.Draft{}, err
	}
	sess.Pending = &session.PendingAction{
		Kind:      session.PendingPublish,
		DraftID:   d.ID,
		ExpiresAt: w.now().Add(w.confirmTimeout),
	}
	return d, nil
}

// RequestDelete arms the confirmation window for discarding the active draft.
// The draft itself is untouched until the confirm arrives.
func (w *Workflow) RequestDelete(ctx context.Context, sess *session.Session) (store.Draft, error) {
	if sess.ActiveDraftID == "" {
		return store.Draft{}, ErrNoActiveDraft
	}
	d, err := w.drafts.GetDraft(ctx, sess.ActiveDraftID)
	if err != nil {
		return store.Draft{}, err
	}
	if d.Status != store.DraftStatusInProgress {
		return store.Draft{}, ErrNoActiveDraft
	}
	sess.Pending = &session.PendingAction{
		Kind:      session.PendingDelete,
		DraftID:   d.ID,
		ExpiresAt: w.now().Add(w.confirmTimeout),
	}
	return d, nil
}

// Confirm executes the pending action. An expired window reverts any
// pending_publish transition and returns ErrConfirmationExpired without
// performing the action. The pending marker is always cleared.
func (w *Workflow) Confirm(ctx context.Context, sess *session.Session) (ConfirmResult, error) {
	p := sess.Pending
	if p == nil {
		return ConfirmResult{}, ErrNothingPending
	}
	sess.Pending = nil

	if p.Expired(w.now()) {
		if p.Kind == session.PendingPublish {
			w.revertPendingPublish(ctx, p.DraftID)
		}
		return ConfirmResult{}, ErrConfirmationExpired
	}

	switch p.Kind {
	case session.PendingPublish:
		return w.confirmPublish(ctx, sess, p.DraftID)
	case session.PendingDelete:
		return w.confirmDelete(ctx, sess, p.DraftID)
	default:
		return ConfirmResult{}, ErrNothingPending
	}
}

// Deny cancels the pending action. A pending publish is moved back to
// in_progress; nothing is charged or deleted.
func (w *Workflow) Deny(ctx context.Context, sess *session.Session) (string, error) {
	p := sess.Pending
	if p == nil {
		return "", ErrNothingPending
	}
	sess.Pending = nil
	if p.Kind == session.PendingPublish {
		w.revertPendingPublish(ctx, p.DraftID)
	}
	return p.Kind, nil
}

func (w *Workflow) confirmPublish(ctx context.Context, sess *session.Session, draftID string) (ConfirmResult, error) {
	d, err := w.drafts.GetDraft(ctx, draftID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if d.Status != store.DraftStatusPendingPublish {
		// The sweeper or a concurrent deny moved the draft back.
		return ConfirmResult{}, ErrConfirmationExpired
	}

	if err := w.wallet.Debit(ctx, sess.UserID, w.publishCost, "publish_listing:"+draftID); err != nil {
		// Any debit failure releases the draft so the user can retry;
		// nothing was charged.
		w.revertPendingPublish(ctx, draftID)
		if errors.Is(err, store.ErrInsufficientCredit) {
			return ConfirmResult{}, ErrInsufficientCredit
		}
		return ConfirmResult{}, err
	}

	listing, err := w.drafts.PublishDraft(ctx, d)
	if err != nil {
		if w.tele != nil {
			w.tele.PublishFailures.Inc()
		}
		w.revertPendingPublish(ctx, draftID)
		if credErr := w.wallet.Credit(ctx, sess.UserID, w.publishCost, store.TransactionReversal, "publish_reversal:"+draftID); credErr != nil {
			// Wallet and listing state have diverged; needs reconciliation.
			if w.tele != nil {
				w.tele.ReversalFailures.Inc()
			}
			w.logger.Printf("ALERT publish reversal failed: draft=%s user=%s cause=%v reversal=%v", draftID, sess.UserID, err, credErr)
			return ConfirmResult{}, &PublishCommitError{DraftID: draftID, UserID: sess.UserID, Cause: err, ReversalErr: credErr}
		}
		return ConfirmResult{}, &PublishCommitError{DraftID: draftID, UserID: sess.UserID, Cause: err}
	}

	sess.ActiveDraftID = ""
	if w.tele != nil {
		w.tele.Publishes.Inc()
	}
	if w.audit != nil {
		if err := w.audit.LogAction(ctx, "publish", "listing", listing.ID, sess.UserID, map[string]interface{}{
			"draft_id": draftID,
			"price":    listing.Price,
			"cost":     w.publishCost,
		}); err != nil {
			w.logger.Printf("audit log failed for publish of %s: %v", listing.ID, err)
		}
	}
	if w.OnPublish != nil {
		w.OnPublish(listing)
	}
	d.Status = store.DraftStatusPublished
	return ConfirmResult{Kind: session.PendingPublish, Draft: d, Listing: &listing}, nil
}

func (w *Workflow) confirmDelete(ctx context.Context, sess *session.Session, draftID string) (ConfirmResult, error) {
	d, err := w.drafts.GetDraft(ctx, draftID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if d.Status != store.DraftStatusInProgress {
		return ConfirmResult{}, ErrConfirmationExpired
	}
	d, err = w.transition(ctx, d, store.DraftStatusInProgress, store.DraftStatusDeleted)
	if err != nil {
		return ConfirmResult{}, err
	}
	sess.ActiveDraftID = ""
	if w.audit != nil {
		if err := w.audit.LogAction(ctx, "delete", "draft", draftID, sess.UserID, nil); err != nil {
			w.logger.Printf("audit log failed for delete of %s: %v", draftID, err)
		}
	}
	return ConfirmResult{Kind: session.PendingDelete, Draft: d}, nil
}

// transition applies a status change with a single retry after a lost version
// check, provided the draft is still in the expected source state.
func (w *Workflow) transition(ctx context.Context, d store.Draft, from, to string) (store.Draft, error) {
	out, err := w.drafts.TransitionDraftStatus(ctx, d.ID, d.Version, from, to)
	if !errors.Is(err, store.ErrVersionConflict) {
		return out, err
	}
	fresh, err := w.drafts.GetDraft(ctx, d.ID)
	if err != nil {
		return store.Draft{}, err
	}
	if fresh.Status != from {
		return store.Draft{}, store.ErrVersionConflict
	}
	return w.drafts.TransitionDraftStatus(ctx, fresh.ID, fresh.Version, from, to)
}

// revertPendingPublish moves a pending_publish draft back to in_progress.
// Best effort: the sweeper catches anything that slips through here.
func (w *Workflow) revertPendingPublish(ctx context.Context, draftID string) {
	d, err := w.drafts.GetDraft(ctx, draftID)
	if err != nil || d.Status != store.DraftStatusPendingPublish {
		return
	}
	if _, err := w.transition(ctx, d, store.DraftStatusPendingPublish, store.DraftStatusInProgress); err != nil {
		w.logger.Printf("revert of pending publish %s failed: %v", draftID, err)
	}
}
