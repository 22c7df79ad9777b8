package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pazarglobal/assistant/internal/session"
	"github.com/pazarglobal/assistant/internal/store"
)

func newTestWorkflow(drafts *fakeDrafts, wallet *fakeWallet) *Workflow {
	return NewWorkflow(drafts, wallet, nil, 1, 5*time.Minute, testLogger(), nil)
}

func readyDraft(t *testing.T, drafts *fakeDrafts, userID, sessionID string) store.Draft {
	t.Helper()
	d, err := drafts.CreateDraft(context.Background(), userID, sessionID)
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	title := "iPhone 13 Pro 256GB"
	price := int64(25000)
	d, err = drafts.UpdateDraftFields(context.Background(), d.ID, d.Version, store.DraftUpdate{Title: &title, Price: &price})
	if err != nil {
		t.Fatalf("UpdateDraftFields: %v", err)
	}
	return d
}

func TestPublishHappyPath(t *testing.T) {
	ctx := context.Background()
	drafts := newFakeDrafts()
	wallet := newFakeWallet()
	wallet.balances["u1"] = 5
	w := newTestWorkflow(drafts, wallet)

	d := readyDraft(t, drafts, "u1", "s1")
	sess := &session.Session{ID: "s1", UserID: "u1", ActiveDraftID: d.ID}

	pending, err := w.RequestPublish(ctx, sess)
	if err != nil {
		t.Fatalf("RequestPublish: %v", err)
	}
	if pending.Status != store.DraftStatusPendingPublish {
		t.Fatalf("status = %s, want pending_publish", pending.Status)
	}
	if sess.Pending == nil || sess.Pending.Kind != session.PendingPublish {
		t.Fatalf("pending action not armed: %+v", sess.Pending)
	}

	res, err := w.Confirm(ctx, sess)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res.Listing == nil || res.Listing.Title != "iPhone 13 Pro 256GB" {
		t.Fatalf("listing = %+v", res.Listing)
	}
	if wallet.balances["u1"] != 4 {
		t.Errorf("balance = %d, want 4 after 1-credit debit", wallet.balances["u1"])
	}
	if sess.Pending != nil || sess.ActiveDraftID != "" {
		t.Errorf("session not cleared: pending=%+v draft=%q", sess.Pending, sess.ActiveDraftID)
	}
	got, _ := drafts.GetDraft(ctx, d.ID)
	if got.Status != store.DraftStatusPublished {
		t.Errorf("draft status = %s, want published", got.Status)
	}
}

func TestPublishInsufficientCredit(t *testing.T) {
	ctx := context.Background()
	drafts := newFakeDrafts()
	wallet := newFakeWallet()
	wallet.balances["u1"] = 0
	w := newTestWorkflow(drafts, wallet)

	d := readyDraft(t, drafts, "u1", "s1")
	sess := &session.Session{ID: "s1", UserID: "u1", ActiveDraftID: d.ID}

	if _, err := w.RequestPublish(ctx, sess); !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("err = %v, want ErrInsufficientCredit", err)
	}
	got, _ := drafts.GetDraft(ctx, d.ID)
	if got.Status != store.DraftStatusInProgress {
		t.Errorf("status = %s, draft must stay in_progress", got.Status)
	}
	if sess.Pending != nil {
		t.Errorf("no pending action should be armed")
	}
}

func TestPublishWithoutDraft(t *testing.T) {
	w := newTestWorkflow(newFakeDrafts(), newFakeWallet())
	sess := &session.Session{ID: "s1", UserID: "u1"}
	if _, err := w.RequestPublish(context.Background(), sess); !errors.Is(err, ErrNoActiveDraft) {
		t.Fatalf("err = %v, want ErrNoActiveDraft", err)
	}
}

func TestConfirmExpiredRevertsAndRefuses(t *testing.T) {
	ctx := context.Background()
	drafts := newFakeDrafts()
	wallet := newFakeWallet()
	wallet.balances["u1"] = 5
	w := newTestWorkflow(drafts, wallet)

	d := readyDraft(t, drafts, "u1", "s1")
	sess := &session.Session{ID: "s1", UserID: "u1", ActiveDraftID: d.ID}
	if _, err := w.RequestPublish(ctx, sess); err != nil {
		t.Fatalf("RequestPublish: %v", err)
	}

	// Move the clock past the confirmation window.
	w.now = func() time.Time { return time.Now().UTC().Add(10 * time.Minute) }

	if _, err := w.Confirm(ctx, sess); !errors.Is(err, ErrConfirmationExpired) {
		t.Fatalf("err = %v, want ErrConfirmationExpired", err)
	}
	if wallet.balances["u1"] != 5 {
		t.Errorf("balance = %d, expired confirm must not charge", wallet.balances["u1"])
	}
	got, _ := drafts.GetDraft(ctx, d.ID)
	if got.Status != store.DraftStatusInProgress {
		t.Errorf("status = %s, want reverted to in_progress", got.Status)
	}
}

func TestConfirmWithNothingPending(t *testing.T) {
	w := newTestWorkflow(newFakeDrafts(), newFakeWallet())
	sess := &session.Session{ID: "s1", UserID: "u1"}
	if _, err := w.Confirm(context.Background(), sess); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("err = %v, want ErrNothingPending", err)
	}
}

func TestDenyRevertsPendingPublish(t *testing.T) {
	ctx := context.Background()
	drafts := newFakeDrafts()
	wallet := newFakeWallet()
	wallet.balances["u1"] = 5
	w := newTestWorkflow(drafts, wallet)

	d := readyDraft(t, drafts, "u1", "s1")
	sess := &session.Session{ID: "s1", UserID: "u1", ActiveDraftID: d.ID}
	if _, err := w.RequestPublish(ctx, sess); err != nil {
		t.Fatalf("RequestPublish: %v", err)
	}

	kind, err := w.Deny(ctx, sess)
	if err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if kind != session.PendingPublish {
		t.Errorf("kind = %s", kind)
	}
	got, _ := drafts.GetDraft(ctx, d.ID)
	if got.Status != store.DraftStatusInProgress {
		t.Errorf("status = %s, want in_progress after deny", got.Status)
	}
	if wallet.balances["u1"] != 5 {
		t.Errorf("balance = %d, deny must not charge", wallet.balances["u1"])
	}
	if sess.ActiveDraftID != d.ID {
		t.Errorf("active draft must survive a denied publish")
	}
}

func TestDebitFailureReleasesDraft(t *testing.T) {
	ctx := context.Background()
	drafts := newFakeDrafts()
	wallet := newFakeWallet()
	wallet.balances["u1"] = 5
	w := newTestWorkflow(drafts, wallet)

	d := readyDraft(t, drafts, "u1", "s1")
	sess := &session.Session{ID: "s1", UserID: "u1", ActiveDraftID: d.ID}
	if _, err := w.RequestPublish(ctx, sess); err != nil {
		t.Fatalf("RequestPublish: %v", err)
	}
	wallet.debitErr = errors.New("wallet unavailable")

	if _, err := w.Confirm(ctx, sess); err == nil {
		t.Fatalf("Confirm must surface the debit failure")
	}
	// The draft must come back to in_progress so a retry works right away
	// instead of waiting for the sweeper.
	got, _ := drafts.GetDraft(ctx, d.ID)
	if got.Status != store.DraftStatusInProgress {
		t.Errorf("status = %s, want in_progress after failed debit", got.Status)
	}
	if wallet.balances["u1"] != 5 {
		t.Errorf("balance = %d, failed debit must not charge", wallet.balances["u1"])
	}
	if sess.ActiveDraftID != d.ID {
		t.Errorf("active draft must survive a failed debit")
	}

	wallet.debitErr = nil
	if _, err := w.RequestPublish(ctx, sess); err != nil {
		t.Fatalf("RequestPublish retry: %v", err)
	}
	if _, err := w.Confirm(ctx, sess); err != nil {
		t.Fatalf("Confirm retry: %v", err)
	}
}

func TestPublishCommitFailureRefunds(t *testing.T) {
	ctx := context.Background()
	drafts := newFakeDrafts()
	wallet := newFakeWallet()
	wallet.balances["u1"] = 5
	w := newTestWorkflow(drafts, wallet)

	d := readyDraft(t, drafts, "u1", "s1")
	sess := &session.Session{ID: "s1", UserID: "u1", ActiveDraftID: d.ID}
	if _, err := w.RequestPublish(ctx, sess); err != nil {
		t.Fatalf("RequestPublish: %v", err)
	}
	drafts.publishErr = errors.New("listings table unavailable")

	_, err := w.Confirm(ctx, sess)
	var commitErr *PublishCommitError
	if !errors.As(err, &commitErr) {
		t.Fatalf("err = %v, want PublishCommitError", err)
	}
	if commitErr.ReversalErr != nil {
		t.Fatalf("reversal should have succeeded: %v", commitErr.ReversalErr)
	}
	if wallet.balances["u1"] != 5 {
		t.Errorf("balance = %d, want debit compensated back to 5", wallet.balances["u1"])
	}
	// The ledger must show both legs, not a silent rollback.
	if len(wallet.entries) != 2 {
		t.Fatalf("ledger entries = %v, want debit + reversal", wallet.entries)
	}
	if wallet.entries[0] != "debit:publish_listing:"+d.ID {
		t.Errorf("first entry = %q", wallet.entries[0])
	}
	if wallet.entries[1] != "reversal:publish_reversal:"+d.ID {
		t.Errorf("second entry = %q", wallet.entries[1])
	}
}

func TestPublishReversalFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	drafts := newFakeDrafts()
	wallet := newFakeWallet()
	wallet.balances["u1"] = 5
	w := newTestWorkflow(drafts, wallet)

	d := readyDraft(t, drafts, "u1", "s1")
	sess := &session.Session{ID: "s1", UserID: "u1", ActiveDraftID: d.ID}
	if _, err := w.RequestPublish(ctx, sess); err != nil {
		t.Fatalf("RequestPublish: %v", err)
	}
	drafts.publishErr = errors.New("listings table unavailable")
	wallet.creditErr = errors.New("wallet unavailable")

	_, err := w.Confirm(ctx, sess)
	var commitErr *PublishCommitError
	if !errors.As(err, &commitErr) {
		t.Fatalf("err = %v, want PublishCommitError", err)
	}
	if commitErr.ReversalErr == nil {
		t.Fatalf("ReversalErr must be set when the compensating credit fails")
	}
}

func TestDeleteFlow(t *testing.T) {
	ctx := context.Background()
	drafts := newFakeDrafts()
	w := newTestWorkflow(drafts, newFakeWallet())

	d := readyDraft(t, drafts, "u1", "s1")
	sess := &session.Session{ID: "s1", UserID: "u1", ActiveDraftID: d.ID}

	if _, err := w.RequestDelete(ctx, sess); err != nil {
		t.Fatalf("RequestDelete: %v", err)
	}
	if sess.Pending == nil || sess.Pending.Kind != session.PendingDelete {
		t.Fatalf("pending = %+v", sess.Pending)
	}

	res, err := w.Confirm(ctx, sess)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res.Kind != session.PendingDelete {
		t.Errorf("kind = %s", res.Kind)
	}
	got, _ := drafts.GetDraft(ctx, d.ID)
	if got.Status != store.DraftStatusDeleted {
		t.Errorf("status = %s, want deleted", got.Status)
	}
	if sess.ActiveDraftID != "" {
		t.Errorf("active draft must be cleared after delete")
	}
}
