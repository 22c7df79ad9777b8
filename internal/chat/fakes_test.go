package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pazarglobal/assistant/internal/index"
	"github.com/pazarglobal/assistant/internal/session"
	"github.com/pazarglobal/assistant/internal/store"
)

// fakeLLM answers every Generate call through fn.
type fakeLLM struct {
	fn func(system, prompt string) (string, error)
}

func (f *fakeLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.fn(system, prompt)
}

// fakeExtractor returns canned proposals per field.
type fakeExtractor struct {
	mu      sync.Mutex
	updates map[Field]FieldUpdate
	errs    map[Field]error
	delay   time.Duration
	calls   int
}

func (f *fakeExtractor) ExtractField(ctx context.Context, field Field, message string, history []session.Message, current string) (FieldUpdate, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return FieldUpdate{}, ctx.Err()
		}
	}
	if err, ok := f.errs[field]; ok {
		return FieldUpdate{}, err
	}
	upd, ok := f.updates[field]
	if !ok {
		return FieldUpdate{}, nil
	}
	return upd, nil
}

// fakeDrafts is an in-memory DraftStore with the same version semantics as
// the relational store.
type fakeDrafts struct {
	mu       sync.Mutex
	drafts   map[string]store.Draft
	listings map[string]store.Listing
	nextID   int

	publishErr   error
	beforeUpdate func(f *fakeDrafts) // runs at the top of UpdateDraftFields
}

func newFakeDrafts() *fakeDrafts {
	return &fakeDrafts{drafts: map[string]store.Draft{}, listings: map[string]store.Listing{}}
}

func (f *fakeDrafts) CreateDraft(ctx context.Context, userID, sessionID string) (store.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	now := time.Now().UTC()
	d := store.Draft{
		ID:        fmt.Sprintf("draft-%d", f.nextID),
		UserID:    userID,
		SessionID: sessionID,
		Status:    store.DraftStatusInProgress,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.drafts[d.ID] = d
	return d, nil
}

func (f *fakeDrafts) GetDraft(ctx context.Context, id string) (store.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	if !ok {
		return store.Draft{}, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeDrafts) UpdateDraftFields(ctx context.Context, id string, version int64, upd store.DraftUpdate) (store.Draft, error) {
	if f.beforeUpdate != nil {
		hook := f.beforeUpdate
		f.beforeUpdate = nil
		hook(f)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	if !ok {
		return store.Draft{}, store.ErrNotFound
	}
	if d.Version != version || d.Status != store.DraftStatusInProgress {
		return store.Draft{}, store.ErrVersionConflict
	}
	if upd.Title != nil {
		d.Title = *upd.Title
	}
	if upd.Description != nil {
		d.Description = *upd.Description
	}
	if upd.Price != nil {
		d.Price = *upd.Price
	}
	if upd.Category != nil {
		d.Category = *upd.Category
	}
	if upd.Images != nil {
		d.Images = append([]string(nil), upd.Images...)
	}
	d.Version++
	d.UpdatedAt = time.Now().UTC()
	f.drafts[id] = d
	return d, nil
}

func (f *fakeDrafts) TransitionDraftStatus(ctx context.Context, id string, version int64, from, to string) (store.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	if !ok {
		return store.Draft{}, store.ErrNotFound
	}
	if d.Version != version || d.Status != from {
		return store.Draft{}, store.ErrVersionConflict
	}
	d.Status = to
	d.Version++
	d.UpdatedAt = time.Now().UTC()
	f.drafts[id] = d
	return d, nil
}

func (f *fakeDrafts) PublishDraft(ctx context.Context, d store.Draft) (store.Listing, error) {
	if f.publishErr != nil {
		return store.Listing{}, f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.drafts[d.ID]
	if !ok {
		return store.Listing{}, store.ErrNotFound
	}
	if cur.Version != d.Version || cur.Status != store.DraftStatusPendingPublish {
		return store.Listing{}, store.ErrVersionConflict
	}
	cur.Status = store.DraftStatusPublished
	cur.Version++
	f.drafts[d.ID] = cur

	l := store.Listing{
		ID:        "listing-" + d.ID,
		UserID:    d.UserID,
		Title:     d.Title,
		Price:     d.Price,
		Category:  d.Category,
		Images:    append([]string(nil), d.Images...),
		CreatedAt: time.Now().UTC(),
	}
	f.listings[l.ID] = l
	return l, nil
}

// fakeWallet tracks balances and ledger entries in memory.
type fakeWallet struct {
	mu        sync.Mutex
	balances  map[string]int64
	entries   []string // "kind:reason" in order
	debitErr  error
	creditErr error
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{balances: map[string]int64{}}
}

func (f *fakeWallet) GetBalance(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeWallet) Debit(ctx context.Context, userID string, amount int64, reason string) error {
	if f.debitErr != nil {
		return f.debitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[userID] < amount {
		return store.ErrInsufficientCredit
	}
	f.balances[userID] -= amount
	f.entries = append(f.entries, store.TransactionDebit+":"+reason)
	return nil
}

func (f *fakeWallet) Credit(ctx context.Context, userID string, amount int64, kind, reason string) error {
	if f.creditErr != nil {
		return f.creditErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[userID] += amount
	f.entries = append(f.entries, kind+":"+reason)
	return nil
}

// fakeSessions is an in-memory SessionStore.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]session.Session
	history  map[string][]session.Message
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]session.Session{}, history: map[string][]session.Message{}}
}

func (f *fakeSessions) Get(ctx context.Context, id string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessions) Create(ctx context.Context, id, userID string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	s := session.Session{ID: id, UserID: userID, CreatedAt: now, LastActivity: now}
	f.sessions[id] = s
	return s, nil
}

func (f *fakeSessions) Save(ctx context.Context, sess session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sess.ID] = sess
	return nil
}

func (f *fakeSessions) AppendMessage(ctx context.Context, id string, msg session.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[id] = append(f.history[id], msg)
	return nil
}

func (f *fakeSessions) Messages(ctx context.Context, id string, limit int) ([]session.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.history[id]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]session.Message(nil), msgs...), nil
}

// fakeListings serves search strategies from a static slice.
type fakeListings struct {
	listings []store.Listing
	err      error
	delay    time.Duration
}

func (f *fakeListings) SearchListings(ctx context.Context, filter store.SearchFilter) ([]store.Listing, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []store.Listing
	for _, l := range f.listings {
		if filter.Category != "" && l.Category != filter.Category {
			continue
		}
		if filter.MinPrice != nil && l.Price < *filter.MinPrice {
			continue
		}
		if filter.MaxPrice != nil && l.Price > *filter.MaxPrice {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeListings) GetListing(ctx context.Context, id string) (store.Listing, error) {
	for _, l := range f.listings {
		if l.ID == id {
			return l, nil
		}
	}
	return store.Listing{}, store.ErrNotFound
}

// fakeIndex returns canned keyword hits.
type fakeIndex struct {
	hits []index.Hit
	err  error
}

func (f *fakeIndex) Search(ctx context.Context, query string, limit int) ([]index.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}
