// Package chat contains the orchestration core: intent routing, the
// fan-out/fan-in listing composer, the publish/delete workflow and the
// multi-strategy search composer.
package chat

import (
	"context"

	"github.com/pazarglobal/assistant/internal/index"
	"github.com/pazarglobal/assistant/internal/session"
	"github.com/pazarglobal/assistant/internal/store"
)

// Intent is the classification of a user message. Computed per message,
// never persisted.
type Intent string

const (
	IntentCreateListing  Intent = "create_listing"
	IntentEditListing    Intent = "edit_listing"
	IntentPublish        Intent = "publish"
	IntentDelete         Intent = "delete"
	IntentSearchListings Intent = "search_listings"
	IntentSmallTalk      Intent = "small_talk"
	IntentConfirm        Intent = "confirm"
	IntentDeny           Intent = "deny"
	IntentUnknown        Intent = "unknown"
)

// Field names the draft attributes filled by independent extraction tasks.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldPrice       Field = "price"
	FieldCategory    Field = "category"
	FieldImages      Field = "images"
)

// Fields lists every extraction task the composer fans out to.
var Fields = []Field{FieldTitle, FieldDescription, FieldPrice, FieldCategory, FieldImages}

// FieldUpdate is an extraction task's proposal: either an explicit no-op or a
// replacement value. Images use Values; everything else uses Value.
type FieldUpdate struct {
	Updated bool     `json:"updated"`
	Value   string   `json:"value,omitempty"`
	Values  []string `json:"values,omitempty"`
}

// FieldExtractor is the external capability that proposes per-field values.
// Implementations must be idempotent under retry: the composer may re-apply
// the same proposals after a version conflict.
type FieldExtractor interface {
	ExtractField(ctx context.Context, field Field, message string, history []session.Message, current string) (FieldUpdate, error)
}

// SessionState carries the structural signals the router checks before
// delegating to the classification capability.
type SessionState struct {
	HasActiveDraft      bool
	PendingConfirmation bool
}

// Inbound is the transport-agnostic request shape.
type Inbound struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message"`
	MediaRef  string `json:"media_ref,omitempty"`
}

// Outbound is the transport-agnostic response shape.
type Outbound struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Intent  Intent        `json:"intent"`
	Data    *ResponseData `json:"data,omitempty"`
}

// ResponseData carries the intent-specific payload of a response.
type ResponseData struct {
	Type     string          `json:"type,omitempty"`
	DraftID  string          `json:"draft_id,omitempty"`
	Draft    *store.Draft    `json:"draft,omitempty"`
	Listings []ScoredListing `json:"listings,omitempty"`
	Count    int             `json:"count,omitempty"`
	Partial  bool            `json:"partial,omitempty"`
}

// DraftStore is the slice of the relational store the core mutates drafts
// through. All writes are version-checked.
type DraftStore interface {
	CreateDraft(ctx context.Context, userID, sessionID string) (store.Draft, error)
	GetDraft(ctx context.Context, id string) (store.Draft, error)
	UpdateDraftFields(ctx context.Context, id string, version int64, upd store.DraftUpdate) (store.Draft, error)
	TransitionDraftStatus(ctx context.Context, id string, version int64, from, to string) (store.Draft, error)
	PublishDraft(ctx context.Context, d store.Draft) (store.Listing, error)
}

// WalletStore is the atomic check-and-debit access pattern over the ledger.
type WalletStore interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID string, amount int64, reason string) error
	Credit(ctx context.Context, userID string, amount int64, kind, reason string) error
}

// ListingStore serves the search strategies.
type ListingStore interface {
	SearchListings(ctx context.Context, f store.SearchFilter) ([]store.Listing, error)
	GetListing(ctx context.Context, id string) (store.Listing, error)
}

// KeywordIndex is the full-text side of the keyword strategy.
type KeywordIndex interface {
	Search(ctx context.Context, query string, limit int) ([]index.Hit, error)
}

// SessionStore owns per-conversation state and bounded history.
type SessionStore interface {
	Get(ctx context.Context, id string) (session.Session, error)
	Create(ctx context.Context, id, userID string) (session.Session, error)
	Save(ctx context.Context, sess session.Session) error
	AppendMessage(ctx context.Context, id string, msg session.Message) error
	Messages(ctx context.Context, id string, limit int) ([]session.Message, error)
}

// Auditor appends to the audit log. Failures are logged, never fatal.
type Auditor interface {
	LogAction(ctx context.Context, action, resourceType, resourceID, userID string, metadata map[string]interface{}) error
}
