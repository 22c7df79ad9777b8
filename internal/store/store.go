package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Store wraps the relational database holding drafts, listings, wallets and
// the append-only transaction/audit logs.
type Store struct {
	DB *sql.DB
}

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a conditional write lost against a
	// concurrent update of the same record.
	ErrVersionConflict = errors.New("version conflict")
	// ErrInsufficientCredit is returned when a debit would drive the wallet
	// balance negative.
	ErrInsufficientCredit = errors.New("insufficient credit")
)

// Draft statuses persisted for the publish/delete workflow.
const (
	DraftStatusInProgress     = "in_progress"
	DraftStatusPendingPublish = "pending_publish"
	DraftStatusPublished      = "published"
	DraftStatusDeleted        = "deleted"
)

// Wallet transaction kinds.
const (
	TransactionDebit    = "debit"
	TransactionCredit   = "credit"
	TransactionReversal = "reversal"
)

// Draft is a mutable listing-in-progress record. Version increases by exactly
// one on every successful field merge or status transition.
type Draft struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       int64     `json:"price"` // unit currency amount, 0 = unset
	Category    string    `json:"category"`
	Images      []string  `json:"images"`
	Status      string    `json:"status"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DraftUpdate carries the merged field proposals applied in one conditional
// write. Nil pointers mean "leave unchanged"; Images, when non-nil, is the
// full replacement list.
type DraftUpdate struct {
	Title       *string
	Description *string
	Price       *int64
	Category    *string
	Images      []string
}

// Empty reports whether the update would change nothing.
func (u DraftUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Price == nil && u.Category == nil && u.Images == nil
}

// Listing is a published marketplace entry.
type Listing struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Category    string    `json:"category"`
	Images      []string  `json:"images"`
	CreatedAt   time.Time `json:"created_at"`
}

// Transaction is one append-only wallet ledger entry.
type Transaction struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// New opens a connection with the given DSN and verifies it.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// ---------------------------------------------------------------------------
// Users

func (s *Store) CreateUser(ctx context.Context, email, hash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`, email, hash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	return id, hash, err
}

// ---------------------------------------------------------------------------
// Drafts

func (s *Store) CreateDraft(ctx context.Context, userID, sessionID string) (Draft, error) {
	var d Draft
	var images []byte
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO drafts (user_id, session_id, status, version, images)
		VALUES ($1, $2, $3, 1, '[]'::jsonb)
		RETURNING id, user_id, session_id, coalesce(title,''), coalesce(description,''),
		          coalesce(price,0), coalesce(category,''), images, status, version, created_at, updated_at`,
		userID, sessionID, DraftStatusInProgress).Scan(
		&d.ID, &d.UserID, &d.SessionID, &d.Title, &d.Description,
		&d.Price, &d.Category, &images, &d.Status, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Draft{}, fmt.Errorf("create draft: %w", err)
	}
	if err := json.Unmarshal(images, &d.Images); err != nil {
		return Draft{}, fmt.Errorf("decode draft images: %w", err)
	}
	return d, nil
}

func (s *Store) GetDraft(ctx context.Context, id string) (Draft, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, user_id, session_id, coalesce(title,''), coalesce(description,''),
		       coalesce(price,0), coalesce(category,''), images, status, version, created_at, updated_at
		FROM drafts WHERE id=$1`, id)
	return scanDraft(row)
}

func scanDraft(row *sql.Row) (Draft, error) {
	var d Draft
	var images []byte
	err := row.Scan(&d.ID, &d.UserID, &d.SessionID, &d.Title, &d.Description,
		&d.Price, &d.Category, &images, &d.Status, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, ErrNotFound
	}
	if err != nil {
		return Draft{}, err
	}
	if err := json.Unmarshal(images, &d.Images); err != nil {
		return Draft{}, fmt.Errorf("decode draft images: %w", err)
	}
	return d, nil
}

// UpdateDraftFields applies the merged field updates as a single conditional
// write. The write succeeds only when the stored version still matches; on a
// concurrent update ErrVersionConflict is returned and nothing changes.
func (s *Store) UpdateDraftFields(ctx context.Context, id string, version int64, upd DraftUpdate) (Draft, error) {
	sets := []string{"version = version + 1", "updated_at = now()"}
	args := []interface{}{id, version}
	n := 3
	add := func(col string, v interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, n))
		args = append(args, v)
		n++
	}
	if upd.Title != nil {
		add("title", *upd.Title)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.Price != nil {
		add("price", *upd.Price)
	}
	if upd.Category != nil {
		add("category", *upd.Category)
	}
	if upd.Images != nil {
		raw, err := json.Marshal(upd.Images)
		if err != nil {
			return Draft{}, fmt.Errorf("encode draft images: %w", err)
		}
		add("images", raw)
	}

	query := fmt.Sprintf(`
		UPDATE drafts SET %s
		WHERE id = $1 AND version = $2 AND status = '%s'
		RETURNING id, user_id, session_id, coalesce(title,''), coalesce(description,''),
		          coalesce(price,0), coalesce(category,''), images, status, version, created_at, updated_at`,
		strings.Join(sets, ", "), DraftStatusInProgress)

	d, err := scanDraft(s.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing draft from a lost conditional write.
		if _, getErr := s.GetDraft(ctx, id); getErr != nil {
			return Draft{}, getErr
		}
		return Draft{}, ErrVersionConflict
	}
	return d, err
}

// TransitionDraftStatus moves the draft from one workflow state to another
// under the same version check the field merges use.
func (s *Store) TransitionDraftStatus(ctx context.Context, id string, version int64, from, to string) (Draft, error) {
	row := s.DB.QueryRowContext(ctx, `
		UPDATE drafts SET status=$4, version=version+1, updated_at=now()
		WHERE id=$1 AND version=$2 AND status=$3
		RETURNING id, user_id, session_id, coalesce(title,''), coalesce(description,''),
		          coalesce(price,0), coalesce(category,''), images, status, version, created_at, updated_at`,
		id, version, from, to)
	d, err := scanDraft(row)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := s.GetDraft(ctx, id); getErr != nil {
			return Draft{}, getErr
		}
		return Draft{}, ErrVersionConflict
	}
	return d, err
}

// ListStalePendingDrafts returns pending_publish drafts whose last transition
// is older than the cutoff. Used by the sweeper to revert abandoned publishes.
func (s *Store) ListStalePendingDrafts(ctx context.Context, cutoff time.Time) ([]Draft, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, session_id, coalesce(title,''), coalesce(description,''),
		       coalesce(price,0), coalesce(category,''), images, status, version, created_at, updated_at
		FROM drafts WHERE status=$1 AND updated_at < $2`, DraftStatusPendingPublish, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Draft
	for rows.Next() {
		var d Draft
		var images []byte
		if err := rows.Scan(&d.ID, &d.UserID, &d.SessionID, &d.Title, &d.Description,
			&d.Price, &d.Category, &images, &d.Status, &d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(images, &d.Images); err != nil {
			return nil, fmt.Errorf("decode draft images: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PublishDraft copies the draft into listings and marks it published in one
// database transaction. The caller has already debited the wallet; a failure
// here triggers the compensating credit upstream.
func (s *Store) PublishDraft(ctx context.Context, d Draft) (Listing, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Listing{}, err
	}
	defer tx.Rollback()

	images, err := json.Marshal(d.Images)
	if err != nil {
		return Listing{}, fmt.Errorf("encode listing images: %w", err)
	}
	var l Listing
	err = tx.QueryRowContext(ctx, `
		INSERT INTO listings (user_id, title, description, price, category, images)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, user_id, title, description, price, category, created_at`,
		d.UserID, d.Title, d.Description, d.Price, d.Category, images).Scan(
		&l.ID, &l.UserID, &l.Title, &l.Description, &l.Price, &l.Category, &l.CreatedAt)
	if err != nil {
		return Listing{}, fmt.Errorf("insert listing: %w", err)
	}
	l.Images = append([]string(nil), d.Images...)

	res, err := tx.ExecContext(ctx, `
		UPDATE drafts SET status=$3, version=version+1, updated_at=now()
		WHERE id=$1 AND version=$2 AND status=$4`,
		d.ID, d.Version, DraftStatusPublished, DraftStatusPendingPublish)
	if err != nil {
		return Listing{}, fmt.Errorf("mark draft published: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return Listing{}, ErrVersionConflict
	}
	if err := tx.Commit(); err != nil {
		return Listing{}, err
	}
	return l, nil
}

func (s *Store) DeleteListing(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM listings WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Listing search

// SearchFilter narrows listing queries. Nil price bounds are open-ended.
type SearchFilter struct {
	Category string
	MinPrice *int64
	MaxPrice *int64
	Limit    int
}

func (s *Store) SearchListings(ctx context.Context, f SearchFilter) ([]Listing, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	n := 1
	if f.Category != "" {
		where = append(where, fmt.Sprintf("category = $%d", n))
		args = append(args, f.Category)
		n++
	}
	if f.MinPrice != nil {
		where = append(where, fmt.Sprintf("price >= $%d", n))
		args = append(args, *f.MinPrice)
		n++
	}
	if f.MaxPrice != nil {
		where = append(where, fmt.Sprintf("price <= $%d", n))
		args = append(args, *f.MaxPrice)
		n++
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, user_id, title, description, price, category, images, created_at
		FROM listings WHERE %s
		ORDER BY created_at DESC LIMIT $%d`, strings.Join(where, " AND "), n)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanListings(rows)
}

// ListListings returns recent published listings, newest first. Used to
// backfill the keyword index at startup.
func (s *Store) ListListings(ctx context.Context, limit int) ([]Listing, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, title, description, price, category, images, created_at
		FROM listings ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanListings(rows)
}

func (s *Store) GetListing(ctx context.Context, id string) (Listing, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, title, description, price, category, images, created_at
		FROM listings WHERE id=$1`, id)
	if err != nil {
		return Listing{}, err
	}
	defer rows.Close()
	ls, err := scanListings(rows)
	if err != nil {
		return Listing{}, err
	}
	if len(ls) == 0 {
		return Listing{}, ErrNotFound
	}
	return ls[0], nil
}

func scanListings(rows *sql.Rows) ([]Listing, error) {
	var out []Listing
	for rows.Next() {
		var l Listing
		var images []byte
		if err := rows.Scan(&l.ID, &l.UserID, &l.Title, &l.Description, &l.Price, &l.Category, &images, &l.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(images, &l.Images); err != nil {
			return nil, fmt.Errorf("decode listing images: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Wallets

func (s *Store) EnsureWallet(ctx context.Context, userID string, initial int64) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, initial)
	return err
}

func (s *Store) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.DB.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE user_id=$1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return balance, err
}

// Debit atomically decrements the balance and appends the paired ledger entry.
// The conditional update guarantees the balance never goes negative.
func (s *Store) Debit(ctx context.Context, userID string, amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE wallets SET balance = balance - $2 WHERE user_id = $1 AND balance >= $2`,
		userID, amount)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrInsufficientCredit
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (user_id, amount, kind, reason) VALUES ($1,$2,$3,$4)`,
		userID, -amount, TransactionDebit, reason); err != nil {
		return err
	}
	return tx.Commit()
}

// Credit increments the balance and appends the paired ledger entry. Kind
// distinguishes a plain credit from a compensating reversal.
func (s *Store) Credit(ctx context.Context, userID string, amount int64, kind, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE wallets SET balance = balance + $2 WHERE user_id = $1`, userID, amount); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (user_id, amount, kind, reason) VALUES ($1,$2,$3,$4)`,
		userID, amount, kind, reason); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, amount, kind, reason, created_at
		FROM wallet_transactions WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Kind, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Audit log

func (s *Store) LogAction(ctx context.Context, action, resourceType, resourceID, userID string, metadata map[string]interface{}) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO audit_log (action, resource_type, resource_id, user_id, metadata)
		VALUES ($1,$2,$3,$4,$5)`, action, resourceType, resourceID, userID, raw)
	return err
}
