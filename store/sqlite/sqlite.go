/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists the code allocator state (counters, used codes, history) and
  the listing registry in one SQLite database, so a listing and the code
  it consumes are written in the same transaction.

INTERFACES IMPLEMENTED:
  codes.TxStore:      Counters + used codes with WithTx
  codes.HistoryStore: Append-only allocation history
  listing.Store:      Listings, with WithListingTx sharing the code tables

KEY TABLES:
  code_counters:  prefix -> last_seq (highest committed sequence)
  used_codes:     every committed code (PRIMARY KEY enforces uniqueness)
  code_history:   who committed what, append-only
  listings:       registered properties, UNIQUE(code)

ATOMIC COUNTER UPDATE:
  Commit runs
    INSERT ... ON CONFLICT(prefix) DO UPDATE SET last_seq = MAX(last_seq, excluded.last_seq)
  so the counter can only move forward, and transactions are opened with
  BEGIN IMMEDIATE (_txlock=immediate) so two processes sharing the file
  cannot both read the same counter and write the same code.

CONCURRENCY:
  Uses sync.RWMutex for in-process thread-safety. Inside WithTx the lock
  is held for the whole transaction; the tx view never re-locks.

USAGE:
  store, err := sqlite.New("./data/listings.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  allocator := codes.NewAllocator(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/listing-codes/codes"
	"github.com/warp/listing-codes/listing"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS code_counters (
		prefix TEXT PRIMARY KEY,
		last_seq INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS used_codes (
		code TEXT PRIMARY KEY,
		prefix TEXT NOT NULL,
		seq INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_used_codes_prefix_seq
		ON used_codes(prefix, seq);

	-- Append-only
	CREATE TABLE IF NOT EXISTS code_history (
		id TEXT PRIMARY KEY,
		prefix TEXT NOT NULL,
		seq INTEGER NOT NULL,
		code TEXT NOT NULL,
		source TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_code_history_prefix
		ON code_history(prefix);

	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE REFERENCES used_codes(code),
		prefix TEXT NOT NULL,
		title TEXT NOT NULL,
		address TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		building_type TEXT NOT NULL,
		deposit TEXT NOT NULL DEFAULT '0',
		monthly_rent TEXT NOT NULL DEFAULT '0',
		sale_price TEXT NOT NULL DEFAULT '0',
		area_m2 TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'active',
		agent TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_listings_prefix
		ON listings(prefix);
	CREATE INDEX IF NOT EXISTS idx_listings_status
		ON listings(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"listings", "code_history", "used_codes", "code_counters"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// CODE STORE (codes.Store interface)
// =============================================================================

// Counter returns counter[prefix].
func (s *Store) Counter(ctx context.Context, prefix codes.Prefix) (codes.Sequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return counter(ctx, s.db, prefix)
}

// Counters returns every counter.
func (s *Store) Counters(ctx context.Context) (map[codes.Prefix]codes.Sequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return counters(ctx, s.db)
}

// IsUsed checks if code has been committed.
func (s *Store) IsUsed(ctx context.Context, code codes.Code) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return isUsed(ctx, s.db, code)
}

// UsedCodes lists committed codes for prefix in sequence order.
func (s *Store) UsedCodes(ctx context.Context, prefix codes.Prefix) ([]codes.Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return usedCodes(ctx, s.db, prefix)
}

// UsedPrefixes lists prefixes that have at least one committed code.
func (s *Store) UsedPrefixes(ctx context.Context) ([]codes.Prefix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return usedPrefixes(ctx, s.db)
}

// Commit raises the counter and records the code atomically.
func (s *Store) Commit(ctx context.Context, alloc codes.Allocation) error {
	return s.WithTx(ctx, func(ts codes.Store) error {
		return ts.Commit(ctx, alloc)
	})
}

// AppendHistory appends one history entry.
func (s *Store) AppendHistory(ctx context.Context, entry codes.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendHistory(ctx, s.db, entry)
}

// History returns history entries, newest first.
func (s *Store) History(ctx context.Context, filter codes.HistoryFilter) ([]codes.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return history(ctx, s.db, filter)
}

// =============================================================================
// TRANSACTIONAL STORE (codes.TxStore, listing.Store)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store codes.Store) error) error {
	return s.withTx(ctx, func(ts *txStore) error { return fn(ts) })
}

// WithListingTx is WithTx with listing writes available.
func (s *Store) WithListingTx(ctx context.Context, fn func(tx listing.Tx) error) error {
	return s.withTx(ctx, func(ts *txStore) error { return fn(ts) })
}

func (s *Store) withTx(ctx context.Context, fn func(*txStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sqlx.Tx
}

func (ts *txStore) Counter(ctx context.Context, prefix codes.Prefix) (codes.Sequence, error) {
	return counter(ctx, ts.tx, prefix)
}

func (ts *txStore) Counters(ctx context.Context) (map[codes.Prefix]codes.Sequence, error) {
	return counters(ctx, ts.tx)
}

func (ts *txStore) IsUsed(ctx context.Context, code codes.Code) (bool, error) {
	return isUsed(ctx, ts.tx, code)
}

func (ts *txStore) UsedCodes(ctx context.Context, prefix codes.Prefix) ([]codes.Code, error) {
	return usedCodes(ctx, ts.tx, prefix)
}

func (ts *txStore) UsedPrefixes(ctx context.Context) ([]codes.Prefix, error) {
	return usedPrefixes(ctx, ts.tx)
}

func (ts *txStore) Commit(ctx context.Context, alloc codes.Allocation) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO code_counters (prefix, last_seq, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(prefix) DO UPDATE SET
			last_seq = MAX(code_counters.last_seq, excluded.last_seq),
			updated_at = excluded.updated_at
	`, string(alloc.Prefix), int64(alloc.NextSeq), now)
	if err != nil {
		return fmt.Errorf("failed to update counter: %w", err)
	}

	_, seq, err := codes.Parse(alloc.Code)
	if err != nil {
		return err
	}
	_, err = ts.tx.ExecContext(ctx, `
		INSERT INTO used_codes (code, prefix, seq, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(code) DO NOTHING
	`, string(alloc.Code), string(alloc.Prefix), int64(seq), now)
	if err != nil {
		return fmt.Errorf("failed to record used code: %w", err)
	}
	return nil
}

func (ts *txStore) AppendHistory(ctx context.Context, entry codes.HistoryEntry) error {
	return appendHistory(ctx, ts.tx, entry)
}

func (ts *txStore) History(ctx context.Context, filter codes.HistoryFilter) ([]codes.HistoryEntry, error) {
	return history(ctx, ts.tx, filter)
}

func (ts *txStore) SaveListing(ctx context.Context, l listing.Listing) error {
	return saveListing(ctx, ts.tx, l)
}

// =============================================================================
// QUERIES (shared by *sqlx.DB and *sqlx.Tx)
// =============================================================================

func counter(ctx context.Context, q sqlx.QueryerContext, prefix codes.Prefix) (codes.Sequence, error) {
	var last int64
	err := sqlx.GetContext(ctx, q, &last, "SELECT last_seq FROM code_counters WHERE prefix = ?", string(prefix))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get counter %s: %w", prefix, err)
	}
	return codes.Sequence(last), nil
}

type counterRow struct {
	Prefix  string `db:"prefix"`
	LastSeq int64  `db:"last_seq"`
}

func counters(ctx context.Context, q sqlx.QueryerContext) (map[codes.Prefix]codes.Sequence, error) {
	var rows []counterRow
	if err := sqlx.SelectContext(ctx, q, &rows, "SELECT prefix, last_seq FROM code_counters ORDER BY prefix"); err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}
	out := make(map[codes.Prefix]codes.Sequence, len(rows))
	for _, r := range rows {
		out[codes.Prefix(r.Prefix)] = codes.Sequence(r.LastSeq)
	}
	return out, nil
}

func isUsed(ctx context.Context, q sqlx.QueryerContext, code codes.Code) (bool, error) {
	var count int
	if err := sqlx.GetContext(ctx, q, &count, "SELECT COUNT(*) FROM used_codes WHERE code = ?", string(code)); err != nil {
		return false, fmt.Errorf("failed to check code %s: %w", code, err)
	}
	return count > 0, nil
}

func usedCodes(ctx context.Context, q sqlx.QueryerContext, prefix codes.Prefix) ([]codes.Code, error) {
	var raw []string
	if err := sqlx.SelectContext(ctx, q, &raw, "SELECT code FROM used_codes WHERE prefix = ? ORDER BY seq", string(prefix)); err != nil {
		return nil, fmt.Errorf("failed to list used codes: %w", err)
	}
	out := make([]codes.Code, len(raw))
	for i, c := range raw {
		out[i] = codes.Code(c)
	}
	return out, nil
}

func usedPrefixes(ctx context.Context, q sqlx.QueryerContext) ([]codes.Prefix, error) {
	var raw []string
	if err := sqlx.SelectContext(ctx, q, &raw, "SELECT DISTINCT prefix FROM used_codes ORDER BY prefix"); err != nil {
		return nil, fmt.Errorf("failed to list prefixes: %w", err)
	}
	out := make([]codes.Prefix, len(raw))
	for i, p := range raw {
		out[i] = codes.Prefix(p)
	}
	return out, nil
}

func appendHistory(ctx context.Context, e sqlx.ExecerContext, entry codes.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO code_history (id, prefix, seq, code, source, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, string(entry.Prefix), int64(entry.Sequence), string(entry.Code),
		string(entry.Source), entry.Actor, entry.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

type historyRow struct {
	ID        string `db:"id"`
	Prefix    string `db:"prefix"`
	Seq       int64  `db:"seq"`
	Code      string `db:"code"`
	Source    string `db:"source"`
	Actor     string `db:"actor"`
	CreatedAt string `db:"created_at"`
}

func history(ctx context.Context, q sqlx.QueryerContext, filter codes.HistoryFilter) ([]codes.HistoryEntry, error) {
	query := "SELECT id, prefix, seq, code, source, actor, created_at FROM code_history"
	var args []any
	if filter.Prefix != "" {
		query += " WHERE prefix = ?"
		args = append(args, string(filter.Prefix))
	}
	query += " ORDER BY rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []historyRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	out := make([]codes.HistoryEntry, len(rows))
	for i, r := range rows {
		at, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
		out[i] = codes.HistoryEntry{
			ID:       r.ID,
			Prefix:   codes.Prefix(r.Prefix),
			Sequence: codes.Sequence(r.Seq),
			Code:     codes.Code(r.Code),
			Source:   codes.Source(r.Source),
			Actor:    r.Actor,
			At:       at,
		}
	}
	return out, nil
}

// =============================================================================
// LISTING STORE (listing.Store interface)
// =============================================================================

type listingRow struct {
	ID              string          `db:"id"`
	Code            string          `db:"code"`
	Prefix          string          `db:"prefix"`
	Title           string          `db:"title"`
	Address         string          `db:"address"`
	TransactionType string          `db:"transaction_type"`
	BuildingType    string          `db:"building_type"`
	Deposit         decimal.Decimal `db:"deposit"`
	MonthlyRent     decimal.Decimal `db:"monthly_rent"`
	SalePrice       decimal.Decimal `db:"sale_price"`
	AreaM2          decimal.Decimal `db:"area_m2"`
	Status          string          `db:"status"`
	Agent           string          `db:"agent"`
	CreatedAt       string          `db:"created_at"`
	UpdatedAt       string          `db:"updated_at"`
}

func (r listingRow) toListing() listing.Listing {
	id, _ := uuid.Parse(r.ID)
	created, _ := time.Parse(time.RFC3339, r.CreatedAt)
	updated, _ := time.Parse(time.RFC3339, r.UpdatedAt)
	return listing.Listing{
		ID:              id,
		Code:            codes.Code(r.Code),
		Prefix:          codes.Prefix(r.Prefix),
		Title:           r.Title,
		Address:         r.Address,
		TransactionType: r.TransactionType,
		BuildingType:    r.BuildingType,
		Deposit:         r.Deposit,
		MonthlyRent:     r.MonthlyRent,
		SalePrice:       r.SalePrice,
		AreaM2:          r.AreaM2,
		Status:          listing.Status(r.Status),
		Agent:           r.Agent,
		CreatedAt:       created,
		UpdatedAt:       updated,
	}
}

const listingColumns = `id, code, prefix, title, address, transaction_type, building_type,
	deposit, monthly_rent, sale_price, area_m2, status, agent, created_at, updated_at`

func saveListing(ctx context.Context, e sqlx.ExecerContext, l listing.Listing) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.ID.String(), string(l.Code), string(l.Prefix), l.Title, l.Address,
		l.TransactionType, l.BuildingType,
		l.Deposit.String(), l.MonthlyRent.String(), l.SalePrice.String(), l.AreaM2.String(),
		string(l.Status), l.Agent,
		l.CreatedAt.UTC().Format(time.RFC3339), l.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert listing %s: %w", l.Code, err)
	}
	return nil
}

// GetListing retrieves a listing by code.
func (s *Store) GetListing(ctx context.Context, code codes.Code) (*listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row listingRow
	err := s.db.GetContext(ctx, &row, "SELECT "+listingColumns+" FROM listings WHERE code = ?", string(code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing %s: %w", code, err)
	}

	l := row.toListing()
	return &l, nil
}

// ListListings returns listings, newest first.
func (s *Store) ListListings(ctx context.Context, filter listing.Filter) ([]listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.Prefix != "" {
		where = append(where, "prefix = ?")
		args = append(args, string(filter.Prefix))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT " + listingColumns + " FROM listings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []listingRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}

	out := make([]listing.Listing, len(rows))
	for i, r := range rows {
		out[i] = r.toListing()
	}
	return out, nil
}

// UpdateListingStatus sets status and updated_at.
func (s *Store) UpdateListingStatus(ctx context.Context, code codes.Code, status listing.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE listings SET status = ?, updated_at = ? WHERE code = ?",
		string(status), at.UTC().Format(time.RFC3339), string(code),
	)
	if err != nil {
		return fmt.Errorf("failed to update listing %s: %w", code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("listing %s: %w", code, codes.ErrNotFound)
	}
	return nil
}

var (
	_ codes.TxStore      = (*Store)(nil)
	_ codes.HistoryStore = (*Store)(nil)
	_ codes.HistoryStore = (*txStore)(nil)
	_ listing.Store      = (*Store)(nil)
	_ listing.Tx         = (*txStore)(nil)
)
