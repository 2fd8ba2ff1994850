/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements finance.Store and finance.AtomicStore plus the catalog,
  program, and session persistence the API layer needs. In production the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

ATOMIC COMMIT PROCEDURE:
  ApplyChangeSet is the authoritative commit path for line-item edits. It
  runs the staleness re-check, the working-set simulation, the invariant
  check, and every write inside ONE database transaction. A rejection rolls
  back; nothing is ever half-written on this path.

KEY TABLES:
  programs:          contracted engagements with aggregate charge/cost
  program_finances:  the locked financial snapshot, one row per program
  line_items:        priced therapy instances, soft-removable
  therapies:         the catalog (cost/charge/taxable)
  sessions:          bearer tokens for the API layer

MONEY STORAGE:
  All currency and percentage columns are TEXT holding decimal strings.
  SQLite REAL columns would reintroduce the binary-float drift the whole
  engine exists to avoid.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - finance/store.go: interface definitions
  - finance/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/meridian/program-engine/finance"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
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
	-- Contracted engagements
	CREATE TABLE IF NOT EXISTS programs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		member_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'quote',
		start_date TEXT NOT NULL,
		total_charge TEXT NOT NULL DEFAULT '0',
		total_cost TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_programs_status ON programs(status);

	-- Locked financial snapshot, one row per program
	CREATE TABLE IF NOT EXISTS program_finances (
		program_id INTEGER PRIMARY KEY REFERENCES programs(id),
		final_total_price TEXT NOT NULL DEFAULT '0',
		margin TEXT NOT NULL DEFAULT '0',
		finance_charges TEXT NOT NULL DEFAULT '0',
		discounts TEXT NOT NULL DEFAULT '0',
		taxes TEXT NOT NULL DEFAULT '0',
		variance TEXT NOT NULL DEFAULT '0',
		contracted_at_margin TEXT,
		updated_at TEXT NOT NULL
	);

	-- Priced therapy instances; soft-removed via the active flag
	CREATE TABLE IF NOT EXISTS line_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		program_id INTEGER NOT NULL REFERENCES programs(id),
		therapy_id INTEGER NOT NULL,
		cost TEXT NOT NULL,
		charge TEXT NOT NULL,
		taxable BOOLEAN NOT NULL DEFAULT FALSE,
		quantity INTEGER NOT NULL DEFAULT 1,
		days_from_start INTEGER NOT NULL DEFAULT 0,
		days_between INTEGER NOT NULL DEFAULT 0,
		instructions TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: active-item scans per program
	CREATE INDEX IF NOT EXISTS idx_line_items_program_active
		ON line_items(program_id, active);

	-- Therapy catalog
	CREATE TABLE IF NOT EXISTS therapies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		cost TEXT NOT NULL DEFAULT '0',
		charge TEXT NOT NULL DEFAULT '0',
		taxable BOOLEAN NOT NULL DEFAULT FALSE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- API sessions (bearer tokens)
	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// queryable is satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// PROGRAM STORE
// =============================================================================

// CreateProgram inserts a program and its empty financial snapshot.
func (s *Store) CreateProgram(ctx context.Context, p finance.Program) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO programs (name, member_name, status, start_date, total_charge, total_cost, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.MemberName, string(p.Status), p.StartDate.Format("2006-01-02"),
		p.TotalCharge.String(), p.TotalCost.String(), now, now,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO program_finances (program_id, updated_at) VALUES (?, ?)`,
		id, now,
	)
	return id, err
}

// GetProgram retrieves a program by id. Returns (nil, nil) when absent.
func (s *Store) GetProgram(ctx context.Context, id int64) (*finance.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProgram(ctx, s.db, id)
}

func getProgram(ctx context.Context, q queryable, id int64) (*finance.Program, error) {
	var (
		p                       finance.Program
		status                  string
		startDate, charge, cost string
		createdAt, updatedAt    string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, name, member_name, status, start_date, total_charge, total_cost, created_at, updated_at
		FROM programs WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.MemberName, &status, &startDate, &charge, &cost, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Status = finance.ProgramStatus(status)
	p.StartDate, _ = time.Parse("2006-01-02", startDate)
	p.TotalCharge = mustDecimal(charge)
	p.TotalCost = mustDecimal(cost)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

// ListPrograms returns all programs, newest first.
func (s *Store) ListPrograms(ctx context.Context) ([]finance.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, member_name, status, start_date, total_charge, total_cost, created_at, updated_at
		FROM programs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var programs []finance.Program
	for rows.Next() {
		var (
			p                       finance.Program
			status                  string
			startDate, charge, cost string
			createdAt, updatedAt    string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.MemberName, &status, &startDate, &charge, &cost, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.Status = finance.ProgramStatus(status)
		p.StartDate, _ = time.Parse("2006-01-02", startDate)
		p.TotalCharge = mustDecimal(charge)
		p.TotalCost = mustDecimal(cost)
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		programs = append(programs, p)
	}
	return programs, rows.Err()
}

// UpdateProgramStatus transitions a program's status.
func (s *Store) UpdateProgramStatus(ctx context.Context, id int64, status finance.ProgramStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE programs SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return finance.ErrProgramNotFound
	}
	return nil
}

// UpdateProgramTotals refreshes the aggregate charge/cost columns.
func (s *Store) UpdateProgramTotals(ctx context.Context, programID int64, charge, cost decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateProgramTotals(ctx, s.db, programID, charge, cost)
}

func updateProgramTotals(ctx context.Context, q queryable, programID int64, charge, cost decimal.Decimal) error {
	res, err := q.ExecContext(ctx,
		"UPDATE programs SET total_charge = ?, total_cost = ?, updated_at = ? WHERE id = ?",
		charge.String(), cost.String(), time.Now().UTC().Format(time.RFC3339), programID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return finance.ErrProgramNotFound
	}
	return nil
}

// =============================================================================
// FINANCIAL SNAPSHOT STORE
// =============================================================================

// GetSnapshot retrieves the locked snapshot. Returns (nil, nil) when absent.
func (s *Store) GetSnapshot(ctx context.Context, programID int64) (*finance.FinancialSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSnapshot(ctx, s.db, programID)
}

func getSnapshot(ctx context.Context, q queryable, programID int64) (*finance.FinancialSnapshot, error) {
	var (
		snap                       finance.FinancialSnapshot
		price, margin, charges     string
		discounts, taxes, variance string
		contractedAt               sql.NullString
		updatedAt                  string
	)
	err := q.QueryRowContext(ctx, `
		SELECT program_id, final_total_price, margin, finance_charges, discounts, taxes, variance,
		       contracted_at_margin, updated_at
		FROM program_finances WHERE program_id = ?`, programID,
	).Scan(&snap.ProgramID, &price, &margin, &charges, &discounts, &taxes, &variance, &contractedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.FinalTotalPrice = mustDecimal(price)
	snap.Margin = mustDecimal(margin)
	snap.FinanceCharges = mustDecimal(charges)
	snap.Discounts = mustDecimal(discounts)
	snap.Taxes = mustDecimal(taxes)
	snap.Variance = mustDecimal(variance)
	if contractedAt.Valid {
		d := mustDecimal(contractedAt.String)
		snap.ContractedAtMargin = &d
	}
	snap.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &snap, nil
}

// SaveSnapshot overwrites the locked figures for a program. A non-nil
// contracted_at_margin already in storage is never changed: attempts to
// move it fail with ErrContractLocked, and omitting it leaves the stored
// value intact.
func (s *Store) SaveSnapshot(ctx context.Context, snap finance.FinancialSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := getSnapshot(ctx, s.db, snap.ProgramID)
	if err != nil {
		return err
	}
	if current == nil {
		return finance.ErrSnapshotNotFound
	}

	contracted := current.ContractedAtMargin
	if snap.ContractedAtMargin != nil {
		if contracted != nil && !contracted.Equal(*snap.ContractedAtMargin) {
			return finance.ErrContractLocked
		}
		contracted = snap.ContractedAtMargin
	}

	var contractedStr *string
	if contracted != nil {
		v := contracted.String()
		contractedStr = &v
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE program_finances
		SET final_total_price = ?, margin = ?, finance_charges = ?, discounts = ?,
		    taxes = ?, variance = ?, contracted_at_margin = ?, updated_at = ?
		WHERE program_id = ?`,
		snap.FinalTotalPrice.String(), snap.Margin.String(), snap.FinanceCharges.String(),
		snap.Discounts.String(), snap.Taxes.String(), snap.Variance.String(),
		contractedStr, time.Now().UTC().Format(time.RFC3339), snap.ProgramID,
	)
	return err
}

// =============================================================================
// LINE ITEM STORE
// =============================================================================

const itemColumns = `id, program_id, therapy_id, cost, charge, taxable, quantity,
	days_from_start, days_between, instructions, active`

// ActiveItems returns a program's active line items.
func (s *Store) ActiveItems(ctx context.Context, programID int64) ([]finance.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryItems(ctx, s.db,
		"SELECT "+itemColumns+" FROM line_items WHERE program_id = ? AND active = TRUE ORDER BY id",
		programID)
}

// GetItem returns an item only if it belongs to the program.
func (s *Store) GetItem(ctx context.Context, programID, itemID int64) (*finance.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, err := queryItems(ctx, s.db,
		"SELECT "+itemColumns+" FROM line_items WHERE id = ? AND program_id = ?",
		itemID, programID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// InsertItem persists a new line item and returns its assigned id.
func (s *Store) InsertItem(ctx context.Context, item finance.LineItem) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertItem(ctx, s.db, item)
}

func insertItem(ctx context.Context, q queryable, item finance.LineItem) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := q.ExecContext(ctx, `
		INSERT INTO line_items
		(program_id, therapy_id, cost, charge, taxable, quantity,
		 days_from_start, days_between, instructions, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ProgramID, item.TherapyID, item.Cost.String(), item.Charge.String(),
		item.Taxable, item.Quantity, item.DaysFromStart, item.DaysBetween,
		item.Instructions, item.Active, now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateItem overwrites a persisted item, scoped by program id.
func (s *Store) UpdateItem(ctx context.Context, item finance.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateItem(ctx, s.db, item)
}

func updateItem(ctx context.Context, q queryable, item finance.LineItem) error {
	res, err := q.ExecContext(ctx, `
		UPDATE line_items
		SET therapy_id = ?, cost = ?, charge = ?, taxable = ?, quantity = ?,
		    days_from_start = ?, days_between = ?, instructions = ?, active = ?, updated_at = ?
		WHERE id = ? AND program_id = ?`,
		item.TherapyID, item.Cost.String(), item.Charge.String(), item.Taxable,
		item.Quantity, item.DaysFromStart, item.DaysBetween, item.Instructions,
		item.Active, time.Now().UTC().Format(time.RFC3339),
		item.ID, item.ProgramID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return finance.ErrItemNotFound
	}
	return nil
}

// DeactivateItem soft-removes an item. No-op if absent.
func (s *Store) DeactivateItem(ctx context.Context, programID, itemID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deactivateItem(ctx, s.db, programID, itemID)
}

func deactivateItem(ctx context.Context, q queryable, programID, itemID int64) error {
	_, err := q.ExecContext(ctx,
		"UPDATE line_items SET active = FALSE, updated_at = ? WHERE id = ? AND program_id = ?",
		time.Now().UTC().Format(time.RFC3339), itemID, programID)
	return err
}

func queryItems(ctx context.Context, q queryable, query string, args ...any) ([]finance.LineItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []finance.LineItem
	for rows.Next() {
		var (
			it           finance.LineItem
			cost, charge string
		)
		if err := rows.Scan(&it.ID, &it.ProgramID, &it.TherapyID, &cost, &charge,
			&it.Taxable, &it.Quantity, &it.DaysFromStart, &it.DaysBetween,
			&it.Instructions, &it.Active); err != nil {
			return nil, err
		}
		it.Cost = mustDecimal(cost)
		it.Charge = mustDecimal(charge)
		items = append(items, it)
	}
	return items, rows.Err()
}

// =============================================================================
// THERAPY CATALOG
// =============================================================================

// Therapy retrieves a catalog entry. Returns (nil, nil) when absent.
func (s *Store) Therapy(ctx context.Context, id int64) (*finance.Therapy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTherapy(ctx, s.db, id)
}

func getTherapy(ctx context.Context, q queryable, id int64) (*finance.Therapy, error) {
	var (
		t            finance.Therapy
		cost, charge string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, name, cost, charge, taxable, active FROM therapies WHERE id = ?", id,
	).Scan(&t.ID, &t.Name, &cost, &charge, &t.Taxable, &t.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Cost = mustDecimal(cost)
	t.Charge = mustDecimal(charge)
	return &t, nil
}

// ListTherapies returns the catalog ordered by name.
func (s *Store) ListTherapies(ctx context.Context) ([]finance.Therapy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, cost, charge, taxable, active FROM therapies ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var therapies []finance.Therapy
	for rows.Next() {
		var (
			t            finance.Therapy
			cost, charge string
		)
		if err := rows.Scan(&t.ID, &t.Name, &cost, &charge, &t.Taxable, &t.Active); err != nil {
			return nil, err
		}
		t.Cost = mustDecimal(cost)
		t.Charge = mustDecimal(charge)
		therapies = append(therapies, t)
	}
	return therapies, rows.Err()
}

// SaveTherapy inserts or updates a catalog entry, returning its id.
func (s *Store) SaveTherapy(ctx context.Context, t finance.Therapy) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	if t.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO therapies (name, cost, charge, taxable, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.Name, t.Cost.String(), t.Charge.String(), t.Taxable, t.Active, now, now)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE therapies SET name = ?, cost = ?, charge = ?, taxable = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Cost.String(), t.Charge.String(), t.Taxable, t.Active, now, t.ID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, finance.ErrTherapyNotFound
	}
	return t.ID, nil
}

// =============================================================================
// ATOMIC CHANGE-SET PROCEDURE (finance.AtomicStore)
// =============================================================================

// txTherapies scopes therapy lookups to the open transaction so the
// simulation and the writes observe the same catalog state.
type txTherapies struct {
	tx *sql.Tx
}

func (tt *txTherapies) Therapy(ctx context.Context, id int64) (*finance.Therapy, error) {
	return getTherapy(ctx, tt.tx, id)
}

// ApplyChangeSet commits a line-item change batch in one transaction:
//
//  1. Re-read the locked snapshot and re-run the staleness guard. A
//     concurrent finances update between the caller's guard and this
//     transaction is caught here.
//  2. Simulate the batch against the current active items.
//  3. Run the invariant check. On failure, roll back and report the
//     deltas - nothing was written.
//  4. Reconcile storage to the simulated working set (deactivate missing
//     items, update survivors, insert staged adds), refresh the program's
//     aggregate totals, and commit.
func (s *Store) ApplyChangeSet(ctx context.Context, programID int64, changes []finance.Change, expected finance.ExpectedLocked, tol finance.Tolerance) (*finance.ChangeSetResult, error) {
	// The engine validates before calling; re-check so a malformed change
	// reaching the procedure directly cannot be dropped mid-transaction.
	if err := finance.ValidateChanges(changes); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	snap, err := getSnapshot(ctx, tx, programID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, finance.ErrSnapshotNotFound
	}
	if err := finance.GuardSnapshot(expected, snap); err != nil {
		return nil, err
	}

	current, err := queryItems(ctx, tx,
		"SELECT "+itemColumns+" FROM line_items WHERE program_id = ? AND active = TRUE ORDER BY id",
		programID)
	if err != nil {
		return nil, err
	}

	ws := finance.NewWorkingSet(current)
	if err := ws.Apply(ctx, changes, &txTherapies{tx: tx}); err != nil {
		return nil, err
	}

	charge, cost := ws.Totals()
	check := finance.CheckLockedInvariant(charge, cost, snap, tol)
	result := &finance.ChangeSetResult{
		Check:           check,
		ProjectedCharge: charge,
		ProjectedCost:   cost,
	}
	if !check.OK {
		// Deferred rollback fires; the caller sees a clean rejection.
		return result, nil
	}

	if err := writeWorkingSet(ctx, tx, programID, current, ws); err != nil {
		return nil, err
	}
	if err := updateProgramTotals(ctx, tx, programID, charge, cost); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit change set: %w", err)
	}
	return result, nil
}

// writeWorkingSet reconciles the line_items table to the simulated set.
// Persisted ids absent from the set are deactivated, survivors are updated
// in place, and negative (staged) ids become inserts.
func writeWorkingSet(ctx context.Context, tx *sql.Tx, programID int64, before []finance.LineItem, ws *finance.WorkingSet) error {
	for _, it := range before {
		if !ws.Contains(it.ID) {
			if err := deactivateItem(ctx, tx, programID, it.ID); err != nil {
				return err
			}
		}
	}
	for _, it := range ws.Items() {
		it.ProgramID = programID
		if it.ID < 0 {
			it.ID = 0 // synthetic id never reaches storage
			if _, err := insertItem(ctx, tx, it); err != nil {
				return err
			}
			continue
		}
		if err := updateItem(ctx, tx, it); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SESSION STORE
// =============================================================================

// Session is a bearer token issued to an API caller.
type Session struct {
	Token     string
	UserName  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CreateSession persists a session token.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (token, user_name, created_at, expires_at) VALUES (?, ?, ?, ?)",
		sess.Token, sess.UserName,
		sess.CreatedAt.UTC().Format(time.RFC3339),
		sess.ExpiresAt.UTC().Format(time.RFC3339))
	return err
}

// GetSession retrieves a live session. Returns (nil, nil) for unknown or
// expired tokens.
func (s *Store) GetSession(ctx context.Context, token string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess Session
	var createdAt, expiresAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT token, user_name, created_at, expires_at FROM sessions WHERE token = ?", token,
	).Scan(&sess.Token, &sess.UserName, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sess.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	if time.Now().After(sess.ExpiresAt) {
		return nil, nil
	}
	return &sess, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"line_items", "program_finances", "programs", "therapies", "sessions"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
