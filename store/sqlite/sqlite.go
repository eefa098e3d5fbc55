/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore (obligations, contributions, subjects, rate
  history, expenses) on SQLite. The same SQL works on PostgreSQL with
  minor dialect changes.

KEY TABLES:
  obligations:   one row per amount owed, with cached paid/remaining/status
  contributions: append-only settlement log (never updated or deleted)
  subjects:      students / teachers / staff known to a tenant
  rate_changes:  append-only rate history per subject
  expenses:      operating expense ledger

INDEXES:
  - idx_obligations_period: UNIQUE (tenant, kind, subject, month, year);
    the database itself refuses a second obligation for the same period
  - idx_contributions_tenant_time: reporting window scans (hot path)
  - idx_expenses_tenant_time: reporting window scans

OPTIMISTIC LOCKING:
  UpdateObligation runs
    UPDATE obligations SET ... WHERE id = ? AND tenant_id = ? AND version = ?
  and inserts the contribution in the same database transaction. Zero rows
  affected means another writer got there first: generic.ErrConcurrentModification.

MONEY:
  Amounts are stored as decimal TEXT and summed in Go, never as REAL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single pooled connection, so
  ":memory:" databases are shared by every caller of the same Store.

USAGE:
  store, err := sqlite.New("./data/settlement.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng := generic.NewEngine(store, generic.Options{})

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
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

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// timeLayout is fixed-width so that TEXT comparison orders by time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements generic.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ generic.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := Open(db)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Open wraps an existing connection without migrating it.
func Open(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS obligations (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		subject_kind TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		period_month INTEGER,
		period_year INTEGER,
		description TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		remaining_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		payment_date TEXT,
		notes TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One obligation per subject and month
	CREATE UNIQUE INDEX IF NOT EXISTS idx_obligations_period
		ON obligations(tenant_id, subject_kind, subject_id, period_month, period_year)
		WHERE period_month IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_obligations_tenant_status
		ON obligations(tenant_id, status);
	CREATE INDEX IF NOT EXISTS idx_obligations_tenant_subject
		ON obligations(tenant_id, subject_kind, subject_id);

	-- Contributions (append-only settlement log)
	CREATE TABLE IF NOT EXISTS contributions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		obligation_id TEXT NOT NULL REFERENCES obligations(id) ON DELETE RESTRICT,
		subject_kind TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		direction TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_contributions_obligation
		ON contributions(obligation_id, seq);
	CREATE INDEX IF NOT EXISTS idx_contributions_tenant_time
		ON contributions(tenant_id, recorded_at);

	CREATE TABLE IF NOT EXISTS subjects (
		tenant_id TEXT NOT NULL,
		subject_kind TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, subject_kind, subject_id)
	);

	CREATE TABLE IF NOT EXISTS rate_changes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		subject_kind TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		rate TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL,
		FOREIGN KEY (tenant_id, subject_kind, subject_id)
			REFERENCES subjects(tenant_id, subject_kind, subject_id)
	);

	CREATE INDEX IF NOT EXISTS idx_rate_changes_subject
		ON rate_changes(tenant_id, subject_kind, subject_id, seq);

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		spent_at TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_tenant_time
		ON expenses(tenant_id, spent_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

const obligationColumns = `
	id, tenant_id, subject_kind, subject_id, period_month, period_year, description,
	amount, paid_amount, remaining_amount, status, payment_method, payment_date,
	notes, version, created_by, created_at, updated_at`

func (s *Store) CreateObligation(ctx context.Context, o generic.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createObligation(ctx, s.db, o)
}

func createObligation(ctx context.Context, q querier, o generic.Obligation) error {
	var month, year sql.NullInt64
	if o.Period != nil {
		month = sql.NullInt64{Int64: int64(o.Period.Month), Valid: true}
		year = sql.NullInt64{Int64: int64(o.Period.Year), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO obligations (`+obligationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.TenantID, o.Subject.Kind.KindID(), o.Subject.ID, month, year, o.Description,
		o.Amount.String(), o.PaidAmount.String(), o.RemainingAmount.String(),
		o.Status, o.PaymentMethod, nullTime(o.PaymentDate),
		o.Notes, o.Version, o.CreatedBy, formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && o.Period != nil {
			return &generic.DuplicatePeriodError{Subject: o.Subject, Period: *o.Period}
		}
		return fmt.Errorf("failed to insert obligation: %w", err)
	}
	return nil
}

func (s *Store) GetObligation(ctx context.Context, tenant generic.TenantID, id generic.ObligationID) (generic.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getObligation(ctx, s.db, tenant, id)
}

func getObligation(ctx context.Context, q querier, tenant generic.TenantID, id generic.ObligationID) (generic.Obligation, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+obligationColumns+` FROM obligations WHERE id = ? AND tenant_id = ?`,
		id, tenant)
	o, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Obligation{}, generic.ErrObligationNotFound
	}
	return o, err
}

func (s *Store) FindByPeriod(ctx context.Context, tenant generic.TenantID, subject generic.SubjectRef, period generic.Period) (generic.Obligation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByPeriod(ctx, s.db, tenant, subject, period)
}

func findByPeriod(ctx context.Context, q querier, tenant generic.TenantID, subject generic.SubjectRef, period generic.Period) (generic.Obligation, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+obligationColumns+` FROM obligations
		WHERE tenant_id = ? AND subject_kind = ? AND subject_id = ?
		  AND period_month = ? AND period_year = ?`,
		tenant, subject.Kind.KindID(), subject.ID, int(period.Month), period.Year)
	o, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Obligation{}, false, nil
	}
	if err != nil {
		return generic.Obligation{}, false, err
	}
	return o, true, nil
}

func (s *Store) ListObligations(ctx context.Context, tenant generic.TenantID, filter generic.ObligationFilter) ([]generic.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listObligations(ctx, s.db, tenant, filter)
}

func listObligations(ctx context.Context, q querier, tenant generic.TenantID, filter generic.ObligationFilter) ([]generic.Obligation, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenant}
	if filter.Kind != "" {
		where = append(where, "subject_kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Year != 0 {
		where = append(where, "period_year = ?")
		args = append(args, filter.Year)
	}
	if filter.Period != nil {
		where = append(where, "period_month = ? AND period_year = ?")
		args = append(args, int(filter.Period.Month), filter.Period.Year)
	}
	if filter.OpenOnly {
		where = append(where, "status IN ('PENDING', 'PARTIALLY_PAID')")
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+obligationColumns+` FROM obligations
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY period_year IS NULL, period_year, period_month, created_at, id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query obligations: %w", err)
	}
	defer rows.Close()

	var result []generic.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		// Remaining > 0 is checked on the decimal, not on TEXT.
		if filter.Matches(o) {
			result = append(result, o)
		}
	}
	return result, rows.Err()
}

func (s *Store) UpdateObligation(ctx context.Context, o generic.Obligation, expectedVersion int64, c *generic.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := updateObligation(ctx, sqlTx, o, expectedVersion, c); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func updateObligation(ctx context.Context, q querier, o generic.Obligation, expectedVersion int64, c *generic.Contribution) error {
	res, err := q.ExecContext(ctx, `
		UPDATE obligations
		SET paid_amount = ?, remaining_amount = ?, status = ?, payment_method = ?,
		    payment_date = ?, notes = ?, version = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND version = ?`,
		o.PaidAmount.String(), o.RemainingAmount.String(), o.Status, o.PaymentMethod,
		nullTime(o.PaymentDate), o.Notes, o.Version, formatTime(o.UpdatedAt),
		o.ID, o.TenantID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update obligation: %w", err)
	}
	if err := checkVersioned(ctx, q, res, o.TenantID, o.ID); err != nil {
		return err
	}

	if c == nil {
		return nil
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO contributions
		(id, tenant_id, obligation_id, subject_kind, subject_id, amount, method,
		 direction, actor_id, recorded_at, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.ObligationID, c.Subject.Kind.KindID(), c.Subject.ID,
		c.Amount.String(), c.Method, c.Direction, c.ActorID, formatTime(c.RecordedAt), c.Note,
	)
	if err != nil {
		return fmt.Errorf("failed to insert contribution: %w", err)
	}
	return nil
}

// checkVersioned turns "zero rows affected" into not-found or a conflict.
func checkVersioned(ctx context.Context, q querier, res sql.Result, tenant generic.TenantID, id generic.ObligationID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	var count int
	if err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM obligations WHERE id = ? AND tenant_id = ?", id, tenant,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to check obligation: %w", err)
	}
	if count == 0 {
		return generic.ErrObligationNotFound
	}
	return generic.ErrConcurrentModification
}

func (s *Store) DeleteObligation(ctx context.Context, tenant generic.TenantID, id generic.ObligationID, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteObligation(ctx, s.db, tenant, id, expectedVersion)
}

func deleteObligation(ctx context.Context, q querier, tenant generic.TenantID, id generic.ObligationID, expectedVersion int64) error {
	res, err := q.ExecContext(ctx,
		"DELETE FROM obligations WHERE id = ? AND tenant_id = ? AND version = ?",
		id, tenant, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete obligation: %w", err)
	}
	return checkVersioned(ctx, q, res, tenant, id)
}

func (s *Store) ListContributions(ctx context.Context, tenant generic.TenantID, id generic.ObligationID) ([]generic.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryContributions(ctx, s.db, `
		SELECT `+contributionColumns+` FROM contributions
		WHERE tenant_id = ? AND obligation_id = ?
		ORDER BY seq`, tenant, id)
}

func (s *Store) ContributionsBetween(ctx context.Context, tenant generic.TenantID, from, to time.Time) ([]generic.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return contributionsBetween(ctx, s.db, tenant, from, to)
}

func contributionsBetween(ctx context.Context, q querier, tenant generic.TenantID, from, to time.Time) ([]generic.Contribution, error) {
	return queryContributions(ctx, q, `
		SELECT `+contributionColumns+` FROM contributions
		WHERE tenant_id = ? AND recorded_at >= ? AND recorded_at < ?
		ORDER BY seq`, tenant, formatTime(from), formatTime(to))
}

const contributionColumns = `
	id, tenant_id, obligation_id, subject_kind, subject_id, amount, method,
	direction, actor_id, recorded_at, note`

func queryContributions(ctx context.Context, q querier, query string, args ...any) ([]generic.Contribution, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()

	var result []generic.Contribution
	for rows.Next() {
		var (
			c          generic.Contribution
			kind       string
			amount     string
			recordedAt string
		)
		if err := rows.Scan(&c.ID, &c.TenantID, &c.ObligationID, &kind, &c.Subject.ID,
			&amount, &c.Method, &c.Direction, &c.ActorID, &recordedAt, &c.Note); err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		c.Subject.Kind = generic.GetOrCreateKind(kind)
		if c.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		if c.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanObligation(row rowScanner) (generic.Obligation, error) {
	var (
		o           generic.Obligation
		kind        string
		month, year sql.NullInt64
		amount      string
		paid        string
		remaining   string
		paymentDate sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(
		&o.ID, &o.TenantID, &kind, &o.Subject.ID, &month, &year, &o.Description,
		&amount, &paid, &remaining, &o.Status, &o.PaymentMethod, &paymentDate,
		&o.Notes, &o.Version, &o.CreatedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, err
		}
		return o, fmt.Errorf("failed to scan obligation: %w", err)
	}

	o.Subject.Kind = generic.GetOrCreateKind(kind)
	if month.Valid && year.Valid {
		o.Period = &generic.Period{Month: time.Month(month.Int64), Year: int(year.Int64)}
	}
	if o.Amount, err = parseDecimal(amount); err != nil {
		return o, err
	}
	if o.PaidAmount, err = parseDecimal(paid); err != nil {
		return o, err
	}
	if o.RemainingAmount, err = parseDecimal(remaining); err != nil {
		return o, err
	}
	if paymentDate.Valid {
		t, err := parseTime(paymentDate.String)
		if err != nil {
			return o, err
		}
		o.PaymentDate = &t
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return o, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return o, err
	}
	return o, nil
}

// =============================================================================
// SUBJECTS
// =============================================================================

func (s *Store) CreateSubject(ctx context.Context, subj generic.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := createSubject(ctx, sqlTx, subj); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func createSubject(ctx context.Context, q querier, subj generic.Subject) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO subjects (tenant_id, subject_kind, subject_id, name, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		subj.TenantID, subj.Ref.Kind.KindID(), subj.Ref.ID, subj.Name, formatTime(subj.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateSubject
		}
		return fmt.Errorf("failed to insert subject: %w", err)
	}
	for _, rc := range subj.Rates {
		if err := appendRate(ctx, q, subj.TenantID, subj.Ref, rc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetSubject(ctx context.Context, tenant generic.TenantID, ref generic.SubjectRef) (generic.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSubject(ctx, s.db, tenant, ref)
}

func getSubject(ctx context.Context, q querier, tenant generic.TenantID, ref generic.SubjectRef) (generic.Subject, error) {
	var (
		subj      generic.Subject
		createdAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT name, created_at FROM subjects
		WHERE tenant_id = ? AND subject_kind = ? AND subject_id = ?`,
		tenant, ref.Kind.KindID(), ref.ID,
	).Scan(&subj.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Subject{}, generic.ErrSubjectNotFound
	}
	if err != nil {
		return generic.Subject{}, fmt.Errorf("failed to get subject: %w", err)
	}

	subj.TenantID = tenant
	subj.Ref = generic.SubjectRef{Kind: generic.GetOrCreateKind(ref.Kind.KindID()), ID: ref.ID}
	if subj.CreatedAt, err = parseTime(createdAt); err != nil {
		return generic.Subject{}, err
	}
	if subj.Rates, err = loadRates(ctx, q, tenant, ref); err != nil {
		return generic.Subject{}, err
	}
	return subj, nil
}

func (s *Store) ListSubjects(ctx context.Context, tenant generic.TenantID, kind string) ([]generic.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSubjects(ctx, s.db, tenant, kind)
}

func listSubjects(ctx context.Context, q querier, tenant generic.TenantID, kind string) ([]generic.Subject, error) {
	query := `SELECT subject_kind, subject_id FROM subjects WHERE tenant_id = ?`
	args := []any{tenant}
	if kind != "" {
		query += ` AND subject_kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY subject_kind, subject_id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	var refs []generic.SubjectRef
	for rows.Next() {
		var k, id string
		if err := rows.Scan(&k, &id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		refs = append(refs, generic.SubjectRef{Kind: generic.GetOrCreateKind(k), ID: generic.SubjectID(id)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Close before the per-subject queries; the pool has one connection.
	rows.Close()

	result := make([]generic.Subject, 0, len(refs))
	for _, ref := range refs {
		subj, err := getSubject(ctx, q, tenant, ref)
		if err != nil {
			return nil, err
		}
		result = append(result, subj)
	}
	return result, nil
}

func (s *Store) AppendRate(ctx context.Context, tenant generic.TenantID, ref generic.SubjectRef, rc generic.RateChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendRate(ctx, s.db, tenant, ref, rc)
}

func appendRate(ctx context.Context, q querier, tenant generic.TenantID, ref generic.SubjectRef, rc generic.RateChange) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO rate_changes
		(tenant_id, subject_kind, subject_id, rate, effective_from, actor_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tenant, ref.Kind.KindID(), ref.ID, rc.Rate.String(),
		formatTime(rc.EffectiveFrom), rc.ActorID, formatTime(rc.RecordedAt))
	if err != nil {
		if isForeignKeyError(err) {
			return generic.ErrSubjectNotFound
		}
		return fmt.Errorf("failed to append rate: %w", err)
	}
	return nil
}

func loadRates(ctx context.Context, q querier, tenant generic.TenantID, ref generic.SubjectRef) ([]generic.RateChange, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT rate, effective_from, actor_id, recorded_at FROM rate_changes
		WHERE tenant_id = ? AND subject_kind = ? AND subject_id = ?
		ORDER BY seq`,
		tenant, ref.Kind.KindID(), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	defer rows.Close()

	var rates []generic.RateChange
	for rows.Next() {
		var (
			rc                   generic.RateChange
			rate, from, recorded string
		)
		if err := rows.Scan(&rate, &from, &rc.ActorID, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		if rc.Rate, err = parseDecimal(rate); err != nil {
			return nil, err
		}
		if rc.EffectiveFrom, err = parseTime(from); err != nil {
			return nil, err
		}
		if rc.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		rates = append(rates, rc)
	}
	return rates, rows.Err()
}

// =============================================================================
// EXPENSES
// =============================================================================

func (s *Store) CreateExpense(ctx context.Context, e generic.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createExpense(ctx, s.db, e)
}

func createExpense(ctx context.Context, q querier, e generic.Expense) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO expenses
		(id, tenant_id, category_id, amount, method, spent_at, note, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.CategoryID, e.Amount.String(), e.Method,
		formatTime(e.SpentAt), e.Note, e.ActorID, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	return nil
}

func (s *Store) ExpensesBetween(ctx context.Context, tenant generic.TenantID, from, to time.Time) ([]generic.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expensesBetween(ctx, s.db, tenant, from, to)
}

func expensesBetween(ctx context.Context, q querier, tenant generic.TenantID, from, to time.Time) ([]generic.Expense, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, tenant_id, category_id, amount, method, spent_at, note, actor_id, created_at
		FROM expenses
		WHERE tenant_id = ? AND spent_at >= ? AND spent_at < ?
		ORDER BY spent_at, id`,
		tenant, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var result []generic.Expense
	for rows.Next() {
		var (
			e                          generic.Expense
			amount, spentAt, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.CategoryID, &amount, &e.Method,
			&spentAt, &e.Note, &e.ActorID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		if e.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		if e.SpentAt, err = parseTime(spentAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every call on the open transaction; WithTx holds the lock.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateObligation(ctx context.Context, o generic.Obligation) error {
	return createObligation(ctx, ts.tx, o)
}

func (ts *txStore) GetObligation(ctx context.Context, tenant generic.TenantID, id generic.ObligationID) (generic.Obligation, error) {
	return getObligation(ctx, ts.tx, tenant, id)
}

func (ts *txStore) FindByPeriod(ctx context.Context, tenant generic.TenantID, subject generic.SubjectRef, period generic.Period) (generic.Obligation, bool, error) {
	return findByPeriod(ctx, ts.tx, tenant, subject, period)
}

func (ts *txStore) ListObligations(ctx context.Context, tenant generic.TenantID, filter generic.ObligationFilter) ([]generic.Obligation, error) {
	return listObligations(ctx, ts.tx, tenant, filter)
}

func (ts *txStore) UpdateObligation(ctx context.Context, o generic.Obligation, expectedVersion int64, c *generic.Contribution) error {
	return updateObligation(ctx, ts.tx, o, expectedVersion, c)
}

func (ts *txStore) DeleteObligation(ctx context.Context, tenant generic.TenantID, id generic.ObligationID, expectedVersion int64) error {
	return deleteObligation(ctx, ts.tx, tenant, id, expectedVersion)
}

func (ts *txStore) ListContributions(ctx context.Context, tenant generic.TenantID, id generic.ObligationID) ([]generic.Contribution, error) {
	return queryContributions(ctx, ts.tx, `
		SELECT `+contributionColumns+` FROM contributions
		WHERE tenant_id = ? AND obligation_id = ?
		ORDER BY seq`, tenant, id)
}

func (ts *txStore) ContributionsBetween(ctx context.Context, tenant generic.TenantID, from, to time.Time) ([]generic.Contribution, error) {
	return contributionsBetween(ctx, ts.tx, tenant, from, to)
}

func (ts *txStore) CreateSubject(ctx context.Context, subj generic.Subject) error {
	return createSubject(ctx, ts.tx, subj)
}

func (ts *txStore) GetSubject(ctx context.Context, tenant generic.TenantID, ref generic.SubjectRef) (generic.Subject, error) {
	return getSubject(ctx, ts.tx, tenant, ref)
}

func (ts *txStore) ListSubjects(ctx context.Context, tenant generic.TenantID, kind string) ([]generic.Subject, error) {
	return listSubjects(ctx, ts.tx, tenant, kind)
}

func (ts *txStore) AppendRate(ctx context.Context, tenant generic.TenantID, ref generic.SubjectRef, rc generic.RateChange) error {
	return appendRate(ctx, ts.tx, tenant, ref, rc)
}

func (ts *txStore) CreateExpense(ctx context.Context, e generic.Expense) error {
	return createExpense(ctx, ts.tx, e)
}

func (ts *txStore) ExpensesBetween(ctx context.Context, tenant generic.TenantID, from, to time.Time) ([]generic.Expense, error) {
	return expensesBetween(ctx, ts.tx, tenant, from, to)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"contributions", "rate_changes", "obligations", "subjects", "expenses"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount %q: %w", s, err)
	}
	return d, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
