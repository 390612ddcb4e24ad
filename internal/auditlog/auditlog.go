// Package auditlog persists reconciliation runs and their per-customer
// outcomes to a local SQLite database, so operators can see what a run
// actually did and the rollback command can point at the right window.
package auditlog

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Run is one recorded engine pass.
type Run struct {
	ID             string
	Kind           string // "reconcile" or "rollback"
	AccountID      string
	AccountName    string
	PlanID         string
	PlanLabel      string
	DryRun         bool
	Created        int
	Updated        int
	Skipped        int
	AlreadyAligned int
	Errors         int
	StartedAt      time.Time
	FinishedAt     time.Time
}

// RunAction is one per-customer outcome inside a run.
type RunAction struct {
	RunID          string
	CustomerID     string
	CustomerName   string
	Kind           string
	Description    string
	SubscriptionID string
	InvoiceID      string
	Err            string
}

// Store provides append-and-list access to the audit database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the audit database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	dbPath := filepath.Join(dir, "runs.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id              TEXT PRIMARY KEY,
		kind            TEXT NOT NULL DEFAULT 'reconcile',
		account_id      TEXT NOT NULL,
		account_name    TEXT NOT NULL DEFAULT '',
		plan_id         TEXT NOT NULL DEFAULT '',
		plan_label      TEXT NOT NULL DEFAULT '',
		dry_run         INTEGER NOT NULL DEFAULT 1,
		created         INTEGER NOT NULL DEFAULT 0,
		updated         INTEGER NOT NULL DEFAULT 0,
		skipped         INTEGER NOT NULL DEFAULT 0,
		already_aligned INTEGER NOT NULL DEFAULT 0,
		errors          INTEGER NOT NULL DEFAULT 0,
		started_at      INTEGER NOT NULL,
		finished_at     INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS run_actions (
		run_id          TEXT NOT NULL REFERENCES runs(id),
		customer_id     TEXT NOT NULL,
		customer_name   TEXT NOT NULL DEFAULT '',
		kind            TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		subscription_id TEXT NOT NULL DEFAULT '',
		invoice_id      TEXT NOT NULL DEFAULT '',
		error           TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_runs_account ON runs(account_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_run_actions_run ON run_actions(run_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init audit schema: %w", err)
	}
	return nil
}

// NewRunID generates a run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Record writes one run and its actions in a single transaction.
func (s *Store) Record(run Run, actions []RunAction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`INSERT INTO runs
		(id, kind, account_id, account_name, plan_id, plan_label, dry_run,
		 created, updated, skipped, already_aligned, errors, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.AccountID, run.AccountName, run.PlanID, run.PlanLabel,
		boolToInt(run.DryRun), run.Created, run.Updated, run.Skipped,
		run.AlreadyAligned, run.Errors, run.StartedAt.UTC().Unix(), run.FinishedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	for _, a := range actions {
		_, err = tx.Exec(`INSERT INTO run_actions
			(run_id, customer_id, customer_name, kind, description, subscription_id, invoice_id, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, a.CustomerID, a.CustomerName, a.Kind, a.Description,
			a.SubscriptionID, a.InvoiceID, a.Err)
		if err != nil {
			return fmt.Errorf("insert run action for customer %s: %w", a.CustomerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

// RecentRuns returns the newest runs for an account, most recent first.
// An empty accountID returns runs across all accounts.
func (s *Store) RecentRuns(accountID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT id, kind, account_id, account_name, plan_id, plan_label, dry_run,
		created, updated, skipped, already_aligned, errors, started_at, finished_at
		FROM runs`
	args := []any{}
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var dryRun int
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Kind, &r.AccountID, &r.AccountName, &r.PlanID,
			&r.PlanLabel, &dryRun, &r.Created, &r.Updated, &r.Skipped,
			&r.AlreadyAligned, &r.Errors, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		r.DryRun = dryRun != 0
		r.StartedAt = time.Unix(started, 0).UTC()
		r.FinishedAt = time.Unix(finished, 0).UTC()
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// Actions returns the recorded outcomes of one run in insertion order.
func (s *Store) Actions(runID string) ([]RunAction, error) {
	rows, err := s.db.Query(`SELECT run_id, customer_id, customer_name, kind,
		description, subscription_id, invoice_id, error
		FROM run_actions WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run actions: %w", err)
	}
	defer rows.Close()

	var actions []RunAction
	for rows.Next() {
		var a RunAction
		if err := rows.Scan(&a.RunID, &a.CustomerID, &a.CustomerName, &a.Kind,
			&a.Description, &a.SubscriptionID, &a.InvoiceID, &a.Err); err != nil {
			return nil, fmt.Errorf("scan run action row: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run action rows: %w", err)
	}
	return actions, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
