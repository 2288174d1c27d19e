package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Session statuses.
const (
	StatusPending       = "pending"
	StatusDetected      = "detected"
	StatusRewardPending = "reward_pending"
	StatusSettled       = "settled"
	StatusExpired       = "expired"
	StatusFailed        = "failed"
)

// ErrSessionNotFound is returned when no session exists for a reference.
var ErrSessionNotFound = errors.New("session not found")

// Session is a payment request tracked from creation to settlement.
type Session struct {
	Reference    string    `json:"reference"`
	Merchant     string    `json:"merchant"`
	Amount       uint64    `json:"amount"`
	Token        string    `json:"token"`
	Label        string    `json:"label,omitempty"`
	Message      string    `json:"message,omitempty"`
	URI          string    `json:"uri"`
	Status       string    `json:"status"`
	Payer        string    `json:"payer,omitempty"`
	TransferTx   string    `json:"transferTx,omitempty"`
	SettlementTx string    `json:"settlementTx,omitempty"`
	RewardAction string    `json:"rewardAction,omitempty"`
	RewardTier   string    `json:"rewardTier,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SQLiteStore persists payment sessions.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
            reference TEXT PRIMARY KEY,
            merchant TEXT NOT NULL,
            amount INTEGER NOT NULL,
            token TEXT NOT NULL,
            label TEXT NOT NULL DEFAULT '',
            message TEXT NOT NULL DEFAULT '',
            uri TEXT NOT NULL,
            status TEXT NOT NULL,
            payer TEXT NOT NULL DEFAULT '',
            transfer_tx TEXT NOT NULL DEFAULT '',
            settlement_tx TEXT NOT NULL DEFAULT '',
            reward_action TEXT NOT NULL DEFAULT '',
            reward_tier TEXT NOT NULL DEFAULT '',
            error TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS sessions_status ON sessions(status);`,
		`CREATE TABLE IF NOT EXISTS followups (
            customer TEXT PRIMARY KEY,
            slot INTEGER NOT NULL,
            error TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS cursors (
            name TEXT PRIMARY KEY,
            slot INTEGER NOT NULL
        );`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) InsertSession(ctx context.Context, sess Session) error {
	const stmt = `INSERT INTO sessions(reference, merchant, amount, token, label, message, uri, status, payer, transfer_tx, settlement_tx, reward_action, reward_tier, error, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, sess.Reference, sess.Merchant, int64(sess.Amount), sess.Token, sess.Label, sess.Message, sess.URI,
		sess.Status, sess.Payer, sess.TransferTx, sess.SettlementTx, sess.RewardAction, sess.RewardTier, sess.Error, sess.CreatedAt, sess.UpdatedAt)
	return err
}

// UpdateSession writes the mutable fields of sess.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sess Session) error {
	const stmt = `UPDATE sessions SET status = ?, payer = ?, transfer_tx = ?, settlement_tx = ?, reward_action = ?, reward_tier = ?, error = ?, updated_at = ? WHERE reference = ?`
	res, err := s.db.ExecContext(ctx, stmt, sess.Status, sess.Payer, sess.TransferTx, sess.SettlementTx, sess.RewardAction, sess.RewardTier, sess.Error, sess.UpdatedAt, sess.Reference)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

const sessionColumns = `reference, merchant, amount, token, label, message, uri, status, payer, transfer_tx, settlement_tx, reward_action, reward_tier, error, created_at, updated_at`

func (s *SQLiteStore) GetSession(ctx context.Context, reference string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE reference = ?`, reference)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// SessionsByStatus lists sessions in the given status, oldest first.
func (s *SQLiteStore) SessionsByStatus(ctx context.Context, status string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var amount int64
	err := row.Scan(&sess.Reference, &sess.Merchant, &amount, &sess.Token, &sess.Label, &sess.Message, &sess.URI, &sess.Status,
		&sess.Payer, &sess.TransferTx, &sess.SettlementTx, &sess.RewardAction, &sess.RewardTier, &sess.Error, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.Amount = uint64(amount)
	return &sess, nil
}

// Followup is a customer whose reward token must be reconciled after a
// settlement the gateway did not submit itself.
type Followup struct {
	Customer  string    `json:"customer"`
	Slot      uint64    `json:"slot"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpsertFollowup queues f, keeping the original creation time when the
// customer is already queued.
func (s *SQLiteStore) UpsertFollowup(ctx context.Context, f Followup) error {
	const stmt = `INSERT INTO followups(customer, slot, error, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(customer) DO UPDATE SET slot = excluded.slot, error = excluded.error, updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, stmt, f.Customer, int64(f.Slot), f.Error, f.CreatedAt, f.UpdatedAt)
	return err
}

// Followups lists queued follow-ups, oldest first.
func (s *SQLiteStore) Followups(ctx context.Context) ([]Followup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT customer, slot, error, created_at, updated_at FROM followups ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Followup
	for rows.Next() {
		var f Followup
		var slot int64
		if err := rows.Scan(&f.Customer, &slot, &f.Error, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		f.Slot = uint64(slot)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteFollowup(ctx context.Context, customer string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM followups WHERE customer = ?`, customer)
	return err
}

// Cursor returns the last slot processed by the named follower, or zero.
func (s *SQLiteStore) Cursor(ctx context.Context, name string) (uint64, error) {
	var slot int64
	err := s.db.QueryRowContext(ctx, `SELECT slot FROM cursors WHERE name = ?`, name).Scan(&slot)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(slot), nil
}

func (s *SQLiteStore) SetCursor(ctx context.Context, name string, slot uint64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO cursors(name, slot) VALUES (?, ?)
        ON CONFLICT(name) DO UPDATE SET slot = excluded.slot`, name, int64(slot))
	return err
}
