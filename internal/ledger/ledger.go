// Package ledger tracks per-user credit balances and per-session
// consumption in SQLite. The detection core only appends consumption
// events and checks the balance as a tick-entry guard; it never reads the
// ledger back for skip decisions.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrInsufficientBalance indicates a charge exceeds the user's balance.
	ErrInsufficientBalance = errors.New("insufficient credit balance")
	// ErrUnknownUser indicates the user has no ledger account.
	ErrUnknownUser = errors.New("unknown user")
)

// Transaction is one recorded consumption or grant event.
type Transaction struct {
	ID        string
	UserID    string
	SessionID string
	Amount    int
	CreatedAt time.Time
}

// Store is the SQLite-backed credit ledger.
type Store struct {
	db *sql.DB
}

// Open creates a ledger store at the given path. Use ":memory:" for tests.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	// WAL for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			balance INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT,
			amount INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES accounts(user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_session ON transactions(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_user_time ON transactions(user_id, created_at DESC)`,
	}

	for i, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}

// Grant adds credits to a user's balance, creating the account if needed.
func (s *Store) Grant(userID string, amount int) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO accounts (user_id, balance) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET balance = balance + ?, updated_at = CURRENT_TIMESTAMP`,
		userID, amount, amount,
	); err != nil {
		return 0, fmt.Errorf("failed to grant credits: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO transactions (id, user_id, session_id, amount, created_at) VALUES (?, ?, '', ?, ?)`,
		uuid.New().String(), userID, amount, time.Now().UTC(),
	); err != nil {
		return 0, fmt.Errorf("failed to record grant: %w", err)
	}

	var balance int
	if err := tx.QueryRow(`SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// Charge deducts credits from a user, recording the session that consumed
// them. Returns the new balance, or ErrInsufficientBalance without any
// deduction when the balance is too low.
func (s *Store) Charge(userID, sessionID string, amount int) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var balance int
	err = tx.QueryRow(`SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownUser
	}
	if err != nil {
		return 0, err
	}

	if balance < amount {
		return balance, ErrInsufficientBalance
	}

	balance -= amount
	if _, err := tx.Exec(
		`UPDATE accounts SET balance = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`,
		balance, userID,
	); err != nil {
		return 0, fmt.Errorf("failed to charge credits: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO transactions (id, user_id, session_id, amount, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), userID, sessionID, -amount, time.Now().UTC(),
	); err != nil {
		return 0, fmt.Errorf("failed to record charge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// Balance returns the user's current balance.
func (s *Store) Balance(userID string) (int, error) {
	var balance int
	err := s.db.QueryRow(`SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownUser
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// SessionConsumption returns the total credits a session has consumed.
func (s *Store) SessionConsumption(sessionID string) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(
		`SELECT SUM(-amount) FROM transactions WHERE session_id = ? AND amount < 0`,
		sessionID,
	).Scan(&total)
	if err != nil {
		return 0, err
	}
	return int(total.Int64), nil
}

// ListTransactions returns a user's recent transactions, newest first.
func (s *Store) ListTransactions(userID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(
		`SELECT id, user_id, session_id, amount, created_at FROM transactions
		 WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		t := &Transaction{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.SessionID, &t.Amount, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
