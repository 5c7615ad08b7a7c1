// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"public-trader/internal/auth"
	"public-trader/internal/models"
)

// SQLiteStore persists sessions and an order event journal in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Single-row session table; the newest credential wins.
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		access_token TEXT NOT NULL,
		refresh_token TEXT,
		issued_at DATETIME NOT NULL,
		validity_seconds INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Order lifecycle journal, one row per dispatched update.
	CREATE TABLE IF NOT EXISTS order_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		old_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		filled_quantity REAL NOT NULL,
		event_time DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_order_events_order_id ON order_events(order_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveSession persists the credential, replacing any previous one.
func (s *SQLiteStore) SaveSession(ctx context.Context, cred auth.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, access_token, refresh_token, issued_at, validity_seconds, updated_at)
		VALUES (1, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			issued_at = excluded.issued_at,
			validity_seconds = excluded.validity_seconds,
			updated_at = CURRENT_TIMESTAMP`,
		cred.AccessToken, cred.RefreshToken, cred.IssuedAt.UTC(), int64(cred.Validity/time.Second))
	return err
}

// LoadSession returns the persisted credential, if any.
func (s *SQLiteStore) LoadSession(ctx context.Context) (auth.Credential, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, issued_at, validity_seconds
		FROM sessions WHERE id = 1`)

	var cred auth.Credential
	var refreshToken sql.NullString
	var validitySeconds int64
	err := row.Scan(&cred.AccessToken, &refreshToken, &cred.IssuedAt, &validitySeconds)
	if err == sql.ErrNoRows {
		return auth.Credential{}, false, nil
	}
	if err != nil {
		return auth.Credential{}, false, err
	}
	cred.RefreshToken = refreshToken.String
	cred.Validity = time.Duration(validitySeconds) * time.Second
	return cred, true, nil
}

// ClearSession removes the persisted credential.
func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = 1`)
	return err
}

// RecordOrderEvent appends an order update to the journal.
func (s *SQLiteStore) RecordOrderEvent(ctx context.Context, update models.OrderUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_events (order_id, old_status, new_status, filled_quantity, event_time)
		VALUES (?, ?, ?, ?, ?)`,
		update.OrderID, string(update.OldStatus), string(update.NewStatus),
		update.FilledQuantity, update.Timestamp.UTC())
	return err
}

// OrderEvents returns the journaled updates for an order, oldest first.
func (s *SQLiteStore) OrderEvents(ctx context.Context, orderID string) ([]models.OrderUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, old_status, new_status, filled_quantity, event_time
		FROM order_events WHERE order_id = ? ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates []models.OrderUpdate
	for rows.Next() {
		var u models.OrderUpdate
		var oldStatus, newStatus string
		if err := rows.Scan(&u.OrderID, &oldStatus, &newStatus, &u.FilledQuantity, &u.Timestamp); err != nil {
			return nil, err
		}
		u.OldStatus = models.OrderStatus(oldStatus)
		u.NewStatus = models.OrderStatus(newStatus)
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
