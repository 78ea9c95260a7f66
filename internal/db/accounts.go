package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/viabridge-project/viabridge/internal/auth"
	"github.com/viabridge-project/viabridge/internal/events"
)

var (
	// ErrAccountNotFound is returned for unknown usernames.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTokenUnchanged means a refresh found the same token that failed.
	ErrTokenUnchanged = errors.New("stored token has not been replaced")
)

// AccountStore keeps player accounts and their access tokens.
type AccountStore struct {
	db *Database
}

// StoredAccount is one row of the accounts table.
type StoredAccount struct {
	Username    string    `json:"username"`
	UUID        uuid.UUID `json:"uuid"`
	Online      bool      `json:"online"`
	AccessToken string    `json:"-"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LoginEvent is one row of the login history.
type LoginEvent struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	Connection string    `json:"connection"`
	Account    string    `json:"account"`
	Detail     string    `json:"detail"`
	Success    bool      `json:"success"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewAccountStore opens the database at dbPath and migrates it.
func NewAccountStore(dbPath string) (*AccountStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	s := &AccountStore{db: database}
	if err := s.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate account database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *AccountStore) Close() error {
	return s.db.Close()
}

// schema lists the account database migrations in order.
var schema = []string{
	`CREATE TABLE accounts (
		username TEXT PRIMARY KEY,
		uuid TEXT NOT NULL,
		online INTEGER NOT NULL DEFAULT 0,
		access_token TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE login_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		connection TEXT NOT NULL DEFAULT '',
		account TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX idx_login_events_account ON login_events(account)`,
}

func (s *AccountStore) migrate() error {
	return s.db.Migrate(schema)
}

// Put inserts or replaces an account. Offline accounts get the offline UUID
// when none is given.
func (s *AccountStore) Put(a StoredAccount) error {
	if a.Username == "" {
		return fmt.Errorf("username is required")
	}
	if a.UUID == uuid.Nil {
		if a.Online {
			return fmt.Errorf("online account %s needs a UUID", a.Username)
		}
		a.UUID = auth.OfflineUUID(a.Username)
	}

	_, err := s.db.Exec(`
		INSERT INTO accounts (username, uuid, online, access_token, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			uuid = excluded.uuid,
			online = excluded.online,
			access_token = excluded.access_token,
			updated_at = excluded.updated_at
	`, a.Username, a.UUID.String(), boolToInt(a.Online), a.AccessToken, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store account %s: %w", a.Username, err)
	}

	log.Info().Str("username", a.Username).Bool("online", a.Online).Msg("account stored")
	return nil
}

// Get returns one account.
func (s *AccountStore) Get(username string) (*StoredAccount, error) {
	row := s.db.QueryRow(
		"SELECT username, uuid, online, access_token, updated_at FROM accounts WHERE username = ?",
		username)

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, username)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// List returns every account ordered by username.
func (s *AccountStore) List() ([]StoredAccount, error) {
	rows, err := s.db.Query(
		"SELECT username, uuid, online, access_token, updated_at FROM accounts ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []StoredAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// Delete removes an account.
func (s *AccountStore) Delete(username string) error {
	res, err := s.db.Exec("DELETE FROM accounts WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("failed to delete account %s: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, username)
	}
	return nil
}

// UpdateToken replaces the stored access token.
func (s *AccountStore) UpdateToken(username, token string) error {
	res, err := s.db.Exec(
		"UPDATE accounts SET access_token = ?, updated_at = ? WHERE username = ?",
		token, time.Now().Unix(), username)
	if err != nil {
		return fmt.Errorf("failed to update token for %s: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, username)
	}
	return nil
}

// Refresh is an auth.RefreshFunc backed by the store: it returns the stored
// token if something has replaced it since current was read.
func (s *AccountStore) Refresh(ctx context.Context, username, current string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a, err := s.Get(username)
	if err != nil {
		return "", err
	}
	if a.AccessToken == "" || a.AccessToken == current {
		return "", ErrTokenUnchanged
	}
	return a.AccessToken, nil
}

// Account loads a stored account as an auth.Account whose refresh re-reads
// the store.
func (s *AccountStore) Account(username string) (auth.Account, error) {
	a, err := s.Get(username)
	if err != nil {
		return nil, err
	}
	if !a.Online {
		return auth.NewOfflineAccount(a.Username), nil
	}
	return auth.NewTokenAccount(a.Username, a.UUID, a.AccessToken, s.Refresh), nil
}

// RecordEvent stores the bridge events that make up the login history. It
// is an events.HandlerFunc.
func (s *AccountStore) RecordEvent(ctx context.Context, e events.Event) error {
	var ev LoginEvent
	switch p := e.Payload.(type) {
	case events.JoinResultPayload:
		ev = LoginEvent{
			Kind:       string(e.Type),
			Connection: p.Connection,
			Account:    p.Account,
			Detail:     fmt.Sprintf("tx=%d attempts=%d refreshed=%t %s", p.TransactionID, p.Attempts, p.Refreshed, p.Error),
			Success:    p.Success,
		}
	case events.SessionPayload:
		ev = LoginEvent{
			Kind:       string(e.Type),
			Connection: p.Connection,
			Account:    p.Account,
			Detail:     p.Target,
			Success:    p.Error == "",
		}
		if p.Error != "" {
			ev.Detail = p.Target + ": " + p.Error
		}
	default:
		return nil
	}

	_, err := s.db.Exec(`
		INSERT INTO login_events (kind, connection, account, detail, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.Kind, ev.Connection, ev.Account, ev.Detail, boolToInt(ev.Success), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", e.Type, err)
	}
	return nil
}

// History returns the most recent login events, newest first.
func (s *AccountStore) History(limit int) ([]LoginEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, kind, connection, account, detail, success, created_at
		FROM login_events ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LoginEvent
	for rows.Next() {
		var (
			ev      LoginEvent
			success int
			created int64
		)
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Connection, &ev.Account, &ev.Detail, &success, &created); err != nil {
			return nil, err
		}
		ev.Success = success != 0
		ev.CreatedAt = time.Unix(created, 0)
		out = append(out, ev)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*StoredAccount, error) {
	var (
		a       StoredAccount
		id      string
		online  int
		updated int64
	)
	if err := row.Scan(&a.Username, &id, &online, &a.AccessToken, &updated); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("account %s has a bad uuid %q: %w", a.Username, id, err)
	}
	a.UUID = parsed
	a.Online = online != 0
	a.UpdatedAt = time.Unix(updated, 0)
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
