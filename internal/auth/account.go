// Package auth holds the account capability the relay authenticates with and
// the session-server client that performs the join.
package auth

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrNoRefresh is returned by Refresh on accounts that have nothing to
// refresh with.
var ErrNoRefresh = errors.New("account cannot be refreshed")

// Account is what the relay needs from a player account.
type Account interface {
	Username() string
	UUID() uuid.UUID
	IsOnline() bool
	// AccessToken returns a copy of the current credential. ok is false for
	// accounts without one.
	AccessToken() (token string, ok bool)
	// Refresh replaces the current credential.
	Refresh(ctx context.Context) error
}

// OfflineUUID derives the UUID a vanilla server assigns to an offline player:
// an MD5 name-based (version 3) UUID of "OfflinePlayer:<name>".
func OfflineUUID(username string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + username))
	sum[6] = sum[6]&0x0f | 0x30
	sum[8] = sum[8]&0x3f | 0x80
	return uuid.UUID(sum)
}

// OfflineAccount has a name and nothing else.
type OfflineAccount struct {
	name string
}

// NewOfflineAccount creates an offline account.
func NewOfflineAccount(username string) *OfflineAccount {
	return &OfflineAccount{name: username}
}

func (a *OfflineAccount) Username() string              { return a.name }
func (a *OfflineAccount) UUID() uuid.UUID               { return OfflineUUID(a.name) }
func (a *OfflineAccount) IsOnline() bool                { return false }
func (a *OfflineAccount) AccessToken() (string, bool)   { return "", false }
func (a *OfflineAccount) Refresh(context.Context) error { return ErrNoRefresh }

// RefreshFunc obtains a replacement access token for the named account.
type RefreshFunc func(ctx context.Context, username string, current string) (string, error)

// TokenAccount is an online account holding an access token.
type TokenAccount struct {
	name    string
	id      uuid.UUID
	refresh RefreshFunc

	mu    sync.Mutex
	token string
}

// NewTokenAccount creates an online account. refresh may be nil, in which
// case Refresh always fails.
func NewTokenAccount(username string, id uuid.UUID, token string, refresh RefreshFunc) *TokenAccount {
	return &TokenAccount{
		name:    username,
		id:      id,
		token:   token,
		refresh: refresh,
	}
}

func (a *TokenAccount) Username() string { return a.name }
func (a *TokenAccount) UUID() uuid.UUID  { return a.id }
func (a *TokenAccount) IsOnline() bool   { return true }

// AccessToken copies the token under the lock. An empty token counts as
// absent.
func (a *TokenAccount) AccessToken() (string, bool) {
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()
	return token, token != ""
}

// Refresh asks the refresh function for a new token and stores it. The lock
// is not held while the refresh function runs.
func (a *TokenAccount) Refresh(ctx context.Context) error {
	if a.refresh == nil {
		return ErrNoRefresh
	}

	current, _ := a.AccessToken()
	token, err := a.refresh(ctx, a.name, current)
	if err != nil {
		return fmt.Errorf("failed to refresh %s: %w", a.name, err)
	}
	if token == "" {
		return fmt.Errorf("failed to refresh %s: empty token", a.name)
	}

	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	return nil
}
