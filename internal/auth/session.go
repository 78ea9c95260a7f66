package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultSessionServer is Mojang's session server.
	DefaultSessionServer = "https://sessionserver.mojang.com"
	joinPath             = "/session/minecraft/join"
	maxErrorBody         = 64 * 1024
)

// ErrorKind classifies a session-server rejection.
type ErrorKind int

const (
	KindUnexpected ErrorKind = iota
	KindInvalidSession
	KindForbiddenOperation
	KindMultiplayerDisabled
	KindBanned
	KindAuthServerDown
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidSession:
		return "invalid_session"
	case KindForbiddenOperation:
		return "forbidden_operation"
	case KindMultiplayerDisabled:
		return "multiplayer_disabled"
	case KindBanned:
		return "banned"
	case KindAuthServerDown:
		return "auth_server_down"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unexpected"
	}
}

// SessionError is a failed join.
type SessionError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *SessionError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("session join failed (%s): %v", e.Kind, e.Err)
	case e.Message != "":
		return fmt.Sprintf("session join failed (%s, status %d): %s", e.Kind, e.Status, e.Message)
	default:
		return fmt.Sprintf("session join failed (%s, status %d)", e.Kind, e.Status)
	}
}

func (e *SessionError) Unwrap() error { return e.Err }

// ErrorKindOf returns the kind of a *SessionError anywhere in err's chain,
// or KindUnexpected.
func ErrorKindOf(err error) ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnexpected
}

// NeedsRefresh reports whether err means the access token went stale.
func NeedsRefresh(err error) bool {
	switch ErrorKindOf(err) {
	case KindInvalidSession, KindForbiddenOperation:
		return true
	default:
		return false
	}
}

// SessionJoiner performs a session-server join.
type SessionJoiner interface {
	Join(ctx context.Context, accessToken string, profile uuid.UUID, serverHash string) error
}

// SessionClient talks to a Yggdrasil-compatible session server.
type SessionClient struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewSessionClient creates a client. An empty baseURL selects Mojang's.
func NewSessionClient(baseURL string, timeout time.Duration) *SessionClient {
	if baseURL == "" {
		baseURL = DefaultSessionServer
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SessionClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  log.With().Str("component", "session_client").Logger(),
	}
}

type joinRequest struct {
	AccessToken     string `json:"accessToken"`
	SelectedProfile string `json:"selectedProfile"`
	ServerID        string `json:"serverId"`
}

type errorResponse struct {
	Error        string `json:"error"`
	ErrorMessage string `json:"errorMessage"`
	Path         string `json:"path"`
}

// Join tells the session server this profile is joining the server
// identified by serverHash. It returns nil on 204.
func (c *SessionClient) Join(ctx context.Context, accessToken string, profile uuid.UUID, serverHash string) error {
	body, err := json.Marshal(joinRequest{
		AccessToken:     accessToken,
		SelectedProfile: strings.ReplaceAll(profile.String(), "-", ""),
		ServerID:        serverHash,
	})
	if err != nil {
		return &SessionError{Kind: KindUnexpected, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+joinPath, bytes.NewReader(body))
	if err != nil {
		return &SessionError{Kind: KindUnexpected, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &SessionError{Kind: KindUnexpected, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("profile", profile.String()).
		Int("status", resp.StatusCode).
		Msg("session join response")

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var er errorResponse
	_ = json.Unmarshal(raw, &er)

	se := &SessionError{Status: resp.StatusCode, Message: er.ErrorMessage}
	switch resp.StatusCode {
	case http.StatusForbidden:
		se.Kind = kindFromError(er.Error)
	case http.StatusTooManyRequests:
		se.Kind = KindRateLimited
	case http.StatusServiceUnavailable:
		se.Kind = KindAuthServerDown
	default:
		se.Kind = KindUnexpected
		if se.Message == "" {
			se.Message = strings.TrimSpace(string(raw))
		}
	}
	return se
}

func kindFromError(name string) ErrorKind {
	switch name {
	case "InvalidCredentialsException":
		return KindInvalidSession
	case "ForbiddenOperationException":
		return KindForbiddenOperation
	case "InsufficientPrivilegesException":
		return KindMultiplayerDisabled
	case "UserBannedException":
		return KindBanned
	case "AuthenticationUnavailableException":
		return KindAuthServerDown
	default:
		return KindUnexpected
	}
}
