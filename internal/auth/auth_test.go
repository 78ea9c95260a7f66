package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestOfflineUUID(t *testing.T) {
	id := OfflineUUID("Notch")
	require.Equal(t, uuid.Version(3), id.Version())
	require.Equal(t, uuid.RFC4122, id.Variant())
	require.Equal(t, id, OfflineUUID("Notch"))
	require.NotEqual(t, id, OfflineUUID("notch"))
}

func TestOfflineAccount(t *testing.T) {
	a := NewOfflineAccount("bot")
	require.False(t, a.IsOnline())
	_, ok := a.AccessToken()
	require.False(t, ok)
	require.ErrorIs(t, a.Refresh(context.Background()), ErrNoRefresh)
}

func TestTokenAccountRefresh(t *testing.T) {
	calls := 0
	a := NewTokenAccount("bot", uuid.New(), "old", func(ctx context.Context, name, current string) (string, error) {
		calls++
		require.Equal(t, "bot", name)
		require.Equal(t, "old", current)
		return "new", nil
	})

	require.NoError(t, a.Refresh(context.Background()))
	token, ok := a.AccessToken()
	require.True(t, ok)
	require.Equal(t, "new", token)
	require.Equal(t, 1, calls)
}

func TestTokenAccountRefreshFailureKeepsToken(t *testing.T) {
	a := NewTokenAccount("bot", uuid.New(), "old", func(context.Context, string, string) (string, error) {
		return "", errors.New("refresh token revoked")
	})
	require.Error(t, a.Refresh(context.Background()))

	token, _ := a.AccessToken()
	require.Equal(t, "old", token)

	require.ErrorIs(t, NewTokenAccount("bot", uuid.New(), "t", nil).Refresh(context.Background()), ErrNoRefresh)
}

func TestSessionJoinSuccess(t *testing.T) {
	profile := uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/session/minecraft/join", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "token", body["accessToken"])
		require.Equal(t, "069a79f444e94726a5befca90e38aaf5", body["selectedProfile"])
		require.Equal(t, "abc123", body["serverId"])

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewSessionClient(srv.URL, time.Second)
	require.NoError(t, c.Join(context.Background(), "token", profile, "abc123"))
}

func TestSessionJoinErrorKinds(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   ErrorKind
	}{
		{http.StatusForbidden, `{"error":"InvalidCredentialsException","errorMessage":"Invalid token"}`, KindInvalidSession},
		{http.StatusForbidden, `{"error":"ForbiddenOperationException"}`, KindForbiddenOperation},
		{http.StatusForbidden, `{"error":"InsufficientPrivilegesException"}`, KindMultiplayerDisabled},
		{http.StatusForbidden, `{"error":"UserBannedException"}`, KindBanned},
		{http.StatusForbidden, `{"error":"AuthenticationUnavailableException"}`, KindAuthServerDown},
		{http.StatusForbidden, `{"error":"SomethingNew"}`, KindUnexpected},
		{http.StatusTooManyRequests, ``, KindRateLimited},
		{http.StatusInternalServerError, `oops`, KindUnexpected},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))

		err := NewSessionClient(srv.URL, time.Second).Join(context.Background(), "t", uuid.New(), "h")
		srv.Close()

		require.Error(t, err)
		var se *SessionError
		require.True(t, errors.As(err, &se))
		require.Equal(t, tc.kind, se.Kind, "status %d body %s", tc.status, tc.body)
		require.Equal(t, tc.status, se.Status)
	}
}

func TestNeedsRefresh(t *testing.T) {
	require.True(t, NeedsRefresh(&SessionError{Kind: KindInvalidSession}))
	require.True(t, NeedsRefresh(&SessionError{Kind: KindForbiddenOperation}))
	require.False(t, NeedsRefresh(&SessionError{Kind: KindBanned}))
	require.False(t, NeedsRefresh(errors.New("boom")))
}
