package relay

import (
	"context"
	"fmt"

	"github.com/viabridge-project/viabridge/internal/auth"
	"github.com/viabridge-project/viabridge/internal/protocol"
)

// maxJoinAttempts bounds session-server calls per request: the first join
// and one more after a refresh.
const maxJoinAttempts = 2

// runJoin performs the session join for req. A stale token is refreshed
// once and the join retried; the second result is final. A failed refresh
// yields no answer at all.
func (r *Relay) runJoin(ctx context.Context, req *JoinRequest) joinOutcome {
	var out joinOutcome
	profile := req.Account.UUID()

	join := func() error {
		token, ok := req.Account.AccessToken()
		if !ok {
			return fmt.Errorf("account %s has no access token", req.Account.Username())
		}
		out.attempts++
		return r.joiner.Join(ctx, token, profile, req.ServerHash)
	}

	err := join()
	for err != nil && auth.NeedsRefresh(err) && out.attempts < maxJoinAttempts {
		r.logger.Debug().
			Err(err).
			Str("account", req.Account.Username()).
			Msg("session rejected token, refreshing")

		out.refreshed = true
		if rerr := req.Account.Refresh(ctx); rerr != nil {
			out.err = fmt.Errorf("refresh after %s: %w", auth.ErrorKindOf(err), rerr)
			return out
		}
		err = join()
	}

	answer := protocol.JoinAnswer(req.TransactionID, err == nil)
	out.answer = &answer
	out.err = err
	return out
}
