// Package relay answers the proxy's OpenAuthMod oam:join login query on
// behalf of each connection. Joins run on their own goroutines; the tick
// loop collects finished ones with PollTasks and sends the answers.
package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/viabridge-project/viabridge/internal/auth"
	"github.com/viabridge-project/viabridge/internal/events"
	"github.com/viabridge-project/viabridge/internal/protocol"
)

// State is where a connection is in the oam:join exchange.
type State int

const (
	StateIdle State = iota
	StateAwaitingQuery
	StateJoinPending
	StateAnswered
)

func (s State) String() string {
	switch s {
	case StateAwaitingQuery:
		return "awaiting_query"
	case StateJoinPending:
		return "join_pending"
	case StateAnswered:
		return "answered"
	default:
		return "idle"
	}
}

// Conn is the part of a login connection the relay drives.
type Conn interface {
	ID() string
	Account() auth.Account
	// IgnoreQuery stops the default auto-reply from answering transactionID.
	IgnoreQuery(transactionID uint32)
	SendAnswer(answer protocol.CustomQueryAnswer) error
	// MarkAuthenticated lets the rest of the login continue.
	MarkAuthenticated()
}

// ConnLookup finds a live connection by ID.
type ConnLookup func(id string) (Conn, bool)

// JoinRequest is one in-flight oam:join.
type JoinRequest struct {
	ServerHash    string
	Account       auth.Account
	TransactionID uint32
	Started       time.Time

	done chan joinOutcome
}

type joinOutcome struct {
	// answer is nil when the task gave up without an answer.
	answer    *protocol.CustomQueryAnswer
	attempts  int
	refreshed bool
	err       error
}

type connState struct {
	state         State
	pending       *JoinRequest
	lastTx        uint32
	authenticated bool
}

// ConnStatus is a read-only view of one tracked connection.
type ConnStatus struct {
	Connection    string `json:"connection"`
	State         string `json:"state"`
	TransactionID uint32 `json:"transaction_id"`
	Pending       bool   `json:"pending"`
	Authenticated bool   `json:"authenticated"`
}

// Relay tracks at most one pending join per connection.
type Relay struct {
	joiner   auth.SessionJoiner
	eventBus *events.Bus
	logger   zerolog.Logger

	mu    sync.Mutex
	conns map[string]*connState
}

// New creates a relay that joins through joiner.
func New(joiner auth.SessionJoiner, eventBus *events.Bus) *Relay {
	return &Relay{
		joiner:   joiner,
		eventBus: eventBus,
		logger:   log.With().Str("component", "relay").Logger(),
		conns:    make(map[string]*connState),
	}
}

// HandleQuery inspects one custom query received on conn. It returns true
// when the relay took ownership of the transaction; any other query is left
// to the host's default handling.
func (r *Relay) HandleQuery(ctx context.Context, conn Conn, q protocol.CustomQuery) bool {
	logger := r.logger.With().
		Str("connection", conn.ID()).
		Uint32("transaction_id", q.TransactionID).
		Logger()

	r.mu.Lock()
	st := r.stateLocked(conn.ID())
	if st.state == StateIdle {
		st.state = StateAwaitingQuery
	}
	r.mu.Unlock()

	switch q.Identifier {
	case protocol.ChannelJoin:
	case protocol.ChannelSignNonce, protocol.ChannelData:
		logger.Debug().Str("identifier", q.Identifier).Msg("ignoring openauthmod query")
		return false
	default:
		return false
	}

	// From here on the relay is the only producer of an answer for this
	// transaction, including when it decides to send none.
	conn.IgnoreQuery(q.TransactionID)

	serverHash, err := protocol.DecodeString(q.Data)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read server hash from oam:join")
		return true
	}

	account := conn.Account()
	accountName := ""
	if account != nil {
		accountName = account.Username()
	}

	r.mu.Lock()
	busy := st.pending != nil
	r.mu.Unlock()

	if busy {
		logger.Warn().Msg("oam:join while a join is already pending, answering failure")
		r.answerNow(ctx, conn, q.TransactionID, accountName, "join already pending")
		return true
	}

	if account == nil {
		logger.Error().Msg("oam:join on a connection without an account")
		r.answerNow(ctx, conn, q.TransactionID, accountName, "no account")
		return true
	}
	if _, ok := account.AccessToken(); !ok {
		logger.Error().Str("account", accountName).Msg("server is online-mode but the account is offline-mode")
		r.answerNow(ctx, conn, q.TransactionID, accountName, "offline account")
		return true
	}

	req := &JoinRequest{
		ServerHash:    serverHash,
		Account:       account,
		TransactionID: q.TransactionID,
		Started:       time.Now(),
		done:          make(chan joinOutcome, 1),
	}

	r.mu.Lock()
	st.pending = req
	st.lastTx = q.TransactionID
	st.state = StateJoinPending
	r.mu.Unlock()

	logger.Debug().Str("account", accountName).Str("server_hash", serverHash).Msg("starting session join")
	r.eventBus.Emit(ctx, events.Event{
		Type:   events.EventJoinRequested,
		Source: "relay",
		Payload: events.JoinResultPayload{
			Connection:    conn.ID(),
			Account:       accountName,
			TransactionID: q.TransactionID,
		},
	})

	// The task outlives the connection if it has to; its result is dropped
	// when the connection is gone by the time it is polled.
	taskCtx := context.WithoutCancel(ctx)
	go func() {
		req.done <- r.runJoin(taskCtx, req)
	}()
	return true
}

// answerNow sends a failure answer without a join and returns the connection
// to AwaitingQuery.
func (r *Relay) answerNow(ctx context.Context, conn Conn, tx uint32, account, reason string) {
	err := conn.SendAnswer(protocol.JoinAnswer(tx, false))
	if err != nil {
		r.logger.Error().Err(err).Str("connection", conn.ID()).Msg("failed to send oam:join answer")
	}

	r.mu.Lock()
	// A refusal next to an in-flight join leaves the snapshot on that join.
	if st, ok := r.conns[conn.ID()]; ok && st.pending == nil {
		st.lastTx = tx
		st.state = StateAwaitingQuery
	}
	r.mu.Unlock()

	r.eventBus.Emit(ctx, events.Event{
		Type:   events.EventJoinResult,
		Source: "relay",
		Payload: events.JoinResultPayload{
			Connection:    conn.ID(),
			Account:       account,
			TransactionID: tx,
			Answered:      err == nil,
			Error:         reason,
		},
	})
}

type completed struct {
	id  string
	req *JoinRequest
	out joinOutcome
}

// PollTasks collects finished joins without blocking and sends their
// answers. It returns how many tasks finished.
func (r *Relay) PollTasks(ctx context.Context, lookup ConnLookup) int {
	var done []completed

	r.mu.Lock()
	for id, st := range r.conns {
		if st.pending == nil {
			continue
		}
		select {
		case out := <-st.pending.done:
			done = append(done, completed{id: id, req: st.pending, out: out})
			st.pending = nil
		default:
		}
	}
	r.mu.Unlock()

	// Answers go out in connection order.
	sort.Slice(done, func(i, j int) bool { return done[i].id < done[j].id })

	for _, c := range done {
		r.finish(ctx, lookup, c)
	}
	return len(done)
}

func (r *Relay) finish(ctx context.Context, lookup ConnLookup, c completed) {
	logger := r.logger.With().
		Str("connection", c.id).
		Uint32("transaction_id", c.req.TransactionID).
		Int("attempts", c.out.attempts).
		Logger()

	payload := events.JoinResultPayload{
		Connection:    c.id,
		Account:       c.req.Account.Username(),
		TransactionID: c.req.TransactionID,
		Attempts:      c.out.attempts,
		Refreshed:     c.out.refreshed,
	}
	if c.out.err != nil {
		payload.Error = c.out.err.Error()
	}
	defer func() {
		r.eventBus.Emit(ctx, events.Event{Type: events.EventJoinResult, Source: "relay", Payload: payload})
	}()

	conn, ok := lookup(c.id)
	if !ok {
		logger.Debug().Msg("connection gone, discarding join result")
		r.Forget(c.id)
		return
	}

	if c.out.answer == nil {
		logger.Error().Err(c.out.err).Msg("join task produced no answer")
		r.setState(c.id, StateAwaitingQuery, false)
		return
	}

	if c.out.err != nil {
		logger.Error().Err(c.out.err).Msg("session server error")
	}

	if err := conn.SendAnswer(*c.out.answer); err != nil {
		logger.Error().Err(err).Msg("failed to send oam:join answer")
		r.setState(c.id, StateAwaitingQuery, false)
		return
	}
	payload.Answered = true

	success := c.out.answer.Data[0] == protocol.AnswerSuccess
	payload.Success = success
	if success {
		conn.MarkAuthenticated()
	}
	r.setState(c.id, StateAnswered, success)

	logger.Info().
		Bool("success", success).
		Dur("elapsed", time.Since(c.req.Started)).
		Msg("answered oam:join")
}

// Forget drops all state for a closed connection. A running join task is
// left alone; its result is discarded if it is still pending here.
func (r *Relay) Forget(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// State returns the relay state of a connection.
func (r *Relay) State(id string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.conns[id]; ok {
		return st.state
	}
	return StateIdle
}

// Pending returns the number of in-flight joins.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.conns {
		if st.pending != nil {
			n++
		}
	}
	return n
}

// Snapshot lists every tracked connection, sorted by ID.
func (r *Relay) Snapshot() []ConnStatus {
	r.mu.Lock()
	out := make([]ConnStatus, 0, len(r.conns))
	for id, st := range r.conns {
		out = append(out, ConnStatus{
			Connection:    id,
			State:         st.state.String(),
			TransactionID: st.lastTx,
			Pending:       st.pending != nil,
			Authenticated: st.authenticated,
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Connection < out[j].Connection })
	return out
}

func (r *Relay) stateLocked(id string) *connState {
	st, ok := r.conns[id]
	if !ok {
		st = &connState{}
		r.conns[id] = st
	}
	return st
}

func (r *Relay) setState(id string, s State, authenticated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.conns[id]; ok {
		st.state = s
		if authenticated {
			st.authenticated = true
		}
	}
}
