// Package session opens login-phase connections through the local proxy.
// It rewrites the target, sends the handshake and login start, and lets the
// tick loop's systems answer what the proxy asks until the login finishes.
// It does not go past the login phase.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/viabridge-project/viabridge/internal/address"
	"github.com/viabridge-project/viabridge/internal/auth"
	"github.com/viabridge-project/viabridge/internal/events"
	"github.com/viabridge-project/viabridge/internal/protocol"
	"github.com/viabridge-project/viabridge/internal/relay"
	"github.com/viabridge-project/viabridge/internal/scheduler"
)

// Request describes one login attempt.
type Request struct {
	Account auth.Account
	Target  address.ServerAddress
	// Bind is the proxy's local listen address.
	Bind    netip.AddrPort
	Version string
}

// Info is a live connection as shown by the status API.
type Info struct {
	Connection    string    `json:"connection"`
	Account       string    `json:"account"`
	Target        string    `json:"target"`
	Dialed        string    `json:"dialed"`
	Authenticated bool      `json:"authenticated"`
	Started       time.Time `json:"started"`
	RelayState    string    `json:"relay_state"`
}

// Manager owns the live login connections and the systems that drive them.
type Manager struct {
	relay       *relay.Relay
	loop        *scheduler.Loop
	eventBus    *events.Bus
	dialTimeout time.Duration
	logger      zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewManager creates a manager and a tick loop that dispatches its
// packets. The relay system runs before the default auto-reply so ignored
// transactions are marked before the auto-reply looks at them.
func NewManager(r *relay.Relay, eventBus *events.Bus, tickInterval, dialTimeout time.Duration) *Manager {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	m := &Manager{
		relay:       r,
		eventBus:    eventBus,
		dialTimeout: dialTimeout,
		logger:      log.With().Str("component", "session").Logger(),
		conns:       make(map[string]*Conn),
	}
	m.loop = scheduler.NewLoop(tickInterval, m.dispatch)
	m.loop.AddSystem("openauthmod_relay", m.relaySystem)
	m.loop.AddSystem("login_auto_reply", m.autoReplySystem)
	return m
}

// Loop returns the tick loop. The caller runs it.
func (m *Manager) Loop() *scheduler.Loop {
	return m.loop
}

// Login connects through the proxy and blocks until the login phase ends,
// the peer disconnects, or ctx is cancelled.
func (m *Manager) Login(ctx context.Context, req Request) (*Result, error) {
	if req.Account == nil {
		return nil, fmt.Errorf("login requires an account")
	}

	target := address.NewTarget(req.Target, netip.AddrPort{})
	if err := address.Rewrite(target, req.Bind, req.Version); err != nil {
		return nil, fmt.Errorf("failed to rewrite target %s: %w", req.Target, err)
	}

	dialer := net.Dialer{Timeout: m.dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", target.Resolved().String())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy at %s: %w", target.Resolved(), err)
	}

	id := uuid.NewString()
	logger := m.logger.With().
		Str("connection", id).
		Str("account", req.Account.Username()).
		Str("target", req.Target.String()).
		Logger()
	conn := newConn(id, req.Account, req.Target, target, m.loop, netConn, logger)

	m.mu.Lock()
	m.conns[id] = conn
	m.mu.Unlock()
	defer m.remove(ctx, conn)

	addr := target.Address()
	if err := conn.WritePacket(protocol.BuildHandshake(protocol.ProtocolVersion, addr.Host, addr.Port, protocol.NextStateLogin)); err != nil {
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}
	if err := conn.WritePacket(protocol.BuildLoginHello(req.Account.Username(), req.Account.UUID())); err != nil {
		return nil, fmt.Errorf("failed to send login start: %w", err)
	}
	logger.Info().Str("proxy", target.Resolved().String()).Msg("login started")

	go m.readLoop(conn)

	select {
	case res := <-conn.done:
		if res.Err != nil {
			logger.Warn().Err(res.Err).Msg("login failed")
			return &res, res.Err
		}
		logger.Info().
			Str("username", res.Username).
			Bool("authenticated", res.Authenticated).
			Dur("duration", res.Duration).
			Msg("login finished")
		m.eventBus.Emit(ctx, events.Event{
			Type:   events.EventSessionLoggedIn,
			Source: "session",
			Payload: events.SessionPayload{
				Connection: res.Connection,
				Account:    res.Account,
				Target:     res.Target,
			},
		})
		return &res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop pushes every login packet into the tick loop until the login
// phase ends or the connection drops.
func (m *Manager) readLoop(conn *Conn) {
	parser := protocol.NewLoginParser()
	for {
		pkt, err := conn.readPacket(parser)
		if err != nil {
			if !conn.closed.Load() {
				conn.fail(fmt.Errorf("connection lost during login: %w", err))
			}
			return
		}

		switch pkt.(type) {
		case protocol.SetCompression:
			continue
		case protocol.LoginFinished, protocol.Disconnect:
			m.loop.Push(scheduler.Received{Conn: conn.id, Packet: pkt})
			return
		}
		m.loop.Push(scheduler.Received{Conn: conn.id, Packet: pkt})
	}
}

func (m *Manager) relaySystem(ctx context.Context, tick *scheduler.Tick) {
	for _, r := range tick.Received {
		q, ok := r.Packet.(protocol.CustomQuery)
		if !ok {
			continue
		}
		conn, ok := m.get(r.Conn)
		if !ok {
			continue
		}
		m.relay.HandleQuery(ctx, conn, q)
	}
	m.relay.PollTasks(ctx, m.lookup)
}

func (m *Manager) autoReplySystem(ctx context.Context, tick *scheduler.Tick) {
	for _, r := range tick.Received {
		conn, ok := m.get(r.Conn)
		if !ok {
			continue
		}

		switch p := r.Packet.(type) {
		case protocol.CustomQuery:
			if conn.Ignored(p.TransactionID) {
				continue
			}
			conn.logger.Debug().
				Uint32("transaction_id", p.TransactionID).
				Str("identifier", p.Identifier).
				Msg("answering custom query as not understood")
			tick.Send(conn.id, protocol.BuildCustomQueryAnswer(protocol.CustomQueryAnswer{TransactionID: p.TransactionID}))
		case protocol.CookieRequest:
			tick.Send(conn.id, protocol.BuildCookieResponse(p.Key))
		case protocol.EncryptionRequest:
			// OpenAuthMod mode never encrypts; a server that asks is not
			// behind the proxy's auth bridge.
			conn.fail(errors.New("server requested encryption; direct online-mode login is not supported"))
		case protocol.Disconnect:
			conn.fail(fmt.Errorf("disconnected during login: %s", p.Reason))
		case protocol.LoginFinished:
			tick.Send(conn.id, protocol.BuildLoginAcknowledged())
			finished := p
			tick.Defer(func() {
				conn.finish(Result{UUID: finished.UUID, Username: finished.Username})
			})
		case protocol.Unknown:
			conn.logger.Debug().Int32("packet_id", p.ID).Msg("ignoring unknown login packet")
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, out scheduler.Outgoing) error {
	conn, ok := m.get(out.Conn)
	if !ok {
		return fmt.Errorf("connection %s is gone", out.Conn)
	}
	return conn.WritePacket(out.Body)
}

func (m *Manager) get(id string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	return c, ok
}

func (m *Manager) lookup(id string) (relay.Conn, bool) {
	c, ok := m.get(id)
	if !ok {
		return nil, false
	}
	return c, true
}

func (m *Manager) remove(ctx context.Context, conn *Conn) {
	m.mu.Lock()
	delete(m.conns, conn.id)
	m.mu.Unlock()

	if err := conn.close(); err != nil {
		conn.logger.Debug().Err(err).Msg("close failed")
	}
	m.relay.Forget(conn.id)

	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventSessionClosed,
		Source: "session",
		Payload: events.SessionPayload{
			Connection: conn.id,
			Account:    conn.account.Username(),
			Target:     conn.dest.String(),
		},
	})
}

// Connections lists the live connections, oldest first.
func (m *Manager) Connections() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, Info{
			Connection:    c.id,
			Account:       c.account.Username(),
			Target:        c.dest.String(),
			Dialed:        c.target.Resolved().String(),
			Authenticated: c.Authenticated(),
			Started:       c.started,
			RelayState:    m.relay.State(c.id).String(),
		})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}
