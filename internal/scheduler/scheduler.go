// Package scheduler runs registered systems once per tick on a single
// goroutine. Systems read the packets that arrived since the previous tick
// and queue packets to send; queued packets are dispatched after the last
// system has run.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/viabridge-project/viabridge/internal/protocol"
)

// DefaultInterval is one game tick.
const DefaultInterval = 50 * time.Millisecond

// Received is a clientbound packet read from a connection.
type Received struct {
	Conn   string
	Packet protocol.ClientboundPacket
}

// Outgoing is an encoded serverbound packet body for a connection.
type Outgoing struct {
	Conn string
	Body []byte
}

// Dispatcher delivers outgoing packets at the end of a tick.
type Dispatcher func(ctx context.Context, out Outgoing) error

// SystemFunc is run once per tick.
type SystemFunc func(ctx context.Context, tick *Tick)

// Tick is what a system sees during one tick.
type Tick struct {
	Seq      uint64
	Received []Received

	loop     *Loop
	deferred []func()
}

// Send queues a packet for dispatch at the end of this tick.
func (t *Tick) Send(conn string, body []byte) {
	t.loop.Send(Outgoing{Conn: conn, Body: body})
}

// Defer runs fn after this tick's packets have been dispatched.
func (t *Tick) Defer(fn func()) {
	t.deferred = append(t.deferred, fn)
}

type system struct {
	name string
	run  SystemFunc
}

// Stats summarises loop activity.
type Stats struct {
	Ticks        uint64        `json:"ticks"`
	Received     uint64        `json:"received"`
	Sent         uint64        `json:"sent"`
	SendErrors   uint64        `json:"send_errors"`
	LastDuration time.Duration `json:"last_duration"`
	Systems      []string      `json:"systems"`
}

// Loop owns the inbound and outbound queues and the ordered system list.
type Loop struct {
	interval time.Duration
	dispatch Dispatcher
	logger   zerolog.Logger

	mu       sync.Mutex
	systems  []system
	inbound  []Received
	outbound []Outgoing
	stats    Stats
}

// NewLoop creates a loop ticking every interval.
func NewLoop(interval time.Duration, dispatch Dispatcher) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		interval: interval,
		dispatch: dispatch,
		logger:   log.With().Str("component", "scheduler").Logger(),
	}
}

// AddSystem appends a system. Systems run in the order they were added.
func (l *Loop) AddSystem(name string, fn SystemFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.systems = append(l.systems, system{name: name, run: fn})
}

// Push queues a received packet for the next tick. Safe from any goroutine.
func (l *Loop) Push(r Received) {
	l.mu.Lock()
	l.inbound = append(l.inbound, r)
	l.mu.Unlock()
}

// Send queues an outgoing packet for dispatch at the end of the current (or
// next) tick. Safe from any goroutine.
func (l *Loop) Send(o Outgoing) {
	l.mu.Lock()
	l.outbound = append(l.outbound, o)
	l.mu.Unlock()
}

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Debug().Dur("interval", l.interval).Msg("tick loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug().Msg("tick loop stopped")
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs every system once and then dispatches queued packets.
func (l *Loop) Tick(ctx context.Context) {
	start := time.Now()

	l.mu.Lock()
	l.stats.Ticks++
	tick := &Tick{Seq: l.stats.Ticks, Received: l.inbound, loop: l}
	l.inbound = nil
	l.stats.Received += uint64(len(tick.Received))
	systems := append([]system(nil), l.systems...)
	l.mu.Unlock()

	for _, s := range systems {
		l.runSystem(ctx, s, tick)
	}

	l.mu.Lock()
	outbound := l.outbound
	l.outbound = nil
	l.mu.Unlock()

	var sent, failed uint64
	for _, o := range outbound {
		if l.dispatch == nil {
			continue
		}
		if err := l.dispatch(ctx, o); err != nil {
			failed++
			l.logger.Warn().Err(err).Str("connection", o.Conn).Msg("failed to dispatch packet")
			continue
		}
		sent++
	}

	for _, fn := range tick.deferred {
		fn()
	}

	l.mu.Lock()
	l.stats.Sent += sent
	l.stats.SendErrors += failed
	l.stats.LastDuration = time.Since(start)
	l.mu.Unlock()
}

func (l *Loop) runSystem(ctx context.Context, s system, tick *Tick) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().
				Str("system", s.name).
				Uint64("tick", tick.Seq).
				Str("panic", fmt.Sprint(r)).
				Msg("system panicked")
		}
	}()
	s.run(ctx, tick)
}

// Stats returns a snapshot of loop counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stats
	for _, s := range l.systems {
		st.Systems = append(st.Systems, s.name)
	}
	return st
}
