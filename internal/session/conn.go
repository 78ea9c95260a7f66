package session

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/viabridge-project/viabridge/internal/address"
	"github.com/viabridge-project/viabridge/internal/auth"
	"github.com/viabridge-project/viabridge/internal/protocol"
	"github.com/viabridge-project/viabridge/internal/scheduler"
)

// ErrClosed is returned when writing to a closed connection.
var ErrClosed = errors.New("connection closed")

// Result is how a login attempt ended.
type Result struct {
	Connection    string        `json:"connection"`
	Account       string        `json:"account"`
	Target        string        `json:"target"`
	UUID          uuid.UUID     `json:"uuid"`
	Username      string        `json:"username"`
	Authenticated bool          `json:"authenticated"`
	Duration      time.Duration `json:"duration"`
	Err           error         `json:"-"`
}

// Conn is one login-phase connection to the proxy.
type Conn struct {
	id      string
	account auth.Account
	target  *address.Target
	dest    address.ServerAddress
	loop    *scheduler.Loop
	started time.Time
	logger  zerolog.Logger

	netConn net.Conn
	reader  *bufio.Reader

	// threshold is the compression threshold, -1 until the peer enables it.
	threshold atomic.Int32
	writeMu   sync.Mutex
	closed    atomic.Bool

	ignoreMu sync.Mutex
	ignored  map[uint32]struct{}

	authenticated atomic.Bool

	finishOnce sync.Once
	done       chan Result
}

func newConn(id string, account auth.Account, dest address.ServerAddress, target *address.Target, loop *scheduler.Loop, netConn net.Conn, logger zerolog.Logger) *Conn {
	c := &Conn{
		id:      id,
		account: account,
		target:  target,
		dest:    dest,
		loop:    loop,
		started: time.Now(),
		logger:  logger,
		netConn: netConn,
		reader:  bufio.NewReader(netConn),
		ignored: make(map[uint32]struct{}),
		done:    make(chan Result, 1),
	}
	c.threshold.Store(protocol.CompressionNone)
	return c
}

func (c *Conn) ID() string            { return c.id }
func (c *Conn) Account() auth.Account { return c.account }

// IgnoreQuery keeps the default auto-reply away from transactionID.
func (c *Conn) IgnoreQuery(transactionID uint32) {
	c.ignoreMu.Lock()
	c.ignored[transactionID] = struct{}{}
	c.ignoreMu.Unlock()
}

// Ignored reports whether transactionID belongs to someone else.
func (c *Conn) Ignored(transactionID uint32) bool {
	c.ignoreMu.Lock()
	defer c.ignoreMu.Unlock()
	_, ok := c.ignored[transactionID]
	return ok
}

// SendAnswer queues a custom query answer for the end of the tick.
func (c *Conn) SendAnswer(answer protocol.CustomQueryAnswer) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.loop.Send(scheduler.Outgoing{Conn: c.id, Body: protocol.BuildCustomQueryAnswer(answer)})
	return nil
}

// MarkAuthenticated records a successful oam:join.
func (c *Conn) MarkAuthenticated() {
	c.authenticated.Store(true)
}

// Authenticated reports whether an oam:join succeeded on this connection.
func (c *Conn) Authenticated() bool {
	return c.authenticated.Load()
}

// WritePacket frames and writes one packet body.
func (c *Conn) WritePacket(body []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteFrame(c.netConn, body, int(c.threshold.Load()))
}

// readPacket reads and decodes one packet. SetCompression is applied here so
// the next frame is read with the new threshold.
func (c *Conn) readPacket(parser *protocol.LoginParser) (protocol.ClientboundPacket, error) {
	body, err := protocol.ReadFrame(c.reader, int(c.threshold.Load()))
	if err != nil {
		return nil, err
	}
	pkt, err := parser.Parse(body)
	if err != nil {
		return nil, err
	}
	if sc, ok := pkt.(protocol.SetCompression); ok {
		c.threshold.Store(sc.Threshold)
		c.logger.Debug().Int32("threshold", sc.Threshold).Msg("compression enabled")
	}
	return pkt, nil
}

func (c *Conn) finish(res Result) {
	c.finishOnce.Do(func() {
		res.Connection = c.id
		res.Target = c.dest.String()
		if c.account != nil {
			res.Account = c.account.Username()
		}
		res.Authenticated = c.authenticated.Load()
		res.Duration = time.Since(c.started)
		c.done <- res
	})
}

func (c *Conn) fail(err error) {
	c.finish(Result{Err: err})
}

func (c *Conn) close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.netConn.Close(); err != nil {
		return fmt.Errorf("failed to close connection %s: %w", c.id, err)
	}
	return nil
}
