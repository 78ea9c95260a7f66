// Package address points a connection target at the local proxy while
// carrying the real destination inside the handshake host field.
//
// Encoded host layout:
//
//	<host>\x07<host>:<port>\x07<version>[\x00<suffix>]
//
// The proxy resolves the real server from the second field and picks the
// protocol from the third. <suffix> is whatever followed the first \x07 in
// the original host.
package address

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
)

const (
	fieldSep  = "\x07"
	suffixSep = "\x00"
)

// ErrAlreadyRewritten is returned by Rewrite on a target that was already
// pointed at the proxy.
var ErrAlreadyRewritten = errors.New("target address already rewritten")

// ServerAddress is a host and port as the user typed them.
type ServerAddress struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

func (a ServerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// ParseServerAddress parses "host[:port]"; the port defaults to 25565.
func ParseServerAddress(s string) (ServerAddress, error) {
	if s == "" {
		return ServerAddress{}, fmt.Errorf("empty server address")
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port.
		return ServerAddress{Host: strings.Trim(s, "[]"), Port: 25565}, nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return ServerAddress{}, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return ServerAddress{Host: host, Port: uint16(port)}, nil
}

// Target is the address record a connection dials. Rewrite mutates it once.
type Target struct {
	mu        sync.RWMutex
	address   ServerAddress
	resolved  netip.AddrPort
	rewritten bool
}

// NewTarget creates a target. resolved may be the zero AddrPort when the
// host has not been resolved yet.
func NewTarget(addr ServerAddress, resolved netip.AddrPort) *Target {
	return &Target{address: addr, resolved: resolved}
}

// Address returns the host field and port sent in the handshake.
func (t *Target) Address() ServerAddress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.address
}

// Resolved returns the socket address the transport dials.
func (t *Target) Resolved() netip.AddrPort {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resolved
}

// Rewritten reports whether Rewrite has run.
func (t *Target) Rewritten() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rewritten
}

// Rewrite replaces the target's host with the encoded host and its resolved
// socket with bind. It must run before the handshake is sent and succeeds
// only once per target.
func Rewrite(t *Target, bind netip.AddrPort, version string) error {
	if !bind.IsValid() {
		return fmt.Errorf("invalid proxy bind address %v", bind)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rewritten {
		return ErrAlreadyRewritten
	}

	orig := t.address
	t.address = ServerAddress{
		Host: EncodeHost(orig.Host, orig.Port, version),
		Port: orig.Port,
	}
	t.resolved = bind
	t.rewritten = true
	return nil
}

// EncodeHost builds the encoded host field for host:port at version. If
// host already carries \x07-delimited data, that data is kept after a NUL.
func EncodeHost(host string, port uint16, version string) string {
	realHost, suffix, hasSuffix := strings.Cut(host, fieldSep)

	var b strings.Builder
	b.WriteString(realHost)
	b.WriteString(fieldSep)
	b.WriteString(ServerAddress{Host: realHost, Port: port}.String())
	b.WriteString(fieldSep)
	b.WriteString(version)
	if hasSuffix {
		b.WriteString(suffixSep)
		b.WriteString(suffix)
	}
	return b.String()
}

// Decoded is an encoded host taken apart.
type Decoded struct {
	Placeholder string
	Target      ServerAddress
	Version     string
	Suffix      string
	HasSuffix   bool
}

// DecodeHost splits an encoded host field.
func DecodeHost(encoded string) (Decoded, error) {
	body, suffix, hasSuffix := strings.Cut(encoded, suffixSep)

	fields := strings.Split(body, fieldSep)
	if len(fields) != 3 {
		return Decoded{}, fmt.Errorf("encoded host has %d fields, want 3", len(fields))
	}

	target, err := ParseServerAddress(fields[1])
	if err != nil {
		return Decoded{}, fmt.Errorf("invalid target in encoded host: %w", err)
	}

	return Decoded{
		Placeholder: fields[0],
		Target:      target,
		Version:     fields[2],
		Suffix:      suffix,
		HasSuffix:   hasSuffix,
	}, nil
}
