package proxy

import (
	"fmt"
	"net"
	"net/netip"
)

// FreeAddr binds an ephemeral loopback port and releases it at once. Another
// process can take the port before ViaProxy binds it; nothing here prevents
// that.
func FreeAddr() (netip.AddrPort, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("no free local port: %w", err)
	}
	addr := ln.Addr().(*net.TCPAddr).AddrPort()
	if err := ln.Close(); err != nil {
		return netip.AddrPort{}, fmt.Errorf("failed to release probe listener: %w", err)
	}
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()), nil
}
