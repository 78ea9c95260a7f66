//go:build windows

package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig sets SO_REUSEADDR before binding, so the status API
// can rebind a port still in TIME_WAIT after a restart.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
}
