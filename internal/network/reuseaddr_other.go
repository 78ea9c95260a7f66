//go:build !linux && !windows

// Package network holds socket helpers shared by the bridge's listeners.
package network

import "net"

// ReuseAddrListenConfig returns a plain ListenConfig on platforms without a
// dedicated implementation.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
