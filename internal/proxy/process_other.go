//go:build !linux

package proxy

import "os/exec"

// setPlatformProcessAttrs is a no-op; elsewhere the proxy may outlive a
// crashed host process.
func setPlatformProcessAttrs(cmd *exec.Cmd) {}
