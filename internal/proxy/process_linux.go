//go:build linux

package proxy

import (
	"os/exec"
	"syscall"
)

// setPlatformProcessAttrs makes the kernel kill the proxy when this process
// dies, since the proxy has no stop API of its own.
func setPlatformProcessAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
	}
}
