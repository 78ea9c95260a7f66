package proxy

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/viabridge-project/viabridge/internal/events"
)

// proxyProcess wraps the ViaProxy child process.
type proxyProcess struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	proc   *process.Process
	pid    int
	logger zerolog.Logger

	running   bool
	startedAt time.Time
	exitCode  int
	exitErr   error
	exited    chan struct{}

	executable string
	args       []string
	workDir    string
}

func newProxyProcess(executable string, args []string, workDir string, logger zerolog.Logger) *proxyProcess {
	return &proxyProcess{
		executable: executable,
		args:       args,
		workDir:    workDir,
		logger:     logger,
		exitCode:   -1,
		exited:     make(chan struct{}),
	}
}

// start spawns the process with both output streams piped and returns
// them. The child is not tied to ctx; it lives as long as this process.
func (p *proxyProcess) start() (stdout, stderr io.ReadCloser, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil, nil, fmt.Errorf("proxy already running (pid: %d)", p.pid)
	}

	p.cmd = exec.Command(p.executable, p.args...)
	p.cmd.Dir = p.workDir
	setPlatformProcessAttrs(p.cmd)

	stdout, err = p.cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to pipe stdout: %w", err)
	}
	stderr, err = p.cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to pipe stderr: %w", err)
	}

	p.logger.Info().
		Str("executable", p.executable).
		Strs("args", p.args).
		Str("workdir", p.workDir).
		Msg("starting proxy process")

	if err := p.cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start proxy: %w", err)
	}

	p.pid = p.cmd.Process.Pid
	p.running = true
	p.startedAt = time.Now()

	if proc, err := process.NewProcess(int32(p.pid)); err == nil {
		p.proc = proc
	}

	p.logger.Info().Int("pid", p.pid).Msg("proxy process started")
	return stdout, stderr, nil
}

// monitor waits for the process to exit. It must only be called once the
// output streams have been drained, since Wait closes the pipes.
func (p *proxyProcess) monitor(ctx context.Context, eventBus *events.Bus) {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.running = false
	p.exitErr = err
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	pid, exitCode := p.pid, p.exitCode
	p.mu.Unlock()
	close(p.exited)

	p.logger.Warn().
		Int("pid", pid).
		Int("exit_code", exitCode).
		Msg("proxy process exited")

	eventBus.Emit(ctx, events.Event{
		Type:    events.EventProxyExited,
		Source:  "proxy",
		Payload: events.ProxyExitedPayload{PID: pid, ExitCode: exitCode},
	})
}

func (p *proxyProcess) kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	p.logger.Warn().Int("pid", p.pid).Msg("killing proxy process")
	return p.cmd.Process.Kill()
}

// ProcessStats is a point-in-time view of the proxy process.
type ProcessStats struct {
	PID        int           `json:"pid"`
	Running    bool          `json:"running"`
	StartedAt  time.Time     `json:"started_at"`
	Uptime     time.Duration `json:"uptime"`
	ExitCode   int           `json:"exit_code"`
	CPUPercent float64       `json:"cpu_percent"`
	MemoryMB   float64       `json:"memory_mb"`
	Threads    int32         `json:"threads"`
}

func (p *proxyProcess) stats() ProcessStats {
	p.mu.Lock()
	st := ProcessStats{
		PID:       p.pid,
		Running:   p.running,
		StartedAt: p.startedAt,
		ExitCode:  p.exitCode,
	}
	proc := p.proc
	p.mu.Unlock()

	if !st.Running || proc == nil {
		return st
	}
	st.Uptime = time.Since(st.StartedAt)

	if cpu, err := proc.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		st.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	if n, err := proc.NumThreads(); err == nil {
		st.Threads = n
	}
	return st
}
