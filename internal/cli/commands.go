// Package cli implements the interactive console of a running bridge and the
// table renderers shared with the one-shot commands.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viabridge-project/viabridge/internal/address"
	"github.com/viabridge-project/viabridge/internal/artifact"
	"github.com/viabridge-project/viabridge/internal/db"
	"github.com/viabridge-project/viabridge/internal/events"
	"github.com/viabridge-project/viabridge/internal/proxy"
	"github.com/viabridge-project/viabridge/internal/session"
)

// Deps are what the console commands act on.
type Deps struct {
	Proxy     *proxy.Handle
	Sessions  *session.Manager
	Accounts  *db.AccountStore
	Artifacts []artifact.Record
}

// CLI provides an interactive command-line interface.
type CLI struct {
	eventBus *events.Bus
	deps     Deps
	in       io.Reader
	out      io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
func NewCLI(eventBus *events.Bus, deps Deps, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		eventBus: eventBus,
		deps:     deps,
		in:       in,
		out:      out,
	}
}

// Start reads commands until ctx is cancelled, input ends, or quit.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nviabridge console ready. Type 'help' for available commands.")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "viabridge> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			quit, err := c.Execute(ctx, line)
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}

// Execute runs one console line. quit is true when the console should stop.
func (c *CLI) Execute(ctx context.Context, line string) (quit bool, err error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		RenderStatus(c.out, c.deps.Proxy)
	case "connections", "conns":
		if c.deps.Sessions == nil {
			return false, fmt.Errorf("sessions not available")
		}
		RenderConnections(c.out, c.deps.Sessions.Connections())
	case "artifacts":
		RenderArtifacts(c.out, artifact.Status(c.deps.Artifacts))
	case "accounts":
		return false, c.cmdAccounts()
	case "history":
		return false, c.cmdHistory(args)
	case "login":
		return false, c.cmdLogin(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down viabridge...")
		c.eventBus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status                     Show the proxy process
  connections                List live login connections
  artifacts                  Show provisioned artifacts
  accounts                   List stored accounts
  history [n]                Show the last n login events
  login <account> <host:port> Log an account in through the proxy
  quit                       Shut down viabridge
  help                       Show this help message`)
}

func (c *CLI) cmdAccounts() error {
	if c.deps.Accounts == nil {
		return fmt.Errorf("account store not available")
	}
	accounts, err := c.deps.Accounts.List()
	if err != nil {
		return err
	}
	RenderAccounts(c.out, accounts)
	return nil
}

func (c *CLI) cmdHistory(args []string) error {
	if c.deps.Accounts == nil {
		return fmt.Errorf("account store not available")
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}
	history, err := c.deps.Accounts.History(limit)
	if err != nil {
		return err
	}
	RenderHistory(c.out, history)
	return nil
}

func (c *CLI) cmdLogin(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: login <account> <host:port>")
	}
	if c.deps.Proxy == nil || c.deps.Sessions == nil || c.deps.Accounts == nil {
		return fmt.Errorf("proxy is not running")
	}

	target, err := address.ParseServerAddress(args[1])
	if err != nil {
		return err
	}
	account, err := c.deps.Accounts.Account(args[0])
	if err != nil {
		return err
	}

	res, err := c.deps.Sessions.Login(ctx, session.Request{
		Account: account,
		Target:  target,
		Bind:    c.deps.Proxy.BindAddress(),
		Version: c.deps.Proxy.Version(),
	})
	if err != nil {
		return err
	}
	log.Debug().Str("connection", res.Connection).Msg("console login finished")
	RenderResult(c.out, res)
	return nil
}

// RenderStatus prints the proxy handle as a two-column table.
func RenderStatus(w io.Writer, h *proxy.Handle) {
	tw := newTable(w, []string{"Field", "Value"})
	if h == nil {
		tw.Append([]string{"State", "not running"})
		tw.Render()
		return
	}

	st := h.Stats()
	state := "ready"
	if !h.Running() {
		state = "exited"
	}
	backend := h.BackendProxyURL()
	if backend == "" {
		backend = "-"
	}

	tw.AppendBulk([][]string{
		{"State", state},
		{"Bind address", h.BindAddress().String()},
		{"Target version", h.Version()},
		{"Backend proxy", backend},
		{"Java", h.Runtime().String()},
		{"Artifact", h.Artifact().Name},
		{"PID", strconv.Itoa(st.PID)},
		{"Uptime", st.Uptime.Round(time.Second).String()},
		{"CPU", fmt.Sprintf("%.1f%%", st.CPUPercent)},
		{"Memory", fmt.Sprintf("%.0f MB", st.MemoryMB)},
		{"Threads", strconv.Itoa(int(st.Threads))},
	})
	tw.Render()
}

// RenderArtifacts prints each artifact and whether it is on disk.
func RenderArtifacts(w io.Writer, statuses []artifact.RecordStatus) {
	tw := newTable(w, []string{"Name", "Present", "Size", "Path"})
	for _, st := range statuses {
		present, size := "no", "-"
		if st.Present {
			present = "yes"
			size = formatBytes(st.Size)
		}
		tw.Append([]string{st.Name, present, size, st.Path})
	}
	tw.Render()
}

// RenderAccounts prints stored accounts without their tokens.
func RenderAccounts(w io.Writer, accounts []db.StoredAccount) {
	tw := newTable(w, []string{"Username", "UUID", "Mode", "Token", "Updated"})
	for _, a := range accounts {
		mode, token := "offline", "-"
		if a.Online {
			mode = "online"
			token = "missing"
			if a.AccessToken != "" {
				token = "stored"
			}
		}
		tw.Append([]string{a.Username, a.UUID.String(), mode, token, a.UpdatedAt.Format(time.RFC3339)})
	}
	tw.Render()
}

// RenderConnections prints live login connections.
func RenderConnections(w io.Writer, conns []session.Info) {
	tw := newTable(w, []string{"Connection", "Account", "Target", "Relay", "Authenticated", "Age"})
	for _, ci := range conns {
		tw.Append([]string{
			ci.Connection,
			ci.Account,
			ci.Target,
			ci.RelayState,
			strconv.FormatBool(ci.Authenticated),
			time.Since(ci.Started).Round(time.Second).String(),
		})
	}
	tw.Render()
}

// RenderHistory prints login events, newest first.
func RenderHistory(w io.Writer, history []db.LoginEvent) {
	tw := newTable(w, []string{"Time", "Event", "Account", "OK", "Detail"})
	for _, ev := range history {
		tw.Append([]string{
			ev.CreatedAt.Format(time.RFC3339),
			ev.Kind,
			ev.Account,
			strconv.FormatBool(ev.Success),
			ev.Detail,
		})
	}
	tw.Render()
}

// RenderResult prints how a login ended.
func RenderResult(w io.Writer, res *session.Result) {
	tw := newTable(w, []string{"Field", "Value"})
	tw.AppendBulk([][]string{
		{"Connection", res.Connection},
		{"Account", res.Account},
		{"Target", res.Target},
		{"Username", res.Username},
		{"UUID", res.UUID.String()},
		{"Authenticated", strconv.FormatBool(res.Authenticated)},
		{"Duration", res.Duration.Round(time.Millisecond).String()},
	})
	tw.Render()
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
