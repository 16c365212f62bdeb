// Package console provides the interactive command-line interface for
// relayd.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/notify-relay/relay-go/pkg/pairing"
	"github.com/notify-relay/relay-go/pkg/service"
	"github.com/notify-relay/relay-go/pkg/wire"
)

// Console handles interactive mode for relayd.
type Console struct {
	svc *service.RelayService
	rl  *readline.Instance
	out io.Writer

	// userID and userName are sent with link requests.
	userID   string
	userName string
}

// New creates a console bound to the terminal.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "relay> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Show prints a status line. It satisfies connection.StatusNotifier.
func (c *Console) Show(message string) {
	fmt.Fprintf(c.out, "\n[status] %s\n", message)
}

// Attach binds the console to a relay service.
func (c *Console) Attach(svc *service.RelayService, userID, userName string) {
	c.svc = svc
	c.userID = userID
	c.userName = userName
	svc.OnEvent(c.handleEvent)
}

func (c *Console) handleEvent(e service.Event) {
	switch e.Type {
	case service.EventStateChanged:
		fmt.Fprintf(c.out, "\n[state] %s\n", e.State)
	case service.EventPeerStatus:
		fmt.Fprintf(c.out, "\n[peer] %s %s\n", e.DeviceID, onlineName(e.Online))
	case service.EventListenerRestart:
		fmt.Fprintln(c.out, "\n[watchdog] listener restart")
	}
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if quit := c.Exec(ctx, line); quit {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Exec runs one command line and reports whether the user asked to quit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "status", "s":
		c.cmdStatus()
	case "stop":
		c.report(c.svc.Stop(ctx), "relay stopped")
	case "restart":
		c.report(c.svc.Restart(ctx), "relay restarted")
	case "ack":
		c.report(c.svc.Acknowledge(ctx), "relay disabled until app open")
	case "open":
		st, err := c.svc.AppOpen(ctx)
		c.report(err, "state: "+st.String())
	case "link":
		c.cmdLink(ctx, args)
	case "unlink":
		c.report(c.svc.Unlink(ctx), "unlinked")
	case "discover", "d":
		c.cmdDiscover(ctx, args)
	case "notify", "n":
		c.cmdNotify(ctx, args)
	case "broadcast":
		c.cmdBroadcast(ctx, args)
	case "online":
		c.svc.SetConnectivity(true)
	case "offline":
		c.svc.SetConnectivity(false)
	case "permission":
		c.cmdPermission(args)
	case "check":
		fmt.Fprintf(c.out, "watchdog: %s\n", c.svc.Watchdog().Check(ctx))
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Relay Commands:
  Service:
    status               - Show relay status
    stop                 - Stop the relay (persists)
    restart              - Restart after a stop
    ack                  - Acknowledge the stopped alert (disable)
    open                 - Simulate an app open
    check                - Run a watchdog check now

  Pairing:
    discover [timeout]   - List remote devices
    link <device-id>     - Pair with a device
    unlink               - Remove the active pairing

  Messages:
    notify <title> [body]    - Forward a notification
    broadcast <title> [body] - Publish to every device

  Environment:
    online | offline     - Report network connectivity
    permission on|off    - Report notification permission

  quit                   - Exit`)
}

func (c *Console) report(err error, ok string) {
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, ok)
}

func (c *Console) cmdStatus() {
	st := c.svc.Status()
	fmt.Fprintf(c.out, "State:         %s\n", st.State)
	fmt.Fprintf(c.out, "Connected:     %v\n", st.Connected)
	if st.Reconnecting {
		fmt.Fprintf(c.out, "Reconnecting:  attempt %d\n", st.ReconnectTry)
	}
	fmt.Fprintf(c.out, "Subscriptions: %d\n", st.Subscriptions)
	if st.PeerID == "" {
		fmt.Fprintln(c.out, "Peer:          none")
	} else {
		fmt.Fprintf(c.out, "Peer:          %s (%s)\n", st.PeerID, onlineName(st.PeerOnline))
	}
	if !st.LastMessage.IsZero() {
		fmt.Fprintf(c.out, "Last message:  %s ago\n", time.Since(st.LastMessage).Round(time.Second))
	}
	fmt.Fprintf(c.out, "Repairs:       %d forced, %d deep\n", st.ForceResets, st.DeepResets)
}

func (c *Console) cmdLink(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: link <device-id>")
		return
	}
	c.report(c.svc.Link(ctx, args[0], c.userID, c.userName), "linked to "+args[0])
}

func (c *Console) cmdDiscover(ctx context.Context, args []string) {
	timeout := pairing.DefaultDiscoveryTimeout
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			fmt.Fprintf(c.out, "Invalid timeout: %v\n", err)
			return
		}
		timeout = d
	}

	peers, err := c.svc.Discover(ctx, timeout)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if len(peers) == 0 {
		fmt.Fprintln(c.out, "No devices answered.")
		return
	}
	for _, p := range peers {
		avail := ""
		if !p.Available {
			avail = " (busy)"
		}
		fmt.Fprintf(c.out, "  %s  %s%s\n", p.ID, p.Name, avail)
	}
}

func splitMessage(args []string) (title, body string, ok bool) {
	if len(args) == 0 {
		return "", "", false
	}
	return args[0], strings.Join(args[1:], " "), true
}

func (c *Console) cmdNotify(ctx context.Context, args []string) {
	title, body, ok := splitMessage(args)
	if !ok {
		fmt.Fprintln(c.out, "Usage: notify <title> [body]")
		return
	}
	n := wire.NewNotification(title, body, "console", time.Now())
	c.report(c.svc.Relay(ctx, n), "sent "+n.ID)
}

func (c *Console) cmdBroadcast(ctx context.Context, args []string) {
	title, body, ok := splitMessage(args)
	if !ok {
		fmt.Fprintln(c.out, "Usage: broadcast <title> [body]")
		return
	}
	c.report(c.svc.Pairing().Broadcast(ctx, title, body), "broadcast sent")
}

func (c *Console) cmdPermission(args []string) {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		fmt.Fprintln(c.out, "Usage: permission on|off")
		return
	}
	c.svc.SetPermission(args[0] == "on")
}

func onlineName(b bool) string {
	if b {
		return "online"
	}
	return "offline"
}
