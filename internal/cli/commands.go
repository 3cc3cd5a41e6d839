// Package cli implements the interactive command-line interface for
// Valobridge: live session and match status, link inspection and
// onboarding code management.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/valobridge-project/valobridge/internal/config"
	"github.com/valobridge-project/valobridge/internal/events"
	"github.com/valobridge-project/valobridge/internal/store"
	"github.com/valobridge-project/valobridge/internal/tracker"
	"github.com/valobridge-project/valobridge/internal/xmpp"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.Bus
	sessions []*xmpp.Session
	trackers map[string]*tracker.Tracker // keyed by account
	links    *store.Store
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, eventBus *events.Bus, sessions []*xmpp.Session, trackers map[string]*tracker.Tracker, links *store.Store) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		sessions: sessions,
		trackers: trackers,
		links:    links,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nValobridge CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	scanner := bufio.NewScanner(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("valobridge> ")
		if !scanner.Scan() {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "matches", "m":
		c.printMatches()
	case "links", "l":
		return c.printLinks()
	case "otp":
		return c.cmdOTP(args)
	case "unlink":
		return c.cmdUnlink(ctx, args)
	case "mfa":
		return c.cmdMFA(args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down Valobridge...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    Valobridge CLI Commands                   ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  status             Show chat session status                ║")
	fmt.Println("║  matches            Show live tracked matches               ║")
	fmt.Println("║  links              Show account links                      ║")
	fmt.Println("║  otp <remote_id>    Show or mint the linking code           ║")
	fmt.Println("║  unlink <remote_id> Remove an account link                  ║")
	fmt.Println("║  mfa <acct> <code>  Complete a multi-factor login           ║")
	fmt.Println("║  quit               Shutdown Valobridge                     ║")
	fmt.Println("║  help               Show this help message                  ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printStatus displays chat session status in a formatted table.
func (c *CLI) printStatus() {
	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Account", "Connected", "Active Matches"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, sess := range c.sessions {
		connected := "no"
		if sess.Connected() {
			connected = "yes"
		}
		active := 0
		if tr := c.trackers[sess.Account()]; tr != nil {
			active = tr.Len()
		}
		tw.Append([]string{
			sess.Account(),
			connected,
			fmt.Sprintf("%d", active),
		})
	}

	tw.Render()
	fmt.Println()
}

// printMatches displays every live match across all sessions.
func (c *CLI) printMatches() {
	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Account", "Player", "Map", "Queue", "Score"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	total := 0
	for _, sess := range c.sessions {
		tr := c.trackers[sess.Account()]
		if tr == nil {
			continue
		}
		for _, m := range tr.Active() {
			player := m.PlayerID
			if m.GameName != "" {
				player = fmt.Sprintf("%s#%s", m.GameName, m.TagLine)
			}
			tw.Append([]string{
				sess.Account(),
				player,
				m.MapName,
				m.QueueID,
				fmt.Sprintf("%d-%d", m.AllyScore, m.EnemyScore),
			})
			total++
		}
	}

	tw.Render()
	fmt.Printf("%d live matches\n\n", total)
}

// printLinks displays all account links.
func (c *CLI) printLinks() error {
	links, err := c.links.ListLinks()
	if err != nil {
		return err
	}

	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"User", "Remote ID", "Channel"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, l := range links {
		channel := l.ChannelID
		if channel == "" {
			channel = "-"
		}
		tw.Append([]string{l.UserID, l.RemoteID, channel})
	}

	tw.Render()
	fmt.Println()
	return nil
}

func (c *CLI) cmdOTP(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: otp <remote_id>")
	}

	code, err := c.links.GetOrCreateOTP(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Linking code for %s: %06d\n", args[0], code)
	return nil
}

func (c *CLI) cmdMFA(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: mfa <account> <code>")
	}

	for _, sess := range c.sessions {
		if sess.Account() != args[0] {
			continue
		}
		if err := sess.SubmitMFACode(args[1]); err != nil {
			return err
		}
		fmt.Printf("Multi-factor code submitted for %s\n", args[0])
		return nil
	}
	return fmt.Errorf("no session for account %s", args[0])
}

func (c *CLI) cmdUnlink(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: unlink <remote_id>")
	}

	if err := c.links.DeleteLink(args[0]); err != nil {
		return err
	}

	fmt.Printf("Link removed for %s\n", args[0])
	return nil
}
