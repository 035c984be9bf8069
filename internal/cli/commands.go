// Package cli implements the interactive console for the rendezvous
// service: live game listings and counter tables.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/outpost-project/rendezvous/internal/config"
	"github.com/outpost-project/rendezvous/internal/events"
	"github.com/outpost-project/rendezvous/internal/lobby"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg   *config.Config
	bus   *events.Bus
	lobby *lobby.Lobby

	// last printed counters; repeated "counters" with no traffic in
	// between prints a short notice instead of the full table.
	lastCounters *lobby.CountersSnapshot
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, bus *events.Bus, lb *lobby.Lobby) *CLI {
	return &CLI{
		cfg:   cfg,
		bus:   bus,
		lobby: lb,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nRendezvous CLI ready. Type 'help' for available commands.")

	scanner := bufio.NewScanner(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("rendezvous> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && err != io.EOF {
				log.Warn().Err(err).Msg("CLI input error")
			}
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		if err := c.execute(ctx, strings.ToLower(parts[0])); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "games", "g":
		return c.printGames(ctx)
	case "counters", "c":
		return c.printCounters(ctx)
	case "status", "s":
		return c.printStatus(ctx)
	case "quit", "exit", "q":
		fmt.Println("Shutting down rendezvous service...")
		c.bus.Emit(ctx, events.Event{
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
	fmt.Println()
	fmt.Println("  games      List currently advertised games")
	fmt.Println("  counters   Show protocol counters (suppressed when unchanged)")
	fmt.Println("  status     Show service status")
	fmt.Println("  quit       Shut down the rendezvous service")
	fmt.Println("  help       Show this help message")
	fmt.Println()
}

// printGames renders the advertised game list as a table.
func (c *CLI) printGames(ctx context.Context) error {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return err
	}

	if len(snap.Games) == 0 {
		fmt.Println("No games registered.")
		return nil
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Host", "Creator", "Players", "Session", "State", "Age"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, g := range snap.Games {
		state := "awaiting details"
		session := "-"
		creator := "-"
		players := "-"
		if g.Advertised {
			state = "advertised"
			session = shortSession(g.SessionID)
			creator = g.Creator
			players = fmt.Sprintf("%d", g.MaxPlayers)
		}

		tw.Append([]string{
			g.Endpoint,
			creator,
			players,
			session,
			state,
			fmt.Sprintf("%.0fs", g.AgeSeconds),
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

// printCounters renders the counters table, suppressing output when
// nothing changed since the last print.
func (c *CLI) printCounters(ctx context.Context) error {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return err
	}

	if c.lastCounters != nil && *c.lastCounters == snap.Counters {
		fmt.Println("Counters unchanged.")
		return nil
	}
	counters := snap.Counters
	c.lastCounters = &counters

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Counter", "Value"})
	tw.SetBorder(true)

	for _, f := range snap.Counters.Fields() {
		tw.Append([]string{f.Name, fmt.Sprintf("%d", f.Value)})
	}

	tw.Render()
	fmt.Println()
	return nil
}

// printStatus prints a one-screen service summary.
func (c *CLI) printStatus(ctx context.Context) error {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\n  Server:       %s\n", snap.ServerName)
	fmt.Printf("  UDP ports:    %d / %d\n", snap.Port, snap.Port+1)
	fmt.Printf("  Started:      %s\n", snap.StartedAt.Format(time.RFC3339))
	fmt.Printf("  Uptime:       %s\n", time.Since(snap.StartedAt).Round(time.Second))
	fmt.Printf("  Games:        %d\n", len(snap.Games))
	fmt.Printf("  Packets in:   %d\n", snap.Counters.PacketsReceived)
	fmt.Printf("  Packets out:  %d\n\n", snap.Counters.PacketsSent)
	return nil
}

func (c *CLI) snapshot(ctx context.Context) (lobby.Snapshot, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return c.lobby.Snapshot(reqCtx)
}

// shortSession abbreviates a session identifier for table display.
func shortSession(id string) string {
	if len(id) > 12 {
		return id[:12] + ".."
	}
	return id
}
