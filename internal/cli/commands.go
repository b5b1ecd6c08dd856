// Package cli implements the interactive operator console and the table
// renderers shared with the rsmod subcommands.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/Nozemi/rsmod/internal/config"
	"github.com/Nozemi/rsmod/internal/db"
	"github.com/Nozemi/rsmod/internal/events"
	"github.com/Nozemi/rsmod/internal/network"
	"github.com/Nozemi/rsmod/internal/protocol"
)

const (
	defaultViolationCount = 20

	// appKeyPrefix routes setconfig keys to application_data, as in
	// "app.logging.level".
	appKeyPrefix = "app."
)

// Gateway is the part of the client gateway the console drives.
type Gateway interface {
	Device() protocol.Device
	Table() *protocol.Table
	Sessions() []network.ConnectionStats
	CloseSession(id string) error
	SweepStale() int
}

// ViolationQuery reads the violation audit log.
type ViolationQuery interface {
	Recent(ctx context.Context, limit int) ([]db.Violation, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg        *config.Config
	eventBus   *events.EventBus
	gateway    Gateway
	violations ViolationQuery

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
// violations may be nil when the audit log is disabled.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, gateway Gateway, violations ViolationQuery, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:        cfg,
		eventBus:   eventBus,
		gateway:    gateway,
		violations: violations,
		in:         in,
		out:        out,
	}
}

// Start runs the command loop until ctx is cancelled, input ends or the
// operator quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nrsmod console ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "rsmod> ")

		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		quit, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		if quit {
			return
		}
	}
}

// execute runs a single command and reports whether the console should
// exit.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "opcodes":
		return false, c.cmdOpcodes(args)
	case "connections", "conns":
		RenderSessions(c.out, c.gateway.Sessions())
	case "close":
		return false, c.cmdClose(ctx, args)
	case "violations":
		return false, c.cmdViolations(ctx, args)
	case "sweep":
		fmt.Fprintf(c.out, "Closed %d idle sessions\n", c.gateway.SweepStale())
	case "setconfig":
		return false, c.cmdSetConfig(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down rsmod...")
		if c.eventBus != nil {
			c.eventBus.Emit(ctx, events.Event{
				Type:   events.EventShutdown,
				Source: "cli",
			})
		}
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                     rsmod Console Commands                   ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status              Show gateway status                     ║")
	fmt.Fprintln(c.out, "║  opcodes [device]    List the client message table           ║")
	fmt.Fprintln(c.out, "║  connections         List live sessions                      ║")
	fmt.Fprintln(c.out, "║  close <session>     Drop a session                          ║")
	fmt.Fprintln(c.out, "║  violations [n]      Show the last n protocol violations     ║")
	fmt.Fprintln(c.out, "║  sweep               Close idle sessions now                 ║")
	fmt.Fprintln(c.out, "║  setconfig <k> <v>   Update a setting (app.<sec>.<k> for app) ║")
	fmt.Fprintln(c.out, "║  quit                Shutdown rsmod                          ║")
	fmt.Fprintln(c.out, "║  help                Show this help message                  ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

// printStatus displays a gateway summary.
func (c *CLI) printStatus() {
	gw := c.cfg.GetGateway()
	device := c.gateway.Device()
	sessions := c.gateway.Sessions()

	var frames, bytes uint64
	for _, s := range sessions {
		frames += s.Frames
		bytes += s.BytesConsumed
	}

	fmt.Fprintf(c.out, "\n  Listen:          %s\n", gw.Address())
	fmt.Fprintf(c.out, "  Device:          %s\n", device)
	fmt.Fprintf(c.out, "  Opcodes:         %d\n", c.gateway.Table().OpcodeCount(device))
	fmt.Fprintf(c.out, "  Max frame bytes: %d\n", gw.MaxFrameBytes)
	fmt.Fprintf(c.out, "  Idle timeout:    %s\n", gw.IdleTimeout())
	fmt.Fprintf(c.out, "  Sessions:        %d\n", len(sessions))
	fmt.Fprintf(c.out, "  Frames decoded:  %d\n", frames)
	fmt.Fprintf(c.out, "  Bytes consumed:  %d\n", bytes)
	fmt.Fprintln(c.out)
}

func (c *CLI) cmdOpcodes(args []string) error {
	device := c.gateway.Device()
	if len(args) > 0 {
		d, err := protocol.ParseDevice(args[0])
		if err != nil {
			return err
		}
		device = d
	}
	RenderOpcodes(c.out, c.gateway.Table(), device)
	return nil
}

func (c *CLI) cmdClose(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: close <session>")
	}
	id := args[0]
	if err := c.gateway.CloseSession(id); err != nil {
		return err
	}

	if c.eventBus != nil {
		c.eventBus.Emit(ctx, events.Event{
			Type:    events.EventCloseConnection,
			Source:  "cli",
			Payload: events.CloseConnectionPayload{SessionID: id},
		})
	}
	fmt.Fprintf(c.out, "Session %s closed\n", id)
	return nil
}

func (c *CLI) cmdViolations(ctx context.Context, args []string) error {
	if c.violations == nil {
		return fmt.Errorf("violation audit is disabled")
	}

	n := defaultViolationCount
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		n = v
	}

	rows, err := c.violations.Recent(ctx, n)
	if err != nil {
		return err
	}
	RenderViolations(c.out, rows)
	return nil
}

func (c *CLI) cmdSetConfig(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <value>")
	}

	key := args[0]
	raw := strings.Join(args[1:], " ")

	section := "gateway"
	if appKey, ok := strings.CutPrefix(key, appKeyPrefix); ok {
		section = "application_data"
		previous := c.cfg.GetApplicationData()
		if err := c.cfg.UpdateAppField(appKey, parseValue(raw)); err != nil {
			return err
		}
		if result := config.Validate(c.cfg); !result.IsValid() {
			c.cfg.SetApplicationData(previous)
			return result.Errors[0]
		}
	} else {
		previous := c.cfg.GetGateway()
		if err := c.cfg.UpdateGatewayField(key, parseValue(raw)); err != nil {
			return err
		}
		if result := config.Validate(c.cfg); !result.IsValid() {
			c.cfg.SetGateway(previous)
			return result.Errors[0]
		}
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	if c.eventBus != nil {
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventConfigChanged,
			Source: "cli",
			Payload: events.ConfigChangedPayload{
				Section: section,
				Key:     key,
				Value:   raw,
			},
		})
	}
	log.Info().Str("key", key).Str("value", raw).Msg("config updated from console")
	fmt.Fprintf(c.out, "Config updated: %s = %s\n", key, raw)
	return nil
}

// parseValue turns console input into a JSON-compatible value.
func parseValue(raw string) interface{} {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// RenderOpcodes writes the descriptor table of device.
func RenderOpcodes(w io.Writer, table *protocol.Table, device protocol.Device) {
	descriptors := table.Descriptors(device)
	if len(descriptors) == 0 {
		fmt.Fprintf(w, "No client messages registered for %s\n", device)
		return
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Opcode", "Message", "Framing", "Aliases"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, d := range descriptors {
		ops := d.Opcodes()
		aliases := make([]string, 0, len(ops)-1)
		for _, op := range ops[1:] {
			aliases = append(aliases, strconv.Itoa(int(op)))
		}
		tw.Append([]string{
			strconv.Itoa(int(d.Opcode())),
			d.Name(),
			d.Rule().String(),
			strings.Join(aliases, ","),
		})
	}
	tw.Render()
	fmt.Fprintf(w, "%d opcodes, %d messages (%s)\n", table.OpcodeCount(device), len(descriptors), device)
}

// RenderSessions writes a table of live sessions.
func RenderSessions(w io.Writer, sessions []network.ConnectionStats) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No live sessions")
		return
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Session", "Remote", "State", "Frames", "Bytes", "Buffered", "Idle"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, s := range sessions {
		tw.Append([]string{
			s.SessionID,
			s.Remote,
			s.State,
			strconv.FormatUint(s.Frames, 10),
			strconv.FormatUint(s.BytesConsumed, 10),
			strconv.Itoa(s.Buffered),
			time.Since(s.LastActivity).Round(time.Second).String(),
		})
	}
	tw.Render()
}

// RenderViolations writes a table of audit entries.
func RenderViolations(w io.Writer, rows []db.Violation) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No protocol violations recorded")
		return
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Time", "Session", "Remote", "Kind", "Opcode", "Detail"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, v := range rows {
		opcode := "-"
		if v.Opcode >= 0 {
			opcode = strconv.Itoa(v.Opcode)
		}
		tw.Append([]string{
			v.OccurredAt.Local().Format(time.DateTime),
			v.SessionID,
			v.Remote,
			v.Kind,
			opcode,
			v.Detail,
		})
	}
	tw.Render()
}
