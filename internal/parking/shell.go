package parking

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"parking-manager/internal/tariff"
	"parking-manager/internal/vehicle"
)

const shellHelp = `Commands:
  enter <plate> <category> [spot_id]
  exit <plate>
  status
  spots [category] [status]
  stats
  sessions
  history
  tariff <category>
  set_tariff <category> [first=..] [additional=..] [tolerance=..]
  maintenance <spot_id> on|off
  verify
  help`

// Shell is the line-oriented attendant console.
type Shell struct {
	manager *InstrumentedManager
	tracer  trace.Tracer
	in      *bufio.Scanner
	out     io.Writer
}

func NewShell(m *InstrumentedManager, tracer trace.Tracer, in io.Reader, out io.Writer) *Shell {
	return &Shell{
		manager: m,
		tracer:  tracer,
		in:      bufio.NewScanner(in),
		out:     out,
	}
}

// Run reads commands until the input ends or ctx is cancelled.
func (s *Shell) Run(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "shell.run")
	defer span.End()

	span.AddEvent("shell_started")

	for ctx.Err() == nil && s.in.Scan() {
		input := strings.TrimSpace(s.in.Text())
		if input == "" {
			continue
		}

		cmdCtx, cmdSpan := s.tracer.Start(ctx, "shell.process_command",
			trace.WithAttributes(attribute.String("command.input", input)))
		s.processCommand(cmdCtx, input)
		cmdSpan.End()
	}

	span.AddEvent("shell_ended")
}

func (s *Shell) processCommand(ctx context.Context, input string) {
	parts := strings.Fields(input)
	command := parts[0]
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("command.name", command))

	switch command {
	case "enter":
		s.handleEnter(ctx, parts)
	case "exit":
		s.handleExit(ctx, parts)
	case "status", "sessions":
		s.handleSessions(ctx, s.manager.OpenSessions(ctx))
	case "history":
		s.handleSessions(ctx, s.manager.Sessions(ctx))
	case "spots":
		s.handleSpots(ctx, parts)
	case "stats":
		s.handleStats(ctx)
	case "tariff":
		s.handleTariff(ctx, parts)
	case "set_tariff":
		s.handleSetTariff(ctx, parts)
	case "maintenance":
		s.handleMaintenance(ctx, parts)
	case "verify":
		s.handleVerify(ctx)
	case "help":
		fmt.Fprintln(s.out, shellHelp)
	default:
		trace.SpanFromContext(ctx).AddEvent("unknown_command", trace.WithAttributes(
			attribute.String("unknown_command", command),
		))
		fmt.Fprintf(s.out, "Unknown command: %s\n", command)
	}
}

func (s *Shell) handleEnter(ctx context.Context, parts []string) {
	if len(parts) < 3 || len(parts) > 4 {
		fmt.Fprintln(s.out, "Usage: enter <plate> <category> [spot_id]")
		return
	}

	category, err := vehicle.ParseCategory(parts[2])
	if err != nil {
		fmt.Fprintf(s.out, "Error: %s\n", err)
		return
	}
	var opts []EnterOption
	if len(parts) == 4 {
		opts = append(opts, WithSpot(parts[3]))
	}

	sess, err := s.manager.Enter(ctx, parts[1], category, opts...)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %s\n", err)
		return
	}
	fmt.Fprintf(s.out, "Allocated spot number: %d (%s)\n", sess.SpotNumber, sess.SpotID)
}

func (s *Shell) handleExit(ctx context.Context, parts []string) {
	if len(parts) != 2 {
		fmt.Fprintln(s.out, "Usage: exit <plate>")
		return
	}

	rc, err := s.manager.Exit(ctx, parts[1])
	if rc.Session.ID != "" {
		fmt.Fprintf(s.out, "Spot number %d is free. Time: %s. Amount due: %s\n",
			rc.Session.SpotNumber, rc.Quote.Elapsed, rc.Quote.Amount.StringFixed(2))
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %s\n", err)
	}
}

func (s *Shell) handleSessions(ctx context.Context, sessions []Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(s.out, "No sessions")
		return
	}

	tw := tabwriter.NewWriter(s.out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "Spot No.\tPlate\tCategory\tEntry\tExit\tAmount")
	for _, sess := range sessions {
		exit, amount := "-", "-"
		if !sess.Open() {
			exit = sess.ExitTime.Format("2006-01-02 15:04")
			amount = sess.Amount.StringFixed(2)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", sess.SpotNumber, sess.Plate, sess.Category,
			sess.EntryTime.Format("2006-01-02 15:04"), exit, amount)
	}
	tw.Flush()
}

func (s *Shell) handleSpots(ctx context.Context, parts []string) {
	var filter SpotFilter
	for _, arg := range parts[1:] {
		if st := Status(strings.ToUpper(arg)); st.Valid() {
			filter.Status = st
			continue
		}
		category, err := vehicle.ParseCategory(arg)
		if err != nil {
			fmt.Fprintln(s.out, "Usage: spots [category] [status]")
			return
		}
		filter.Category = category
	}

	tw := tabwriter.NewWriter(s.out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "Spot No.\tId\tCategory\tStatus\tPlate")
	for _, sp := range s.manager.Spots(ctx, filter) {
		plate := ""
		if sp.Occupant != nil {
			plate = sp.Occupant.Plate
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", sp.Number, sp.ID, sp.Category, sp.Status, plate)
	}
	tw.Flush()
}

func (s *Shell) handleStats(ctx context.Context) {
	st := s.manager.Stats(ctx)
	fmt.Fprintf(s.out, "Total: %d  Free: %d  Occupied: %d  Maintenance: %d\n",
		st.Total, st.Free, st.Occupied, st.Maintenance)
	for _, c := range vehicle.Categories() {
		cs, ok := st.ByCategory[c]
		if !ok {
			continue
		}
		fmt.Fprintf(s.out, "  %-10s %d/%d free\n", c, cs.Free, cs.Total)
	}
}

func (s *Shell) handleTariff(ctx context.Context, parts []string) {
	if len(parts) == 1 {
		for _, t := range s.manager.Tariffs(ctx) {
			s.printTariff(t)
		}
		return
	}
	category, err := vehicle.ParseCategory(parts[1])
	if err != nil {
		fmt.Fprintf(s.out, "Error: %s\n", err)
		return
	}
	t, err := s.manager.Tariff(ctx, category)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %s\n", err)
		return
	}
	s.printTariff(t)
}

func (s *Shell) printTariff(t tariff.Tariff) {
	fmt.Fprintf(s.out, "%s: first hour %s, additional hour %s, tolerance %d min\n",
		t.Category, t.FirstHour.StringFixed(2), t.AdditionalHour.StringFixed(2), t.ToleranceMinutes)
}

func (s *Shell) handleSetTariff(ctx context.Context, parts []string) {
	const usage = "Usage: set_tariff <category> [first=..] [additional=..] [tolerance=..]"
	if len(parts) < 3 {
		fmt.Fprintln(s.out, usage)
		return
	}
	category, err := vehicle.ParseCategory(parts[1])
	if err != nil {
		fmt.Fprintf(s.out, "Error: %s\n", err)
		return
	}

	var patch tariff.Patch
	for _, kv := range parts[2:] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			fmt.Fprintln(s.out, usage)
			return
		}
		switch key {
		case "first", "additional":
			d, err := decimal.NewFromString(value)
			if err != nil {
				fmt.Fprintf(s.out, "Invalid amount: %s\n", value)
				return
			}
			if key == "first" {
				patch.FirstHour = &d
			} else {
				patch.AdditionalHour = &d
			}
		case "tolerance":
			n, err := strconv.Atoi(value)
			if err != nil {
				fmt.Fprintf(s.out, "Invalid tolerance: %s\n", value)
				return
			}
			patch.ToleranceMinutes = &n
		default:
			fmt.Fprintln(s.out, usage)
			return
		}
	}

	t, err := s.manager.UpdateTariff(ctx, category, patch)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %s\n", err)
		return
	}
	s.printTariff(t)
}

func (s *Shell) handleMaintenance(ctx context.Context, parts []string) {
	if len(parts) != 3 || (parts[2] != "on" && parts[2] != "off") {
		fmt.Fprintln(s.out, "Usage: maintenance <spot_id> on|off")
		return
	}

	sp, err := s.manager.SetMaintenance(ctx, parts[1], parts[2] == "on")
	if err != nil {
		fmt.Fprintf(s.out, "Error: %s\n", err)
		return
	}
	fmt.Fprintf(s.out, "Spot %s is %s\n", sp.ID, sp.Status)
}

func (s *Shell) handleVerify(ctx context.Context) {
	if err := s.manager.Verify(ctx); err != nil {
		fmt.Fprintf(s.out, "Inconsistent:\n%s\n", err)
		return
	}
	fmt.Fprintln(s.out, "OK")
}
