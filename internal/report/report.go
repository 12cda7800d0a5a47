// Package report renders simulation results for the terminal: a coloured
// summary and tabular per-outcome and run-history views.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/gateway-fm/rollupsim/internal/engine"
	"github.com/gateway-fm/rollupsim/internal/metrics"
	"github.com/gateway-fm/rollupsim/internal/rollup"
	"github.com/gateway-fm/rollupsim/internal/storage"
)

// Printer writes reports to Out.
type Printer struct {
	Out     io.Writer
	NoColor bool
}

func (p *Printer) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if p.NoColor {
		c.DisableColor()
	}
	return c
}

// Summary prints the accepted and rejected counts, retries, the rejection
// breakdown by error kind and latency percentiles.
func (p *Printer) Summary(r *engine.Report) {
	bold := p.color(color.Bold)
	green := p.color(color.FgGreen)
	red := p.color(color.FgRed)
	yellow := p.color(color.FgYellow)

	if r.State == engine.StateAborted {
		red.Fprintf(p.Out, "Simulation aborted after %s", round(r.Duration()))
		if r.Err != nil {
			red.Fprintf(p.Out, ": %v", r.Err)
		}
		fmt.Fprintln(p.Out)
	} else {
		bold.Fprintf(p.Out, "Simulation completed in %s\n", round(r.Duration()))
	}
	fmt.Fprintf(p.Out, "  network %s, token %s, seed %d, %d tps x %d ticks\n",
		r.Network, r.Token, r.Seed, r.TargetTPS, r.Ticks)

	green.Fprintf(p.Out, "  accepted: %d\n", r.Accepted())
	if rejected := r.Rejected(); rejected > 0 {
		red.Fprintf(p.Out, "  rejected: %d\n", rejected)
	} else {
		fmt.Fprintf(p.Out, "  rejected: 0\n")
	}
	if r.Metrics.Retries > 0 {
		yellow.Fprintf(p.Out, "  retries:  %d\n", r.Metrics.Retries)
	}
	if r.Metrics.Confirmed > 0 || r.Metrics.ConfirmFailed > 0 {
		fmt.Fprintf(p.Out, "  confirmed: %d (failed %d)\n", r.Metrics.Confirmed, r.Metrics.ConfirmFailed)
	}

	if len(r.Metrics.Errors) > 0 {
		fmt.Fprintln(p.Out, "  errors:")
		kinds := make([]string, 0, len(r.Metrics.Errors))
		for k := range r.Metrics.Errors {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			p.color(kindColor(k)).Fprintf(p.Out, "    %-24s %d\n", k, r.Metrics.Errors[k])
		}
	}

	writeLatency(p.Out, "submit latency", r.Metrics.SubmitLatency)
	writeLatency(p.Out, "confirm latency", r.Metrics.ConfirmLatency)
}

// kindColor marks transient kinds, which were retried before being counted,
// apart from terminal ones.
func kindColor(kind string) color.Attribute {
	if rollup.ParseErrorKind(kind).Retryable() {
		return color.FgYellow
	}
	return color.FgRed
}

func writeLatency(w io.Writer, name string, s *metrics.LatencyStats) {
	if s == nil {
		return
	}
	fmt.Fprintf(w, "  %s: p50 %.1fms  p95 %.1fms  p99 %.1fms  max %.1fms\n",
		name, s.P50, s.P95, s.P99, s.Max)
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}

// Outcomes prints one table row per transaction outcome.
func (p *Printer) Outcomes(records []storage.OutcomeRecord) {
	table := newTable(p.Out)
	table.SetHeader([]string{"Seq", "Tick", "Batch", "Kind", "From", "To", "Amount", "Nonce", "Result", "Hash / Error", "Attempts", "Latency"})

	for _, o := range records {
		result, detail := "accepted", o.TxHash
		if !o.Accepted {
			result, detail = "rejected", o.ErrorKind
			if o.Message != "" {
				detail += ": " + o.Message
			}
		}
		table.Append([]string{
			strconv.FormatUint(o.Seq, 10),
			strconv.FormatUint(uint64(o.Tick), 10),
			optionalInt(o.Batch),
			o.Kind,
			optionalUint32(o.From),
			strconv.FormatUint(uint64(o.To), 10),
			o.Amount,
			optionalUint32(o.Nonce),
			result,
			detail,
			strconv.Itoa(o.Attempts),
			fmt.Sprintf("%dms", o.LatencyMs),
		})
	}
	table.Render()
}

// Runs prints a run history table.
func (p *Printer) Runs(runs []storage.Run) {
	table := newTable(p.Out)
	table.SetHeader([]string{"ID", "Started", "Status", "Network", "TPS", "Ticks", "Accepted", "Rejected", "Retries", "Duration", "Label"})

	for _, r := range runs {
		label := ""
		if r.Label != nil {
			label = *r.Label
		}
		if r.Favorite {
			label = "* " + label
		}
		table.Append([]string{
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Status,
			r.Network,
			strconv.FormatUint(uint64(r.TargetTPS), 10),
			strconv.FormatUint(uint64(r.Ticks), 10),
			strconv.FormatUint(r.Accepted, 10),
			strconv.FormatUint(r.Rejected, 10),
			strconv.FormatUint(r.Retries, 10),
			(time.Duration(r.DurationMs) * time.Millisecond).String(),
			label,
		})
	}
	table.Render()
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func optionalUint32(v *uint32) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatUint(uint64(*v), 10)
}

func optionalInt(v int) string {
	if v == 0 {
		return "-"
	}
	return strconv.Itoa(v)
}
