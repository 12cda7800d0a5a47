package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all rollupsim tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client, runner *Runner) {
	registerRun(s, runner)
	registerStatus(s, client)
	registerHealth(s, client)
	registerHistory(s, client)
	registerRunDetail(s, client)
	registerRunOutcomes(s, client)
	registerLabelRun(s, client)
	registerDeleteRun(s, client)
}

func registerRun(s *server.MCPServer, runner *Runner) {
	tool := gomcp.NewTool("rollupsim_run",
		gomcp.WithDescription("Run a simulation against the in-memory local rollup node and return the summary: accepted and rejected counts, retries, rejections by error kind, latency percentiles."),
		gomcp.WithNumber("tps",
			gomcp.Description("Target transactions per second, also the per-tick maximum (1-1000)"),
		),
		gomcp.WithNumber("ticks",
			gomcp.Description("Number of throttling epochs (1-60)"),
		),
		gomcp.WithNumber("accounts",
			gomcp.Description("Number of simulated accounts (1-1000)"),
		),
		gomcp.WithNumber("seed",
			gomcp.Description("RNG seed for a reproducible run (default: time-derived)"),
		),
		gomcp.WithNumber("transfer_ratio",
			gomcp.Description("Fraction of transfers among generated transactions, 0 to 1"),
		),
		gomcp.WithNumber("min_deposit_value", gomcp.Description("Smallest deposit amount")),
		gomcp.WithNumber("max_deposit_value", gomcp.Description("Largest deposit amount")),
		gomcp.WithNumber("min_transfer_value", gomcp.Description("Smallest transfer amount")),
		gomcp.WithNumber("max_transfer_value", gomcp.Description("Largest transfer amount")),
		gomcp.WithNumber("batch_size",
			gomcp.Description("Group transactions into atomic batches of this size"),
		),
		gomcp.WithBoolean("throttle",
			gomcp.Description("Gate submissions at the target rate (default: true)"),
		),
		gomcp.WithString("label",
			gomcp.Description("Label stored with the run"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		params := RunParams{
			TPS:              uint32(max(req.GetInt("tps", 0), 0)),
			Ticks:            uint32(max(req.GetInt("ticks", 0), 0)),
			Accounts:         uint32(max(req.GetInt("accounts", 0), 0)),
			Seed:             uint64(max(req.GetInt("seed", 0), 0)),
			MinDepositValue:  uint64(max(req.GetInt("min_deposit_value", 0), 0)),
			MaxDepositValue:  uint64(max(req.GetInt("max_deposit_value", 0), 0)),
			MinTransferValue: uint64(max(req.GetInt("min_transfer_value", 0), 0)),
			MaxTransferValue: uint64(max(req.GetInt("max_transfer_value", 0), 0)),
			BatchSize:        uint32(max(req.GetInt("batch_size", 0), 0)),
			Label:            req.GetString("label", ""),
		}
		args := req.GetArguments()
		if _, ok := args["transfer_ratio"]; ok {
			ratio := req.GetFloat("transfer_ratio", 0)
			params.TransferRatio = &ratio
		}
		if _, ok := args["throttle"]; ok {
			throttle := req.GetBool("throttle", true)
			params.Throttle = &throttle
		}

		summary, err := runner.Run(ctx, params)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(section("Simulation Result"), summary)), nil
	})
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rollupsim_status",
		gomcp.WithDescription("Get the status of the rollupsim instance serving the HTTP API: engine state, submitted/accepted/rejected counts, retries, in-flight submissions and latency."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Status(ctx)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("rollupsim unreachable: %v\n\nIs it running with metrics.listen set, or via `rollupsim serve`?", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rollupsim_health",
		gomcp.WithDescription("Readiness check of the rollupsim instance, including rollup node connectivity."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Ready(ctx)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable && apiErr.Body != nil {
			return gomcp.NewToolResultError(formatHealth(apiErr.Body)), nil
		}
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("rollupsim not ready: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	})
}

func registerHistory(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rollupsim_history",
		gomcp.WithDescription("List stored simulation runs with summary metrics, favorites first (paginated)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.History(ctx, req.GetInt("limit", 10), req.GetInt("offset", 0))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(raw)), nil
	})
}

func registerRunDetail(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rollupsim_run_detail",
		gomcp.WithDescription("Get detailed results for a stored run by ID: configuration, counters, rejections by error kind and latency."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		raw, err := client.Run(ctx, id)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run detail failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunDetail(raw)), nil
	})
}

func registerRunOutcomes(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rollupsim_run_outcomes",
		gomcp.WithDescription("Get the per-transaction outcomes of a stored run (paginated)."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
		gomcp.WithNumber("limit",
			gomcp.Description("Max outcomes to return (default: 50, max: 1000)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		raw, err := client.Outcomes(ctx, id, req.GetInt("limit", 50), req.GetInt("offset", 0))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run outcomes failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatOutcomes(raw)), nil
	})
}

func registerLabelRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rollupsim_label_run",
		gomcp.WithDescription("Set the label or favorite flag of a stored run. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
		gomcp.WithString("label",
			gomcp.Description("New label; an empty string clears it"),
		),
		gomcp.WithBoolean("favorite",
			gomcp.Description("Pin the run to the top of the history"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}

		var (
			label    *string
			favorite *bool
		)
		args := req.GetArguments()
		if _, ok := args["label"]; ok {
			l := req.GetString("label", "")
			label = &l
		}
		if _, ok := args["favorite"]; ok {
			f := req.GetBool("favorite", false)
			favorite = &f
		}
		if label == nil && favorite == nil {
			return gomcp.NewToolResultError("label or favorite is required"), nil
		}

		raw, err := client.UpdateRun(ctx, id, label, favorite)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Update failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunDetail(json.RawMessage(`{"run":` + string(raw) + `}`))), nil
	})
}

func registerDeleteRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rollupsim_delete_run",
		gomcp.WithDescription("Delete a stored run and its outcomes. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID to delete"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if err := client.DeleteRun(ctx, id); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Deleted"),
			kv("ID", id),
		)), nil
	})
}

// Response formatting functions

func formatStatus(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	metrics, _ := m["metrics"].(map[string]any)
	submitted := getNum(metrics, "submitted")
	accepted := getNum(metrics, "accepted")

	acceptance := "-"
	if submitted > 0 {
		acceptance = formatPct(accepted / submitted * 100)
	}

	lines := joinLines(
		section("rollupsim Status"),
		kv("State", getStr(m, "state")),
		kv("Network", getStr(m, "network")),
		kv("Target TPS", formatNumber(getNum(m, "targetTps"))),
		kv("Uptime", fmt.Sprintf("%.1fs", getNum(m, "uptimeSeconds"))),
		kv("Submitted", formatNumber(submitted)),
		kv("Accepted", formatNumber(accepted)),
		kv("Rejected", formatNumber(getNum(metrics, "rejected"))),
		kv("Acceptance", acceptance),
		kv("Retries", formatNumber(getNum(metrics, "retries"))),
		kv("In Flight", fmt.Sprintf("%s (peak %s)",
			formatNumber(getNum(metrics, "in_flight")), formatNumber(getNum(metrics, "peak_in_flight")))),
	)

	if errs := formatErrors(metrics["errors"]); errs != "" {
		lines += "\n\n" + errs
	}
	if lat, ok := metrics["submit_latency"].(map[string]any); ok {
		lines += "\n\n" + formatLatency("Submit Latency", lat)
	}
	if lat, ok := metrics["confirm_latency"].(map[string]any); ok {
		lines += "\n\n" + formatLatency("Confirmation Latency", lat)
	}

	return lines
}

func formatLatency(title string, lat map[string]any) string {
	return joinLines(
		section(title),
		kv("Min", formatMs(getNum(lat, "min"))),
		kv("P50", formatMs(getNum(lat, "p50"))),
		kv("P95", formatMs(getNum(lat, "p95"))),
		kv("P99", formatMs(getNum(lat, "p99"))),
		kv("Max", formatMs(getNum(lat, "max"))),
	)
}

// formatErrors renders a rejection breakdown by error kind, largest first.
func formatErrors(v any) string {
	errs, ok := v.(map[string]any)
	if !ok || len(errs) == 0 {
		return ""
	}
	kinds := make([]string, 0, len(errs))
	for k := range errs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		ci, cj := getNum(errs, kinds[i]), getNum(errs, kinds[j])
		if ci != cj {
			return ci > cj
		}
		return kinds[i] < kinds[j]
	})

	lines := []string{section("Rejections")}
	for _, k := range kinds {
		lines = append(lines, kv(k, formatNumber(getNum(errs, k))))
	}
	return joinLines(lines...)
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	ready, _ := m["ready"].(bool)
	state := "READY"
	if !ready {
		state = "NOT READY"
	}

	lines := section("rollupsim Health: " + state)

	if checks, ok := m["checks"].([]any); ok {
		for _, c := range checks {
			if check, ok := c.(map[string]any); ok {
				name := getStr(check, "name")
				status := getStr(check, "status")
				latencyMs := getNum(check, "latency_ms")
				errMsg := getStr(check, "error")
				line := fmt.Sprintf("  %-15s %s (%dms)", name, status, int64(latencyMs))
				if errMsg != "" {
					line += " - " + errMsg
				}
				lines += "\n" + line
			}
		}
	}

	return lines
}

func formatHistory(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing history: %v", err)
	}

	total := getNum(m, "total")
	lines := joinLines(
		section("Run History"),
		kv("Total Runs", formatNumber(total)),
		"",
	)

	runs, ok := m["runs"].([]any)
	if !ok || len(runs) == 0 {
		lines += "\nNo runs found."
		return lines
	}
	lines += "\n\n"

	for _, r := range runs {
		run, ok := r.(map[string]any)
		if !ok {
			continue
		}
		title := getStr(run, "id")
		if label := getStr(run, "label"); label != "" {
			title += " (" + label + ")"
		}
		if fav, _ := run["favorite"].(bool); fav {
			title = "* " + title
		}

		lines += fmt.Sprintf("### %s\n", title)
		lines += joinLines(
			kv("Status", getStr(run, "status")),
			kv("Network", getStr(run, "network")),
			kv("TPS x Ticks", fmt.Sprintf("%s x %s",
				formatNumber(getNum(run, "targetTps")), formatNumber(getNum(run, "ticks")))),
			kv("Accepted", formatNumber(getNum(run, "accepted"))),
			kv("Rejected", formatNumber(getNum(run, "rejected"))),
			kv("Started", formatTime(getStr(run, "startedAt"))),
		)
		lines += "\n\n"
	}

	return strings.TrimRight(lines, "\n")
}

func formatRunDetail(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing run detail: %v", err)
	}

	run, ok := m["run"].(map[string]any)
	if !ok {
		return "Run not found"
	}

	label := getStr(run, "label")
	if label == "" {
		label = "-"
	}
	errLine := ""
	if msg := getStr(run, "errorMessage"); msg != "" {
		errLine = kv("Error", msg)
	}

	lines := joinLines(
		section("Run: "+getStr(run, "id")),
		kv("Status", getStr(run, "status")),
		errLine,
		kv("Label", label),
		kv("Network", getStr(run, "network")),
		kv("Provider", getStr(run, "provider")),
		kv("Token", getStr(run, "token")),
		kv("Seed", formatSeed(run["seed"])),
		kv("Target TPS", formatNumber(getNum(run, "targetTps"))),
		kv("Ticks", formatNumber(getNum(run, "ticks"))),
		kv("Accounts", formatNumber(getNum(run, "accountCount"))),
		kv("Duration", fmt.Sprintf("%.1fs", getNum(run, "durationMs")/1000)),
		kv("Submitted", formatNumber(getNum(run, "submitted"))),
		kv("Accepted", formatNumber(getNum(run, "accepted"))),
		kv("Rejected", formatNumber(getNum(run, "rejected"))),
		kv("Retries", formatNumber(getNum(run, "retries"))),
		kv("Confirmed", formatNumber(getNum(run, "confirmed"))),
	)

	if errs := formatErrors(run["errors"]); errs != "" {
		lines += "\n\n" + errs
	}
	if lat, ok := run["submitLatency"].(map[string]any); ok {
		lines += "\n\n" + formatLatency("Submit Latency", lat)
	}
	if lat, ok := run["confirmLatency"].(map[string]any); ok {
		lines += "\n\n" + formatLatency("Confirmation Latency", lat)
	}

	if outcomes, ok := m["outcomes"].(map[string]any); ok {
		lines += "\n\n" + kv("Outcomes", formatNumber(getNum(outcomes, "total")))
	}

	return lines
}

func formatOutcomes(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing outcomes: %v", err)
	}

	total := getNum(m, "total")
	lines := joinLines(
		section("Transaction Outcomes"),
		kv("Total", formatNumber(total)),
	)

	outcomes, ok := m["outcomes"].([]any)
	if !ok || len(outcomes) == 0 {
		return lines + "\nNo outcomes found."
	}
	lines += "\n"

	for i, o := range outcomes {
		if i >= 50 {
			lines += fmt.Sprintf("\n... and %d more", len(outcomes)-50)
			break
		}
		out, ok := o.(map[string]any)
		if !ok {
			continue
		}

		route := fmt.Sprintf("-> %d", int64(getNum(out, "to")))
		if from, ok := out["from"].(float64); ok {
			route = fmt.Sprintf("%d %s", int64(from), route)
		}

		result := shortHash(getStr(out, "txHash"))
		if accepted, _ := out["accepted"].(bool); !accepted {
			result = "rejected " + getStr(out, "errorKind")
		}

		lines += fmt.Sprintf("\n  [%d] %-8s %-10s %s %s  %s",
			int64(getNum(out, "seq")), getStr(out, "kind"), route,
			getStr(out, "amount"), getStr(out, "token"), result)
	}

	return lines
}

// Helper functions
func getStr(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getNum(m map[string]any, key string) float64 {
	if v, ok := m[key]; ok {
		if n, ok := v.(float64); ok {
			return n
		}
	}
	return 0
}

func formatTime(s string) string {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return t.Format(time.DateTime)
}

// formatSeed prints seeds without float rounding noise.
func formatSeed(v any) string {
	switch s := v.(type) {
	case float64:
		return fmt.Sprintf("%.0f", s)
	case nil:
		return "-"
	default:
		return fmt.Sprint(s)
	}
}

func shortHash(h string) string {
	if len(h) <= 18 {
		return h
	}
	return h[:18] + "..."
}
