package mcp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// formatNumber renders a JSON number for humans: whole values with
// thousands separators, anything else with one decimal.
func formatNumber(v float64) string {
	if v != math.Trunc(v) || math.Abs(v) >= 1<<63 {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	digits := strconv.FormatInt(int64(math.Abs(v)), 10)

	var b strings.Builder
	if v < 0 {
		b.WriteByte('-')
	}
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return b.String()
}

// kv is one "key: value" line; values line up in a column.
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

func section(title string) string {
	return "## " + title
}

// joinLines drops empty lines so optional parts can be passed as "".
func joinLines(lines ...string) string {
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func formatPct(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}

func formatMs(ms float64) string {
	return strconv.FormatFloat(ms, 'f', 1, 64) + "ms"
}
