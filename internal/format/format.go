// Package format renders agents, communications and stats for the operator CLI.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/comms"
)

// OutputFormat specifies how to format list output.
type OutputFormat string

const (
	// OutputFormatTable uses a table format with truncated bodies
	OutputFormatTable OutputFormat = "table"

	// OutputFormatJSONL outputs complete records as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatTable, "":
		return OutputFormatTable, nil
	case OutputFormatJSONL:
		return OutputFormatJSONL, nil
	}
	return "", fmt.Errorf("unknown output format: %s (must be 'table' or 'jsonl')", s)
}

// FilterCriteria narrows a communication listing. All filters are ANDed together.
type FilterCriteria struct {
	Since time.Time  // Zero = no lower bound
	Until time.Time  // Zero = no upper bound
	Agent string     // Sender or recipient, empty = no filter
	Kind  comms.Kind // Empty = both kinds
}

// Matches reports whether m passes every filter.
func (fc *FilterCriteria) Matches(m *comms.Message) bool {
	if !fc.Since.IsZero() && m.Timestamp.Before(fc.Since) {
		return false
	}
	if !fc.Until.IsZero() && m.Timestamp.After(fc.Until) {
		return false
	}
	if fc.Agent != "" && m.FromAgent != fc.Agent && m.ToAgent != fc.Agent {
		return false
	}
	if fc.Kind != "" && m.Kind != fc.Kind {
		return false
	}
	return true
}

// Filter returns the messages matching fc, in their original order.
func Filter(msgs []comms.Message, fc *FilterCriteria) []comms.Message {
	if fc == nil {
		return msgs
	}
	out := make([]comms.Message, 0, len(msgs))
	for i := range msgs {
		if fc.Matches(&msgs[i]) {
			out = append(out, msgs[i])
		}
	}
	return out
}

// AgentsTable writes agents as a table. Returns the number of agents written.
func AgentsTable(w io.Writer, agents []comms.Agent, now time.Time) int {
	if len(agents) == 0 {
		fmt.Fprintln(w, "No agents registered")
		return 0
	}

	fmt.Fprintf(w, "%-16s %-18s %-8s %-10s %-22s %s\n",
		"ID", "NAME", "STATUS", "HEARTBEAT", "ACTIVITY", "CAPABILITIES")
	fmt.Fprintf(w, "%-16s %-18s %-8s %-10s %-22s %s\n",
		"----------------", "------------------", "--------", "----------", "----------------------", "------------")

	for _, a := range agents {
		// Pad before colouring so escape codes don't break alignment.
		status := printer.Status(a.Status, fmt.Sprintf("%-8s", a.Status))
		fmt.Fprintf(w, "%-16s %-18s %s %-10s %-22s %s\n",
			truncate(a.ID, 16),
			truncate(dash(a.Name), 18),
			status,
			formatAge(a.LastHeartbeat, now),
			truncate(formatActivity(a.Activity), 22),
			dash(strings.Join(a.Capabilities, ",")),
		)
	}

	fmt.Fprintf(w, "\n%d %s\n", len(agents), plural(len(agents), "agent", "agents"))
	return len(agents)
}

// MessagesTable writes communications as a table. Returns the number written.
func MessagesTable(w io.Writer, msgs []comms.Message, now time.Time) int {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No communications found")
		return 0
	}

	fmt.Fprintf(w, "%-6s %-8s %-14s %-14s %-8s %s\n",
		"SEQ", "ID", "FROM", "TO", "AGE", "BODY")
	fmt.Fprintf(w, "%-6s %-8s %-14s %-14s %-8s %s\n",
		"------", "--------", "--------------", "--------------", "--------", "----------------------------------------")

	for _, m := range msgs {
		fmt.Fprintln(w, MessageLine(m, now))
	}

	fmt.Fprintf(w, "\n%d %s\n", len(msgs), plural(len(msgs), "communication", "communications"))
	return len(msgs)
}

// MessageLine renders one communication as a table row.
func MessageLine(m comms.Message, now time.Time) string {
	to := m.ToAgent
	if m.Kind == comms.KindBroadcast {
		to = "*"
	}
	return fmt.Sprintf("%-6d %-8s %-14s %-14s %-8s %s",
		m.Seq,
		shortID(m.ID),
		truncate(m.FromAgent, 14),
		truncate(to, 14),
		formatAge(m.Timestamp, now),
		formatBody(m.Body),
	)
}

// StatsTable writes hub statistics as aligned key/value lines.
func StatsTable(w io.Writer, s comms.Stats) {
	fmt.Fprintf(w, "%-22s %d\n", "Communications:", s.TotalCommunications)
	fmt.Fprintf(w, "%-22s %d\n", "Log length:", s.LogLength)
	fmt.Fprintf(w, "%-22s %d/%d\n", "Agents online:", s.ActiveAgents, s.TotalAgents)
	fmt.Fprintf(w, "%-22s %d\n", "Requests served:", s.CallCount)
}

// JSONL writes each item as a single-line JSON object.
func JSONL[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// formatBody truncates a body to its first non-empty line, 40 characters at most.
func formatBody(body string) string {
	var first string
	for _, line := range strings.Split(body, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			first = trimmed
			break
		}
	}
	if first == "" {
		return "-"
	}
	return truncate(first, 40)
}

func formatActivity(a *comms.Activity) string {
	if a == nil {
		return "-"
	}
	if a.Detail == "" {
		return a.State
	}
	return a.State + ": " + a.Detail
}

// formatAge shows relative time like "2m ago".
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := now.Sub(t)
	if diff < 0 {
		diff = 0
	}

	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

// shortID keeps the first 8 characters of a uuid.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
