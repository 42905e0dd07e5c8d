package format

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/pkg/comms"
)

var now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func init() {
	color.NoColor = true
}

func sampleMessages() []comms.Message {
	return []comms.Message{
		{ID: "11111111-aaaa-4aaa-8aaa-aaaaaaaaaaaa", Seq: 1, FromAgent: "alpha", ToAgent: "beta", Body: "hello", Timestamp: now.Add(-2 * time.Hour), Kind: comms.KindDirect},
		{ID: "22222222-bbbb-4bbb-8bbb-bbbbbbbbbbbb", Seq: 2, FromAgent: "beta", ToAgent: comms.BroadcastSentinel, Body: "\n\n  all hands\nsecond line", Timestamp: now.Add(-30 * time.Minute), Kind: comms.KindBroadcast},
		{ID: "33333333-cccc-4ccc-8ccc-cccccccccccc", Seq: 3, FromAgent: "gamma", ToAgent: "alpha", Body: strings.Repeat("x", 60), Timestamp: now.Add(-5 * time.Second), Kind: comms.KindDirect},
	}
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatTable, f)

	f, err = ParseOutputFormat("jsonl")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSONL, f)

	_, err = ParseOutputFormat("yaml")
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	msgs := sampleMessages()

	tests := []struct {
		name string
		fc   *FilterCriteria
		want []uint64
	}{
		{"nil filter", nil, []uint64{1, 2, 3}},
		{"since", &FilterCriteria{Since: now.Add(-time.Hour)}, []uint64{2, 3}},
		{"until", &FilterCriteria{Until: now.Add(-time.Hour)}, []uint64{1}},
		{"agent matches sender or recipient", &FilterCriteria{Agent: "alpha"}, []uint64{1, 3}},
		{"kind", &FilterCriteria{Kind: comms.KindBroadcast}, []uint64{2}},
		{"combined", &FilterCriteria{Agent: "alpha", Since: now.Add(-time.Hour)}, []uint64{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []uint64
			for _, m := range Filter(msgs, tt.fc) {
				got = append(got, m.Seq)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMessagesTable(t *testing.T) {
	var buf bytes.Buffer
	n := MessagesTable(&buf, sampleMessages(), now)
	assert.Equal(t, 3, n)

	out := buf.String()
	assert.Contains(t, out, "SEQ")
	assert.Contains(t, out, "11111111 ")
	assert.Contains(t, out, "2h ago")
	assert.Contains(t, out, "30m ago")
	assert.Contains(t, out, "5s ago")
	assert.Contains(t, out, "all hands", "first non-empty line")
	assert.NotContains(t, out, "second line")
	assert.Contains(t, out, strings.Repeat("x", 37)+"...")
	assert.Contains(t, out, "3 communications")
}

func TestMessagesTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	assert.Zero(t, MessagesTable(&buf, nil, now))
	assert.Contains(t, buf.String(), "No communications found")
}

func TestMessageLine_Broadcast(t *testing.T) {
	line := MessageLine(sampleMessages()[1], now)
	assert.Contains(t, line, " * ")
	assert.NotContains(t, line, comms.BroadcastSentinel)
}

func TestAgentsTable(t *testing.T) {
	agents := []comms.Agent{
		{
			ID: "alpha", Name: "Alpha", Status: comms.StatusOnline,
			LastHeartbeat: now.Add(-10 * time.Second),
			Capabilities:  []string{"search", "summarise"},
			Activity:      &comms.Activity{State: "busy", Detail: "indexing"},
		},
		{ID: "beta", Status: comms.StatusOffline, LastHeartbeat: now.Add(-3 * 24 * time.Hour)},
	}

	var buf bytes.Buffer
	assert.Equal(t, 2, AgentsTable(&buf, agents, now))

	out := buf.String()
	assert.Contains(t, out, "online")
	assert.Contains(t, out, "offline")
	assert.Contains(t, out, "10s ago")
	assert.Contains(t, out, "3d ago")
	assert.Contains(t, out, "busy: indexing")
	assert.Contains(t, out, "search,summarise")
	assert.Contains(t, out, "2 agents")
}

func TestStatsTable(t *testing.T) {
	var buf bytes.Buffer
	StatsTable(&buf, comms.Stats{TotalCommunications: 7, ActiveAgents: 1, TotalAgents: 3, CallCount: 42, LogLength: 7})
	out := buf.String()
	assert.Contains(t, out, "1/3")
	assert.Contains(t, out, "42")
}

func TestJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSONL(&buf, sampleMessages()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var first comms.Message
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, "hello", first.Body)
}
