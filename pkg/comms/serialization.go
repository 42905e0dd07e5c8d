package comms

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Serialization helpers for converting between Go structs and Redis hashes.
//
// Timestamps are stored as RFC 3339 strings with nanosecond precision so that
// restored records order exactly as they did in memory. Slices and nested
// records are JSON-encoded into single fields.

// AgentToHash converts an Agent to Redis hash format.
func AgentToHash(a *Agent) (map[string]interface{}, error) {
	capabilities := a.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	capabilitiesJSON, err := json.Marshal(capabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	activityJSON := ""
	if a.Activity != nil {
		b, err := json.Marshal(a.Activity)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal activity: %w", err)
		}
		activityJSON = string(b)
	}

	return map[string]interface{}{
		"id":             a.ID,
		"name":           a.Name,
		"description":    a.Description,
		"capabilities":   string(capabilitiesJSON),
		"status":         string(a.Status),
		"last_heartbeat": formatTime(a.LastHeartbeat),
		"registered_at":  formatTime(a.RegisteredAt),
		"activity":       activityJSON,
	}, nil
}

// HashToAgent converts a Redis hash to an Agent.
func HashToAgent(hash map[string]string) (*Agent, error) {
	if hash["id"] == "" {
		return nil, fmt.Errorf("agent hash is missing id")
	}

	status := Status(hash["status"])
	if err := status.Validate(); err != nil {
		return nil, fmt.Errorf("invalid status field: %w", err)
	}

	var capabilities []string
	if raw := hash["capabilities"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &capabilities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
	}
	if capabilities == nil {
		capabilities = []string{}
	}

	lastHeartbeat, err := parseTime(hash["last_heartbeat"])
	if err != nil {
		return nil, fmt.Errorf("invalid last_heartbeat field: %w", err)
	}
	registeredAt, err := parseTime(hash["registered_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid registered_at field: %w", err)
	}

	var activity *Activity
	if raw := hash["activity"]; raw != "" {
		activity = &Activity{}
		if err := json.Unmarshal([]byte(raw), activity); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activity: %w", err)
		}
	}

	return &Agent{
		ID:            hash["id"],
		Name:          hash["name"],
		Description:   hash["description"],
		Capabilities:  capabilities,
		Status:        status,
		LastHeartbeat: lastHeartbeat,
		RegisteredAt:  registeredAt,
		Activity:      activity,
	}, nil
}

// MessageToHash converts a Message to Redis hash format.
func MessageToHash(m *Message) map[string]interface{} {
	return map[string]interface{}{
		"id":          m.ID,
		"seq":         strconv.FormatUint(m.Seq, 10),
		"from_agent":  m.FromAgent,
		"to_agent":    m.ToAgent,
		"body":        m.Body,
		"timestamp":   formatTime(m.Timestamp),
		"kind":        string(m.Kind),
		"in_reply_to": m.InReplyTo,
	}
}

// HashToMessage converts a Redis hash to a Message.
func HashToMessage(hash map[string]string) (*Message, error) {
	seq, err := strconv.ParseUint(hash["seq"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid seq field: %w", err)
	}
	ts, err := parseTime(hash["timestamp"])
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp field: %w", err)
	}

	m := &Message{
		ID:        hash["id"],
		Seq:       seq,
		FromAgent: hash["from_agent"],
		ToAgent:   hash["to_agent"],
		Body:      hash["body"],
		Timestamp: ts,
		Kind:      Kind(hash["kind"]),
		InReplyTo: hash["in_reply_to"],
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	return m, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
