// Package comms provides the shared types, error taxonomy and Redis schema for
// the warren coordination hub. Every component (hub, agent runtime, CLI) speaks
// in terms of the records defined here: agents with liveness state, and
// communications exchanged between them.
//
// Redis keys are namespaced by instance name so that several hubs can share a
// single Redis server without colliding.
package comms

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BroadcastSentinel is the reserved recipient meaning "every agent except the sender".
// It can never be registered as an agent id.
const BroadcastSentinel = "broadcast"

// Agent is the hub's identity and liveness record for one worker process.
type Agent struct {
	ID            string    `json:"id"`                 // Unique, stable identifier chosen by the agent
	Name          string    `json:"name"`               // Human-readable name
	Description   string    `json:"description"`        // Free-form description
	Capabilities  []string  `json:"capabilities"`       // Advertised capabilities
	Status        Status    `json:"status"`             // Current liveness state
	LastHeartbeat time.Time `json:"last_heartbeat"`     // Updated only by heartbeat or registration
	RegisteredAt  time.Time `json:"registered_at"`      // Set once, on first registration
	Activity      *Activity `json:"activity,omitempty"` // Last reported qualitative activity
}

// Activity is a qualitative state reported by an agent, independent of its liveness timer.
type Activity struct {
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status is the liveness state of an agent.
type Status string

const (
	// StatusOnline means the agent heartbeated within the timeout.
	StatusOnline Status = "online"

	// StatusWarning is set explicitly by an agent or operator to flag degradation.
	StatusWarning Status = "warning"

	// StatusOffline is set by the sweep once heartbeats stop, or explicitly.
	StatusOffline Status = "offline"
)

// Validate checks that the status is one of the known values.
func (s Status) Validate() error {
	switch s {
	case StatusOnline, StatusWarning, StatusOffline:
		return nil
	default:
		return fmt.Errorf("unknown status: %q", s)
	}
}

// Kind distinguishes point-to-point messages from broadcasts.
type Kind string

const (
	KindDirect    Kind = "direct"
	KindBroadcast Kind = "broadcast"
)

// Validate checks that the kind is one of the known values.
func (k Kind) Validate() error {
	switch k {
	case KindDirect, KindBroadcast:
		return nil
	default:
		return fmt.Errorf("unknown message kind: %q", k)
	}
}

// Message is a single communication recorded on the bus. Messages are immutable once sent.
type Message struct {
	ID        string    `json:"id"`         // UUID assigned by the bus
	Seq       uint64    `json:"seq"`        // Monotonic position in the log, never reused
	FromAgent string    `json:"from_agent"` // Sender id
	ToAgent   string    `json:"to_agent"`   // Recipient id, or BroadcastSentinel
	Body      string    `json:"body"`       // Text payload
	Timestamp time.Time `json:"timestamp"`  // Assigned by the bus at send time
	Kind      Kind      `json:"kind"`
	InReplyTo string    `json:"in_reply_to,omitempty"` // Id of the message this answers, if any
}

// Validate checks the structural invariants of a message.
func (m *Message) Validate() error {
	if !isValidUUID(m.ID) {
		return fmt.Errorf("%w: message id must be a UUID, got %q", ErrMalformedRequest, m.ID)
	}
	if m.FromAgent == "" {
		return fmt.Errorf("%w: from_agent is required", ErrMalformedRequest)
	}
	if m.ToAgent == "" {
		return fmt.Errorf("%w: to_agent is required", ErrMalformedRequest)
	}
	if err := m.Kind.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if m.Kind == KindBroadcast && m.ToAgent != BroadcastSentinel {
		return fmt.Errorf("%w: broadcast must be addressed to %q", ErrMalformedRequest, BroadcastSentinel)
	}
	if m.Kind == KindDirect && m.FromAgent == m.ToAgent {
		return ErrSelfAddress
	}
	if m.InReplyTo != "" && !isValidUUID(m.InReplyTo) {
		return fmt.Errorf("%w: in_reply_to must be a UUID, got %q", ErrMalformedRequest, m.InReplyTo)
	}
	return nil
}

// IsReply reports whether the message answers another message.
func (m *Message) IsReply() bool {
	return m.InReplyTo != ""
}

// IsFor reports whether the message is visible to the given agent: addressed
// to it directly, or a broadcast it did not send itself.
func (m *Message) IsFor(agentID string) bool {
	if m.Kind == KindBroadcast {
		return m.FromAgent != agentID
	}
	return m.ToAgent == agentID
}

// Registration carries the descriptive fields an agent supplies when registering.
type Registration struct {
	ID           string   `json:"agent_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

// Normalize trims surrounding whitespace from the id, so " alpha" and
// "alpha" name the same agent.
func (r *Registration) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
}

// Validate checks the registration has a usable id.
func (r *Registration) Validate() error {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return fmt.Errorf("%w: agent_id is required", ErrMalformedRequest)
	}
	if id == BroadcastSentinel {
		return fmt.Errorf("%w: agent_id %q is reserved", ErrMalformedRequest, BroadcastSentinel)
	}
	return nil
}

// RegisterAck is returned by a successful registration. Head is the sequence
// number of the newest message at registration time, usable as a poll cursor.
// Epoch and Base are as in HeartbeatAck.
type RegisterAck struct {
	Agent Agent  `json:"agent"`
	Head  uint64 `json:"head"`
	Epoch string `json:"epoch"`
	Base  uint64 `json:"base"`
}

// HeartbeatAck is returned by a successful heartbeat.
//
// Epoch identifies the hub process and changes on every hub start. Base is
// the log head when that process started: every message issued since has a
// higher sequence number. A client whose cursor is past Base when the epoch
// changes holds a cursor the restarted hub never issued, and should rewind it
// to Base.
type HeartbeatAck struct {
	Agent Agent  `json:"agent"`
	Epoch string `json:"epoch"`
	Base  uint64 `json:"base"`
}

// SendReceipt is returned by a successful send.
type SendReceipt struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is the hub's derived read view.
type Stats struct {
	TotalCommunications uint64 `json:"total_communications"` // Messages sent since the last clear
	ActiveAgents        int    `json:"active_agents"`        // Agents currently online
	TotalAgents         int    `json:"total_agents"`         // All known agents
	CallCount           uint64 `json:"call_count"`           // Transport requests served
	LogLength           int    `json:"log_length"`           // Messages currently retained
}

// isValidUUID checks if a string is a valid UUID.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
