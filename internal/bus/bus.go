// Package bus implements the append-only communication log and the
// per-recipient polling view over it.
//
// Broadcasts are stored once and matched at poll time; the bus keeps no
// per-consumer delivery state. Consumers track their own position with the
// sequence cursor and deduplicate on message id.
//
// A Bus is not safe for concurrent use; the hub serializes access.
package bus

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/warren/pkg/comms"
)

// DefaultRetention is the number of messages kept when none is configured.
const DefaultRetention = 1000

// Bus is the in-memory communication log, ordered by sequence number.
type Bus struct {
	log       []comms.Message
	retention int
	seq       uint64    // last sequence number issued; survives Clear
	total     uint64    // messages sent since the last Clear
	lastTime  time.Time // timestamps never go backwards
}

// New creates a bus that retains at most retention messages.
// A non-positive retention uses DefaultRetention.
func New(retention int) *Bus {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Bus{retention: retention}
}

// Send appends a message from one agent to another, or to every other agent
// when to is empty or comms.BroadcastSentinel.
// Returns comms.ErrSelfAddress if a direct message is addressed to its sender.
func (b *Bus) Send(from, to, body string, now time.Time) (comms.Message, error) {
	return b.Reply(from, to, "", body, now)
}

// Reply is Send for a message answering the message with id inReplyTo.
// An empty inReplyTo makes it a plain Send.
func (b *Bus) Reply(from, to, inReplyTo, body string, now time.Time) (comms.Message, error) {
	if from == "" {
		return comms.Message{}, fmt.Errorf("%w: from_agent is required", comms.ErrMalformedRequest)
	}
	if from == comms.BroadcastSentinel {
		return comms.Message{}, fmt.Errorf("%w: %q cannot send", comms.ErrMalformedRequest, comms.BroadcastSentinel)
	}

	kind := comms.KindDirect
	if to == "" || to == comms.BroadcastSentinel {
		to = comms.BroadcastSentinel
		kind = comms.KindBroadcast
	}
	if kind == comms.KindDirect && from == to {
		return comms.Message{}, comms.ErrSelfAddress
	}
	if inReplyTo != "" {
		if _, err := uuid.Parse(inReplyTo); err != nil {
			return comms.Message{}, fmt.Errorf("%w: in_reply_to must be a message id", comms.ErrMalformedRequest)
		}
	}

	if now.Before(b.lastTime) {
		now = b.lastTime
	}
	b.lastTime = now
	b.seq++
	b.total++

	msg := comms.Message{
		ID:        uuid.NewString(),
		Seq:       b.seq,
		FromAgent: from,
		ToAgent:   to,
		Body:      body,
		Timestamp: now,
		Kind:      kind,
		InReplyTo: inReplyTo,
	}
	b.log = append(b.log, msg)
	b.trim()

	return msg, nil
}

// Query selects messages for one recipient.
type Query struct {
	AgentID string    // Recipient
	After   uint64    // Only messages with Seq > After
	Since   time.Time // Broadcasts sent before Since are not visible (typically the agent's registration time)
	Limit   int       // Maximum number of messages; non-positive means 1
}

// Poll returns the oldest messages matching q in ascending sequence order.
// Poll has no side effects: the same query returns the same messages until
// they are trimmed or cleared.
func (b *Bus) Poll(q Query) []comms.Message {
	limit := q.Limit
	if limit <= 0 {
		limit = 1
	}

	start := sort.Search(len(b.log), func(i int) bool { return b.log[i].Seq > q.After })

	out := make([]comms.Message, 0, limit)
	for i := start; i < len(b.log) && len(out) < limit; i++ {
		msg := b.log[i]
		if !msg.IsFor(q.AgentID) {
			continue
		}
		if msg.Kind == comms.KindBroadcast && msg.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// Recent returns up to limit of the newest messages, newest first.
// A non-positive limit returns the whole retained log.
func (b *Bus) Recent(limit int) []comms.Message {
	if limit <= 0 || limit > len(b.log) {
		limit = len(b.log)
	}

	out := make([]comms.Message, 0, limit)
	for i := len(b.log) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.log[i])
	}
	return out
}

// Clear drops every retained message and resets the communication counter.
// Sequence numbers keep increasing so cursors held by consumers stay valid.
func (b *Bus) Clear() {
	b.log = nil
	b.total = 0
}

// Restore loads persisted messages, keeping the newest that fit the retention
// bound. The sequence counter resumes after head or the highest restored
// message, whichever is greater, so numbers issued before a Clear are never
// reused.
func (b *Bus) Restore(msgs []*comms.Message, head uint64) {
	if head > b.seq {
		b.seq = head
	}

	restored := make([]comms.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		restored = append(restored, *m)
	}
	sort.Slice(restored, func(i, j int) bool { return restored[i].Seq < restored[j].Seq })

	b.log = restored
	b.trim()
	b.total = uint64(len(b.log))
	if n := len(b.log); n > 0 {
		last := b.log[n-1]
		if last.Seq > b.seq {
			b.seq = last.Seq
		}
		if last.Timestamp.After(b.lastTime) {
			b.lastTime = last.Timestamp
		}
	}
}

// Head returns the sequence number of the last message issued, or 0.
func (b *Bus) Head() uint64 {
	return b.seq
}

// Len returns the number of retained messages.
func (b *Bus) Len() int {
	return len(b.log)
}

// Total returns the number of messages sent since the last Clear.
func (b *Bus) Total() uint64 {
	return b.total
}

// Retention returns the maximum number of retained messages.
func (b *Bus) Retention() int {
	return b.retention
}

func (b *Bus) trim() {
	if over := len(b.log) - b.retention; over > 0 {
		b.log = append([]comms.Message(nil), b.log[over:]...)
	}
}
