// Package runtime drives one agent's participation in the hub: registration,
// heartbeats, message consumption and replies, queued tasks and the periodic
// autonomous cycle. All of it runs as a single cooperative loop; nothing in
// one iteration overlaps with the next.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dyluth/warren/internal/dedup"
	"github.com/dyluth/warren/pkg/comms"
)

// Hub is the subset of the hub transport the runtime uses.
// *hubclient.Client implements it.
type Hub interface {
	Register(ctx context.Context, reg comms.Registration) (comms.RegisterAck, error)
	Heartbeat(ctx context.Context, agentID string) (comms.HeartbeatAck, error)
	SetActivity(ctx context.Context, agentID, state, detail string) (comms.Agent, error)
	Send(ctx context.Context, from, to, body string) (comms.SendReceipt, error)
	Reply(ctx context.Context, from, to, inReplyTo, body string) (comms.SendReceipt, error)
	Poll(ctx context.Context, agentID string, after uint64, limit int, wait time.Duration) ([]comms.Message, error)
	Stats(ctx context.Context) (comms.Stats, error)
}

// Outcome describes what Process did with a message.
type Outcome string

const (
	OutcomeReplied   Outcome = "replied"   // A reply was sent to the sender
	OutcomeDuplicate Outcome = "duplicate" // Already handled; nothing was done
	OutcomeIgnored   Outcome = "ignored"   // The message is itself a reply and gets no answer
	OutcomeSkipped   Outcome = "skipped"   // No reply this turn (rate limited or backend failure)
	OutcomeFailed    Outcome = "failed"    // The reply could not be delivered
)

// Runtime is one agent's client loop.
type Runtime struct {
	cfg       *Config
	hub       Hub
	responder Responder
	dedup     *dedup.Guard
	tasks     *TaskQueue
	logger    *slog.Logger
	now       func() time.Time

	// Loop state, touched only by the loop goroutine.
	cursor    uint64
	epoch     string
	lastPoll  time.Time
	cycleSlot int64
	cycles    int

	mu      sync.Mutex // guards state and lastErr for health reads
	state   State
	lastErr error
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// New creates a runtime. cfg must already be validated; zero fields take defaults.
func New(cfg *Config, hub Hub, responder Responder, opts ...Option) *Runtime {
	cfg.ApplyDefaults()
	r := &Runtime{
		cfg:       cfg,
		hub:       hub,
		responder: responder,
		dedup:     dedup.New(cfg.DedupCapacity),
		tasks:     NewTaskQueue(),
		now:       time.Now,
		state:     StateUnregistered,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "runtime", "agent_id", cfg.AgentID)
	return r
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastError returns the error from the most recent failed step, or nil.
func (r *Runtime) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Tasks returns the runtime's task queue.
func (r *Runtime) Tasks() *TaskQueue {
	return r.tasks
}

// Enqueue queues a task for a later loop iteration.
func (r *Runtime) Enqueue(payload TaskPayload) Task {
	return r.tasks.Push(payload, r.now())
}

// Run registers with the hub and loops until ctx is cancelled. Registration is
// retried with bounded exponential backoff for as long as ctx lives. Run
// returns nil after a clean shutdown; a runtime cannot be run twice.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.transition(StateRegistering); err != nil {
		return err
	}

	if err := r.registerWithRetry(ctx); err != nil {
		r.stop()
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if err := r.transition(StateActive); err != nil {
		return err
	}

	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		r.Tick(ctx)

		select {
		case <-ctx.Done():
			r.stop()
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runtime) stop() {
	if err := r.transition(StateShuttingDown); err != nil {
		r.logger.Warn("shutdown", "error", err)
		return
	}

	// Best-effort farewell; the parent context is already gone.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := r.hub.SetActivity(ctx, r.cfg.AgentID, "stopped", "runtime shut down"); err != nil {
		r.logger.Debug("failed to report shutdown", "error", err)
	}

	_ = r.transition(StateStopped)
}

func (r *Runtime) registerWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RegisterBackoff
	b.MaxInterval = r.cfg.RegisterMaxBackoff
	b.MaxElapsedTime = 0

	op := func() error {
		err := r.register(ctx)
		if errors.Is(err, comms.ErrMalformedRequest) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("registration failed, retrying", "error", err, "retry_in", wait)
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

// register performs one registration and resets the poll cursor to the hub's head.
func (r *Runtime) register(ctx context.Context) error {
	ack, err := r.hub.Register(ctx, comms.Registration{
		ID:           r.cfg.AgentID,
		Name:         r.cfg.Name,
		Description:  r.cfg.Description,
		Capabilities: r.cfg.Capabilities,
	})
	if err != nil {
		r.setErr(err)
		return fmt.Errorf("failed to register: %w", err)
	}

	r.cursor = ack.Head
	r.epoch = ack.Epoch
	if r.cfg.AutonomousPeriod > 0 {
		r.cycleSlot = r.slot(r.now())
	}
	r.setErr(nil)
	r.logger.Info("registered", "head", ack.Head)
	return nil
}

// Tick runs one loop iteration: heartbeat, poll if due, at most one task, and
// the autonomous cycle if a new period slot has started. Failures are logged
// and never end the loop.
func (r *Runtime) Tick(ctx context.Context) {
	now := r.now()

	if err := r.heartbeat(ctx); err != nil {
		r.logger.Warn("heartbeat failed", "error", err)
	}

	if r.lastPoll.IsZero() || now.Sub(r.lastPoll) >= r.cfg.PollInterval {
		r.lastPoll = now
		if err := r.poll(ctx); err != nil {
			r.logger.Warn("poll failed", "error", err)
		}
	}

	if task, ran := r.RunNextTask(ctx); ran && task.Status == TaskFailed {
		r.logger.Warn("task failed", "task_id", task.ID, "kind", task.Kind, "error", task.Error)
	}

	if r.cfg.AutonomousPeriod > 0 {
		if slot := r.slot(now); slot != r.cycleSlot {
			r.cycleSlot = slot
			r.autonomousCycle()
		}
	}
}

// heartbeat re-registers if the hub has forgotten this agent.
func (r *Runtime) heartbeat(ctx context.Context) error {
	ack, err := r.hub.Heartbeat(ctx, r.cfg.AgentID)
	if err == nil {
		r.observeEpoch(ack.Epoch, ack.Base)
		return nil
	}
	r.setErr(err)
	if !errors.Is(err, comms.ErrNotFound) {
		return err
	}

	r.logger.Warn("hub does not know this agent, re-registering")
	return r.register(ctx)
}

// observeEpoch rewinds the cursor when the hub restarted behind it. A restart
// that lost unflushed writes hands out sequence numbers at or below the
// cursor again; everything past base is new to this hub process.
func (r *Runtime) observeEpoch(epoch string, base uint64) {
	if epoch == "" || epoch == r.epoch {
		return
	}
	r.epoch = epoch
	if base < r.cursor {
		r.logger.Warn("hub restarted behind poll cursor, rewinding", "cursor", r.cursor, "base", base)
		r.cursor = base
	}
}

func (r *Runtime) poll(ctx context.Context) error {
	msgs, err := r.hub.Poll(ctx, r.cfg.AgentID, r.cursor, r.cfg.PollLimit, r.cfg.PollWait)
	if err != nil {
		r.setErr(err)
		if errors.Is(err, comms.ErrNotFound) {
			return r.register(ctx)
		}
		return err
	}

	for _, msg := range msgs {
		if msg.Seq > r.cursor {
			r.cursor = msg.Seq
		}
		outcome, err := r.Process(ctx, msg)
		if err != nil {
			r.logger.Warn("message not answered", "id", msg.ID, "from", msg.FromAgent, "outcome", outcome, "error", err)
			continue
		}
		r.logger.Debug("message processed", "id", msg.ID, "from", msg.FromAgent, "outcome", outcome)
	}
	return nil
}

// Process handles one message at most once. A message id already seen returns
// OutcomeDuplicate with no side effects. Otherwise the id is marked, a reply is
// generated and sent to the sender. Replies are never answered, so two agents
// cannot keep a conversation going on their own. If the responder is rate
// limited or the backend fails, no reply is sent for this message.
func (r *Runtime) Process(ctx context.Context, msg comms.Message) (Outcome, error) {
	if r.dedup.CheckAndMark(msg.ID) {
		return OutcomeDuplicate, nil
	}
	if msg.FromAgent == r.cfg.AgentID {
		return OutcomeSkipped, fmt.Errorf("%w: message %s is from this agent", comms.ErrSelfAddress, msg.ID)
	}
	if msg.IsReply() {
		return OutcomeIgnored, nil
	}

	reply, err := r.responder.Respond(ctx, r.prompt(msg))
	if err != nil {
		r.setErr(err)
		return OutcomeSkipped, err
	}

	if _, err := r.hub.Reply(ctx, r.cfg.AgentID, msg.FromAgent, msg.ID, reply); err != nil {
		r.setErr(err)
		return OutcomeFailed, fmt.Errorf("failed to send reply: %w", err)
	}
	return OutcomeReplied, nil
}

func (r *Runtime) prompt(msg comms.Message) string {
	intro := fmt.Sprintf("You are %s", r.cfg.Name)
	if r.cfg.Description != "" {
		intro += ", " + r.cfg.Description
	}
	scope := "directly"
	if msg.Kind == comms.KindBroadcast {
		scope = "to all agents"
	}
	return fmt.Sprintf("%s.\nAgent %s wrote %s:\n%s\nReply briefly.", intro, msg.FromAgent, scope, msg.Body)
}

// RunNextTask executes the oldest pending task, if any.
func (r *Runtime) RunNextTask(ctx context.Context) (Task, bool) {
	t, ok := r.tasks.pop()
	if !ok {
		return Task{}, false
	}

	result, err := r.execute(ctx, t.Payload)
	t.CompletedAt = r.now()
	if err != nil {
		t.Status = TaskFailed
		t.Error = err.Error()
	} else {
		t.Status = TaskCompleted
		t.Result = result
	}
	r.tasks.finish(t)
	return *t, true
}

func (r *Runtime) execute(ctx context.Context, payload TaskPayload) (string, error) {
	switch p := payload.(type) {
	case RelayTask:
		receipt, err := r.hub.Send(ctx, r.cfg.AgentID, p.To, p.Body)
		if err != nil {
			return "", err
		}
		return receipt.ID, nil

	case BroadcastTask:
		receipt, err := r.hub.Send(ctx, r.cfg.AgentID, comms.BroadcastSentinel, p.Body)
		if err != nil {
			return "", err
		}
		return receipt.ID, nil

	case StatusReportTask:
		stats, err := r.hub.Stats(ctx)
		if err != nil {
			return "", err
		}
		summary := fmt.Sprintf("%d/%d agents online, %d communications",
			stats.ActiveAgents, stats.TotalAgents, stats.TotalCommunications)
		if _, err := r.hub.SetActivity(ctx, r.cfg.AgentID, "reporting", summary); err != nil {
			return "", err
		}
		return summary, nil

	case PromptTask:
		out, err := r.responder.Respond(ctx, p.Prompt)
		if err != nil {
			return "", err
		}
		if p.ReplyTo != "" {
			if _, err := r.hub.Send(ctx, r.cfg.AgentID, p.ReplyTo, out); err != nil {
				return "", err
			}
		}
		return out, nil

	default:
		return "", fmt.Errorf("unsupported task payload %T", payload)
	}
}

// autonomousCycle queues the periodic self-report.
func (r *Runtime) autonomousCycle() {
	r.cycles++
	t := r.Enqueue(StatusReportTask{})
	r.logger.Info("autonomous cycle", "cycle", r.cycles, "task_id", t.ID)
}

func (r *Runtime) slot(t time.Time) int64 {
	return t.UnixNano() / int64(r.cfg.AutonomousPeriod)
}

func (r *Runtime) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = err
}
