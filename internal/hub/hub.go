// Package hub composes the agent registry and the message bus into the
// coordination hub. It serializes every mutation behind one lock, runs the
// periodic liveness sweep, mirrors state to an optional durable store and
// exposes the whole surface over HTTP.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/warren/internal/bus"
	"github.com/dyluth/warren/internal/registry"
	"github.com/dyluth/warren/pkg/comms"
)

// Default settings used when a Config field is zero.
const (
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultSweepInterval    = 10 * time.Second
	DefaultMaxPoll          = 50
	DefaultMaxWait          = 30 * time.Second
)

// Config holds the hub's tunables.
type Config struct {
	HeartbeatTimeout time.Duration // Online agents silent for longer are marked offline
	SweepInterval    time.Duration // Period of the liveness sweep
	Retention        int           // Messages kept in the log
	MaxPoll          int           // Upper bound on a single poll's limit
	MaxWait          time.Duration // Upper bound on a long-poll wait
}

func (c Config) withDefaults() Config {
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Retention <= 0 {
		c.Retention = bus.DefaultRetention
	}
	if c.MaxPoll <= 0 {
		c.MaxPoll = DefaultMaxPoll
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	return c
}

// Hub is the single owner of registry and bus state.
// All exported methods are safe for concurrent use.
type Hub struct {
	mu       sync.Mutex
	cfg      Config
	registry *registry.Registry
	bus      *bus.Bus
	waiters  map[string]map[chan struct{}]struct{}

	// epoch names this hub process; base is the log head when it started.
	epoch string
	base  uint64

	closing   chan struct{}
	closeOnce sync.Once

	calls   atomic.Uint64
	now     func() time.Time
	store   Store
	persist *persister
	metrics *Metrics
	logger  *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithStore mirrors state to a durable store. Without one the hub is purely in-memory.
func WithStore(s Store) Option {
	return func(h *Hub) { h.store = s }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// WithLogger sets the hub's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithMetrics replaces the hub's metric set.
func WithMetrics(m *Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// New creates a hub with fresh registry and bus instances.
func New(cfg Config, opts ...Option) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:      cfg,
		registry: registry.New(),
		bus:      bus.New(cfg.Retention),
		waiters:  make(map[string]map[chan struct{}]struct{}),
		epoch:    uuid.NewString(),
		closing:  make(chan struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "hub")
	if h.metrics == nil {
		h.metrics = NewMetrics()
	}
	if h.store != nil {
		h.persist = newPersister(h.store, cfg.Retention, h.logger)
	}
	return h
}

// Config returns the effective configuration.
func (h *Hub) Config() Config {
	return h.cfg
}

// Metrics returns the hub's metric set.
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// Restore reloads agents, the newest retained messages and the sequence head
// from the store. It is a no-op without a store and must be called before Run.
func (h *Hub) Restore(ctx context.Context) error {
	if h.store == nil {
		return nil
	}

	agents, err := h.store.LoadAgents(ctx)
	if err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}
	messages, err := h.store.LoadMessages(ctx, h.cfg.Retention)
	if err != nil {
		return fmt.Errorf("failed to load communications: %w", err)
	}
	head, err := h.store.LoadHead(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sequence head: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.registry.Restore(agents)
	h.bus.Restore(messages, head)
	h.base = h.bus.Head()
	h.updateGaugesLocked()

	h.logger.Info("restored state from store",
		"agents", len(agents),
		"communications", h.bus.Len(),
		"head", h.base)
	return nil
}

// ReleaseWaiters ends every blocked long poll with an empty result and makes
// later polls return without waiting. Call it before shutting the transport
// down so in-flight polls do not hold the shutdown open.
func (h *Hub) ReleaseWaiters() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// Run starts the sweep timer and the store writer, and blocks until ctx is
// cancelled. Pending store writes are flushed before Run returns.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if h.persist != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.persist.run(ctx)
		}()
	}

	h.logger.Info("hub running",
		"sweep_interval", h.cfg.SweepInterval,
		"heartbeat_timeout", h.cfg.HeartbeatTimeout,
		"retention", h.cfg.Retention)

	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.ReleaseWaiters()
			wg.Wait()
			h.logger.Info("hub stopped")
			return nil
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Register upserts an agent and returns it with the current log head, which
// the agent can use as its initial poll cursor, and the hub's epoch.
func (h *Hub) Register(reg comms.Registration) (comms.RegisterAck, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	agent, err := h.registry.Register(reg, h.now())
	if err != nil {
		return comms.RegisterAck{}, err
	}
	h.saveAgentLocked(agent)
	h.updateGaugesLocked()

	h.logger.Info("agent registered", "agent_id", agent.ID, "name", agent.Name)
	return comms.RegisterAck{Agent: agent, Head: h.bus.Head(), Epoch: h.epoch, Base: h.base}, nil
}

// Heartbeat refreshes an agent's liveness and reports the hub's epoch.
// Returns comms.ErrNotFound for unknown agents.
func (h *Hub) Heartbeat(id string) (comms.HeartbeatAck, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	before, _ := h.registry.Get(id)
	agent, err := h.registry.Heartbeat(id, h.now())
	if err != nil {
		return comms.HeartbeatAck{}, err
	}
	if before.Status != agent.Status {
		h.logger.Info("agent back online", "agent_id", id, "was", before.Status)
		h.updateGaugesLocked()
	}
	h.saveAgentLocked(agent)

	h.logger.Debug("heartbeat", "agent_id", id)
	return comms.HeartbeatAck{Agent: agent, Epoch: h.epoch, Base: h.base}, nil
}

// SetActivity records an agent's qualitative activity state.
func (h *Hub) SetActivity(id, state, detail string) (comms.Agent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	agent, err := h.registry.SetActivity(id, state, detail, h.now())
	if err != nil {
		return comms.Agent{}, err
	}
	h.saveAgentLocked(agent)
	return agent, nil
}

// SetStatus sets an agent's status explicitly.
func (h *Hub) SetStatus(id string, status comms.Status) (comms.Agent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	agent, err := h.registry.SetStatus(id, status)
	if err != nil {
		return comms.Agent{}, err
	}
	h.saveAgentLocked(agent)
	h.updateGaugesLocked()

	h.logger.Info("agent status set", "agent_id", id, "status", status)
	return agent, nil
}

// ListAgents returns snapshots of every known agent.
func (h *Hub) ListAgents() []comms.Agent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.List()
}

// Send records a message. The sender must be registered and so must a direct
// recipient; an empty recipient or comms.BroadcastSentinel broadcasts.
func (h *Hub) Send(from, to, body string) (comms.SendReceipt, error) {
	return h.Reply(from, to, "", body)
}

// Reply records a message answering the message with id inReplyTo. An empty
// inReplyTo makes it a plain Send.
func (h *Hub) Reply(from, to, inReplyTo, body string) (comms.SendReceipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if from != "" && from == to {
		return comms.SendReceipt{}, comms.ErrSelfAddress
	}
	if _, ok := h.registry.Get(from); !ok && from != "" {
		return comms.SendReceipt{}, fmt.Errorf("%w: sender %s", comms.ErrNotFound, from)
	}
	if to != "" && to != comms.BroadcastSentinel {
		if _, ok := h.registry.Get(to); !ok {
			return comms.SendReceipt{}, fmt.Errorf("%w: recipient %s", comms.ErrNotFound, to)
		}
	}

	msg, err := h.bus.Reply(from, to, inReplyTo, body, h.now())
	if err != nil {
		return comms.SendReceipt{}, err
	}

	if h.persist != nil {
		saved := msg
		h.persist.enqueue(func(ctx context.Context, s Store) error {
			if err := s.SaveHead(ctx, saved.Seq); err != nil {
				return err
			}
			return s.SaveMessage(ctx, &saved)
		})
	}
	h.metrics.messagesSent.WithLabelValues(string(msg.Kind)).Inc()
	h.metrics.logLength.Set(float64(h.bus.Len()))
	h.notifyLocked(&msg)

	h.logger.Debug("message sent", "id", msg.ID, "from", msg.FromAgent, "to", msg.ToAgent, "kind", msg.Kind)
	return comms.SendReceipt{ID: msg.ID, Seq: msg.Seq, Timestamp: msg.Timestamp}, nil
}

// PollRequest describes one poll.
type PollRequest struct {
	AgentID string
	After   uint64        // Cursor: only messages with a higher sequence number
	Limit   int           // Non-positive means 1; capped at Config.MaxPoll
	Wait    time.Duration // If positive, block up to Wait for a message to arrive
}

// Poll returns the oldest messages visible to an agent past its cursor.
// With a positive Wait and nothing to return, Poll blocks until a matching
// message is sent, the wait elapses or ctx is cancelled.
// Returns comms.ErrNotFound for unknown agents.
func (h *Hub) Poll(ctx context.Context, req PollRequest) ([]comms.Message, error) {
	if req.Limit > h.cfg.MaxPoll {
		req.Limit = h.cfg.MaxPoll
	}
	if req.Wait > h.cfg.MaxWait {
		req.Wait = h.cfg.MaxWait
	}

	msgs, wake, err := h.pollOnce(req, req.Wait > 0)
	if err != nil || len(msgs) > 0 || wake == nil {
		return msgs, err
	}
	defer h.unsubscribe(req.AgentID, wake)

	timer := time.NewTimer(req.Wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return []comms.Message{}, nil
		case <-h.closing:
			return []comms.Message{}, nil
		case <-timer.C:
			return []comms.Message{}, nil
		case <-wake:
			msgs, _, err = h.pollOnce(req, false)
			if err != nil || len(msgs) > 0 {
				return msgs, err
			}
		}
	}
}

// pollOnce runs the poll filter. When subscribe is set and nothing matched, it
// registers a wake channel under the same lock so no send can slip between
// the check and the subscription.
func (h *Hub) pollOnce(req PollRequest, subscribe bool) ([]comms.Message, chan struct{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	agent, ok := h.registry.Get(req.AgentID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", comms.ErrNotFound, req.AgentID)
	}

	msgs := h.bus.Poll(bus.Query{
		AgentID: req.AgentID,
		After:   req.After,
		Since:   agent.RegisteredAt,
		Limit:   req.Limit,
	})
	if len(msgs) > 0 || !subscribe {
		return msgs, nil, nil
	}

	wake := make(chan struct{}, 1)
	set, ok := h.waiters[req.AgentID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.waiters[req.AgentID] = set
	}
	set[wake] = struct{}{}
	return msgs, wake, nil
}

func (h *Hub) unsubscribe(agentID string, wake chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.waiters[agentID]
	delete(set, wake)
	if len(set) == 0 {
		delete(h.waiters, agentID)
	}
}

// notifyLocked wakes every waiter the message is visible to.
func (h *Hub) notifyLocked(msg *comms.Message) {
	for agentID, set := range h.waiters {
		if !msg.IsFor(agentID) {
			continue
		}
		for wake := range set {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}

// Recent returns up to limit of the newest messages, newest first.
func (h *Hub) Recent(limit int) []comms.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bus.Recent(limit)
}

// Clear truncates the message log and resets the communication counter.
func (h *Hub) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.bus.Clear()
	if h.persist != nil {
		h.persist.enqueue(func(ctx context.Context, s Store) error {
			return s.ClearMessages(ctx)
		})
	}
	h.metrics.logLength.Set(0)
	h.logger.Info("communication log cleared")
}

// Stats returns the derived read view.
func (h *Hub) Stats() comms.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	online, total := h.registry.Counts()
	return comms.Stats{
		TotalCommunications: h.bus.Total(),
		ActiveAgents:        online,
		TotalAgents:         total,
		CallCount:           h.calls.Load(),
		LogLength:           h.bus.Len(),
	}
}

// CountCall records one served transport request.
func (h *Hub) CountCall() {
	h.calls.Add(1)
}

// Sweep marks offline every online agent whose heartbeat is older than the
// configured timeout. Run calls it on every tick.
func (h *Hub) Sweep() []comms.Agent {
	h.mu.Lock()
	defer h.mu.Unlock()

	changed := h.registry.Sweep(h.now(), h.cfg.HeartbeatTimeout)
	for _, agent := range changed {
		h.saveAgentLocked(agent)
		h.logger.Warn("agent marked offline", "agent_id", agent.ID, "last_heartbeat", agent.LastHeartbeat)
	}
	if len(changed) > 0 {
		h.metrics.sweptOffline.Add(float64(len(changed)))
		h.updateGaugesLocked()
	}
	return changed
}

// Ping checks the durable store, if any.
func (h *Hub) Ping(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	return h.store.Ping(ctx)
}

func (h *Hub) saveAgentLocked(agent comms.Agent) {
	if h.persist == nil {
		return
	}
	h.persist.enqueue(func(ctx context.Context, s Store) error {
		return s.SaveAgent(ctx, &agent)
	})
}

func (h *Hub) updateGaugesLocked() {
	online, total := h.registry.Counts()
	h.metrics.agentsOnline.Set(float64(online))
	h.metrics.agentsTotal.Set(float64(total))
	h.metrics.logLength.Set(float64(h.bus.Len()))
}
