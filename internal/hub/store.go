package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/dyluth/warren/pkg/comms"
)

// Store is the durable-store collaborator. Implementations: comms.Client
// (Redis) and sqlstore.Store (SQLite).
type Store interface {
	SaveAgent(ctx context.Context, a *comms.Agent) error
	SaveMessage(ctx context.Context, m *comms.Message) error
	TrimMessages(ctx context.Context, keep int) error
	ClearMessages(ctx context.Context) error
	LoadAgents(ctx context.Context) ([]*comms.Agent, error)
	LoadMessages(ctx context.Context, limit int) ([]*comms.Message, error)
	SaveHead(ctx context.Context, seq uint64) error
	LoadHead(ctx context.Context) (uint64, error)
	Ping(ctx context.Context) error
}

const (
	persistQueueSize = 1024
	persistTimeout   = 5 * time.Second
	trimEvery        = 100
)

type storeOp func(ctx context.Context, s Store) error

// persister applies store writes in the order the hub issued them, off the
// request path. Writes are best-effort: failures are logged, and writes are
// dropped rather than blocking the hub when the queue is full.
type persister struct {
	store     Store
	retention int
	ops       chan storeOp
	logger    *slog.Logger
	sinceTrim int
}

func newPersister(store Store, retention int, logger *slog.Logger) *persister {
	return &persister{
		store:     store,
		retention: retention,
		ops:       make(chan storeOp, persistQueueSize),
		logger:    logger.With("component", "persister"),
	}
}

// enqueue never blocks.
func (p *persister) enqueue(op storeOp) {
	select {
	case p.ops <- op:
	default:
		p.logger.Warn("store queue full, dropping write")
	}
}

// run applies queued writes until ctx is cancelled, then drains what is left.
func (p *persister) run(ctx context.Context) {
	for {
		select {
		case op := <-p.ops:
			p.apply(op)
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

func (p *persister) drain() {
	for {
		select {
		case op := <-p.ops:
			p.apply(op)
		default:
			return
		}
	}
}

func (p *persister) apply(op storeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := op(ctx, p.store); err != nil {
		p.logger.Warn("store write failed", "error", err)
		return
	}

	// Trimming is amortised over writes rather than done per message.
	p.sinceTrim++
	if p.sinceTrim < trimEvery {
		return
	}
	p.sinceTrim = 0
	if err := p.store.TrimMessages(ctx, p.retention); err != nil {
		p.logger.Warn("store trim failed", "error", err)
	}
}
