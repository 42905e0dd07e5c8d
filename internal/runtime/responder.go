package runtime

import (
	"context"
	"fmt"

	"github.com/dyluth/warren/internal/backend"
	"github.com/dyluth/warren/internal/ratelimit"
	"github.com/dyluth/warren/pkg/comms"
)

// Responder produces the text of a reply. Agents are given one at
// construction; strategies are swapped by injecting a different Responder.
type Responder interface {
	Respond(ctx context.Context, prompt string) (string, error)
}

// BackendResponder calls a reasoning backend, gated by a per-caller rate limiter.
// When the caller is over its cap it returns comms.ErrRateLimitExceeded and
// makes no call.
type BackendResponder struct {
	backend backend.Backend
	limiter *ratelimit.Limiter
	caller  string
}

// NewBackendResponder creates a responder that calls b as caller, admitted by limiter.
func NewBackendResponder(b backend.Backend, limiter *ratelimit.Limiter, caller string) *BackendResponder {
	return &BackendResponder{backend: b, limiter: limiter, caller: caller}
}

// Respond implements Responder.
func (r *BackendResponder) Respond(ctx context.Context, prompt string) (string, error) {
	if !r.limiter.Reserve(r.caller) {
		return "", fmt.Errorf("%w: retry in %s", comms.ErrRateLimitExceeded, r.limiter.RetryAfter(r.caller))
	}
	return r.backend.Generate(ctx, prompt)
}

// FallbackResponder answers every prompt with the same text, without any backend.
type FallbackResponder struct {
	Reply string
}

// Respond implements Responder.
func (r FallbackResponder) Respond(ctx context.Context, prompt string) (string, error) {
	return r.Reply, nil
}
