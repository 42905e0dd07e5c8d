// Package watch tails the hub's communication log for the operator CLI.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/warren/internal/format"
	"github.com/dyluth/warren/pkg/comms"
)

// Defaults for Options.
const (
	DefaultInterval = time.Second
	DefaultBatch    = 100
)

// Source returns the newest communications, newest first.
// *hubclient.Client implements it.
type Source interface {
	Recent(ctx context.Context, limit int) ([]comms.Message, error)
}

// Options configures Tail.
type Options struct {
	Interval time.Duration          // Poll period
	Batch    int                    // Messages fetched per poll; traffic beyond this between polls is skipped
	After    uint64                 // Only messages with a higher sequence number are emitted
	Filter   *format.FilterCriteria // Optional
}

// Tail polls src and calls emit once for every new communication, oldest
// first, until ctx is cancelled (returning nil) or a fetch or emit fails.
// The first poll happens immediately.
func Tail(ctx context.Context, src Source, opts Options, emit func(comms.Message) error) error {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Batch <= 0 {
		opts.Batch = DefaultBatch
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	cursor := opts.After
	for {
		msgs, err := src.Recent(ctx, opts.Batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch communications: %w", err)
		}

		for i := len(msgs) - 1; i >= 0; i-- {
			m := msgs[i]
			if m.Seq <= cursor {
				continue
			}
			cursor = m.Seq
			if opts.Filter != nil && !opts.Filter.Matches(&m) {
				continue
			}
			if err := emit(m); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
