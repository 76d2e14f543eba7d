package tools

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrent bounds a parallel batch when no cap is configured.
const DefaultMaxConcurrent = 8

// ParallelOptions configures DispatchParallel.
type ParallelOptions struct {
	// MaxConcurrent bounds how many dispatches run at once.
	// Zero or negative selects DefaultMaxConcurrent.
	MaxConcurrent int

	// FailFast aborts the whole operation on the first failure instead of
	// shaping per-slot error outcomes.
	FailFast bool
}

// DispatchParallel executes calls in consecutive batches of MaxConcurrent.
// Every call in a batch completes before the next batch starts, and output
// slots match input order regardless of completion order.
//
// In the default mode a failed call fills its slot with an error outcome
// and the remaining calls still run. With FailFast the first failure
// cancels the batch and is returned to the caller.
func (m *Manager) DispatchParallel(ctx context.Context, calls []Call, opts ParallelOptions) ([]Outcome, error) {
	max := opts.MaxConcurrent
	if max <= 0 {
		max = DefaultMaxConcurrent
	}

	out := make([]Outcome, len(calls))
	for start := 0; start < len(calls); start += max {
		end := min(start+max, len(calls))
		if opts.FailFast {
			if err := m.runBatchFailFast(ctx, calls, out, start, end); err != nil {
				return nil, err
			}
			continue
		}
		m.runBatch(ctx, calls, out, start, end)
	}
	return out, nil
}

func (m *Manager) runBatch(ctx context.Context, calls []Call, out []Outcome, start, end int) {
	var wg sync.WaitGroup
	for i := start; i < end; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, err := m.Dispatch(ctx, calls[i].Category, calls[i].Tool, calls[i].Params)
			if err != nil {
				out[i] = Outcome{Status: StatusError, Error: err.Error()}
				return
			}
			out[i] = Outcome{Status: StatusOK, Value: value}
		}(i)
	}
	wg.Wait()
}

func (m *Manager) runBatchFailFast(ctx context.Context, calls []Call, out []Outcome, start, end int) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := start; i < end; i++ {
		i := i
		g.Go(func() error {
			value, err := m.Dispatch(gctx, calls[i].Category, calls[i].Tool, calls[i].Params)
			if err != nil {
				return fmt.Errorf("tools: call %d (%s.%s): %w", i, calls[i].Category, calls[i].Tool, err)
			}
			out[i] = Outcome{Status: StatusOK, Value: value}
			return nil
		})
	}
	return g.Wait()
}
