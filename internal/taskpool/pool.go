// Package taskpool runs a bounded set of independent tasks concurrently and
// collects their results positionally.
package taskpool

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/max-solo23/deeptrace/internal/cancellation"
	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/internal/resilience"
)

// ErrNotRun is the Err of results left absent by a stop or context cancellation.
var ErrNotRun = eris.New("taskpool: task not run")

// Result is the outcome of one task. OK is false for absent results.
type Result[I, R any] struct {
	Index int
	Item  I
	Value R
	OK    bool
	Err   error
}

// CompleteFunc is invoked once per collected task, sequentially, with the
// number of tasks collected and succeeded so far.
type CompleteFunc[I, R any] func(res Result[I, R], done, succeeded int)

// Options configures a Pool.
type Options[I, R any] struct {
	// Limit caps concurrent tasks. Zero means model.HardCapSources.
	Limit int
	// Limiter throttles dispatch when non-nil.
	Limiter *rate.Limiter
	// Retry wraps every task. A zero value means a single attempt.
	Retry resilience.RetryConfig
	// TaskTimeout bounds each attempt when positive.
	TaskTimeout time.Duration
	// Controller is polled between dispatches and during collection.
	Controller *cancellation.Controller
	// OnComplete receives progress as results are collected.
	OnComplete CompleteFunc[I, R]
}

// Pool dispatches tasks over items.
type Pool[I, R any] struct {
	opts Options[I, R]
}

// New creates a Pool with the given options.
func New[I, R any](opts Options[I, R]) *Pool[I, R] {
	if opts.Limit <= 0 {
		opts.Limit = model.HardCapSources
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	return &Pool[I, R]{opts: opts}
}

type indexed[I, R any] struct {
	index int
	res   Result[I, R]
}

// Run executes fn once per item and returns results aligned with items.
// One task failing never affects its siblings. After a stop no new task is
// dispatched; tasks already running finish in the background and their
// results are discarded.
func (p *Pool[I, R]) Run(ctx context.Context, items []I, fn func(ctx context.Context, item I) (R, error)) []Result[I, R] {
	results := make([]Result[I, R], len(items))
	for i, item := range items {
		results[i] = Result[I, R]{Index: i, Item: item, Err: ErrNotRun}
	}
	if len(items) == 0 {
		return results
	}

	ctl := p.opts.Controller
	retry := p.opts.Retry
	retry.Stopped = ctl.Stopped

	out := make(chan indexed[I, R], len(items))
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		var g errgroup.Group
		g.SetLimit(p.opts.Limit)

		for i, item := range items {
			if p.opts.Limiter != nil {
				if err := p.opts.Limiter.Wait(ctx); err != nil {
					break
				}
			}
			if ctl.Stopped() || ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				val, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (R, error) {
					if p.opts.TaskTimeout > 0 {
						var cancel context.CancelFunc
						ctx, cancel = context.WithTimeout(ctx, p.opts.TaskTimeout)
						defer cancel()
					}
					return fn(ctx, item)
				})
				res := Result[I, R]{Index: i, Item: item, Value: val, OK: err == nil, Err: err}
				out <- indexed[I, R]{index: i, res: res}
				return nil
			})
		}
		_ = g.Wait()
	}()

	var done, succeeded int
	collect := func(r indexed[I, R]) {
		results[r.index] = r.res
		done++
		if r.res.OK {
			succeeded++
		}
		if p.opts.OnComplete != nil {
			p.opts.OnComplete(r.res, done, succeeded)
		}
	}
	drain := func() {
		for {
			select {
			case r := <-out:
				collect(r)
			default:
				return
			}
		}
	}

	for {
		select {
		case r := <-out:
			if ctl.Stopped() {
				zap.L().Debug("taskpool: discarding result after stop", zap.Int("index", r.index))
				return results
			}
			collect(r)
		case <-finished:
			if !ctl.Stopped() {
				drain()
			}
			return results
		case <-ctl.Done():
			return results
		case <-ctx.Done():
			drain()
			return results
		}
	}
}

// Succeeded returns the values of successful results in input order.
func Succeeded[I, R any](results []Result[I, R]) []R {
	var vals []R
	for _, r := range results {
		if r.OK {
			vals = append(vals, r.Value)
		}
	}
	return vals
}
