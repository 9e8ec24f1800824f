// Package pipeline runs a fixed ordered sequence of stages (e.g. fetch,
// build, package) over a set of recipes with a bounded worker pool, in the
// style of the teacher's batch scheduler but without its dependency graph:
// per the spec, recipes are processed independently and have no
// inter-recipe ordering constraints.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zibuild/zibuild/internal/errs"
)

// Stage names one step of the pipeline and the work function run for each
// item that reaches it. Run should respect ctx cancellation.
type Stage struct {
	Name string
	Run  func(ctx context.Context, item interface{}) error
}

// Reporter receives lane status text as the engine advances items through
// stages. A nil Reporter is valid.
type Reporter interface {
	// SetLane sets the status text for worker lane idx (0 is the totals
	// lane, 1..N are workers).
	SetLane(idx int, text string)
	// SetTotal updates the totals bar: done out of total items have
	// cleared the final stage, and errCount items have failed so far.
	SetTotal(done, total, errCount int)
}

// Engine runs a fixed Stages list over Items, stopping at the first error
// when FailFast is set. Each stage runs its own pool of Workers
// goroutines, so up to Workers items are in each stage at once; the total
// across all stages is not capped at Workers, and worker w of every stage
// reports on the same lane w+1.
type Engine struct {
	Stages   []Stage
	Workers  int
	FailFast bool
	Reporter Reporter
}

// DefaultWorkers returns min(nItems+1, cpuCount), the teacher's own worker
// count heuristic (one lane per item plus a totals lane, capped by CPUs).
func DefaultWorkers(nItems int) int {
	w := nItems + 1
	if cpu := runtime.NumCPU(); w > cpu {
		w = cpu
	}
	if w < 1 {
		w = 1
	}
	return w
}

// itemState tracks one item's progress through the stage list.
type itemState struct {
	item interface{}
	name string
}

// queue is a single stage's FIFO work channel. Stage N's channel must not
// be closed until stage N-1 has both stopped producing into it (its own
// upstream channel closed) AND drained every worker that was still
// processing an item destined for this queue — closing early would panic
// a late enqueue, and never closing would hang the final stage's workers
// forever waiting on an empty-but-open channel.
type queue struct {
	ch chan itemState
}

func newQueue(capacity int) *queue {
	return &queue{ch: make(chan itemState, capacity)}
}

// Named reports a human-readable name for a pipeline item, used in status
// lines and error wrapping.
type Named interface {
	PipelineName() string
}

// laneKey is the context key a stage's Run func can use to recover which
// worker lane it is running in, so it can report fine-grained progress
// (e.g. download byte counters) to the same lane the engine already paints
// status text into.
type laneKey struct{}

// LaneFromContext returns the worker lane ctx was dispatched on, or 0 (the
// totals lane) if ctx was not produced by an Engine's Run.
func LaneFromContext(ctx context.Context) int {
	if lane, ok := ctx.Value(laneKey{}).(int); ok {
		return lane
	}
	return 0
}

func nameOf(item interface{}) string {
	if n, ok := item.(Named); ok {
		return n.PipelineName()
	}
	return fmt.Sprintf("%v", item)
}

// Run drives items through every stage in order and returns an
// errs.AggregateError if any item failed any stage. When FailFast is set,
// Run cancels outstanding work as soon as the first error is observed but
// still returns only after in-flight work has wound down.
func (e *Engine) Run(ctx context.Context, items []interface{}) error {
	workers := e.Workers
	if workers < 1 {
		workers = 1
	}

	queues := make([]*queue, len(e.Stages)+1)
	for i := range queues {
		queues[i] = newQueue(len(items))
	}

	var mu sync.Mutex
	var failures []error
	var completed int
	paintTotals := func() {
		if e.Reporter == nil {
			return
		}
		e.Reporter.SetTotal(completed, len(items), len(failures))
	}
	reportErr := func(err error) {
		mu.Lock()
		failures = append(failures, err)
		paintTotals()
		mu.Unlock()
	}
	reportDone := func() {
		mu.Lock()
		completed++
		paintTotals()
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, egCtx := errgroup.WithContext(ctx)

	var statusMu sync.Mutex
	var lastPaint time.Time
	paint := func(idx int, text string) {
		if e.Reporter == nil {
			return
		}
		statusMu.Lock()
		defer statusMu.Unlock()
		if idx != 0 && time.Since(lastPaint) < 250*time.Millisecond {
			return
		}
		lastPaint = time.Now()
		e.Reporter.SetLane(idx, text)
	}

	// Each stage's worker pool gets its own WaitGroup so the pipeline
	// knows precisely when it is safe to close the NEXT stage's queue:
	// once every worker that was ranging over THIS stage's queue has
	// returned, nothing will enqueue into the next one again.
	stageWG := make([]sync.WaitGroup, len(e.Stages))

	lastStage := len(e.Stages) - 1

	for stageIdx, stage := range e.Stages {
		stage := stage
		stageIdx := stageIdx
		in := queues[stageIdx]
		out := queues[stageIdx+1]
		stageWG[stageIdx].Add(workers)

		for w := 0; w < workers; w++ {
			lane := w + 1
			laneCtx := context.WithValue(egCtx, laneKey{}, lane)
			eg.Go(func() error {
				defer stageWG[stageIdx].Done()
				for it := range in.ch {
					if egCtx.Err() != nil {
						continue
					}
					paint(lane, fmt.Sprintf("%s: %s", it.name, stage.Name))
					if err := stage.Run(laneCtx, it.item); err != nil {
						reportErr(errs.Stage(stage.Name, it.name, err))
						if e.FailFast {
							cancel()
						}
						continue
					}
					if stageIdx == lastStage {
						reportDone()
					}
					out.ch <- it
				}
				return nil
			})
		}
	}

	go func() {
		for _, item := range items {
			queues[0].ch <- itemState{item: item, name: nameOf(item)}
		}
		close(queues[0].ch)
	}()

	for i := 0; i < len(e.Stages); i++ {
		i := i
		go func() {
			stageWG[i].Wait()
			close(queues[i+1].ch)
		}()
	}

	if err := eg.Wait(); err != nil && err != context.Canceled {
		reportErr(err)
	}

	if len(failures) == 0 {
		return nil
	}
	return &errs.AggregateError{Errors: failures}
}
