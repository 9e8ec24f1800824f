package pipeline

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/zibuild/zibuild/internal/errs"
)

type testItem struct {
	name   string
	failAt string
}

func (t testItem) PipelineName() string { return t.name }

func TestRunAdvancesThroughAllStages(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	e := &Engine{
		Workers: 2,
		Stages: []Stage{
			{Name: "fetch", Run: func(ctx context.Context, item interface{}) error {
				mu.Lock()
				seen = append(seen, item.(testItem).name+":fetch")
				mu.Unlock()
				return nil
			}},
			{Name: "build", Run: func(ctx context.Context, item interface{}) error {
				mu.Lock()
				seen = append(seen, item.(testItem).name+":build")
				mu.Unlock()
				return nil
			}},
		},
	}

	items := []interface{}{testItem{name: "a"}, testItem{name: "b"}, testItem{name: "c"}}
	if err := e.Run(context.Background(), items); err != nil {
		t.Fatal(err)
	}

	if len(seen) != 6 {
		t.Fatalf("expected 6 stage executions, got %d: %v", len(seen), seen)
	}
}

func TestRunCollectsFailuresAsAggregateError(t *testing.T) {
	e := &Engine{
		Workers: 2,
		Stages: []Stage{
			{Name: "build", Run: func(ctx context.Context, item interface{}) error {
				it := item.(testItem)
				if it.failAt == "build" {
					return errors.New("boom")
				}
				return nil
			}},
		},
	}

	items := []interface{}{testItem{name: "a"}, testItem{name: "b", failAt: "build"}}
	err := e.Run(context.Background(), items)
	if err == nil {
		t.Fatal("expected an error")
	}
	agg, ok := err.(*errs.AggregateError)
	if !ok {
		t.Fatalf("expected *errs.AggregateError, got %T", err)
	}
	if len(agg.Errors) != 1 {
		t.Errorf("expected 1 collected failure, got %d: %v", len(agg.Errors), agg.Errors)
	}
}

func TestRunFailFastStopsFurtherStages(t *testing.T) {
	var mu sync.Mutex
	var packageRan bool

	e := &Engine{
		Workers:  1,
		FailFast: true,
		Stages: []Stage{
			{Name: "fetch", Run: func(ctx context.Context, item interface{}) error {
				return errors.New("network down")
			}},
			{Name: "package", Run: func(ctx context.Context, item interface{}) error {
				mu.Lock()
				packageRan = true
				mu.Unlock()
				return nil
			}},
		},
	}

	items := []interface{}{testItem{name: "a"}}
	if err := e.Run(context.Background(), items); err == nil {
		t.Fatal("expected an error")
	}
	if packageRan {
		t.Error("package stage should not have run after fetch failure")
	}
}

func TestDefaultWorkersCapsAtCPUCount(t *testing.T) {
	w := DefaultWorkers(1000000)
	if w != runtime.NumCPU() {
		t.Errorf("DefaultWorkers returned %d, want %d (CPU count)", w, runtime.NumCPU())
	}
}

type recordingReporter struct {
	mu    sync.Mutex
	total []int // done values, in call order
	errs  []int
}

func (r *recordingReporter) SetLane(idx int, text string) {}

func (r *recordingReporter) SetTotal(done, total, errCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = append(r.total, done)
	r.errs = append(r.errs, errCount)
}

func TestRunReportsTotalsOnlyOnFinalStageSuccess(t *testing.T) {
	rep := &recordingReporter{}
	e := &Engine{
		Workers: 2,
		Stages: []Stage{
			{Name: "fetch", Run: func(ctx context.Context, item interface{}) error { return nil }},
			{Name: "build", Run: func(ctx context.Context, item interface{}) error {
				it := item.(testItem)
				if it.failAt == "build" {
					return errors.New("boom")
				}
				return nil
			}},
		},
		Reporter: rep,
	}

	items := []interface{}{testItem{name: "a"}, testItem{name: "b", failAt: "build"}}
	_ = e.Run(context.Background(), items)

	rep.mu.Lock()
	defer rep.mu.Unlock()
	if len(rep.total) == 0 {
		t.Fatal("expected at least one SetTotal call")
	}
	maxDone := 0
	for _, d := range rep.total {
		if d > maxDone {
			maxDone = d
		}
	}
	if maxDone != 1 {
		t.Errorf("expected exactly 1 item to clear the final stage, got max done=%d", maxDone)
	}
	maxErrs := rep.errs[len(rep.errs)-1]
	if maxErrs != 1 {
		t.Errorf("expected final error count 1, got %d", maxErrs)
	}
}
