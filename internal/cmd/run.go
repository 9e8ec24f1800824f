package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/zibuild/zibuild/internal/build"
	"github.com/zibuild/zibuild/internal/errs"
	"github.com/zibuild/zibuild/internal/fetch"
	"github.com/zibuild/zibuild/internal/layout"
	"github.com/zibuild/zibuild/internal/pipeline"
	"github.com/zibuild/zibuild/internal/progressui"
	"github.com/zibuild/zibuild/internal/recipe"
	"github.com/zibuild/zibuild/internal/runctl"
)

// workItem carries one recipe through the pipeline's stages. Its mutable
// fields (archivePaths, sourceDir, artifact) are only ever touched by the
// single worker currently processing it, since a recipe's stages run in
// sequence per §5 ("within a recipe, stages never run concurrently").
type workItem struct {
	recipe       *recipe.Recipe
	archivePaths []string
	sourceDir    string
	artifact     string
}

func (w *workItem) PipelineName() string { return w.recipe.FullName() }

// upTo selects which stages a subcommand needs: "download" only populates
// src/, "build" runs the full fetch→extract→build pipeline.
type upTo int

const (
	throughFetch upTo = iota
	throughBuild
)

func runRecipes(names []string, through upTo) error {
	lg := logger()
	recipes, err := recipe.LoadAll(cfg.PkgbuildDir, names)
	if err != nil {
		return err
	}
	lg.Debug("loaded recipes", "count", len(recipes))

	var preflight []error
	accepted := cfg.AcceptedLicenses()
	var items []interface{}
	for _, r := range recipes {
		if err := recipe.LicenseAccepted(r, accepted); err != nil {
			preflight = append(preflight, err)
			continue
		}
		items = append(items, &workItem{recipe: r})
	}

	workers := workerThreads(len(items), through)
	ui := progressui.New(os.Stderr, workers, cfg.Verbose)
	runctl.OnInterrupt(ui.Close)
	defer ui.Close()

	fetchers := make(map[string]*fetch.Fetcher, len(recipes))
	layouts := make(map[string]layout.Layout, len(recipes))
	for _, r := range recipes {
		layouts[r.FullName()] = layout.New(cfg.BuildDir, r.FullName())
		fetchers[r.FullName()] = fetch.New(cfg.PkgbuildDir)
	}

	stages := []pipeline.Stage{
		{Name: "fetch", Run: func(ctx context.Context, item interface{}) error {
			w := item.(*workItem)
			l := layouts[w.recipe.FullName()]
			f := fetchers[w.recipe.FullName()]
			lane := pipeline.LaneFromContext(ctx)
			return fetchSources(ctx, w, l, f, &laneProgress{ui: ui, lane: lane})
		}},
	}
	if through == throughBuild {
		stages = append(stages,
			pipeline.Stage{Name: "extract", Run: func(ctx context.Context, item interface{}) error {
				w := item.(*workItem)
				l := layouts[w.recipe.FullName()]
				dir, err := build.ExtractAll(w.recipe, l, w.archivePaths)
				if err != nil {
					return err
				}
				w.sourceDir = dir
				return nil
			}},
			pipeline.Stage{Name: "build", Run: func(ctx context.Context, item interface{}) error {
				w := item.(*workItem)
				l := layouts[w.recipe.FullName()]
				b := build.New(w.recipe, l)
				b.Verbose = cfg.Verbose
				artifact, err := b.Run(ctx, w.sourceDir)
				if err != nil {
					return err
				}
				w.artifact = artifact
				return nil
			}},
		)
	}

	engine := &pipeline.Engine{
		Stages:   stages,
		Workers:  workers,
		FailFast: cfg.FailFast,
		Reporter: ui,
	}

	ctx, cancel := runctl.InterruptibleContext()
	defer cancel()

	runErr := engine.Run(ctx, items)
	ui.Flush()
	if runErr != nil {
		lg.Error("pipeline run finished with errors", "stage_through", through)
	}

	if len(preflight) == 0 && runErr == nil {
		return nil
	}

	agg := &errs.AggregateError{}
	if ae, ok := runErr.(*errs.AggregateError); ok {
		agg.Errors = append(agg.Errors, ae.Errors...)
	} else if runErr != nil {
		agg.Errors = append(agg.Errors, runErr)
	}
	agg.Errors = append(agg.Errors, preflight...)
	return agg
}

// workerThreads derives the "W − 1 worker threads drive lanes" count from
// §4.6: DefaultWorkers(nItems) gives W, the totals-lane-inclusive figure;
// a stage-specific parallel cap, when set, replaces it before the floor of
// 2 is applied.
func workerThreads(nItems int, through upTo) int {
	w := pipeline.DefaultWorkers(nItems)
	if cfg.ParallelDownload > 0 && through == throughFetch {
		w = cfg.ParallelDownload
	}
	if cfg.ParallelBuild > 0 && through == throughBuild {
		w = cfg.ParallelBuild
	}
	threads := w - 1
	if threads < 2 {
		threads = 2
	}
	return threads
}

func fetchSources(ctx context.Context, w *workItem, l layout.Layout, f *fetch.Fetcher, prog *laneProgress) error {
	if err := l.EnsureBase(); err != nil {
		return err
	}
	if cfg.Clobber {
		if err := os.RemoveAll(l.Src); err != nil {
			return errs.IO("remove-dir", l.Src, err)
		}
	}
	if err := l.EnsureSrc(); err != nil {
		return err
	}

	var failures []error
	var paths []string
	for _, src := range w.recipe.Sources {
		ref, err := fetch.Parse(src)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		prog.label = fmt.Sprintf("%s: %s", w.recipe.FullName(), ref.FileName())
		path, err := f.Fetch(ctx, ref, l, w.recipe.Dir(), prog)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		paths = append(paths, path)
	}

	if len(failures) > 0 {
		return errs.Wrap("%d of %d sources failed: %v", len(failures), len(w.recipe.Sources), failures)
	}
	w.archivePaths = paths
	return nil
}

// laneProgress adapts the progress UI's byte-counter bar to fetch.Progress,
// routing updates to the worker lane the pipeline dispatched this item on.
type laneProgress struct {
	ui    *progressui.UI
	lane  int
	label string
	total int64
}

func (p *laneProgress) SetTotal(n int64) {
	p.total = n
	p.ui.SetLaneBar(p.lane, p.label, 0, n)
}

func (p *laneProgress) SetCurrent(n int64) {
	p.ui.SetLaneBar(p.lane, p.label, n, p.total)
}
