// Package sweep evaluates one schematic topology over many parameter vectors.
//
// An [Executor] splits the vectors into contiguous chunks ([Partition]) and
// hands each chunk to a worker. Every worker opens its own backend through
// [OpenFunc], replays the source schematic into a workspace-private cell and
// evaluates its vectors one after another under a per-worker timeout:
//
//	ex := &sweep.Executor[float64]{
//		Workers:  4,
//		Timeout:  10 * time.Minute,
//		Open:     openWorkspace,
//		Eval:     measureDelay,
//		Name:     "delay",
//		Cache:    c,
//	}
//	outcomes, err := ex.Run(ctx, adder, vectors)
//	delays := sweep.Values(outcomes)
//
// A vector that fails (Eval error, timeout, backend or clone failure)
// yields Sentinel and a non-nil Outcome.Err; other vectors are unaffected.
package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/cache"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/observability"
	"github.com/matzehuels/cellforge/pkg/schematic"
)

// DefaultWorkspacePrefix names worker workspaces "<prefix>_<i>".
const DefaultWorkspacePrefix = "sweep"

// Worker is the evaluation context handed to EvalFunc.
type Worker struct {
	Index     int
	Workspace string // Empty when evaluating in the source schematic
	Schematic *schematic.Schematic
	// Backend is the worker's backend. In single-worker mode it is the
	// source schematic's backend when that also simulates, nil otherwise.
	Backend backend.Backend
}

// OpenFunc opens an isolated backend for one workspace.
type OpenFunc func(ctx context.Context, workspace string) (backend.Backend, error)

// EvalFunc evaluates one vector. It must return promptly once ctx is done.
type EvalFunc[R any] func(ctx context.Context, w *Worker, vector []float64) (R, error)

// Outcome is the result of one vector.
type Outcome[R any] struct {
	Index  int       `json:"index"`
	Vector []float64 `json:"vector"`
	Value  R         `json:"value"`
	Worker int       `json:"worker"`
	Cached bool      `json:"cached,omitempty"`
	Err    error     `json:"-"`
}

// Executor runs an EvalFunc across workers. The zero value of every field
// except Eval is usable.
type Executor[R any] struct {
	Workers         int           // Concurrent workers (<= 1 evaluates in the source)
	Timeout         time.Duration // Per-worker budget for a whole chunk (0 = none)
	Sentinel        R             // Value of failed vectors
	WorkspacePrefix string        // Default: DefaultWorkspacePrefix

	Open OpenFunc
	Eval EvalFunc[R]
	Name string // Names the evaluation in cache keys

	Cache    cache.Cache   // Default: NullCache
	CacheTTL time.Duration // Default: cache.TTLSweep
	Keyer    cache.Keyer   // Default: DefaultKeyer
	Logger   *log.Logger   // Default: discard
	Hooks    observability.SweepHooks
}

func (e *Executor[R]) withDefaults() *Executor[R] {
	c := *e
	if c.WorkspacePrefix == "" {
		c.WorkspacePrefix = DefaultWorkspacePrefix
	}
	if c.Cache == nil {
		c.Cache = cache.NewNullCache()
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = cache.TTLSweep
	}
	if c.Keyer == nil {
		c.Keyer = cache.NewDefaultKeyer()
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard)
	}
	if c.Hooks == nil {
		c.Hooks = observability.Sweep()
	}
	return &c
}

// Run evaluates every vector and returns the outcomes in input order.
// The returned error is non-nil only for invalid arguments or when ctx
// itself ended; per-vector failures are reported on the outcomes.
func (e *Executor[R]) Run(ctx context.Context, src *schematic.Schematic, vectors [][]float64) ([]Outcome[R], error) {
	if e.Eval == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "sweep: Eval is required")
	}
	if src == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "sweep: source schematic is required")
	}
	if e.Workers > 1 && e.Open == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "sweep: Open is required with %d workers", e.Workers)
	}
	x := e.withDefaults()

	outcomes := make([]Outcome[R], len(vectors))
	for i, v := range vectors {
		outcomes[i] = Outcome[R]{Index: i, Vector: v, Value: x.Sentinel}
	}
	if len(vectors) == 0 {
		return outcomes, nil
	}

	hash, err := src.Hash()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "sweep: hash topology")
	}

	if x.Workers <= 1 {
		w := &Worker{Schematic: src}
		if be, ok := src.Backend().(backend.Backend); ok {
			w.Backend = be
		}
		x.work(ctx, w, Partition(len(vectors), 1)[0], outcomes, hash, nil)
		return outcomes, ctxErr(ctx)
	}

	doc := src.Document()
	chunks := Partition(len(vectors), x.Workers)
	x.Logger.Info("sweep started", "vectors", len(vectors), "workers", len(chunks))

	var g errgroup.Group
	g.SetLimit(x.Workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			workspace := fmt.Sprintf("%s_%d", x.WorkspacePrefix, i)
			w := &Worker{Index: i, Workspace: workspace}
			x.work(ctx, w, chunk, outcomes, hash, func(wctx context.Context) error {
				return x.open(wctx, w, src, doc)
			})
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, ctxErr(ctx)
}

// open gives w an isolated backend holding a replay of src in
// "<cell>_<workspace>".
func (e *Executor[R]) open(ctx context.Context, w *Worker, src *schematic.Schematic, doc *schematic.Document) error {
	be, err := e.Open(ctx, w.Workspace)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBackend, err, "open workspace %s", w.Workspace)
	}
	cell := src.Cell + "_" + w.Workspace
	sch, err := schematic.FromDocument(ctx, be, doc, src.Lib, cell, schematic.Options{
		Overwrite: true,
		Logger:    e.Logger,
	})
	if err != nil {
		_ = be.Close(ctx)
		return errors.Wrap(errors.ErrCodeBackend, err, "clone %s/%s into %s", src.Lib, src.Cell, w.Workspace)
	}
	w.Backend = be
	w.Schematic = sch
	return nil
}

// work evaluates one chunk. setup, when non-nil, prepares the worker under
// the worker deadline; if it fails every vector of the chunk fails.
func (e *Executor[R]) work(ctx context.Context, w *Worker, chunk []int, outcomes []Outcome[R], hash string, setup func(context.Context) error) {
	start := time.Now()
	wctx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	e.Hooks.OnWorkerStart(wctx, w.Index, w.Workspace, len(chunk))
	e.Logger.Debug("worker started", "worker", w.Index, "workspace", w.Workspace, "vectors", len(chunk))

	var failed int
	if setup != nil {
		if err := setup(wctx); err != nil {
			for _, idx := range chunk {
				e.fail(ctx, &outcomes[idx], w, err)
			}
			e.Hooks.OnWorkerComplete(ctx, w.Index, time.Since(start), err)
			return
		}
		defer func() {
			if err := w.Backend.Close(context.WithoutCancel(ctx)); err != nil {
				e.Logger.Warn("closing workspace failed", "workspace", w.Workspace, "err", err)
			}
		}()
	}

	for _, idx := range chunk {
		if !e.eval(wctx, w, &outcomes[idx], hash) {
			failed++
		}
	}

	var err error
	if failed > 0 {
		err = fmt.Errorf("%d of %d vectors failed", failed, len(chunk))
	}
	e.Hooks.OnWorkerComplete(ctx, w.Index, time.Since(start), err)
	e.Logger.Debug("worker finished", "worker", w.Index, "failed", failed, "duration", time.Since(start))
}

// eval fills in one outcome and reports whether it succeeded.
func (e *Executor[R]) eval(ctx context.Context, w *Worker, out *Outcome[R], hash string) bool {
	out.Worker = w.Index
	if err := ctx.Err(); err != nil {
		e.fail(ctx, out, w, errors.Wrap(errors.ErrCodeTimeout, err, "vector %d not started", out.Index))
		return false
	}

	key := e.Keyer.SweepKey(hash, cache.SweepKeyOpts{Eval: e.Name, Vector: out.Vector})
	var cached R
	hit, err := cache.GetJSON(ctx, e.Cache, key, &cached)
	switch {
	case err != nil:
		e.Logger.Warn("sweep cache read failed", "err", err)
	case hit:
		observability.Cache().OnCacheHit(ctx, "sweep")
		out.Value, out.Cached = cached, true
		return true
	default:
		observability.Cache().OnCacheMiss(ctx, "sweep")
	}

	v, err := e.Eval(ctx, w, out.Vector)
	if err != nil {
		if ctx.Err() != nil {
			err = errors.Wrap(errors.ErrCodeTimeout, err, "vector %d", out.Index)
		}
		e.fail(ctx, out, w, err)
		return false
	}
	out.Value = v
	e.store(ctx, key, v)
	return true
}

func (e *Executor[R]) store(ctx context.Context, key string, v R) {
	data, err := json.Marshal(v)
	if err != nil {
		e.Logger.Warn("sweep result not cacheable", "err", err)
		return
	}
	err = cache.RetryWithBackoff(ctx, func() error {
		return e.Cache.Set(ctx, key, data, e.CacheTTL)
	})
	if err != nil {
		e.Logger.Warn("sweep cache write failed", "err", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, "sweep", len(data))
}

func (e *Executor[R]) fail(ctx context.Context, out *Outcome[R], w *Worker, err error) {
	out.Value = e.Sentinel
	out.Worker = w.Index
	out.Err = err
	e.Hooks.OnVectorFailed(ctx, out.Index, err)
	e.Logger.Warn("vector failed", "index", out.Index, "worker", w.Index, "err", err)
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeTimeout, err, "sweep interrupted")
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// Partition splits n indices into at most workers contiguous chunks of
// n/workers indices each. The remainder is handed out one index per worker
// starting at worker 0, so 7 over 3 workers gives sizes 3, 2, 2. Empty
// chunks are dropped.
func Partition(n, workers int) [][]int {
	if workers < 1 {
		workers = 1
	}
	base, rem := n/workers, n%workers
	chunks := make([][]int, 0, workers)
	next := 0
	for w := 0; w < workers; w++ {
		size := base
		if w < rem {
			size++
		}
		if size == 0 {
			continue
		}
		chunk := make([]int, size)
		for i := range chunk {
			chunk[i] = next
			next++
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Values returns the outcome values in order.
func Values[R any](outcomes []Outcome[R]) []R {
	out := make([]R, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Value
	}
	return out
}

// Failed returns the outcomes that carry an error.
func Failed[R any](outcomes []Outcome[R]) []Outcome[R] {
	var out []Outcome[R]
	for _, o := range outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}
