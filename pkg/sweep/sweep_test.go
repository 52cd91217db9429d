package sweep

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/backend/memory"
	"github.com/matzehuels/cellforge/pkg/cache"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
	"github.com/matzehuels/cellforge/pkg/schematic"
)

func TestPartition(t *testing.T) {
	tests := []struct {
		name       string
		n, workers int
		want       [][]int
	}{
		{"remainder to first workers", 7, 3, [][]int{{0, 1, 2}, {3, 4}, {5, 6}}},
		{"even split", 6, 3, [][]int{{0, 1}, {2, 3}, {4, 5}}},
		{"more workers than vectors", 2, 4, [][]int{{0}, {1}}},
		{"no vectors", 0, 3, [][]int{}},
		{"zero workers means one", 3, 0, [][]int{{0, 1, 2}}},
		{"remainder of two", 8, 3, [][]int{{0, 1, 2}, {3, 4, 5}, {6, 7}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Partition(tt.n, tt.workers))
		})
	}
}

// source builds a one-transistor schematic to sweep.
func source(t *testing.T) *schematic.Schematic {
	t.Helper()
	ctx := context.Background()
	sch, err := schematic.New(ctx, memory.New(), "work", "inv", schematic.Options{})
	require.NoError(t, err)
	_, err = sch.CreateInstance(ctx, "analogLib", "nmos4", schematic.At(0, 0), "MN0", geom.R0)
	require.NoError(t, err)
	return sch
}

// setWidth sets MN0's width to the vector's first value and returns twice
// the value read back from the backend.
func setWidth(ctx context.Context, w *Worker, v []float64) (float64, error) {
	mn, err := w.Schematic.Instance("MN0")
	if err != nil {
		return 0, err
	}
	if err := mn.Set(ctx, "w", schematic.Number(v[0])); err != nil {
		return 0, err
	}
	return 2 * v[0], nil
}

type workspaces struct {
	mu  sync.Mutex
	bes map[string]*memory.Backend
}

func (ws *workspaces) open(ctx context.Context, name string) (backend.Backend, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.bes == nil {
		ws.bes = make(map[string]*memory.Backend)
	}
	be := memory.New(memory.WithWorkspace(name))
	ws.bes[name] = be
	return be, nil
}

func vectors(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = []float64{float64(i + 1)}
	}
	return out
}

func TestRunSingleWorker(t *testing.T) {
	src := source(t)
	var seen []*Worker
	ex := &Executor[float64]{
		Eval: func(ctx context.Context, w *Worker, v []float64) (float64, error) {
			seen = append(seen, w)
			return setWidth(ctx, w, v)
		},
	}

	outcomes, err := ex.Run(context.Background(), src, vectors(3))
	require.NoError(t, err)
	require.Equal(t, []float64{2, 4, 6}, Values(outcomes))
	require.Len(t, seen, 3)
	require.Same(t, src, seen[0].Schematic)
	require.Empty(t, seen[0].Workspace)
	require.NotNil(t, seen[0].Backend, "memory backend also simulates")

	// The source itself was modified by the last vector
	mn, err := src.Instance("MN0")
	require.NoError(t, err)
	v, ok := mn.AppliedValue("w")
	require.True(t, ok)
	require.Equal(t, schematic.Number(3), v)
}

func TestRunWorkers(t *testing.T) {
	src := source(t)
	var ws workspaces
	ex := &Executor[float64]{Workers: 3, Open: ws.open, Eval: setWidth}

	outcomes, err := ex.Run(context.Background(), src, vectors(7))
	require.NoError(t, err)
	require.Equal(t, []float64{2, 4, 6, 8, 10, 12, 14}, Values(outcomes))
	require.Empty(t, Failed(outcomes))

	workers := make([]int, len(outcomes))
	for i, o := range outcomes {
		require.Equal(t, i, o.Index)
		workers[i] = o.Worker
	}
	require.Equal(t, []int{0, 0, 0, 1, 1, 2, 2}, workers)

	require.Len(t, ws.bes, 3)
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("sweep_%d", i)
		be := ws.bes[name]
		require.NotNil(t, be, name)
		require.True(t, be.Closed(), "%s should be closed", name)
		cell := be.Cell("work", "inv_"+name)
		require.NotNil(t, cell, "clone of inv in %s", name)
		require.Len(t, cell.Instances, 1)
	}

	// The source is never touched by workers
	mn, err := src.Instance("MN0")
	require.NoError(t, err)
	_, ok := mn.AppliedValue("w")
	require.False(t, ok)
}

func TestRunFailureIsolated(t *testing.T) {
	src := source(t)
	var ws workspaces
	ex := &Executor[float64]{
		Workers:  3,
		Sentinel: -1,
		Open:     ws.open,
		Eval: func(ctx context.Context, w *Worker, v []float64) (float64, error) {
			if v[0] == 4 {
				return 0, fmt.Errorf("simulation diverged")
			}
			return setWidth(ctx, w, v)
		},
	}

	outcomes, err := ex.Run(context.Background(), src, vectors(7))
	require.NoError(t, err)
	require.Equal(t, []float64{2, 4, 6, -1, 10, 12, 14}, Values(outcomes))

	failed := Failed(outcomes)
	require.Len(t, failed, 1)
	require.Equal(t, 3, failed[0].Index)
	require.ErrorContains(t, failed[0].Err, "diverged")
}

func TestRunMatchesSequential(t *testing.T) {
	ctx := context.Background()
	in := vectors(7)
	v4 := in[4][0]
	eval := func(ctx context.Context, w *Worker, v []float64) (float64, error) {
		if v[0] == v4 {
			return 0, errors.New(errors.ErrCodeNonconvergence, "v4 did not converge")
		}
		return setWidth(ctx, w, v)
	}

	var ws workspaces
	parallel, err := (&Executor[float64]{Workers: 3, Sentinel: 0, Open: ws.open, Eval: eval}).Run(ctx, source(t), in)
	require.NoError(t, err)
	sequential, err := (&Executor[float64]{Workers: 1, Sentinel: 0, Eval: eval}).Run(ctx, source(t), in)
	require.NoError(t, err)

	require.Equal(t, Values(sequential), Values(parallel))
	require.Equal(t, []float64{2, 4, 6, 8, 0, 12, 14}, Values(parallel))

	sizes := make([]int, 3)
	for i, o := range parallel {
		require.Equal(t, i, o.Index)
		require.Equal(t, in[i], o.Vector)
		sizes[o.Worker]++
	}
	require.Equal(t, []int{3, 2, 2}, sizes)

	for _, outcomes := range [][]Outcome[float64]{parallel, sequential} {
		failed := Failed(outcomes)
		require.Len(t, failed, 1)
		require.Equal(t, 4, failed[0].Index)
		require.True(t, errors.Is(failed[0].Err, errors.ErrCodeNonconvergence), "%v", failed[0].Err)
	}
}

func TestRunOpenFailure(t *testing.T) {
	src := source(t)
	var ws workspaces
	ex := &Executor[float64]{
		Workers: 3,
		Open: func(ctx context.Context, name string) (backend.Backend, error) {
			if name == "sweep_1" {
				return nil, fmt.Errorf("license unavailable")
			}
			return ws.open(ctx, name)
		},
		Eval: setWidth,
	}

	outcomes, err := ex.Run(context.Background(), src, vectors(7))
	require.NoError(t, err)
	require.Equal(t, []float64{2, 4, 6, 0, 0, 12, 14}, Values(outcomes))
	for _, o := range Failed(outcomes) {
		require.True(t, errors.Is(o.Err, errors.ErrCodeBackend), "vector %d: %v", o.Index, o.Err)
		require.Equal(t, 1, o.Worker)
	}
}

func TestRunCloneFailure(t *testing.T) {
	src := source(t)
	ex := &Executor[float64]{
		Workers: 2,
		Open: func(ctx context.Context, name string) (backend.Backend, error) {
			be := memory.New(memory.WithWorkspace(name))
			be.FailOn("Instantiate", fmt.Errorf("symbol missing"))
			return be, nil
		},
		Eval: setWidth,
	}

	outcomes, err := ex.Run(context.Background(), src, vectors(2))
	require.NoError(t, err)
	require.Len(t, Failed(outcomes), 2)
	require.Equal(t, []float64{0, 0}, Values(outcomes))
}

func TestRunWorkerTimeout(t *testing.T) {
	src := source(t)
	var ws workspaces
	ex := &Executor[float64]{
		Workers: 3,
		Timeout: 100 * time.Millisecond,
		Open:    ws.open,
		Eval: func(ctx context.Context, w *Worker, v []float64) (float64, error) {
			if v[0] == 4 {
				<-ctx.Done()
				return 0, ctx.Err()
			}
			return setWidth(ctx, w, v)
		},
	}

	outcomes, err := ex.Run(context.Background(), src, vectors(7))
	require.NoError(t, err)
	require.Equal(t, []float64{2, 4, 6, 0, 0, 12, 14}, Values(outcomes))

	failed := Failed(outcomes)
	require.Len(t, failed, 2)
	for _, o := range failed {
		require.True(t, errors.Is(o.Err, errors.ErrCodeTimeout), "vector %d: %v", o.Index, o.Err)
	}
}

func TestRunCanceled(t *testing.T) {
	src := source(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := &Executor[float64]{Eval: setWidth, Sentinel: -1}
	outcomes, err := ex.Run(ctx, src, vectors(2))
	require.True(t, errors.Is(err, errors.ErrCodeTimeout))
	require.Equal(t, []float64{-1, -1}, Values(outcomes))
}

func TestRunCache(t *testing.T) {
	src := source(t)
	c, err := cache.NewFileCache(t.TempDir())
	require.NoError(t, err)

	var calls atomic.Int32
	var ws workspaces
	ex := &Executor[float64]{
		Workers: 2,
		Open:    ws.open,
		Name:    "width",
		Cache:   c,
		Eval: func(ctx context.Context, w *Worker, v []float64) (float64, error) {
			calls.Add(1)
			return setWidth(ctx, w, v)
		},
	}

	first, err := ex.Run(context.Background(), src, vectors(4))
	require.NoError(t, err)
	require.EqualValues(t, 4, calls.Load())

	second, err := ex.Run(context.Background(), src, vectors(4))
	require.NoError(t, err)
	require.EqualValues(t, 4, calls.Load(), "second run should be served from cache")
	require.Equal(t, Values(first), Values(second))
	for _, o := range second {
		require.True(t, o.Cached)
	}

	// A different evaluation name misses
	ex.Name = "other"
	_, err = ex.Run(context.Background(), src, vectors(1))
	require.NoError(t, err)
	require.EqualValues(t, 5, calls.Load())
}

func TestRunValidation(t *testing.T) {
	src := source(t)

	_, err := (&Executor[int]{}).Run(context.Background(), src, vectors(1))
	require.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = (&Executor[int]{Workers: 2, Eval: func(context.Context, *Worker, []float64) (int, error) { return 0, nil }}).
		Run(context.Background(), src, vectors(1))
	require.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = (&Executor[int]{Eval: func(context.Context, *Worker, []float64) (int, error) { return 0, nil }}).
		Run(context.Background(), nil, vectors(1))
	require.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	outcomes, err := (&Executor[int]{Eval: func(context.Context, *Worker, []float64) (int, error) { return 1, nil }}).
		Run(context.Background(), src, nil)
	require.NoError(t, err)
	require.Empty(t, outcomes)
}
