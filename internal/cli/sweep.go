package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/cache"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/schematic"
	"github.com/matzehuels/cellforge/pkg/sim"
	"github.com/matzehuels/cellforge/pkg/store"
	"github.com/matzehuels/cellforge/pkg/sweep"
	"github.com/matzehuels/cellforge/pkg/units"
)

// =============================================================================
// partition
// =============================================================================

// partitionCommand creates the partition command.
func (c *CLI) partitionCommand() *cobra.Command {
	var vectors, workers int

	cmd := &cobra.Command{
		Use:   "partition",
		Short: "Show how vectors are split across sweep workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if vectors < 0 {
				return errors.New(errors.ErrCodeInvalidInput, "--vectors must be >= 0")
			}
			if workers <= 0 {
				cfg, err := c.config()
				if err != nil {
					return err
				}
				workers = cfg.Sweep.Workers
			}
			for i, chunk := range sweep.Partition(vectors, workers) {
				printKeyValue(fmt.Sprintf("worker %d", i), formatChunk(chunk))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&vectors, "vectors", 0, "number of vectors")
	cmd.Flags().IntVar(&workers, "workers", 0, "number of workers (default: sweep.workers)")
	return cmd
}

func formatChunk(chunk []int) string {
	if len(chunk) == 1 {
		return fmt.Sprintf("[%d]", chunk[0])
	}
	return fmt.Sprintf("[%d..%d] (%d)", chunk[0], chunk[len(chunk)-1], len(chunk))
}

// =============================================================================
// sweep
// =============================================================================

// sweepOpts holds the flags of the sweep command.
type sweepOpts struct {
	instance string
	param    string
	measure  string
	values   []string
	workers  int
	noCache  bool
	store    bool
}

// sweepCommand creates the sweep command.
func (c *CLI) sweepCommand() *cobra.Command {
	var opts sweepOpts

	cmd := &cobra.Command{
		Use:   "sweep <script.hcl>",
		Short: "Sweep an instance parameter across parallel workers",
		Long: `Sweep builds the script, then applies each value to one instance
parameter in a private workspace per worker and reads back the calculated
value of --measure (default: the swept parameter).

Results are cached by topology hash and value, so repeating a sweep only
evaluates the values that changed. With --store the schematic and the
sweep results are put into the configured store and served by the API as
a run.`,
		Example: `  cellforge sweep inverter.hcl --instance MP0 --param w --values 1u,2u,4u --workers 2`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSweep(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.instance, "instance", "", "instance to sweep (required)")
	cmd.Flags().StringVar(&opts.param, "param", "", "parameter to sweep (required)")
	cmd.Flags().StringVar(&opts.measure, "measure", "", "parameter to read back (default: --param)")
	cmd.Flags().StringSliceVar(&opts.values, "values", nil, "values with unit suffixes, e.g. 1u,2u (required)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "concurrent workers (default: sweep.workers)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "evaluate every vector")
	cmd.Flags().BoolVar(&opts.store, "store", false, "put the schematic and the results into the configured store")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("param")
	_ = cmd.MarkFlagRequired("values")

	return cmd
}

func (c *CLI) runSweep(cmd *cobra.Command, path string, opts sweepOpts) error {
	ctx := cmd.Context()
	cfg, err := c.config()
	if err != nil {
		return err
	}

	vectors := make([][]float64, len(opts.values))
	for i, s := range opts.values {
		v, err := units.Parse(s)
		if err != nil {
			return err
		}
		vectors[i] = []float64{v}
	}
	if opts.measure == "" {
		opts.measure = opts.param
	}
	if opts.workers <= 0 {
		opts.workers = cfg.Sweep.Workers
	}

	src, err := c.buildScript(ctx, path, "", "")
	if err != nil {
		return err
	}
	if _, err := src.Instance(opts.instance); err != nil {
		return err
	}

	ch, err := c.newCache(ctx, opts.noCache)
	if err != nil {
		return err
	}
	defer ch.Close()

	ex := &sweep.Executor[float64]{
		Workers:         opts.workers,
		Timeout:         cfg.Sweep.Timeout.Duration,
		Sentinel:        cfg.Sweep.Sentinel,
		WorkspacePrefix: cfg.Sweep.WorkspacePrefix,
		Open: func(ctx context.Context, workspace string) (backend.Backend, error) {
			be, err := c.newBackend(workspace)
			if err != nil {
				return nil, err
			}
			return be, nil
		},
		Eval:     paramEval(opts.instance, opts.param, opts.measure),
		Name:     fmt.Sprintf("param:%s.%s->%s", opts.instance, opts.param, opts.measure),
		Cache:    ch,
		Keyer:    cache.NewScopedKeyer(cache.NewDefaultKeyer(), cfg.Sweep.WorkspacePrefix+":"),
		CacheTTL: cfg.Cache.TTL.Duration,
		Logger:   c.Logger,
	}

	started := time.Now()
	spinner := newSpinner(ctx, fmt.Sprintf("Sweeping %d values...", len(vectors)))
	spinner.Start()
	outcomes, err := ex.Run(ctx, src, vectors)
	if err != nil {
		spinner.StopWithError("Sweep interrupted")
		return err
	}
	spinner.StopWithSuccess(fmt.Sprintf("Swept %s.%s", opts.instance, opts.param))

	cached := 0
	for _, o := range outcomes {
		if o.Cached {
			cached++
		}
		if o.Err != nil {
			printKeyValue(opts.values[o.Index], StyleWarning.Render(errors.UserMessage(o.Err)))
			continue
		}
		printKeyValue(opts.values[o.Index], units.Format(o.Value))
	}
	printSweepStats(len(outcomes), len(sweep.Failed(outcomes)), cached)

	if opts.store {
		run := sweepRun(opts.instance+"."+opts.param, opts.measure, outcomes, started)
		id, err := c.storeRun(ctx, src, run)
		if err != nil {
			return err
		}
		printKeyValue("Stored run", id)
	}
	return nil
}

// storeRun puts the schematic and the run into the configured store.
func (c *CLI) storeRun(ctx context.Context, src *schematic.Schematic, run *sim.Run) (string, error) {
	st, err := c.newStore(ctx)
	if err != nil {
		return "", err
	}
	defer st.Close(ctx)

	schID, err := st.PutSchematic(ctx, src.Document())
	if err != nil {
		return "", err
	}
	return st.PutRun(ctx, &store.RunRecord{SchematicID: schID, Run: run})
}

// sweepRun records sweep outcomes as a run with one sweep parameter and a
// single sample of measure per point. Failed vectors keep the sentinel and
// add a diagnostic; the run is degraded when some fail and failed when all
// do.
func sweepRun(param, measure string, outcomes []sweep.Outcome[float64], started time.Time) *sim.Run {
	run := &sim.Run{ID: uuid.NewString(), Status: sim.StatusOK, Started: started, Elapsed: time.Since(started)}
	rs := &sim.ResultSet{Sweeps: []backend.SweepParam{{Name: param}}}
	sig := sim.Signal{Name: measure, Label: measure, Custom: true}

	failed := 0
	for _, o := range outcomes {
		rs.Sweeps[0].Values = append(rs.Sweeps[0].Values, o.Vector...)
		rs.Points = append(rs.Points, o.Vector)
		rs.Time = append(rs.Time, []float64{0})
		sig.Values = append(sig.Values, []float64{o.Value})
		if o.Err != nil {
			failed++
			run.Diagnostics = append(run.Diagnostics, sim.Diagnostic{
				Code:    errors.GetCode(o.Err),
				Signal:  measure,
				Message: fmt.Sprintf("vector %d: %s", o.Index, errors.UserMessage(o.Err)),
			})
		}
	}
	rs.Signals = []sim.Signal{sig}
	run.Results = rs

	switch {
	case failed > 0 && failed == len(outcomes):
		run.Status = sim.StatusFailed
	case failed > 0:
		run.Status = sim.StatusDegraded
	}
	return run
}

// paramEval sets instance.param to the vector's single value, runs the
// parameter callbacks and returns the calculated value of measure.
func paramEval(instance, param, measure string) sweep.EvalFunc[float64] {
	return func(ctx context.Context, w *sweep.Worker, vector []float64) (float64, error) {
		if len(vector) != 1 {
			return 0, errors.New(errors.ErrCodeInvalidInput, "want 1 value per vector, got %d", len(vector))
		}
		inst, err := w.Schematic.Instance(instance)
		if err != nil {
			return 0, err
		}
		if err := inst.Set(ctx, param, schematic.Number(vector[0])); err != nil {
			return 0, err
		}
		if err := w.Schematic.RunCallbacks(ctx); err != nil {
			return 0, err
		}
		calc, err := inst.Calculated(measure)
		if err != nil {
			return 0, err
		}
		v, err := units.Parse(calc)
		if err != nil {
			return 0, errors.Wrap(errors.ErrCodeInvalidValue, err, "%s.%s = %q", instance, measure, calc)
		}
		return v, nil
	}
}
