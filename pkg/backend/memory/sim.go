package memory

import (
	"context"
	"maps"
	"slices"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/waveform"
)

// Analysis is a configured analysis.
type Analysis struct {
	Kind    string
	Options backend.Options
}

// SavedSignal is a signal requested through SaveSignal.
type SavedSignal struct {
	Kind backend.SignalKind
	Name string
}

// SimState is the simulator configuration accumulated by Simulator calls.
type SimState struct {
	Lib, Cell, View string
	ResultsDir      string
	Netlisted       bool
	ModelFiles      []string
	AnalysisOrder   []string
	Analyses        []Analysis
	StimulusFile    string
	Saved           []SavedSignal
	Temperature     float64
	Vars            map[string]float64
	Sweep           []backend.SweepParam
	Runs            int // Plain runs
	SweepRuns       int // Parametric runs
	Result          string
}

// Sim returns a copy of the simulator state.
func (b *Backend) Sim() SimState {
	s := b.sim
	s.ModelFiles = slices.Clone(s.ModelFiles)
	s.AnalysisOrder = slices.Clone(s.AnalysisOrder)
	s.Analyses = slices.Clone(s.Analyses)
	s.Saved = slices.Clone(s.Saved)
	s.Vars = maps.Clone(s.Vars)
	s.Sweep = slices.Clone(s.Sweep)
	return s
}

// RegisterSignal makes w the result returned by Signal(kind, name).
func (b *Backend) RegisterSignal(kind backend.SignalKind, name string, w waveform.Waveform) {
	b.signals[signalKey(kind, name)] = w
}

func signalKey(kind backend.SignalKind, name string) string {
	return string(kind) + ":" + name
}

// =============================================================================
// Simulator capability
// =============================================================================

func (b *Backend) Design(ctx context.Context, lib, cell, view string) error {
	if err := b.record(ctx, "Design", lib, cell, view); err != nil {
		return err
	}
	b.sim.Lib, b.sim.Cell, b.sim.View = lib, cell, view
	return nil
}

func (b *Backend) ResultsDir(ctx context.Context, path string) error {
	if err := b.record(ctx, "ResultsDir", path); err != nil {
		return err
	}
	b.sim.ResultsDir = path
	return nil
}

func (b *Backend) CreateNetlist(ctx context.Context) error {
	if err := b.record(ctx, "CreateNetlist"); err != nil {
		return err
	}
	if b.sim.Cell == "" {
		return errors.New(errors.ErrCodeBackend, "no design selected")
	}
	b.sim.Netlisted = true
	return nil
}

func (b *Backend) ModelFiles(ctx context.Context, paths ...string) error {
	if err := b.record(ctx, "ModelFiles", paths); err != nil {
		return err
	}
	b.sim.ModelFiles = append(b.sim.ModelFiles, paths...)
	return nil
}

func (b *Backend) AnalysisOrder(ctx context.Context, kinds ...string) error {
	if err := b.record(ctx, "AnalysisOrder", kinds); err != nil {
		return err
	}
	b.sim.AnalysisOrder = slices.Clone(kinds)
	return nil
}

func (b *Backend) Analysis(ctx context.Context, kind string, opts backend.Options) error {
	if err := b.record(ctx, "Analysis", kind, opts); err != nil {
		return err
	}
	for i := range b.sim.Analyses {
		if b.sim.Analyses[i].Kind == kind {
			b.sim.Analyses[i].Options = slices.Clone(opts)
			return nil
		}
	}
	b.sim.Analyses = append(b.sim.Analyses, Analysis{Kind: kind, Options: slices.Clone(opts)})
	return nil
}

func (b *Backend) StimulusFile(ctx context.Context, path string) error {
	if err := b.record(ctx, "StimulusFile", path); err != nil {
		return err
	}
	b.sim.StimulusFile = path
	return nil
}

func (b *Backend) SaveSignal(ctx context.Context, kind backend.SignalKind, name string) error {
	if err := b.record(ctx, "SaveSignal", kind, name); err != nil {
		return err
	}
	b.sim.Saved = append(b.sim.Saved, SavedSignal{Kind: kind, Name: name})
	return nil
}

func (b *Backend) Temperature(ctx context.Context, celsius float64) error {
	if err := b.record(ctx, "Temperature", celsius); err != nil {
		return err
	}
	b.sim.Temperature = celsius
	return nil
}

func (b *Backend) DesignVariable(ctx context.Context, name string, value float64) error {
	if err := b.record(ctx, "DesignVariable", name, value); err != nil {
		return err
	}
	b.sim.Vars[name] = value
	return nil
}

func (b *Backend) Sweep(ctx context.Context, params []backend.SweepParam) error {
	if err := b.record(ctx, "Sweep", params); err != nil {
		return err
	}
	for _, p := range params {
		if len(p.Values) == 0 {
			return errors.New(errors.ErrCodeBackend, "sweep of %s has no values", p.Name)
		}
		if _, ok := b.sim.Vars[p.Name]; !ok {
			return errors.New(errors.ErrCodeBackend, "sweep of undeclared design variable %s", p.Name)
		}
	}
	b.sim.Sweep = slices.Clone(params)
	return nil
}

func (b *Backend) Run(ctx context.Context) error {
	if err := b.record(ctx, "Run"); err != nil {
		return err
	}
	if err := b.runnable(); err != nil {
		return err
	}
	b.sim.Runs++
	return nil
}

func (b *Backend) RunSweep(ctx context.Context) error {
	if err := b.record(ctx, "RunSweep"); err != nil {
		return err
	}
	if err := b.runnable(); err != nil {
		return err
	}
	if len(b.sim.Sweep) == 0 {
		return errors.New(errors.ErrCodeBackend, "no sweep registered")
	}
	b.sim.SweepRuns++
	return nil
}

func (b *Backend) runnable() error {
	if !b.sim.Netlisted {
		return errors.New(errors.ErrCodeBackend, "design has not been netlisted")
	}
	if len(b.sim.Analyses) == 0 {
		return errors.New(errors.ErrCodeBackend, "no analysis configured")
	}
	return nil
}

func (b *Backend) SelectResult(ctx context.Context, kind string) error {
	if err := b.record(ctx, "SelectResult", kind); err != nil {
		return err
	}
	if b.sim.Runs+b.sim.SweepRuns == 0 {
		return errors.New(errors.ErrCodeBackend, "no results: simulation has not run")
	}
	b.sim.Result = kind
	return nil
}

func (b *Backend) Signal(ctx context.Context, kind backend.SignalKind, name string) (waveform.Waveform, error) {
	if err := b.record(ctx, "Signal", kind, name); err != nil {
		return nil, err
	}
	if b.sim.Result == "" {
		return nil, errors.New(errors.ErrCodeBackend, "no result selected")
	}
	w, ok := b.signals[signalKey(kind, name)]
	if !ok {
		return nil, errors.New(errors.ErrCodeBackend, "signal %s(%s) not found in %s results", kind, name, b.sim.Result)
	}
	return w, nil
}
