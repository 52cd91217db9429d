// Package sim drives a transient simulation of a schematic through a
// [backend.Simulator].
//
// A [Simulation] configures the design once in [New], then collects the
// signals to probe ([Simulation.TrackNet], [Simulation.TrackPin],
// [Simulation.TrackCustom]) and the stimuli to apply. [Simulation.Run]
// executes the analysis, optionally swept over design variables, and
// returns a [Run] whose [ResultSet] holds one value array per signal and
// sweep point.
//
// Failures of the simulated circuit are not Go errors. A signal that cannot
// be extracted is dropped and the run is marked [StatusDegraded]; a run that
// stops short of the requested duration is [StatusFailed]. Both are
// reported as [Diagnostic] entries. Errors are returned only for misuse and
// for backend failures.
package sim

import (
	"context"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/schematic"
	"github.com/matzehuels/cellforge/pkg/stimulus"
	"github.com/matzehuels/cellforge/pkg/units"
)

const (
	// DefaultOutputDir is the directory results are written under, one
	// subdirectory per cell.
	DefaultOutputDir = "sim_output"

	// DefaultTemperature is the simulation temperature in Celsius.
	DefaultTemperature = 27.0

	// DefaultErrPreset is the transient accuracy preset.
	DefaultErrPreset = "moderate"

	// DefaultView is the cellview that is netlisted.
	DefaultView = "schematic"

	analysisTran = "tran"
)

var errPresets = []string{"liberal", "moderate", "conservative"}

// Options configures a Simulation.
type Options struct {
	OutputDir   string            // Results root (default: sim_output)
	View        string            // Netlisted view (default: schematic)
	ModelFiles  []string          // Model files, made absolute
	ErrPreset   string            // liberal, moderate or conservative (default: moderate)
	Temperature *float64          // Celsius (default: 27)
	BitDefaults stimulus.Defaults // Overrides for bit stimulus defaults
	Logger      *log.Logger       // Debug logging (default: discard)
}

// ValidateAndSetDefaults fills in defaults and checks the preset.
func (o *Options) ValidateAndSetDefaults() error {
	if o.OutputDir == "" {
		o.OutputDir = DefaultOutputDir
	}
	if o.View == "" {
		o.View = DefaultView
	}
	if o.ErrPreset == "" {
		o.ErrPreset = DefaultErrPreset
	}
	if !slices.Contains(errPresets, o.ErrPreset) {
		return errors.New(errors.ErrCodeInvalidInput, "invalid errpreset %q (valid: %s)",
			o.ErrPreset, strings.Join(errPresets, ", "))
	}
	if o.Temperature == nil {
		t := DefaultTemperature
		o.Temperature = &t
	}
	o.BitDefaults = stimulus.DefaultBit().Merge(o.BitDefaults)
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	return nil
}

// CustomFunc computes a custom signal for one sweep point. inputs holds the
// values of the input signals in the order they were declared.
type CustomFunc func(inputs [][]float64) ([]float64, error)

// Input names a signal a custom function reads: a net for voltages, a
// qualified pin name for currents.
type Input struct {
	Kind backend.SignalKind
	Name string
}

// TrackOptions groups and labels a tracked signal.
type TrackOptions struct {
	Group string // Display group
	Label string // Y-axis label (default: Voltage or Current)
}

type tracked struct {
	name   string // Result name: "/net", "/inst/pin" or the custom name
	kind   backend.SignalKind
	label  string
	group  string
	hidden bool // Saved only as a custom function input

	fn     CustomFunc
	inputs []string
}

func (t *tracked) custom() bool { return t.fn != nil }

// Simulation is a configured simulation of one schematic. Like the
// schematic it is owned by one goroutine.
type Simulation struct {
	sch    *schematic.Schematic
	be     backend.Simulator
	opts   Options
	logger *log.Logger

	resultsDir string
	duration   float64

	signals []*tracked
	index   map[string]*tracked
}

// New selects the schematic's design, netlists it and sets up model files
// and the analysis order.
func New(ctx context.Context, sch *schematic.Schematic, be backend.Simulator, opts Options) (*Simulation, error) {
	if sch == nil || be == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "schematic and simulator are required")
	}
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}

	resultsDir, err := filepath.Abs(filepath.Join(opts.OutputDir, sch.Cell))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "results directory")
	}

	if err := be.Design(ctx, sch.Lib, sch.Cell, opts.View); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "select design %s/%s", sch.Lib, sch.Cell)
	}
	if err := be.ResultsDir(ctx, resultsDir); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "set results directory")
	}
	if err := be.CreateNetlist(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "create netlist")
	}
	if len(opts.ModelFiles) > 0 {
		models := make([]string, len(opts.ModelFiles))
		for i, m := range opts.ModelFiles {
			if models[i], err = filepath.Abs(m); err != nil {
				return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "model file %s", m)
			}
		}
		if err := be.ModelFiles(ctx, models...); err != nil {
			return nil, errors.Wrap(errors.ErrCodeBackend, err, "set model files")
		}
	}
	if err := be.AnalysisOrder(ctx, analysisTran); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "set analysis order")
	}

	opts.Logger.Debug("simulation configured", "lib", sch.Lib, "cell", sch.Cell, "results", resultsDir)
	return &Simulation{
		sch:        sch,
		be:         be,
		opts:       opts,
		logger:     opts.Logger,
		resultsDir: resultsDir,
		index:      make(map[string]*tracked),
	}, nil
}

// ResultsDir returns the absolute results directory.
func (s *Simulation) ResultsDir() string { return s.resultsDir }

// Duration returns the configured transient stop time, or 0.
func (s *Simulation) Duration() float64 { return s.duration }

// =============================================================================
// Analysis and stimuli
// =============================================================================

// Tran configures a transient analysis of the given duration, which uses
// the SI value grammar ("50n", "1e-6").
func (s *Simulation) Tran(ctx context.Context, duration string) error {
	d, err := units.Parse(duration)
	if err != nil {
		return err
	}
	return s.TranSeconds(ctx, d)
}

// TranSeconds is Tran with the duration in seconds.
func (s *Simulation) TranSeconds(ctx context.Context, duration float64) error {
	if !(duration > 0) {
		return errors.New(errors.ErrCodeInvalidInput, "transient duration must be positive, got %g", duration)
	}
	if err := s.be.Analysis(ctx, analysisTran, backend.Options{
		{Key: "start", Value: "0"},
		{Key: "stop", Value: strconv.FormatFloat(duration, 'g', -1, 64)},
		{Key: "errpreset", Value: s.opts.ErrPreset},
	}); err != nil {
		return errors.Wrap(errors.ErrCodeBackend, err, "configure transient analysis")
	}
	s.duration = duration
	s.logger.Debug("transient analysis configured", "stop", duration, "errpreset", s.opts.ErrPreset)
	return nil
}

// StimulusPath returns the path of the stimulus file.
func (s *Simulation) StimulusPath() string {
	return filepath.Join(s.resultsDir, stimulus.FileName)
}

// ApplyStimuli rewrites the stimulus file with stims and points the
// simulator at it.
func (s *Simulation) ApplyStimuli(ctx context.Context, stims []stimulus.Stimulus) error {
	for _, st := range stims {
		if !s.sch.HasNet(st.SignalName()) {
			s.logger.Warn("stimulus drives a net the schematic never named", "net", st.SignalName())
		}
	}
	path := s.StimulusPath()
	if err := stimulus.WriteFile(path, stims, s.opts.BitDefaults); err != nil {
		return err
	}
	if err := s.be.StimulusFile(ctx, path); err != nil {
		return errors.Wrap(errors.ErrCodeBackend, err, "set stimulus file")
	}
	s.logger.Debug("stimuli applied", "count", len(stims), "path", path)
	return nil
}

// =============================================================================
// Tracking
// =============================================================================

// TrackNet saves the voltage of a net. Nets named by a wire label or a
// top-level pin are the reliable ones; any other name is saved anyway and
// logged as a warning.
func (s *Simulation) TrackNet(ctx context.Context, net string, opts TrackOptions) error {
	net = strings.TrimPrefix(net, "/")
	if net == "" {
		return errors.New(errors.ErrCodeInvalidInput, "net name cannot be empty")
	}
	if !s.sch.HasNet(net) {
		s.logger.Warn("tracking a net the schematic never named", "net", net)
	}
	if opts.Label == "" {
		opts.Label = "Voltage"
	}
	_, err := s.save(ctx, backend.SignalVoltage, net, opts, false)
	return err
}

// TrackPin saves the current through an instance pin.
func (s *Simulation) TrackPin(ctx context.Context, pin *schematic.Pin, opts TrackOptions) error {
	if pin == nil {
		return errors.New(errors.ErrCodeInvalidInput, "pin is nil")
	}
	if opts.Label == "" {
		opts.Label = "Current"
	}
	_, err := s.save(ctx, backend.SignalCurrent, pin.QualifiedName, opts, false)
	return err
}

// TrackPinName is TrackPin for a qualified pin name ("/MN0/D").
func (s *Simulation) TrackPinName(ctx context.Context, qualified string, opts TrackOptions) error {
	pin, err := s.sch.LookupPin(qualified)
	if err != nil {
		return err
	}
	return s.TrackPin(ctx, pin, opts)
}

// TrackCustom adds a signal computed from other signals after every
// successful run. Inputs that are not tracked yet are saved without being
// listed on their own.
func (s *Simulation) TrackCustom(ctx context.Context, name, yLabel string, fn CustomFunc, inputs []Input, opts TrackOptions) error {
	if name == "" {
		return errors.New(errors.ErrCodeInvalidInput, "custom signal name cannot be empty")
	}
	if fn == nil {
		return errors.New(errors.ErrCodeInvalidInput, "custom signal %s has no function", name)
	}
	if len(inputs) == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "custom signal %s has no inputs", name)
	}
	if _, dup := s.index[name]; dup {
		return errors.New(errors.ErrCodeDuplicateSignal, "%s is already a tracked signal", name)
	}

	names := make([]string, len(inputs))
	for i, in := range inputs {
		if in.Kind != backend.SignalVoltage && in.Kind != backend.SignalCurrent {
			return errors.New(errors.ErrCodeInvalidInput, "custom signal %s: input %s has invalid kind %q", name, in.Name, in.Kind)
		}
		ref := in.Name
		if in.Kind == backend.SignalVoltage {
			ref = strings.TrimPrefix(ref, "/")
		}
		t, err := s.save(ctx, in.Kind, ref, TrackOptions{Label: string(in.Kind)}, true)
		if err != nil {
			return err
		}
		names[i] = t.name
	}

	if opts.Label == "" {
		opts.Label = yLabel
	}
	t := &tracked{name: name, label: opts.Label, group: opts.Group, fn: fn, inputs: names}
	s.signals = append(s.signals, t)
	s.index[name] = t
	s.logger.Debug("custom signal tracked", "name", name, "inputs", names)
	return nil
}

// save issues SaveSignal and records the signal. Saving a signal again
// updates its group and label; a hidden save never hides a listed signal.
func (s *Simulation) save(ctx context.Context, kind backend.SignalKind, ref string, opts TrackOptions, hidden bool) (*tracked, error) {
	name := ref
	if kind == backend.SignalVoltage {
		name = "/" + ref
	}
	if t, ok := s.index[name]; ok {
		if t.custom() {
			return nil, errors.New(errors.ErrCodeDuplicateSignal, "%s is already a custom signal", name)
		}
		if !hidden {
			t.hidden = false
			t.label, t.group = opts.Label, opts.Group
		}
		return t, nil
	}

	if err := s.be.SaveSignal(ctx, kind, ref); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "save %s(%s)", kind, ref)
	}
	t := &tracked{name: name, kind: kind, label: opts.Label, group: opts.Group, hidden: hidden}
	s.signals = append(s.signals, t)
	s.index[name] = t
	s.logger.Debug("signal tracked", "kind", kind, "name", name)
	return t, nil
}

// Signals returns the names of the tracked signals in tracking order,
// custom signals included.
func (s *Simulation) Signals() []string {
	names := make([]string, len(s.signals))
	for i, t := range s.signals {
		names[i] = t.name
	}
	return names
}

// Groups returns the distinct display groups in first-use order.
func (s *Simulation) Groups() []string {
	var groups []string
	for _, t := range s.signals {
		if t.group != "" && !slices.Contains(groups, t.group) {
			groups = append(groups, t.group)
		}
	}
	return groups
}
