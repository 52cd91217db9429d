package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/observability"
	"github.com/matzehuels/cellforge/pkg/units"
	"github.com/matzehuels/cellforge/pkg/waveform"
)

// Status is the outcome of a run.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded" // Some signals were dropped
	StatusFailed   Status = "failed"   // No usable results
)

// Diagnostic describes one problem found while collecting results.
type Diagnostic struct {
	Code    errors.Code `json:"code" bson:"code"`
	Signal  string      `json:"signal,omitempty" bson:"signal,omitempty"`
	Message string      `json:"message" bson:"message"`
}

// Run is the result of one Simulation.Run call.
type Run struct {
	ID          string        `json:"id" bson:"_id"`
	Status      Status        `json:"status" bson:"status"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty" bson:"diagnostics,omitempty"`
	Results     *ResultSet    `json:"results,omitempty" bson:"results,omitempty"`
	Started     time.Time     `json:"started" bson:"started"`
	Elapsed     time.Duration `json:"elapsed" bson:"elapsed"`
}

// OK reports whether every tracked signal was collected.
func (r *Run) OK() bool { return r.Status == StatusOK }

// Err returns the first diagnostic of a failed run as an error, or nil.
func (r *Run) Err() error {
	if r.Status != StatusFailed {
		return nil
	}
	if len(r.Diagnostics) == 0 {
		return errors.New(errors.ErrCodeInternal, "run %s failed", r.ID)
	}
	d := r.Diagnostics[0]
	return errors.New(d.Code, "run %s failed: %s", r.ID, d.Message)
}

func (r *Run) diagnose(code errors.Code, signal, format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Code: code, Signal: signal, Message: fmt.Sprintf(format, args...)})
}

func (r *Run) degrade() {
	if r.Status == StatusOK {
		r.Status = StatusDegraded
	}
}

// =============================================================================
// Result set
// =============================================================================

// Signal is the collected data of one signal.
type Signal struct {
	Name   string             `json:"name" bson:"name"`
	Kind   backend.SignalKind `json:"kind,omitempty" bson:"kind,omitempty"` // Empty for custom signals
	Label  string             `json:"label" bson:"label"`
	Group  string             `json:"group,omitempty" bson:"group,omitempty"`
	Hidden bool               `json:"hidden,omitempty" bson:"hidden,omitempty"`
	Custom bool               `json:"custom,omitempty" bson:"custom,omitempty"`
	Values [][]float64        `json:"values" bson:"values"` // One array per sweep point
}

// ResultSet holds every collected signal against a shared sweep structure.
// Points[i] and Time[i] describe sweep point i; Values[i] of every signal
// has len(Time[i]) samples.
type ResultSet struct {
	Sweeps  []backend.SweepParam `json:"sweeps,omitempty" bson:"sweeps,omitempty"`
	Points  [][]float64          `json:"points" bson:"points"`
	Time    [][]float64          `json:"time" bson:"time"`
	Signals []Signal             `json:"signals" bson:"signals"`
}

// Len returns the number of sweep points.
func (rs *ResultSet) Len() int { return len(rs.Time) }

// Signal returns the named signal.
func (rs *ResultSet) Signal(name string) (*Signal, bool) {
	for i := range rs.Signals {
		if rs.Signals[i].Name == name {
			return &rs.Signals[i], true
		}
	}
	return nil, false
}

// Names returns the signal names in tracking order.
func (rs *ResultSet) Names() []string {
	names := make([]string, len(rs.Signals))
	for i, s := range rs.Signals {
		names[i] = s.Name
	}
	return names
}

// Point is one sweep point of a result set.
type Point struct {
	Sweep  []float64
	Time   []float64
	Values map[string][]float64
}

// At returns sweep point i.
func (rs *ResultSet) At(i int) Point {
	p := Point{Sweep: rs.Points[i], Time: rs.Time[i], Values: make(map[string][]float64, len(rs.Signals))}
	for _, s := range rs.Signals {
		p.Values[s.Name] = s.Values[i]
	}
	return p
}

// =============================================================================
// Running
// =============================================================================

// Run executes the transient analysis. With sweeps, each design variable is
// declared at its first value and the sweeps are nested in order, first
// parameter outermost. Signal extraction and convergence problems are
// reported on the returned Run; errors are returned for backend failures.
func (s *Simulation) Run(ctx context.Context, sweeps []backend.SweepParam) (_ *Run, err error) {
	if s.duration == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "no transient analysis configured, call Tran first")
	}
	for _, p := range sweeps {
		if p.Name == "" || len(p.Values) == 0 {
			return nil, errors.New(errors.ErrCodeInvalidInput, "sweep parameter %q needs a name and values", p.Name)
		}
	}

	run := &Run{ID: uuid.NewString(), Status: StatusOK, Started: time.Now()}
	hooks := observability.Sim()
	hooks.OnRunStart(ctx, s.sch.Cell, sweepPoints(sweeps))
	defer func() {
		run.Elapsed = time.Since(run.Started)
		if err != nil {
			hooks.OnRunComplete(ctx, s.sch.Cell, "", run.Elapsed, err)
			return
		}
		hooks.OnRunComplete(ctx, s.sch.Cell, string(run.Status), run.Elapsed, nil)
	}()

	if err := s.be.Temperature(ctx, *s.opts.Temperature); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "set temperature")
	}
	if len(sweeps) > 0 {
		for _, p := range sweeps {
			if err := s.be.DesignVariable(ctx, p.Name, p.Values[0]); err != nil {
				return nil, errors.Wrap(errors.ErrCodeBackend, err, "declare %s", p.Name)
			}
		}
		if err := s.be.Sweep(ctx, sweeps); err != nil {
			return nil, errors.Wrap(errors.ErrCodeBackend, err, "register sweep")
		}
		if err := s.be.RunSweep(ctx); err != nil {
			return nil, errors.Wrap(errors.ErrCodeBackend, err, "run sweep")
		}
	} else if err := s.be.Run(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "run")
	}
	s.logger.Info("simulation finished", "run", run.ID, "sweeps", len(sweeps))

	if err := s.be.SelectResult(ctx, analysisTran); err != nil {
		s.logger.Warn("selecting transient results failed", "err", err)
	}

	rs, err := s.extract(ctx, run)
	if err != nil {
		return nil, err
	}
	rs.Sweeps = sweeps
	run.Results = rs
	if run.Status == StatusFailed {
		return run, nil
	}

	if !s.converged(run, rs) {
		run.Status = StatusFailed
		return run, nil
	}
	s.computeCustom(run, rs)
	return run, nil
}

func sweepPoints(sweeps []backend.SweepParam) int {
	n := 1
	for _, p := range sweeps {
		n *= len(p.Values)
	}
	return n
}

// extract reads every saved signal and unpacks them against one sweep
// structure.
func (s *Simulation) extract(ctx context.Context, run *Run) (*ResultSet, error) {
	rs := &ResultSet{}
	var named []waveform.Named
	for _, t := range s.signals {
		if t.custom() {
			continue
		}
		w, err := s.be.Signal(ctx, t.kind, t.name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(errors.ErrCodeTimeout, ctx.Err(), "extract %s", t.name)
			}
			run.diagnose(errors.ErrCodeSignalExtraction, t.name, "unable to extract %s: %v", t.name, err)
			run.degrade()
			s.logger.Warn("signal extraction failed", "signal", t.name, "err", err)
			continue
		}
		named = append(named, waveform.Named{Name: t.name, Wave: w})
	}

	if len(named) == 0 {
		if len(s.signals) > 0 {
			run.diagnose(errors.ErrCodeSignalExtraction, "", "no signal could be extracted")
			run.Status = StatusFailed
		}
		return rs, nil
	}

	set, err := waveform.Collect(named)
	for _, rej := range set.Rejected {
		run.diagnose(errors.ErrCodeSignalExtraction, rej.Name, "unable to unpack %s: %v", rej.Name, rej.Err)
		run.degrade()
		s.logger.Warn("signal unpacking failed", "signal", rej.Name, "err", rej.Err)
	}
	if err != nil {
		run.diagnose(errors.ErrCodeSignalExtraction, "", "%v", err)
		run.Status = StatusFailed
		return rs, nil
	}

	rs.Points, rs.Time = set.Sweeps, set.Time
	for _, sig := range set.Signals {
		t := s.index[sig.Name]
		rs.Signals = append(rs.Signals, Signal{
			Name:   sig.Name,
			Kind:   t.kind,
			Label:  t.label,
			Group:  t.group,
			Hidden: t.hidden,
			Values: sig.Values,
		})
	}
	return rs, nil
}

// converged checks that every sweep point reached the requested duration.
// The comparison is relative only: an absolute tolerance would swallow
// nanosecond-scale shortfalls.
func (s *Simulation) converged(run *Run, rs *ResultSet) bool {
	ok := true
	for i, x := range rs.Time {
		if len(x) == 0 {
			run.diagnose(errors.ErrCodeNonconvergence, "", "point %d has no samples", i)
			ok = false
			continue
		}
		if last := x[len(x)-1]; !scalar.EqualWithinRel(last, s.duration, units.RelTol) {
			run.diagnose(errors.ErrCodeNonconvergence, "", "point %d stopped at %g, want %g", i, last, s.duration)
			s.logger.Warn("simulation did not converge", "point", i, "stopped", last, "duration", s.duration)
			ok = false
		}
	}
	return ok
}

// computeCustom evaluates custom signals point by point. A custom signal
// whose inputs were dropped or whose function fails is itself dropped.
func (s *Simulation) computeCustom(run *Run, rs *ResultSet) {
	for _, t := range s.signals {
		if !t.custom() {
			continue
		}
		values, err := s.evalCustom(t, rs)
		if err != nil {
			run.diagnose(errors.ErrCodeSignalExtraction, t.name, "custom signal %s: %v", t.name, err)
			run.degrade()
			s.logger.Warn("custom signal failed", "signal", t.name, "err", err)
			continue
		}
		rs.Signals = append(rs.Signals, Signal{Name: t.name, Label: t.label, Group: t.group, Custom: true, Values: values})
	}
}

func (s *Simulation) evalCustom(t *tracked, rs *ResultSet) ([][]float64, error) {
	inputs := make([]*Signal, len(t.inputs))
	for i, name := range t.inputs {
		sig, ok := rs.Signal(name)
		if !ok {
			return nil, fmt.Errorf("input %s was not collected", name)
		}
		inputs[i] = sig
	}

	values := make([][]float64, rs.Len())
	for p := range values {
		args := make([][]float64, len(inputs))
		for i, sig := range inputs {
			args[i] = sig.Values[p]
		}
		y, err := t.fn(args)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", p, err)
		}
		if len(y) != len(rs.Time[p]) {
			return nil, fmt.Errorf("point %d: %d samples, want %d", p, len(y), len(rs.Time[p]))
		}
		values[p] = y
	}
	return values, nil
}
