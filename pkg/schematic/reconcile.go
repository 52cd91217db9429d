package schematic

import (
	"context"
	"fmt"
	"slices"

	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/units"
)

// Mismatch is an applied parameter whose calculated value differs.
type Mismatch struct {
	Instance   string `json:"instance"`
	Param      string `json:"param"`
	Calculated string `json:"calculated"`
	Applied    Value  `json:"applied"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s.%s: calculated %s, applied %s", m.Instance, m.Param, m.Calculated, m.Applied)
}

// ConsistencyResult is the outcome of ReconcileParameters. It is advisory:
// mismatches are expected for values the backend rounds.
type ConsistencyResult struct {
	Checked    int        `json:"checked"`
	Skipped    int        `json:"skipped"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// OK reports whether no mismatch was found.
func (r ConsistencyResult) OK() bool { return len(r.Mismatches) == 0 }

// Err returns a PARAM_MISMATCH error describing the mismatches, or nil.
func (r ConsistencyResult) Err() error {
	if r.OK() {
		return nil
	}
	return errors.New(errors.ErrCodeParamMismatch, "%d parameter(s) differ from their applied values, first: %s",
		len(r.Mismatches), r.Mismatches[0])
}

// RunCallbacks runs the backend's parameter callbacks on the cell and
// re-reads every instance's parameters, so Calculated reports the values
// the callbacks produced.
func (s *Schematic) RunCallbacks(ctx context.Context) error {
	if err := s.be.RunCallbacks(ctx, s.cell); err != nil {
		return errors.Wrap(errors.ErrCodeBackend, err, "run callbacks on %s", s.Cell)
	}
	for _, inst := range s.instances {
		if err := inst.refresh(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ReconcileParameters re-reads every instance's parameters and compares
// them with the applied values. Applied values are skipped when they are
// empty or symbolic (a Var, or text naming a declared param var), when the
// parameter or the value is listed in CDF-ignore, and for the model name.
// Numeric text is compared after unit normalization with units.IsClose;
// anything else must match exactly.
func (s *Schematic) ReconcileParameters(ctx context.Context) (ConsistencyResult, error) {
	var res ConsistencyResult
	for _, inst := range s.instances {
		if len(inst.applied) == 0 {
			continue
		}
		if err := inst.refresh(ctx); err != nil {
			return res, err
		}
		for _, a := range inst.applied {
			if s.skipReconcile(a) {
				res.Skipped++
				continue
			}
			res.Checked++

			calc, err := inst.Calculated(a.Name)
			if err != nil || !matches(calc, a.Value) {
				m := Mismatch{Instance: inst.Name, Param: a.Name, Calculated: calc, Applied: a.Value}
				res.Mismatches = append(res.Mismatches, m)
				s.logger.Warn("calculated parameter differs from applied value",
					"instance", inst.Name, "param", a.Name, "calculated", calc, "applied", a.Value)
			}
		}
	}
	return res, nil
}

func (s *Schematic) skipReconcile(a Applied) bool {
	switch {
	case a.Value.Empty(), a.Name == "model":
		return true
	case a.Value.Kind == KindVar:
		return true
	case slices.Contains(s.cdfIgnore, a.Name):
		return true
	case a.Value.Kind == KindString && (slices.Contains(s.paramVars, a.Value.Text) || slices.Contains(s.cdfIgnore, a.Value.Text)):
		return true
	}
	return false
}

func matches(calculated string, applied Value) bool {
	want, err := applied.Float()
	if err != nil {
		return calculated == applied.Backend()
	}
	got, err := units.Parse(calculated)
	if err != nil {
		return false
	}
	return units.IsClose(got, want)
}

// SaveOptions configures Save.
type SaveOptions struct {
	Callbacks bool // Run parameter callbacks and reconcile before saving
}

// Save checks and saves the cell. With Callbacks, parameter callbacks run
// first and their result is reconciled; mismatches do not stop the save.
func (s *Schematic) Save(ctx context.Context, opts SaveOptions) (ConsistencyResult, error) {
	var res ConsistencyResult
	if opts.Callbacks {
		if err := s.RunCallbacks(ctx); err != nil {
			return res, err
		}
		var err error
		if res, err = s.ReconcileParameters(ctx); err != nil {
			return res, err
		}
	}
	if err := s.be.Check(ctx, s.cell); err != nil {
		return res, errors.Wrap(errors.ErrCodeBackend, err, "check %s", s.Cell)
	}
	if err := s.be.Save(ctx, s.cell); err != nil {
		return res, errors.Wrap(errors.ErrCodeBackend, err, "save %s", s.Cell)
	}
	s.logger.Debug("cell saved", "lib", s.Lib, "cell", s.Cell, "mismatches", len(res.Mismatches))
	return res, nil
}
