package waveform

import (
	"slices"

	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/units"
)

// maxDepth bounds the number of nesting levels Unpack follows.
const maxDepth = 32

// Leaf is one fully-resolved sweep point of a signal.
type Leaf struct {
	// Sweep holds the value of each swept parameter, outermost first.
	// It is empty for an unswept signal.
	Sweep []float64

	X []float64
	Y []float64
}

type node struct {
	sweep []float64
	wave  Waveform
}

// Unpack flattens w into its leaves in row-major order.
func Unpack(w Waveform) ([]Leaf, error) {
	if w == nil {
		return nil, errors.New(errors.ErrCodeInvalidWaveform, "nil waveform")
	}

	frontier := []node{{wave: w}}
	for depth := 0; ; depth++ {
		nested, err := isNested(frontier[0].wave)
		if err != nil {
			return nil, err
		}
		if !nested {
			break
		}
		if depth == maxDepth {
			return nil, errors.New(errors.ErrCodeInvalidWaveform, "waveform nested deeper than %d levels", maxDepth)
		}

		var next []node
		for _, n := range frontier {
			children, err := expand(n, depth)
			if err != nil {
				return nil, err
			}
			next = append(next, children...)
		}
		if len(next) == 0 {
			return nil, errors.New(errors.ErrCodeInvalidWaveform, "sweep level %d has no children", depth)
		}
		frontier = next
	}

	leaves := make([]Leaf, 0, len(frontier))
	for i, n := range frontier {
		x, y, err := numeric(n.wave)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidWaveform, err, "leaf %d", i)
		}
		leaves = append(leaves, Leaf{Sweep: n.sweep, X: x, Y: y})
	}
	return leaves, nil
}

// isNested reports whether the first Y element of w is itself a waveform.
func isNested(w Waveform) (bool, error) {
	y, err := w.YVec()
	if err != nil {
		return false, err
	}
	if y.Len() == 0 {
		return false, nil
	}
	el, err := y.At(0)
	if err != nil {
		return false, err
	}
	switch el.(type) {
	case float64:
		return false, nil
	case Waveform:
		return true, nil
	}
	return false, errors.New(errors.ErrCodeInvalidWaveform, "unsupported element type %T", el)
}

// expand returns the children of one sweep node, tagging each with its sweep
// coordinate.
func expand(n node, depth int) ([]node, error) {
	x, err := n.wave.XVec()
	if err != nil {
		return nil, err
	}
	y, err := n.wave.YVec()
	if err != nil {
		return nil, err
	}
	if x.Len() != y.Len() {
		return nil, errors.New(errors.ErrCodeInvalidWaveform,
			"sweep level %d has %d sweep values for %d children", depth, x.Len(), y.Len())
	}

	out := make([]node, 0, y.Len())
	for i := 0; i < y.Len(); i++ {
		xv, err := x.At(i)
		if err != nil {
			return nil, err
		}
		sv, ok := xv.(float64)
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidWaveform, "sweep value %d at level %d is %T, want float64", i, depth, xv)
		}
		yv, err := y.At(i)
		if err != nil {
			return nil, err
		}
		child, ok := yv.(Waveform)
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidWaveform, "mixed element kinds at sweep level %d", depth)
		}
		sweep := append(slices.Clone(n.sweep), sv)
		out = append(out, node{sweep: sweep, wave: child})
	}
	return out, nil
}

// numeric reads the X and Y vectors of a leaf waveform.
func numeric(w Waveform) (x, y []float64, err error) {
	xv, err := w.XVec()
	if err != nil {
		return nil, nil, err
	}
	yv, err := w.YVec()
	if err != nil {
		return nil, nil, err
	}
	if x, err = floats(xv); err != nil {
		return nil, nil, err
	}
	if y, err = floats(yv); err != nil {
		return nil, nil, err
	}
	if len(x) != len(y) {
		return nil, nil, errors.New(errors.ErrCodeInvalidWaveform, "x has %d samples, y has %d", len(x), len(y))
	}
	return x, y, nil
}

func floats(v Vector) ([]float64, error) {
	if f, ok := v.(Floats); ok {
		return slices.Clone(f), nil
	}
	out := make([]float64, v.Len())
	for i := range out {
		el, err := v.At(i)
		if err != nil {
			return nil, err
		}
		f, ok := el.(float64)
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidWaveform, "element %d is %T, want float64", i, el)
		}
		out[i] = f
	}
	return out, nil
}

// =============================================================================
// Collecting signals
// =============================================================================

// Named pairs a waveform with the signal name it was extracted for.
type Named struct {
	Name string
	Wave Waveform
}

// Signal is an unpacked signal: one value array per sweep point.
type Signal struct {
	Name   string
	Values [][]float64
}

// Rejection records a signal that could not be aligned with the others.
type Rejection struct {
	Name string
	Err  error
}

// Set is a group of signals unpacked against a shared sweep structure.
type Set struct {
	// Sweeps holds the sweep coordinates of each point, outermost first.
	Sweeps [][]float64

	// Time holds the X samples of each point.
	Time [][]float64

	Signals  []Signal
	Rejected []Rejection
}

// Len returns the number of sweep points.
func (s *Set) Len() int { return len(s.Time) }

// Collect unpacks every signal. The first signal that unpacks cleanly
// defines the sweep structure; any later signal whose sweep points or sample
// counts differ from it is rejected on its own. Collect only fails when no
// signal could be used.
func Collect(named []Named) (*Set, error) {
	set := &Set{}
	var ref []Leaf

	for _, n := range named {
		leaves, err := Unpack(n.Wave)
		if err != nil {
			set.Rejected = append(set.Rejected, Rejection{Name: n.Name, Err: err})
			continue
		}

		if ref == nil {
			ref = leaves
			for _, l := range leaves {
				set.Sweeps = append(set.Sweeps, l.Sweep)
				set.Time = append(set.Time, l.X)
			}
		} else if err := aligned(ref, leaves); err != nil {
			set.Rejected = append(set.Rejected, Rejection{Name: n.Name, Err: err})
			continue
		}

		values := make([][]float64, len(leaves))
		for i, l := range leaves {
			values[i] = l.Y
		}
		set.Signals = append(set.Signals, Signal{Name: n.Name, Values: values})
	}

	if len(set.Signals) == 0 && len(named) > 0 {
		return set, errors.New(errors.ErrCodeSignalExtraction, "none of %d signals could be unpacked", len(named))
	}
	return set, nil
}

func aligned(ref, leaves []Leaf) error {
	if len(ref) != len(leaves) {
		return errors.New(errors.ErrCodeInvalidWaveform, "%d sweep points, want %d", len(leaves), len(ref))
	}
	for i := range ref {
		if len(ref[i].Sweep) != len(leaves[i].Sweep) {
			return errors.New(errors.ErrCodeInvalidWaveform, "point %d has %d sweep levels, want %d",
				i, len(leaves[i].Sweep), len(ref[i].Sweep))
		}
		for j := range ref[i].Sweep {
			if !units.IsClose(leaves[i].Sweep[j], ref[i].Sweep[j]) {
				return errors.New(errors.ErrCodeInvalidWaveform, "point %d sweep value %g, want %g",
					i, leaves[i].Sweep[j], ref[i].Sweep[j])
			}
		}
		if len(leaves[i].Y) != len(ref[i].X) {
			return errors.New(errors.ErrCodeInvalidWaveform, "point %d has %d samples, want %d",
				i, len(leaves[i].Y), len(ref[i].X))
		}
	}
	return nil
}
