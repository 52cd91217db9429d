// Package waveform flattens parametric waveform trees returned by a
// simulator into per-sweep-point numeric arrays.
//
// # Shape
//
// An unswept signal is a flat waveform: an X vector of time samples and a Y
// vector of values. A signal from a parametric sweep is nested: its X vector
// holds the swept parameter's values and its Y vector holds one child
// waveform per value. Each additional swept parameter adds one nesting level.
//
// [Unpack] walks the tree level by level until the Y elements are numbers and
// returns one [Leaf] per combination of sweep values, in row-major order (the
// first, outermost parameter varies slowest). Every signal from the same run
// unpacks in the same order, so index i means the same parameter combination
// for all of them; [Collect] enforces this across signals.
//
// # Backends
//
// The [Waveform] and [Vector] interfaces are deliberately small so a backend
// adapter can wrap remote handles lazily. [Literal] is the in-memory
// implementation used by the memory backend and in tests.
package waveform

import (
	"github.com/matzehuels/cellforge/pkg/errors"
)

// Vector is an indexable sequence. Elements are float64 values or nested
// Waveforms.
type Vector interface {
	Len() int
	At(i int) (any, error)
}

// Waveform is a signal as returned by a simulator.
type Waveform interface {
	XVec() (Vector, error)
	YVec() (Vector, error)
}

// ErrInvalidWaveform matches structural problems found while unpacking.
var ErrInvalidWaveform = errors.Sentinel(errors.ErrCodeInvalidWaveform)

// =============================================================================
// In-memory implementations
// =============================================================================

// Floats is a numeric Vector.
type Floats []float64

// Len returns the number of samples.
func (f Floats) Len() int { return len(f) }

// At returns sample i as a float64.
func (f Floats) At(i int) (any, error) {
	if i < 0 || i >= len(f) {
		return nil, errors.New(errors.ErrCodeInvalidWaveform, "index %d out of range [0, %d)", i, len(f))
	}
	return f[i], nil
}

// Waves is a Vector of nested waveforms.
type Waves []Waveform

// Len returns the number of children.
func (w Waves) Len() int { return len(w) }

// At returns child i as a Waveform.
func (w Waves) At(i int) (any, error) {
	if i < 0 || i >= len(w) {
		return nil, errors.New(errors.ErrCodeInvalidWaveform, "index %d out of range [0, %d)", i, len(w))
	}
	return w[i], nil
}

// Literal is an in-memory Waveform.
type Literal struct {
	X Vector
	Y Vector
}

// Flat builds an unswept waveform.
func Flat(x, y []float64) *Literal {
	return &Literal{X: Floats(x), Y: Floats(y)}
}

// Nested builds one sweep level: children[i] is the waveform for
// sweepValues[i].
func Nested(sweepValues []float64, children ...Waveform) *Literal {
	return &Literal{X: Floats(sweepValues), Y: Waves(children)}
}

// XVec returns the X vector.
func (l *Literal) XVec() (Vector, error) {
	if l == nil || l.X == nil {
		return nil, errors.New(errors.ErrCodeInvalidWaveform, "waveform has no x vector")
	}
	return l.X, nil
}

// YVec returns the Y vector.
func (l *Literal) YVec() (Vector, error) {
	if l == nil || l.Y == nil {
		return nil, errors.New(errors.ErrCodeInvalidWaveform, "waveform has no y vector")
	}
	return l.Y, nil
}

// Ensure Literal implements Waveform.
var _ Waveform = (*Literal)(nil)
