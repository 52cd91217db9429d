// Package connpos resolves relative placement requests against existing pins.
//
// A [Directive] says "put the new thing offset grid units above (below, left
// of, ...) this pin, wire it back to the pin, and optionally label the net".
// [Resolve] turns the direction and offset into two points: the anchor where
// the new instance or pin is placed, and the label offset used for the net
// label on the connecting wire. The label offset is always half the placement
// offset along the same axes.
//
// Resolution is a pure function: it never talks to the backend.
//
//	d := connpos.New(mn1.Pin("D"), "MINUS", connpos.Above, connpos.WithNet("vout"))
//	anchor, label, err := d.Resolve()
package connpos

import (
	"strings"

	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
)

// DefaultOffset is the placement distance used when none is given.
const DefaultOffset = 10.0

// Sentinel errors for use with errors.Is.
var (
	// ErrInvalidDirection matches any unrecognized direction token.
	ErrInvalidDirection = errors.Sentinel(errors.ErrCodeInvalidDirection)

	// ErrInvalidPlacement matches a directive that cannot be resolved.
	ErrInvalidPlacement = errors.Sentinel(errors.ErrCodeInvalidPlacement)
)

// =============================================================================
// Direction
// =============================================================================

// Direction is the side of the external pin the new element is placed on.
type Direction int

const (
	Above Direction = iota + 1
	Below
	Left
	Right
	UpRight
)

var directionNames = map[Direction]string{
	Above:   "above",
	Below:   "below",
	Left:    "left",
	Right:   "right",
	UpRight: "upright",
}

var directionTokens = map[string]Direction{
	"above":   Above,
	"up":      Above,
	"below":   Below,
	"down":    Below,
	"left":    Left,
	"right":   Right,
	"upright": UpRight,
}

// ParseDirection parses a direction token. "up" and "down" are accepted as
// aliases for "above" and "below". Matching is case-insensitive.
func ParseDirection(s string) (Direction, error) {
	if d, ok := directionTokens[strings.ToLower(strings.TrimSpace(s))]; ok {
		return d, nil
	}
	return 0, errors.New(errors.ErrCodeInvalidDirection,
		"unknown direction %q (valid: above, up, below, down, left, right, upright)", s)
}

// String returns the canonical token for d.
func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return "invalid"
}

// Valid reports whether d is one of the defined directions.
func (d Direction) Valid() bool {
	_, ok := directionNames[d]
	return ok
}

// MarshalText encodes d as its canonical token.
func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, errors.New(errors.ErrCodeInvalidDirection, "invalid direction %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText decodes a direction token.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// Resolution
// =============================================================================

// Resolve computes the anchor for a new element placed offset grid units from
// pos in direction dir, and the offset of the net label relative to pos.
func Resolve(pos geom.Point, dir Direction, offset float64) (anchor, label geom.Point, err error) {
	if offset <= 0 {
		return geom.Point{}, geom.Point{}, errors.New(errors.ErrCodeInvalidPlacement,
			"offset must be positive, got %g", offset)
	}

	half := offset / 2
	switch dir {
	case Above:
		return pos.Add(geom.Pt(0, offset)), geom.Pt(0, half), nil
	case Below:
		return pos.Sub(geom.Pt(0, offset)), geom.Pt(0, half), nil
	case Left:
		return pos.Sub(geom.Pt(offset, 0)), geom.Pt(half, 0), nil
	case Right:
		return pos.Add(geom.Pt(offset, 0)), geom.Pt(half, 0), nil
	case UpRight:
		return pos.Add(geom.Pt(offset, offset)), geom.Pt(half, half), nil
	}
	return geom.Point{}, geom.Point{}, errors.New(errors.ErrCodeInvalidDirection, "invalid direction %d", int(dir))
}

// =============================================================================
// Directive
// =============================================================================

// Anchor is anything with a grid position, typically a schematic pin.
type Anchor interface {
	GridPos() geom.Point
}

// Directive is a placement request relative to an existing pin.
type Directive struct {
	// External is the existing pin the new element is placed relative to.
	External Anchor

	// Internal names the pin on the new instance that is wired to External.
	// Ignored when the new element is a top-level pin.
	Internal string

	Direction Direction
	Offset    float64

	// NetName labels the connecting wire when non-empty.
	NetName string
}

// Option configures a Directive.
type Option func(*Directive)

// WithOffset overrides DefaultOffset.
func WithOffset(offset float64) Option {
	return func(d *Directive) { d.Offset = offset }
}

// WithNet labels the connecting wire.
func WithNet(name string) Option {
	return func(d *Directive) { d.NetName = name }
}

// New builds a Directive placing a new element relative to external.
func New(external Anchor, internal string, dir Direction, opts ...Option) *Directive {
	d := &Directive{
		External:  external,
		Internal:  internal,
		Direction: dir,
		Offset:    DefaultOffset,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Resolve resolves the directive against the current position of its
// external pin.
func (d *Directive) Resolve() (anchor, label geom.Point, err error) {
	if d == nil || d.External == nil {
		return geom.Point{}, geom.Point{}, errors.New(errors.ErrCodeInvalidPlacement, "directive has no external pin")
	}
	return Resolve(d.External.GridPos(), d.Direction, d.Offset)
}
