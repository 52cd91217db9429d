// Package geom converts schematic coordinates between grid and physical
// units and derives absolute pin positions for placed symbols.
//
// # Coordinate Systems
//
// Every position stored by cellforge is in grid units: abstract,
// integer-friendly coordinates that users type into scripts. The backend works
// in physical units, which are grid units multiplied by [SnapSpacing]. The
// conversion happens once, at the backend boundary, through [ToPhysical] and
// [ToGrid].
//
// # Pin Positions
//
// A symbol reports each pin as a bounding box in symbol-local physical units.
// [PinPosition] turns the box center into an absolute grid position by
// applying, in this order:
//
//  1. the instance mirror (MY negates X, MX negates Y)
//  2. a translation by the instance's physical position
//  3. a rotation about the instance's physical position
//  4. a conversion back to grid units
//
// Reordering these steps gives wrong results for any instance that is both
// mirrored and rotated.
package geom

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// SnapSpacing is the physical size of one grid unit.
const SnapSpacing = 0.0625

// =============================================================================
// Point
// =============================================================================

// Point is a 2D coordinate. Points hold grid units unless the surrounding
// name says otherwise (e.g. physPos).
type Point struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point { return Point{X: x, Y: y} }

// GridPos returns p itself, so a bare Point can be used anywhere a pin-like
// endpoint is accepted.
func (p Point) GridPos() Point { return p }

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Scale returns p with both coordinates multiplied by k.
func (p Point) Scale(k float64) Point { return Point{X: p.X * k, Y: p.Y * k} }

// ApproxEqual reports whether p and q differ by at most tol on each axis.
func (p Point) ApproxEqual(q Point, tol float64) bool {
	return math.Abs(p.X-q.X) <= tol && math.Abs(p.Y-q.Y) <= tol
}

// ToPhysical converts a grid-unit point to physical units.
func ToPhysical(p Point) Point { return p.Scale(SnapSpacing) }

// ToGrid converts a physical-unit point to grid units.
func ToGrid(p Point) Point { return Point{X: p.X / SnapSpacing, Y: p.Y / SnapSpacing} }

// =============================================================================
// Rotation
// =============================================================================

// quarterTurns holds exact (sin, cos) pairs for 0, 90, 180 and 270 degrees.
var quarterTurns = [4][2]float64{{0, 1}, {1, 0}, {0, -1}, {-1, 0}}

// Rotate rotates p counter-clockwise about origin by degrees. Multiples of
// 90 degrees are computed from an exact table; other angles are snapped to
// 1e-12 so tiny residues do not leak into stored positions.
func Rotate(p, origin Point, degrees float64) Point {
	sin, cos, exact := sinCos(degrees)

	r := mat.NewDense(2, 2, []float64{
		cos, -sin,
		sin, cos,
	})
	d := mat.NewVecDense(2, []float64{p.X - origin.X, p.Y - origin.Y})

	var out mat.VecDense
	out.MulVec(r, d)

	x, y := out.AtVec(0)+origin.X, out.AtVec(1)+origin.Y
	if !exact {
		x, y = snap(x), snap(y)
	}
	return Point{X: x, Y: y}
}

func sinCos(degrees float64) (sin, cos float64, exact bool) {
	if q := degrees / 90; q == math.Trunc(q) && !math.IsInf(q, 0) {
		k := int(math.Mod(q, 4))
		if k < 0 {
			k += 4
		}
		return quarterTurns[k][0], quarterTurns[k][1], true
	}
	sin, cos = math.Sincos(degrees * math.Pi / 180)
	return sin, cos, false
}

const snapEpsilon = 1e-12

func snap(v float64) float64 {
	r := math.Round(v)
	if math.Abs(v-r) < snapEpsilon {
		return r
	}
	return v
}

// =============================================================================
// Bounding Boxes and Pins
// =============================================================================

// BBox is an axis-aligned box given by two opposite corners.
type BBox struct {
	Min Point `json:"min" bson:"min"`
	Max Point `json:"max" bson:"max"`
}

// Box builds a BBox from corner coordinates.
func Box(x0, y0, x1, y1 float64) BBox {
	return BBox{Min: Pt(x0, y0), Max: Pt(x1, y1)}
}

// Center returns the midpoint of the box.
func (b BBox) Center() Point {
	w := b.Max.X - b.Min.X
	h := b.Max.Y - b.Min.Y
	return Point{X: b.Min.X + w/2, Y: b.Min.Y + h/2}
}

// PinPosition derives the absolute grid position of a pin whose symbol-local
// bbox center (physical units) is center, on an instance placed at instPhys
// (physical units) with orientation o.
func PinPosition(center, instPhys Point, o Orientation) Point {
	c := center
	switch o.Mirror {
	case MirrorY:
		c.X = -c.X
	case MirrorX:
		c.Y = -c.Y
	}
	p := c.Add(instPhys)
	p = Rotate(p, instPhys, float64(o.Degrees))
	return ToGrid(p)
}
