package geom

import (
	"strings"

	"github.com/matzehuels/cellforge/pkg/errors"
)

// SymbolKey identifies a symbol by library and cell.
type SymbolKey struct {
	Lib  string `json:"lib" bson:"lib"`
	Cell string `json:"cell" bson:"cell"`
}

// String returns "lib/cell".
func (k SymbolKey) String() string { return k.Lib + "/" + k.Cell }

// ParseSymbolKey parses "lib/cell".
func ParseSymbolKey(s string) (SymbolKey, error) {
	lib, cell, ok := strings.Cut(s, "/")
	if !ok || lib == "" || cell == "" || strings.Contains(cell, "/") {
		return SymbolKey{}, errors.New(errors.ErrCodeInvalidInput, "symbol key must be lib/cell, got %q", s)
	}
	return SymbolKey{Lib: lib, Cell: cell}, nil
}

// Recentering shifts the placement origin of specific symbols, in grid
// units. Some symbols define their origin away from where users expect to
// place them; the offset is added to the requested position before it is
// converted to physical units.
type Recentering map[SymbolKey]Point

// DefaultRecentering returns the built-in offsets for the transistor and
// resistor symbols of the supported PDKs.
func DefaultRecentering() Recentering {
	fet := Point{X: -0.25 / SnapSpacing}
	return Recentering{
		{Lib: "cmos10lpe", Cell: "dgxnfet"}: fet,
		{Lib: "cmos10lpe", Cell: "dgxpfet"}: fet,
		{Lib: "cmos10lpe", Cell: "nfet"}:    fet,
		{Lib: "cmos10lpe", Cell: "pfet"}:    fet,
		{Lib: "analogLib", Cell: "pmos4"}:   fet,
		{Lib: "analogLib", Cell: "nmos4"}:   fet,
		{Lib: "analogLib", Cell: "res"}:     {Y: 3},
	}
}

// Offset returns the offset for key, or the zero point.
func (r Recentering) Offset(key SymbolKey) Point {
	if r == nil {
		return Point{}
	}
	return r[key]
}

// Merge returns a copy of r with every entry of other applied on top.
func (r Recentering) Merge(other Recentering) Recentering {
	out := make(Recentering, len(r)+len(other))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// InstancePhysical returns the physical placement of a symbol requested at
// grid position pos.
func (r Recentering) InstancePhysical(key SymbolKey, pos Point) Point {
	return ToPhysical(pos.Add(r.Offset(key)))
}
