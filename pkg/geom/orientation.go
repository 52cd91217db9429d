package geom

import (
	"strconv"
	"strings"

	"github.com/matzehuels/cellforge/pkg/errors"
)

// Mirror is the axis an instance is mirrored across before rotation.
type Mirror int

const (
	MirrorNone Mirror = iota
	MirrorX
	MirrorY
)

// Orientation is a parsed instance orientation token.
type Orientation struct {
	Mirror  Mirror
	Degrees int
}

// Standard orientations.
var (
	R0    = Orientation{}
	R90   = Orientation{Degrees: 90}
	R180  = Orientation{Degrees: 180}
	R270  = Orientation{Degrees: 270}
	MX    = Orientation{Mirror: MirrorX}
	MY    = Orientation{Mirror: MirrorY}
	MXR90 = Orientation{Mirror: MirrorX, Degrees: 90}
	MYR90 = Orientation{Mirror: MirrorY, Degrees: 90}
)

var orientations = map[string]Orientation{
	"R0":    R0,
	"R90":   R90,
	"R180":  R180,
	"R270":  R270,
	"MX":    MX,
	"MY":    MY,
	"MXR90": MXR90,
	"MYR90": MYR90,
}

// ParseOrientation parses one of R0, R90, R180, R270, MX, MY, MXR90, MYR90.
// An empty string is treated as R0.
func ParseOrientation(s string) (Orientation, error) {
	if s == "" {
		return R0, nil
	}
	if o, ok := orientations[strings.ToUpper(s)]; ok {
		return o, nil
	}
	return Orientation{}, errors.New(errors.ErrCodeInvalidOrientation,
		"unknown orientation %q (valid: R0, R90, R180, R270, MX, MY, MXR90, MYR90)", s)
}

// MustOrientation is like ParseOrientation but panics on error.
// Intended for package-level tables and tests.
func MustOrientation(s string) Orientation {
	o, err := ParseOrientation(s)
	if err != nil {
		panic(err)
	}
	return o
}

// String returns the backend token for o.
func (o Orientation) String() string {
	var b strings.Builder
	switch o.Mirror {
	case MirrorX:
		b.WriteString("MX")
	case MirrorY:
		b.WriteString("MY")
	}
	if o.Mirror == MirrorNone || o.Degrees != 0 {
		b.WriteString("R")
		b.WriteString(strconv.Itoa(o.Degrees))
	}
	return b.String()
}

// MarshalText encodes o as its token.
func (o Orientation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes a token produced by MarshalText.
func (o *Orientation) UnmarshalText(text []byte) error {
	parsed, err := ParseOrientation(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
