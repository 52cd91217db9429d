// Package units parses and formats numbers written with SI suffixes, the way
// parameter values and analysis durations are written in schematics
// ("400n", "1.2", "0.4u", "3.3e-3", "10k").
//
// The grammar is closed: a number, an optional exponent and one optional
// suffix from f p n u m k K M G T. Anything else is rejected with
// INVALID_VALUE rather than passed through.
package units

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/matzehuels/cellforge/pkg/errors"
)

// Tolerances used by IsClose.
const (
	RelTol = 1e-5
	AbsTol = 1e-8
)

var valueRegex = regexp.MustCompile(`^([+-]?(?:\d+\.?\d*|\.\d+))(?:[eE]([+-]?\d+))?([fpnumkKMGT])?$`)

// suffixExp maps each suffix to its power of ten.
var suffixExp = map[string]int{
	"f": -15,
	"p": -12,
	"n": -9,
	"u": -6,
	"m": -3,
	"":  0,
	"k": 3,
	"K": 3,
	"M": 6,
	"G": 9,
	"T": 12,
}

// engineering lists the suffixes Format chooses from, largest first.
var engineering = []struct {
	suffix string
	exp    int
}{
	{"T", 12}, {"G", 9}, {"M", 6}, {"k", 3}, {"", 0},
	{"m", -3}, {"u", -6}, {"n", -9}, {"p", -12}, {"f", -15},
}

// Parse converts s to a float64. Leading and trailing whitespace is ignored.
func Parse(s string) (float64, error) {
	m := valueRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, errors.New(errors.ErrCodeInvalidValue, "cannot parse %q as a number", s)
	}

	exp := suffixExp[m[3]]
	if m[2] != "" {
		e, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, errors.Wrap(errors.ErrCodeInvalidValue, err, "exponent of %q", s)
		}
		exp += e
	}

	// Fold the suffix into the exponent so the result is correctly rounded
	// ("400n" parses to exactly 400e-9).
	v, err := strconv.ParseFloat(m[1]+"e"+strconv.Itoa(exp), 64)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeInvalidValue, err, "parse %q", s)
	}
	return v, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) float64 {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders v in engineering notation with the largest suffix that
// keeps the mantissa at or above 1 ("4e-7" becomes "400n"). Values outside
// the femto..tera range are formatted without a suffix.
func Format(v float64) string {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}

	abs := math.Abs(v)
	for _, e := range engineering {
		scale := math.Pow10(e.exp)
		if abs >= scale*(1-1e-12) {
			if e.exp == 12 && abs >= 1e15 {
				break
			}
			return strconv.FormatFloat(v/scale, 'g', 12, 64) + e.suffix
		}
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// IsClose reports whether a and b are equal within the tolerances used for
// calculated-versus-applied parameter checks: |a-b| <= AbsTol + RelTol*|b|.
func IsClose(a, b float64) bool {
	return scalar.EqualWithinAbs(a, b, AbsTol+RelTol*math.Abs(b))
}

// Equal compares two textual values. Both are parsed when possible and
// compared with IsClose; otherwise the strings are compared verbatim.
func Equal(a, b string) bool {
	av, aerr := Parse(a)
	bv, berr := Parse(b)
	if aerr == nil && berr == nil {
		return IsClose(av, bv)
	}
	return a == b
}
