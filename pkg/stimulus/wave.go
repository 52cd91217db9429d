package stimulus

import (
	"math"
	"strconv"
	"strings"
)

// DefaultRise is the edge time used by CreateWave when none is given.
const DefaultRise = 200e-12

// TV is a (time, voltage) breakpoint.
type TV struct {
	T float64
	V float64
}

// TVPairs expands a list of level changes into PWL breakpoints. Each level is
// held until the next change starts, and every change after the first takes
// rise seconds:
//
//	(t0, v0) (t1, v0) (t1+rise, v1) (t2, v1) (t2+rise, v2) ...
//
// The result is space separated, ready for PWL.Wave.
func TVPairs(cycle []TV, rise float64) string {
	var tokens []string
	shift := 0.0
	for i, tv := range cycle {
		tokens = append(tokens, formatFloat(tv.T+rise*shift), formatFloat(tv.V))
		if i < len(cycle)-1 {
			tokens = append(tokens, formatFloat(cycle[i+1].T), formatFloat(tv.V))
			shift = 1
		}
	}
	return strings.Join(tokens, " ")
}

// CreateWave builds a PWL wave that steps through voltages, one per period.
func CreateWave(voltages []float64, period, rise float64) string {
	cycle := make([]TV, len(voltages))
	for i, v := range voltages {
		cycle[i] = TV{T: float64(i) * period, V: v}
	}
	return TVPairs(cycle, rise)
}

// NewPWL is shorthand for a PWL stimulus built with CreateWave.
func NewPWL(name string, voltages []float64, period, rise float64) PWL {
	return PWL{Name: name, Wave: CreateWave(voltages, period, rise)}
}

// formatFloat writes the shortest round-trip form of v with fixed notation
// for decimal exponents in [-4, 16) and a ".0" on integral values, e.g.
// "0.0", "12.0", "0.0001", "1e-09", "1e+16".
func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	sci := strconv.FormatFloat(v, 'e', -1, 64)
	_, e, _ := strings.Cut(sci, "e")
	if exp, _ := strconv.Atoi(e); exp < -4 || exp >= 16 {
		return sci
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
