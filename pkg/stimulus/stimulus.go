// Package stimulus writes the stimulus file consumed by the simulator: one
// independent voltage source per driven net.
//
// Three kinds of source are supported, each rendered as one line:
//
//	_v{net} ({net} 0) vsource data="{bits}" rptstart=1 rpttimes=0 val1={v1} val0={v0} rise={r} fall={f} period={p} type=bit
//	_v{net} ({net} 0) vsource wave=\[ {t0 v0 t1 v1 ...} \] type=pwl
//	_v{net} ({net} 0) vsource dc={v} type=dc
//
// The format is consumed verbatim by the simulator, so [Write] is
// byte-exact: lines appear in input order, values are written exactly as
// given, and bit parameters left empty are filled from [Defaults].
package stimulus

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/units"
)

// FileName is the name of the stimulus file inside a cell's output directory.
const FileName = "graphical_stimuli.scs"

// Kind is the stimulus type written after "type=".
type Kind string

const (
	KindBit Kind = "bit"
	KindPWL Kind = "pwl"
	KindDC  Kind = "dc"
)

// =============================================================================
// Value
// =============================================================================

// Value is a numeric stimulus parameter kept in its textual form, so "2n"
// stays "2n" in the output. The empty Value means "use the default".
type Value string

// Num formats v the way the simulator expects plain numbers.
func Num(v float64) Value {
	return Value(strconv.FormatFloat(v, 'g', -1, 64))
}

// Float parses the value with the SI grammar.
func (v Value) Float() (float64, error) {
	return units.Parse(string(v))
}

// UnmarshalTOML accepts TOML strings, integers and floats.
func (v *Value) UnmarshalTOML(data any) error {
	switch d := data.(type) {
	case string:
		*v = Value(d)
	case int64:
		*v = Value(strconv.FormatInt(d, 10))
	case float64:
		*v = Num(d)
	default:
		return errors.New(errors.ErrCodeInvalidStimulus, "unsupported value type %T", data)
	}
	return nil
}

func (v Value) or(def Value) Value {
	if v == "" {
		return def
	}
	return v
}

// =============================================================================
// Defaults
// =============================================================================

// Defaults holds the bit-stimulus parameters used when a Bit leaves one empty.
type Defaults struct {
	Val0   Value `toml:"val0" json:"val0,omitempty"`
	Val1   Value `toml:"val1" json:"val1,omitempty"`
	Period Value `toml:"period" json:"period,omitempty"`
	Rise   Value `toml:"rise" json:"rise,omitempty"`
	Fall   Value `toml:"fall" json:"fall,omitempty"`
}

// DefaultBit returns the built-in defaults: 0 to 1.2 V, 1 ns bit period,
// 200 ps edges.
func DefaultBit() Defaults {
	return Defaults{
		Val0:   Num(0),
		Val1:   Num(1.2),
		Period: Num(1e-9),
		Rise:   Num(200e-12),
		Fall:   Num(200e-12),
	}
}

// Merge returns d with every non-empty field of other applied on top.
func (d Defaults) Merge(other Defaults) Defaults {
	return Defaults{
		Val0:   other.Val0.or(d.Val0),
		Val1:   other.Val1.or(d.Val1),
		Period: other.Period.or(d.Period),
		Rise:   other.Rise.or(d.Rise),
		Fall:   other.Fall.or(d.Fall),
	}
}

// =============================================================================
// Stimulus kinds
// =============================================================================

// Stimulus is one of Bit, PWL or DC.
type Stimulus interface {
	// SignalName returns the net the source drives.
	SignalName() string
	Kind() Kind
	line(d Defaults) (string, error)
}

// Bit drives a repeating bit pattern.
type Bit struct {
	Name   string
	Data   string
	Val0   Value
	Val1   Value
	Rise   Value
	Fall   Value
	Period Value
}

// PWL drives a piecewise-linear waveform given as alternating time and
// voltage tokens.
type PWL struct {
	Name string
	Wave string
}

// DC drives a constant voltage.
type DC struct {
	Name    string
	Voltage Value
}

func (b Bit) SignalName() string { return b.Name }
func (p PWL) SignalName() string { return p.Name }
func (d DC) SignalName() string  { return d.Name }

func (Bit) Kind() Kind { return KindBit }
func (PWL) Kind() Kind { return KindPWL }
func (DC) Kind() Kind  { return KindDC }

var bitsRegex = regexp.MustCompile(`^[01]+$`)

func (b Bit) line(d Defaults) (string, error) {
	if !bitsRegex.MatchString(b.Data) {
		return "", errors.New(errors.ErrCodeInvalidStimulus, "%s: bit data must be a non-empty string of 0s and 1s, got %q", b.Name, b.Data)
	}
	val1 := b.Val1.or(d.Val1)
	val0 := b.Val0.or(d.Val0)
	rise := b.Rise.or(d.Rise)
	fall := b.Fall.or(d.Fall)
	period := b.Period.or(d.Period)
	for _, v := range []struct {
		key string
		val Value
	}{{"val1", val1}, {"val0", val0}, {"rise", rise}, {"fall", fall}, {"period", period}} {
		if err := checkValue(b.Name, v.key, v.val); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf(`_v%s (%s 0) vsource data="%s" rptstart=1 rpttimes=0 val1=%s val0=%s rise=%s fall=%s period=%s type=bit`,
		b.Name, b.Name, b.Data, val1, val0, rise, fall, period), nil
}

func (p PWL) line(Defaults) (string, error) {
	tokens := strings.Fields(p.Wave)
	if len(tokens) == 0 || len(tokens)%2 != 0 {
		return "", errors.New(errors.ErrCodeInvalidStimulus, "%s: pwl wave needs time/voltage pairs, got %d tokens", p.Name, len(tokens))
	}
	for i, tok := range tokens {
		if _, err := units.Parse(tok); err != nil {
			return "", errors.Wrap(errors.ErrCodeInvalidStimulus, err, "%s: pwl token %d", p.Name, i)
		}
	}
	return fmt.Sprintf(`_v%s (%s 0) vsource wave=\[ %s \] type=pwl`, p.Name, p.Name, p.Wave), nil
}

func (d DC) line(Defaults) (string, error) {
	if err := checkValue(d.Name, "dc", d.Voltage); err != nil {
		return "", err
	}
	return fmt.Sprintf(`_v%s (%s 0) vsource dc=%s type=dc`, d.Name, d.Name, d.Voltage), nil
}

func checkValue(name, key string, v Value) error {
	if v == "" {
		return errors.New(errors.ErrCodeInvalidStimulus, "%s: %s is required", name, key)
	}
	if _, err := v.Float(); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidStimulus, err, "%s: %s", name, key)
	}
	return nil
}

func checkName(name string) error {
	if name == "" {
		return errors.New(errors.ErrCodeInvalidStimulus, "stimulus name cannot be empty")
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '(' || r == ')' {
			return errors.New(errors.ErrCodeInvalidStimulus, "invalid stimulus name %q", name)
		}
	}
	return nil
}

// =============================================================================
// Writing
// =============================================================================

// Lines renders every stimulus in order. Nothing is returned if any
// stimulus is invalid.
func Lines(stims []Stimulus, d Defaults) ([]string, error) {
	lines := make([]string, 0, len(stims))
	seen := make(map[string]bool, len(stims))
	for _, s := range stims {
		if s == nil {
			return nil, errors.New(errors.ErrCodeInvalidStimulus, "nil stimulus")
		}
		name := s.SignalName()
		if err := checkName(name); err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, errors.New(errors.ErrCodeInvalidStimulus, "net %q is driven twice", name)
		}
		seen[name] = true

		l, err := s.line(d)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// Write renders stims to w, one line each, terminated by newlines.
func Write(w io.Writer, stims []Stimulus, d Defaults) error {
	lines, err := Lines(stims, d)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for _, l := range lines {
		if _, err := bw.WriteString(l + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile renders stims to path, replacing any existing file. Parent
// directories are created as needed.
func WriteFile(path string, stims []Stimulus, d Defaults) error {
	lines, err := Lines(stims, d)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}
