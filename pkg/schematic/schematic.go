// Package schematic is the in-memory model of a schematic under
// construction.
//
// A [Schematic] owns the instances, top-level pins, wires and notes created
// through it. Every creation is issued to a [backend.Schematic] and recorded
// in an append-only command log, which makes a schematic serializable
// ([Document]) and replayable against another backend or cell ([Clone]).
//
// Positions are grid units throughout; conversion to physical units happens
// only when a call crosses into the backend. New elements are placed either
// at a point ([At]) or relative to an existing pin ([Via] with a
// [connpos.Directive]):
//
//	nmos, _ := sch.CreateInstance(ctx, "analogLib", "nmos4", schematic.At(0, 0), "MN0", geom.R0)
//	pmos, _ := sch.CreateInstance(ctx, "analogLib", "pmos4",
//		schematic.Via(connpos.New(nmos.MustPin("D"), "D", connpos.Above, connpos.WithNet("out"))),
//		"MP0", geom.MX)
//
// A Schematic is owned by one goroutine and is not safe for concurrent use.
package schematic

import (
	"context"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/connpos"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
)

// Options configures a Schematic.
type Options struct {
	Overwrite   bool             // Replace existing cell content instead of appending
	Recentering geom.Recentering // Per-symbol origin offsets (default: geom.DefaultRecentering)
	Logger      *log.Logger      // Debug logging (default: discard)
}

func (o Options) withDefaults() Options {
	if o.Recentering == nil {
		o.Recentering = geom.DefaultRecentering()
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	return o
}

// Schematic is a schematic cellview being built through a backend.
type Schematic struct {
	Lib  string
	Cell string

	be       backend.Schematic
	cell     backend.Handle
	opts     Options
	recenter geom.Recentering
	logger   *log.Logger

	instances []*Instance
	index     map[string]*Instance
	pins      []*IOPin
	wires     []*Wire
	notes     []Note

	paramVars []string
	cdfIgnore []string
	nets      []string

	commands []Command
}

// New opens lib/cell through be. Without Overwrite the cell is opened for
// appending.
func New(ctx context.Context, be backend.Schematic, lib, cell string, opts Options) (*Schematic, error) {
	if be == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "backend is required")
	}
	if err := errors.ValidateCellName(lib); err != nil {
		return nil, err
	}
	if err := errors.ValidateCellName(cell); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	mode := backend.ModeAppend
	if opts.Overwrite {
		mode = backend.ModeWrite
	}
	h, err := be.OpenCell(ctx, lib, cell, backend.KindSchematic, mode)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "open %s/%s", lib, cell)
	}
	opts.Logger.Debug("cell opened", "lib", lib, "cell", cell, "mode", mode)

	return &Schematic{
		Lib:      lib,
		Cell:     cell,
		be:       be,
		cell:     h,
		opts:     opts,
		recenter: opts.Recentering,
		logger:   opts.Logger,
		index:    make(map[string]*Instance),
	}, nil
}

// Backend returns the backend the schematic is built through.
func (s *Schematic) Backend() backend.Schematic { return s.be }

// Recentering returns the recentering table in use.
func (s *Schematic) Recentering() geom.Recentering { return s.recenter }

// Close closes the backend.
func (s *Schematic) Close(ctx context.Context) error {
	return s.be.Close(ctx)
}

// =============================================================================
// Placement
// =============================================================================

// Placement says where a new instance or pin goes: at a grid point or
// relative to an existing pin.
type Placement interface {
	placement()
}

type pointPlacement struct{ p geom.Point }

type connPlacement struct{ d *connpos.Directive }

func (pointPlacement) placement() {}
func (connPlacement) placement()  {}

// At places an element at grid position (x, y).
func At(x, y float64) Placement { return pointPlacement{geom.Pt(x, y)} }

// AtPoint places an element at grid position p.
func AtPoint(p geom.Point) Placement { return pointPlacement{p} }

// Via places an element relative to the directive's external pin and wires
// the two together.
func Via(d *connpos.Directive) Placement { return connPlacement{d} }

// =============================================================================
// Top-level pins, wires and notes
// =============================================================================

// PinDirection is the electrical direction of a top-level pin.
type PinDirection int

const (
	Input PinDirection = iota + 1
	Output
	InputOutput
	// WireOnly draws the connecting wire of a Via placement but no pin.
	WireOnly
)

var pinDirections = map[string]PinDirection{
	"input":       Input,
	"output":      Output,
	"inputoutput": InputOutput,
	"inout":       InputOutput,
	"wire":        WireOnly,
}

// ParsePinDirection parses input, output, inputOutput or wire.
func ParsePinDirection(s string) (PinDirection, error) {
	if d, ok := pinDirections[strings.ToLower(strings.TrimSpace(s))]; ok {
		return d, nil
	}
	return 0, errors.New(errors.ErrCodeInvalidDirection,
		"invalid pin direction %q (valid: input, output, inputOutput, wire)", s)
}

// String returns the backend name of the direction.
func (d PinDirection) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	case InputOutput:
		return "inputOutput"
	case WireOnly:
		return "wire"
	}
	return "invalid"
}

// MarshalText implements encoding.TextMarshaler.
func (d PinDirection) MarshalText() ([]byte, error) {
	if d < Input || d > WireOnly {
		return nil, errors.New(errors.ErrCodeInvalidDirection, "invalid pin direction %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *PinDirection) UnmarshalText(text []byte) error {
	v, err := ParsePinDirection(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d PinDirection) symbol() string {
	switch d {
	case Input:
		return "ipin"
	case Output:
		return "opin"
	}
	return "iopin"
}

// IOPin is a top-level pin of the schematic.
type IOPin struct {
	Name        string
	Direction   PinDirection
	Pos         geom.Point // Grid units
	Orientation geom.Orientation
}

// GridPos returns the pin position so an IOPin can be used as an Endpoint.
func (p *IOPin) GridPos() geom.Point { return p.Pos }

// Wire is a created wire.
type Wire struct {
	Points   []geom.Point // Grid units
	Mode     backend.WireMode
	Net      string      // Label text, empty when unlabeled
	LabelPos *geom.Point // Grid position of the label

	handle backend.Handle
}

// Note is a free-standing text note.
type Note struct {
	Text string
	Pos  geom.Point
	Size float64
}

// =============================================================================
// Accessors
// =============================================================================

// Instance returns the named instance.
func (s *Schematic) Instance(name string) (*Instance, error) {
	if inst, ok := s.index[name]; ok {
		return inst, nil
	}
	return nil, errors.New(errors.ErrCodeUnknownInstance, "instance %q does not exist in %s", name, s.Cell)
}

// Instances returns the instances in creation order.
func (s *Schematic) Instances() []*Instance { return slices.Clone(s.instances) }

// Pins returns the top-level pins in creation order.
func (s *Schematic) Pins() []*IOPin { return slices.Clone(s.pins) }

// Wires returns the wires in creation order.
func (s *Schematic) Wires() []*Wire { return slices.Clone(s.wires) }

// Notes returns the notes in creation order.
func (s *Schematic) Notes() []Note { return slices.Clone(s.notes) }

// Nets returns every net named by a wire label or a top-level pin, in the
// order the names were first assigned. These names are the ones a
// simulation can probe.
func (s *Schematic) Nets() []string { return slices.Clone(s.nets) }

// HasNet reports whether name was assigned to a net.
func (s *Schematic) HasNet(name string) bool { return slices.Contains(s.nets, name) }

// LookupPin resolves "inst/pin" or "/inst/pin" to an instance pin.
func (s *Schematic) LookupPin(path string) (*Pin, error) {
	inst, pin, ok := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if !ok || inst == "" || pin == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "pin path must be inst/pin, got %q", path)
	}
	i, err := s.Instance(inst)
	if err != nil {
		return nil, err
	}
	return i.Pin(pin)
}

// AddParamVars declares design variables. Applied values naming one are
// symbolic and skipped by ReconcileParameters.
func (s *Schematic) AddParamVars(names ...string) {
	s.paramVars = appendUnique(s.paramVars, names...)
}

// AddCDFIgnore excludes parameters from ReconcileParameters.
func (s *Schematic) AddCDFIgnore(names ...string) {
	s.cdfIgnore = appendUnique(s.cdfIgnore, names...)
}

// ParamVars returns the declared design variables.
func (s *Schematic) ParamVars() []string { return slices.Clone(s.paramVars) }

// CDFIgnore returns the parameters excluded from reconciliation.
func (s *Schematic) CDFIgnore() []string { return slices.Clone(s.cdfIgnore) }

// Commands returns the command log.
func (s *Schematic) Commands() []Command { return slices.Clone(s.commands) }

func appendUnique(set []string, names ...string) []string {
	for _, n := range names {
		if n != "" && !slices.Contains(set, n) {
			set = append(set, n)
		}
	}
	return set
}

// Summary counts the elements of a schematic.
type Summary struct {
	Lib       string `json:"lib"`
	Cell      string `json:"cell"`
	Instances int    `json:"instances"`
	Pins      int    `json:"pins"`
	Wires     int    `json:"wires"`
	Notes     int    `json:"notes"`
	Nets      int    `json:"nets"`
	ParamVars int    `json:"param_vars"`
}

// Summary returns element counts.
func (s *Schematic) Summary() Summary {
	return Summary{
		Lib:       s.Lib,
		Cell:      s.Cell,
		Instances: len(s.instances),
		Pins:      len(s.pins),
		Wires:     len(s.wires),
		Notes:     len(s.notes),
		Nets:      len(s.nets),
		ParamVars: len(s.paramVars),
	}
}
