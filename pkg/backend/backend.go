// Package backend defines the narrow capability interfaces cellforge needs
// from an EDA tool: one for editing schematics and one for driving a
// transient simulator.
//
// Everything crossing this boundary is in physical units (see
// [geom.ToPhysical]); grid units stay inside the schematic model. Handles are
// opaque strings minted by the backend.
//
// The in-process reference implementation lives in package memory.
package backend

import (
	"context"

	"github.com/matzehuels/cellforge/pkg/geom"
	"github.com/matzehuels/cellforge/pkg/waveform"
)

// Handle is an opaque reference to a backend object (cell, instance, wire).
type Handle string

// CellKind selects the view type opened by OpenCell.
type CellKind string

const KindSchematic CellKind = "schematic"

// OpenMode controls how OpenCell treats an existing cell.
type OpenMode string

const (
	ModeWrite  OpenMode = "w" // Create, replacing any existing content
	ModeAppend OpenMode = "a" // Open existing content or create
	ModeRead   OpenMode = "r" // Open existing content read-only
)

// WireMode selects how a wire is drawn between its points.
type WireMode string

const (
	WireRoute WireMode = "route" // Let the tool route between points
	WireDraw  WireMode = "draw"  // Straight segments through every point
)

// SignalKind distinguishes node voltages from terminal currents.
type SignalKind string

const (
	SignalVoltage SignalKind = "v"
	SignalCurrent SignalKind = "i"
)

// SymbolRef names a symbol cellview in a library.
type SymbolRef struct {
	Lib  string `json:"lib" bson:"lib"`
	Cell string `json:"cell" bson:"cell"`
	View string `json:"view,omitempty" bson:"view,omitempty"` // Defaults to "symbol"
}

// SymbolPin is a terminal on a symbol with its bounding box in symbol-local
// physical coordinates.
type SymbolPin struct {
	Name string    `json:"name"`
	BBox geom.BBox `json:"bbox"`
}

// Parameter is a named instance property as the tool reports it.
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// WireSpec describes a wire to create.
type WireSpec struct {
	Mode          WireMode     // route or draw
	Points        []geom.Point // Physical points, at least two
	Width         float64      // Line width (0 for the default)
	SnapSpacing   float64      // Routing snap grid
	ExtendSpacing float64      // Grid for extending wire ends
}

// LabelSpec describes a wire label.
type LabelSpec struct {
	Text    string
	Pos     geom.Point // Physical position
	Justify string     // e.g. "upperLeft"
	Orient  geom.Orientation
	Font    string  // e.g. "fixed"
	Height  float64 // Physical text height
	Style   string  // Optional label style, empty for none
}

// PinSpec describes a schematic pin to create.
type PinSpec struct {
	Name      string
	Symbol    SymbolRef  // e.g. basic/ipin
	Pos       geom.Point // Physical position
	Orient    geom.Orientation
	Direction string // input, output or inputOutput
}

// NoteSpec describes a free-standing note.
type NoteSpec struct {
	Text    string
	Pos     geom.Point // Physical position
	Justify string
	Orient  geom.Orientation
	Font    string
	Height  float64
	Style   string
}

// SweepParam is one swept design variable. Values are applied in order.
type SweepParam struct {
	Name   string    `json:"name" bson:"name"`
	Values []float64 `json:"values" bson:"values"`
}

// Option is one analysis option. Options keep their order.
type Option struct {
	Key   string
	Value string
}

// Options is an ordered list of analysis options.
type Options []Option

// Get returns the value for key and whether it was set.
func (o Options) Get(key string) (string, bool) {
	for _, opt := range o {
		if opt.Key == key {
			return opt.Value, true
		}
	}
	return "", false
}

// Schematic is the capability needed to build and save a schematic.
type Schematic interface {
	// OpenCell opens (or creates) a cellview and returns its handle.
	OpenCell(ctx context.Context, lib, cell string, kind CellKind, mode OpenMode) (Handle, error)
	// Instantiate places a symbol at a physical position.
	Instantiate(ctx context.Context, cell Handle, sym SymbolRef, name string, pos geom.Point, orient geom.Orientation) (Handle, error)
	// SymbolPins lists a symbol's terminals in declaration order.
	SymbolPins(ctx context.Context, lib, cell string) ([]SymbolPin, error)
	// Parameters reports an instance's current (calculated) parameters.
	Parameters(ctx context.Context, inst Handle) ([]Parameter, error)
	SetParameter(ctx context.Context, inst Handle, name, value string) error
	CreateWire(ctx context.Context, cell Handle, spec WireSpec) (Handle, error)
	CreateWireLabel(ctx context.Context, cell, wire Handle, spec LabelSpec) error
	CreatePin(ctx context.Context, cell Handle, spec PinSpec) (Handle, error)
	CreateNote(ctx context.Context, cell Handle, spec NoteSpec) error
	// RunCallbacks evaluates parameter callbacks on every instance in the cell.
	RunCallbacks(ctx context.Context, cell Handle) error
	Check(ctx context.Context, cell Handle) error
	Save(ctx context.Context, cell Handle) error
	Close(ctx context.Context) error
}

// Simulator is the capability needed to run a transient analysis and read
// back its signals.
type Simulator interface {
	Design(ctx context.Context, lib, cell, view string) error
	ResultsDir(ctx context.Context, path string) error
	CreateNetlist(ctx context.Context) error
	ModelFiles(ctx context.Context, paths ...string) error
	AnalysisOrder(ctx context.Context, kinds ...string) error
	Analysis(ctx context.Context, kind string, opts Options) error
	StimulusFile(ctx context.Context, path string) error
	SaveSignal(ctx context.Context, kind SignalKind, name string) error
	Temperature(ctx context.Context, celsius float64) error
	DesignVariable(ctx context.Context, name string, value float64) error
	// Sweep registers a nested parametric sweep, first parameter outermost.
	Sweep(ctx context.Context, params []SweepParam) error
	Run(ctx context.Context) error
	RunSweep(ctx context.Context) error
	SelectResult(ctx context.Context, kind string) error
	// Signal returns a saved signal from the selected result. Swept results
	// come back nested, one level per sweep parameter.
	Signal(ctx context.Context, kind SignalKind, name string) (waveform.Waveform, error)
}

// Backend is a tool that offers both capabilities.
type Backend interface {
	Schematic
	Simulator
}
