// Package memory is an in-process backend that implements both backend
// capabilities without an EDA tool.
//
// It keeps cells, instances and wires in memory, records every call in
// order, and serves simulation signals registered up front. The CLI uses it
// for dry runs; tests use it as the fake collaborator:
//
//	be := memory.New(memory.WithWorkspace("dry"))
//	be.RegisterSignal(backend.SignalVoltage, "/out", waveform.Flat(t, v))
//
// A Backend is owned by one goroutine. Open one per workspace for
// concurrent work; they may share a Library.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
	"github.com/matzehuels/cellforge/pkg/waveform"
)

// CallbackFunc computes the value a parameter takes after callbacks run,
// given the value that was set.
type CallbackFunc func(sym backend.SymbolRef, name, value string) string

// IdentityCallback leaves every value unchanged.
func IdentityCallback(_ backend.SymbolRef, _, value string) string { return value }

// Call is one recorded capability call.
type Call struct {
	Method string
	Args   []any
}

// String renders the call as Method(arg, arg).
func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = fmt.Sprint(a)
	}
	return c.Method + "(" + strings.Join(args, ", ") + ")"
}

// Cell is the content of an opened cellview.
type Cell struct {
	Handle    backend.Handle
	Lib       string
	Name      string
	Kind      backend.CellKind
	Instances []*Instance
	Wires     []*Wire
	Pins      []backend.PinSpec
	Notes     []backend.NoteSpec
	Callbacks int  // Number of RunCallbacks calls
	Checked   bool // Check was called since the last edit
	Saved     bool // Save was called since the last edit
}

// Instance is a placed symbol.
type Instance struct {
	Handle backend.Handle
	Name   string
	Symbol backend.SymbolRef
	Pos    geom.Point // Physical position
	Orient geom.Orientation
	Params []backend.Parameter
}

// Wire is a created wire and its labels.
type Wire struct {
	Handle backend.Handle
	Spec   backend.WireSpec
	Labels []backend.LabelSpec
}

// Backend is the in-memory backend.
type Backend struct {
	workspace string
	lib       *Library
	callback  CallbackFunc

	cells   map[geom.SymbolKey]*Cell
	handles map[backend.Handle]*Cell
	insts   map[backend.Handle]*Instance
	owners  map[backend.Handle]*Cell
	wires   map[backend.Handle]*Wire

	calls  []Call
	fail   map[string]error
	next   int
	closed bool

	sim     SimState
	signals map[string]waveform.Waveform
}

// Option configures a Backend.
type Option func(*Backend)

// WithLibrary sets the symbol library. The default is DefaultLibrary.
func WithLibrary(l *Library) Option {
	return func(b *Backend) { b.lib = l }
}

// WithCallback sets the parameter callback. It runs after the library's
// callback rules. The default is IdentityCallback.
func WithCallback(fn CallbackFunc) Option {
	return func(b *Backend) { b.callback = fn }
}

// WithWorkspace names the backend's workspace.
func WithWorkspace(name string) Option {
	return func(b *Backend) { b.workspace = name }
}

// New returns an empty backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		cells:   make(map[geom.SymbolKey]*Cell),
		handles: make(map[backend.Handle]*Cell),
		insts:   make(map[backend.Handle]*Instance),
		owners:  make(map[backend.Handle]*Cell),
		wires:   make(map[backend.Handle]*Wire),
		fail:    make(map[string]error),
		signals: make(map[string]waveform.Waveform),
		sim:     SimState{Vars: make(map[string]float64)},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.lib == nil {
		b.lib = DefaultLibrary()
	}
	if b.callback == nil {
		b.callback = IdentityCallback
	}
	return b
}

var (
	_ backend.Schematic = (*Backend)(nil)
	_ backend.Simulator = (*Backend)(nil)
)

// Workspace returns the workspace name given to WithWorkspace.
func (b *Backend) Workspace() string { return b.workspace }

// Library returns the symbol library.
func (b *Backend) Library() *Library { return b.lib }

// Calls returns every recorded call in order.
func (b *Backend) Calls() []Call {
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// Methods returns the method names of every recorded call in order.
func (b *Backend) Methods() []string {
	out := make([]string, len(b.calls))
	for i, c := range b.calls {
		out[i] = c.Method
	}
	return out
}

// CountCalls returns how many times method was called.
func (b *Backend) CountCalls(method string) int {
	n := 0
	for _, c := range b.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// FailOn makes every later call to method return err. A nil err clears it.
func (b *Backend) FailOn(method string, err error) {
	if err == nil {
		delete(b.fail, method)
		return
	}
	b.fail[method] = err
}

// Cell returns the content of lib/cell, or nil if it was never opened.
func (b *Backend) Cell(lib, cell string) *Cell {
	return b.cells[geom.SymbolKey{Lib: lib, Cell: cell}]
}

// Closed reports whether Close was called.
func (b *Backend) Closed() bool { return b.closed }

func (b *Backend) record(ctx context.Context, method string, args ...any) error {
	b.calls = append(b.calls, Call{Method: method, Args: args})
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.closed {
		return errors.New(errors.ErrCodeBackend, "%s: backend is closed", method)
	}
	return b.fail[method]
}

func (b *Backend) handle(prefix string) backend.Handle {
	b.next++
	return backend.Handle(fmt.Sprintf("%s:%d", prefix, b.next))
}

func (b *Backend) cell(h backend.Handle) (*Cell, error) {
	c, ok := b.handles[h]
	if !ok {
		return nil, errors.New(errors.ErrCodeBackend, "unknown cell handle %q", h)
	}
	return c, nil
}

func (c *Cell) touch() {
	c.Checked = false
	c.Saved = false
}

// =============================================================================
// Schematic capability
// =============================================================================

func (b *Backend) OpenCell(ctx context.Context, lib, cell string, kind backend.CellKind, mode backend.OpenMode) (backend.Handle, error) {
	if err := b.record(ctx, "OpenCell", lib, cell, kind, mode); err != nil {
		return "", err
	}
	key := geom.SymbolKey{Lib: lib, Cell: cell}
	existing := b.cells[key]

	switch mode {
	case backend.ModeRead:
		if existing == nil {
			return "", errors.New(errors.ErrCodeBackend, "cell %s does not exist", key)
		}
		return existing.Handle, nil
	case backend.ModeAppend:
		if existing != nil {
			return existing.Handle, nil
		}
	case backend.ModeWrite:
		if existing != nil {
			delete(b.handles, existing.Handle)
		}
	default:
		return "", errors.New(errors.ErrCodeBackend, "unsupported open mode %q", mode)
	}

	c := &Cell{Handle: b.handle("cell"), Lib: lib, Name: cell, Kind: kind}
	b.cells[key] = c
	b.handles[c.Handle] = c
	return c.Handle, nil
}

func (b *Backend) Instantiate(ctx context.Context, cell backend.Handle, sym backend.SymbolRef, name string, pos geom.Point, orient geom.Orientation) (backend.Handle, error) {
	if err := b.record(ctx, "Instantiate", cell, sym.Lib+"/"+sym.Cell, name, pos, orient); err != nil {
		return "", err
	}
	c, err := b.cell(cell)
	if err != nil {
		return "", err
	}
	s, ok := b.lib.Lookup(sym.Lib, sym.Cell)
	if !ok {
		return "", errors.New(errors.ErrCodeBackend, "symbol %s/%s not found", sym.Lib, sym.Cell)
	}
	for _, inst := range c.Instances {
		if inst.Name == name {
			return "", errors.New(errors.ErrCodeBackend, "instance %s already exists in %s", name, c.Name)
		}
	}

	params := make([]backend.Parameter, len(s.Params))
	copy(params, s.Params)
	inst := &Instance{
		Handle: b.handle("inst"),
		Name:   name,
		Symbol: sym,
		Pos:    pos,
		Orient: orient,
		Params: params,
	}
	c.Instances = append(c.Instances, inst)
	c.touch()
	b.insts[inst.Handle] = inst
	b.owners[inst.Handle] = c
	return inst.Handle, nil
}

func (b *Backend) SymbolPins(ctx context.Context, lib, cell string) ([]backend.SymbolPin, error) {
	if err := b.record(ctx, "SymbolPins", lib, cell); err != nil {
		return nil, err
	}
	s, ok := b.lib.Lookup(lib, cell)
	if !ok {
		return nil, errors.New(errors.ErrCodeBackend, "symbol %s/%s not found", lib, cell)
	}
	out := make([]backend.SymbolPin, len(s.Pins))
	copy(out, s.Pins)
	return out, nil
}

func (b *Backend) Parameters(ctx context.Context, inst backend.Handle) ([]backend.Parameter, error) {
	if err := b.record(ctx, "Parameters", inst); err != nil {
		return nil, err
	}
	i, ok := b.insts[inst]
	if !ok {
		return nil, errors.New(errors.ErrCodeBackend, "unknown instance handle %q", inst)
	}
	out := make([]backend.Parameter, len(i.Params))
	copy(out, i.Params)
	return out, nil
}

func (b *Backend) SetParameter(ctx context.Context, inst backend.Handle, name, value string) error {
	if err := b.record(ctx, "SetParameter", inst, name, value); err != nil {
		return err
	}
	i, ok := b.insts[inst]
	if !ok {
		return errors.New(errors.ErrCodeBackend, "unknown instance handle %q", inst)
	}
	b.owners[inst].touch()
	for k := range i.Params {
		if i.Params[k].Name == name {
			i.Params[k].Value = value
			return nil
		}
	}
	i.Params = append(i.Params, backend.Parameter{Name: name, Value: value})
	return nil
}

func (b *Backend) CreateWire(ctx context.Context, cell backend.Handle, spec backend.WireSpec) (backend.Handle, error) {
	if err := b.record(ctx, "CreateWire", cell, spec.Mode, spec.Points); err != nil {
		return "", err
	}
	c, err := b.cell(cell)
	if err != nil {
		return "", err
	}
	if len(spec.Points) < 2 {
		return "", errors.New(errors.ErrCodeBackend, "wire needs at least 2 points, got %d", len(spec.Points))
	}
	spec.Points = append([]geom.Point(nil), spec.Points...)
	w := &Wire{Handle: b.handle("wire"), Spec: spec}
	c.Wires = append(c.Wires, w)
	c.touch()
	b.wires[w.Handle] = w
	return w.Handle, nil
}

func (b *Backend) CreateWireLabel(ctx context.Context, cell, wire backend.Handle, spec backend.LabelSpec) error {
	if err := b.record(ctx, "CreateWireLabel", cell, wire, spec.Text, spec.Pos); err != nil {
		return err
	}
	c, err := b.cell(cell)
	if err != nil {
		return err
	}
	w, ok := b.wires[wire]
	if !ok {
		return errors.New(errors.ErrCodeBackend, "unknown wire handle %q", wire)
	}
	w.Labels = append(w.Labels, spec)
	c.touch()
	return nil
}

func (b *Backend) CreatePin(ctx context.Context, cell backend.Handle, spec backend.PinSpec) (backend.Handle, error) {
	if err := b.record(ctx, "CreatePin", cell, spec.Name, spec.Symbol.Cell, spec.Pos); err != nil {
		return "", err
	}
	c, err := b.cell(cell)
	if err != nil {
		return "", err
	}
	if _, ok := b.lib.Lookup(spec.Symbol.Lib, spec.Symbol.Cell); !ok {
		return "", errors.New(errors.ErrCodeBackend, "pin symbol %s/%s not found", spec.Symbol.Lib, spec.Symbol.Cell)
	}
	for _, p := range c.Pins {
		if p.Name == spec.Name {
			return "", errors.New(errors.ErrCodeBackend, "pin %s already exists in %s", spec.Name, c.Name)
		}
	}
	c.Pins = append(c.Pins, spec)
	c.touch()
	return b.handle("pin"), nil
}

func (b *Backend) CreateNote(ctx context.Context, cell backend.Handle, spec backend.NoteSpec) error {
	if err := b.record(ctx, "CreateNote", cell, spec.Text, spec.Pos); err != nil {
		return err
	}
	c, err := b.cell(cell)
	if err != nil {
		return err
	}
	c.Notes = append(c.Notes, spec)
	c.touch()
	return nil
}

func (b *Backend) RunCallbacks(ctx context.Context, cell backend.Handle) error {
	if err := b.record(ctx, "RunCallbacks", cell); err != nil {
		return err
	}
	c, err := b.cell(cell)
	if err != nil {
		return err
	}
	for _, inst := range c.Instances {
		b.lib.runRules(inst.Symbol, inst.Params)
		for k, p := range inst.Params {
			inst.Params[k].Value = b.callback(inst.Symbol, p.Name, p.Value)
		}
	}
	c.Callbacks++
	return nil
}

func (b *Backend) Check(ctx context.Context, cell backend.Handle) error {
	if err := b.record(ctx, "Check", cell); err != nil {
		return err
	}
	c, err := b.cell(cell)
	if err != nil {
		return err
	}
	c.Checked = true
	return nil
}

func (b *Backend) Save(ctx context.Context, cell backend.Handle) error {
	if err := b.record(ctx, "Save", cell); err != nil {
		return err
	}
	c, err := b.cell(cell)
	if err != nil {
		return err
	}
	c.Saved = true
	return nil
}

// Close marks the backend closed even when ctx is done, so cleanup after a
// timeout still releases it. Later calls fail; closing twice is a no-op.
func (b *Backend) Close(context.Context) error {
	if b.closed {
		return nil
	}
	b.calls = append(b.calls, Call{Method: "Close"})
	b.closed = true
	return b.fail["Close"]
}
