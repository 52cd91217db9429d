package schematic

import (
	"context"
	"strings"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
)

const (
	// DefaultNoteSize is the text height of notes in physical units.
	DefaultNoteSize = 0.125

	// DefaultGround is the net the negative terminal of a source is tied to.
	DefaultGround = "gnd!"

	// sourceStub is the length of the wire stubs drawn on source terminals.
	sourceStub = 4.0
)

var (
	plusLabelOffset  = geom.Pt(1, 3)
	minusLabelOffset = geom.Pt(1, -1.5)
)

// WireOptions configures CreateWire.
type WireOptions struct {
	NetName     string           // Label the wire with this net name
	LabelOffset *geom.Point      // Label position relative to the first endpoint (default: on it)
	Mode        backend.WireMode // route (default) or draw
}

// =============================================================================
// Instances
// =============================================================================

// CreateInstance places lib/cell under name. With a Via placement the
// instance goes to the resolved anchor and a wire joins the external pin to
// the instance's internal pin.
func (s *Schematic) CreateInstance(ctx context.Context, lib, cell string, at Placement, name string, orient geom.Orientation) (*Instance, error) {
	if err := errors.ValidateInstanceName(name); err != nil {
		return nil, err
	}
	if _, dup := s.index[name]; dup {
		return nil, errors.New(errors.ErrCodeDuplicateInstance, "instance %q already exists in %s", name, s.Cell)
	}

	switch p := at.(type) {
	case pointPlacement:
		return s.addInstance(ctx, AddInstance{Lib: lib, Cell: cell, Name: name, Pos: p.p, Orient: orient}, nil)

	case connPlacement:
		anchor, label, err := p.d.Resolve()
		if err != nil {
			return nil, err
		}
		if p.d.Internal == "" {
			return nil, errors.New(errors.ErrCodeInvalidPlacement, "placing %s: directive names no internal pin", name)
		}
		pins, err := s.symbolPins(ctx, lib, cell)
		if err != nil {
			return nil, err
		}
		if !hasPin(pins, p.d.Internal) {
			return nil, errors.New(errors.ErrCodeUnknownPin, "pin %q does not exist on %s/%s (available: %s)",
				p.d.Internal, lib, cell, strings.Join(pinNames(pins), ", "))
		}

		inst, err := s.addInstance(ctx, AddInstance{Lib: lib, Cell: cell, Name: name, Pos: anchor, Orient: orient}, pins)
		if err != nil {
			return nil, err
		}
		if _, err := s.CreateWire(ctx, []Endpoint{p.d.External, inst.pinIndex[p.d.Internal]},
			WireOptions{NetName: p.d.NetName, LabelOffset: &label}); err != nil {
			return inst, err
		}
		return inst, nil
	}
	return nil, errors.New(errors.ErrCodeInvalidPlacement, "placing %s: need a point or a connection directive", name)
}

func (s *Schematic) addInstance(ctx context.Context, c AddInstance, pins []backend.SymbolPin) (*Instance, error) {
	if pins == nil {
		var err error
		if pins, err = s.symbolPins(ctx, c.Lib, c.Cell); err != nil {
			return nil, err
		}
	}
	key := geom.SymbolKey{Lib: c.Lib, Cell: c.Cell}
	instPhys := s.recenter.InstancePhysical(key, c.Pos)

	h, err := s.be.Instantiate(ctx, s.cell, backend.SymbolRef{Lib: c.Lib, Cell: c.Cell, View: "symbol"}, c.Name, instPhys, c.Orient)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "instantiate %s (%s)", c.Name, key)
	}

	inst := &Instance{
		Name:        c.Name,
		Lib:         c.Lib,
		Cell:        c.Cell,
		Pos:         c.Pos,
		Orientation: c.Orient,
		sch:         s,
		handle:      h,
		pinIndex:    make(map[string]*Pin, len(pins)),
	}
	for _, sp := range pins {
		p := &Pin{
			QualifiedName: "/" + c.Name + "/" + sp.Name,
			Name:          sp.Name,
			Instance:      c.Name,
			Pos:           geom.PinPosition(sp.BBox.Center(), instPhys, c.Orient),
		}
		inst.pins = append(inst.pins, p)
		inst.pinIndex[sp.Name] = p
	}
	if err := inst.refresh(ctx); err != nil {
		return nil, err
	}

	s.instances = append(s.instances, inst)
	s.index[c.Name] = inst
	s.commands = append(s.commands, Command{Op: OpAddInstance, Instance: &c})
	s.logger.Debug("instance created", "name", c.Name, "symbol", key, "pos", c.Pos, "orient", c.Orient)
	return inst, nil
}

func (s *Schematic) symbolPins(ctx context.Context, lib, cell string) ([]backend.SymbolPin, error) {
	pins, err := s.be.SymbolPins(ctx, lib, cell)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "read pins of %s/%s", lib, cell)
	}
	if pins == nil {
		pins = []backend.SymbolPin{}
	}
	return pins, nil
}

func hasPin(pins []backend.SymbolPin, name string) bool {
	for _, p := range pins {
		if p.Name == name {
			return true
		}
	}
	return false
}

func pinNames(pins []backend.SymbolPin) []string {
	names := make([]string, len(pins))
	for i, p := range pins {
		names[i] = p.Name
	}
	return names
}

func (s *Schematic) setParam(ctx context.Context, inst *Instance, name string, v Value) error {
	if err := s.be.SetParameter(ctx, inst.handle, name, v.Backend()); err != nil {
		return errors.Wrap(errors.ErrCodeBackend, err, "set %s.%s", inst.Name, name)
	}
	inst.recordApplied(name, v)
	inst.updateParam(name, v.Backend())
	if v.Kind == KindVar {
		s.AddParamVars(v.Text)
	}
	s.commands = append(s.commands, Command{Op: OpSetParam, Param: &SetParam{Instance: inst.Name, Name: name, Value: v}})
	s.logger.Debug("parameter set", "instance", inst.Name, "name", name, "value", v)
	return nil
}

// =============================================================================
// Wires
// =============================================================================

// CreateWire draws a wire through endpoints. With a net name, a label is
// placed at the first endpoint plus the label offset, and the name becomes
// the net's authoritative name.
func (s *Schematic) CreateWire(ctx context.Context, endpoints []Endpoint, opts WireOptions) (*Wire, error) {
	c, err := wireCommand(endpoints, opts)
	if err != nil {
		return nil, err
	}
	return s.addWire(ctx, c)
}

func wireCommand(endpoints []Endpoint, opts WireOptions) (AddWire, error) {
	if len(endpoints) < 2 {
		return AddWire{}, errors.New(errors.ErrCodeInvalidInput, "a wire needs at least 2 endpoints, got %d", len(endpoints))
	}
	mode := opts.Mode
	if mode == "" {
		mode = backend.WireRoute
	}
	if mode != backend.WireRoute && mode != backend.WireDraw {
		return AddWire{}, errors.New(errors.ErrCodeInvalidInput, "invalid wire mode %q (valid: route, draw)", mode)
	}

	points := make([]geom.Point, len(endpoints))
	for i, e := range endpoints {
		if e == nil {
			return AddWire{}, errors.New(errors.ErrCodeInvalidPlacement, "wire endpoint %d is nil", i)
		}
		points[i] = e.GridPos()
	}

	c := AddWire{Points: points, Mode: mode, Net: opts.NetName}
	if opts.NetName != "" {
		if err := errors.ValidateNetName(opts.NetName); err != nil {
			return AddWire{}, err
		}
		label := points[0]
		if opts.LabelOffset != nil {
			label = label.Add(*opts.LabelOffset)
		}
		c.LabelPos = &label
	}
	return c, nil
}

func (s *Schematic) addWire(ctx context.Context, c AddWire) (*Wire, error) {
	var annotated *Pin
	if c.PinNet != nil {
		p, err := s.LookupPin(c.PinNet.Pin)
		if err != nil {
			return nil, err
		}
		annotated = p
	}

	phys := make([]geom.Point, len(c.Points))
	for i, p := range c.Points {
		phys[i] = geom.ToPhysical(p)
	}
	h, err := s.be.CreateWire(ctx, s.cell, backend.WireSpec{
		Mode:          c.Mode,
		Points:        phys,
		SnapSpacing:   geom.SnapSpacing,
		ExtendSpacing: geom.SnapSpacing,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "create wire")
	}

	if c.Net != "" && c.LabelPos != nil {
		if err := s.be.CreateWireLabel(ctx, s.cell, h, backend.LabelSpec{
			Text:    c.Net,
			Pos:     geom.ToPhysical(*c.LabelPos),
			Justify: "upperLeft",
			Orient:  geom.R0,
			Font:    "fixed",
			Height:  geom.SnapSpacing,
		}); err != nil {
			return nil, errors.Wrap(errors.ErrCodeBackend, err, "label wire %s", c.Net)
		}
		s.nets = appendUnique(s.nets, c.Net)
	}

	if annotated != nil {
		annotated.Net = c.PinNet.Net
	}

	w := &Wire{Points: c.Points, Mode: c.Mode, Net: c.Net, LabelPos: c.LabelPos, handle: h}
	s.wires = append(s.wires, w)
	s.commands = append(s.commands, Command{Op: OpAddWire, Wire: &c})
	s.logger.Debug("wire created", "points", len(c.Points), "net", c.Net)
	return w, nil
}

// =============================================================================
// Pins, notes and sources
// =============================================================================

// CreatePin adds a top-level pin. With a Via placement the external pin
// takes the pin's name as its net and is wired to the anchor; a WireOnly
// pin stops there and returns nil.
func (s *Schematic) CreatePin(ctx context.Context, name string, dir PinDirection, at Placement, orient geom.Orientation) (*IOPin, error) {
	if err := errors.ValidateNetName(name); err != nil {
		return nil, err
	}
	if dir < Input || dir > WireOnly {
		return nil, errors.New(errors.ErrCodeInvalidDirection, "pin %s: invalid direction %d", name, int(dir))
	}

	var pos geom.Point
	switch p := at.(type) {
	case pointPlacement:
		if dir == WireOnly {
			return nil, errors.New(errors.ErrCodeInvalidDirection, "pin %s: wire-only pins need a connection directive", name)
		}
		pos = p.p

	case connPlacement:
		anchor, label, err := p.d.Resolve()
		if err != nil {
			return nil, err
		}
		c, err := wireCommand([]Endpoint{p.d.External, anchor}, WireOptions{NetName: p.d.NetName, LabelOffset: &label})
		if err != nil {
			return nil, err
		}
		if ext, ok := p.d.External.(*Pin); ok {
			c.PinNet = &PinNet{Pin: ext.QualifiedName, Net: name}
		}
		if _, err := s.addWire(ctx, c); err != nil {
			return nil, err
		}
		if dir == WireOnly {
			return nil, nil
		}
		pos = anchor

	default:
		return nil, errors.New(errors.ErrCodeInvalidPlacement, "pin %s: need a point or a connection directive", name)
	}

	return s.addPin(ctx, AddPin{Name: name, Direction: dir, Pos: pos, Orient: orient})
}

func (s *Schematic) addPin(ctx context.Context, c AddPin) (*IOPin, error) {
	if _, err := s.be.CreatePin(ctx, s.cell, backend.PinSpec{
		Name:      c.Name,
		Symbol:    backend.SymbolRef{Lib: "basic", Cell: c.Direction.symbol(), View: "symbol"},
		Pos:       geom.ToPhysical(c.Pos),
		Orient:    c.Orient,
		Direction: c.Direction.String(),
	}); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackend, err, "create pin %s", c.Name)
	}

	p := &IOPin{Name: c.Name, Direction: c.Direction, Pos: c.Pos, Orientation: c.Orient}
	s.pins = append(s.pins, p)
	s.nets = appendUnique(s.nets, c.Name)
	s.commands = append(s.commands, Command{Op: OpAddPin, Pin: &c})
	s.logger.Debug("pin created", "name", c.Name, "direction", c.Direction, "pos", c.Pos)
	return p, nil
}

// CreateNote places a text note. A size of 0 uses DefaultNoteSize.
func (s *Schematic) CreateNote(ctx context.Context, text string, pos geom.Point, size float64) error {
	if text == "" {
		return errors.New(errors.ErrCodeInvalidInput, "note text cannot be empty")
	}
	if size < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "note size must be positive, got %g", size)
	}
	if size == 0 {
		size = DefaultNoteSize
	}
	return s.addNote(ctx, AddNote{Text: text, Pos: pos, Size: size})
}

func (s *Schematic) addNote(ctx context.Context, c AddNote) error {
	if err := s.be.CreateNote(ctx, s.cell, backend.NoteSpec{
		Text:    c.Text,
		Pos:     geom.ToPhysical(c.Pos),
		Justify: "lowerLeft",
		Orient:  geom.R0,
		Font:    "fixed",
		Height:  c.Size,
		Style:   "normalLabel",
	}); err != nil {
		return errors.Wrap(errors.ErrCodeBackend, err, "create note")
	}
	s.notes = append(s.notes, Note(c))
	s.commands = append(s.commands, Command{Op: OpAddNote, Note: &c})
	return nil
}

// CreateVSource places an analogLib source of the given kind (vdc, vpulse,
// ...) and stubs both terminals with labeled wires: plusNet above the PLUS
// terminal and minusNet (default gnd!) below the MINUS terminal.
func (s *Schematic) CreateVSource(ctx context.Context, kind string, pos geom.Point, name, plusNet, minusNet string, orient geom.Orientation) (*Instance, error) {
	if minusNet == "" {
		minusNet = DefaultGround
	}
	src, err := s.CreateInstance(ctx, "analogLib", kind, AtPoint(pos), name, orient)
	if err != nil {
		return nil, err
	}
	plus, err := src.Pin("PLUS")
	if err != nil {
		return src, err
	}
	minus, err := src.Pin("MINUS")
	if err != nil {
		return src, err
	}

	plusOffset, minusOffset := plusLabelOffset, minusLabelOffset
	if _, err := s.CreateWire(ctx, []Endpoint{plus, plus.Pos.Add(geom.Pt(0, sourceStub))},
		WireOptions{NetName: plusNet, LabelOffset: &plusOffset}); err != nil {
		return src, err
	}
	if _, err := s.CreateWire(ctx, []Endpoint{minus, minus.Pos.Add(geom.Pt(0, -sourceStub))},
		WireOptions{NetName: minusNet, LabelOffset: &minusOffset}); err != nil {
		return src, err
	}
	return src, nil
}
