package schematic

import (
	"context"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
)

// Op names a command in the log.
type Op string

const (
	OpAddInstance Op = "add_instance"
	OpAddPin      Op = "add_pin"
	OpAddWire     Op = "add_wire"
	OpAddNote     Op = "add_note"
	OpSetParam    Op = "set_param"
)

// Command is one entry of the append-only command log. Exactly one of the
// payload fields is set, matching Op. Every geometry is already resolved, so
// replaying a log never consults the pins of the source schematic.
type Command struct {
	Op       Op           `json:"op" bson:"op"`
	Instance *AddInstance `json:"instance,omitempty" bson:"instance,omitempty"`
	Pin      *AddPin      `json:"pin,omitempty" bson:"pin,omitempty"`
	Wire     *AddWire     `json:"wire,omitempty" bson:"wire,omitempty"`
	Note     *AddNote     `json:"note,omitempty" bson:"note,omitempty"`
	Param    *SetParam    `json:"param,omitempty" bson:"param,omitempty"`
}

// AddInstance places a symbol.
type AddInstance struct {
	Lib    string           `json:"lib" bson:"lib"`
	Cell   string           `json:"cell" bson:"cell"`
	Name   string           `json:"name" bson:"name"`
	Pos    geom.Point       `json:"pos" bson:"pos"`
	Orient geom.Orientation `json:"orient" bson:"orient"`
}

// AddPin creates a top-level pin.
type AddPin struct {
	Name      string           `json:"name" bson:"name"`
	Direction PinDirection     `json:"direction" bson:"direction"`
	Pos       geom.Point       `json:"pos" bson:"pos"`
	Orient    geom.Orientation `json:"orient" bson:"orient"`
}

// AddWire draws a wire, optionally labeled. PinNet is set when the wire
// connects a top-level pin to an instance pin, which then carries the
// top-level pin's name as its net.
type AddWire struct {
	Points   []geom.Point     `json:"points" bson:"points"`
	Mode     backend.WireMode `json:"mode" bson:"mode"`
	Net      string           `json:"net,omitempty" bson:"net,omitempty"`
	LabelPos *geom.Point      `json:"label_pos,omitempty" bson:"label_pos,omitempty"`
	PinNet   *PinNet          `json:"pin_net,omitempty" bson:"pin_net,omitempty"`
}

// PinNet names the net of an instance pin, given as "/inst/pin".
type PinNet struct {
	Pin string `json:"pin" bson:"pin"`
	Net string `json:"net" bson:"net"`
}

// AddNote places a note.
type AddNote struct {
	Text string     `json:"text" bson:"text"`
	Pos  geom.Point `json:"pos" bson:"pos"`
	Size float64    `json:"size" bson:"size"`
}

// SetParam applies a parameter value to an instance.
type SetParam struct {
	Instance string `json:"instance" bson:"instance"`
	Name     string `json:"name" bson:"name"`
	Value    Value  `json:"value" bson:"value"`
}

// validate checks that the payload matches the op.
func (c Command) validate() error {
	var ok bool
	switch c.Op {
	case OpAddInstance:
		ok = c.Instance != nil
	case OpAddPin:
		ok = c.Pin != nil
	case OpAddWire:
		ok = c.Wire != nil
	case OpAddNote:
		ok = c.Note != nil
	case OpSetParam:
		ok = c.Param != nil
	default:
		return errors.New(errors.ErrCodeInvalidInput, "unknown command %q", c.Op)
	}
	if !ok {
		return errors.New(errors.ErrCodeInvalidInput, "command %q has no payload", c.Op)
	}
	return nil
}

// Apply replays one command. Structural checks run the same way they do for
// the Create methods.
func (s *Schematic) Apply(ctx context.Context, c Command) error {
	if err := c.validate(); err != nil {
		return err
	}
	switch c.Op {
	case OpAddInstance:
		in := *c.Instance
		if err := errors.ValidateInstanceName(in.Name); err != nil {
			return err
		}
		if _, dup := s.index[in.Name]; dup {
			return errors.New(errors.ErrCodeDuplicateInstance, "instance %q already exists in %s", in.Name, s.Cell)
		}
		_, err := s.addInstance(ctx, in, nil)
		return err

	case OpAddPin:
		if c.Pin.Direction < Input || c.Pin.Direction >= WireOnly {
			return errors.New(errors.ErrCodeInvalidDirection, "pin %s: invalid direction %d", c.Pin.Name, int(c.Pin.Direction))
		}
		_, err := s.addPin(ctx, *c.Pin)
		return err

	case OpAddWire:
		w := *c.Wire
		w.Points = append([]geom.Point(nil), w.Points...)
		if len(w.Points) < 2 {
			return errors.New(errors.ErrCodeInvalidInput, "a wire needs at least 2 points, got %d", len(w.Points))
		}
		if w.Mode == "" {
			w.Mode = backend.WireRoute
		}
		if w.LabelPos != nil {
			label := *w.LabelPos
			w.LabelPos = &label
		}
		if w.PinNet != nil {
			pn := *w.PinNet
			w.PinNet = &pn
		}
		_, err := s.addWire(ctx, w)
		return err

	case OpAddNote:
		return s.addNote(ctx, *c.Note)

	case OpSetParam:
		inst, err := s.Instance(c.Param.Instance)
		if err != nil {
			return err
		}
		return inst.Set(ctx, c.Param.Name, c.Param.Value)
	}
	return nil
}

// Replay applies commands in order and stops at the first failure.
func (s *Schematic) Replay(ctx context.Context, commands []Command) error {
	for i, c := range commands {
		if err := s.Apply(ctx, c); err != nil {
			code := errors.GetCode(err)
			if code == "" {
				code = errors.ErrCodeBackend
			}
			return errors.Wrap(code, err, "replay command %d (%s)", i, c.Op)
		}
	}
	return nil
}

// Clone replays the command log into lib/cell on target and copies the
// declared param vars and CDF-ignore names. Commands are replayed in
// creation order, so wires and parameters always find their instances.
// The clone is not saved.
func (s *Schematic) Clone(ctx context.Context, target backend.Schematic, lib, cell string, opts Options) (*Schematic, error) {
	if opts.Recentering == nil {
		opts.Recentering = s.recenter
	}
	return FromDocument(ctx, target, s.Document(), lib, cell, opts)
}
