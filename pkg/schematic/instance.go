package schematic

import (
	"context"
	"strings"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
)

// Endpoint is anything with a grid position: a Pin or a geom.Point.
type Endpoint interface {
	GridPos() geom.Point
}

// Pin is a terminal of a placed instance.
type Pin struct {
	QualifiedName string     `json:"qualified_name"` // "/inst/pin"
	Name          string     `json:"name"`
	Instance      string     `json:"instance"`
	Pos           geom.Point `json:"pos"`           // Grid units
	Net           string     `json:"net,omitempty"` // Set when a top-level pin is wired to it; replayed with the wire
}

// GridPos returns the pin position so a Pin can be used as an Endpoint.
func (p *Pin) GridPos() geom.Point { return p.Pos }

// Applied is a parameter value set by the user.
type Applied struct {
	Name  string `json:"name" bson:"name"`
	Value Value  `json:"value" bson:"value"`
}

// Instance is a placed symbol with its pins and parameters.
type Instance struct {
	Name        string
	Lib         string
	Cell        string
	Pos         geom.Point // Grid units, before recentering
	Orientation geom.Orientation

	sch    *Schematic
	handle backend.Handle

	pins     []*Pin
	pinIndex map[string]*Pin

	params  []backend.Parameter
	applied []Applied
}

// Pin returns the named pin.
func (i *Instance) Pin(name string) (*Pin, error) {
	if p, ok := i.pinIndex[name]; ok {
		return p, nil
	}
	names := make([]string, len(i.pins))
	for k, p := range i.pins {
		names[k] = p.Name
	}
	return nil, errors.New(errors.ErrCodeUnknownPin,
		"pin %q does not exist on %s (available: %s)", name, i.Name, strings.Join(names, ", "))
}

// MustPin is like Pin but panics on an unknown name.
func (i *Instance) MustPin(name string) *Pin {
	p, err := i.Pin(name)
	if err != nil {
		panic(err)
	}
	return p
}

// Pins returns the pins in symbol order.
func (i *Instance) Pins() []*Pin {
	out := make([]*Pin, len(i.pins))
	copy(out, i.pins)
	return out
}

// Params returns the parameter table as last read from the backend.
func (i *Instance) Params() []backend.Parameter {
	out := make([]backend.Parameter, len(i.params))
	copy(out, i.params)
	return out
}

// Param returns the named parameter.
func (i *Instance) Param(name string) (backend.Parameter, error) {
	for _, p := range i.params {
		if p.Name == name {
			return p, nil
		}
	}
	names := make([]string, len(i.params))
	for k, p := range i.params {
		names[k] = p.Name
	}
	return backend.Parameter{}, errors.New(errors.ErrCodeUnknownParameter,
		"parameter %q does not exist on %s (available: %s)", name, i.Name, strings.Join(names, ", "))
}

// Calculated returns the backend's value for the named parameter as last
// read. Values computed by callbacks appear after Schematic.RunCallbacks.
func (i *Instance) Calculated(name string) (string, error) {
	p, err := i.Param(name)
	if err != nil {
		return "", err
	}
	return p.Value, nil
}

// Applied returns the values set through Set, in the order they were first
// set.
func (i *Instance) Applied() []Applied {
	out := make([]Applied, len(i.applied))
	copy(out, i.applied)
	return out
}

// AppliedValue returns the value set for name.
func (i *Instance) AppliedValue(name string) (Value, bool) {
	for _, a := range i.applied {
		if a.Name == name {
			return a.Value, true
		}
	}
	return Value{}, false
}

// Set applies a parameter value. Var values register their variable name as
// a param var.
func (i *Instance) Set(ctx context.Context, name string, v Value) error {
	if _, err := i.Param(name); err != nil {
		return err
	}
	if err := v.validate(); err != nil {
		return err
	}
	return i.sch.setParam(ctx, i, name, v)
}

// SetAll applies several values in the given order.
func (i *Instance) SetAll(ctx context.Context, values []Applied) error {
	for _, a := range values {
		if err := i.Set(ctx, a.Name, a.Value); err != nil {
			return err
		}
	}
	return nil
}

func (i *Instance) recordApplied(name string, v Value) {
	for k := range i.applied {
		if i.applied[k].Name == name {
			i.applied[k].Value = v
			return
		}
	}
	i.applied = append(i.applied, Applied{Name: name, Value: v})
}

func (i *Instance) updateParam(name, value string) {
	for k := range i.params {
		if i.params[k].Name == name {
			i.params[k].Value = value
			return
		}
	}
}

// refresh re-reads the parameter table from the backend.
func (i *Instance) refresh(ctx context.Context) error {
	params, err := i.sch.be.Parameters(ctx, i.handle)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBackend, err, "read parameters of %s", i.Name)
	}
	i.params = params
	return nil
}
