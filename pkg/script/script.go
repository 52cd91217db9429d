// Package script builds schematics from HCL files.
//
// A script lists placement blocks that are replayed in file order, so a
// block may refer to the pins of any instance declared above it:
//
//	lib  = "work"
//	cell = "inv"
//
//	param_vars = ["wn"]
//	cdf_ignore = ["simM"]
//
//	instance "MN0" {
//	  lib  = "analogLib"
//	  cell = "nmos4"
//	  pos  = [0, 0]
//	  vars = { w = "wn" }
//	}
//
//	instance "MP0" {
//	  lib    = "analogLib"
//	  cell   = "pmos4"
//	  orient = "MX"
//	  conn {
//	    pin       = "MN0/D"
//	    internal  = "D"
//	    direction = "above"
//	    net       = "out"
//	  }
//	  params = { w = "2u", m = 2 }
//	}
//
//	pin "vin" {
//	  direction = "input"
//	  conn {
//	    pin       = "MN0/G"
//	    direction = "left"
//	  }
//	}
//
//	wire {
//	  points = ["MN0/S", [0, -10]]
//	  net    = "gnd!"
//	}
//
//	vsource "V0" {
//	  kind = "vdc"
//	  pos  = [20, 0]
//	  plus = "vdd!"
//	  params = { vdc = 1.2 }
//	}
//
//	note "inverter" {
//	  pos = [-10, -10]
//	}
//
// Wire points and conn pins are either "INST/PIN" or the name of a
// top-level pin; wire points may also be [x, y] grid coordinates.
package script

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/connpos"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
	"github.com/matzehuels/cellforge/pkg/schematic"
)

// Script is a parsed schematic script.
type Script struct {
	Path      string
	Lib       string // Optional default library
	Cell      string // Optional default cell
	ParamVars []string
	CDFIgnore []string

	steps []step
}

// step is one placement block in file order.
type step struct {
	kind  string
	rng   hcl.Range
	apply func(ctx context.Context, sch *schematic.Schematic) error
}

// Steps returns the block kinds in replay order.
func (s *Script) Steps() []string {
	kinds := make([]string, len(s.steps))
	for i, st := range s.steps {
		kinds[i] = st.kind
	}
	return kinds
}

// =============================================================================
// HCL schema
// =============================================================================

type fileRoot struct {
	Lib       string           `hcl:"lib,optional"`
	Cell      string           `hcl:"cell,optional"`
	ParamVars []string         `hcl:"param_vars,optional"`
	CDFIgnore []string         `hcl:"cdf_ignore,optional"`
	Instances []*instanceBlock `hcl:"instance,block"`
	Pins      []*pinBlock      `hcl:"pin,block"`
	Wires     []*wireBlock     `hcl:"wire,block"`
	Notes     []*noteBlock     `hcl:"note,block"`
	Sources   []*vsourceBlock  `hcl:"vsource,block"`
}

type connBlock struct {
	Pin       string   `hcl:"pin"`
	Internal  string   `hcl:"internal,optional"`
	Direction string   `hcl:"direction"`
	Offset    *float64 `hcl:"offset,optional"`
	Net       string   `hcl:"net,optional"`
}

type instanceBlock struct {
	Name   string            `hcl:"name,label"`
	Lib    string            `hcl:"lib"`
	Cell   string            `hcl:"cell"`
	Pos    []float64         `hcl:"pos,optional"`
	Conn   *connBlock        `hcl:"conn,block"`
	Orient string            `hcl:"orient,optional"`
	Params hcl.Expression    `hcl:"params,optional"`
	Vars   map[string]string `hcl:"vars,optional"`
}

type pinBlock struct {
	Name      string     `hcl:"name,label"`
	Direction string     `hcl:"direction"`
	Pos       []float64  `hcl:"pos,optional"`
	Conn      *connBlock `hcl:"conn,block"`
	Orient    string     `hcl:"orient,optional"`
}

type wireBlock struct {
	Points      hcl.Expression `hcl:"points"`
	Net         string         `hcl:"net,optional"`
	LabelOffset []float64      `hcl:"label_offset,optional"`
	Mode        string         `hcl:"mode,optional"`
}

type noteBlock struct {
	Text string    `hcl:"text,label"`
	Pos  []float64 `hcl:"pos"`
	Size float64   `hcl:"size,optional"`
}

type vsourceBlock struct {
	Name   string         `hcl:"name,label"`
	Kind   string         `hcl:"kind"`
	Pos    []float64      `hcl:"pos"`
	Plus   string         `hcl:"plus"`
	Minus  string         `hcl:"minus,optional"`
	Orient string         `hcl:"orient,optional"`
	Params hcl.Expression `hcl:"params,optional"`
}

// =============================================================================
// Loading
// =============================================================================

// Load parses and decodes the script at path.
func Load(path string) (*Script, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, diags, "parse %s", path)
	}
	return decode(path, file)
}

// Parse is like Load but reads src; filename is used in error ranges.
func Parse(src []byte, filename string) (*Script, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, diags, "parse %s", filename)
	}
	return decode(filename, file)
}

func decode(path string, file *hcl.File) (*Script, error) {
	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, diags, "decode %s", path)
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, errors.New(errors.ErrCodeInternal, "%s: unexpected body type %T", path, file.Body)
	}

	s := &Script{
		Path:      path,
		Lib:       root.Lib,
		Cell:      root.Cell,
		ParamVars: root.ParamVars,
		CDFIgnore: root.CDFIgnore,
	}

	// gohcl keeps blocks of one type in source order; walking the syntax
	// tree recovers the order across types.
	var ni, np, nw, nn, nv int
	for _, blk := range body.Blocks {
		rng := blk.DefRange()
		var apply func(context.Context, *schematic.Schematic) error
		switch blk.Type {
		case "instance":
			apply = root.Instances[ni].apply
			ni++
		case "pin":
			apply = root.Pins[np].apply
			np++
		case "wire":
			apply = root.Wires[nw].apply
			nw++
		case "note":
			apply = root.Notes[nn].apply
			nn++
		case "vsource":
			apply = root.Sources[nv].apply
			nv++
		default:
			continue
		}
		s.steps = append(s.steps, step{kind: blk.Type, rng: rng, apply: apply})
	}
	return s, nil
}

// NewSchematic opens the script's cell through be. Empty lib or cell fall
// back to the script's own lib and cell attributes.
func (s *Script) NewSchematic(ctx context.Context, be backend.Schematic, lib, cell string, opts schematic.Options) (*schematic.Schematic, error) {
	if lib == "" {
		lib = s.Lib
	}
	if cell == "" {
		cell = s.Cell
	}
	if lib == "" || cell == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "%s: lib and cell are required", s.Path)
	}
	return schematic.New(ctx, be, lib, cell, opts)
}

// Build replays the script into sch. The first failing block stops the
// build; its error names the block's source range.
func (s *Script) Build(ctx context.Context, sch *schematic.Schematic) error {
	sch.AddParamVars(s.ParamVars...)
	sch.AddCDFIgnore(s.CDFIgnore...)
	for _, st := range s.steps {
		if err := st.apply(ctx, sch); err != nil {
			code := errors.GetCode(err)
			if code == "" {
				code = errors.ErrCodeInvalidInput
			}
			return errors.Wrap(code, err, "%s: %s block", st.rng, st.kind)
		}
	}
	return nil
}

// =============================================================================
// Block application
// =============================================================================

func (b *instanceBlock) apply(ctx context.Context, sch *schematic.Schematic) error {
	orient, err := orientation(b.Orient)
	if err != nil {
		return err
	}
	at, err := placement(sch, b.Pos, b.Conn)
	if err != nil {
		return err
	}
	params, err := paramValues(b.Params)
	if err != nil {
		return err
	}
	inst, err := sch.CreateInstance(ctx, b.Lib, b.Cell, at, b.Name, orient)
	if err != nil {
		return err
	}
	for _, p := range params {
		if err := inst.Set(ctx, p.name, p.value); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(b.Vars) {
		if err := inst.Set(ctx, name, schematic.Var(b.Vars[name])); err != nil {
			return err
		}
	}
	return nil
}

func (b *pinBlock) apply(ctx context.Context, sch *schematic.Schematic) error {
	dir, err := schematic.ParsePinDirection(b.Direction)
	if err != nil {
		return err
	}
	orient, err := orientation(b.Orient)
	if err != nil {
		return err
	}
	at, err := placement(sch, b.Pos, b.Conn)
	if err != nil {
		return err
	}
	_, err = sch.CreatePin(ctx, b.Name, dir, at, orient)
	return err
}

func (b *wireBlock) apply(ctx context.Context, sch *schematic.Schematic) error {
	val, diags := b.Points.Value(nil)
	if diags.HasErrors() {
		return errors.Wrap(errors.ErrCodeInvalidInput, diags, "points")
	}
	if !val.Type().IsTupleType() && !val.Type().IsListType() {
		return errors.New(errors.ErrCodeInvalidInput, "points must be a list, got %s", val.Type().FriendlyName())
	}

	var endpoints []schematic.Endpoint
	for it := val.ElementIterator(); it.Next(); {
		_, v := it.Element()
		e, err := endpoint(sch, v)
		if err != nil {
			return err
		}
		endpoints = append(endpoints, e)
	}

	opts := schematic.WireOptions{NetName: b.Net, Mode: backend.WireMode(b.Mode)}
	if b.LabelOffset != nil {
		off, err := point(b.LabelOffset, "label_offset")
		if err != nil {
			return err
		}
		opts.LabelOffset = &off
	}
	_, err := sch.CreateWire(ctx, endpoints, opts)
	return err
}

func (b *noteBlock) apply(ctx context.Context, sch *schematic.Schematic) error {
	pos, err := point(b.Pos, "pos")
	if err != nil {
		return err
	}
	return sch.CreateNote(ctx, b.Text, pos, b.Size)
}

func (b *vsourceBlock) apply(ctx context.Context, sch *schematic.Schematic) error {
	pos, err := point(b.Pos, "pos")
	if err != nil {
		return err
	}
	orient, err := orientation(b.Orient)
	if err != nil {
		return err
	}
	params, err := paramValues(b.Params)
	if err != nil {
		return err
	}
	src, err := sch.CreateVSource(ctx, b.Kind, pos, b.Name, b.Plus, b.Minus, orient)
	if err != nil {
		return err
	}
	for _, p := range params {
		if err := src.Set(ctx, p.name, p.value); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Value helpers
// =============================================================================

func orientation(s string) (geom.Orientation, error) {
	if s == "" {
		return geom.R0, nil
	}
	return geom.ParseOrientation(s)
}

func point(xy []float64, attr string) (geom.Point, error) {
	if len(xy) != 2 {
		return geom.Point{}, errors.New(errors.ErrCodeInvalidPlacement, "%s needs 2 numbers, got %d", attr, len(xy))
	}
	return geom.Pt(xy[0], xy[1]), nil
}

// placement turns exactly one of pos or conn into a Placement.
func placement(sch *schematic.Schematic, pos []float64, conn *connBlock) (schematic.Placement, error) {
	switch {
	case pos != nil && conn != nil:
		return nil, errors.New(errors.ErrCodeInvalidPlacement, "pos and conn are mutually exclusive")
	case pos != nil:
		p, err := point(pos, "pos")
		if err != nil {
			return nil, err
		}
		return schematic.AtPoint(p), nil
	case conn != nil:
		d, err := conn.directive(sch)
		if err != nil {
			return nil, err
		}
		return schematic.Via(d), nil
	}
	return nil, errors.New(errors.ErrCodeInvalidPlacement, "one of pos or conn is required")
}

func (c *connBlock) directive(sch *schematic.Schematic) (*connpos.Directive, error) {
	anchor, err := lookup(sch, c.Pin)
	if err != nil {
		return nil, err
	}
	dir, err := connpos.ParseDirection(c.Direction)
	if err != nil {
		return nil, err
	}
	opts := []connpos.Option{connpos.WithNet(c.Net)}
	if c.Offset != nil {
		opts = append(opts, connpos.WithOffset(*c.Offset))
	}
	return connpos.New(anchor, c.Internal, dir, opts...), nil
}

// lookup resolves "INST/PIN" to an instance pin and a bare name to a
// top-level pin.
func lookup(sch *schematic.Schematic, ref string) (connpos.Anchor, error) {
	if p, err := sch.LookupPin(ref); err == nil {
		return p, nil
	} else if !errors.Is(err, errors.ErrCodeInvalidInput) {
		return nil, err
	}
	for _, p := range sch.Pins() {
		if p.Name == ref {
			return p, nil
		}
	}
	return nil, errors.New(errors.ErrCodeUnknownPin, "no pin %q", ref)
}

func endpoint(sch *schematic.Schematic, v cty.Value) (schematic.Endpoint, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, errors.New(errors.ErrCodeInvalidPlacement, "wire point is null")
	}
	ty := v.Type()
	switch {
	case ty.Equals(cty.String):
		return lookup(sch, v.AsString())
	case ty.IsTupleType() || ty.IsListType():
		var xy []float64
		for it := v.ElementIterator(); it.Next(); {
			_, n := it.Element()
			f, err := number(n)
			if err != nil {
				return nil, err
			}
			xy = append(xy, f)
		}
		return point(xy, "wire point")
	}
	return nil, errors.New(errors.ErrCodeInvalidPlacement, "wire point must be \"INST/PIN\" or [x, y], got %s", ty.FriendlyName())
}

func number(v cty.Value) (float64, error) {
	if v.IsNull() || !v.Type().Equals(cty.Number) {
		return 0, errors.New(errors.ErrCodeInvalidValue, "expected a number, got %s", v.Type().FriendlyName())
	}
	f, _ := v.AsBigFloat().Float64()
	if math.IsInf(f, 0) {
		return 0, errors.New(errors.ErrCodeInvalidValue, "number %s is out of range", v.AsBigFloat().Text('g', 10))
	}
	return f, nil
}

type param struct {
	name  string
	value schematic.Value
}

// paramValues evaluates a params object. Strings stay text (so "2u" keeps
// its suffix), numbers become Number and bools become "true"/"false".
func paramValues(expr hcl.Expression) ([]param, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, errors.Wrap(errors.ErrCodeInvalidValue, diags, "params")
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, errors.New(errors.ErrCodeInvalidValue, "params must be an object, got %s", val.Type().FriendlyName())
	}

	m := val.AsValueMap()
	out := make([]param, 0, len(m))
	for _, name := range sortedKeys(m) {
		v := m[name]
		var pv schematic.Value
		switch {
		case v.IsNull():
			return nil, errors.New(errors.ErrCodeInvalidValue, "param %s is null", name)
		case v.Type().Equals(cty.String):
			pv = schematic.String(v.AsString())
		case v.Type().Equals(cty.Number):
			f, err := number(v)
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeInvalidValue, err, "param %s", name)
			}
			pv = schematic.Number(f)
		case v.Type().Equals(cty.Bool):
			pv = schematic.String(fmt.Sprint(v.True()))
		default:
			return nil, errors.New(errors.ErrCodeInvalidValue, "param %s has unsupported type %s", name, v.Type().FriendlyName())
		}
		out = append(out, param{name: name, value: pv})
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
