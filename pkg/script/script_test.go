package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matzehuels/cellforge/pkg/backend/memory"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
	"github.com/matzehuels/cellforge/pkg/schematic"
)

const inverter = `
lib  = "work"
cell = "inv"

param_vars = ["wn"]
cdf_ignore = ["simM"]

instance "MN0" {
  lib  = "analogLib"
  cell = "nmos4"
  pos  = [0, 0]
  vars = { w = "wn" }
}

instance "MP0" {
  lib    = "analogLib"
  cell   = "pmos4"
  orient = "MX"
  conn {
    pin       = "MN0/D"
    internal  = "D"
    direction = "above"
    net       = "out"
  }
  params = { w = "2u", m = 2 }
}

pin "vin" {
  direction = "input"
  conn {
    pin       = "MN0/G"
    direction = "left"
  }
}

wire {
  points = ["vin", [-14, 4]]
}

wire {
  points       = ["MN0/S", [0, -10]]
  net          = "gnd!"
  label_offset = [1, 0]
}

vsource "V0" {
  kind   = "vdc"
  pos    = [20, 0]
  plus   = "vdd!"
  params = { vdc = 1.2 }
}

note "inverter" {
  pos  = [-10, -10]
  size = 0.125
}
`

func build(t *testing.T, src string) (*schematic.Schematic, *memory.Backend, error) {
	t.Helper()
	ctx := context.Background()
	s, err := Parse([]byte(src), "inv.hcl")
	require.NoError(t, err)
	be := memory.New()
	sch, err := s.NewSchematic(ctx, be, "", "", schematic.Options{})
	require.NoError(t, err)
	return sch, be, s.Build(ctx, sch)
}

func TestParseOrder(t *testing.T) {
	s, err := Parse([]byte(inverter), "inv.hcl")
	require.NoError(t, err)
	require.Equal(t, "work", s.Lib)
	require.Equal(t, "inv", s.Cell)
	require.Equal(t, []string{"wn"}, s.ParamVars)
	require.Equal(t, []string{"simM"}, s.CDFIgnore)
	require.Equal(t, []string{"instance", "instance", "pin", "wire", "wire", "vsource", "note"}, s.Steps())
}

func TestBuild(t *testing.T) {
	sch, be, err := build(t, inverter)
	require.NoError(t, err)

	require.Equal(t, schematic.Summary{
		Lib: "work", Cell: "inv",
		Instances: 3, Pins: 1, Wires: 6, Notes: 1, Nets: 4, ParamVars: 1,
	}, sch.Summary())
	require.Equal(t, []string{"simM"}, sch.CDFIgnore())

	mp, err := sch.Instance("MP0")
	require.NoError(t, err)
	require.Equal(t, geom.Pt(0, 16), mp.Pos)
	require.Equal(t, geom.MX, mp.Orientation)
	w, ok := mp.AppliedValue("w")
	require.True(t, ok)
	require.Equal(t, schematic.String("2u"), w)
	m, ok := mp.AppliedValue("m")
	require.True(t, ok)
	require.Equal(t, schematic.Number(2), m)

	mn, err := sch.Instance("MN0")
	require.NoError(t, err)
	v, ok := mn.AppliedValue("w")
	require.True(t, ok)
	require.Equal(t, schematic.Var("wn"), v)

	v0, err := sch.Instance("V0")
	require.NoError(t, err)
	dc, ok := v0.AppliedValue("vdc")
	require.True(t, ok)
	require.Equal(t, schematic.Number(1.2), dc)

	pins := sch.Pins()
	require.Len(t, pins, 1)
	require.Equal(t, "vin", pins[0].Name)
	require.Equal(t, geom.Pt(-14, 0), pins[0].Pos)

	wires := sch.Wires()
	require.Equal(t, []geom.Point{geom.Pt(-14, 0), geom.Pt(-14, 4)}, wires[2].Points)
	require.Equal(t, "gnd!", wires[3].Net)
	require.Equal(t, geom.Pt(1, -6), *wires[3].LabelPos)

	require.Equal(t, []string{"out", "vin", "gnd!", "vdd!"}, sch.Nets())

	cell := be.Cell("work", "inv")
	require.NotNil(t, cell)
	require.Len(t, cell.Notes, 1)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inv.hcl")
	require.NoError(t, os.WriteFile(path, []byte(inverter), 0644))

	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, s.Path)
	require.Len(t, s.Steps(), 7)

	_, err = Load(filepath.Join(t.TempDir(), "missing.hcl"))
	require.Error(t, err)
}

func TestNewSchematicNeedsCell(t *testing.T) {
	s, err := Parse([]byte(`note "x" { pos = [0, 0] }`), "x.hcl")
	require.NoError(t, err)
	_, err = s.NewSchematic(context.Background(), memory.New(), "", "", schematic.Options{})
	require.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	sch, err := s.NewSchematic(context.Background(), memory.New(), "work", "x", schematic.Options{})
	require.NoError(t, err)
	require.Equal(t, "x", sch.Cell)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `instance "MN0" {`},
		{"unknown block", `transistor "MN0" {}`},
		{"missing required attribute", `instance "MN0" { lib = "analogLib" }`},
		{"unknown attribute", `instance "MN0" {
  lib = "analogLib"
  cell = "nmos4"
  pos = [0, 0]
  color = "red"
}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "bad.hcl")
			require.Error(t, err)
			require.True(t, errors.Is(err, errors.ErrCodeInvalidInput), "got %v", err)
		})
	}
}

func TestBuildErrors(t *testing.T) {
	header := "lib = \"work\"\ncell = \"x\"\n"
	nmos := `
instance "MN0" {
  lib  = "analogLib"
  cell = "nmos4"
  pos  = [0, 0]
}
`
	tests := []struct {
		name string
		src  string
		code errors.Code
	}{
		{"pos and conn", `
instance "MN1" {
  lib  = "analogLib"
  cell = "nmos4"
  pos  = [0, 0]
  conn {
    pin       = "MN0/D"
    direction = "above"
  }
}`, errors.ErrCodeInvalidPlacement},
		{"no placement", `
instance "MN1" {
  lib  = "analogLib"
  cell = "nmos4"
}`, errors.ErrCodeInvalidPlacement},
		{"pos arity", `
instance "MN1" {
  lib  = "analogLib"
  cell = "nmos4"
  pos  = [0]
}`, errors.ErrCodeInvalidPlacement},
		{"bad direction", `
instance "MN1" {
  lib  = "analogLib"
  cell = "nmos4"
  conn {
    pin       = "MN0/D"
    internal  = "D"
    direction = "sideways"
  }
}`, errors.ErrCodeInvalidDirection},
		{"unknown pin", `
wire {
  points = ["nowhere", [0, 10]]
}`, errors.ErrCodeUnknownPin},
		{"duplicate instance", `
instance "MN0" {
  lib  = "analogLib"
  cell = "nmos4"
  pos  = [10, 0]
}`, errors.ErrCodeDuplicateInstance},
		{"bad orientation", `
instance "MN1" {
  lib    = "analogLib"
  cell   = "nmos4"
  pos    = [10, 0]
  orient = "R45"
}`, errors.ErrCodeInvalidOrientation},
		{"bad wire point", `
wire {
  points = ["MN0/D", true]
}`, errors.ErrCodeInvalidPlacement},
		{"bad param type", `
instance "MN1" {
  lib    = "analogLib"
  cell   = "nmos4"
  pos    = [10, 0]
  params = { w = ["1u"] }
}`, errors.ErrCodeInvalidValue},
		{"unknown param", `
instance "MN1" {
  lib    = "analogLib"
  cell   = "nmos4"
  pos    = [10, 0]
  params = { flavor = "spicy" }
}`, errors.ErrCodeUnknownParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := build(t, header+nmos+tt.src)
			require.Error(t, err)
			require.Equal(t, tt.code, errors.GetCode(err), "got %v", err)
			require.Contains(t, err.Error(), "inv.hcl:")
		})
	}
}
