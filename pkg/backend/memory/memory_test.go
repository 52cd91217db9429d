package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
	"github.com/matzehuels/cellforge/pkg/waveform"
)

func TestDefaultLibrary(t *testing.T) {
	l := DefaultLibrary()

	tests := []struct {
		lib, cell string
		pins      []string
	}{
		{"analogLib", "nmos4", []string{"D", "G", "S", "B"}},
		{"analogLib", "res", []string{"PLUS", "MINUS"}},
		{"analogLib", "vdc", []string{"PLUS", "MINUS"}},
		{"basic", "ipin", []string{"in"}},
		{"cmos10lpe", "nfet", []string{"D", "G", "S", "B"}},
	}

	for _, tt := range tests {
		t.Run(tt.lib+"/"+tt.cell, func(t *testing.T) {
			s, ok := l.Lookup(tt.lib, tt.cell)
			if !ok {
				t.Fatalf("Lookup(%s, %s) not found", tt.lib, tt.cell)
			}
			var names []string
			for _, p := range s.Pins {
				names = append(names, p.Name)
			}
			if diff := cmp.Diff(tt.pins, names); diff != "" {
				t.Errorf("pins mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, ok := l.Lookup("analogLib", "nope"); ok {
		t.Error("Lookup of unknown symbol should fail")
	}
}

func TestDefaultPinsOnGrid(t *testing.T) {
	l := DefaultLibrary()
	for _, key := range l.Keys() {
		s, _ := l.Lookup(key.Lib, key.Cell)
		for _, p := range s.Pins {
			c := geom.ToGrid(p.BBox.Center())
			if !c.ApproxEqual(geom.Pt(float64(int(c.X)), float64(int(c.Y))), 1e-9) {
				t.Errorf("%s pin %s center %v is off grid", key, p.Name, c)
			}
		}
	}
}

func TestLoadLibrary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.toml")
	data := `
[symbols."myLib/inv"]
pins = [
  { name = "A", bbox = [-0.03125, -0.03125, 0.03125, 0.03125] },
  { name = "Y", bbox = [0.46875, -0.03125, 0.53125, 0.03125] },
]
params = { wp = "2u", wn = "1u" }
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	l, err := LoadLibrary(path)
	if err != nil {
		t.Fatalf("LoadLibrary error: %v", err)
	}
	s, ok := l.Lookup("myLib", "inv")
	if !ok {
		t.Fatal("myLib/inv not loaded")
	}
	if len(s.Pins) != 2 || s.Pins[1].BBox.Center() != geom.Pt(0.5, 0) {
		t.Errorf("pins = %+v", s.Pins)
	}
	want := []backend.Parameter{{Name: "wn", Value: "1u"}, {Name: "wp", Value: "2u"}}
	if diff := cmp.Diff(want, s.Params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
	if _, ok := l.Lookup("analogLib", "nmos4"); !ok {
		t.Error("defaults should still be present")
	}
}

func TestAddDefsInvalid(t *testing.T) {
	tests := []struct {
		name string
		defs map[string]SymbolDef
	}{
		{"bad key", map[string]SymbolDef{"inv": {}}},
		{"short bbox", map[string]SymbolDef{"a/b": {Pins: []PinDef{{Name: "A", BBox: []float64{0, 0}}}}}},
		{"unnamed pin", map[string]SymbolDef{"a/b": {Pins: []PinDef{{BBox: []float64{0, 0, 1, 1}}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewLibrary().AddDefs(tt.defs); !errors.Is(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("AddDefs error = %v, want INVALID_CONFIG", err)
			}
		})
	}
}

func TestSchematicCalls(t *testing.T) {
	ctx := context.Background()
	b := New()

	cell, err := b.OpenCell(ctx, "work", "inv", backend.KindSchematic, backend.ModeWrite)
	if err != nil {
		t.Fatalf("OpenCell error: %v", err)
	}
	inst, err := b.Instantiate(ctx, cell, backend.SymbolRef{Lib: "analogLib", Cell: "nmos4"}, "M0", geom.Pt(0, 0), geom.R0)
	if err != nil {
		t.Fatalf("Instantiate error: %v", err)
	}
	if err := b.SetParameter(ctx, inst, "w", "2u"); err != nil {
		t.Fatalf("SetParameter error: %v", err)
	}
	if _, err := b.CreateWire(ctx, cell, backend.WireSpec{Points: []geom.Point{{}, {X: 1}}}); err != nil {
		t.Fatalf("CreateWire error: %v", err)
	}
	if err := b.Save(ctx, cell); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	want := []string{"OpenCell", "Instantiate", "SetParameter", "CreateWire", "Save"}
	if diff := cmp.Diff(want, b.Methods()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	c := b.Cell("work", "inv")
	if c == nil || len(c.Instances) != 1 || len(c.Wires) != 1 || !c.Saved {
		t.Fatalf("cell = %+v", c)
	}
	params, _ := b.Parameters(ctx, inst)
	if params[1].Name != "w" || params[1].Value != "2u" {
		t.Errorf("params = %+v", params)
	}
}

func TestSchematicErrors(t *testing.T) {
	ctx := context.Background()
	b := New()
	cell, _ := b.OpenCell(ctx, "work", "top", backend.KindSchematic, backend.ModeWrite)
	nmos := backend.SymbolRef{Lib: "analogLib", Cell: "nmos4"}

	if _, err := b.Instantiate(ctx, cell, backend.SymbolRef{Lib: "x", Cell: "y"}, "X0", geom.Point{}, geom.R0); !errors.Is(err, errors.ErrCodeBackend) {
		t.Errorf("unknown symbol error = %v, want BACKEND", err)
	}
	if _, err := b.Instantiate(ctx, cell, nmos, "M0", geom.Point{}, geom.R0); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Instantiate(ctx, cell, nmos, "M0", geom.Point{}, geom.R0); !errors.Is(err, errors.ErrCodeBackend) {
		t.Errorf("duplicate instance error = %v, want BACKEND", err)
	}
	if _, err := b.CreateWire(ctx, cell, backend.WireSpec{Points: []geom.Point{{}}}); err == nil {
		t.Error("single point wire should fail")
	}
	if _, err := b.OpenCell(ctx, "work", "missing", backend.KindSchematic, backend.ModeRead); err == nil {
		t.Error("read of missing cell should fail")
	}
	if err := b.Check(ctx, "cell:999"); err == nil {
		t.Error("unknown handle should fail")
	}
}

func TestFailOnAndClose(t *testing.T) {
	ctx := context.Background()
	b := New()
	boom := errors.New(errors.ErrCodeBackend, "boom")

	b.FailOn("OpenCell", boom)
	if _, err := b.OpenCell(ctx, "work", "x", backend.KindSchematic, backend.ModeWrite); err != boom {
		t.Errorf("OpenCell error = %v, want injected error", err)
	}
	b.FailOn("OpenCell", nil)
	if _, err := b.OpenCell(ctx, "work", "x", backend.KindSchematic, backend.ModeWrite); err != nil {
		t.Errorf("OpenCell after clearing error = %v", err)
	}

	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := b.Close(ctx); err != nil {
		t.Errorf("second Close error = %v", err)
	}
	if _, err := b.OpenCell(ctx, "work", "y", backend.KindSchematic, backend.ModeWrite); !errors.Is(err, errors.ErrCodeBackend) {
		t.Errorf("OpenCell after Close error = %v, want BACKEND", err)
	}
	if b.CountCalls("Close") != 1 {
		t.Errorf("Close recorded %d times, want 1", b.CountCalls("Close"))
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().OpenCell(ctx, "work", "x", backend.KindSchematic, backend.ModeWrite); err != context.Canceled {
		t.Errorf("OpenCell error = %v, want context.Canceled", err)
	}
}

func TestRunCallbacks(t *testing.T) {
	ctx := context.Background()
	b := New(WithCallback(func(_ backend.SymbolRef, name, value string) string {
		if name == "w" {
			return value + "0"
		}
		return value
	}))
	cell, _ := b.OpenCell(ctx, "work", "x", backend.KindSchematic, backend.ModeWrite)
	inst, _ := b.Instantiate(ctx, cell, backend.SymbolRef{Lib: "analogLib", Cell: "nmos4"}, "M0", geom.Point{}, geom.R0)
	_ = b.SetParameter(ctx, inst, "w", "2u")

	if err := b.RunCallbacks(ctx, cell); err != nil {
		t.Fatal(err)
	}
	params, _ := b.Parameters(ctx, inst)
	for _, p := range params {
		if p.Name == "w" && p.Value != "2u0" {
			t.Errorf("w after callbacks = %q, want %q", p.Value, "2u0")
		}
	}
	if b.Cell("work", "x").Callbacks != 1 {
		t.Error("callbacks not counted")
	}
}

func TestSimulator(t *testing.T) {
	ctx := context.Background()
	b := New()
	wave := waveform.Flat([]float64{0, 1}, []float64{0, 1.2})
	b.RegisterSignal(backend.SignalVoltage, "/out", wave)

	if err := b.Run(ctx); err == nil {
		t.Error("Run before netlisting should fail")
	}

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(b.Design(ctx, "work", "inv", "schematic"))
	must(b.CreateNetlist(ctx))
	must(b.Analysis(ctx, "tran", backend.Options{{Key: "stop", Value: "1e-09"}}))
	must(b.DesignVariable(ctx, "vdd", 1.0))

	if err := b.Sweep(ctx, []backend.SweepParam{{Name: "undeclared", Values: []float64{1}}}); err == nil {
		t.Error("Sweep of undeclared variable should fail")
	}
	must(b.Sweep(ctx, []backend.SweepParam{{Name: "vdd", Values: []float64{1, 1.2}}}))
	must(b.RunSweep(ctx))
	must(b.SelectResult(ctx, "tran"))

	got, err := b.Signal(ctx, backend.SignalVoltage, "/out")
	if err != nil || got != wave {
		t.Errorf("Signal = %v, %v", got, err)
	}
	if _, err := b.Signal(ctx, backend.SignalCurrent, "/out"); !errors.Is(err, errors.ErrCodeBackend) {
		t.Errorf("Signal of unknown name error = %v, want BACKEND", err)
	}

	s := b.Sim()
	if s.SweepRuns != 1 || s.Runs != 0 || s.Cell != "inv" || s.Vars["vdd"] != 1.0 {
		t.Errorf("state = %+v", s)
	}
	if v, ok := s.Analyses[0].Options.Get("stop"); !ok || v != "1e-09" {
		t.Errorf("stop option = %q, %v", v, ok)
	}
}

func TestCallbackRules(t *testing.T) {
	ctx := context.Background()
	nmos := geom.SymbolKey{Lib: "analogLib", Cell: "nmos4"}

	tests := []struct {
		name  string
		rules []CallbackRule
		set   string
		param string
		want  string
	}{
		{"snap", []CallbackRule{{Param: "w", Grid: "100n"}}, "1.23u", "w", "1.2u"},
		{"clamp min", []CallbackRule{{Param: "w", Min: "120n"}}, "50n", "w", "120n"},
		{"clamp max", []CallbackRule{{Param: "w", Max: "10u"}}, "20u", "w", "10u"},
		{"derived", []CallbackRule{{Param: "ad", From: "w", Scale: "500n"}}, "2u", "ad", "1p"},
		{"chained", []CallbackRule{{Param: "w", Min: "4u"}, {Param: "ad", From: "w", Scale: "2"}}, "1u", "ad", "8u"},
		{"symbolic left alone", []CallbackRule{{Param: "w", Grid: "100n"}}, "wn", "w", "wn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := DefaultLibrary()
			if err := lib.AddRules(nmos, tt.rules); err != nil {
				t.Fatal(err)
			}
			b := New(WithLibrary(lib))
			cell, _ := b.OpenCell(ctx, "work", "x", backend.KindSchematic, backend.ModeWrite)
			inst, _ := b.Instantiate(ctx, cell, backend.SymbolRef{Lib: "analogLib", Cell: "nmos4"}, "M0", geom.Point{}, geom.R0)
			if err := b.SetParameter(ctx, inst, "w", tt.set); err != nil {
				t.Fatal(err)
			}
			if err := b.RunCallbacks(ctx, cell); err != nil {
				t.Fatal(err)
			}
			params, _ := b.Parameters(ctx, inst)
			if got, _ := paramValue(params, tt.param); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.param, got, tt.want)
			}
		})
	}
}

func TestAddRulesInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  geom.SymbolKey
		rule CallbackRule
	}{
		{"unknown symbol", geom.SymbolKey{Lib: "x", Cell: "y"}, CallbackRule{Param: "w"}},
		{"unknown param", geom.SymbolKey{Lib: "analogLib", Cell: "nmos4"}, CallbackRule{Param: "r"}},
		{"no param", geom.SymbolKey{Lib: "analogLib", Cell: "nmos4"}, CallbackRule{}},
		{"bad grid", geom.SymbolKey{Lib: "analogLib", Cell: "nmos4"}, CallbackRule{Param: "w", Grid: "-1n"}},
		{"min above max", geom.SymbolKey{Lib: "analogLib", Cell: "nmos4"}, CallbackRule{Param: "w", Min: "2u", Max: "1u"}},
		{"bad scale", geom.SymbolKey{Lib: "analogLib", Cell: "nmos4"}, CallbackRule{Param: "w", Scale: "wide"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DefaultLibrary().AddRules(tt.key, []CallbackRule{tt.rule})
			if !errors.Is(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("err = %v, want INVALID_CONFIG", err)
			}
		})
	}
}
