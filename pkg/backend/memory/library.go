package memory

import (
	"slices"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
)

// pinHalf is half the side of the square pin boxes in the default symbols.
const pinHalf = 0.03125

// Symbol is a library symbol: its terminals and default parameters.
type Symbol struct {
	Lib    string
	Cell   string
	Pins   []backend.SymbolPin
	Params []backend.Parameter
}

// Key returns the symbol's library key.
func (s Symbol) Key() geom.SymbolKey { return geom.SymbolKey{Lib: s.Lib, Cell: s.Cell} }

// Library is a set of symbols and their callback rules. It is safe for
// concurrent use, so one library can back every workspace of a sweep.
type Library struct {
	mu      sync.RWMutex
	symbols map[geom.SymbolKey]Symbol
	rules   map[geom.SymbolKey][]rule
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{
		symbols: make(map[geom.SymbolKey]Symbol),
		rules:   make(map[geom.SymbolKey][]rule),
	}
}

// DefaultLibrary returns a library with the analogLib devices and sources,
// the cmos10lpe transistors and the basic pin symbols.
func DefaultLibrary() *Library {
	l := NewLibrary()

	mos := func(lib, cell, model string) Symbol {
		return Symbol{
			Lib:  lib,
			Cell: cell,
			Pins: []backend.SymbolPin{
				pin("D", 0.25, 0.375),
				pin("G", 0, 0),
				pin("S", 0.25, -0.375),
				pin("B", 0.375, 0),
			},
			Params: []backend.Parameter{
				{Name: "model", Value: model},
				{Name: "w", Value: "1u"},
				{Name: "l", Value: "180n"},
				{Name: "m", Value: "1"},
				{Name: "ad", Value: "0"},
				{Name: "as", Value: "0"},
			},
		}
	}
	twoTerminal := func(lib, cell string, top float64, params ...backend.Parameter) Symbol {
		return Symbol{
			Lib:    lib,
			Cell:   cell,
			Pins:   []backend.SymbolPin{pin("PLUS", 0, top), pin("MINUS", 0, top-0.375)},
			Params: params,
		}
	}
	p := func(name, value string) backend.Parameter { return backend.Parameter{Name: name, Value: value} }

	for _, s := range []Symbol{
		mos("analogLib", "nmos4", "nmos"),
		mos("analogLib", "pmos4", "pmos"),
		mos("cmos10lpe", "nfet", "nfet"),
		mos("cmos10lpe", "pfet", "pfet"),
		mos("cmos10lpe", "dgxnfet", "dgxnfet"),
		mos("cmos10lpe", "dgxpfet", "dgxpfet"),
		twoTerminal("analogLib", "res", 0, p("r", "1K")),
		twoTerminal("analogLib", "cap", 0.1875, p("c", "1p")),
		twoTerminal("analogLib", "vdc", 0.1875, p("vdc", "1.2")),
		twoTerminal("analogLib", "vpulse", 0.1875,
			p("v1", "0"), p("v2", "1.2"), p("per", "2n"), p("pw", "1n"), p("tr", "200p"), p("tf", "200p")),
		twoTerminal("analogLib", "vpwl", 0.1875, p("fileName", "")),
		twoTerminal("analogLib", "idc", 0.1875, p("idc", "1u")),
		{Lib: "analogLib", Cell: "gnd", Pins: []backend.SymbolPin{pin("gnd!", 0, 0)}},
		{Lib: "basic", Cell: "ipin", Pins: []backend.SymbolPin{pin("in", 0, 0)}},
		{Lib: "basic", Cell: "opin", Pins: []backend.SymbolPin{pin("out", 0, 0)}},
		{Lib: "basic", Cell: "iopin", Pins: []backend.SymbolPin{pin("inout", 0, 0)}},
	} {
		l.Add(s)
	}
	return l
}

func pin(name string, x, y float64) backend.SymbolPin {
	return backend.SymbolPin{Name: name, BBox: geom.Box(x-pinHalf, y-pinHalf, x+pinHalf, y+pinHalf)}
}

// Add registers s, replacing any symbol with the same key.
func (l *Library) Add(s Symbol) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.Pins = slices.Clone(s.Pins)
	s.Params = slices.Clone(s.Params)
	l.symbols[s.Key()] = s
}

// Lookup returns the symbol for lib/cell.
func (l *Library) Lookup(lib, cell string) (Symbol, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.symbols[geom.SymbolKey{Lib: lib, Cell: cell}]
	return s, ok
}

// Keys returns every symbol key, sorted.
func (l *Library) Keys() []geom.SymbolKey {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]geom.SymbolKey, 0, len(l.symbols))
	for k := range l.symbols {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// =============================================================================
// TOML symbol definitions
// =============================================================================

// SymbolDef is the TOML form of a symbol:
//
//	[symbols."myLib/inv"]
//	pins = [
//	  { name = "A", bbox = [-0.03125, -0.03125, 0.03125, 0.03125] },
//	  { name = "Y", bbox = [0.46875, -0.03125, 0.53125, 0.03125] },
//	]
//	params = { wn = "1u", wp = "2u" }
type SymbolDef struct {
	Pins   []PinDef          `toml:"pins" json:"pins"`
	Params map[string]string `toml:"params" json:"params,omitempty"`
}

// PinDef is one terminal of a SymbolDef. BBox is x0, y0, x1, y1 in
// symbol-local physical units.
type PinDef struct {
	Name string    `toml:"name" json:"name"`
	BBox []float64 `toml:"bbox" json:"bbox"`
}

// Symbol converts the definition for the given key. Parameters are sorted by
// name.
func (d SymbolDef) Symbol(key geom.SymbolKey) (Symbol, error) {
	s := Symbol{Lib: key.Lib, Cell: key.Cell}
	for _, p := range d.Pins {
		if p.Name == "" {
			return Symbol{}, errors.New(errors.ErrCodeInvalidConfig, "%s: pin without a name", key)
		}
		if len(p.BBox) != 4 {
			return Symbol{}, errors.New(errors.ErrCodeInvalidConfig, "%s: pin %s bbox needs 4 numbers, got %d", key, p.Name, len(p.BBox))
		}
		s.Pins = append(s.Pins, backend.SymbolPin{Name: p.Name, BBox: geom.Box(p.BBox[0], p.BBox[1], p.BBox[2], p.BBox[3])})
	}
	names := make([]string, 0, len(d.Params))
	for name := range d.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.Params = append(s.Params, backend.Parameter{Name: name, Value: d.Params[name]})
	}
	return s, nil
}

// AddDefs registers every definition, keyed by "lib/cell".
func (l *Library) AddDefs(defs map[string]SymbolDef) error {
	for k, d := range defs {
		key, err := geom.ParseSymbolKey(k)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "symbol %q", k)
		}
		s, err := d.Symbol(key)
		if err != nil {
			return err
		}
		l.Add(s)
	}
	return nil
}

// LoadLibrary reads symbol definitions from a TOML file on top of the
// default library.
func LoadLibrary(path string) (*Library, error) {
	var file struct {
		Symbols map[string]SymbolDef `toml:"symbols"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "decode %s", path)
	}
	l := DefaultLibrary()
	if err := l.AddDefs(file.Symbols); err != nil {
		return nil, err
	}
	return l, nil
}
