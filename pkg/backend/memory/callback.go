package memory

import (
	"math"

	"github.com/matzehuels/cellforge/pkg/backend"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
	"github.com/matzehuels/cellforge/pkg/units"
)

// CallbackRule recomputes one parameter of a symbol when callbacks run, the
// way a component description callback does in an EDA tool:
//
//	[[callbacks."analogLib/nmos4"]]
//	param = "w"
//	min = "120n"
//	grid = "10n"
//
//	[[callbacks."analogLib/nmos4"]]
//	param = "ad"
//	from = "w"
//	scale = "500n"
//
// The base value is From's value (default: Param's own), multiplied by
// Scale, clamped to [Min, Max] and rounded to a multiple of Grid. Values are
// unit strings. A base value that is not numeric is left unchanged.
type CallbackRule struct {
	Param string `toml:"param" json:"param"`
	From  string `toml:"from" json:"from,omitempty"`
	Scale string `toml:"scale" json:"scale,omitempty"`
	Min   string `toml:"min" json:"min,omitempty"`
	Max   string `toml:"max" json:"max,omitempty"`
	Grid  string `toml:"grid" json:"grid,omitempty"`
}

// rule is a CallbackRule with its values parsed.
type rule struct {
	CallbackRule
	scale, min, max, grid float64
	hasMin, hasMax        bool
}

func compileRule(cr CallbackRule) (rule, error) {
	r := rule{CallbackRule: cr, scale: 1}
	if r.Param == "" {
		return r, errors.New(errors.ErrCodeInvalidConfig, "callback rule without a param")
	}
	if r.Scale != "" {
		v, err := units.Parse(r.Scale)
		if err != nil {
			return r, errors.Wrap(errors.ErrCodeInvalidConfig, err, "callback %s: scale", r.Param)
		}
		r.scale = v
	}
	if r.Min != "" {
		v, err := units.Parse(r.Min)
		if err != nil {
			return r, errors.Wrap(errors.ErrCodeInvalidConfig, err, "callback %s: min", r.Param)
		}
		r.min, r.hasMin = v, true
	}
	if r.Max != "" {
		v, err := units.Parse(r.Max)
		if err != nil {
			return r, errors.Wrap(errors.ErrCodeInvalidConfig, err, "callback %s: max", r.Param)
		}
		r.max, r.hasMax = v, true
	}
	if r.hasMin && r.hasMax && r.min > r.max {
		return r, errors.New(errors.ErrCodeInvalidConfig, "callback %s: min %s above max %s", r.Param, r.Min, r.Max)
	}
	if r.Grid != "" {
		v, err := units.Parse(r.Grid)
		if err != nil {
			return r, errors.Wrap(errors.ErrCodeInvalidConfig, err, "callback %s: grid", r.Param)
		}
		if v <= 0 {
			return r, errors.New(errors.ErrCodeInvalidConfig, "callback %s: grid must be positive", r.Param)
		}
		r.grid = v
	}
	return r, nil
}

// apply returns the new value of r.Param given the instance's parameters.
func (r *rule) apply(params []backend.Parameter) (string, bool) {
	from := r.From
	if from == "" {
		from = r.Param
	}
	base, ok := paramValue(params, from)
	if !ok {
		return "", false
	}
	v, err := units.Parse(base)
	if err != nil {
		return "", false
	}
	v *= r.scale
	if r.hasMin && v < r.min {
		v = r.min
	}
	if r.hasMax && v > r.max {
		v = r.max
	}
	if r.grid > 0 {
		v = math.Round(v/r.grid) * r.grid
	}
	return units.Format(v), true
}

func paramValue(params []backend.Parameter, name string) (string, bool) {
	for _, p := range params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// AddRules attaches callback rules to a symbol already in the library.
// Rules run in order, so a rule can read a value an earlier rule set.
func (l *Library) AddRules(key geom.SymbolKey, rules []CallbackRule) error {
	compiled := make([]rule, len(rules))
	for i, cr := range rules {
		r, err := compileRule(cr)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "callbacks %q", key.String())
		}
		compiled[i] = r
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.symbols[key]
	if !ok {
		return errors.New(errors.ErrCodeInvalidConfig, "callbacks %q: symbol not in library", key.String())
	}
	for _, r := range compiled {
		if _, ok := paramValue(s.Params, r.Param); !ok {
			return errors.New(errors.ErrCodeInvalidConfig, "callbacks %q: symbol has no parameter %q", key.String(), r.Param)
		}
	}
	l.rules[key] = append(l.rules[key], compiled...)
	return nil
}

// AddRuleDefs attaches rules keyed by "lib/cell".
func (l *Library) AddRuleDefs(defs map[string][]CallbackRule) error {
	for k, rules := range defs {
		key, err := geom.ParseSymbolKey(k)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "callbacks %q", k)
		}
		if err := l.AddRules(key, rules); err != nil {
			return err
		}
	}
	return nil
}

// runRules applies the symbol's rules to params in place.
func (l *Library) runRules(sym backend.SymbolRef, params []backend.Parameter) {
	l.mu.RLock()
	rules := l.rules[geom.SymbolKey{Lib: sym.Lib, Cell: sym.Cell}]
	l.mu.RUnlock()

	for i := range rules {
		v, ok := rules[i].apply(params)
		if !ok {
			continue
		}
		for k := range params {
			if params[k].Name == rules[i].Param {
				params[k].Value = v
			}
		}
	}
}
