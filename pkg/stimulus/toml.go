package stimulus

import (
	"github.com/BurntSushi/toml"

	"github.com/matzehuels/cellforge/pkg/errors"
)

// File is the decoded form of a stimulus TOML file:
//
//	[defaults]
//	val1 = 3.3
//
//	[[stimulus]]
//	name = "reset_b"
//	type = "bit"
//	data = "011"
//	period = "2n"
//
//	[[stimulus]]
//	name = "vg"
//	type = "dc"
//	voltage = 1.2
//
//	[[stimulus]]
//	name = "mtop"
//	type = "pwl"
//	wave = "0 800.0m 2n 1.2 5n 0"
//
//	[[stimulus]]
//	name = "clk"
//	type = "pwl"
//	levels = [0, 1.2, 0, 1.2]
//	period = 1e-9
type File struct {
	Defaults Defaults
	Stimuli  []Stimulus
}

type tomlFile struct {
	Defaults Defaults    `toml:"defaults"`
	Stimulus []tomlEntry `toml:"stimulus"`
}

type tomlEntry struct {
	Name    string    `toml:"name"`
	Type    Kind      `toml:"type"`
	Data    string    `toml:"data"`
	Val0    Value     `toml:"val0"`
	Val1    Value     `toml:"val1"`
	Rise    Value     `toml:"rise"`
	Fall    Value     `toml:"fall"`
	Period  Value     `toml:"period"`
	Wave    string    `toml:"wave"`
	Levels  []float64 `toml:"levels"`
	Voltage Value     `toml:"voltage"`
}

// LoadTOML reads a stimulus file. The returned defaults already include the
// built-in bit defaults.
func LoadTOML(path string) (*File, error) {
	var raw tomlFile
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidStimulus, err, "decode %s", path)
	}
	return raw.build()
}

// DecodeTOML is like LoadTOML but reads from a string.
func DecodeTOML(data string) (*File, error) {
	var raw tomlFile
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidStimulus, err, "decode stimulus")
	}
	return raw.build()
}

func (raw tomlFile) build() (*File, error) {
	f := &File{Defaults: DefaultBit().Merge(raw.Defaults)}
	for i, e := range raw.Stimulus {
		s, err := e.stimulus(f.Defaults)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidStimulus, err, "stimulus %d", i)
		}
		f.Stimuli = append(f.Stimuli, s)
	}
	return f, nil
}

func (e tomlEntry) stimulus(d Defaults) (Stimulus, error) {
	switch e.Type {
	case KindBit:
		return Bit{
			Name: e.Name, Data: e.Data,
			Val0: e.Val0, Val1: e.Val1,
			Rise: e.Rise, Fall: e.Fall, Period: e.Period,
		}, nil
	case KindPWL:
		if e.Wave != "" {
			return PWL{Name: e.Name, Wave: e.Wave}, nil
		}
		if len(e.Levels) == 0 {
			return nil, errors.New(errors.ErrCodeInvalidStimulus, "%s: pwl needs wave or levels", e.Name)
		}
		period, err := e.Period.or(d.Period).Float()
		if err != nil {
			return nil, err
		}
		rise, err := e.Rise.or(d.Rise).Float()
		if err != nil {
			return nil, err
		}
		return NewPWL(e.Name, e.Levels, period, rise), nil
	case KindDC:
		return DC{Name: e.Name, Voltage: e.Voltage}, nil
	}
	return nil, errors.New(errors.ErrCodeInvalidStimulus, "%s: unknown stimulus type %q (valid: bit, pwl, dc)", e.Name, e.Type)
}
