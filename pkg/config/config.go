// Package config loads cellforge settings from a TOML file.
//
// Every section is optional; keys that are absent keep the values from
// [Default]:
//
//	[schematic.recenter]
//	"analogLib/nmos4" = [-4, 0]
//
//	[symbols."myLib/inv"]
//	pins = [{ name = "A", bbox = [-0.03125, -0.03125, 0.03125, 0.03125] }]
//
//	[[callbacks."analogLib/nmos4"]]
//	param = "w"
//	min = "120n"
//	grid = "10n"
//
//	[simulation]
//	output_dir = "sim_output"
//	errpreset = "conservative"
//	temperature = 85
//	model_files = ["models/typ.scs"]
//	bit_defaults = { val1 = 1.8, period = "2n" }
//
//	[sweep]
//	workers = 8
//	timeout = "20m"
//
//	[cache]
//	backend = "redis"
//	redis_url = "redis://localhost:6379/0"
//
//	[store]
//	backend = "mongo"
//	mongo_uri = "mongodb://localhost:27017"
//
//	[server]
//	addr = ":8080"
package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/cellforge/pkg/backend/memory"
	"github.com/matzehuels/cellforge/pkg/cache"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
	"github.com/matzehuels/cellforge/pkg/sim"
	"github.com/matzehuels/cellforge/pkg/stimulus"
	"github.com/matzehuels/cellforge/pkg/sweep"
)

// AppName names the per-user config, cache and data directories.
const AppName = "cellforge"

// Backend names.
const (
	BackendNone  = "none"
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendMongo = "mongo"
)

var (
	cacheBackends = []string{BackendNone, BackendFile, BackendRedis}
	storeBackends = []string{BackendFile, BackendMongo}
)

// Config is the decoded configuration file.
type Config struct {
	Schematic  SchematicConfig                  `toml:"schematic"`
	Symbols    map[string]memory.SymbolDef      `toml:"symbols"`
	Callbacks  map[string][]memory.CallbackRule `toml:"callbacks"`
	Simulation SimulationConfig                 `toml:"simulation"`
	Sweep      SweepConfig                      `toml:"sweep"`
	Cache      CacheConfig                      `toml:"cache"`
	Store      StoreConfig                      `toml:"store"`
	Server     ServerConfig                     `toml:"server"`
}

// SchematicConfig overrides symbol recentering offsets, keyed "lib/cell".
type SchematicConfig struct {
	Recenter map[string][2]float64 `toml:"recenter"`
}

// SimulationConfig mirrors sim.Options.
type SimulationConfig struct {
	OutputDir   string            `toml:"output_dir"`
	ErrPreset   string            `toml:"errpreset"`
	Temperature float64           `toml:"temperature"`
	ModelFiles  []string          `toml:"model_files"`
	BitDefaults stimulus.Defaults `toml:"bit_defaults"`
}

// SweepConfig mirrors the sweep.Executor settings.
type SweepConfig struct {
	Workers         int      `toml:"workers"`
	Timeout         Duration `toml:"timeout"`
	WorkspacePrefix string   `toml:"workspace_prefix"`
	Sentinel        float64  `toml:"sentinel"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Backend  string   `toml:"backend"` // none, file or redis
	Dir      string   `toml:"dir"`     // File cache directory (default: XDG cache dir)
	RedisURL string   `toml:"redis_url"`
	TTL      Duration `toml:"ttl"` // Overrides the per-kind TTLs when set
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Backend  string `toml:"backend"` // file or mongo
	Dir      string `toml:"dir"`     // File store directory (default: XDG data dir)
	MongoURI string `toml:"mongo_uri"`
	Database string `toml:"database"`
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Duration is a time.Duration written as a string ("90s", "20m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			OutputDir:   sim.DefaultOutputDir,
			ErrPreset:   sim.DefaultErrPreset,
			Temperature: sim.DefaultTemperature,
		},
		Sweep: SweepConfig{
			Workers:         4,
			Timeout:         Duration{30 * time.Minute},
			WorkspacePrefix: sweep.DefaultWorkspacePrefix,
		},
		Cache: CacheConfig{
			Backend: BackendFile,
		},
		Store: StoreConfig{
			Backend:  BackendFile,
			Database: AppName,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/cellforge/config.toml, falling back
// to ~/.config.
func DefaultPath() (string, error) {
	dir, err := xdgDir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns $XDG_DATA_HOME/cellforge, falling back to ~/.local/share.
func DataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func xdgDir(env, fallback string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallback, AppName), nil
}

// Load reads path on top of Default. An empty path means DefaultPath; a
// missing file yields the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "decode %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New(errors.ErrCodeInvalidConfig, "%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and backend names.
func (c *Config) Validate() error {
	for k := range c.Schematic.Recenter {
		if _, err := geom.ParseSymbolKey(k); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "schematic.recenter %q", k)
		}
	}
	if _, err := c.Library(); err != nil {
		return err
	}

	if dir := c.Simulation.OutputDir; dir != "" && !filepath.IsAbs(dir) {
		if err := errors.ValidatePath(dir); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "simulation.output_dir")
		}
	}
	opts := c.SimOptions()
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "simulation")
	}

	if c.Sweep.Workers < 1 {
		return errors.New(errors.ErrCodeInvalidConfig, "sweep.workers must be at least 1, got %d", c.Sweep.Workers)
	}
	if c.Sweep.Timeout.Duration < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "sweep.timeout cannot be negative")
	}
	if c.Sweep.WorkspacePrefix != "" {
		if err := errors.ValidateCellName(c.Sweep.WorkspacePrefix); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "sweep.workspace_prefix")
		}
	}

	if !slices.Contains(cacheBackends, c.Cache.Backend) {
		return errors.New(errors.ErrCodeInvalidConfig, "cache.backend %q (valid: %s)", c.Cache.Backend, strings.Join(cacheBackends, ", "))
	}
	if c.Cache.Backend == BackendRedis && c.Cache.RedisURL == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "cache.redis_url is required for the redis backend")
	}
	if c.Cache.TTL.Duration < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "cache.ttl cannot be negative")
	}

	if !slices.Contains(storeBackends, c.Store.Backend) {
		return errors.New(errors.ErrCodeInvalidConfig, "store.backend %q (valid: %s)", c.Store.Backend, strings.Join(storeBackends, ", "))
	}
	if c.Store.Backend == BackendMongo && c.Store.MongoURI == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "store.mongo_uri is required for the mongo backend")
	}
	return nil
}

// Recentering returns the default table with the configured overrides.
func (c *Config) Recentering() geom.Recentering {
	r := geom.DefaultRecentering()
	for k, off := range c.Schematic.Recenter {
		key, err := geom.ParseSymbolKey(k)
		if err != nil {
			continue
		}
		r[key] = geom.Pt(off[0], off[1])
	}
	return r
}

// Library returns the default symbol library extended with [symbols] and
// the [callbacks] rules.
func (c *Config) Library() (*memory.Library, error) {
	l := memory.DefaultLibrary()
	if err := l.AddDefs(c.Symbols); err != nil {
		return nil, err
	}
	if err := l.AddRuleDefs(c.Callbacks); err != nil {
		return nil, err
	}
	return l, nil
}

// SimOptions converts the [simulation] section.
func (c *Config) SimOptions() sim.Options {
	t := c.Simulation.Temperature
	return sim.Options{
		OutputDir:   c.Simulation.OutputDir,
		ModelFiles:  slices.Clone(c.Simulation.ModelFiles),
		ErrPreset:   c.Simulation.ErrPreset,
		Temperature: &t,
		BitDefaults: c.Simulation.BitDefaults,
	}
}

// CacheDir returns the file cache directory.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return c.Cache.Dir, nil
	}
	return cache.DefaultDir(AppName)
}

// StoreDir returns the file store directory.
func (c *Config) StoreDir() (string, error) {
	if c.Store.Dir != "" {
		return c.Store.Dir, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "store"), nil
}
