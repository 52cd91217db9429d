package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/cellforge/pkg/backend/memory"
	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
	"github.com/matzehuels/cellforge/pkg/stimulus"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path, err := DefaultPath()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, AppName, "config.toml"); path != want {
		t.Errorf("DefaultPath() = %q, want %q", path, want)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("[server]\naddr = \":9000\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("Server.Addr = %q, want :9000", cfg.Server.Addr)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
[schematic.recenter]
"myLib/inv" = [1, -2]

[symbols."myLib/inv"]
pins = [
  { name = "A", bbox = [-0.03125, -0.03125, 0.03125, 0.03125] },
  { name = "Y", bbox = [0.46875, -0.03125, 0.53125, 0.03125] },
]

[simulation]
errpreset = "conservative"
temperature = 85
model_files = ["models/typ.scs"]
bit_defaults = { val1 = 1.8, period = "2n" }

[sweep]
workers = 8
timeout = "20m"

[cache]
backend = "redis"
redis_url = "redis://localhost:6379/0"
ttl = "1h"

[store]
backend = "mongo"
mongo_uri = "mongodb://localhost:27017"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	want.Schematic.Recenter = map[string][2]float64{"myLib/inv": {1, -2}}
	want.Simulation.ErrPreset = "conservative"
	want.Simulation.Temperature = 85
	want.Simulation.ModelFiles = []string{"models/typ.scs"}
	want.Simulation.BitDefaults = stimulus.Defaults{Val1: stimulus.Num(1.8), Period: "2n"}
	want.Sweep.Workers = 8
	want.Sweep.Timeout = Duration{20 * time.Minute}
	want.Cache = CacheConfig{Backend: BackendRedis, RedisURL: "redis://localhost:6379/0", TTL: Duration{time.Hour}}
	want.Store.Backend = BackendMongo
	want.Store.MongoURI = "mongodb://localhost:27017"

	// Symbols are checked through the library below
	cfg.Symbols = nil
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLibraryAndRecentering(t *testing.T) {
	path := writeConfig(t, `
[schematic.recenter]
"myLib/inv" = [1, -2]
"analogLib/res" = [0, 0]

[symbols."myLib/inv"]
pins = [{ name = "A", bbox = [-0.03125, -0.03125, 0.03125, 0.03125] }]

[[callbacks."analogLib/nmos4"]]
param = "w"
grid = "10n"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	lib, err := cfg.Library()
	if err != nil {
		t.Fatal(err)
	}
	sym, ok := lib.Lookup("myLib", "inv")
	if !ok {
		t.Fatal("myLib/inv should be in the library")
	}
	if len(sym.Pins) != 1 || sym.Pins[0].Name != "A" {
		t.Errorf("pins = %+v", sym.Pins)
	}
	if _, ok := lib.Lookup("analogLib", "nmos4"); !ok {
		t.Error("default symbols should remain")
	}
	want := []memory.CallbackRule{{Param: "w", Grid: "10n"}}
	if diff := cmp.Diff(want, cfg.Callbacks["analogLib/nmos4"]); diff != "" {
		t.Errorf("callbacks mismatch (-want +got):\n%s", diff)
	}

	r := cfg.Recentering()
	if got := r[geom.SymbolKey{Lib: "myLib", Cell: "inv"}]; got != geom.Pt(1, -2) {
		t.Errorf("myLib/inv offset = %v", got)
	}
	if got := r[geom.SymbolKey{Lib: "analogLib", Cell: "res"}]; got != geom.Pt(0, 0) {
		t.Errorf("analogLib/res offset = %v, want override", got)
	}
	if _, ok := r[geom.SymbolKey{Lib: "analogLib", Cell: "nmos4"}]; !ok {
		t.Error("default offsets should remain")
	}
}

func TestSimOptions(t *testing.T) {
	cfg := Default()
	cfg.Simulation.Temperature = -40
	opts := cfg.SimOptions()
	if opts.Temperature == nil || *opts.Temperature != -40 {
		t.Errorf("Temperature = %v, want -40", opts.Temperature)
	}
	if err := opts.ValidateAndSetDefaults(); err != nil {
		t.Fatal(err)
	}
	if opts.ErrPreset != "moderate" || opts.OutputDir != "sim_output" {
		t.Errorf("defaults not carried: %+v", opts)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[server\naddr = 1"},
		{"unknown key", "[server]\nport = 80"},
		{"bad errpreset", "[simulation]\nerrpreset = \"sloppy\""},
		{"output dir escapes", "[simulation]\noutput_dir = \"../results\""},
		{"zero workers", "[sweep]\nworkers = 0"},
		{"bad duration", "[sweep]\ntimeout = \"soon\""},
		{"bad workspace prefix", "[sweep]\nworkspace_prefix = \"a b\""},
		{"unknown cache backend", "[cache]\nbackend = \"memcached\""},
		{"redis without url", "[cache]\nbackend = \"redis\""},
		{"mongo without uri", "[store]\nbackend = \"mongo\""},
		{"bad recenter key", "[schematic.recenter]\nnmos4 = [0, 0]"},
		{"bad symbol pin", "[symbols.\"a/b\"]\npins = [{ name = \"A\", bbox = [0, 0] }]"},
		{"callback on unknown symbol", "[[callbacks.\"a/b\"]]\nparam = \"w\""},
		{"callback bad grid", "[[callbacks.\"analogLib/nmos4\"]]\nparam = \"w\"\ngrid = \"fine\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("expected INVALID_CONFIG, got %v", err)
			}
		})
	}
}

func TestDirs(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/data")
	t.Setenv("XDG_CACHE_HOME", "/tmp/cache")

	cfg := Default()
	dir, err := cfg.StoreDir()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join("/tmp/data", AppName, "store"); dir != want {
		t.Errorf("StoreDir() = %q, want %q", dir, want)
	}
	dir, err = cfg.CacheDir()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join("/tmp/cache", AppName); dir != want {
		t.Errorf("CacheDir() = %q, want %q", dir, want)
	}

	cfg.Store.Dir = "/srv/store"
	cfg.Cache.Dir = "/srv/cache"
	if dir, _ := cfg.StoreDir(); dir != "/srv/store" {
		t.Errorf("StoreDir() = %q", dir)
	}
	if dir, _ := cfg.CacheDir(); dir != "/srv/cache" {
		t.Errorf("CacheDir() = %q", dir)
	}
}
