package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matzehuels/cellforge/pkg/cache"
)

func newTestCLI(t *testing.T, configPath string) *CLI {
	t.Helper()
	c := New(io.Discard, LogInfo)
	c.configPath = configPath
	return c
}

func TestNewCacheFile(t *testing.T) {
	dir := t.TempDir()
	c := newTestCLI(t, writeConfig(t, dir, ""))

	ch, err := c.newCache(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	fc, ok := ch.(*cache.FileCache)
	if !ok {
		t.Fatalf("newCache() = %T, want *cache.FileCache", ch)
	}
	if got, want := fc.Dir(), filepath.Join(dir, "cache"); got != want {
		t.Errorf("Dir() = %q, want %q", got, want)
	}
}

func TestNewCacheDisabled(t *testing.T) {
	dir := t.TempDir()

	t.Run("no-cache flag", func(t *testing.T) {
		c := newTestCLI(t, writeConfig(t, dir, ""))
		ch, err := c.newCache(context.Background(), true)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := ch.(*cache.NullCache); !ok {
			t.Errorf("newCache() = %T, want *cache.NullCache", ch)
		}
	})

	t.Run("backend none", func(t *testing.T) {
		cfg := filepath.Join(dir, "none.toml")
		if err := os.WriteFile(cfg, []byte("[cache]\nbackend = \"none\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		c := newTestCLI(t, cfg)
		ch, err := c.newCache(context.Background(), false)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := ch.(*cache.NullCache); !ok {
			t.Errorf("newCache() = %T, want *cache.NullCache", ch)
		}
	})
}

func TestDefaultDirsFollowXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "xdg-cache"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "xdg-data"))

	c := newTestCLI(t, filepath.Join(dir, "absent.toml"))
	cfg, err := c.config()
	if err != nil {
		t.Fatal(err)
	}

	cacheDir, err := cfg.CacheDir()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "xdg-cache", appName); cacheDir != want {
		t.Errorf("CacheDir() = %q, want %q", cacheDir, want)
	}

	storeDir, err := cfg.StoreDir()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(storeDir, filepath.Join(dir, "xdg-data", appName)) {
		t.Errorf("StoreDir() = %q, want under %q", storeDir, filepath.Join(dir, "xdg-data", appName))
	}
}

func TestCachePathCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "--config", writeConfig(t, dir, ""), "cache", "path")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := strings.TrimSpace(out), filepath.Join(dir, "cache"); got != want {
		t.Errorf("cache path = %q, want %q", got, want)
	}
}

func TestCacheClearCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")

	fc, err := cache.NewFileCache(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := fc.Set(ctx, "schematic:abc", []byte("{}"), time.Hour); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "--config", cfg, "cache", "clear"); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := fc.Get(ctx, "schematic:abc"); err != nil || ok {
		t.Errorf("Get after clear = (ok=%v, err=%v), want miss", ok, err)
	}
}
