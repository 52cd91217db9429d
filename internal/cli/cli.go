package cli

import (
	"context"
	"io"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/cellforge/pkg/backend/memory"
	"github.com/matzehuels/cellforge/pkg/cache"
	"github.com/matzehuels/cellforge/pkg/config"
	"github.com/matzehuels/cellforge/pkg/schematic"
	"github.com/matzehuels/cellforge/pkg/store"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = config.AppName

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	cfg        *config.Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// config loads the configuration once per process.
func (c *CLI) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// =============================================================================
// Factories
// =============================================================================

// newBackend returns a memory backend over the configured symbol library.
func (c *CLI) newBackend(workspace string) (*memory.Backend, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	lib, err := cfg.Library()
	if err != nil {
		return nil, err
	}
	return memory.New(memory.WithLibrary(lib), memory.WithWorkspace(workspace)), nil
}

// schematicOptions returns the options every command builds schematics with.
func (c *CLI) schematicOptions() (schematic.Options, error) {
	cfg, err := c.config()
	if err != nil {
		return schematic.Options{}, err
	}
	return schematic.Options{Recentering: cfg.Recentering(), Logger: c.Logger}, nil
}

// newCache creates the configured cache. A file cache that cannot be
// created degrades to no cache.
func (c *CLI) newCache(ctx context.Context, noCache bool) (cache.Cache, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	if noCache {
		return cache.NewNullCache(), nil
	}

	switch cfg.Cache.Backend {
	case config.BackendNone:
		return cache.NewNullCache(), nil
	case config.BackendRedis:
		return cache.NewRedisCache(ctx, cfg.Cache.RedisURL, "")
	}

	dir, err := cfg.CacheDir()
	if err != nil {
		c.Logger.Warn("cache disabled", "error", err)
		return cache.NewNullCache(), nil
	}
	fc, err := cache.NewFileCache(dir)
	if err != nil {
		c.Logger.Warn("cache disabled", "dir", dir, "error", err)
		return cache.NewNullCache(), nil
	}
	return fc, nil
}

// newStore opens the configured document store.
func (c *CLI) newStore(ctx context.Context) (store.Store, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	if cfg.Store.Backend == config.BackendMongo {
		return store.NewMongoStore(ctx, cfg.Store.MongoURI, cfg.Store.Database)
	}
	dir, err := cfg.StoreDir()
	if err != nil {
		return nil, err
	}
	return store.NewFileStore(dir)
}
