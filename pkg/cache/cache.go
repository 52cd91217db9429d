// Package cache stores schematic documents and sweep results by content
// hash.
//
// Three backends implement [Cache]: [NullCache] (caching disabled),
// [FileCache] for the CLI and [RedisCache] for servers and sweeps shared
// between machines. Keys come from a [Keyer] so that every caller derives
// the same key for the same content:
//
//	keyer := cache.NewDefaultKeyer()
//	key := keyer.SweepKey(topologyHash, cache.SweepKeyOpts{Eval: "delay", Vector: v})
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Cache is a byte store with per-entry expiration.
type Cache interface {
	// Get returns the stored data and whether it was found.
	// Expired entries are reported as misses.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data. A ttl of zero never expires.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes an entry. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend.
	Close() error
}

// Clearer is implemented by caches that can drop every entry they own.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Default TTLs.
const (
	// TTLSchematic is how long schematic documents stay cached.
	TTLSchematic = 30 * 24 * time.Hour

	// TTLSweep is how long per-vector sweep results stay cached.
	TTLSweep = 7 * 24 * time.Hour

	// TTLRun is how long simulation runs stay cached.
	TTLRun = 24 * time.Hour
)

// =============================================================================
// Keys
// =============================================================================

// Keyer derives cache keys.
type Keyer interface {
	// SchematicKey returns the key of a schematic document by topology hash.
	SchematicKey(hash string) string

	// SweepKey returns the key of one evaluated sweep vector.
	SweepKey(topologyHash string, opts SweepKeyOpts) string

	// RunKey returns the key of a simulation run.
	RunKey(id string) string
}

// SweepKeyOpts identifies one sweep evaluation.
type SweepKeyOpts struct {
	Eval   string    `json:"eval"`   // Name of the evaluation (e.g. "delay")
	Vector []float64 `json:"vector"` // Parameter vector
}

// DefaultKeyer produces keys of the form "kind:sha256".
type DefaultKeyer struct{}

// NewDefaultKeyer creates the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// SchematicKey implements Keyer.
func (DefaultKeyer) SchematicKey(hash string) string {
	return "schematic:" + hash
}

// SweepKey implements Keyer. Vector values are formatted exactly so keys
// are stable across processes.
func (DefaultKeyer) SweepKey(topologyHash string, opts SweepKeyOpts) string {
	vec := make([]string, len(opts.Vector))
	for i, v := range opts.Vector {
		vec[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return hashKey("sweep", topologyHash, opts.Eval, vec)
}

// RunKey implements Keyer.
func (DefaultKeyer) RunKey(id string) string {
	return "run:" + id
}

// =============================================================================
// JSON helpers
// =============================================================================

// GetJSON decodes a cached JSON value into v. A corrupt entry is deleted
// and reported as a miss.
func GetJSON(ctx context.Context, c Cache, key string, v any) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		_ = c.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

// SetJSON stores v as JSON.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}
