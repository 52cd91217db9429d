package cache

// ScopedKeyer wraps a Keyer with a prefix so several workspaces or servers
// can share one cache without colliding.
//
// Example usage:
//
//	// Keys private to one sweep workspace
//	wsKeyer := NewScopedKeyer(NewDefaultKeyer(), "ws:adder_0:")
//
//	// Shared keys
//	globalKeyer := NewDefaultKeyer()
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// SchematicKey generates a prefixed key for schematic documents.
func (k *ScopedKeyer) SchematicKey(hash string) string {
	return k.prefix + k.inner.SchematicKey(hash)
}

// SweepKey generates a prefixed key for sweep results.
func (k *ScopedKeyer) SweepKey(topologyHash string, opts SweepKeyOpts) string {
	return k.prefix + k.inner.SweepKey(topologyHash, opts)
}

// RunKey generates a prefixed key for simulation runs.
func (k *ScopedKeyer) RunKey(id string) string {
	return k.prefix + k.inner.RunKey(id)
}

// Prefix returns the scope prefix.
func (k *ScopedKeyer) Prefix() string { return k.prefix }
