package config

import "sync/atomic"

// Holder is a running watch's view of its configuration. A reload swaps in
// a whole new snapshot, so readers never observe a half-applied config.
// The file path is fixed at construction.
type Holder struct {
	path string
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	cfg *Config
	gen uint64
}

func NewHolder(cfg *Config, path string) *Holder {
	h := &Holder{path: path}
	h.snap.Store(&snapshot{cfg: cfg})

	return h
}

// Config returns the current snapshot. Callers must not mutate it.
func (h *Holder) Config() *Config {
	return h.snap.Load().cfg
}

func (h *Holder) Path() string {
	return h.path
}

// Generation counts successful swaps; the initial config is generation 0.
func (h *Holder) Generation() uint64 {
	return h.snap.Load().gen
}

// Swap installs cfg and returns the config it replaced along with the new
// generation.
func (h *Holder) Swap(cfg *Config) (*Config, uint64) {
	for {
		cur := h.snap.Load()
		next := &snapshot{cfg: cfg, gen: cur.gen + 1}

		if h.snap.CompareAndSwap(cur, next) {
			return cur.cfg, next.gen
		}
	}
}
