// Package datagram simulates an unreliable channel for testing the
// synchronization protocol under loss, duplication and reordering.
package datagram

import (
	"math/rand"
	"sync"
)

// Config sets per-datagram probabilities in [0, 1].
type Config struct {
	Loss      float64 `json:"loss"`
	Duplicate float64 `json:"duplicate"`
	Reorder   float64 `json:"reorder"`
	Seed      int64   `json:"seed"`
}

// Enabled reports whether any impairment is configured.
func (c Config) Enabled() bool {
	return c.Loss > 0 || c.Duplicate > 0 || c.Reorder > 0
}

// Stats counts applied impairments.
type Stats struct {
	Sent       uint64 `json:"sent"`
	Dropped    uint64 `json:"dropped"`
	Duplicated uint64 `json:"duplicated"`
	Reordered  uint64 `json:"reordered"`
}

// Impairer decides the fate of outgoing datagrams. A reordered datagram is
// held back and emitted right after the next one.
type Impairer struct {
	mu    sync.Mutex
	cfg   Config
	rng   *rand.Rand
	held  []byte
	stats Stats
}

// NewImpairer returns nil when cfg impairs nothing.
func NewImpairer(cfg Config) *Impairer {
	if !cfg.Enabled() {
		return nil
	}
	return &Impairer{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Apply passes b to emit zero, one or two times, possibly after a datagram
// held back earlier. A nil Impairer emits b unchanged.
func (i *Impairer) Apply(b []byte, emit func([]byte)) {
	if i == nil {
		emit(b)
		return
	}
	i.mu.Lock()
	out := make([][]byte, 0, 3)
	i.stats.Sent++
	switch {
	case i.roll(i.cfg.Loss):
		i.stats.Dropped++
	case i.held == nil && i.roll(i.cfg.Reorder):
		i.stats.Reordered++
		i.held = append([]byte(nil), b...)
	default:
		out = append(out, b)
		if i.roll(i.cfg.Duplicate) {
			i.stats.Duplicated++
			out = append(out, b)
		}
		if i.held != nil {
			out = append(out, i.held)
			i.held = nil
		}
	}
	i.mu.Unlock()

	for _, d := range out {
		emit(d)
	}
}

// Flush emits a held-back datagram, if any.
func (i *Impairer) Flush(emit func([]byte)) {
	if i == nil {
		return
	}
	i.mu.Lock()
	held := i.held
	i.held = nil
	i.mu.Unlock()
	if held != nil {
		emit(held)
	}
}

// Stats returns the impairment counters.
func (i *Impairer) Stats() Stats {
	if i == nil {
		return Stats{}
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stats
}

func (i *Impairer) roll(p float64) bool {
	return p > 0 && i.rng.Float64() < p
}
