package state

import (
	"errors"
	"strconv"
	"sync"
)

// Handle is a stable slot index into a Table. It doubles as the participant
// id on the wire.
type Handle uint8

// String renders the handle as a log-friendly actor id.
func (h Handle) String() string {
	return "player-" + strconv.Itoa(int(h))
}

const (
	// MaxPlayers is the hard upper bound on table capacity.
	MaxPlayers = 32
	// DefaultCapacity is used when no capacity is configured.
	DefaultCapacity = 16
)

var (
	// ErrTableFull is returned when every slot is connected.
	ErrTableFull = errors.New("state: player table is full")
	// ErrUnknownHandle is returned for handles outside the table or not connected.
	ErrUnknownHandle = errors.New("state: unknown player handle")
)

// Table is a fixed-capacity arena of players indexed by Handle. Slot
// membership is guarded by the table; player fields are guarded by the
// simulation that owns the table.
type Table struct {
	mu      sync.RWMutex
	players []*Player
}

// NewTable allocates capacity reset players, clamped to [1, MaxPlayers].
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if capacity > MaxPlayers {
		capacity = MaxPlayers
	}
	t := &Table{players: make([]*Player, capacity)}
	for i := range t.players {
		t.players[i] = NewPlayer(Handle(i))
	}
	return t
}

// Capacity reports the number of slots.
func (t *Table) Capacity() int {
	return len(t.players)
}

// Allocate claims the lowest free slot and returns it reset and connected.
func (t *Table) Allocate() (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.players {
		if p.connected {
			continue
		}
		p.reset()
		p.connected = true
		return Handle(i), nil
	}
	return 0, ErrTableFull
}

// Claim connects a specific slot, used by clients mirroring the authority's
// numbering. Claiming an already connected slot is a no-op.
func (t *Table) Claim(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(h) >= len(t.players) {
		return ErrUnknownHandle
	}
	p := t.players[h]
	if !p.connected {
		p.reset()
		p.connected = true
	}
	return nil
}

// Release disconnects a slot and resets its player.
func (t *Table) Release(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(h) >= len(t.players) || !t.players[h].connected {
		return ErrUnknownHandle
	}
	t.players[h].reset()
	return nil
}

// Get returns a connected player.
func (t *Table) Get(h Handle) (*Player, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(h) >= len(t.players) {
		return nil, false
	}
	p := t.players[h]
	if !p.connected {
		return nil, false
	}
	return p, true
}

// Connected lists connected handles in ascending order.
func (t *Table) Connected() []Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	handles := make([]Handle, 0, len(t.players))
	for i, p := range t.players {
		if p.connected {
			handles = append(handles, Handle(i))
		}
	}
	return handles
}

// Views returns the published views of every connected player.
func (t *Table) Views() []View {
	t.mu.RLock()
	defer t.mu.RUnlock()
	views := make([]View, 0, len(t.players))
	for _, p := range t.players {
		if p.connected {
			views = append(views, p.View())
		}
	}
	return views
}

// Reset disconnects every slot, used on shutdown.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.players {
		p.reset()
	}
}
