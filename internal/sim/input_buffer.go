package sim

import "sync"

const (
	inputBufferOccupancyMetricKey = "sim_input_buffer_occupancy"
	inputBufferOverflowMetricKey  = "sim_input_buffer_overflow_total"
)

// DefaultInputBufferCapacity bounds unconfirmed predicted commands.
const DefaultInputBufferCapacity = 64

type telemetryMetrics interface {
	Add(string, uint64)
	Store(string, uint64)
}

// InputBuffer stores issued but unconfirmed commands in a fixed-size ring.
// When full, pushing evicts the oldest command.
type InputBuffer struct {
	mu      sync.Mutex
	data    []Command
	head    int
	count   int
	metrics telemetryMetrics
}

// NewInputBuffer constructs a ring buffer with the provided capacity. The
// capacity is clamped below half the sequence space so that confirmation by
// acknowledgement stays unambiguous.
func NewInputBuffer(capacity int, metrics telemetryMetrics) *InputBuffer {
	if capacity < 1 {
		capacity = DefaultInputBufferCapacity
	}
	if capacity > AcceptWindow {
		capacity = AcceptWindow
	}
	return &InputBuffer{
		data:    make([]Command, capacity),
		metrics: metrics,
	}
}

// Capacity reports the maximum number of commands the buffer can hold.
func (b *InputBuffer) Capacity() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Push appends a command, returning true when the oldest entry was evicted
// to make room.
func (b *InputBuffer) Push(cmd Command) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	evicted := false
	if b.count == len(b.data) {
		b.head = (b.head + 1) % len(b.data)
		b.count--
		evicted = true
		if b.metrics != nil {
			b.metrics.Add(inputBufferOverflowMetricKey, 1)
		}
	}
	b.data[(b.head+b.count)%len(b.data)] = cmd
	b.count++
	b.storeOccupancyLocked()
	return evicted
}

// Confirm discards every command covered by ack and returns how many were
// removed.
func (b *InputBuffer) Confirm(ack uint8) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := make([]Command, 0, b.count)
	for i := 0; i < b.count; i++ {
		cmd := b.data[(b.head+i)%len(b.data)]
		if !Confirms(ack, cmd.Sequence) {
			kept = append(kept, cmd)
		}
	}
	removed := b.count - len(kept)
	b.head = 0
	b.count = copy(b.data, kept)
	b.storeOccupancyLocked()
	return removed
}

// Pending returns the unconfirmed commands in issue order.
func (b *InputBuffer) Pending() []Command {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	commands := make([]Command, b.count)
	for i := range commands {
		commands[i] = b.data[(b.head+i)%len(b.data)]
	}
	return commands
}

// Len reports the number of unconfirmed commands.
func (b *InputBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Clear drops every buffered command.
func (b *InputBuffer) Clear() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
	b.storeOccupancyLocked()
}

func (b *InputBuffer) storeOccupancyLocked() {
	if b.metrics == nil {
		return
	}
	b.metrics.Store(inputBufferOccupancyMetricKey, uint64(b.count))
}
