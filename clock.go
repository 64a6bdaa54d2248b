package treecrdt

import "sync"

// Clock produces a strictly increasing Lamport value per local event. On
// observing a remote lamport it advances its internal counter to
// max(internal, observed)+1 before the next local tick. Implementations must
// be safe against concurrent local production by serializing through the
// host; LamportClock does this itself with a mutex.
type Clock interface {
	// Tick produces the next local Lamport value.
	Tick() Lamport
	// Observe advances the clock so that a subsequent Tick returns a value
	// strictly greater than the observed remote lamport.
	Observe(remote Lamport)
	// Peek returns the current value without advancing the clock.
	Peek() Lamport
	// Reset sets the clock to a specific value. Used only during replay
	// bootstrap, never during normal operation.
	Reset(to Lamport)
}

// LamportClock is the reference Clock implementation: a mutex-guarded
// counter, guarding every mutation the same way the other reference
// collaborators in this package guard their own internal state.
type LamportClock struct {
	mu      sync.Mutex
	current Lamport
}

// NewLamportClock returns a clock starting at 0.
func NewLamportClock() *LamportClock {
	return &LamportClock{}
}

// Tick bumps the clock by one and returns the new value.
func (c *LamportClock) Tick() Lamport {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	return c.current
}

// Observe folds in a remote lamport, advancing the internal counter to
// max(current, remote)+1 so that the clock itself is already strictly ahead
// of everything observed so far; the next Tick() continues increasing from
// there without risk of colliding with the observed value.
func (c *LamportClock) Observe(remote Lamport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = max(c.current, remote) + 1
}

// Peek returns the current value without mutating the clock.
func (c *LamportClock) Peek() Lamport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Reset forces the clock to a specific value, used when bootstrapping from
// storage after a restart.
func (c *LamportClock) Reset(to Lamport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = to
}
