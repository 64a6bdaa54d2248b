package treecrdt

import "testing"

func TestLamportClock_TickIncreasesStrictly(t *testing.T) {
	c := NewLamportClock()
	first := c.Tick()
	second := c.Tick()
	if second <= first {
		t.Fatalf("expected strictly increasing ticks, got %d then %d", first, second)
	}
}

func TestLamportClock_ObserveAdvancesPastRemote(t *testing.T) {
	c := NewLamportClock()
	c.Observe(10)
	if next := c.Tick(); next <= 10 {
		t.Fatalf("expected tick after observe(10) to exceed 10, got %d", next)
	}
}

func TestLamportClock_ObserveStaleRemoteAdvancesByOne(t *testing.T) {
	c := NewLamportClock()
	c.Observe(10)
	before := c.Peek()
	c.Observe(1)
	if c.Peek() != before+1 {
		t.Fatalf("observing a lower remote lamport should advance the clock to max(current, remote)+1 = %d, got %d", before+1, c.Peek())
	}
}

func TestLamportClock_Reset(t *testing.T) {
	c := NewLamportClock()
	c.Tick()
	c.Tick()
	c.Reset(100)
	if c.Peek() != 100 {
		t.Fatalf("expected Peek()==100 after Reset, got %d", c.Peek())
	}
}
