package backoff

import (
	"testing"
	"time"
)

func TestNextDelaySequence(t *testing.T) {
	t.Parallel()

	want := []time.Duration{5, 10, 20, 40, 80, 160, 300, 300, 300}
	for n, secs := range want {
		if got := NextDelay(n); got != secs*time.Second {
			t.Fatalf("NextDelay(%d): expected %s, got %s", n, secs*time.Second, got)
		}
	}
}

func TestNextDelayIsPure(t *testing.T) {
	t.Parallel()

	for i := 0; i < 3; i++ {
		if got := NextDelay(3); got != 40*time.Second {
			t.Fatalf("expected NextDelay(3) to stay 40s on call %d, got %s", i, got)
		}
	}
}

func TestNextDelayBounds(t *testing.T) {
	t.Parallel()

	if got := NextDelay(-4); got != BaseDelay {
		t.Fatalf("expected negative attempt to map to %s, got %s", BaseDelay, got)
	}
	if got := NextDelay(1000); got != MaxDelay {
		t.Fatalf("expected huge attempt to be capped at %s, got %s", MaxDelay, got)
	}
}
