package comm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJitterBackoffStartsAtBase(t *testing.T) {
	base := 10 * time.Millisecond
	got := jitterBackoff(0, base, 2.0, time.Second, nil)
	require.Equal(t, base, got)
}

func TestJitterBackoffRespectsCap(t *testing.T) {
	capDur := 50 * time.Millisecond
	prev := capDur
	for i := 0; i < 100; i++ {
		prev = jitterBackoff(prev, 10*time.Millisecond, 3.0, capDur, nil)
		require.LessOrEqual(t, prev, capDur)
		require.Positive(t, prev)
	}
}

func TestJitterBackoffGuards(t *testing.T) {
	// Zero base falls back to a sane default.
	got := jitterBackoff(0, 0, 2.0, 0, nil)
	require.Equal(t, 50*time.Millisecond, got)

	// Cap below base returns the cap.
	got = jitterBackoff(0, 100*time.Millisecond, 2.0, 20*time.Millisecond, nil)
	require.Equal(t, 20*time.Millisecond, got)

	// Multiplier below 1 does not shrink below base.
	got = jitterBackoff(40*time.Millisecond, 10*time.Millisecond, 0.5, time.Second, nil)
	require.GreaterOrEqual(t, got, 10*time.Millisecond)
}
