package tick

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddSub(t *testing.T) {
	cases := []struct {
		name string
		base Tick
		k    int64
		want Tick
	}{
		{"add positive", 5, 3, 8},
		{"add negative", 5, -3, 2},
		{"add zero", 5, 0, 5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, c.base.Add(c.k))
		})
	}
}

func TestSubUnderflowPanics(t *testing.T) {
	require.Panics(t, func() {
		Tick(2).Sub(3)
	})
}

func TestCompare(t *testing.T) {
	require.True(t, Tick(1).Before(Tick(2)))
	require.False(t, Tick(2).Before(Tick(2)))
	require.True(t, Tick(3).After(Tick(2)))
}

func TestToSeconds(t *testing.T) {
	require.InDelta(t, 2.5, Tick(5).ToSeconds(0.5), 1e-9)
}

func TestMinMax(t *testing.T) {
	require.Equal(t, Tick(2), Min(2, 5))
	require.Equal(t, Tick(5), Max(2, 5))
}
