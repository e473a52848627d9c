package eowc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowNumberIncrementsPerRow(t *testing.T) {
	s := newRowNumberState()

	for i, want := range []int64{1, 2, 3} {
		k := key(int64(i + 1))
		require.NoError(t, s.Append(k, nil))
		assert.True(t, s.CurrWindow().IsReady)
		out, err := s.CurrOutput()
		require.NoError(t, err)
		assert.Equal(t, IntDatum(want), out)
		hint := s.SlideForward()
		keys, ok := hint.CanEvict()
		require.True(t, ok)
		assert.Contains(t, keys, k)
	}
}

func TestRankHandlesTiesWithGaps(t *testing.T) {
	s := newRankState(false)

	seq := []struct {
		k    int64
		want int64
	}{
		{1, 1},
		{1, 1}, // tie with the previous order key
		{3, 3}, // RANK skips to 3 after a two-way tie
		{4, 4},
	}
	prevOrderKey := int64(-1)
	for _, step := range seq {
		sk := StateKey{OrderKey: IntDatum(step.k), EncodedPK: ""}
		if step.k == prevOrderKey {
			sk.EncodedPK = "dup"
		}
		require.NoError(t, s.Append(sk, nil))
		out, err := s.CurrOutput()
		require.NoError(t, err)
		assert.Equal(t, IntDatum(step.want), out)
		s.SlideForward()
		prevOrderKey = step.k
	}
}

func TestDenseRankHasNoGaps(t *testing.T) {
	s := newRankState(true)

	seq := []struct {
		k    int64
		want int64
	}{
		{1, 1},
		{1, 1},
		{3, 2},
		{4, 3},
	}
	for i, step := range seq {
		sk := StateKey{OrderKey: IntDatum(step.k), EncodedPK: string(rune('a' + i))}
		require.NoError(t, s.Append(sk, nil))
		out, err := s.CurrOutput()
		require.NoError(t, err)
		assert.Equal(t, IntDatum(step.want), out)
		s.SlideForward()
	}
}
