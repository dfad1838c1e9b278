package tardiness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		delta int
		want  Tier
	}{
		{-100000, TierNone},
		{-1, TierNone},
		{0, TierNone},
		{1, TierMinor},
		{2, TierMinor},
		{1799, TierMinor},
		{1800, TierMajor},
		{1801, TierMajor},
		{100000, TierMajor},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.delta), "delta=%d", tc.delta)
	}
}
