package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seoul = time.FixedZone("Asia/Seoul", 9*60*60)

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:00:00")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 9}, tod)

	tod, err = ParseTimeOfDay("23:59:59")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{23, 59, 59}, tod)

	for _, bad := range []string{"", "9:00:00", "09:00", "09-00-00", "24:00:00", "09:60:00", "09:00:61", "ab:cd:ef"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestCombineWithTodayKeepsCivilDate(t *testing.T) {
	c := NewFixed(seoul)
	tod, err := ParseTimeOfDay("09:00:00")
	require.NoError(t, err)

	refs := []time.Time{
		time.Date(2024, 3, 1, 0, 0, 1, 0, seoul),
		time.Date(2024, 3, 1, 12, 34, 56, 0, seoul),
		time.Date(2024, 3, 1, 23, 59, 59, 0, seoul),
	}
	for _, ref := range refs {
		got := c.CombineWithToday(tod, ref)
		assert.Equal(t, c.CivilDate(ref), c.CivilDate(got))
		assert.Equal(t, "09:00:00", got.Format("15:04:05"))
	}
}

func TestCombineWithTodayNoMidnightRollover(t *testing.T) {
	c := NewFixed(seoul)
	tod, err := ParseTimeOfDay("23:50:00")
	require.NoError(t, err)

	// Reference just past midnight: expected resolves to the same civil day's
	// 23:50, far in the future relative to the reference.
	ref := time.Date(2024, 3, 2, 0, 5, 0, 0, seoul)
	got := c.CombineWithToday(tod, ref)
	assert.Equal(t, "2024-03-02", c.CivilDate(got))
	assert.True(t, got.After(ref))
}

func TestCivilDateConvertsZone(t *testing.T) {
	c := NewFixed(seoul)
	// 2024-03-01 20:00 GMT is already 2024-03-02 05:00 in Seoul.
	gmt := time.Date(2024, 3, 1, 20, 0, 0, 0, time.FixedZone("GMT", 0))
	assert.Equal(t, "2024-03-02", c.CivilDate(gmt))
}

func TestInConvertsUTCInstants(t *testing.T) {
	c := NewFixed(seoul)
	// A UTC-expressed instant names an absolute moment; it converts by
	// offset, it is never re-read as civil wall clock.
	utc := time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)
	got := c.In(utc)
	assert.Equal(t, "09:30:00", got.Format("15:04:05"))
	assert.True(t, got.Equal(utc))
	assert.Equal(t, "2024-03-01", c.CivilDate(utc))

	// Near-midnight UTC lands on the next civil day.
	assert.Equal(t, "2024-03-02", c.CivilDate(time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)))
}

func TestSecondsLate(t *testing.T) {
	c := NewFixed(seoul)
	expected := time.Date(2024, 3, 1, 9, 0, 0, 0, seoul)
	assert.Equal(t, 31, c.SecondsLate(expected.Add(31*time.Second), expected))
	assert.Equal(t, 0, c.SecondsLate(expected, expected))
	assert.Equal(t, -60, c.SecondsLate(expected.Add(-time.Minute), expected))
}
