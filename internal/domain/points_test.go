package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPointsForMinutes(t *testing.T) {
	cases := []struct {
		name    string
		minutes int
		want    int
	}{
		{name: "zero", minutes: 0, want: 0},
		{name: "below threshold", minutes: 14, want: 0},
		{name: "exactly one point", minutes: 15, want: 1},
		{name: "truncates", minutes: 44, want: 2},
		{name: "forty five minutes", minutes: 45, want: 3},
		{name: "negative clamps to zero", minutes: -30, want: 0},
		{name: "large", minutes: 600, want: 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PointsForMinutes(tc.minutes))
		})
	}
}

func TestPointsForMinutesNeverNegative(t *testing.T) {
	for m := -100; m <= 1000; m++ {
		if got := PointsForMinutes(m); got < 0 {
			t.Fatalf("PointsForMinutes(%d) = %d, want >= 0", m, got)
		}
	}
}

func TestValidateDate(t *testing.T) {
	assert.NoError(t, ValidateDate("2025-05-10"))
	assert.ErrorIs(t, ValidateDate("2025-5-10"), ErrInvalidDate)
	assert.ErrorIs(t, ValidateDate("2025-05-10T00:00:00Z"), ErrInvalidDate)
	assert.ErrorIs(t, ValidateDate("not-a-date"), ErrInvalidDate)
	assert.ErrorIs(t, ValidateDate("2025-02-30"), ErrInvalidDate)
}
