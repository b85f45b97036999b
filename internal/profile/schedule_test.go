package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedule(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		wantErr string
	}{
		{"empty", nil, "at least one entry"},
		{"first not at midnight", []Entry{{StartMinutes: 60, Rate: 1}}, "start at minute 0"},
		{"unsorted", []Entry{{0, 1}, {720, 1.2}, {360, 0.8}}, "ordered"},
		{"duplicate start", []Entry{{0, 1}, {360, 0.8}, {360, 1.2}}, "duplicate"},
		{"start past midnight", []Entry{{0, 1}, {1440, 1.2}}, "outside"},
		{"negative rate", []Entry{{0, -0.5}}, "negative rate"},
		{"single entry ok", []Entry{{0, 1}}, ""},
		{"full day ok", []Entry{{0, 1}, {360, 0.8}, {1200, 1.1}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchedule(tt.entries)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestScheduleRateAt(t *testing.T) {
	s, err := NewSchedule([]Entry{
		{StartMinutes: 0, Rate: 1.0},
		{StartMinutes: 360, Rate: 0.8},
		{StartMinutes: 1200, Rate: 1.1},
	})
	require.NoError(t, err)

	tests := []struct {
		minute int
		want   float64
	}{
		{0, 1.0},
		{359, 1.0},
		{360, 0.8},
		{1199, 0.8},
		{1200, 1.1},
		{1439, 1.1},    // last interval wraps to midnight
		{1440, 1.0},    // normalized to 0
		{1440 + 5, 1.0},
		{-1, 1.1},      // minute before midnight, previous day
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.RateAt(tt.minute), "minute %d", tt.minute)
	}
}

func TestScheduleSingleEntryIsFlat(t *testing.T) {
	s, err := NewSchedule([]Entry{{StartMinutes: 0, Rate: 0.75}})
	require.NoError(t, err)

	for _, minute := range []int{0, 1, 719, 1439} {
		assert.Equal(t, 0.75, s.RateAt(minute))
	}
}

func TestScheduleNextSwitch(t *testing.T) {
	s, err := NewSchedule([]Entry{
		{StartMinutes: 0, Rate: 1.0},
		{StartMinutes: 360, Rate: 0.8},
	})
	require.NoError(t, err)

	next, ok := s.NextSwitch(100)
	require.True(t, ok)
	assert.Equal(t, 360, next)

	next, ok = s.NextSwitch(360)
	assert.False(t, ok)
	assert.Equal(t, 0, next)
}
