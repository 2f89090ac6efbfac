package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshy/clanwars/ledger"
)

func TestParseTimeOfDay(t *testing.T) {
	got, err := ledger.ParseTimeOfDay("09:00")
	require.NoError(t, err)
	assert.Equal(t, ledger.TimeOfDay{Hour: 9}, got)

	got, err = ledger.ParseTimeOfDay("21:59:30")
	require.NoError(t, err)
	assert.Equal(t, "21:59:30", got.String())

	_, err = ledger.ParseTimeOfDay("25:00")
	assert.Error(t, err)
	_, err = ledger.ParseTimeOfDay("nine")
	assert.Error(t, err)
}

func TestIsMarketOpen_Boundaries(t *testing.T) {
	open := ledger.TimeOfDay{Hour: 9}
	closeAt := ledger.TimeOfDay{Hour: 22}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"just before open", at(8, 59, 59), false},
		{"open", at(9, 0, 0), true},
		{"midday", at(12, 0, 0), true},
		{"last second", at(21, 59, 59), true},
		{"close", at(22, 0, 0), false},
		{"midnight", at(0, 0, 0), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ledger.IsMarketOpen(tt.now, open, closeAt), tt.name)
	}
}

func TestMarketHours_UsesMarketTimeZone(t *testing.T) {
	hours := ledger.DefaultMarketHours(ict)

	// 03:00 UTC is 10:00 in ICT
	assert.True(t, hours.IsOpen(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)))
	// 16:00 UTC is 23:00 in ICT
	assert.False(t, hours.IsOpen(time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)))

	// 20:00 UTC on the 1st is already the 2nd in ICT
	day := hours.Day(time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC))
	assert.Equal(t, "2026-03-02", day.Format("2006-01-02"))
	assert.Equal(t, 0, day.Hour())
}
