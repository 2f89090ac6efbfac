package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// MARKET CLOCK
// =============================================================================

// TimeOfDay is a wall-clock time within a day.
type TimeOfDay struct {
	Hour, Minute, Second int
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
}

// On returns the instant of t on the calendar day of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, t.Second, 0, day.Location())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// IsMarketOpen reports whether now falls within [open, close) of now's day.
func IsMarketOpen(now time.Time, openAt, closeAt TimeOfDay) bool {
	start := openAt.On(now)
	end := closeAt.On(now)
	return !now.Before(start) && now.Before(end)
}

// MarketHours binds the daily window to the market's time zone.
type MarketHours struct {
	Open     TimeOfDay
	Close    TimeOfDay
	Location *time.Location
}

// DefaultMarketHours is 09:00-22:00 in the given location.
func DefaultMarketHours(loc *time.Location) MarketHours {
	return MarketHours{
		Open:     TimeOfDay{Hour: 9},
		Close:    TimeOfDay{Hour: 22},
		Location: loc,
	}
}

func (m MarketHours) local(now time.Time) time.Time {
	if m.Location == nil {
		return now
	}
	return now.In(m.Location)
}

// IsOpen evaluates the window in the market's time zone.
func (m MarketHours) IsOpen(now time.Time) bool {
	return IsMarketOpen(m.local(now), m.Open, m.Close)
}

// Day returns midnight of now's market day, the key of StockHistory rows.
func (m MarketHours) Day(now time.Time) time.Time {
	l := m.local(now)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, l.Location())
}
