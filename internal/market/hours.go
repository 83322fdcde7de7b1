package market

import (
	"context"
	"fmt"
	"time"
)

// Session is the part of the trading day an instant falls in.
type Session string

const (
	SessionPreMarket  Session = "PRE_MARKET"
	SessionRegular    Session = "REGULAR"
	SessionAfterHours Session = "AFTER_HOURS"
	SessionClosed     Session = "CLOSED"
)

// HoursConfig describes an exchange calendar.
type HoursConfig struct {
	Timezone string   // IANA name, e.g. America/New_York
	Open     string   // HH:MM local
	Close    string   // HH:MM local
	Holidays []string // YYYY-MM-DD local
}

// DefaultHoursConfig returns the NYSE regular session.
func DefaultHoursConfig() HoursConfig {
	return HoursConfig{Timezone: "America/New_York", Open: "09:30", Close: "16:00"}
}

// Hours is a calendar-based Gate: weekdays, between open and close, outside holidays.
type Hours struct {
	loc      *time.Location
	open     int // minutes after midnight
	close    int
	holidays map[string]bool
}

var _ Gate = (*Hours)(nil)

// NewHours builds a calendar from cfg.
func NewHours(cfg HoursConfig) (*Hours, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
	}
	open, err := parseClock(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("parsing open time: %w", err)
	}
	closeAt, err := parseClock(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("parsing close time: %w", err)
	}
	if closeAt <= open {
		return nil, fmt.Errorf("close %s must be after open %s", cfg.Close, cfg.Open)
	}

	h := &Hours{loc: loc, open: open, close: closeAt, holidays: make(map[string]bool)}
	for _, d := range cfg.Holidays {
		date, err := time.ParseInLocation("2006-01-02", d, loc)
		if err != nil {
			return nil, fmt.Errorf("parsing holiday %q: %w", d, err)
		}
		h.AddHoliday(date)
	}
	return h, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the calendar's time zone.
func (h *Hours) Location() *time.Location {
	return h.loc
}

// AddHoliday adds a market holiday.
func (h *Hours) AddHoliday(date time.Time) {
	h.holidays[date.Format("2006-01-02")] = true
}

// IsHoliday checks if a date is a market holiday.
func (h *Hours) IsHoliday(t time.Time) bool {
	return h.holidays[t.In(h.loc).Format("2006-01-02")]
}

func (h *Hours) isTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday && !h.IsHoliday(t)
}

// IsOpen reports whether now falls inside the regular session.
func (h *Hours) IsOpen(_ context.Context, now time.Time) bool {
	return h.SessionAt(now) == SessionRegular
}

// SessionAt returns the session at t. Pre-market starts at 04:00 and after-hours
// ends at 20:00 local time.
func (h *Hours) SessionAt(t time.Time) Session {
	t = t.In(h.loc)
	if !h.isTradingDay(t) {
		return SessionClosed
	}

	minutes := t.Hour()*60 + t.Minute()
	switch {
	case minutes >= h.open && minutes < h.close:
		return SessionRegular
	case minutes >= 4*60 && minutes < h.open:
		return SessionPreMarket
	case minutes >= h.close && minutes < 20*60:
		return SessionAfterHours
	default:
		return SessionClosed
	}
}

// NextOpen returns the next regular-session open at or after t.
func (h *Hours) NextOpen(t time.Time) time.Time {
	local := t.In(h.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), h.open/60, h.open%60, 0, 0, h.loc)
	if local.After(next) {
		next = next.AddDate(0, 0, 1)
	}
	for !h.isTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// CloseOn returns the close time on t's local date.
func (h *Hours) CloseOn(t time.Time) time.Time {
	local := t.In(h.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), h.close/60, h.close%60, 0, 0, h.loc)
}

// Describe returns a one-line status for t.
func (h *Hours) Describe(t time.Time) string {
	if h.SessionAt(t) == SessionRegular {
		return fmt.Sprintf("Market OPEN | Closes in: %v", h.CloseOn(t).Sub(t).Round(time.Minute))
	}
	return fmt.Sprintf("Market CLOSED | Next open: %s", h.NextOpen(t).Format("Mon Jan 2 15:04 MST"))
}
