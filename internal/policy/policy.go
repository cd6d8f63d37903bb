// Package policy decides whether a booking or cancellation is permitted at
// the moment it is attempted. Every rule runs on server-corrected time: the
// device clock is never trusted, so "now" is always derived from the offset
// measured against the backend at session start and passed in explicitly.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/rf-almeida/cortegrid/internal/timeutil"
)

var (
	ErrPastTarget  = errors.New("cannot book past time slots")
	ErrLeadTime    = errors.New("insufficient notice")
	ErrCooldown    = errors.New("cooldown in effect")
	ErrUnavailable = errors.New("slot no longer available for your category")
	ErrNotOwner    = errors.New("booking belongs to another user")
	ErrCancelLate  = errors.New("too close to start time to cancel")
	ErrGateClosed  = errors.New("booking is only enabled during barbershop working hours")
)

// IsRejection reports whether err is one of the local validation rejections,
// all of which are recoverable and must not mutate any state.
func IsRejection(err error) bool {
	for _, sentinel := range []error{
		ErrPastTarget, ErrLeadTime, ErrCooldown, ErrUnavailable,
		ErrNotOwner, ErrCancelLate, ErrGateClosed,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// Clock carries the measured server/client offset, fetched once per session.
type Clock struct {
	Offset time.Duration
}

// NewClock derives the offset from one server-reported instant.
func NewClock(serverNow, localNow time.Time) Clock {
	return Clock{Offset: serverNow.Sub(localNow)}
}

// Now is the corrected current instant.
func (c Clock) Now() time.Time {
	return time.Now().Add(c.Offset)
}

// Config holds the booking-window constants. Observed production values:
// 15–30 minute lead time depending on flow, 15 day cooldown, 15 minute
// cancellation lead — all configurable, none hardcoded in the checks.
type Config struct {
	LeadTime       time.Duration
	CancelLeadTime time.Duration
	Cooldown       time.Duration
	Gate           Gate
}

func DefaultConfig() Config {
	return Config{
		LeadTime:       30 * time.Minute,
		CancelLeadTime: 15 * time.Minute,
		Cooldown:       15 * 24 * time.Hour,
		Gate:           DefaultGate(),
	}
}

// AvailabilityCheck re-reads the live grid at commit time. Booking state can
// change between the user's click and the commit, so availability is always
// verified against the current snapshot, never one captured earlier.
type AvailabilityCheck func() bool

// CheckBooking runs the booking rules in their fixed order: target in the
// past, minimum lead time, cooldown since the previous booking, then the
// commit-time availability re-check. lastBooking is nil when the flow does
// not enforce a cooldown (the quick-grid path) or no prior booking exists.
func CheckBooking(target, now time.Time, lastBooking *time.Time, cfg Config, available AvailabilityCheck) error {
	if !target.After(now) {
		return ErrPastTarget
	}
	if target.Sub(now) < cfg.LeadTime {
		return fmt.Errorf("%w: booking requires at least %d minutes notice", ErrLeadTime, int(cfg.LeadTime.Minutes()))
	}
	if lastBooking != nil && cfg.Cooldown > 0 && now.Sub(*lastBooking) < cfg.Cooldown {
		days := int(cfg.Cooldown.Hours() / 24)
		return fmt.Errorf("%w: you may only book again after %d days", ErrCooldown, days)
	}
	if available != nil && !available() {
		return ErrUnavailable
	}
	return nil
}

// CheckCancellation permits cancelling only the viewer's own booking, and
// only while the slot is still at least CancelLeadTime away.
func CheckCancellation(owned bool, target, now time.Time, cfg Config) error {
	if !owned {
		return ErrNotOwner
	}
	if target.Sub(now) < cfg.CancelLeadTime {
		return fmt.Errorf("%w: cancellation requires at least %d minutes notice", ErrCancelLate, int(cfg.CancelLeadTime.Minutes()))
	}
	return nil
}

// Gate is the staff operating-hours window: outside it the whole grid is
// read-only regardless of individual slot status. It is a UI-availability
// gate, not a data invariant; confirmed bookings stay valid either way.
type Gate struct {
	Days        map[time.Weekday]bool
	OpenMinute  int
	CloseMinute int // inclusive
}

// DefaultGate matches the barbershop staff schedule: Mon–Fri, 09:10–18:10.
func DefaultGate() Gate {
	return Gate{
		Days: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		},
		OpenMinute:  9*60 + 10,
		CloseMinute: 18*60 + 10,
	}
}

// Open reports whether booking actions are enabled at the corrected instant.
func (g Gate) Open(now time.Time) bool {
	if !g.Days[now.Weekday()] {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	return minute >= g.OpenMinute && minute <= g.CloseMinute
}

// Window is the backend-configured open/close minute-of-day band used to
// filter which times the grid offers at all. Distinct from Gate.
type Window struct {
	OpenMinute  int `json:"open_minute"`
	CloseMinute int `json:"close_minute"`
}

// Contains reports whether an HH:mm time falls inside the window. A zero
// window admits everything.
func (w Window) Contains(hhmm string) bool {
	if w.OpenMinute == 0 && w.CloseMinute == 0 {
		return true
	}
	minute := timeutil.ToMinutes(timeutil.NormalizeTime(hhmm))
	return minute >= w.OpenMinute && minute <= w.CloseMinute
}
