// Package deadline evaluates administrator-authored cancellation markers.
//
// Markers are local-calendar strings such as "1404/08/02 10:00" (Jalali) or
// "2025-10-24 10:00" (Gregorian). They are interpreted in the configured
// location, never in UTC. An action is permitted strictly before the deadline;
// at the deadline instant it is already denied.
package deadline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	ptime "github.com/yaa110/go-persian-calendar"

	"github.com/Cheertaboi/meal-reservation-service/internal/models"
)

const (
	minJalaliYear = 1300
	maxJalaliYear = 1500
)

type Policy struct {
	loc *time.Location
}

func NewPolicy(loc *time.Location) *Policy {
	if loc == nil {
		loc = time.Local
	}
	return &Policy{loc: loc}
}

func (p *Policy) Location() *time.Location { return p.loc }

// Parse resolves a marker to an instant. ok is false when no deadline is
// configured. Malformed markers return an error wrapping
// models.ErrInvalidDeadlineConfig.
func (p *Policy) Parse(marker string) (deadline time.Time, ok bool, err error) {
	marker = normalizeDigits(strings.TrimSpace(marker))
	if marker == "" {
		return time.Time{}, false, nil
	}

	datePart, timePart, _ := strings.Cut(strings.Replace(marker, "T", " ", 1), " ")
	timePart = strings.TrimSpace(timePart)

	y, m, d, err := parseDate(datePart)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %q: %v", models.ErrInvalidDeadlineConfig, marker, err)
	}
	hh, mm, ss, err := parseClock(timePart)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %q: %v", models.ErrInvalidDeadlineConfig, marker, err)
	}

	if y >= minJalaliYear && y <= maxJalaliYear {
		t := ptime.Date(y, ptime.Month(m), d, hh, mm, ss, 0, p.loc).Time()
		back := ptime.New(t.In(p.loc))
		if back.Year() != y || int(back.Month()) != m || back.Day() != d {
			return time.Time{}, false, fmt.Errorf("%w: %q: no such jalali date", models.ErrInvalidDeadlineConfig, marker)
		}
		return t, true, nil
	}

	t := time.Date(y, time.Month(m), d, hh, mm, ss, 0, p.loc)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false, fmt.Errorf("%w: %q: no such date", models.ErrInvalidDeadlineConfig, marker)
	}
	return t, true, nil
}

// Validate is used at publication time so bad markers reach administrators
// instead of silently locking an option.
func (p *Policy) Validate(marker string) error {
	_, _, err := p.Parse(marker)
	return err
}

// Permits reports whether an action guarded by marker is still allowed at now.
// A malformed marker denies the action and returns the config error.
func (p *Policy) Permits(marker string, now time.Time) (bool, error) {
	deadline, ok, err := p.Parse(marker)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return now.Before(deadline), nil
}

// Check is Permits folded into the error taxonomy: nil when allowed,
// ErrDeadlinePassed when closed, and ErrDeadlinePassed together with
// ErrInvalidDeadlineConfig when the marker cannot be read.
func (p *Policy) Check(marker string, now time.Time) error {
	ok, err := p.Permits(marker, now)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrDeadlinePassed, err)
	}
	if !ok {
		return fmt.Errorf("%w: cutoff %q", models.ErrDeadlinePassed, marker)
	}
	return nil
}

// Remaining returns how long the window stays open. ok is false when there
// is no deadline.
func (p *Policy) Remaining(marker string, now time.Time) (left time.Duration, ok bool, err error) {
	deadline, ok, err := p.Parse(marker)
	if err != nil || !ok {
		return 0, ok, err
	}
	left = deadline.Sub(now)
	if left < 0 {
		left = 0
	}
	return left, true, nil
}

func parseDate(s string) (y, m, d int, err error) {
	sep := "/"
	if strings.Contains(s, "-") {
		sep = "-"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("date %q: want year%smonth%sday", s, sep, sep)
	}
	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return 0, 0, 0, fmt.Errorf("date %q: %w", s, err)
		}
		nums[i] = n
	}
	y, m, d = nums[0], nums[1], nums[2]
	if y < 1 || m < 1 || m > 12 || d < 1 || d > 31 {
		return 0, 0, 0, fmt.Errorf("date %q out of range", s)
	}
	return y, m, d, nil
}

func parseClock(s string) (hh, mm, ss int, err error) {
	if s == "" {
		return 0, 0, 0, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("time %q: want HH:MM[:SS]", s)
	}
	nums := []int{0, 0, 0}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("time %q: %w", s, err)
		}
		nums[i] = n
	}
	hh, mm, ss = nums[0], nums[1], nums[2]
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 || ss < 0 || ss > 59 {
		return 0, 0, 0, fmt.Errorf("time %q out of range", s)
	}
	return hh, mm, ss, nil
}

// normalizeDigits maps Persian and Arabic-Indic digits to ASCII; markers are
// often typed on Persian keyboards.
func normalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		}
		return r
	}, s)
}
