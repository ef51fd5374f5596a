// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package authz

import (
	"fmt"
	"strconv"
	"time"
)

// UserProfile is the directory's view of one user. Profiles held by the
// directory are never mutated in place; callers receive copies.
type UserProfile struct {
	ID              string           `json:"id"`
	DisplayName     string           `json:"display_name"`
	Role            Role             `json:"role"`
	Permissions     PermissionSet    `json:"permissions"`
	FamilyID        string           `json:"family_id,omitempty"`
	Age             int              `json:"age,omitempty"`
	Active          bool             `json:"active"`
	TimeRestriction *TimeRestriction `json:"time_restriction,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (p *UserProfile) clone() UserProfile {
	out := *p
	if p.TimeRestriction != nil {
		tr := *p.TimeRestriction
		out.TimeRestriction = &tr
	}
	return out
}

// NewUser carries the fields accepted by Directory.CreateUser.
type NewUser struct {
	// ID is generated when empty.
	ID          string
	DisplayName string
	Role        Role
	FamilyID    string
	Age         int

	// Grants and Revokes adjust the role defaults.
	Grants  []Permission
	Revokes []Permission

	TimeRestriction *TimeRestriction
}

// ClockTime is a time of day in minutes since midnight.
type ClockTime uint16

const minutesPerDay = 24 * 60

// ParseClockTime parses "HH:MM" on a 24 hour clock.
func ParseClockTime(s string) (ClockTime, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidTimeRestriction, s)
	}
	h, herr := strconv.Atoi(s[:2])
	m, merr := strconv.Atoi(s[3:])
	if herr != nil || merr != nil || s[0] == '+' || s[0] == '-' || s[3] == '+' || s[3] == '-' {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidTimeRestriction, s)
	}
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidTimeRestriction, s)
	}
	return ClockTime(h*60 + m), nil
}

// ClockTimeOf returns the time of day of t in t's location.
func ClockTimeOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalText implements encoding.TextMarshaler.
func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TimeRestriction limits access to a daily window. When Start is after End
// the window wraps midnight. Both ends are inclusive at minute granularity.
type TimeRestriction struct {
	Start             ClockTime `json:"start"`
	End               ClockTime `json:"end"`
	WeekendRestricted bool      `json:"weekend_restricted,omitempty"`
}

// NewTimeRestriction parses an "HH:MM" window.
func NewTimeRestriction(start, end string, weekendRestricted bool) (*TimeRestriction, error) {
	s, err := ParseClockTime(start)
	if err != nil {
		return nil, err
	}
	e, err := ParseClockTime(end)
	if err != nil {
		return nil, err
	}
	return &TimeRestriction{Start: s, End: e, WeekendRestricted: weekendRestricted}, nil
}

// Validate checks both ends are within a day.
func (tr *TimeRestriction) Validate() error {
	if tr.Start >= minutesPerDay || tr.End >= minutesPerDay {
		return fmt.Errorf("%w: %s-%s", ErrInvalidTimeRestriction, tr.Start, tr.End)
	}
	return nil
}

// Wraps reports whether the window crosses midnight.
func (tr *TimeRestriction) Wraps() bool {
	return tr.Start > tr.End
}

// Allows reports whether t falls inside the window. On refusal it also
// returns the denial reason.
func (tr *TimeRestriction) Allows(t time.Time) (bool, string) {
	if tr.WeekendRestricted {
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false, ReasonWeekendRestricted
		}
	}

	now := ClockTimeOf(t)
	var inside bool
	if tr.Wraps() {
		inside = now >= tr.Start || now <= tr.End
	} else {
		inside = tr.Start <= now && now <= tr.End
	}
	if !inside {
		return false, ReasonOutsideHours
	}
	return true, ""
}

func (tr *TimeRestriction) String() string {
	s := tr.Start.String() + "-" + tr.End.String()
	if tr.WeekendRestricted {
		s += " weekdays"
	}
	return s
}
