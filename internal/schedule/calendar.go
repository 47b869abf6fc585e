// Package schedule computes calendar fire times and runs the trigger
// scheduler that drives ingestion fires.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ConfigError reports bad calendar or parameter input. It fails fast and is
// never retried.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

// CivilTime is a wall-clock time of day with no date or zone attached.
type CivilTime struct {
	Hour   int
	Minute int
}

// ParseCivilTime parses "HH:MM".
func ParseCivilTime(s string) (CivilTime, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return CivilTime{}, &ConfigError{Msg: fmt.Sprintf("invalid time %q, want HH:MM", s)}
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return CivilTime{}, &ConfigError{Msg: fmt.Sprintf("invalid time %q, want HH:MM", s)}
	}
	return CivilTime{Hour: h, Minute: m}, nil
}

func (ct CivilTime) String() string {
	return fmt.Sprintf("%02d:%02d", ct.Hour, ct.Minute)
}

func (ct CivilTime) minutes() int { return ct.Hour*60 + ct.Minute }

// RuleKind selects how a CalendarRule produces fire times.
type RuleKind int

const (
	// KindInterval fires every IntervalMinutes between Start and End
	// (inclusive) each allowed day.
	KindInterval RuleKind = iota
	// KindFixedTime fires once at Start each allowed day.
	KindFixedTime
)

// CalendarRule describes one trigger's calendar. Fire times are evaluated
// in Location's civil local time, so rules stay correct across
// daylight-saving transitions. An empty Weekdays allows every day.
type CalendarRule struct {
	Kind            RuleKind
	Start           CivilTime
	End             CivilTime
	IntervalMinutes int
	Location        *time.Location
	Weekdays        []time.Weekday
}

// Next returns the first fire instant strictly after now. It is a pure
// function of (rule, now), independent of any scheduling machinery. A zero
// time means the rule can never fire.
func (r CalendarRule) Next(now time.Time) time.Time {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	if r.Kind == KindInterval && r.IntervalMinutes <= 0 {
		return time.Time{}
	}

	local := now.In(loc)
	// Eight days covers any weekday restriction from any starting day.
	for day := 0; day <= 8; day++ {
		date := local.AddDate(0, 0, day)
		if !r.dayAllowed(date.Weekday()) {
			continue
		}
		y, m, d := date.Date()

		if r.Kind == KindFixedTime {
			cand := time.Date(y, m, d, r.Start.Hour, r.Start.Minute, 0, 0, loc)
			if cand.After(now) {
				return cand
			}
			continue
		}
		for mins := r.Start.minutes(); mins <= r.End.minutes(); mins += r.IntervalMinutes {
			cand := time.Date(y, m, d, mins/60, mins%60, 0, 0, loc)
			if cand.After(now) {
				return cand
			}
		}
	}
	return time.Time{}
}

func (r CalendarRule) dayAllowed(wd time.Weekday) bool {
	if len(r.Weekdays) == 0 {
		return true
	}
	for _, allowed := range r.Weekdays {
		if wd == allowed {
			return true
		}
	}
	return false
}
