// Package schedule holds the daily snapshot schedule: a timezone and a list
// of HH:MM times at which the snapshot generator fires. Operators override
// the default through the settings slot.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	// Embed tzdata for environments without zoneinfo.
	_ "time/tzdata"
)

// SettingSnapshotSchedule is the settings slot holding the schedule JSON.
const SettingSnapshotSchedule = "snapshot_schedule"

const (
	minutesPerHour = 60
	maxHour        = 23
)

// Static errors for schedule validation.
var (
	ErrNoTimes        = errors.New("schedule has no times")
	ErrTimeFormat     = errors.New("time must be HH:MM")
	ErrInvalidHour    = errors.New("invalid hour")
	ErrInvalidMinute  = errors.New("invalid minute")
	ErrHourOutOfRange = errors.New("hour out of range")
)

// Schedule defines the snapshot run times within a timezone.
type Schedule struct {
	Timezone string   `json:"timezone"`
	Times    []string `json:"times"`
}

// Default fires once a day shortly after the UTC day closes, so the snapshot
// covers a complete previous day.
func Default() Schedule {
	return Schedule{Timezone: "UTC", Times: []string{"00:30"}}
}

// Location resolves the schedule timezone or defaults to UTC.
func (s Schedule) Location() (*time.Location, error) {
	if strings.TrimSpace(s.Timezone) == "" {
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(strings.TrimSpace(s.Timezone))
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}

	return loc, nil
}

// Validate checks schedule fields for correctness.
func (s Schedule) Validate() error {
	if _, err := s.Location(); err != nil {
		return err
	}

	if len(s.Times) == 0 {
		return ErrNoTimes
	}

	for _, t := range s.Times {
		if _, err := parseTimeHM(t); err != nil {
			return fmt.Errorf("invalid time %q: %w", t, err)
		}
	}

	return nil
}

// NextAfter returns the earliest scheduled moment strictly after the given
// time.
func (s Schedule) NextAfter(after time.Time) (time.Time, error) {
	loc, err := s.Location()
	if err != nil {
		return time.Time{}, err
	}

	minutes, err := s.sortedMinutes()
	if err != nil {
		return time.Time{}, err
	}

	if len(minutes) == 0 {
		return time.Time{}, ErrNoTimes
	}

	afterLocal := after.In(loc)
	day := time.Date(afterLocal.Year(), afterLocal.Month(), afterLocal.Day(), 0, 0, 0, 0, loc)

	// Today's remaining times first, otherwise the first time tomorrow.
	for _, min := range minutes {
		t := day.Add(time.Duration(min) * time.Minute)
		if t.After(afterLocal) {
			return t, nil
		}
	}

	next := day.AddDate(0, 0, 1)

	return next.Add(time.Duration(minutes[0]) * time.Minute), nil
}

func (s Schedule) sortedMinutes() ([]int, error) {
	set := make(map[int]struct{}, len(s.Times))

	for _, t := range s.Times {
		min, err := parseTimeHM(t)
		if err != nil {
			return nil, err
		}

		set[min] = struct{}{}
	}

	minutes := make([]int, 0, len(set))
	for min := range set {
		minutes = append(minutes, min)
	}

	sort.Ints(minutes)

	return minutes, nil
}

func parseTimeHM(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, ErrTimeFormat
	}

	parts := strings.Split(value, ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, ErrTimeFormat
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, ErrInvalidHour
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, ErrInvalidMinute
	}

	if hour > maxHour || hour < 0 {
		return 0, ErrHourOutOfRange
	}

	if minute < 0 || minute >= minutesPerHour {
		return 0, ErrInvalidMinute
	}

	return hour*minutesPerHour + minute, nil
}
