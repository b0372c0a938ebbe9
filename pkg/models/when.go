package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// WhenType selects which events an entry node listens to.
type WhenType string

const (
	WhenTypeReceiveMessage WhenType = "receive_message"
	WhenTypeNewCustomer    WhenType = "new_customer"
	WhenTypeAddTag         WhenType = "add_tag"
	WhenTypeScheduled      WhenType = "scheduled"
)

// WhenConfig is the configuration of an entry (trigger) node.
type WhenConfig struct {
	WhenType     WhenType      `json:"when_type"               validate:"required,oneof=receive_message new_customer add_tag scheduled"`
	Keywords     []string      `json:"keywords,omitempty"`
	Channels     []string      `json:"channels,omitempty"`
	CustomerTags []string      `json:"customer_tags,omitempty"`
	Schedule     *ScheduleSpec `json:"schedule,omitempty"      validate:"required_if=WhenType scheduled,omitempty"`
}

// Frequency is how often a scheduled entry node fires.
type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCron    Frequency = "cron"
)

const (
	ScheduleDateLayout = "2006-01-02"
	ScheduleTimeLayout = "15:04"
)

var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// ScheduleSpec describes when a scheduled entry node is due.
type ScheduleSpec struct {
	Frequency Frequency `json:"frequency"            validate:"required,oneof=once daily weekly monthly cron"`
	Time      string    `json:"time"`
	StartDate string    `json:"start_date"`
	Timezone  string    `json:"timezone,omitempty"`
	// Expression is used when Frequency is cron. Standard 5-field format.
	Expression string `json:"expression,omitempty"`
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Location returns the schedule's timezone, UTC when unset.
func (s *ScheduleSpec) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidSchedule, s.Timezone, err)
	}

	return loc, nil
}

// Start returns the first instant the schedule may fire.
func (s *ScheduleSpec) Start() (time.Time, error) {
	loc, err := s.Location()
	if err != nil {
		return time.Time{}, err
	}

	if s.StartDate == "" {
		return time.Time{}, nil
	}

	layout := ScheduleDateLayout
	value := s.StartDate

	if s.Time != "" {
		layout += " " + ScheduleTimeLayout
		value += " " + s.Time
	}

	start, err := time.ParseInLocation(layout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: start %q: %w", ErrInvalidSchedule, value, err)
	}

	return start, nil
}

// CronExpression converts the schedule into a standard 5-field cron expression.
func (s *ScheduleSpec) CronExpression() (string, error) {
	if s.Frequency == FrequencyCron {
		if strings.TrimSpace(s.Expression) == "" {
			return "", fmt.Errorf("%w: cron expression required", ErrInvalidSchedule)
		}

		return s.Expression, nil
	}

	clock, err := time.Parse(ScheduleTimeLayout, s.Time)
	if err != nil {
		return "", fmt.Errorf("%w: time %q: %w", ErrInvalidSchedule, s.Time, err)
	}

	minute, hour := clock.Minute(), clock.Hour()

	switch s.Frequency {
	case FrequencyDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case FrequencyOnce, FrequencyWeekly, FrequencyMonthly:
		start, err := s.Start()
		if err != nil {
			return "", err
		}

		if start.IsZero() {
			return "", fmt.Errorf("%w: start_date required for %s", ErrInvalidSchedule, s.Frequency)
		}

		switch s.Frequency {
		case FrequencyWeekly:
			return fmt.Sprintf("%d %d * * %d", minute, hour, int(start.Weekday())), nil
		case FrequencyMonthly:
			return fmt.Sprintf("%d %d %d * *", minute, hour, start.Day()), nil
		default:
			return fmt.Sprintf("%d %d %d %d *", minute, hour, start.Day(), int(start.Month())), nil
		}
	default:
		return "", fmt.Errorf("%w: unknown frequency %q", ErrInvalidSchedule, s.Frequency)
	}
}

// Validate checks that the schedule can be turned into a cron schedule.
func (s *ScheduleSpec) Validate() error {
	expr, err := s.CronExpression()
	if err != nil {
		return err
	}

	if _, err := scheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	_, err = s.Start()

	return err
}

// IsDue reports whether the schedule fires within the minute containing now.
func (s *ScheduleSpec) IsDue(now time.Time) (bool, error) {
	expr, err := s.CronExpression()
	if err != nil {
		return false, err
	}

	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	loc, err := s.Location()
	if err != nil {
		return false, err
	}

	minute := now.In(loc).Truncate(time.Minute)

	start, err := s.Start()
	if err != nil {
		return false, err
	}

	if !start.IsZero() && minute.Before(start.Truncate(time.Minute)) {
		return false, nil
	}

	if s.Frequency == FrequencyOnce && !start.IsZero() && minute.Year() != start.Year() {
		return false, nil
	}

	// Next fires strictly after its argument, so step back one second.
	next := schedule.Next(minute.Add(-time.Second))

	return next.Equal(minute), nil
}
