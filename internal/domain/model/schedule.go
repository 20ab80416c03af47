package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ScheduleType represents the cadence of an automation schedule.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ScheduleType string

const (
	// ScheduleDaily runs once per day at a fixed local time.
	ScheduleDaily ScheduleType = "daily"
	// ScheduleWeekly runs on selected weekdays at a fixed local time.
	ScheduleWeekly ScheduleType = "weekly"
)

// Valid returns true if the ScheduleType is valid.
func (t ScheduleType) Valid() bool {
	return t == ScheduleDaily || t == ScheduleWeekly
}

// UnmarshalText implements encoding.TextUnmarshaler for ScheduleType.
func (t *ScheduleType) UnmarshalText(text []byte) error {
	v := ScheduleType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid ScheduleType: %q", string(text))
	}
	*t = v
	return nil
}

// Weekday is a named day of the week as it appears in schedule configs.
// Index follows the schedule convention Monday=0 ... Sunday=6.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Weekday string

// Weekday constants in schedule order (Monday first).
const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
	Sunday    Weekday = "sunday"
)

var weekdayIndex = map[Weekday]int{
	Monday: 0, Tuesday: 1, Wednesday: 2, Thursday: 3, Friday: 4, Saturday: 5, Sunday: 6,
}

// Valid returns true if the Weekday is valid.
func (d Weekday) Valid() bool {
	_, ok := weekdayIndex[d]
	return ok
}

// Index returns the schedule weekday index (Monday=0). Invalid weekdays
// return -1.
func (d Weekday) Index() int {
	if i, ok := weekdayIndex[d]; ok {
		return i
	}
	return -1
}

// UnmarshalText implements encoding.TextUnmarshaler for Weekday, accepting
// any case and surrounding whitespace.
func (d *Weekday) UnmarshalText(text []byte) error {
	v := Weekday(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid weekday: %q", string(text))
	}
	*d = v
	return nil
}

// ScheduleWeekdayIndex converts a time.Weekday into the schedule convention
// (Monday=0 ... Sunday=6).
func ScheduleWeekdayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

var timeRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Schedule describes when one automation type runs for a connection.
type Schedule struct {
	Enabled  bool         `json:"enabled"`
	Type     ScheduleType `json:"schedule_type"`
	Time     string       `json:"time"`     // HH:MM, 24-hour
	Timezone string       `json:"timezone"` // IANA identifier
	Days     []Weekday    `json:"days,omitempty"`
}

// Validate checks a single schedule entry. Weekly schedules require at least
// one valid weekday; daily schedules must not be rejected for carrying days.
func (s *Schedule) Validate() error {
	if !s.Type.Valid() {
		return fmt.Errorf("schedule_type must be one of %q, %q", ScheduleDaily, ScheduleWeekly)
	}
	if !timeRe.MatchString(s.Time) {
		return fmt.Errorf("time %q must match HH:MM (24-hour)", s.Time)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("timezone %q is not a valid IANA identifier", s.Timezone)
	}
	if s.Type == ScheduleWeekly {
		if len(s.Days) == 0 {
			return fmt.Errorf("weekly schedule requires at least one day")
		}
		for _, d := range s.Days {
			if !d.Valid() {
				return fmt.Errorf("invalid weekday: %q", d)
			}
		}
	}
	return nil
}

// Normalize lowercases weekdays, drops duplicates, and sorts days into
// schedule order so stored configs are bit-stable.
func (s *Schedule) Normalize() {
	s.Time = strings.TrimSpace(s.Time)
	s.Timezone = strings.TrimSpace(s.Timezone)
	if len(s.Days) == 0 {
		return
	}
	seen := make(map[Weekday]bool, len(s.Days))
	days := make([]Weekday, 0, len(s.Days))
	for _, d := range s.Days {
		norm := Weekday(strings.ToLower(strings.TrimSpace(string(d))))
		if !seen[norm] {
			seen[norm] = true
			days = append(days, norm)
		}
	}
	for i := 0; i < len(days); i++ {
		for j := i + 1; j < len(days); j++ {
			if days[j].Index() < days[i].Index() {
				days[i], days[j] = days[j], days[i]
			}
		}
	}
	s.Days = days
}

// HourMinute parses the HH:MM time field. Validate must have passed.
func (s *Schedule) HourMinute() (hour, minute int) {
	m := timeRe.FindStringSubmatch(s.Time)
	if len(m) != 3 {
		return 0, 0
	}
	fmt.Sscanf(m[1], "%d", &hour)
	fmt.Sscanf(m[2], "%d", &minute)
	return hour, minute
}

// ScheduleConfig maps automation types to their schedules. This is the JSON
// shape stored in automation_connection_configs.schedule_config.
type ScheduleConfig map[AutomationType]Schedule

// Validate checks every entry of the config against the closed automation
// type set and per-schedule rules.
func (c ScheduleConfig) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("schedule config must contain at least one automation type")
	}
	for at, sched := range c {
		if !at.Valid() {
			return fmt.Errorf("unknown automation type %q", at)
		}
		s := sched
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%s: %w", at, err)
		}
	}
	return nil
}

// Normalize normalises all entries in place.
func (c ScheduleConfig) Normalize() {
	for at, sched := range c {
		s := sched
		s.Normalize()
		c[at] = s
	}
}

// AutomationConnectionConfig pairs a connection with its schedule config.
type AutomationConnectionConfig struct {
	ID             string         `json:"id"              db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	ConnectionID   string         `json:"connection_id"   db:"connection_id"`
	Config         ScheduleConfig `json:"schedule_config" db:"schedule_config"`
	UpdatedBy      *string        `json:"updated_by,omitempty" db:"updated_by"`
	CreatedAt      time.Time      `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"      db:"updated_at"`
}

// ScheduledJob is the materialised next-run row for one enabled
// (connection, automation type) pair.
type ScheduledJob struct {
	ID             string         `json:"id"              db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	ConnectionID   string         `json:"connection_id"   db:"connection_id"`
	AutomationType AutomationType `json:"automation_type" db:"automation_type"`
	Schedule       Schedule       `json:"schedule"        db:"schedule"`
	NextRunAt      time.Time      `json:"next_run_at"     db:"next_run_at"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty" db:"last_run_at"`
	Enabled        bool           `json:"enabled"         db:"enabled"`
	CreatedAt      time.Time      `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"      db:"updated_at"`
}
