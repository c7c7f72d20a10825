package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeBlock is one working range of a day, "HH:MM" on both ends.
type TimeBlock struct {
	StartTime string `json:"startTime" validate:"required,clock"`
	EndTime   string `json:"endTime" validate:"required,clock"`
}

// DaySchedule is the recurring availability of one weekday.
type DaySchedule struct {
	Enabled    bool        `json:"enabled"`
	TimeBlocks []TimeBlock `json:"timeBlocks" validate:"dive"`
}

// WeeklyAvailability maps lowercase weekday names to their schedule.
// Absent days are disabled.
type WeeklyAvailability map[string]DaySchedule

var weekdayKeys = [...]string{
	time.Sunday:    "sunday",
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
}

// WeekdayKey returns the availability key used for d.
func WeekdayKey(d time.Weekday) string {
	return weekdayKeys[d]
}

// IsWeekdayKey reports whether key names a weekday.
func IsWeekdayKey(key string) bool {
	for _, k := range weekdayKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Day returns the schedule for d. Keys are matched case-insensitively so
// payloads using "Monday" still resolve.
func (w WeeklyAvailability) Day(d time.Weekday) (DaySchedule, bool) {
	key := WeekdayKey(d)
	if ds, ok := w[key]; ok {
		return ds, true
	}
	for k, ds := range w {
		if strings.EqualFold(k, key) {
			return ds, true
		}
	}
	return DaySchedule{}, false
}

func (w WeeklyAvailability) Value() (driver.Value, error) {
	if w == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(w)
}

func (w *WeeklyAvailability) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*w = WeeklyAvailability{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported availability type %T", src)
	}
	out := WeeklyAvailability{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode availability: %w", err)
	}
	*w = out
	return nil
}

// Schedule is the stored weekly availability of a psychologist.
type Schedule struct {
	PsychologistID uuid.UUID          `db:"psychologist_id" json:"psychologist"`
	Availability   WeeklyAvailability `db:"availability" json:"availability"`
	UpdatedAt      time.Time          `db:"updated_at" json:"updated_at"`
}
