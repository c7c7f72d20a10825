// Package scheduling derives bookable slots from a psychologist's weekly
// availability. Everything here is a pure function of its inputs.
package scheduling

import (
	"time"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
)

const (
	DefaultLookaheadDays = 14
	DefaultSlotLength    = 60 * time.Minute
	DefaultMinSlotLength = 45 * time.Minute
)

// Options tunes slot generation. Zero fields take the defaults.
type Options struct {
	Days          int
	SlotLength    time.Duration
	MinSlotLength time.Duration
}

func DefaultOptions() Options {
	return Options{
		Days:          DefaultLookaheadDays,
		SlotLength:    DefaultSlotLength,
		MinSlotLength: DefaultMinSlotLength,
	}
}

func (o Options) withDefaults() Options {
	if o.Days <= 0 {
		o.Days = DefaultLookaheadDays
	}
	if o.SlotLength < time.Minute {
		o.SlotLength = DefaultSlotLength
	}
	if o.MinSlotLength < time.Minute {
		o.MinSlotLength = DefaultMinSlotLength
	}
	return o
}

// Generate returns the slots still bookable over the next opts.Days
// calendar days, starting with now's date in now's location. Days without
// slots are omitted. The result is ordered by date then start time.
func Generate(availability model.WeeklyAvailability, appointments []model.ExistingAppointment, now time.Time, opts Options) []model.DaySlots {
	opts = opts.withDefaults()
	step := Clock(opts.SlotLength / time.Minute)
	min := Clock(opts.MinSlotLength / time.Minute)

	busy := indexAppointments(appointments)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var out []model.DaySlots
	for i := 0; i < opts.Days; i++ {
		day := today.AddDate(0, 0, i)
		schedule, ok := availability.Day(day.Weekday())
		if !ok || !schedule.Enabled || len(schedule.TimeBlocks) == 0 {
			continue
		}

		date := day.Format(model.DateLayout)
		var slots []model.BookableSlot
		for _, block := range merge(parseBlocks(schedule.TimeBlocks)) {
			for _, iv := range split(block, step, min) {
				if busy.blocks(date, iv) {
					continue
				}
				if i == 0 && !iv.Start.On(day).After(now) {
					continue
				}
				slots = append(slots, model.BookableSlot{
					Date:      date,
					StartTime: iv.Start.String(),
					EndTime:   iv.End.String(),
				})
			}
		}

		if len(slots) == 0 {
			continue
		}
		out = append(out, model.DaySlots{Date: date, Slots: slots})
	}
	return out
}

// Flatten concatenates the slots of every day, keeping order.
func Flatten(days []model.DaySlots) []model.BookableSlot {
	var out []model.BookableSlot
	for _, d := range days {
		out = append(out, d.Slots...)
	}
	return out
}

// Contains reports whether slot is offered. Times are compared after
// normalization so "09:00:00" matches "09:00".
func Contains(days []model.DaySlots, slot model.BookableSlot) bool {
	start, err := ParseClock(slot.StartTime)
	if err != nil {
		return false
	}
	end, err := ParseClock(slot.EndTime)
	if err != nil {
		return false
	}
	for _, d := range days {
		if d.Date != slot.Date {
			continue
		}
		for _, s := range d.Slots {
			if s.StartTime == start.String() && s.EndTime == end.String() {
				return true
			}
		}
	}
	return false
}

// LookaheadEnd is the last calendar date covered when generating from now.
func LookaheadEnd(now time.Time, days int) time.Time {
	if days <= 0 {
		days = DefaultLookaheadDays
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return today.AddDate(0, 0, days-1)
}
