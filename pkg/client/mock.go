package client

import "github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"

// MockAvailability is a weekday morning and afternoon schedule used when the
// API is unreachable in development.
func MockAvailability() model.WeeklyAvailability {
	workday := model.DaySchedule{
		Enabled: true,
		TimeBlocks: []model.TimeBlock{
			{StartTime: "09:00", EndTime: "13:00"},
			{StartTime: "15:00", EndTime: "18:00"},
		},
	}
	return model.WeeklyAvailability{
		"monday":    workday,
		"tuesday":   workday,
		"wednesday": workday,
		"thursday":  workday,
		"friday":    workday,
		"saturday":  {Enabled: false},
		"sunday":    {Enabled: false},
	}
}
