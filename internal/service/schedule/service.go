package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/scheduling"
	apperrors "github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/errors"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/logger"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/validator"
)

type Service struct {
	repo   repository.ScheduleRepository
	logger *logger.Logger
}

func NewService(repo repository.ScheduleRepository, log *logger.Logger) *Service {
	return &Service{repo: repo, logger: log}
}

// Get returns the psychologist's weekly availability. A psychologist who
// never published one has an empty availability.
func (s *Service) Get(ctx context.Context, psychologistID uuid.UUID) (*model.Schedule, error) {
	sch, err := s.repo.Get(ctx, psychologistID)
	if errors.Is(err, repository.ErrNotFound) {
		return &model.Schedule{PsychologistID: psychologistID, Availability: model.WeeklyAvailability{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	if sch.Availability == nil {
		sch.Availability = model.WeeklyAvailability{}
	}
	return sch, nil
}

// Replace validates and stores a whole weekly availability.
func (s *Service) Replace(ctx context.Context, caller model.Principal, psychologistID uuid.UUID, availability model.WeeklyAvailability) (*model.Schedule, error) {
	if !caller.IsAdmin() && !(caller.Role == model.RolePsychologist && caller.UserID == psychologistID) {
		return nil, apperrors.Forbidden("only the psychologist or an admin can change this schedule")
	}

	normalized, err := Normalize(availability)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}

	sch := &model.Schedule{PsychologistID: psychologistID, Availability: normalized}
	if err := s.repo.Upsert(ctx, sch); err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}

	s.logger.Info("schedule replaced",
		"psychologist_id", psychologistID.String(),
		"days", len(normalized))
	return sch, nil
}

// Normalize lowercases weekday keys, rewrites times as "HH:MM" and rejects
// unknown days, malformed times and blocks that do not end after they start.
func Normalize(availability model.WeeklyAvailability) (model.WeeklyAvailability, error) {
	out := make(model.WeeklyAvailability, len(availability))
	for key, day := range availability {
		name := strings.ToLower(strings.TrimSpace(key))
		if !model.IsWeekdayKey(name) {
			return nil, fmt.Errorf("unknown weekday %q", key)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("weekday %q given twice", name)
		}
		if err := validator.Struct(day); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		blocks := make([]model.TimeBlock, 0, len(day.TimeBlocks))
		for i, b := range day.TimeBlocks {
			start, _ := scheduling.ParseClock(b.StartTime)
			end, _ := scheduling.ParseClock(b.EndTime)
			if start >= end {
				return nil, fmt.Errorf("%s: block %d must end after it starts", name, i+1)
			}
			blocks = append(blocks, model.TimeBlock{StartTime: start.String(), EndTime: end.String()})
		}
		out[name] = model.DaySchedule{Enabled: day.Enabled, TimeBlocks: blocks}
	}
	return out, nil
}
