package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// All repository interfaces in one file
type (
	ScheduleRepository interface {
		Get(ctx context.Context, psychologistID uuid.UUID) (*model.Schedule, error)
		Upsert(ctx context.Context, schedule *model.Schedule) error
	}

	AppointmentRepository interface {
		// CreateWithEvent stores the appointment and its outbox event in one
		// transaction. A taken slot yields ErrDuplicate.
		CreateWithEvent(ctx context.Context, appointment *model.Appointment, event *model.OutboxEvent) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		List(ctx context.Context, filters model.AppointmentFilters) ([]*model.Appointment, error)
		// ListForPsychologist returns bookings on dates in [from, to].
		ListForPsychologist(ctx context.Context, psychologistID uuid.UUID, from, to string) ([]model.ExistingAppointment, error)
		UpdateStatus(ctx context.Context, appointment *model.Appointment, event *model.OutboxEvent) error
	}

	OutboxRepository interface {
		// GetPendingEventsWithLock claims up to limit due events. Claimed
		// events are hidden from other workers for lease.
		GetPendingEventsWithLock(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, event *model.OutboxEvent) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
