package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository"
)

type scheduleRepository struct {
	db *sqlx.DB
}

func NewScheduleRepository(db *sqlx.DB) repository.ScheduleRepository {
	return &scheduleRepository{db: db}
}

func (r *scheduleRepository) Get(ctx context.Context, psychologistID uuid.UUID) (*model.Schedule, error) {
	query := `
		SELECT psychologist_id, availability, updated_at
		FROM schedules
		WHERE psychologist_id = $1
	`
	var schedule model.Schedule
	if err := r.db.GetContext(ctx, &schedule, query, psychologistID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &schedule, nil
}

func (r *scheduleRepository) Upsert(ctx context.Context, schedule *model.Schedule) error {
	query := `
		INSERT INTO schedules (psychologist_id, availability, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (psychologist_id) DO UPDATE
		SET availability = EXCLUDED.availability, updated_at = EXCLUDED.updated_at
	`
	schedule.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, query,
		schedule.PsychologistID,
		schedule.Availability,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert schedule: %w", err)
	}
	return nil
}
