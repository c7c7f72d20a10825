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

const appointmentColumns = `
	id, psychologist_id, patient_id, patient_email,
	to_char(date, 'YYYY-MM-DD') AS date,
	to_char(start_time, 'HH24:MI:SS') AS start_time,
	to_char(end_time, 'HH24:MI:SS') AS end_time,
	status, notes, cancel_reason, created_at, updated_at
`

type appointmentRepository struct {
	db *sqlx.DB
}

func NewAppointmentRepository(db *sqlx.DB) repository.AppointmentRepository {
	return &appointmentRepository{db: db}
}

func (r *appointmentRepository) CreateWithEvent(ctx context.Context, appointment *model.Appointment, event *model.OutboxEvent) error {
	query := `
		INSERT INTO appointments (
			id, psychologist_id, patient_id, patient_email,
			date, start_time, end_time, status, notes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	now := time.Now().UTC()
	appointment.CreatedAt = now
	appointment.UpdatedAt = now

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			appointment.ID,
			appointment.PsychologistID,
			appointment.PatientID,
			appointment.PatientEmail,
			appointment.Date,
			appointment.StartTime,
			appointment.EndTime,
			appointment.Status,
			appointment.Notes,
			appointment.CreatedAt,
			appointment.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("failed to create appointment: %w", repository.ErrDuplicate)
			}
			return fmt.Errorf("failed to create appointment: %w", err)
		}
		return insertOutboxEvent(ctx, tx, event)
	})
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var appointment model.Appointment
	if err := r.db.GetContext(ctx, &appointment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return &appointment, nil
}

func (r *appointmentRepository) List(ctx context.Context, filters model.AppointmentFilters) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filters.PsychologistID != uuid.Nil {
		query += fmt.Sprintf(" AND psychologist_id = $%d", argCount)
		args = append(args, filters.PsychologistID)
		argCount++
	}
	if filters.PatientID != uuid.Nil {
		query += fmt.Sprintf(" AND patient_id = $%d", argCount)
		args = append(args, filters.PatientID)
		argCount++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filters.Status)
		argCount++
	}
	if filters.From != "" {
		query += fmt.Sprintf(" AND date >= $%d", argCount)
		args = append(args, filters.From)
		argCount++
	}
	if filters.To != "" {
		query += fmt.Sprintf(" AND date <= $%d", argCount)
		args = append(args, filters.To)
	}

	query += " ORDER BY date ASC, start_time ASC"

	appointments := []*model.Appointment{}
	if err := r.db.SelectContext(ctx, &appointments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) ListForPsychologist(ctx context.Context, psychologistID uuid.UUID, from, to string) ([]model.ExistingAppointment, error) {
	query := `
		SELECT to_char(date, 'YYYY-MM-DD') AS date,
			   to_char(start_time, 'HH24:MI:SS') AS start_time,
			   to_char(end_time, 'HH24:MI:SS') AS end_time,
			   status
		FROM appointments
		WHERE psychologist_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC, start_time ASC
	`
	existing := []model.ExistingAppointment{}
	if err := r.db.SelectContext(ctx, &existing, query, psychologistID, from, to); err != nil {
		return nil, fmt.Errorf("failed to list psychologist appointments: %w", err)
	}
	return existing, nil
}

func (r *appointmentRepository) UpdateStatus(ctx context.Context, appointment *model.Appointment, event *model.OutboxEvent) error {
	query := `
		UPDATE appointments
		SET status = $1, cancel_reason = $2, updated_at = $3
		WHERE id = $4
	`
	appointment.UpdatedAt = time.Now().UTC()

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			appointment.Status,
			appointment.CancelReason,
			appointment.UpdatedAt,
			appointment.ID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("failed to update appointment: %w", repository.ErrDuplicate)
			}
			return fmt.Errorf("failed to update appointment: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return repository.ErrNotFound
		}
		return insertOutboxEvent(ctx, tx, event)
	})
}
