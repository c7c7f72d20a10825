package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestScheduleRepository_Get(t *testing.T) {
	ctx := context.Background()
	psychologistID := uuid.New()

	tests := []struct {
		name    string
		mock    func(mock sqlmock.Sqlmock)
		want    model.WeeklyAvailability
		wantErr error
	}{
		{
			name: "found",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT psychologist_id, availability, updated_at\s+FROM schedules`).
					WithArgs(psychologistID).
					WillReturnRows(sqlmock.NewRows([]string{"psychologist_id", "availability", "updated_at"}).
						AddRow(psychologistID.String(), []byte(`{"monday":{"enabled":true,"timeBlocks":[{"startTime":"09:00","endTime":"12:00"}]}}`), time.Now()))
			},
			want: model.WeeklyAvailability{
				"monday": {Enabled: true, TimeBlocks: []model.TimeBlock{{StartTime: "09:00", EndTime: "12:00"}}},
			},
		},
		{
			name: "not found",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM schedules`).
					WithArgs(psychologistID).
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: repository.ErrNotFound,
		},
		{
			name: "db error",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM schedules`).
					WithArgs(psychologistID).
					WillReturnError(sql.ErrConnDone)
			},
			wantErr: sql.ErrConnDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			tt.mock(mock)

			got, err := NewScheduleRepository(db).Get(ctx, psychologistID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, psychologistID, got.PsychologistID)
				assert.Equal(t, tt.want, got.Availability)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestScheduleRepository_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	schedule := &model.Schedule{
		PsychologistID: uuid.New(),
		Availability:   model.WeeklyAvailability{"friday": {Enabled: false}},
	}

	mock.ExpectExec(`(?s)INSERT INTO schedules .*ON CONFLICT \(psychologist_id\) DO UPDATE`).
		WithArgs(schedule.PsychologistID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewScheduleRepository(db).Upsert(context.Background(), schedule))
	assert.False(t, schedule.UpdatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}
