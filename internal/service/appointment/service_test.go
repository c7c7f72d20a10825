package appointment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository/memory"
	apperrors "github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/errors"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/logger"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/metrics"
)

var testNow = time.Date(2025, 3, 3, 7, 0, 0, 0, time.UTC)

// fakeSlots offers a fixed set of slots, dropping those already booked in
// the store so re-validation behaves like the real generator.
type fakeSlots struct {
	store   *memory.Store
	offered []model.BookableSlot
}

func (f *fakeSlots) IsOffered(ctx context.Context, psychologistID uuid.UUID, slot model.BookableSlot) (bool, error) {
	existing, err := f.store.Appointments().ListForPsychologist(ctx, psychologistID, slot.Date, slot.Date)
	if err != nil {
		return false, err
	}
	for _, e := range existing {
		if e.Status.Blocks() && e.StartTime == slot.StartTime {
			return false, nil
		}
	}
	for _, o := range f.offered {
		if o == slot {
			return true, nil
		}
	}
	return false, nil
}

func (fakeSlots) Now() time.Time     { return testNow }
func (fakeSlots) LookaheadDays() int { return 14 }

type fixture struct {
	svc            *Service
	store          *memory.Store
	slots          *fakeSlots
	psychologistID uuid.UUID
	patient        model.Principal
}

func newFixture() *fixture {
	store := memory.NewStore()
	psychologistID := uuid.New()
	slots := &fakeSlots{store: store, offered: []model.BookableSlot{
		{Date: "2025-03-03", StartTime: "09:00", EndTime: "10:00"},
		{Date: "2025-03-03", StartTime: "10:00", EndTime: "11:00"},
	}}
	return &fixture{
		svc:            NewService(store.Appointments(), slots, logger.Nop(), metrics.NewNop()),
		store:          store,
		slots:          slots,
		psychologistID: psychologistID,
		patient:        model.Principal{UserID: uuid.New(), Email: "ana@example.com", Role: model.RolePatient},
	}
}

func (f *fixture) request(start, end string) *model.CreateAppointmentRequest {
	return &model.CreateAppointmentRequest{PsychologistID: f.psychologistID, Date: "2025-03-03", StartTime: start, EndTime: end}
}

func requireCode(t *testing.T, err error, code apperrors.ErrorCode) *apperrors.AppError {
	t.Helper()
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
	return appErr
}

func TestService_Create(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	apt, err := f.svc.Create(ctx, f.patient, f.request("09:00:00", "10:00:00"))
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusPending, apt.Status)
	assert.Equal(t, "09:00", apt.StartTime)
	assert.Equal(t, f.patient.UserID, apt.PatientID)
	assert.Equal(t, "ana@example.com", apt.PatientEmail)

	events := f.store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventAppointmentCreated, events[0].EventType)
	var payload model.AppointmentEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, apt.ID, payload.AppointmentID)
	assert.Equal(t, "ana@example.com", payload.PatientEmail)
}

func TestService_CreateRejects(t *testing.T) {
	ctx := context.Background()

	t.Run("psychologist cannot book", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.Create(ctx, model.Principal{UserID: uuid.New(), Role: model.RolePsychologist}, f.request("09:00", "10:00"))
		requireCode(t, err, apperrors.ErrForbidden)
	})

	t.Run("invalid payload", func(t *testing.T) {
		f := newFixture()
		req := f.request("nine", "10:00")
		req.Date = "tomorrow"
		_, err := f.svc.Create(ctx, f.patient, req)
		requireCode(t, err, apperrors.ErrBadRequest)
	})

	t.Run("end before start", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.Create(ctx, f.patient, f.request("10:00", "09:00"))
		requireCode(t, err, apperrors.ErrBadRequest)
	})

	t.Run("slot not offered", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.Create(ctx, f.patient, f.request("12:00", "13:00"))
		appErr := requireCode(t, err, apperrors.ErrConflict)
		assert.ErrorIs(t, appErr, ErrSlotUnavailable)
	})

	t.Run("already booked slot is no longer offered", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.Create(ctx, f.patient, f.request("09:00", "10:00"))
		require.NoError(t, err)

		_, err = f.svc.Create(ctx, model.Principal{UserID: uuid.New(), Role: model.RolePatient}, f.request("09:00", "10:00"))
		requireCode(t, err, apperrors.ErrConflict)
	})
}

// racingSlots always says yes so the repository uniqueness check decides.
type racingSlots struct{ fakeSlots }

func (racingSlots) IsOffered(context.Context, uuid.UUID, model.BookableSlot) (bool, error) {
	return true, nil
}

func TestService_CreateConcurrentBookingConflict(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Appointments(), racingSlots{}, logger.Nop(), metrics.NewNop())
	psychologistID := uuid.New()
	req := &model.CreateAppointmentRequest{PsychologistID: psychologistID, Date: "2025-03-03", StartTime: "09:00", EndTime: "10:00"}

	_, err := svc.Create(context.Background(), model.Principal{UserID: uuid.New(), Role: model.RolePatient}, req)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), model.Principal{UserID: uuid.New(), Role: model.RolePatient}, req)
	appErr := requireCode(t, err, apperrors.ErrConflict)
	assert.Contains(t, appErr.Message, "must make a unique set")
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestService_GetAndList(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	apt, err := f.svc.Create(ctx, f.patient, f.request("09:00", "10:00"))
	require.NoError(t, err)

	psychologist := model.Principal{UserID: f.psychologistID, Role: model.RolePsychologist}
	stranger := model.Principal{UserID: uuid.New(), Role: model.RolePatient}
	admin := model.Principal{UserID: uuid.New(), Role: model.RoleAdmin}

	for _, caller := range []model.Principal{f.patient, psychologist, admin} {
		got, err := f.svc.Get(ctx, caller, apt.ID)
		require.NoError(t, err)
		assert.Equal(t, apt.ID, got.ID)
	}
	_, err = f.svc.Get(ctx, stranger, apt.ID)
	requireCode(t, err, apperrors.ErrForbidden)

	_, err = f.svc.Get(ctx, admin, uuid.New())
	requireCode(t, err, apperrors.ErrNotFound)

	list, err := f.svc.List(ctx, stranger, model.AppointmentFilters{})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = f.svc.List(ctx, psychologist, model.AppointmentFilters{PsychologistID: uuid.New()})
	require.NoError(t, err)
	assert.Len(t, list, 1, "psychologist filter is forced to the caller")

	_, err = f.svc.List(ctx, admin, model.AppointmentFilters{From: "2025-03-10", To: "2025-03-01"})
	requireCode(t, err, apperrors.ErrBadRequest)
}

func TestService_Occupied(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Create(ctx, f.patient, f.request("10:00", "11:00"))
	require.NoError(t, err)

	occupied, err := f.svc.Occupied(ctx, f.psychologistID, "", "")
	require.NoError(t, err)
	require.Len(t, occupied, 1)
	assert.Equal(t, "10:00", occupied[0].StartTime)

	_, err = f.svc.Occupied(ctx, f.psychologistID, "03/03/2025", "")
	requireCode(t, err, apperrors.ErrBadRequest)
}

func TestService_OccupiedSpanIsCapped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Create(ctx, f.patient, f.request("10:00", "11:00"))
	require.NoError(t, err)

	occupied, err := f.svc.Occupied(ctx, f.psychologistID, "2025-01-01", "2025-12-31")
	require.NoError(t, err)
	assert.Empty(t, occupied, "span ends on 2025-03-01")

	occupied, err = f.svc.Occupied(ctx, f.psychologistID, "2025-02-01", "2025-12-31")
	require.NoError(t, err)
	assert.Len(t, occupied, 1)

	assert.Equal(t, "2025-03-01", clampSpan("2025-01-01", "2030-01-01", MaxOccupiedDays))
	assert.Equal(t, "2025-01-05", clampSpan("2025-01-01", "2025-01-05", MaxOccupiedDays))
}

func TestService_CancelAndConfirm(t *testing.T) {
	ctx := context.Background()

	t.Run("psychologist confirms then patient cancels", func(t *testing.T) {
		f := newFixture()
		apt, err := f.svc.Create(ctx, f.patient, f.request("09:00", "10:00"))
		require.NoError(t, err)

		psychologist := model.Principal{UserID: f.psychologistID, Role: model.RolePsychologist}
		_, err = f.svc.Confirm(ctx, f.patient, apt.ID)
		requireCode(t, err, apperrors.ErrForbidden)

		confirmed, err := f.svc.Confirm(ctx, psychologist, apt.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AppointmentStatusConfirmed, confirmed.Status)

		cancelled, err := f.svc.Cancel(ctx, f.patient, apt.ID, "  sick  ")
		require.NoError(t, err)
		assert.Equal(t, model.AppointmentStatusCancelled, cancelled.Status)
		require.NotNil(t, cancelled.CancelReason)
		assert.Equal(t, "sick", *cancelled.CancelReason)

		_, err = f.svc.Cancel(ctx, f.patient, apt.ID, "")
		requireCode(t, err, apperrors.ErrConflict)

		types := []string{}
		for _, e := range f.store.OutboxEvents() {
			types = append(types, e.EventType)
		}
		assert.Equal(t, []string{model.EventAppointmentCreated, model.EventAppointmentConfirmed, model.EventAppointmentCancelled}, types)
	})

	t.Run("cancelled slot can be booked again", func(t *testing.T) {
		f := newFixture()
		apt, err := f.svc.Create(ctx, f.patient, f.request("09:00", "10:00"))
		require.NoError(t, err)
		_, err = f.svc.Cancel(ctx, f.patient, apt.ID, "")
		require.NoError(t, err)

		_, err = f.svc.Create(ctx, model.Principal{UserID: uuid.New(), Role: model.RolePatient}, f.request("09:00", "10:00"))
		require.NoError(t, err)
	})

	t.Run("stranger cannot cancel", func(t *testing.T) {
		f := newFixture()
		apt, err := f.svc.Create(ctx, f.patient, f.request("09:00", "10:00"))
		require.NoError(t, err)
		_, err = f.svc.Cancel(ctx, model.Principal{UserID: uuid.New(), Role: model.RolePatient}, apt.ID, "")
		requireCode(t, err, apperrors.ErrForbidden)
	})

	t.Run("confirm requires pending", func(t *testing.T) {
		f := newFixture()
		apt, err := f.svc.Create(ctx, f.patient, f.request("09:00", "10:00"))
		require.NoError(t, err)
		_, err = f.svc.Cancel(ctx, f.patient, apt.ID, "")
		require.NoError(t, err)
		_, err = f.svc.Confirm(ctx, model.Principal{UserID: uuid.New(), Role: model.RoleAdmin}, apt.ID)
		requireCode(t, err, apperrors.ErrConflict)
	})
}
