package availability

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository/memory"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/metrics"
)

// Monday 2025-03-03 07:00 UTC
var monday = time.Date(2025, 3, 3, 7, 0, 0, 0, time.UTC)

func mondayMorning() model.WeeklyAvailability {
	return model.WeeklyAvailability{
		"monday": {Enabled: true, TimeBlocks: []model.TimeBlock{{StartTime: "09:00", EndTime: "11:00"}}},
	}
}

func newTestService(t *testing.T, store *memory.Store) *Service {
	t.Helper()
	svc := NewService(store.Schedules(), store.Appointments(), Config{Location: time.UTC}, metrics.NewNop())
	svc.now = func() time.Time { return monday }
	return svc
}

func TestService_Slots(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	psychologistID := uuid.New()
	require.NoError(t, store.Schedules().Upsert(ctx, &model.Schedule{PsychologistID: psychologistID, Availability: mondayMorning()}))

	svc := newTestService(t, store)

	days, err := svc.Slots(ctx, psychologistID, 0)
	require.NoError(t, err)
	require.Len(t, days, 2, "two mondays in fourteen days")
	assert.Equal(t, "2025-03-03", days[0].Date)
	assert.Equal(t, []model.BookableSlot{
		{Date: "2025-03-03", StartTime: "09:00", EndTime: "10:00"},
		{Date: "2025-03-03", StartTime: "10:00", EndTime: "11:00"},
	}, days[0].Slots)
	assert.Equal(t, "2025-03-10", days[1].Date)

	require.NoError(t, store.Appointments().CreateWithEvent(ctx, &model.Appointment{
		PsychologistID: psychologistID,
		PatientID:      uuid.New(),
		Date:           "2025-03-03",
		StartTime:      "09:00:00",
		EndTime:        "10:00:00",
		Status:         model.AppointmentStatusPending,
	}, nil))

	days, err = svc.Slots(ctx, psychologistID, 7)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, []model.BookableSlot{{Date: "2025-03-03", StartTime: "10:00", EndTime: "11:00"}}, days[0].Slots)
}

func TestService_SlotsWithoutSchedule(t *testing.T) {
	svc := newTestService(t, memory.NewStore())

	days, err := svc.Slots(context.Background(), uuid.New(), 0)
	require.NoError(t, err)
	assert.NotNil(t, days)
	assert.Empty(t, days)
}

func TestService_IsOffered(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	psychologistID := uuid.New()
	require.NoError(t, store.Schedules().Upsert(ctx, &model.Schedule{PsychologistID: psychologistID, Availability: mondayMorning()}))
	svc := newTestService(t, store)

	ok, err := svc.IsOffered(ctx, psychologistID, model.BookableSlot{Date: "2025-03-03", StartTime: "10:00:00", EndTime: "11:00:00"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsOffered(ctx, psychologistID, model.BookableSlot{Date: "2025-03-03", StartTime: "09:30", EndTime: "10:30"})
	require.NoError(t, err)
	assert.False(t, ok)
}

type slowSchedules struct {
	calls   atomic.Int32
	release chan struct{}
}

func (s *slowSchedules) Get(ctx context.Context, id uuid.UUID) (*model.Schedule, error) {
	s.calls.Add(1)
	<-s.release
	return &model.Schedule{PsychologistID: id, Availability: mondayMorning()}, nil
}

func (s *slowSchedules) Upsert(context.Context, *model.Schedule) error { return nil }

func TestService_SlotsSharesInFlightFetch(t *testing.T) {
	schedules := &slowSchedules{release: make(chan struct{})}
	svc := NewService(schedules, memory.NewStore().Appointments(), Config{Location: time.UTC}, metrics.NewNop())
	svc.now = func() time.Time { return monday }
	psychologistID := uuid.New()

	const callers = 5
	var wg sync.WaitGroup
	results := make([][]model.DaySlots, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			days, err := svc.Slots(context.Background(), psychologistID, 0)
			assert.NoError(t, err)
			results[i] = days
		}(i)
	}

	require.Eventually(t, func() bool { return schedules.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// give the other callers time to join the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(schedules.release)
	wg.Wait()

	assert.Equal(t, int32(1), schedules.calls.Load())
	for _, r := range results {
		assert.Len(t, r, 2)
	}
}

type failingSchedules struct{}

func (failingSchedules) Get(context.Context, uuid.UUID) (*model.Schedule, error) {
	return nil, errors.New("connection refused")
}

func (failingSchedules) Upsert(context.Context, *model.Schedule) error { return nil }

func TestService_SlotsPropagatesErrors(t *testing.T) {
	svc := NewService(failingSchedules{}, memory.NewStore().Appointments(), Config{}, nil)
	_, err := svc.Slots(context.Background(), uuid.New(), 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrNotFound)
}

func TestService_ClampDays(t *testing.T) {
	svc := NewService(nil, nil, Config{LookaheadDays: 14}, nil)
	assert.Equal(t, 14, svc.clampDays(0))
	assert.Equal(t, 3, svc.clampDays(3))
	assert.Equal(t, MaxLookaheadDays, svc.clampDays(365))
}
