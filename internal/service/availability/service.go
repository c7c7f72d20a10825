package availability

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/scheduling"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/metrics"
)

// MaxLookaheadDays caps the days query parameter.
const MaxLookaheadDays = 60

type Config struct {
	Location      *time.Location
	LookaheadDays int
}

// Service computes bookable slots from fresh schedule and appointment
// reads. Identical concurrent requests share one computation.
type Service struct {
	schedules    repository.ScheduleRepository
	appointments repository.AppointmentRepository
	loc          *time.Location
	days         int
	metrics      *metrics.Metrics
	group        singleflight.Group
	now          func() time.Time
}

func NewService(schedules repository.ScheduleRepository, appointments repository.AppointmentRepository, cfg Config, m *metrics.Metrics) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	days := cfg.LookaheadDays
	if days <= 0 {
		days = scheduling.DefaultLookaheadDays
	}
	return &Service{
		schedules:    schedules,
		appointments: appointments,
		loc:          loc,
		days:         days,
		metrics:      m,
		now:          time.Now,
	}
}

// Now is the current time in the booking timezone.
func (s *Service) Now() time.Time {
	return s.now().In(s.loc)
}

// LookaheadDays is the default window length.
func (s *Service) LookaheadDays() int {
	return s.days
}

// Slots returns bookable slots for the next days days (0 means default).
func (s *Service) Slots(ctx context.Context, psychologistID uuid.UUID, days int) ([]model.DaySlots, error) {
	days = s.clampDays(days)
	key := psychologistID.String() + "/" + strconv.Itoa(days)

	ch := s.group.DoChan(key, func() (interface{}, error) {
		// detached so one caller giving up does not fail the others
		return s.generate(context.WithoutCancel(ctx), psychologistID, days)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared && s.metrics != nil {
			s.metrics.SharedFetches.Inc()
		}
		return res.Val.([]model.DaySlots), nil
	}
}

// IsOffered regenerates slots without sharing and reports whether slot is
// currently bookable.
func (s *Service) IsOffered(ctx context.Context, psychologistID uuid.UUID, slot model.BookableSlot) (bool, error) {
	days, err := s.generate(ctx, psychologistID, s.days)
	if err != nil {
		return false, err
	}
	return scheduling.Contains(days, slot), nil
}

func (s *Service) clampDays(days int) int {
	if days <= 0 {
		return s.days
	}
	if days > MaxLookaheadDays {
		return MaxLookaheadDays
	}
	return days
}

func (s *Service) generate(ctx context.Context, psychologistID uuid.UUID, days int) ([]model.DaySlots, error) {
	var timer *prometheus.Timer
	if s.metrics != nil {
		timer = prometheus.NewTimer(s.metrics.SlotGenerationLatency)
		defer timer.ObserveDuration()
	}

	now := s.Now()

	availability := model.WeeklyAvailability{}
	sch, err := s.schedules.Get(ctx, psychologistID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load schedule: %w", err)
	default:
		availability = sch.Availability
	}

	from := now.Format(model.DateLayout)
	to := scheduling.LookaheadEnd(now, days).Format(model.DateLayout)
	existing, err := s.appointments.ListForPsychologist(ctx, psychologistID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load appointments: %w", err)
	}

	out := scheduling.Generate(availability, existing, now, scheduling.Options{Days: days})
	if s.metrics != nil {
		s.metrics.SlotsGenerated.Add(float64(len(scheduling.Flatten(out))))
	}
	if out == nil {
		out = []model.DaySlots{}
	}
	return out, nil
}
