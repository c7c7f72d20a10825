package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/scheduling"
	apperrors "github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/errors"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/logger"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/metrics"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/validator"
)

// UniqueSlotMessage is returned when the slot was booked concurrently.
// Clients match on it to refresh their slot list.
const UniqueSlotMessage = "The fields psychologist, date, start_time must make a unique set."

// MaxOccupiedDays caps the span of a public occupancy query.
const MaxOccupiedDays = 60

var (
	ErrSlotTaken       = errors.New("slot already booked")
	ErrSlotUnavailable = errors.New("slot is not offered")
)

// SlotChecker answers whether a slot is bookable right now.
type SlotChecker interface {
	IsOffered(ctx context.Context, psychologistID uuid.UUID, slot model.BookableSlot) (bool, error)
	Now() time.Time
	LookaheadDays() int
}

type Service struct {
	repo    repository.AppointmentRepository
	slots   SlotChecker
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(repo repository.AppointmentRepository, slots SlotChecker, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{repo: repo, slots: slots, logger: log, metrics: m}
}

func (s *Service) Create(ctx context.Context, caller model.Principal, req *model.CreateAppointmentRequest) (*model.Appointment, error) {
	if caller.Role != model.RolePatient && !caller.IsAdmin() {
		return nil, apperrors.Forbidden("only patients can book appointments")
	}
	if err := validator.Struct(req); err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}

	start, _ := scheduling.ParseClock(req.StartTime)
	end, _ := scheduling.ParseClock(req.EndTime)
	if start >= end {
		return nil, apperrors.BadRequest("end_time must be after start_time", nil)
	}

	slot := model.BookableSlot{Date: req.Date, StartTime: start.String(), EndTime: end.String()}
	offered, err := s.slots.IsOffered(ctx, req.PsychologistID, slot)
	if err != nil {
		return nil, fmt.Errorf("failed to check availability: %w", err)
	}
	if !offered {
		s.observe("unavailable")
		return nil, apperrors.Conflict("the selected slot is no longer available", ErrSlotUnavailable)
	}

	apt := &model.Appointment{
		Base:           model.Base{ID: uuid.New()},
		PsychologistID: req.PsychologistID,
		PatientID:      caller.UserID,
		PatientEmail:   caller.Email,
		Date:           slot.Date,
		StartTime:      slot.StartTime,
		EndTime:        slot.EndTime,
		Status:         model.AppointmentStatusPending,
		Notes:          strings.TrimSpace(req.Notes),
	}

	event, err := newEvent(model.EventAppointmentCreated, apt)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateWithEvent(ctx, apt, event); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.observe("conflict")
			return nil, apperrors.Conflict(UniqueSlotMessage, ErrSlotTaken)
		}
		s.observe("error")
		return nil, fmt.Errorf("failed to create appointment: %w", err)
	}

	s.observe("created")
	s.logger.Info("appointment created",
		"appointment_id", apt.ID.String(),
		"psychologist_id", apt.PsychologistID.String(),
		"date", apt.Date,
		"start_time", apt.StartTime)
	return apt, nil
}

func (s *Service) Get(ctx context.Context, caller model.Principal, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !participant(caller, apt) && !caller.IsAdmin() {
		return nil, apperrors.Forbidden("not a participant of this appointment")
	}
	return apt, nil
}

// List scopes the filters to the caller: patients see their own bookings,
// psychologists the bookings made with them, admins everything.
func (s *Service) List(ctx context.Context, caller model.Principal, filters model.AppointmentFilters) ([]*model.Appointment, error) {
	switch caller.Role {
	case model.RolePatient:
		filters.PatientID = caller.UserID
	case model.RolePsychologist:
		filters.PsychologistID = caller.UserID
	case model.RoleAdmin:
	default:
		return nil, apperrors.Forbidden("unknown role")
	}
	if err := validateRange(filters.From, filters.To); err != nil {
		return nil, err
	}

	list, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return list, nil
}

// Occupied returns the public view of a psychologist's bookings between
// from and to. Empty bounds cover today through the lookahead window, and
// to is pulled back so the span never exceeds MaxOccupiedDays.
func (s *Service) Occupied(ctx context.Context, psychologistID uuid.UUID, from, to string) ([]model.ExistingAppointment, error) {
	now := s.slots.Now()
	if from == "" {
		from = now.Format(model.DateLayout)
	}
	if to == "" {
		to = scheduling.LookaheadEnd(now, s.slots.LookaheadDays()).Format(model.DateLayout)
	}
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	to = clampSpan(from, to, MaxOccupiedDays)

	list, err := s.repo.ListForPsychologist(ctx, psychologistID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return list, nil
}

func (s *Service) Cancel(ctx context.Context, caller model.Principal, id uuid.UUID, reason string) (*model.Appointment, error) {
	apt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !participant(caller, apt) && !caller.IsAdmin() {
		return nil, apperrors.Forbidden("not a participant of this appointment")
	}
	if apt.Status.Closed() {
		return nil, apperrors.Conflict(fmt.Sprintf("appointment is already %s", apt.Status), nil)
	}

	apt.Status = model.AppointmentStatusCancelled
	if r := strings.TrimSpace(reason); r != "" {
		apt.CancelReason = &r
	}
	if err := s.transition(ctx, apt, model.EventAppointmentCancelled); err != nil {
		return nil, err
	}
	return apt, nil
}

func (s *Service) Confirm(ctx context.Context, caller model.Principal, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !(caller.Role == model.RolePsychologist && caller.UserID == apt.PsychologistID) {
		return nil, apperrors.Forbidden("only the psychologist can confirm this appointment")
	}
	if apt.Status != model.AppointmentStatusPending {
		return nil, apperrors.Conflict(fmt.Sprintf("cannot confirm a %s appointment", apt.Status), nil)
	}

	apt.Status = model.AppointmentStatusConfirmed
	if err := s.transition(ctx, apt, model.EventAppointmentConfirmed); err != nil {
		return nil, err
	}
	return apt, nil
}

func (s *Service) transition(ctx context.Context, apt *model.Appointment, eventType string) error {
	event, err := newEvent(eventType, apt)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, apt, event); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("appointment", err)
		}
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	s.logger.Info("appointment status changed",
		"appointment_id", apt.ID.String(),
		"status", string(apt.Status))
	return nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("appointment", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return apt, nil
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.BookingAttempts.WithLabelValues(outcome).Inc()
	}
}

func participant(caller model.Principal, apt *model.Appointment) bool {
	return caller.UserID == apt.PatientID || caller.UserID == apt.PsychologistID
}

func validateRange(from, to string) error {
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(model.DateLayout, d); err != nil {
			return apperrors.BadRequest(fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", d), err)
		}
	}
	if from != "" && to != "" && from > to {
		return apperrors.BadRequest("from must not be after to", nil)
	}
	return nil
}

// clampSpan expects dates already checked by validateRange.
func clampSpan(from, to string, days int) string {
	start, _ := time.Parse(model.DateLayout, from)
	end, _ := time.Parse(model.DateLayout, to)
	last := start.AddDate(0, 0, days-1)
	if end.After(last) {
		return last.Format(model.DateLayout)
	}
	return to
}

func newEvent(eventType string, apt *model.Appointment) (*model.OutboxEvent, error) {
	event, err := model.NewOutboxEvent(eventType, model.AppointmentEvent{
		AppointmentID:  apt.ID,
		PsychologistID: apt.PsychologistID,
		PatientID:      apt.PatientID,
		PatientEmail:   apt.PatientEmail,
		Date:           apt.Date,
		StartTime:      apt.StartTime,
		EndTime:        apt.EndTime,
		Status:         apt.Status,
		OccurredAt:     time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build %s event: %w", eventType, err)
	}
	return event, nil
}
