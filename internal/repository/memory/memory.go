// Package memory holds map-backed repositories for local runs and tests.
// They enforce the same slot uniqueness as the PostgreSQL index.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/scheduling"
)

// Store backs all three repositories so appointment writes and their
// outbox events share one lock.
type Store struct {
	mu           sync.RWMutex
	schedules    map[uuid.UUID]model.Schedule
	appointments map[uuid.UUID]model.Appointment
	outbox       []model.OutboxEvent
}

func NewStore() *Store {
	return &Store{
		schedules:    make(map[uuid.UUID]model.Schedule),
		appointments: make(map[uuid.UUID]model.Appointment),
	}
}

func (s *Store) Schedules() repository.ScheduleRepository       { return scheduleRepo{s} }
func (s *Store) Appointments() repository.AppointmentRepository { return appointmentRepo{s} }
func (s *Store) Outbox() repository.OutboxRepository             { return outboxRepo{s} }

// OutboxEvents returns a snapshot of every stored event in insertion order.
func (s *Store) OutboxEvents() []model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.OutboxEvent(nil), s.outbox...)
}

func (s *Store) outboxIndex(id uuid.UUID) int {
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			return i
		}
	}
	return -1
}

type scheduleRepo struct{ s *Store }

func (r scheduleRepo) Get(_ context.Context, psychologistID uuid.UUID) (*model.Schedule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sch, ok := r.s.schedules[psychologistID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &sch, nil
}

func (r scheduleRepo) Upsert(_ context.Context, schedule *model.Schedule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	schedule.UpdatedAt = time.Now().UTC()
	r.s.schedules[schedule.PsychologistID] = *schedule
	return nil
}

type appointmentRepo struct{ s *Store }

// slotTaken mirrors the slot index and the overlap constraint: a live
// booking may not share a start with, or overlap, another live booking.
func (s *Store) slotTaken(a *model.Appointment) bool {
	if !a.Status.Blocks() {
		return false
	}
	start, end, ok := bounds(a)
	if !ok {
		return false
	}
	for _, other := range s.appointments {
		if other.ID == a.ID || other.PsychologistID != a.PsychologistID || other.Date != a.Date || !other.Status.Blocks() {
			continue
		}
		otherStart, otherEnd, ok := bounds(&other)
		if !ok {
			continue
		}
		if otherStart == start || (start < otherEnd && otherStart < end) {
			return true
		}
	}
	return false
}

func bounds(a *model.Appointment) (scheduling.Clock, scheduling.Clock, bool) {
	start, err := scheduling.ParseClock(a.StartTime)
	if err != nil {
		return 0, 0, false
	}
	end, err := scheduling.ParseClock(a.EndTime)
	if err != nil {
		return 0, 0, false
	}
	return start, end, true
}

func (s *Store) putEvent(event *model.OutboxEvent) {
	if event == nil {
		return
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	now := time.Now().UTC()
	event.CreatedAt = now
	event.UpdatedAt = now
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}
	s.outbox = append(s.outbox, *event)
}

func (r appointmentRepo) CreateWithEvent(_ context.Context, appointment *model.Appointment, event *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	if r.s.slotTaken(appointment) {
		return repository.ErrDuplicate
	}
	now := time.Now().UTC()
	appointment.CreatedAt = now
	appointment.UpdatedAt = now
	r.s.appointments[appointment.ID] = *appointment
	r.s.putEvent(event)
	return nil
}

func (r appointmentRepo) Get(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.appointments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r appointmentRepo) List(_ context.Context, f model.AppointmentFilters) ([]*model.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*model.Appointment{}
	for _, a := range r.s.appointments {
		if f.PsychologistID != uuid.Nil && a.PsychologistID != f.PsychologistID {
			continue
		}
		if f.PatientID != uuid.Nil && a.PatientID != f.PatientID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.From != "" && a.Date < f.From {
			continue
		}
		if f.To != "" && a.Date > f.To {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (r appointmentRepo) ListForPsychologist(ctx context.Context, psychologistID uuid.UUID, from, to string) ([]model.ExistingAppointment, error) {
	list, err := r.List(ctx, model.AppointmentFilters{PsychologistID: psychologistID, From: from, To: to})
	if err != nil {
		return nil, err
	}
	out := make([]model.ExistingAppointment, 0, len(list))
	for _, a := range list {
		out = append(out, a.Existing())
	}
	return out, nil
}

func (r appointmentRepo) UpdateStatus(_ context.Context, appointment *model.Appointment, event *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.appointments[appointment.ID]
	if !ok {
		return repository.ErrNotFound
	}
	current.Status = appointment.Status
	current.CancelReason = appointment.CancelReason
	if r.s.slotTaken(&current) {
		return repository.ErrDuplicate
	}
	current.UpdatedAt = time.Now().UTC()
	appointment.UpdatedAt = current.UpdatedAt
	r.s.appointments[current.ID] = current
	r.s.putEvent(event)
	return nil
}

type outboxRepo struct{ s *Store }

func (r outboxRepo) GetPendingEventsWithLock(_ context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	claimUntil := now.Add(lease)
	out := []*model.OutboxEvent{}
	for i := range r.s.outbox {
		if limit > 0 && len(out) >= limit {
			break
		}
		e := &r.s.outbox[i]
		if e.Status != model.OutboxStatusPending && e.Status != model.OutboxStatusRetry {
			continue
		}
		if e.RetryAt != nil && e.RetryAt.After(now) {
			continue
		}
		returned := *e
		out = append(out, &returned)
		until := claimUntil
		e.RetryAt = &until
	}
	return out, nil
}

func (r outboxRepo) UpdateStatus(_ context.Context, event *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	i := r.s.outboxIndex(event.ID)
	if i < 0 {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	current := &r.s.outbox[i]
	current.Status = event.Status
	current.ErrorMessage = event.ErrorMessage
	current.RetryCount = event.RetryCount
	current.RetryAt = event.RetryAt
	current.UpdatedAt = now
	if event.Status == model.OutboxStatusProcessed {
		current.ProcessedAt = &now
	}
	return nil
}

func (r outboxRepo) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	kept := r.s.outbox[:0]
	var n int64
	for _, e := range r.s.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.s.outbox = kept
	return n, nil
}
