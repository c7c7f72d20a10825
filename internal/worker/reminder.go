package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/scheduling"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/email"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/logger"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/metrics"
)

const TypeAppointmentReminder = "appointment:reminder"

type ReminderPayload struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientEmail  string    `json:"patient_email"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
}

// ReminderScheduler books and withdraws the pre-session reminder of an
// appointment. Both operations are idempotent.
type ReminderScheduler interface {
	Schedule(ctx context.Context, event model.AppointmentEvent) error
	Cancel(ctx context.Context, appointmentID uuid.UUID) error
}

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type TaskDeleter interface {
	DeleteTask(queue, id string) error
}

type ReminderConfig struct {
	Queue    string
	Before   time.Duration
	Location *time.Location
}

// AsynqReminders keys each reminder task by appointment ID so a
// confirmation after creation does not enqueue twice.
type AsynqReminders struct {
	client    Enqueuer
	inspector TaskDeleter
	config    ReminderConfig
	now       func() time.Time
}

func NewAsynqReminders(client Enqueuer, inspector TaskDeleter, config ReminderConfig) *AsynqReminders {
	if config.Queue == "" {
		config.Queue = "default"
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &AsynqReminders{client: client, inspector: inspector, config: config, now: time.Now}
}

// NewReminderTask builds the task and the time it should fire.
func NewReminderTask(event model.AppointmentEvent, before time.Duration, loc *time.Location) (*asynq.Task, time.Time, error) {
	day, err := time.ParseInLocation(model.DateLayout, event.Date, loc)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("invalid appointment date %q: %w", event.Date, err)
	}
	start, err := scheduling.ParseClock(event.StartTime)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("invalid appointment start %q: %w", event.StartTime, err)
	}

	payload, err := json.Marshal(ReminderPayload{
		AppointmentID: event.AppointmentID,
		PatientEmail:  event.PatientEmail,
		Date:          event.Date,
		StartTime:     event.StartTime,
		EndTime:       event.EndTime,
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return asynq.NewTask(TypeAppointmentReminder, payload), start.On(day).Add(-before), nil
}

func (r *AsynqReminders) Schedule(ctx context.Context, event model.AppointmentEvent) error {
	task, fireAt, err := NewReminderTask(event, r.config.Before, r.config.Location)
	if err != nil {
		return err
	}
	if !fireAt.After(r.now()) {
		return nil
	}

	_, err = r.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(fireAt),
		asynq.TaskID(event.AppointmentID.String()),
		asynq.Queue(r.config.Queue),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("failed to enqueue reminder: %w", err)
	}
	return nil
}

func (r *AsynqReminders) Cancel(_ context.Context, appointmentID uuid.UUID) error {
	err := r.inspector.DeleteTask(r.config.Queue, appointmentID.String())
	if err == nil || errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return fmt.Errorf("failed to delete reminder: %w", err)
}

// ReminderHandler sends the reminder e-mail when the task fires.
type ReminderHandler struct {
	sender  email.Sender
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewReminderHandler(sender email.Sender, logger *logger.Logger, metrics *metrics.Metrics) *ReminderHandler {
	return &ReminderHandler{sender: sender, logger: logger, metrics: metrics}
}

func (h *ReminderHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p ReminderPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid reminder payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.PatientEmail == "" {
		h.logger.Warn("Reminder without recipient", "appointment_id", p.AppointmentID.String())
		return nil
	}

	err := deliver(ctx, h.sender, email.KindReminder, p.PatientEmail, email.SessionData{
		Date:      p.Date,
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
	}, h.metrics)
	if err != nil {
		return err
	}
	h.logger.Info("Reminder sent", "appointment_id", p.AppointmentID.String())
	return nil
}

// NewServeMux routes reminder tasks to h.
func NewServeMux(h *ReminderHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeAppointmentReminder, h)
	return mux
}

func deliver(ctx context.Context, sender email.Sender, kind email.Kind, to string, data email.SessionData, m *metrics.Metrics) error {
	subject, body, err := email.Render(kind, data)
	if err != nil {
		return err
	}
	if err := sender.Send(ctx, to, subject, body); err != nil {
		m.NotificationsSent.WithLabelValues(string(kind), "error").Inc()
		return err
	}
	m.NotificationsSent.WithLabelValues(string(kind), "sent").Inc()
	return nil
}
