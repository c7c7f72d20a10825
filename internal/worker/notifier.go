package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/email"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/logger"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/messaging"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/metrics"
)

var notificationKinds = map[string]email.Kind{
	model.EventAppointmentCreated:   email.KindCreated,
	model.EventAppointmentConfirmed: email.KindConfirmed,
	model.EventAppointmentCancelled: email.KindCancelled,
}

// Notifier consumes appointment events, e-mails the patient and keeps the
// reminder task in step with the appointment.
type Notifier struct {
	broker    messaging.Broker
	sender    email.Sender
	reminders ReminderScheduler
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

// NewNotifier builds a notifier. reminders may be nil.
func NewNotifier(broker messaging.Broker, sender email.Sender, reminders ReminderScheduler, logger *logger.Logger, metrics *metrics.Metrics) *Notifier {
	return &Notifier{
		broker:    broker,
		sender:    sender,
		reminders: reminders,
		logger:    logger,
		metrics:   metrics,
	}
}

// Start blocks until ctx is done or the subscription closes.
func (n *Notifier) Start(ctx context.Context) error {
	msgs, err := n.broker.Subscribe(ctx,
		model.EventAppointmentCreated,
		model.EventAppointmentConfirmed,
		model.EventAppointmentCancelled,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	n.logger.Info("Starting notifier")
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("Shutting down notifier")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := n.Handle(ctx, msg); err != nil {
				n.logger.Error(err, "Failed to handle event", "channel", msg.Channel)
			}
		}
	}
}

func (n *Notifier) Handle(ctx context.Context, msg messaging.Message) error {
	kind, ok := notificationKinds[msg.Channel]
	if !ok {
		return fmt.Errorf("unexpected channel %q", msg.Channel)
	}

	var event model.AppointmentEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("invalid appointment event: %w", err)
	}

	var sendErr error
	if event.PatientEmail != "" {
		sendErr = deliver(ctx, n.sender, kind, event.PatientEmail, email.SessionData{
			Date:      event.Date,
			StartTime: event.StartTime,
			EndTime:   event.EndTime,
		}, n.metrics)
	}

	if n.reminders != nil {
		var err error
		if kind == email.KindCancelled {
			err = n.reminders.Cancel(ctx, event.AppointmentID)
		} else {
			err = n.reminders.Schedule(ctx, event)
		}
		if err != nil {
			return err
		}
	}
	return sendErr
}
