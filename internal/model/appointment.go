package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusRejected  AppointmentStatus = "rejected"
)

// Blocks reports whether an appointment in this status occupies its slot.
// Unknown statuses block.
func (s AppointmentStatus) Blocks() bool {
	switch s {
	case AppointmentStatusCancelled, AppointmentStatusRejected:
		return false
	}
	return true
}

// Closed reports whether the appointment can no longer change.
func (s AppointmentStatus) Closed() bool {
	switch s {
	case AppointmentStatusCancelled, AppointmentStatusCompleted, AppointmentStatusRejected:
		return true
	}
	return false
}

type Appointment struct {
	Base
	PsychologistID uuid.UUID         `db:"psychologist_id" json:"psychologist"`
	PatientID      uuid.UUID         `db:"patient_id" json:"patient"`
	PatientEmail   string            `db:"patient_email" json:"-"`
	Date           string            `db:"date" json:"date"`
	StartTime      string            `db:"start_time" json:"start_time"`
	EndTime        string            `db:"end_time" json:"end_time"`
	Status         AppointmentStatus `db:"status" json:"status"`
	Notes          string            `db:"notes" json:"notes,omitempty"`
	CancelReason   *string           `db:"cancel_reason" json:"cancel_reason,omitempty"`
}

// Existing strips an appointment down to what blocks slots.
func (a *Appointment) Existing() ExistingAppointment {
	return ExistingAppointment{
		Date:      a.Date,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Status:    a.Status,
	}
}

// ExistingAppointment is the read-only view of a booking used to exclude
// overlapping slots. Times are "HH:MM:SS".
type ExistingAppointment struct {
	Date      string            `db:"date" json:"date"`
	StartTime string            `db:"start_time" json:"start_time"`
	EndTime   string            `db:"end_time" json:"end_time"`
	Status    AppointmentStatus `db:"status" json:"status"`
}

type CreateAppointmentRequest struct {
	PsychologistID uuid.UUID `json:"psychologist" validate:"required"`
	Date           string    `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime      string    `json:"start_time" validate:"required,clock"`
	EndTime        string    `json:"end_time" validate:"required,clock"`
	Notes          string    `json:"notes,omitempty" validate:"max=1000"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// BookableSlot is a concrete interval offered for booking, "HH:MM" times.
type BookableSlot struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// DaySlots groups the bookable slots of one date.
type DaySlots struct {
	Date  string         `json:"date"`
	Slots []BookableSlot `json:"slots"`
}

type AppointmentFilters struct {
	PsychologistID uuid.UUID
	PatientID      uuid.UUID
	Status         AppointmentStatus
	From           string
	To             string
}

// AppointmentEvent is the outbox payload for appointment state changes.
type AppointmentEvent struct {
	AppointmentID  uuid.UUID         `json:"appointment_id"`
	PsychologistID uuid.UUID         `json:"psychologist_id"`
	PatientID      uuid.UUID         `json:"patient_id"`
	PatientEmail   string            `json:"patient_email"`
	Date           string            `json:"date"`
	StartTime      string            `json:"start_time"`
	EndTime        string            `json:"end_time"`
	Status         AppointmentStatus `json:"status"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

const (
	EventAppointmentCreated   = "appointment.created"
	EventAppointmentConfirmed = "appointment.confirmed"
	EventAppointmentCancelled = "appointment.cancelled"
)
