package email

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
)

var ErrNoRecipient = errors.New("email: no recipient")

type Kind string

const (
	KindCreated   Kind = "created"
	KindConfirmed Kind = "confirmed"
	KindCancelled Kind = "cancelled"
	KindReminder  Kind = "reminder"
)

// SessionData fills the appointment templates.
type SessionData struct {
	Date      string
	StartTime string
	EndTime   string
}

type message struct {
	subject string
	body    *template.Template
}

var messages = map[Kind]message{
	KindCreated: {
		subject: "Solicitud de cita recibida",
		body: template.Must(template.New("created").Parse(
			"Tu solicitud de cita para el {{.Date}} de {{.StartTime}} a {{.EndTime}} fue recibida.\n" +
				"Te avisaremos cuando el psicólogo la confirme.\n")),
	},
	KindConfirmed: {
		subject: "Cita confirmada",
		body: template.Must(template.New("confirmed").Parse(
			"Tu cita del {{.Date}} de {{.StartTime}} a {{.EndTime}} está confirmada.\n")),
	},
	KindCancelled: {
		subject: "Cita cancelada",
		body: template.Must(template.New("cancelled").Parse(
			"Tu cita del {{.Date}} de {{.StartTime}} a {{.EndTime}} fue cancelada.\n")),
	},
	KindReminder: {
		subject: "Recordatorio de cita",
		body: template.Must(template.New("reminder").Parse(
			"Te recordamos tu cita del {{.Date}} a las {{.StartTime}}.\n")),
	},
}

// Render returns subject and body for kind.
func Render(kind Kind, data SessionData) (string, string, error) {
	msg, ok := messages[kind]
	if !ok {
		return "", "", fmt.Errorf("email: unknown message kind %q", kind)
	}
	var buf bytes.Buffer
	if err := msg.body.Execute(&buf, data); err != nil {
		return "", "", err
	}
	return msg.subject, buf.String(), nil
}
