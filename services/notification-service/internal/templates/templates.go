// Package templates renders the outgoing message for each booking event
// type. Payload fields are best-effort: a missing field degrades the copy,
// it never fails the render.
package templates

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

type Message struct {
	Subject string
	Body    string
}

type Data map[string]any

var funcs = template.FuncMap{
	// datetime turns an RFC3339 payload field into readable copy, passing
	// through anything it cannot parse.
	"datetime": func(v any) string {
		s, ok := v.(string)
		if !ok {
			return fmt.Sprint(v)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return s
		}
		return t.Format("Monday, 2 January 2006 at 15:04 MST")
	},
	"or_default": func(v any, fallback string) string {
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return fallback
		}
		return s
	},
}

type entry struct {
	subject string
	body    string
}

var registry = map[string]entry{
	"booking.appointment.requested": {
		subject: "We received your booking request",
		body: `Hi {{or_default .client_name "there"}},

Your booking request for {{datetime .start_time}} is in. We'll let you know as soon as it is confirmed.`,
	},
	"booking.appointment.confirmed": {
		subject: "Your appointment is confirmed",
		body: `Hi {{or_default .client_name "there"}},

Your appointment on {{datetime .start_time}} is confirmed. See you then!`,
	},
	"booking.appointment.cancelled": {
		subject: "Your appointment was cancelled",
		body: `Hi {{or_default .client_name "there"}},

Your appointment on {{datetime .start_time}} has been cancelled. If this wasn't you, please get in touch to rebook.`,
	},
	"booking.appointment.rescheduled": {
		subject: "Your appointment was rescheduled",
		body: `Hi {{or_default .client_name "there"}},

Your appointment has moved to {{datetime .start_time}}.{{if .previous_start_time}} It was previously scheduled for {{datetime .previous_start_time}}.{{end}}`,
	},
	"booking.deposit.due": {
		subject: "Deposit required to confirm your appointment",
		body: `Hi {{or_default .client_name "there"}},

Your appointment on {{datetime .start_time}} is being held for you. Please pay the deposit to confirm it; the slot is released if the deposit is not received.`,
	},
	"booking.reminder.due": {
		subject: "Appointment reminder",
		body: `Hi {{or_default .client_name "there"}},

This is a reminder for your {{or_default .service_name "appointment"}} on {{datetime .start_time}}.`,
	},
	"booking.calendar.sync_failed": {
		subject: "Calendar sync needs attention",
		body: `An appointment could not be written to the external calendar after repeated attempts.

Appointment: {{.appointment_id}}
Business: {{.business_id}}

The booking itself is intact; the calendar entry must be fixed by hand.`,
	},
	"booking.deposit.conflict": {
		subject: "Deposit paid for a slot that is no longer free",
		body: `A client paid a deposit but the slot was taken in the meantime.

Appointment: {{.appointment_id}}
Business: {{.business_id}}
Requested time: {{datetime .start_time}}

The appointment was left awaiting confirmation. Please contact the client to resolve or refund.`,
	},
}

var compiled = func() map[string]struct{ subject, body *template.Template } {
	out := make(map[string]struct{ subject, body *template.Template }, len(registry))
	for name, e := range registry {
		out[name] = struct{ subject, body *template.Template }{
			subject: template.Must(template.New(name + ".subject").Funcs(funcs).Parse(e.subject)),
			body:    template.Must(template.New(name + ".body").Funcs(funcs).Parse(e.body)),
		}
	}
	return out
}()

// Supported reports whether eventType has a registered template.
func Supported(eventType string) bool {
	_, ok := compiled[eventType]
	return ok
}

func Render(eventType string, data Data) (Message, error) {
	tpl, ok := compiled[eventType]
	if !ok {
		return Message{}, fmt.Errorf("no template for event type %q", eventType)
	}
	var subject, body strings.Builder
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	return Message{Subject: subject.String(), Body: body.String()}, nil
}
