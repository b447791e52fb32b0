package templates

import (
	"strings"
	"testing"
)

func TestRenderConfirmed(t *testing.T) {
	msg, err := Render("booking.appointment.confirmed", Data{
		"client_name": "Sam",
		"start_time":  "2030-06-03T13:00:00Z",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.Subject != "Your appointment is confirmed" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Hi Sam") {
		t.Fatalf("expected greeting in body: %q", msg.Body)
	}
	if !strings.Contains(msg.Body, "Monday, 3 June 2030 at 13:00 UTC") {
		t.Fatalf("expected formatted start time in body: %q", msg.Body)
	}
}

func TestRenderMissingFieldsDegradesGracefully(t *testing.T) {
	msg, err := Render("booking.reminder.due", Data{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(msg.Body, "Hi there") {
		t.Fatalf("expected fallback greeting: %q", msg.Body)
	}
	if !strings.Contains(msg.Body, "your appointment") {
		t.Fatalf("expected fallback service name: %q", msg.Body)
	}
}

func TestRenderRescheduledMentionsPreviousTime(t *testing.T) {
	msg, err := Render("booking.appointment.rescheduled", Data{
		"client_name":         "Sam",
		"start_time":          "2030-06-03T15:00:00Z",
		"previous_start_time": "2030-06-03T13:00:00Z",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(msg.Body, "previously scheduled") {
		t.Fatalf("expected previous time mention: %q", msg.Body)
	}
}

func TestRenderUnknownEventType(t *testing.T) {
	if _, err := Render("booking.appointment.exploded", nil); err == nil {
		t.Fatal("expected error for unknown event type")
	}
	if Supported("booking.appointment.exploded") {
		t.Fatal("unknown type should not be supported")
	}
	if !Supported("booking.deposit.due") {
		t.Fatal("deposit.due should be supported")
	}
}

func TestEveryTemplateRenders(t *testing.T) {
	data := Data{
		"appointment_id": "appt-1",
		"business_id":    "biz-1",
		"client_name":    "Sam",
		"service_name":   "Haircut",
		"start_time":     "2030-06-03T13:00:00Z",
	}
	for name := range registry {
		if _, err := Render(name, data); err != nil {
			t.Fatalf("template %s failed: %v", name, err)
		}
	}
}
