package booking

import (
	"encoding/json"
	"time"

	"github.com/slotpage/slotpage/services/booking-service/internal/model"
	"github.com/slotpage/slotpage/services/booking-service/internal/outbox"
	"github.com/slotpage/slotpage/services/booking-service/internal/reminders"
	"github.com/slotpage/slotpage/services/booking-service/internal/scheduling"
)

const (
	TopicAppointmentRequested   = "booking.appointment.requested"
	TopicAppointmentConfirmed   = "booking.appointment.confirmed"
	TopicAppointmentCancelled   = "booking.appointment.cancelled"
	TopicAppointmentRescheduled = "booking.appointment.rescheduled"
	TopicDepositDue             = "booking.deposit.due"
	TopicDepositConflict        = "booking.deposit.conflict"
)

func appointmentEvent(eventType string, appt model.Appointment, extra map[string]any) outbox.Event {
	body := map[string]any{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"service_id":     appt.ServiceID,
		"worker_id":      appt.WorkerID,
		"client_name":    appt.ClientName,
		"client_email":   appt.ClientEmail,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"state":          string(appt.State),
	}
	for k, v := range extra {
		body[k] = v
	}
	payload, _ := json.Marshal(body)
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}
}

// reminderJobs schedules the policy's reminder offsets for a confirmed
// appointment, skipping offsets already in the past.
func reminderJobs(appt model.Appointment, policy scheduling.Policy, serviceName string, now time.Time) []reminders.Job {
	var jobs []reminders.Job
	for _, offset := range policy.ReminderOffsetsMinutes {
		remindAt := appt.StartTime.Add(-time.Duration(offset) * time.Minute)
		if !remindAt.After(now) {
			continue
		}
		jobs = append(jobs, reminders.Job{
			AppointmentID: appt.ID,
			BusinessID:    appt.BusinessID,
			Channel:       "email",
			Recipient:     appt.ClientEmail,
			RemindAt:      remindAt,
			TemplateData: map[string]any{
				"client_name":  appt.ClientName,
				"service_name": serviceName,
				"start_time":   appt.StartTime.UTC().Format(time.RFC3339),
			},
		})
	}
	return jobs
}
