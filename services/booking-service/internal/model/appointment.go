package model

import "time"

// State is the lifecycle state of an appointment. Transitions are monotonic:
// once cancelled an appointment never leaves that state, and confirmed can
// only be cancelled (a reschedule keeps the confirmed state and re-validates
// the new interval as a fresh booking).
type State string

const (
	// StatePending awaits manual approval by the business.
	StatePending State = "pending"
	// StateAwaitingDeposit is approved subject to deposit payment.
	StateAwaitingDeposit State = "awaiting_deposit"
	// StateConfirmed is approved and placed on the calendar.
	StateConfirmed State = "confirmed"
	// StateCancelled is terminal; cancelled rows are retained for history.
	StateCancelled State = "cancelled"
)

func (s State) Valid() bool {
	switch s {
	case StatePending, StateAwaitingDeposit, StateConfirmed, StateCancelled:
		return true
	}
	return false
}

func (s State) Terminal() bool { return s == StateCancelled }

// CanTransitionTo reports whether the state machine permits moving to next.
func (s State) CanTransitionTo(next State) bool {
	switch s {
	case StatePending:
		return next == StateAwaitingDeposit || next == StateConfirmed || next == StateCancelled
	case StateAwaitingDeposit:
		return next == StateConfirmed || next == StateCancelled
	case StateConfirmed:
		return next == StateCancelled
	default:
		return false
	}
}

// InitialState decides where a fresh appointment request starts. The deposit
// policy takes precedence: a business that requires a deposit gets
// awaiting_deposit even with manual confirmation disabled.
func InitialState(requireManualConfirmation, requestDeposit bool) State {
	switch {
	case requestDeposit:
		return StateAwaitingDeposit
	case requireManualConfirmation:
		return StatePending
	default:
		return StateConfirmed
	}
}

// Appointment is the authoritative booking record. It is created once and
// then mutated only through lifecycle transitions; cancelled rows are never
// deleted.
type Appointment struct {
	ID         string
	BusinessID string
	// WorkerID is the worker the client asked for, possibly assigned by the
	// any-worker policy. Informational under single-resource mode.
	WorkerID  string
	ServiceID string
	// ResourceScope is the exclusivity unit for conflict checks: empty for
	// the whole business (single-resource mode), a worker ID under
	// per-worker mode.
	ResourceScope string

	ClientName  string
	ClientEmail string
	ClientPhone string

	StartTime time.Time
	EndTime   time.Time
	State     State

	DepositRequired    bool
	DepositPaid        bool
	DepositAmountCents int64

	// CalendarEventRef points at the external calendar event, when one was
	// created. CalendarSyncPending marks a confirmed appointment whose
	// external write failed and is being retried.
	CalendarEventRef    string
	CalendarSyncPending bool

	CancelReason string
	CancelledAt  *time.Time
	CreatedAt    time.Time
}

// DurationMinutes derives the booked service duration from the interval.
func (a Appointment) DurationMinutes() int {
	return int(a.EndTime.Sub(a.StartTime) / time.Minute)
}
