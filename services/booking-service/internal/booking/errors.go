package booking

import "errors"

var (
	// ErrInvalidSchedule means the requested interval does not fit any open
	// schedule range for that date.
	ErrInvalidSchedule = errors.New("slot outside open schedule")

	// ErrSlotUnavailable means the slot was taken by the time the request
	// tried to reserve it. Recoverable: offer the client a fresh slot list.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrSlotNoLongerAvailable means the conflict surfaced at
	// deposit-confirmation time. The appointment stays in awaiting_deposit
	// and an operator alert is emitted; it is never silently dropped.
	ErrSlotNoLongerAvailable = errors.New("slot no longer available")

	// ErrCalendarSync means the internal state committed but the external
	// calendar write failed. Degraded, retried in the background.
	ErrCalendarSync = errors.New("calendar sync failed")

	ErrInvalidTransition = errors.New("invalid appointment transition")

	ErrNotFound = errors.New("appointment not found")
)
