package domain

import "time"

// ReservationEventType identifies a lifecycle event published to extensions
type ReservationEventType string

const (
	ReservationEventConfirmed  ReservationEventType = "reservation.confirmed"
	ReservationEventCancelled  ReservationEventType = "reservation.cancelled"
	ReservationEventExpired    ReservationEventType = "reservation.expired"
	ReservationEventStuck      ReservationEventType = "reservation.stuck"
	ReservationEventCreditNote ReservationEventType = "reservation.credit_note"
)

// ReservationEvent is the envelope published on reservation lifecycle
// transitions. Delivery is best-effort; consumers must tolerate replays.
type ReservationEvent struct {
	EventID       string               `json:"event_id"`
	Type          ReservationEventType `json:"type"`
	ReservationID string               `json:"reservation_id"`
	TicketEventID int64                `json:"ticket_event_id"`
	Status        ReservationStatus    `json:"status"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// Key returns the partition key; all events of one reservation stay ordered
func (e *ReservationEvent) Key() string {
	return e.ReservationID
}
