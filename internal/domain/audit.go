package domain

import "time"

// AuditEventType identifies what happened to a reservation
type AuditEventType string

const (
	AuditReservationCreate   AuditEventType = "RESERVATION_CREATE"
	AuditReservationComplete AuditEventType = "RESERVATION_COMPLETE"
	AuditReservationCancel   AuditEventType = "RESERVATION_CANCEL"
	AuditReservationExpire   AuditEventType = "RESERVATION_EXPIRE"
	AuditReservationStuck    AuditEventType = "RESERVATION_STUCK"
	AuditPaymentConfirmed    AuditEventType = "PAYMENT_CONFIRMED"
	AuditPaymentFailed       AuditEventType = "PAYMENT_FAILED"
	AuditAccessTokenReset    AuditEventType = "ACCESS_TOKEN_RESET"
	AuditCreditNoteIssued    AuditEventType = "CREDIT_NOTE_ISSUED"
	AuditTicketUpdate        AuditEventType = "TICKET_UPDATE"
	AuditTicketRelease       AuditEventType = "TICKET_RELEASE"
	AuditBillingDataUpdate   AuditEventType = "BILLING_DATA_UPDATE"
)

// FieldChange records one attribute mutation. Audit callers enumerate
// changes explicitly; nothing is diffed by reflection.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// AuditEntry is one append-only audit record
type AuditEntry struct {
	ID            int64          `json:"id"`
	ReservationID string         `json:"reservation_id"`
	EventType     AuditEventType `json:"event_type"`
	Actor         string         `json:"actor"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	Changes       []FieldChange  `json:"changes,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
