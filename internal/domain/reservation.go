package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus is the lifecycle state of a ticket reservation
type ReservationStatus string

const (
	ReservationStatusPending          ReservationStatus = "PENDING"
	ReservationStatusInPayment        ReservationStatus = "IN_PAYMENT"
	ReservationStatusOfflinePayment   ReservationStatus = "OFFLINE_PAYMENT"
	ReservationStatusComplete         ReservationStatus = "COMPLETE"
	ReservationStatusStuck            ReservationStatus = "STUCK"
	ReservationStatusCancelled        ReservationStatus = "CANCELLED"
	ReservationStatusCreditNoteIssued ReservationStatus = "CREDIT_NOTE_ISSUED"
)

func (s ReservationStatus) String() string {
	return string(s)
}

// IsFinal reports whether no further lifecycle transition is expected
func (s ReservationStatus) IsFinal() bool {
	return s == ReservationStatusComplete ||
		s == ReservationStatusCancelled ||
		s == ReservationStatusCreditNoteIssued
}

// PaymentMethod is the tagged set of supported payment flows.
// Capabilities are answered by methods on the value, not by a registry.
type PaymentMethod string

const (
	PaymentMethodOnline  PaymentMethod = "ONLINE"
	PaymentMethodOffline PaymentMethod = "OFFLINE"
	PaymentMethodOnSite  PaymentMethod = "ON_SITE"
	PaymentMethodAdmin   PaymentMethod = "ADMIN"
	PaymentMethodNone    PaymentMethod = "NONE"
)

func (m PaymentMethod) String() string {
	return string(m)
}

// IsValid reports whether m is one of the known methods
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodOnline, PaymentMethodOffline, PaymentMethodOnSite,
		PaymentMethodAdmin, PaymentMethodNone:
		return true
	}
	return false
}

// RequiresUpfrontMarking reports whether the reservation must be moved to
// IN_PAYMENT before the provider is contacted.
func (m PaymentMethod) RequiresUpfrontMarking() bool {
	return m == PaymentMethodOnline
}

// RequiresDeskPayment reports whether tickets settle at the venue desk,
// leaving them TO_BE_PAID instead of ACQUIRED on confirmation.
func (m PaymentMethod) RequiresDeskPayment() bool {
	return m == PaymentMethodOnSite
}

// SettlesImmediately reports whether a successful payment call means the
// money side is done.
func (m PaymentMethod) SettlesImmediately() bool {
	return m == PaymentMethodOnline || m == PaymentMethodAdmin || m == PaymentMethodNone
}

// DeferredSettlement reports whether the reservation waits for an out-of-band
// bank transfer.
func (m PaymentMethod) DeferredSettlement() bool {
	return m == PaymentMethodOffline
}

// Reservation is a short-lived hold over a set of tickets that either
// converts into a confirmed purchase or releases its inventory.
type Reservation struct {
	ID               string            `json:"id"`
	EventID          int64             `json:"event_id"`
	Status           ReservationStatus `json:"status"`
	CustomerName     string            `json:"customer_name"`
	CustomerEmail    string            `json:"customer_email"`
	Locale           string            `json:"locale"`
	PaymentMethod    PaymentMethod     `json:"payment_method"`
	PromoCodeID      *int64            `json:"promo_code_id,omitempty"`
	VatStatus        VatStatus         `json:"vat_status"`
	VatRateBp        int64             `json:"vat_rate_bp"`
	InvoiceRequested bool              `json:"invoice_requested"`
	InvoiceNumber    *string           `json:"invoice_number,omitempty"`
	BillingAddress   string            `json:"billing_address"`
	VatNumber        string            `json:"vat_number"`
	ReminderSent     bool              `json:"reminder_sent"`
	CreatedAt        time.Time         `json:"created_at"`
	ExpiresAt        time.Time         `json:"expires_at"`
	RegistrationAt   *time.Time        `json:"registration_at,omitempty"`
}

// NewReservation creates a PENDING reservation valid until expiresAt
func NewReservation(eventID int64, expiresAt time.Time, locale string) *Reservation {
	return &Reservation{
		ID:        uuid.New().String(),
		EventID:   eventID,
		Status:    ReservationStatusPending,
		Locale:    locale,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
}

// IsExpired reports whether the hold has passed its deadline
func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// NotPaidTransactionID is recorded as the provider transaction for
// reservations that complete without money movement.
const NotPaidTransactionID = "not-paid"
