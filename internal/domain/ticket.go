package domain

import "time"

// TicketStatus is the lifecycle state of a single ticket
type TicketStatus string

const (
	TicketStatusFree        TicketStatus = "FREE"
	TicketStatusPreReserved TicketStatus = "PRE_RESERVED"
	TicketStatusReleased    TicketStatus = "RELEASED"
	TicketStatusPending     TicketStatus = "PENDING"
	TicketStatusToBePaid    TicketStatus = "TO_BE_PAID"
	TicketStatusAcquired    TicketStatus = "ACQUIRED"
	TicketStatusCancelled   TicketStatus = "CANCELLED"
	TicketStatusExpired     TicketStatus = "EXPIRED"
)

func (s TicketStatus) String() string {
	return string(s)
}

// FreeStatuses are the statuses a ticket may be selected from during
// allocation.
var FreeStatuses = []TicketStatus{TicketStatusFree, TicketStatusReleased}

// ConfirmedStatuses count toward promo code usage and sold inventory
var ConfirmedStatuses = []TicketStatus{TicketStatusAcquired, TicketStatusToBePaid}

// Ticket is a single seat-level inventory row. CategoryID is nil while the
// ticket sits in the shared pool of an event with unbounded categories.
type Ticket struct {
	ID            int64        `json:"id"`
	UUID          string       `json:"uuid"`
	EventID       int64        `json:"event_id"`
	CategoryID    *int64       `json:"category_id,omitempty"`
	ReservationID *string      `json:"reservation_id,omitempty"`
	Status        TicketStatus `json:"status"`
	SrcPriceCts   int64        `json:"src_price_cts"`
	FinalPriceCts int64        `json:"final_price_cts"`
	VatCts        int64        `json:"vat_cts"`
	DiscountCts   int64        `json:"discount_cts"`
	AccessTokenID *int64       `json:"access_token_id,omitempty"`
	FullName      string       `json:"full_name"`
	Email         string       `json:"email"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// TicketCategory groups tickets of an event under one price and access rule
type TicketCategory struct {
	ID               int64  `json:"id"`
	EventID          int64  `json:"event_id"`
	Name             string `json:"name"`
	// Bounded categories own a fixed slice of ticket rows; unbounded ones
	// draw from the event's shared pool.
	Bounded          bool  `json:"bounded"`
	AccessRestricted bool  `json:"access_restricted"`
	SrcPriceCts      int64 `json:"src_price_cts"`
	MaxTickets       int   `json:"max_tickets"`
}

// Event carries the pricing context every reservation snapshots
type Event struct {
	ID             int64     `json:"id"`
	ShortName      string    `json:"short_name"`
	DisplayName    string    `json:"display_name"`
	OrganizationID int64     `json:"organization_id"`
	Currency       string    `json:"currency"`
	VatRateBp      int64     `json:"vat_rate_bp"`
	VatStatus      VatStatus `json:"vat_status"`
	EndsAt         time.Time `json:"ends_at"`
}
