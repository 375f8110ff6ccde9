package domain

// AddonService is an optional extra (parking, merchandise, donation) sold
// alongside tickets of an event.
type AddonService struct {
	ID          int64     `json:"id"`
	EventID     int64     `json:"event_id"`
	Name        string    `json:"name"`
	SrcPriceCts int64     `json:"src_price_cts"`
	VatStatus   VatStatus `json:"vat_status"`
}

// AddonItemStatus mirrors the ticket lifecycle for addon items
type AddonItemStatus string

const (
	AddonItemStatusPending   AddonItemStatus = "PENDING"
	AddonItemStatusToBePaid  AddonItemStatus = "TO_BE_PAID"
	AddonItemStatusAcquired  AddonItemStatus = "ACQUIRED"
	AddonItemStatusCancelled AddonItemStatus = "CANCELLED"
	AddonItemStatusExpired   AddonItemStatus = "EXPIRED"
)

func (s AddonItemStatus) String() string {
	return string(s)
}

// AddonItem is one purchased unit of an addon service
type AddonItem struct {
	ID            int64           `json:"id"`
	UUID          string          `json:"uuid"`
	ServiceID     int64           `json:"service_id"`
	ReservationID *string         `json:"reservation_id,omitempty"`
	Status        AddonItemStatus `json:"status"`
	SrcPriceCts   int64           `json:"src_price_cts"`
	FinalPriceCts int64           `json:"final_price_cts"`
	VatCts        int64           `json:"vat_cts"`
	DiscountCts   int64           `json:"discount_cts"`
}
