package domain

// DiscountType distinguishes how a promo code reduces the price
type DiscountType string

const (
	// DiscountTypePercentage applies per qualifying item; Amount is a
	// percentage (0-100).
	DiscountTypePercentage DiscountType = "PERCENTAGE"
	// DiscountTypeFixedAmount applies once per qualifying reservation;
	// Amount is in cents.
	DiscountTypeFixedAmount DiscountType = "FIXED_AMOUNT"
)

// PromoCode is a discount attached to an event, optionally limited to a set
// of categories and a maximum number of confirmed uses.
type PromoCode struct {
	ID           int64        `json:"id"`
	EventID      int64        `json:"event_id"`
	Code         string       `json:"code"`
	DiscountType DiscountType `json:"discount_type"`
	Amount       int64        `json:"amount"`
	// Categories limits applicability; empty means every category qualifies
	Categories []int64 `json:"categories,omitempty"`
	// MaxUsage caps confirmed uses across all reservations; nil means unlimited
	MaxUsage *int `json:"max_usage,omitempty"`
}

// AppliesTo reports whether tickets of the given category qualify
func (p *PromoCode) AppliesTo(categoryID int64) bool {
	if len(p.Categories) == 0 {
		return true
	}
	for _, id := range p.Categories {
		if id == categoryID {
			return true
		}
	}
	return false
}
