package domain

// All money is integer cents. VAT rates are basis points (2200 = 22%).
// Rounding is half-up on non-negative values, matching what a billing
// document renders.

// VatStatus describes how VAT relates to the source price
type VatStatus string

const (
	// VatStatusIncluded means the source price already contains VAT
	VatStatusIncluded VatStatus = "INCLUDED"
	// VatStatusNotIncluded means VAT is added on top of the source price
	VatStatusNotIncluded VatStatus = "NOT_INCLUDED"
	// VatStatusNone means no VAT applies to the event
	VatStatusNone VatStatus = "NONE"
	// VatStatusExempt means the buyer is exempt from VAT
	VatStatusExempt VatStatus = "EXEMPT"
)

// PriceDetail is the priced breakdown of a single item
type PriceDetail struct {
	SrcPriceCts   int64 `json:"src_price_cts"`
	FinalPriceCts int64 `json:"final_price_cts"`
	VatCts        int64 `json:"vat_cts"`
	DiscountCts   int64 `json:"discount_cts"`
}

// TotalPrice aggregates the priced items of a reservation.
// DiscountCts is zero or negative.
type TotalPrice struct {
	PriceWithVATCts      int64  `json:"price_with_vat_cts"`
	VatCts               int64  `json:"vat_cts"`
	DiscountCts          int64  `json:"discount_cts"`
	DiscountAppliedCount int    `json:"discount_applied_count"`
	Currency             string `json:"currency"`
}

// RequiresPayment reports whether any money has to move
func (t TotalPrice) RequiresPayment() bool {
	return t.PriceWithVATCts > 0
}

// NetCts returns the charged total minus the VAT portion
func (t TotalPrice) NetCts() int64 {
	return t.PriceWithVATCts - t.VatCts
}

// PriceItem prices one item. A percentage promo is applied to the source
// price before VAT handling when qualifies is true; fixed-amount promos are
// reservation-level and handled by ComputeTotal.
func PriceItem(srcPriceCts int64, vatStatus VatStatus, vatRateBp int64, promo *PromoCode, qualifies bool) PriceDetail {
	detail := PriceDetail{SrcPriceCts: srcPriceCts}

	base := srcPriceCts
	if promo != nil && qualifies && promo.DiscountType == DiscountTypePercentage {
		detail.DiscountCts = roundDiv(srcPriceCts*promo.Amount, 100)
		base = srcPriceCts - detail.DiscountCts
	}

	switch vatStatus {
	case VatStatusIncluded:
		net := roundDiv(base*10000, 10000+vatRateBp)
		detail.FinalPriceCts = base
		detail.VatCts = base - net
	case VatStatusNotIncluded:
		detail.VatCts = roundDiv(base*vatRateBp, 10000)
		detail.FinalPriceCts = base + detail.VatCts
	default:
		detail.FinalPriceCts = base
	}

	return detail
}

// ComputeTotal aggregates priced items and applies a fixed-amount promo once
// per reservation. qualifyingCount is the number of items the promo applies
// to; it drives the applied count (N for percentage, 1 for fixed).
func ComputeTotal(details []PriceDetail, promo *PromoCode, qualifyingCount int, currency string) TotalPrice {
	total := TotalPrice{Currency: currency}

	var itemDiscount int64
	for _, d := range details {
		total.PriceWithVATCts += d.FinalPriceCts
		total.VatCts += d.VatCts
		itemDiscount += d.DiscountCts
	}

	if promo == nil || qualifyingCount == 0 {
		return total
	}

	switch promo.DiscountType {
	case DiscountTypePercentage:
		total.DiscountCts = -itemDiscount
		total.DiscountAppliedCount = qualifyingCount
	case DiscountTypeFixedAmount:
		// cap at the subtotal so summary rows stay additive
		discount := promo.Amount
		if discount > total.PriceWithVATCts {
			discount = total.PriceWithVATCts
		}
		total.DiscountCts = -discount
		total.DiscountAppliedCount = 1
		total.PriceWithVATCts -= discount
	}

	return total
}

// roundDiv divides non-negative cents rounding half up
func roundDiv(a, b int64) int64 {
	return (a + b/2) / b
}
