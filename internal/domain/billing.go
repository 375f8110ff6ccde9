package domain

import (
	"encoding/json"
	"time"
)

// BillingDocumentType classifies a generated billing document
type BillingDocumentType string

const (
	BillingDocumentInvoice    BillingDocumentType = "INVOICE"
	BillingDocumentReceipt    BillingDocumentType = "RECEIPT"
	BillingDocumentCreditNote BillingDocumentType = "CREDIT_NOTE"
)

// BillingDocument is the persisted model behind a rendered invoice, receipt
// or credit note. The model is stored as JSON so historical documents stay
// renderable after prices or templates change.
type BillingDocument struct {
	ID            int64               `json:"id"`
	ReservationID string              `json:"reservation_id"`
	Number        string              `json:"number"`
	Type          BillingDocumentType `json:"type"`
	Model         json.RawMessage     `json:"model"`
	GeneratedAt   time.Time           `json:"generated_at"`
}

// OrderSummaryRow is one line of a reservation's order summary
type OrderSummaryRow struct {
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	UnitPriceCts int64 `json:"unit_price_cts"`
	SubtotalCts int64  `json:"subtotal_cts"`
	VatCts      int64  `json:"vat_cts"`
	// Discount rows carry a negative subtotal
	Discount bool `json:"discount,omitempty"`
}

// OrderSummary is the rendered breakdown of a reservation
type OrderSummary struct {
	Rows  []OrderSummaryRow `json:"rows"`
	Total TotalPrice        `json:"total"`
}
