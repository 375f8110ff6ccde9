package gateway

import "context"

// PaymentSpec carries everything a provider needs to charge a reservation
type PaymentSpec struct {
	ReservationID string
	CustomerName  string
	Email         string
	AmountCts     int64
	Currency      string
	// GatewayToken is the client-side token identifying the payment method
	GatewayToken string
}

// Result is the provider's answer to a charge attempt. A declined charge is
// a Result with Successful=false, not an error; errors mean the provider
// could not be asked at all.
type Result struct {
	Successful    bool
	TransactionID string
	FailureReason string
}

// PaymentGateway is the contract toward an external payment provider
type PaymentGateway interface {
	// GetTokenAndPay charges the reservation in one provider round-trip
	GetTokenAndPay(ctx context.Context, spec *PaymentSpec) (*Result, error)

	// Name identifies the provider in logs and audit entries
	Name() string
}
