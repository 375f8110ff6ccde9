package domain

import "errors"

// Domain errors
var (
	// Inventory errors
	ErrNotEnoughTickets = errors.New("not enough tickets available")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrCategoryNotFound = errors.New("ticket category not found")
	ErrEventNotFound    = errors.New("event not found")

	// Access token errors
	ErrMissingAccessToken = errors.New("access token required for restricted category")
	ErrInvalidAccessToken = errors.New("access token is invalid or already in use")
	ErrTokenNotFound      = errors.New("access token not found")

	// Reservation errors
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExpired  = errors.New("reservation has expired")
	ErrTransitionConflict  = errors.New("reservation state transition conflict")

	// Promo code errors
	ErrPromoCodeNotFound     = errors.New("promo code not found")
	ErrDiscountUsageExceeded = errors.New("promo code usage limit exceeded")

	// Validation errors
	ErrInvalidQuantity      = errors.New("quantity must be greater than zero")
	ErrInvalidReservationID = errors.New("invalid reservation id")
	ErrInvalidEventID       = errors.New("invalid event id")
	ErrInvalidCategoryID    = errors.New("invalid category id")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")

	// Billing errors
	ErrBillingDocumentNotFound = errors.New("billing document not found")
)

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrTicketNotFound) ||
		errors.Is(err, ErrCategoryNotFound) ||
		errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrPromoCodeNotFound) ||
		errors.Is(err, ErrBillingDocumentNotFound)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrNotEnoughTickets) ||
		errors.Is(err, ErrInvalidAccessToken) ||
		errors.Is(err, ErrTransitionConflict) ||
		errors.Is(err, ErrDiscountUsageExceeded)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidReservationID) ||
		errors.Is(err, ErrInvalidEventID) ||
		errors.Is(err, ErrInvalidCategoryID) ||
		errors.Is(err, ErrInvalidPaymentMethod) ||
		errors.Is(err, ErrMissingAccessToken)
}
