package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/mortendir/ticketreserve/internal/domain"
)

// Plain-text mail bodies. Rendering stays template-free on purpose: the
// messages are short and locale handling happens upstream of this service.

// ConfirmationMail builds the purchase confirmation message
func ConfirmationMail(r *domain.Reservation, eventName string, total domain.TotalPrice) (subject, body string) {
	subject = fmt.Sprintf("Your reservation for %s is confirmed", eventName)

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", r.CustomerName)
	fmt.Fprintf(&b, "your reservation %s for %s has been confirmed.\n", r.ID, eventName)
	fmt.Fprintf(&b, "Total charged: %s %s\n", formatCents(total.PriceWithVATCts), total.Currency)
	if r.InvoiceNumber != nil {
		fmt.Fprintf(&b, "Invoice number: %s\n", *r.InvoiceNumber)
	}
	b.WriteString("\nSee you at the event!\n")
	return subject, b.String()
}

// OfflineInstructionsMail builds the bank-transfer instructions message
func OfflineInstructionsMail(r *domain.Reservation, eventName string, total domain.TotalPrice) (subject, body string) {
	subject = fmt.Sprintf("Payment instructions for %s", eventName)

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", r.CustomerName)
	fmt.Fprintf(&b, "your reservation %s for %s is waiting for payment.\n", r.ID, eventName)
	fmt.Fprintf(&b, "Amount due: %s %s\n", formatCents(total.PriceWithVATCts), total.Currency)
	fmt.Fprintf(&b, "Please complete the transfer before %s or the reservation will be cancelled.\n",
		r.ExpiresAt.Format(time.RFC1123))
	return subject, b.String()
}

// OfflineReminderMail builds the approaching-deadline reminder message
func OfflineReminderMail(r *domain.Reservation, eventName string) (subject, body string) {
	subject = fmt.Sprintf("Payment reminder for %s", eventName)

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", r.CustomerName)
	fmt.Fprintf(&b, "we have not yet received the payment for reservation %s.\n", r.ID)
	fmt.Fprintf(&b, "The deadline is %s. After that the reservation will be cancelled.\n",
		r.ExpiresAt.Format(time.RFC1123))
	return subject, b.String()
}

// CreditNoteMail builds the credit-note notification message
func CreditNoteMail(r *domain.Reservation, eventName, documentNumber string) (subject, body string) {
	subject = fmt.Sprintf("Credit note for %s", eventName)

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", r.CustomerName)
	fmt.Fprintf(&b, "a credit note (%s) has been issued for reservation %s.\n", documentNumber, r.ID)
	b.WriteString("The reserved tickets have been released.\n")
	return subject, b.String()
}

// StuckAlertMail builds the operator alert for stuck reservations
func StuckAlertMail(ids []string) (subject, body string) {
	subject = fmt.Sprintf("%d reservation(s) stuck in payment", len(ids))

	var b strings.Builder
	b.WriteString("The following reservations exceeded the in-payment deadline and were marked STUCK:\n\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	b.WriteString("\nCheck the payment provider and resolve them manually.\n")
	return subject, b.String()
}

func formatCents(cts int64) string {
	sign := ""
	if cts < 0 {
		sign = "-"
		cts = -cts
	}
	return fmt.Sprintf("%s%d.%02d", sign, cts/100, cts%100)
}
