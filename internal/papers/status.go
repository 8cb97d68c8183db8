package papers

import (
	"time"

	"github.com/scholarpress/portal-backend/pkg/models"
)

// PayLaterWindow is how long a pay-later submission may stay unpaid before
// it displays as overdue.
const PayLaterWindow = 2 * time.Hour

// DisplayStatus derives the status shown to users. A payment-pending paper
// whose due date lies strictly in the past displays as payment_overdue;
// every other paper displays its persisted status. A due date exactly equal
// to now is not overdue.
//
// This is the single source of the overdue rule; nothing else in the
// codebase compares PaymentDueDate against the clock.
func DisplayStatus(p *models.Paper, now time.Time) models.PaperStatus {
	if p == nil {
		return ""
	}
	if p.Status == models.PaperPaymentPending &&
		p.PaymentDueDate != nil &&
		p.PaymentDueDate.Before(now) {
		return models.PaperPaymentOverdue
	}
	return p.Status
}
