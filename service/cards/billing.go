package cards

import (
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/shopspring/decimal"
)

// FirstInvoiceMonth returns the invoice a purchase made on date lands on.
// Purchases after the closing day go to the following month's invoice.
func FirstInvoiceMonth(card models.CreditCard, date time.Time) (int, int) {
	date = models.DateOnly(date)
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	if date.Day() > dayIn(card.ClosingDay, date.Month(), date.Year()) {
		first = first.AddDate(0, 1, 0)
	}
	return int(first.Month()), first.Year()
}

// DueDate is the payment date of the invoice for month/year. A due day on
// or before the closing day falls in the next month.
func DueDate(card models.CreditCard, month, year int) time.Time {
	m := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	if card.DueDay <= card.ClosingDay {
		m = m.AddDate(0, 1, 0)
	}
	return time.Date(m.Year(), m.Month(), dayIn(card.DueDay, m.Month(), m.Year()), 0, 0, 0, 0, time.UTC)
}

// SplitInstallments divides total into n parts of whole cents. The last part
// absorbs the rounding remainder so the parts always add up to total.
func SplitInstallments(total decimal.Decimal, n int) []decimal.Decimal {
	if n < 1 {
		n = 1
	}
	part := total.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
	parts := make([]decimal.Decimal, n)
	sum := decimal.Zero
	for i := 0; i < n-1; i++ {
		parts[i] = part
		sum = sum.Add(part)
	}
	parts[n-1] = total.Sub(sum)
	return parts
}

func dayIn(day int, month time.Month, year int) int {
	if last := models.DaysIn(month, year); day > last {
		return last
	}
	return day
}
