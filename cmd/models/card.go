package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	InvoiceOpen = "open"
	InvoicePaid = "paid"
)

type CreditCard struct {
	Base
	UserID     uint            `gorm:"column:user_id;not null;index" json:"user_id"`
	Name       string          `gorm:"column:name;size:100;not null" json:"name"`
	LastFour   string          `gorm:"column:last_four;type:text;serializer:encrypted" json:"last_four,omitempty"`
	Limit      decimal.Decimal `gorm:"column:credit_limit;type:numeric(14,2);not null" json:"limit"`
	ClosingDay int             `gorm:"column:closing_day;not null" json:"closing_day"`
	DueDay     int             `gorm:"column:due_day;not null" json:"due_day"`

	Invoices []Invoice `gorm:"foreignKey:CardID;constraint:OnDelete:CASCADE;" json:"-"`
}

func (c CreditCard) OwnerID() uint { return c.UserID }

type Invoice struct {
	Base
	CardID        uint       `gorm:"column:card_id;not null;uniqueIndex:idx_invoice_period" json:"card_id"`
	UserID        uint       `gorm:"column:user_id;not null;index" json:"user_id"`
	Month         int        `gorm:"column:month;not null;uniqueIndex:idx_invoice_period" json:"month"`
	Year          int        `gorm:"column:year;not null;uniqueIndex:idx_invoice_period" json:"year"`
	DueDate       time.Time  `gorm:"column:due_date;not null" json:"due_date"`
	Status        string     `gorm:"column:status;size:10;not null;default:open" json:"status"`
	PaidAt        *time.Time `gorm:"column:paid_at" json:"paid_at,omitempty"`
	TransactionID *uint      `gorm:"column:transaction_id" json:"transaction_id,omitempty"`

	Purchases []Purchase `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE;" json:"purchases,omitempty"`
}

func (i Invoice) OwnerID() uint { return i.UserID }

// Total sums the installments currently attached to the invoice.
func (i Invoice) Total() decimal.Decimal {
	total := decimal.Zero
	for _, p := range i.Purchases {
		total = total.Add(p.Amount)
	}
	return total
}

// Purchase is one installment of a card purchase. Installments of the same
// purchase share a GroupID and land on consecutive invoices.
type Purchase struct {
	Base
	InvoiceID         uint            `gorm:"column:invoice_id;not null;index" json:"invoice_id"`
	CardID            uint            `gorm:"column:card_id;not null;index" json:"card_id"`
	UserID            uint            `gorm:"column:user_id;not null;index" json:"user_id"`
	GroupID           string          `gorm:"column:group_id;size:36;not null;index" json:"group_id"`
	Description       string          `gorm:"column:description;type:text;serializer:encrypted" json:"description"`
	Category          string          `gorm:"column:category;size:100;not null" json:"category"`
	Amount            decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	TotalAmount       decimal.Decimal `gorm:"column:total_amount;type:numeric(14,2);not null" json:"total_amount"`
	InstallmentNumber int             `gorm:"column:installment_number;not null" json:"installment_number"`
	InstallmentCount  int             `gorm:"column:installment_count;not null" json:"installment_count"`
	Date              time.Time       `gorm:"column:date;not null" json:"date"`
}

func (p Purchase) OwnerID() uint { return p.UserID }
