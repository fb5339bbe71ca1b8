package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
	FrequencyYearly  = "yearly"
)

type RecurringExpense struct {
	Base
	UserID        uint            `gorm:"column:user_id;not null;index" json:"user_id"`
	Description   string          `gorm:"column:description;type:text;serializer:encrypted" json:"description"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Category      string          `gorm:"column:category;size:100;not null" json:"category"`
	Frequency     string          `gorm:"column:frequency;size:10;not null" json:"frequency"`
	NextDueDate   time.Time       `gorm:"column:next_due_date;not null;index" json:"next_due_date"`
	AnchorDay     int             `gorm:"column:anchor_day;not null;default:0" json:"-"`
	PaymentMethod string          `gorm:"column:payment_method;size:50" json:"payment_method,omitempty"`
	Active        bool            `gorm:"column:active;not null;default:true" json:"active"`
	LastPaidAt    *time.Time      `gorm:"column:last_paid_at" json:"last_paid_at,omitempty"`
	RemindedFor   *time.Time      `gorm:"column:reminded_for" json:"-"`
}

func (r RecurringExpense) OwnerID() uint { return r.UserID }

// Advance moves the due date one period forward.
func (r *RecurringExpense) Advance() {
	r.NextDueDate = AddFrequency(r.NextDueDate, r.Frequency, r.AnchorDay)
}

// Reschedule sets a new due date and makes its day the anchor that monthly
// and yearly steps return to after a short month clamped the date.
func (r *RecurringExpense) Reschedule(due time.Time) {
	r.NextDueDate = due
	r.AnchorDay = due.Day()
}
