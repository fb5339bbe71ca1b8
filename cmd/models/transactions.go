package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeIncome  = "income"
	TypeExpense = "expense"
)

// Transaction sources.
const (
	SourceManual    = "manual"
	SourceImport    = "import"
	SourceTemplate  = "template"
	SourceRecurring = "recurring"
	SourceInvoice   = "invoice"
)

type Transaction struct {
	Base
	UserID        uint            `gorm:"column:user_id;not null;index:idx_transactions_user_date" json:"user_id"`
	Type          string          `gorm:"column:type;size:10;not null" json:"type"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Category      string          `gorm:"column:category;size:100;not null;index" json:"category"`
	Description   string          `gorm:"column:description;type:text;serializer:encrypted" json:"description"`
	Notes         string          `gorm:"column:notes;type:text;serializer:encrypted" json:"notes,omitempty"`
	Date          time.Time       `gorm:"column:date;not null;index:idx_transactions_user_date" json:"date"`
	PaymentMethod string          `gorm:"column:payment_method;size:50" json:"payment_method,omitempty"`
	Source        string          `gorm:"column:source;size:20;not null;default:manual" json:"source"`
	ImportBatchID string          `gorm:"column:import_batch_id;size:36;index" json:"import_batch_id,omitempty"`

	RecurringExpenseID *uint `gorm:"column:recurring_expense_id" json:"recurring_expense_id,omitempty"`
	InvoiceID          *uint `gorm:"column:invoice_id" json:"invoice_id,omitempty"`
}

func (t Transaction) OwnerID() uint { return t.UserID }

// IsExpense reports whether the transaction counts against budgets.
func (t Transaction) IsExpense() bool { return t.Type == TypeExpense }

type TransactionTemplate struct {
	Base
	UserID        uint            `gorm:"column:user_id;not null;index" json:"user_id"`
	Name          string          `gorm:"column:name;size:100;not null" json:"name"`
	Type          string          `gorm:"column:type;size:10;not null" json:"type"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Category      string          `gorm:"column:category;size:100;not null" json:"category"`
	Description   string          `gorm:"column:description;type:text;serializer:encrypted" json:"description"`
	PaymentMethod string          `gorm:"column:payment_method;size:50" json:"payment_method,omitempty"`
}

func (t TransactionTemplate) OwnerID() uint { return t.UserID }
