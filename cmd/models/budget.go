package models

import (
	"github.com/shopspring/decimal"
)

// Budget alert levels, stored so a given crossing is only announced once.
const (
	AlertNone      = 0
	AlertThreshold = 1
	AlertExceeded  = 2
)

type Budget struct {
	Base
	UserID     uint            `gorm:"column:user_id;not null;uniqueIndex:idx_budget_period" json:"user_id"`
	Category   string          `gorm:"column:category;size:100;not null;uniqueIndex:idx_budget_period" json:"category"`
	Month      int             `gorm:"column:month;not null;uniqueIndex:idx_budget_period" json:"month"`
	Year       int             `gorm:"column:year;not null;uniqueIndex:idx_budget_period" json:"year"`
	Amount     decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	AlertLevel int             `gorm:"column:alert_level;not null;default:0" json:"-"`
}

func (b Budget) OwnerID() uint { return b.UserID }
