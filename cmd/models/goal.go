package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	GoalActive    = "active"
	GoalCompleted = "completed"
	GoalCancelled = "cancelled"
)

type FinancialGoal struct {
	Base
	UserID        uint            `gorm:"column:user_id;not null;index" json:"user_id"`
	Name          string          `gorm:"column:name;size:150;not null" json:"name"`
	Description   string          `gorm:"column:description;type:text;serializer:encrypted" json:"description,omitempty"`
	TargetAmount  decimal.Decimal `gorm:"column:target_amount;type:numeric(14,2);not null" json:"target_amount"`
	CurrentAmount decimal.Decimal `gorm:"column:current_amount;type:numeric(14,2);not null;default:0" json:"current_amount"`
	Deadline      *time.Time      `gorm:"column:deadline" json:"deadline,omitempty"`
	Status        string          `gorm:"column:status;size:20;not null;default:active" json:"status"`

	Contributions []GoalContribution `gorm:"foreignKey:GoalID;constraint:OnDelete:CASCADE;" json:"contributions,omitempty"`
}

func (g FinancialGoal) OwnerID() uint { return g.UserID }

// Progress is the completed share of the target, in percent, capped at 100.
func (g FinancialGoal) Progress() decimal.Decimal {
	if !g.TargetAmount.IsPositive() {
		return decimal.Zero
	}
	p := g.CurrentAmount.Div(g.TargetAmount).Mul(decimal.NewFromInt(100)).Round(2)
	if p.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(100)
	}
	return p
}

type GoalContribution struct {
	Base
	GoalID uint            `gorm:"column:goal_id;not null;index" json:"goal_id"`
	UserID uint            `gorm:"column:user_id;not null;index" json:"user_id"`
	Amount decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Date   time.Time       `gorm:"column:date;not null" json:"date"`
	Note   string          `gorm:"column:note;size:255" json:"note,omitempty"`
}

func (c GoalContribution) OwnerID() uint { return c.UserID }
