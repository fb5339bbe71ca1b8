package models

import (
	"time"

	"github.com/shopspring/decimal"
)

var InvestmentTypes = []string{"stock", "fund", "crypto", "bond", "other"}

const (
	OperationBuy      = "buy"
	OperationSell     = "sell"
	OperationDividend = "dividend"
)

type Investment struct {
	Base
	UserID        uint            `gorm:"column:user_id;not null;index" json:"user_id"`
	Name          string          `gorm:"column:name;size:150;not null" json:"name"`
	Ticker        string          `gorm:"column:ticker;size:20" json:"ticker,omitempty"`
	Type          string          `gorm:"column:type;size:20;not null" json:"type"`
	Quantity      decimal.Decimal `gorm:"column:quantity;type:numeric(20,8);not null;default:0" json:"quantity"`
	AveragePrice  decimal.Decimal `gorm:"column:average_price;type:numeric(20,8);not null;default:0" json:"average_price"`
	TotalInvested decimal.Decimal `gorm:"column:total_invested;type:numeric(14,2);not null;default:0" json:"total_invested"`
	Dividends     decimal.Decimal `gorm:"column:dividends;type:numeric(14,2);not null;default:0" json:"dividends"`
	CurrentPrice  decimal.Decimal `gorm:"column:current_price;type:numeric(20,8);not null;default:0" json:"current_price"`
	Notes         string          `gorm:"column:notes;type:text;serializer:encrypted" json:"notes,omitempty"`

	Operations []Operation `gorm:"foreignKey:InvestmentID;constraint:OnDelete:CASCADE;" json:"operations,omitempty"`
}

func (i Investment) OwnerID() uint { return i.UserID }

// MarketValue is the position valued at the current price.
func (i Investment) MarketValue() decimal.Decimal {
	return i.Quantity.Mul(i.CurrentPrice).Round(2)
}

// UnrealizedGain compares the market value with the cost of the open position.
func (i Investment) UnrealizedGain() decimal.Decimal {
	return i.MarketValue().Sub(i.Quantity.Mul(i.AveragePrice).Round(2))
}

type Operation struct {
	Base
	InvestmentID uint            `gorm:"column:investment_id;not null;index" json:"investment_id"`
	UserID       uint            `gorm:"column:user_id;not null;index" json:"user_id"`
	Kind         string          `gorm:"column:kind;size:10;not null" json:"kind"`
	Quantity     decimal.Decimal `gorm:"column:quantity;type:numeric(20,8);not null;default:0" json:"quantity"`
	UnitPrice    decimal.Decimal `gorm:"column:unit_price;type:numeric(20,8);not null;default:0" json:"unit_price"`
	Fees         decimal.Decimal `gorm:"column:fees;type:numeric(14,2);not null;default:0" json:"fees"`
	Date         time.Time       `gorm:"column:date;not null" json:"date"`
	Notes        string          `gorm:"column:notes;type:text;serializer:encrypted" json:"notes,omitempty"`
}

func (o Operation) OwnerID() uint { return o.UserID }
