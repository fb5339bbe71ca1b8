package investments

import (
	"sort"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/shopspring/decimal"
)

// Position is what a sequence of operations leaves behind.
type Position struct {
	Quantity      decimal.Decimal
	AveragePrice  decimal.Decimal
	TotalInvested decimal.Decimal
	Dividends     decimal.Decimal
	Realized      decimal.Decimal
}

// Replay applies operations in date order. Buys add to the cost basis
// (fees included), sells remove shares at the average price and a sell
// larger than the holding at that date is rejected.
func Replay(ops []models.Operation) (Position, error) {
	sorted := make([]models.Operation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var p Position
	for _, op := range sorted {
		switch op.Kind {
		case models.OperationBuy:
			p.TotalInvested = p.TotalInvested.Add(op.Quantity.Mul(op.UnitPrice)).Add(op.Fees)
			p.Quantity = p.Quantity.Add(op.Quantity)
		case models.OperationSell:
			if op.Quantity.GreaterThan(p.Quantity) {
				return Position{}, utils.FieldError("quantity", "exceeds the quantity held on "+op.Date.Format(utils.DateLayout))
			}
			cost := p.TotalInvested.Mul(op.Quantity).Div(p.Quantity)
			proceeds := op.Quantity.Mul(op.UnitPrice).Sub(op.Fees)
			p.Realized = p.Realized.Add(proceeds.Sub(cost))
			p.TotalInvested = p.TotalInvested.Sub(cost)
			p.Quantity = p.Quantity.Sub(op.Quantity)
			if p.Quantity.IsZero() {
				p.TotalInvested = decimal.Zero
			}
		case models.OperationDividend:
			p.Dividends = p.Dividends.Add(op.UnitPrice).Sub(op.Fees)
		}
	}

	p.TotalInvested = p.TotalInvested.Round(2)
	p.Realized = p.Realized.Round(2)
	if p.Quantity.IsPositive() {
		p.AveragePrice = p.TotalInvested.DivRound(p.Quantity, 8)
	}
	return p, nil
}

func (p Position) applyTo(inv *models.Investment) {
	inv.Quantity = p.Quantity
	inv.AveragePrice = p.AveragePrice
	inv.TotalInvested = p.TotalInvested
	inv.Dividends = p.Dividends
}
