package budgets

import (
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Spent sums a user's expenses in one category over [from, to).
func Spent(tx *gorm.DB, userID uint, category string, from, to time.Time) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := tx.Model(&models.Transaction{}).
		Where("user_id = ? AND type = ? AND category = ? AND date >= ? AND date < ?",
			userID, models.TypeExpense, category, from, to).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

// SpentByCategory sums a user's expenses per category over [from, to).
func SpentByCategory(tx *gorm.DB, userID uint, from, to time.Time) (map[string]decimal.Decimal, error) {
	var rows []struct {
		Category string
		Amount   decimal.Decimal
	}
	err := tx.Model(&models.Transaction{}).
		Select("category, amount").
		Where("user_id = ? AND type = ? AND date >= ? AND date < ?", userID, models.TypeExpense, from, to).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[string]decimal.Decimal)
	for _, r := range rows {
		totals[r.Category] = totals[r.Category].Add(r.Amount)
	}
	return totals, nil
}

// Usage is a budget together with what has been spent against it.
type Usage struct {
	models.Budget
	Spent      decimal.Decimal `json:"spent"`
	Remaining  decimal.Decimal `json:"remaining"`
	Percentage decimal.Decimal `json:"percentage"`
}

func NewUsage(b models.Budget, spent decimal.Decimal) Usage {
	u := Usage{Budget: b, Spent: spent, Remaining: b.Amount.Sub(spent), Percentage: decimal.Zero}
	if b.Amount.IsPositive() {
		u.Percentage = spent.Div(b.Amount).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return u
}

// AlertLevelFor returns the alert level a usage has reached.
func AlertLevelFor(u Usage, threshold int) int {
	switch {
	case u.Spent.GreaterThan(u.Amount):
		return models.AlertExceeded
	case threshold > 0 && u.Percentage.GreaterThanOrEqual(decimal.NewFromInt(int64(threshold))):
		return models.AlertThreshold
	default:
		return models.AlertNone
	}
}

// ListUsage loads a user's budgets for a period with their spending.
func ListUsage(tx *gorm.DB, userID uint, month, year, startDay int) ([]Usage, error) {
	var list []models.Budget
	if err := tx.Where("user_id = ? AND month = ? AND year = ?", userID, month, year).
		Order("category").Find(&list).Error; err != nil {
		return nil, err
	}

	from, to := models.Period(month, year, startDay)
	spent, err := SpentByCategory(tx, userID, from, to)
	if err != nil {
		return nil, err
	}

	out := make([]Usage, 0, len(list))
	for _, b := range list {
		out = append(out, NewUsage(b, spent[b.Category]))
	}
	return out, nil
}
