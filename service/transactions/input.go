package transactions

import (
	"fmt"
	"strings"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/service/budgets"
	"github.com/KAsare1/Fintrack-server/service/invalidation"
	"github.com/shopspring/decimal"
)

// Input is the writable part of a transaction. The API, templates and
// spreadsheet imports all validate through it.
type Input struct {
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	Notes         string          `json:"notes"`
	Date          string          `json:"date"`
	PaymentMethod string          `json:"payment_method"`
}

// Build validates the input and returns the transaction it describes. An
// empty date means today.
func (in Input) Build(userID uint, now time.Time) (models.Transaction, error) {
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	in.Category = strings.TrimSpace(in.Category)
	in.Description = strings.TrimSpace(in.Description)
	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)

	v := utils.NewValidator()
	v.OneOf(in.Type, "type", models.TypeIncome, models.TypeExpense)
	v.Positive(in.Amount, "amount")
	v.Check(in.Amount.Equal(in.Amount.Round(2)), "amount", "must have at most two decimal places")
	v.Required(in.Category, "category")
	v.MaxLen(in.Category, 100, "category")
	v.MaxLen(in.Description, 500, "description")
	v.MaxLen(in.Notes, 2000, "notes")
	v.MaxLen(in.PaymentMethod, 50, "payment_method")

	date := models.DateOnly(now)
	if strings.TrimSpace(in.Date) != "" {
		v.Date(in.Date, "date", &date)
	}
	if err := v.Err(); err != nil {
		return models.Transaction{}, err
	}

	return models.Transaction{
		UserID:        userID,
		Type:          in.Type,
		Amount:        in.Amount,
		Category:      in.Category,
		Description:   in.Description,
		Notes:         in.Notes,
		Date:          date,
		PaymentMethod: in.PaymentMethod,
		Source:        models.SourceManual,
	}, nil
}

// Hooks run after transactions were committed: cached reads are dropped and
// affected budgets re-evaluated.
type Hooks struct {
	Inv     *invalidation.Invalidator
	Watcher *budgets.Watcher
}

func (h Hooks) Written(ts ...models.Transaction) {
	users := map[uint]bool{}
	checked := map[string]bool{}
	for _, t := range ts {
		users[t.UserID] = true
		if !t.IsExpense() {
			continue
		}
		key := fmt.Sprintf("%d|%s|%s", t.UserID, t.Category, t.Date.Format("2006-01-02"))
		if checked[key] {
			continue
		}
		checked[key] = true
		h.Watcher.Check(t.UserID, t.Category, t.Date)
	}
	if h.Inv != nil {
		for id := range users {
			h.Inv.Changed(id, invalidation.Transactions)
		}
	}
}
