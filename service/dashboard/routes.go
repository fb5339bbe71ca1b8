package dashboard

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/KAsare1/Fintrack-server/cache"
	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/service/budgets"
	"github.com/KAsare1/Fintrack-server/service/invalidation"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const recentCount = 5

type DashboardHandler struct {
	db    *gorm.DB
	cache *cache.Cache
	now   func() time.Time
}

func NewDashboardHandler(db *gorm.DB, c *cache.Cache) *DashboardHandler {
	return &DashboardHandler{db: db, cache: c, now: time.Now}
}

// Amount pairs a value with its display form in the user's currency.
type Amount struct {
	Value     decimal.Decimal `json:"value"`
	Formatted string          `json:"formatted"`
}

type CategoryTotal struct {
	Category   string          `json:"category"`
	Amount     Amount          `json:"amount"`
	Percentage decimal.Decimal `json:"percentage"`
}

type GoalProgress struct {
	ID       uint            `json:"id"`
	Name     string          `json:"name"`
	Target   Amount          `json:"target"`
	Current  Amount          `json:"current"`
	Progress decimal.Decimal `json:"progress"`
	Status   string          `json:"status"`
	Deadline *time.Time      `json:"deadline,omitempty"`
}

type Portfolio struct {
	MarketValue    Amount `json:"market_value"`
	TotalInvested  Amount `json:"total_invested"`
	UnrealizedGain Amount `json:"unrealized_gain"`
	Positions      int    `json:"positions"`
}

type Summary struct {
	Month      int                       `json:"month"`
	Year       int                       `json:"year"`
	From       string                    `json:"from"`
	To         string                    `json:"to"`
	Currency   string                    `json:"currency"`
	Income     Amount                    `json:"income"`
	Expenses   Amount                    `json:"expenses"`
	Balance    Amount                    `json:"balance"`
	Categories []CategoryTotal           `json:"categories"`
	Budgets    []budgets.Usage           `json:"budgets"`
	Goals      []GoalProgress            `json:"goals"`
	Portfolio  Portfolio                 `json:"portfolio"`
	Upcoming   []models.RecurringExpense `json:"upcoming_recurring"`
	Recent     []models.Transaction      `json:"recent_transactions"`
}

func (h *DashboardHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/dashboard/summary", h.GetSummary).Methods("GET")
}

func (h *DashboardHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}
	user, err := utils.LoadUser(h.db, userID)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	month, year := models.PeriodOf(h.now(), user.Preferences.MonthStartDay)
	month, year, err = utils.MonthYear(r, time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	key := invalidation.Key(userID, invalidation.Dashboard, fmt.Sprintf("%04d-%02d", year, month))
	summary, err := h.cache.GetOrLoad(key, 0, func() (interface{}, error) {
		return h.summarise(user, month, year)
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, summary)
}

func (h *DashboardHandler) summarise(user models.User, month, year int) (Summary, error) {
	currency := user.Preferences.Currency
	amount := func(d decimal.Decimal) Amount {
		return Amount{Value: d, Formatted: utils.FormatMoney(d, currency)}
	}

	from, to := models.Period(month, year, user.Preferences.MonthStartDay)
	s := Summary{
		Month:    month,
		Year:     year,
		From:     from.Format(utils.DateLayout),
		To:       to.AddDate(0, 0, -1).Format(utils.DateLayout),
		Currency: currency,
	}

	var rows []struct {
		Type     string
		Category string
		Amount   decimal.Decimal
	}
	if err := h.db.Model(&models.Transaction{}).
		Select("type, category, amount").
		Where("user_id = ? AND date >= ? AND date < ?", user.ID, from, to).
		Scan(&rows).Error; err != nil {
		return s, err
	}
	income, expenses := decimal.Zero, decimal.Zero
	byCategory := map[string]decimal.Decimal{}
	for _, row := range rows {
		if row.Type == models.TypeIncome {
			income = income.Add(row.Amount)
			continue
		}
		expenses = expenses.Add(row.Amount)
		byCategory[row.Category] = byCategory[row.Category].Add(row.Amount)
	}
	s.Income = amount(income)
	s.Expenses = amount(expenses)
	s.Balance = amount(income.Sub(expenses))

	s.Categories = make([]CategoryTotal, 0, len(byCategory))
	for category, total := range byCategory {
		pct := decimal.Zero
		if expenses.IsPositive() {
			pct = total.Div(expenses).Mul(decimal.NewFromInt(100)).Round(2)
		}
		s.Categories = append(s.Categories, CategoryTotal{Category: category, Amount: amount(total), Percentage: pct})
	}
	sort.Slice(s.Categories, func(i, j int) bool {
		a, b := s.Categories[i], s.Categories[j]
		if !a.Amount.Value.Equal(b.Amount.Value) {
			return a.Amount.Value.GreaterThan(b.Amount.Value)
		}
		return a.Category < b.Category
	})

	usage, err := budgets.ListUsage(h.db, user.ID, month, year, user.Preferences.MonthStartDay)
	if err != nil {
		return s, err
	}
	s.Budgets = usage

	var goals []models.FinancialGoal
	if err := h.db.Where("user_id = ? AND status <> ?", user.ID, models.GoalCancelled).
		Order("deadline IS NULL, deadline, id").Find(&goals).Error; err != nil {
		return s, err
	}
	s.Goals = make([]GoalProgress, 0, len(goals))
	for _, g := range goals {
		s.Goals = append(s.Goals, GoalProgress{
			ID:       g.ID,
			Name:     g.Name,
			Target:   amount(g.TargetAmount),
			Current:  amount(g.CurrentAmount),
			Progress: g.Progress(),
			Status:   g.Status,
			Deadline: g.Deadline,
		})
	}

	var investments []models.Investment
	if err := h.db.Where("user_id = ?", user.ID).Find(&investments).Error; err != nil {
		return s, err
	}
	market, invested, gain := decimal.Zero, decimal.Zero, decimal.Zero
	for _, i := range investments {
		if !i.Quantity.IsPositive() {
			continue
		}
		market = market.Add(i.MarketValue())
		invested = invested.Add(i.TotalInvested)
		gain = gain.Add(i.UnrealizedGain())
		s.Portfolio.Positions++
	}
	s.Portfolio.MarketValue = amount(market)
	s.Portfolio.TotalInvested = amount(invested)
	s.Portfolio.UnrealizedGain = amount(gain)

	s.Upcoming = []models.RecurringExpense{}
	if err := h.db.Where("user_id = ? AND active = ? AND next_due_date >= ? AND next_due_date < ?", user.ID, true, from, to).
		Order("next_due_date, id").Find(&s.Upcoming).Error; err != nil {
		return s, err
	}

	s.Recent = []models.Transaction{}
	if err := h.db.Where("user_id = ? AND date >= ? AND date < ?", user.ID, from, to).
		Order("date DESC, id DESC").Limit(recentCount).Find(&s.Recent).Error; err != nil {
		return s, err
	}
	return s, nil
}
