package budgets

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/KAsare1/Fintrack-server/cache"
	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/service/invalidation"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type BudgetHandler struct {
	db      *gorm.DB
	cache   *cache.Cache
	inv     *invalidation.Invalidator
	watcher *Watcher
	now     func() time.Time
}

func NewBudgetHandler(db *gorm.DB, c *cache.Cache, inv *invalidation.Invalidator, watcher *Watcher) *BudgetHandler {
	return &BudgetHandler{db: db, cache: c, inv: inv, watcher: watcher, now: time.Now}
}

func (h *BudgetHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/budgets", h.ListBudgets).Methods("GET")
	router.HandleFunc("/budgets", h.CreateBudget).Methods("POST")
	router.HandleFunc("/budgets/copy", h.CopyBudgets).Methods("POST")
	router.HandleFunc("/budgets/{id}", h.GetBudget).Methods("GET")
	router.HandleFunc("/budgets/{id}", h.UpdateBudget).Methods("PUT")
	router.HandleFunc("/budgets/{id}", h.DeleteBudget).Methods("DELETE")
}

type budgetRequest struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Month    int             `json:"month"`
	Year     int             `json:"year"`
}

func (req *budgetRequest) validate(now time.Time) error {
	req.Category = strings.TrimSpace(req.Category)
	if req.Month == 0 {
		req.Month = int(now.Month())
	}
	if req.Year == 0 {
		req.Year = now.Year()
	}

	v := utils.NewValidator()
	v.Required(req.Category, "category")
	v.MaxLen(req.Category, 100, "category")
	v.Positive(req.Amount, "amount")
	v.Between(req.Month, 1, 12, "month")
	v.Between(req.Year, 1900, 9999, "year")
	return v.Err()
}

var errDuplicateBudget = utils.FieldError("category", "a budget for this category already exists for the month")

// ensureUnique reports a 422 when another budget already covers the
// category and period. The unique index still guards concurrent inserts.
func ensureUnique(tx *gorm.DB, userID uint, category string, month, year int, exceptID uint) error {
	var count int64
	err := tx.Model(&models.Budget{}).
		Where("user_id = ? AND category = ? AND month = ? AND year = ? AND id <> ?", userID, category, month, year, exceptID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return errDuplicateBudget
	}
	return nil
}

func (h *BudgetHandler) ListBudgets(w http.ResponseWriter, r *http.Request) {
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
	month, year, err := utils.MonthYear(r, h.today(user))
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	key := invalidation.Key(userID, invalidation.Budgets, fmt.Sprintf("%04d-%02d", year, month))
	list, err := h.cache.GetOrLoad(key, 0, func() (interface{}, error) {
		return ListUsage(h.db, userID, month, year, user.Preferences.MonthStartDay)
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, list)
}

func (h *BudgetHandler) CreateBudget(w http.ResponseWriter, r *http.Request) {
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

	var req budgetRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := req.validate(h.today(user)); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := ensureUnique(h.db, userID, req.Category, req.Month, req.Year, 0); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	budget := models.Budget{
		UserID:   userID,
		Category: req.Category,
		Month:    req.Month,
		Year:     req.Year,
		Amount:   req.Amount,
	}
	if err := h.db.Create(&budget).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			err = errDuplicateBudget
		}
		utils.RespondWithError(w, r, err)
		return
	}

	h.changed(user, budget)
	usage, err := h.usage(user, budget)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, usage)
}

func (h *BudgetHandler) GetBudget(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	var budget models.Budget
	if err := utils.FindOwned(h.db, &budget, id, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	user, err := utils.LoadUser(h.db, userID)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	usage, err := h.usage(user, budget)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, usage)
}

func (h *BudgetHandler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	var budget models.Budget
	if err := utils.FindOwned(h.db, &budget, id, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	user, err := utils.LoadUser(h.db, userID)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	req := budgetRequest{Month: budget.Month, Year: budget.Year}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := req.validate(h.today(user)); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := ensureUnique(h.db, userID, req.Category, req.Month, req.Year, budget.ID); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	budget.Category = req.Category
	budget.Amount = req.Amount
	budget.Month = req.Month
	budget.Year = req.Year
	budget.AlertLevel = models.AlertNone
	if err := h.db.Save(&budget).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			err = errDuplicateBudget
		}
		utils.RespondWithError(w, r, err)
		return
	}

	h.changed(user, budget)
	usage, err := h.usage(user, budget)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, usage)
}

func (h *BudgetHandler) DeleteBudget(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	var budget models.Budget
	if err := utils.FindOwned(h.db, &budget, id, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := h.db.Delete(&budget).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(userID, invalidation.Budgets)
	utils.RespondNoContent(w)
}

type copyRequest struct {
	FromMonth int `json:"from_month"`
	FromYear  int `json:"from_year"`
	ToMonth   int `json:"to_month"`
	ToYear    int `json:"to_year"`
}

type copyResponse struct {
	Copied  []models.Budget `json:"copied"`
	Skipped []string        `json:"skipped"`
}

// CopyBudgets repeats one month's budgets in another month. Categories the
// target month already budgets are left alone.
func (h *BudgetHandler) CopyBudgets(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	var req copyRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	v := utils.NewValidator()
	v.Between(req.FromMonth, 1, 12, "from_month")
	v.Between(req.FromYear, 1900, 9999, "from_year")
	v.Between(req.ToMonth, 1, 12, "to_month")
	v.Between(req.ToYear, 1900, 9999, "to_year")
	v.Check(req.FromMonth != req.ToMonth || req.FromYear != req.ToYear, "to_month", "must differ from the source month")
	if err := v.Err(); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	resp := copyResponse{Copied: []models.Budget{}, Skipped: []string{}}
	err = h.db.Transaction(func(tx *gorm.DB) error {
		var source []models.Budget
		if err := tx.Where("user_id = ? AND month = ? AND year = ?", userID, req.FromMonth, req.FromYear).
			Order("category").Find(&source).Error; err != nil {
			return err
		}
		if len(source) == 0 {
			return utils.NotFound("No budgets to copy for the source month")
		}

		var existing []string
		if err := tx.Model(&models.Budget{}).
			Where("user_id = ? AND month = ? AND year = ?", userID, req.ToMonth, req.ToYear).
			Pluck("category", &existing).Error; err != nil {
			return err
		}
		taken := make(map[string]bool, len(existing))
		for _, c := range existing {
			taken[c] = true
		}

		for _, b := range source {
			if taken[b.Category] {
				resp.Skipped = append(resp.Skipped, b.Category)
				continue
			}
			nb := models.Budget{UserID: userID, Category: b.Category, Month: req.ToMonth, Year: req.ToYear, Amount: b.Amount}
			if err := tx.Create(&nb).Error; err != nil {
				return err
			}
			resp.Copied = append(resp.Copied, nb)
		}
		return nil
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	if len(resp.Copied) > 0 {
		h.inv.Changed(userID, invalidation.Budgets)
		user, err := utils.LoadUser(h.db, userID)
		if err == nil {
			for _, b := range resp.Copied {
				h.recheck(user, b)
			}
		}
	}
	utils.RespondWithJSON(w, http.StatusCreated, resp)
}

func (h *BudgetHandler) changed(user models.User, b models.Budget) {
	h.inv.Changed(user.ID, invalidation.Budgets)
	h.recheck(user, b)
}

// recheck lets the watcher evaluate a budget that was just written, so a
// budget created below current spending alerts straight away.
func (h *BudgetHandler) recheck(user models.User, b models.Budget) {
	from, _ := models.Period(b.Month, b.Year, user.Preferences.MonthStartDay)
	h.watcher.Check(user.ID, b.Category, from)
}

func (h *BudgetHandler) usage(user models.User, b models.Budget) (Usage, error) {
	from, to := models.Period(b.Month, b.Year, user.Preferences.MonthStartDay)
	spent, err := Spent(h.db, user.ID, b.Category, from, to)
	if err != nil {
		return Usage{}, err
	}
	return NewUsage(b, spent), nil
}

// today is the reference date for defaults, expressed as the user's budget
// month.
func (h *BudgetHandler) today(user models.User) time.Time {
	month, year := models.PeriodOf(h.now(), user.Preferences.MonthStartDay)
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}
