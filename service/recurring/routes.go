package recurring

import (
	"net/http"
	"strings"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/service/invalidation"
	"github.com/KAsare1/Fintrack-server/service/transactions"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type RecurringHandler struct {
	db    *gorm.DB
	inv   *invalidation.Invalidator
	hooks transactions.Hooks
	now   func() time.Time
}

func NewRecurringHandler(db *gorm.DB, inv *invalidation.Invalidator, hooks transactions.Hooks) *RecurringHandler {
	return &RecurringHandler{db: db, inv: inv, hooks: hooks, now: time.Now}
}

func (h *RecurringHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/recurring", h.ListRecurring).Methods("GET")
	router.HandleFunc("/recurring", h.CreateRecurring).Methods("POST")
	router.HandleFunc("/recurring/{id}", h.GetRecurring).Methods("GET")
	router.HandleFunc("/recurring/{id}", h.UpdateRecurring).Methods("PUT")
	router.HandleFunc("/recurring/{id}", h.DeleteRecurring).Methods("DELETE")
	router.HandleFunc("/recurring/{id}/pay", h.PayRecurring).Methods("POST")
}

type recurringRequest struct {
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Category      string          `json:"category"`
	Frequency     string          `json:"frequency"`
	NextDueDate   string          `json:"next_due_date"`
	PaymentMethod string          `json:"payment_method"`
	Active        *bool           `json:"active"`
}

func (req *recurringRequest) apply(r *models.RecurringExpense) error {
	req.Description = strings.TrimSpace(req.Description)
	req.Category = strings.TrimSpace(req.Category)
	req.Frequency = strings.ToLower(strings.TrimSpace(req.Frequency))

	v := utils.NewValidator()
	v.Required(req.Description, "description")
	v.MaxLen(req.Description, 500, "description")
	v.Positive(req.Amount, "amount")
	v.Required(req.Category, "category")
	v.MaxLen(req.Category, 100, "category")
	v.OneOf(req.Frequency, "frequency", models.FrequencyWeekly, models.FrequencyMonthly, models.FrequencyYearly)
	v.MaxLen(req.PaymentMethod, 50, "payment_method")
	var due time.Time
	v.Required(req.NextDueDate, "next_due_date")
	if req.NextDueDate != "" {
		v.Date(req.NextDueDate, "next_due_date", &due)
	}
	if err := v.Err(); err != nil {
		return err
	}

	if !due.Equal(r.NextDueDate) {
		r.RemindedFor = nil
	}
	r.Description = req.Description
	r.Amount = req.Amount
	r.Category = req.Category
	r.Frequency = req.Frequency
	if !due.Equal(r.NextDueDate) || r.AnchorDay == 0 {
		r.Reschedule(due)
	}
	r.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	r.Active = req.Active == nil || *req.Active
	return nil
}

func (h *RecurringHandler) ListRecurring(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	query := h.db.Where("user_id = ?", userID)
	if r.URL.Query().Get("active") == "true" {
		query = query.Where("active = ?", true)
	}
	list := []models.RecurringExpense{}
	if err := query.Order("next_due_date, id").Find(&list).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, list)
}

func (h *RecurringHandler) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	var req recurringRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	expense := models.RecurringExpense{UserID: userID}
	if err := req.apply(&expense); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	active := expense.Active
	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&expense).Error; err != nil {
			return err
		}
		// gorm omits a false bool on insert and reads the column default
		// back, so the requested state is written after the row exists.
		if err := tx.Model(&expense).Update("active", active).Error; err != nil {
			return err
		}
		expense.Active = active
		return nil
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(userID, invalidation.Recurring)
	utils.RespondWithJSON(w, http.StatusCreated, expense)
}

func (h *RecurringHandler) GetRecurring(w http.ResponseWriter, r *http.Request) {
	expense, ok := h.owned(w, r)
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, expense)
}

func (h *RecurringHandler) UpdateRecurring(w http.ResponseWriter, r *http.Request) {
	expense, ok := h.owned(w, r)
	if !ok {
		return
	}

	active := expense.Active
	req := recurringRequest{
		Description:   expense.Description,
		Amount:        expense.Amount,
		Category:      expense.Category,
		Frequency:     expense.Frequency,
		NextDueDate:   expense.NextDueDate.Format(utils.DateLayout),
		PaymentMethod: expense.PaymentMethod,
		Active:        &active,
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := req.apply(&expense); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := h.db.Save(&expense).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(expense.UserID, invalidation.Recurring)
	utils.RespondWithJSON(w, http.StatusOK, expense)
}

// DeleteRecurring keeps the transactions already recorded for the expense.
func (h *RecurringHandler) DeleteRecurring(w http.ResponseWriter, r *http.Request) {
	expense, ok := h.owned(w, r)
	if !ok {
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Transaction{}).
			Where("recurring_expense_id = ?", expense.ID).
			Update("recurring_expense_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&expense).Error
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(expense.UserID, invalidation.Recurring)
	utils.RespondNoContent(w)
}

type payRequest struct {
	Date   string           `json:"date"`
	Amount *decimal.Decimal `json:"amount"`
}

type payResponse struct {
	Transaction models.Transaction      `json:"transaction"`
	Recurring   models.RecurringExpense `json:"recurring"`
}

// PayRecurring records the current occurrence as paid and advances the
// next due date by one period.
func (h *RecurringHandler) PayRecurring(w http.ResponseWriter, r *http.Request) {
	expense, ok := h.owned(w, r)
	if !ok {
		return
	}

	var req payRequest
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &req); err != nil {
			utils.RespondWithError(w, r, err)
			return
		}
	}
	date := models.DateOnly(h.now())
	v := utils.NewValidator()
	v.Check(expense.Active, "recurring", "is paused")
	if req.Date != "" {
		v.Date(req.Date, "date", &date)
	}
	if req.Amount != nil {
		v.Positive(*req.Amount, "amount")
	}
	if err := v.Err(); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	transaction := occurrence(expense, date)
	if req.Amount != nil {
		transaction.Amount = *req.Amount
	}
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&transaction).Error; err != nil {
			return err
		}
		expense.LastPaidAt = &date
		expense.Advance()
		expense.RemindedFor = nil
		return tx.Model(&models.RecurringExpense{}).Where("id = ?", expense.ID).Updates(map[string]interface{}{
			"next_due_date": expense.NextDueDate,
			"last_paid_at":  expense.LastPaidAt,
			"reminded_for":  nil,
		}).Error
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.hooks.Written(transaction)
	h.inv.Changed(expense.UserID, invalidation.Recurring)
	utils.RespondWithJSON(w, http.StatusCreated, payResponse{Transaction: transaction, Recurring: expense})
}

func (h *RecurringHandler) owned(w http.ResponseWriter, r *http.Request) (models.RecurringExpense, bool) {
	var expense models.RecurringExpense
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return expense, false
	}
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, r, err)
		return expense, false
	}
	if err := utils.FindOwned(h.db, &expense, id, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return expense, false
	}
	return expense, true
}
