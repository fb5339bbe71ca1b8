package goals

import (
	"net/http"
	"strings"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/service/invalidation"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type GoalHandler struct {
	db  *gorm.DB
	inv *invalidation.Invalidator
	now func() time.Time
}

func NewGoalHandler(db *gorm.DB, inv *invalidation.Invalidator) *GoalHandler {
	return &GoalHandler{db: db, inv: inv, now: time.Now}
}

func (h *GoalHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/goals", h.ListGoals).Methods("GET")
	router.HandleFunc("/goals", h.CreateGoal).Methods("POST")
	router.HandleFunc("/goals/{id}", h.GetGoal).Methods("GET")
	router.HandleFunc("/goals/{id}", h.UpdateGoal).Methods("PUT")
	router.HandleFunc("/goals/{id}", h.DeleteGoal).Methods("DELETE")
	router.HandleFunc("/goals/{id}/contributions", h.ListContributions).Methods("GET")
	router.HandleFunc("/goals/{id}/contributions", h.AddContribution).Methods("POST")
	router.HandleFunc("/goals/{id}/contributions/{contributionId}", h.DeleteContribution).Methods("DELETE")
}

// GoalResponse adds the computed progress.
type GoalResponse struct {
	models.FinancialGoal
	Progress  decimal.Decimal `json:"progress"`
	Remaining decimal.Decimal `json:"remaining"`
}

func newGoalResponse(g models.FinancialGoal) GoalResponse {
	remaining := g.TargetAmount.Sub(g.CurrentAmount)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return GoalResponse{FinancialGoal: g, Progress: g.Progress(), Remaining: remaining}
}

type goalRequest struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	Deadline      string          `json:"deadline"`
	Status        string          `json:"status"`
}

func (req *goalRequest) apply(g *models.FinancialGoal) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Status == "" {
		req.Status = models.GoalActive
	}

	v := utils.NewValidator()
	v.Required(req.Name, "name")
	v.MaxLen(req.Name, 150, "name")
	v.MaxLen(req.Description, 2000, "description")
	v.Positive(req.TargetAmount, "target_amount")
	v.NonNegative(req.CurrentAmount, "current_amount")
	v.OneOf(req.Status, "status", models.GoalActive, models.GoalCompleted, models.GoalCancelled)
	var deadline *time.Time
	if req.Deadline != "" {
		var d time.Time
		v.Date(req.Deadline, "deadline", &d)
		deadline = &d
	}
	if err := v.Err(); err != nil {
		return err
	}

	g.Name = req.Name
	g.Description = req.Description
	g.TargetAmount = req.TargetAmount
	g.CurrentAmount = req.CurrentAmount
	g.Deadline = deadline
	g.Status = req.Status
	if g.Status == models.GoalActive && g.CurrentAmount.GreaterThanOrEqual(g.TargetAmount) {
		g.Status = models.GoalCompleted
	}
	return nil
}

func (h *GoalHandler) ListGoals(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	query := h.db.Where("user_id = ?", userID)
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	var goals []models.FinancialGoal
	if err := query.Order("deadline IS NULL, deadline, id").Find(&goals).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	resp := make([]GoalResponse, 0, len(goals))
	for _, g := range goals {
		resp = append(resp, newGoalResponse(g))
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *GoalHandler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	var req goalRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	goal := models.FinancialGoal{UserID: userID}
	if err := req.apply(&goal); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := h.db.Create(&goal).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(userID, invalidation.Goals)
	utils.RespondWithJSON(w, http.StatusCreated, newGoalResponse(goal))
}

func (h *GoalHandler) GetGoal(w http.ResponseWriter, r *http.Request) {
	goal, ok := h.ownedGoal(w, r)
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, newGoalResponse(goal))
}

func (h *GoalHandler) UpdateGoal(w http.ResponseWriter, r *http.Request) {
	goal, ok := h.ownedGoal(w, r)
	if !ok {
		return
	}

	req := goalRequest{
		Name:          goal.Name,
		Description:   goal.Description,
		TargetAmount:  goal.TargetAmount,
		CurrentAmount: goal.CurrentAmount,
		Status:        goal.Status,
	}
	if goal.Deadline != nil {
		req.Deadline = goal.Deadline.Format(utils.DateLayout)
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := req.apply(&goal); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := h.db.Omit("Contributions").Save(&goal).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(goal.UserID, invalidation.Goals)
	utils.RespondWithJSON(w, http.StatusOK, newGoalResponse(goal))
}

func (h *GoalHandler) DeleteGoal(w http.ResponseWriter, r *http.Request) {
	goal, ok := h.ownedGoal(w, r)
	if !ok {
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("goal_id = ?", goal.ID).Delete(&models.GoalContribution{}).Error; err != nil {
			return err
		}
		return tx.Delete(&goal).Error
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(goal.UserID, invalidation.Goals)
	utils.RespondNoContent(w)
}

func (h *GoalHandler) ListContributions(w http.ResponseWriter, r *http.Request) {
	goal, ok := h.ownedGoal(w, r)
	if !ok {
		return
	}

	contributions := []models.GoalContribution{}
	if err := h.db.Where("goal_id = ?", goal.ID).Order("date DESC, id DESC").Find(&contributions).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, contributions)
}

type contributionRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Date   string          `json:"date"`
	Note   string          `json:"note"`
}

type contributionResponse struct {
	Contribution models.GoalContribution `json:"contribution"`
	Goal         GoalResponse            `json:"goal"`
}

// AddContribution records money put towards a goal. The goal is completed
// once its target is reached.
func (h *GoalHandler) AddContribution(w http.ResponseWriter, r *http.Request) {
	goal, ok := h.ownedGoal(w, r)
	if !ok {
		return
	}
	if goal.Status == models.GoalCancelled {
		utils.RespondWithError(w, r, utils.FieldError("goal", "cannot contribute to a cancelled goal"))
		return
	}

	var req contributionRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	date := models.DateOnly(h.now())
	v := utils.NewValidator()
	v.Positive(req.Amount, "amount")
	v.MaxLen(req.Note, 255, "note")
	if req.Date != "" {
		v.Date(req.Date, "date", &date)
	}
	if err := v.Err(); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	contribution := models.GoalContribution{
		GoalID: goal.ID,
		UserID: goal.UserID,
		Amount: req.Amount,
		Date:   date,
		Note:   strings.TrimSpace(req.Note),
	}
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&contribution).Error; err != nil {
			return err
		}
		return adjustProgress(tx, &goal, req.Amount)
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(goal.UserID, invalidation.Goals)
	utils.RespondWithJSON(w, http.StatusCreated, contributionResponse{Contribution: contribution, Goal: newGoalResponse(goal)})
}

// DeleteContribution reverses a contribution; a completed goal that drops
// below its target becomes active again.
func (h *GoalHandler) DeleteContribution(w http.ResponseWriter, r *http.Request) {
	goal, ok := h.ownedGoal(w, r)
	if !ok {
		return
	}
	contributionID, err := utils.PathID(r, "contributionId")
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	var contribution models.GoalContribution
	if err := utils.FindOwned(h.db, &contribution, contributionID, goal.UserID); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if contribution.GoalID != goal.ID {
		utils.RespondWithError(w, r, utils.NotFound("Contribution not found for this goal"))
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&contribution).Error; err != nil {
			return err
		}
		return adjustProgress(tx, &goal, contribution.Amount.Neg())
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(goal.UserID, invalidation.Goals)
	utils.RespondNoContent(w)
}

// adjustProgress adds delta to the stored amount in SQL and recomputes the
// status from the row as it is now, not from the copy read before the
// transaction. The UPDATE holds the row lock until commit, so concurrent
// contributions queue up instead of overwriting each other.
func adjustProgress(tx *gorm.DB, g *models.FinancialGoal, delta decimal.Decimal) error {
	if err := tx.Model(&models.FinancialGoal{}).Where("id = ?", g.ID).
		Update("current_amount", gorm.Expr("current_amount + ?", delta)).Error; err != nil {
		return err
	}
	var fresh models.FinancialGoal
	if err := tx.First(&fresh, g.ID).Error; err != nil {
		return err
	}

	fresh.CurrentAmount = fresh.CurrentAmount.Round(2)
	if fresh.CurrentAmount.IsNegative() {
		fresh.CurrentAmount = decimal.Zero
	}
	reached := fresh.CurrentAmount.GreaterThanOrEqual(fresh.TargetAmount)
	switch {
	case delta.IsPositive() && reached && fresh.Status == models.GoalActive:
		fresh.Status = models.GoalCompleted
	case delta.IsNegative() && !reached && fresh.Status == models.GoalCompleted:
		fresh.Status = models.GoalActive
	}
	*g = fresh
	return saveProgress(tx, g)
}

func saveProgress(tx *gorm.DB, g *models.FinancialGoal) error {
	return tx.Model(&models.FinancialGoal{}).Where("id = ?", g.ID).Updates(map[string]interface{}{
		"current_amount": g.CurrentAmount,
		"status":         g.Status,
	}).Error
}

func (h *GoalHandler) ownedGoal(w http.ResponseWriter, r *http.Request) (models.FinancialGoal, bool) {
	var goal models.FinancialGoal
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return goal, false
	}
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, r, err)
		return goal, false
	}
	if err := utils.FindOwned(h.db, &goal, id, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return goal, false
	}
	return goal, true
}
