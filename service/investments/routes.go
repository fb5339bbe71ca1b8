package investments

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

type InvestmentHandler struct {
	db  *gorm.DB
	inv *invalidation.Invalidator
	now func() time.Time
}

func NewInvestmentHandler(db *gorm.DB, inv *invalidation.Invalidator) *InvestmentHandler {
	return &InvestmentHandler{db: db, inv: inv, now: time.Now}
}

func (h *InvestmentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/investments", h.ListInvestments).Methods("GET")
	router.HandleFunc("/investments", h.CreateInvestment).Methods("POST")
	router.HandleFunc("/investments/{id}", h.GetInvestment).Methods("GET")
	router.HandleFunc("/investments/{id}", h.UpdateInvestment).Methods("PUT")
	router.HandleFunc("/investments/{id}", h.DeleteInvestment).Methods("DELETE")
	router.HandleFunc("/investments/{id}/operations", h.ListOperations).Methods("GET")
	router.HandleFunc("/investments/{id}/operations", h.AddOperation).Methods("POST")
	router.HandleFunc("/investments/{id}/operations/{operationId}", h.DeleteOperation).Methods("DELETE")
}

type InvestmentResponse struct {
	models.Investment
	MarketValue    decimal.Decimal  `json:"market_value"`
	UnrealizedGain decimal.Decimal  `json:"unrealized_gain"`
	RealizedGain   *decimal.Decimal `json:"realized_gain,omitempty"`
}

func newInvestmentResponse(i models.Investment) InvestmentResponse {
	return InvestmentResponse{Investment: i, MarketValue: i.MarketValue(), UnrealizedGain: i.UnrealizedGain()}
}

type investmentRequest struct {
	Name         string          `json:"name"`
	Ticker       string          `json:"ticker"`
	Type         string          `json:"type"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Notes        string          `json:"notes"`
}

func (req *investmentRequest) apply(i *models.Investment) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))

	v := utils.NewValidator()
	v.Required(req.Name, "name")
	v.MaxLen(req.Name, 150, "name")
	v.MaxLen(req.Ticker, 20, "ticker")
	v.OneOf(req.Type, "type", models.InvestmentTypes...)
	v.NonNegative(req.CurrentPrice, "current_price")
	v.MaxLen(req.Notes, 2000, "notes")
	if err := v.Err(); err != nil {
		return err
	}

	i.Name = req.Name
	i.Ticker = req.Ticker
	i.Type = req.Type
	i.CurrentPrice = req.CurrentPrice
	i.Notes = req.Notes
	return nil
}

func (h *InvestmentHandler) ListInvestments(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	query := h.db.Where("user_id = ?", userID)
	if t := r.URL.Query().Get("type"); t != "" {
		query = query.Where("type = ?", t)
	}
	var list []models.Investment
	if err := query.Order("name").Find(&list).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	resp := make([]InvestmentResponse, 0, len(list))
	for _, i := range list {
		resp = append(resp, newInvestmentResponse(i))
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *InvestmentHandler) CreateInvestment(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	var req investmentRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	investment := models.Investment{UserID: userID}
	if err := req.apply(&investment); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := h.db.Create(&investment).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(userID, invalidation.Investments)
	utils.RespondWithJSON(w, http.StatusCreated, newInvestmentResponse(investment))
}

// GetInvestment includes the operations and the realised result.
func (h *InvestmentHandler) GetInvestment(w http.ResponseWriter, r *http.Request) {
	investment, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.db.Where("investment_id = ?", investment.ID).Order("date, id").Find(&investment.Operations).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	resp := newInvestmentResponse(investment)
	if p, err := Replay(investment.Operations); err == nil {
		resp.RealizedGain = &p.Realized
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *InvestmentHandler) UpdateInvestment(w http.ResponseWriter, r *http.Request) {
	investment, ok := h.owned(w, r)
	if !ok {
		return
	}

	req := investmentRequest{
		Name:         investment.Name,
		Ticker:       investment.Ticker,
		Type:         investment.Type,
		CurrentPrice: investment.CurrentPrice,
		Notes:        investment.Notes,
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := req.apply(&investment); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := h.db.Omit("Operations").Save(&investment).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(investment.UserID, invalidation.Investments)
	utils.RespondWithJSON(w, http.StatusOK, newInvestmentResponse(investment))
}

func (h *InvestmentHandler) DeleteInvestment(w http.ResponseWriter, r *http.Request) {
	investment, ok := h.owned(w, r)
	if !ok {
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("investment_id = ?", investment.ID).Delete(&models.Operation{}).Error; err != nil {
			return err
		}
		return tx.Delete(&investment).Error
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(investment.UserID, invalidation.Investments)
	utils.RespondNoContent(w)
}

func (h *InvestmentHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	investment, ok := h.owned(w, r)
	if !ok {
		return
	}

	ops := []models.Operation{}
	if err := h.db.Where("investment_id = ?", investment.ID).Order("date DESC, id DESC").Find(&ops).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, ops)
}

type operationRequest struct {
	Kind      string          `json:"kind"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Fees      decimal.Decimal `json:"fees"`
	Date      string          `json:"date"`
	Notes     string          `json:"notes"`
}

type operationResponse struct {
	Operation  models.Operation   `json:"operation"`
	Investment InvestmentResponse `json:"investment"`
}

// AddOperation records a buy, sell or dividend and recomputes the position.
// For dividends unit_price is the cash received and quantity is ignored.
func (h *InvestmentHandler) AddOperation(w http.ResponseWriter, r *http.Request) {
	investment, ok := h.owned(w, r)
	if !ok {
		return
	}

	var req operationRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
	date := models.DateOnly(h.now())

	v := utils.NewValidator()
	v.OneOf(req.Kind, "kind", models.OperationBuy, models.OperationSell, models.OperationDividend)
	if req.Kind == models.OperationDividend {
		req.Quantity = decimal.Zero
	} else {
		v.Positive(req.Quantity, "quantity")
	}
	v.Positive(req.UnitPrice, "unit_price")
	v.NonNegative(req.Fees, "fees")
	v.MaxLen(req.Notes, 2000, "notes")
	if req.Date != "" {
		v.Date(req.Date, "date", &date)
	}
	if err := v.Err(); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	op := models.Operation{
		InvestmentID: investment.ID,
		UserID:       investment.UserID,
		Kind:         req.Kind,
		Quantity:     req.Quantity,
		UnitPrice:    req.UnitPrice,
		Fees:         req.Fees,
		Date:         date,
		Notes:        req.Notes,
	}
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&op).Error; err != nil {
			return err
		}
		return recompute(tx, &investment)
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(investment.UserID, invalidation.Investments)
	utils.RespondWithJSON(w, http.StatusCreated, operationResponse{Operation: op, Investment: newInvestmentResponse(investment)})
}

// DeleteOperation removes an operation unless that would leave a later sell
// uncovered.
func (h *InvestmentHandler) DeleteOperation(w http.ResponseWriter, r *http.Request) {
	investment, ok := h.owned(w, r)
	if !ok {
		return
	}
	opID, err := utils.PathID(r, "operationId")
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	var op models.Operation
	if err := utils.FindOwned(h.db, &op, opID, investment.UserID); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if op.InvestmentID != investment.ID {
		utils.RespondWithError(w, r, utils.NotFound("Operation not found for this investment"))
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&op).Error; err != nil {
			return err
		}
		return recompute(tx, &investment)
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(investment.UserID, invalidation.Investments)
	utils.RespondNoContent(w)
}

// recompute replays every operation of the investment inside tx and stores
// the resulting position. A replay error rolls the caller's write back.
func recompute(tx *gorm.DB, investment *models.Investment) error {
	var ops []models.Operation
	if err := tx.Where("investment_id = ?", investment.ID).Find(&ops).Error; err != nil {
		return err
	}
	p, err := Replay(ops)
	if err != nil {
		return err
	}
	p.applyTo(investment)
	return tx.Model(&models.Investment{}).Where("id = ?", investment.ID).Updates(map[string]interface{}{
		"quantity":       investment.Quantity,
		"average_price":  investment.AveragePrice,
		"total_invested": investment.TotalInvested,
		"dividends":      investment.Dividends,
	}).Error
}

func (h *InvestmentHandler) owned(w http.ResponseWriter, r *http.Request) (models.Investment, bool) {
	var investment models.Investment
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return investment, false
	}
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, r, err)
		return investment, false
	}
	if err := utils.FindOwned(h.db, &investment, id, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return investment, false
	}
	return investment, true
}
