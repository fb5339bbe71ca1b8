package templates

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

type TemplateHandler struct {
	db    *gorm.DB
	inv   *invalidation.Invalidator
	hooks transactions.Hooks
	now   func() time.Time
}

func NewTemplateHandler(db *gorm.DB, inv *invalidation.Invalidator, hooks transactions.Hooks) *TemplateHandler {
	return &TemplateHandler{db: db, inv: inv, hooks: hooks, now: time.Now}
}

func (h *TemplateHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/templates", h.ListTemplates).Methods("GET")
	router.HandleFunc("/templates", h.CreateTemplate).Methods("POST")
	router.HandleFunc("/templates/{id}", h.GetTemplate).Methods("GET")
	router.HandleFunc("/templates/{id}", h.UpdateTemplate).Methods("PUT")
	router.HandleFunc("/templates/{id}", h.DeleteTemplate).Methods("DELETE")
	router.HandleFunc("/templates/{id}/apply", h.ApplyTemplate).Methods("POST")
}

type templateRequest struct {
	Name string `json:"name"`
	transactions.Input
}

// apply validates through the transaction rules so a template can always
// be turned into a valid transaction.
func (req *templateRequest) apply(t *models.TransactionTemplate, userID uint, now time.Time) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Date = ""

	v := utils.NewValidator()
	v.Required(req.Name, "name")
	v.MaxLen(req.Name, 100, "name")
	nameErr := v.Err()

	built, err := req.Input.Build(userID, now)
	if err != nil || nameErr != nil {
		return mergeErrors(nameErr, err)
	}

	t.Name = req.Name
	t.Type = built.Type
	t.Amount = built.Amount
	t.Category = built.Category
	t.Description = built.Description
	t.PaymentMethod = built.PaymentMethod
	return nil
}

func mergeErrors(errs ...error) error {
	fields := map[string]string{}
	for _, err := range errs {
		if verr, ok := err.(*utils.ValidationError); ok {
			for k, v := range verr.Fields {
				fields[k] = v
			}
		} else if err != nil {
			return err
		}
	}
	return &utils.ValidationError{Fields: fields}
}

func (h *TemplateHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	list := []models.TransactionTemplate{}
	if err := h.db.Where("user_id = ?", userID).Order("name").Find(&list).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, list)
}

func (h *TemplateHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	var req templateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	tmpl := models.TransactionTemplate{UserID: userID}
	if err := req.apply(&tmpl, userID, h.now()); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := h.db.Create(&tmpl).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(userID, invalidation.Templates)
	utils.RespondWithJSON(w, http.StatusCreated, tmpl)
}

func (h *TemplateHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := h.owned(w, r)
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, tmpl)
}

func (h *TemplateHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := h.owned(w, r)
	if !ok {
		return
	}

	req := templateRequest{
		Name: tmpl.Name,
		Input: transactions.Input{
			Type:          tmpl.Type,
			Amount:        tmpl.Amount,
			Category:      tmpl.Category,
			Description:   tmpl.Description,
			PaymentMethod: tmpl.PaymentMethod,
		},
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := req.apply(&tmpl, tmpl.UserID, h.now()); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := h.db.Save(&tmpl).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(tmpl.UserID, invalidation.Templates)
	utils.RespondWithJSON(w, http.StatusOK, tmpl)
}

func (h *TemplateHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.db.Delete(&tmpl).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(tmpl.UserID, invalidation.Templates)
	utils.RespondNoContent(w)
}

type applyRequest struct {
	Date   string           `json:"date"`
	Amount *decimal.Decimal `json:"amount"`
	Notes  string           `json:"notes"`
}

// ApplyTemplate creates a transaction from the template. Date and amount
// may be overridden.
func (h *TemplateHandler) ApplyTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := h.owned(w, r)
	if !ok {
		return
	}

	var req applyRequest
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &req); err != nil {
			utils.RespondWithError(w, r, err)
			return
		}
	}

	in := transactions.Input{
		Type:          tmpl.Type,
		Amount:        tmpl.Amount,
		Category:      tmpl.Category,
		Description:   tmpl.Description,
		Notes:         req.Notes,
		Date:          req.Date,
		PaymentMethod: tmpl.PaymentMethod,
	}
	if req.Amount != nil {
		in.Amount = *req.Amount
	}
	transaction, err := in.Build(tmpl.UserID, h.now())
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	transaction.Source = models.SourceTemplate
	if err := h.db.Create(&transaction).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.hooks.Written(transaction)
	utils.RespondWithJSON(w, http.StatusCreated, transaction)
}

func (h *TemplateHandler) owned(w http.ResponseWriter, r *http.Request) (models.TransactionTemplate, bool) {
	var tmpl models.TransactionTemplate
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return tmpl, false
	}
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, r, err)
		return tmpl, false
	}
	if err := utils.FindOwned(h.db, &tmpl, id, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return tmpl, false
	}
	return tmpl, true
}
