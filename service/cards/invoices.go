package cards

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/service/invalidation"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceCategory is the transaction category used for invoice payments.
const InvoiceCategory = "Credit Card"

type InvoiceResponse struct {
	models.Invoice
	Total decimal.Decimal `json:"total"`
}

func newInvoiceResponse(i models.Invoice) InvoiceResponse {
	return InvoiceResponse{Invoice: i, Total: i.Total()}
}

func (h *CardHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	card, ok := h.ownedCard(w, r)
	if !ok {
		return
	}

	query := h.db.Where("card_id = ?", card.ID)
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	var invoices []models.Invoice
	err := query.
		Preload("Purchases", func(db *gorm.DB) *gorm.DB { return db.Order("date, id") }).
		Order("year, month").
		Find(&invoices).Error
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	resp := make([]InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		resp = append(resp, newInvoiceResponse(inv))
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *CardHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, ok := h.ownedInvoice(w, r)
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, newInvoiceResponse(invoice))
}

type payRequest struct {
	Date          string `json:"date"`
	PaymentMethod string `json:"payment_method"`
}

// PayInvoice closes an invoice and records its total as an expense.
func (h *CardHandler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, ok := h.ownedInvoice(w, r)
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
	if req.Date != "" {
		v.Date(req.Date, "date", &date)
	}
	v.MaxLen(req.PaymentMethod, 50, "payment_method")
	v.Check(invoice.Status != models.InvoicePaid, "invoice", "is already paid")
	total := invoice.Total()
	v.Check(total.IsPositive(), "invoice", "has nothing to pay")
	if err := v.Err(); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	var card models.CreditCard
	if err := h.db.First(&card, invoice.CardID).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = "bank_transfer"
	}
	transaction := models.Transaction{
		UserID:        invoice.UserID,
		Type:          models.TypeExpense,
		Amount:        total,
		Category:      InvoiceCategory,
		Description:   fmt.Sprintf("%s invoice %02d/%d", card.Name, invoice.Month, invoice.Year),
		Date:          date,
		PaymentMethod: method,
		Source:        models.SourceInvoice,
		InvoiceID:     &invoice.ID,
	}
	paidAt := time.Now().UTC()
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&transaction).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Invoice{}).
			Where("id = ? AND status = ?", invoice.ID, models.InvoiceOpen).
			Updates(map[string]interface{}{
				"status":         models.InvoicePaid,
				"paid_at":        paidAt,
				"transaction_id": transaction.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.FieldError("invoice", "is already paid")
		}
		return nil
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	invoice.Status = models.InvoicePaid
	invoice.PaidAt = &paidAt
	invoice.TransactionID = &transaction.ID
	h.hooks.Written(transaction)
	h.inv.Changed(invoice.UserID, invalidation.Cards)
	utils.RespondWithJSON(w, http.StatusOK, newInvoiceResponse(invoice))
}

func (h *CardHandler) ownedInvoice(w http.ResponseWriter, r *http.Request) (models.Invoice, bool) {
	var invoice models.Invoice
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return invoice, false
	}
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, r, err)
		return invoice, false
	}
	if err := utils.FindOwned(h.db, &invoice, id, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return invoice, false
	}
	if err := h.db.Where("invoice_id = ?", invoice.ID).Order("date, id").Find(&invoice.Purchases).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return invoice, false
	}
	return invoice, true
}
