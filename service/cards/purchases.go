package cards

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/service/invalidation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type purchaseRequest struct {
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	Amount       decimal.Decimal `json:"amount"`
	Installments int             `json:"installments"`
	Date         string          `json:"date"`
}

type purchaseResponse struct {
	GroupID      string            `json:"group_id"`
	Installments []models.Purchase `json:"installments"`
}

// AddPurchase spreads a purchase over consecutive invoices, creating the
// invoices it needs.
func (h *CardHandler) AddPurchase(w http.ResponseWriter, r *http.Request) {
	card, ok := h.ownedCard(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	req.Description = strings.TrimSpace(req.Description)
	req.Category = strings.TrimSpace(req.Category)
	if req.Installments == 0 {
		req.Installments = 1
	}
	date := models.DateOnly(h.now())

	v := utils.NewValidator()
	v.MaxLen(req.Description, 500, "description")
	v.Required(req.Category, "category")
	v.MaxLen(req.Category, 100, "category")
	v.Positive(req.Amount, "amount")
	v.Check(req.Amount.Equal(req.Amount.Round(2)), "amount", "must have at most two decimal places")
	v.Between(req.Installments, 1, maxInstallments, "installments")
	if req.Date != "" {
		v.Date(req.Date, "date", &date)
	}
	if err := v.Err(); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	resp := purchaseResponse{GroupID: uuid.NewString()}
	err := h.db.Transaction(func(tx *gorm.DB) error {
		used, err := usedByCard(tx, card.UserID)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(card.Limit.Sub(used[card.ID])) {
			return utils.FieldError("amount", "exceeds the available limit")
		}

		month, year := FirstInvoiceMonth(card, date)
		start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		for i, amount := range SplitInstallments(req.Amount, req.Installments) {
			at := start.AddDate(0, i, 0)
			invoice, err := invoiceFor(tx, card, int(at.Month()), at.Year())
			if err != nil {
				return err
			}
			p := models.Purchase{
				InvoiceID:         invoice.ID,
				CardID:            card.ID,
				UserID:            card.UserID,
				GroupID:           resp.GroupID,
				Description:       req.Description,
				Category:          req.Category,
				Amount:            amount,
				TotalAmount:       req.Amount,
				InstallmentNumber: i + 1,
				InstallmentCount:  req.Installments,
				Date:              date,
			}
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
			resp.Installments = append(resp.Installments, p)
		}
		return nil
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(card.UserID, invalidation.Cards)
	utils.RespondWithJSON(w, http.StatusCreated, resp)
}

// invoiceFor returns the card's invoice for the month, creating it when
// missing. Paid invoices are closed to new installments.
func invoiceFor(tx *gorm.DB, card models.CreditCard, month, year int) (models.Invoice, error) {
	var invoice models.Invoice
	err := tx.Where("card_id = ? AND month = ? AND year = ?", card.ID, month, year).First(&invoice).Error
	switch {
	case err == nil:
		if invoice.Status == models.InvoicePaid {
			return invoice, utils.FieldError("date", fmt.Sprintf("the invoice for %02d/%d is already paid", month, year))
		}
		return invoice, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		invoice = models.Invoice{
			CardID:  card.ID,
			UserID:  card.UserID,
			Month:   month,
			Year:    year,
			DueDate: DueDate(card, month, year),
			Status:  models.InvoiceOpen,
		}
		return invoice, tx.Create(&invoice).Error
	default:
		return invoice, err
	}
}

func (h *CardHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	card, ok := h.ownedCard(w, r)
	if !ok {
		return
	}

	purchases := []models.Purchase{}
	if err := h.db.Where("card_id = ?", card.ID).
		Order("date DESC, group_id, installment_number").
		Find(&purchases).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, purchases)
}

// DeletePurchase removes every installment of the purchase that sits on an
// unpaid invoice. Installments already paid stay on their invoices.
func (h *CardHandler) DeletePurchase(w http.ResponseWriter, r *http.Request) {
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

	var purchase models.Purchase
	if err := utils.FindOwned(h.db, &purchase, id, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&models.Purchase{}).
			Joins("JOIN invoices ON invoices.id = purchases.invoice_id").
			Where("purchases.group_id = ? AND invoices.status = ?", purchase.GroupID, models.InvoiceOpen).
			Pluck("purchases.id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return utils.FieldError("purchase", "all installments are on paid invoices")
		}
		return tx.Where("id IN ?", ids).Delete(&models.Purchase{}).Error
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(userID, invalidation.Cards)
	utils.RespondNoContent(w)
}
