package cards

import (
	"net/http"
	"regexp"
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

var lastFourPattern = regexp.MustCompile(`^[0-9]{4}$`)

// maxInstallments caps how many invoices one purchase may be spread over.
const maxInstallments = 48

type CardHandler struct {
	db    *gorm.DB
	inv   *invalidation.Invalidator
	hooks transactions.Hooks
	now   func() time.Time
}

func NewCardHandler(db *gorm.DB, inv *invalidation.Invalidator, hooks transactions.Hooks) *CardHandler {
	return &CardHandler{db: db, inv: inv, hooks: hooks, now: time.Now}
}

func (h *CardHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/cards", h.ListCards).Methods("GET")
	router.HandleFunc("/cards", h.CreateCard).Methods("POST")
	router.HandleFunc("/cards/{id}", h.GetCard).Methods("GET")
	router.HandleFunc("/cards/{id}", h.UpdateCard).Methods("PUT")
	router.HandleFunc("/cards/{id}", h.DeleteCard).Methods("DELETE")
	router.HandleFunc("/cards/{id}/purchases", h.ListPurchases).Methods("GET")
	router.HandleFunc("/cards/{id}/purchases", h.AddPurchase).Methods("POST")
	router.HandleFunc("/cards/{id}/invoices", h.ListInvoices).Methods("GET")
	router.HandleFunc("/invoices/{id}", h.GetInvoice).Methods("GET")
	router.HandleFunc("/invoices/{id}/pay", h.PayInvoice).Methods("POST")
	router.HandleFunc("/purchases/{id}", h.DeletePurchase).Methods("DELETE")
}

// CardResponse adds the limit still available, i.e. the limit minus every
// installment on an unpaid invoice.
type CardResponse struct {
	models.CreditCard
	Used      decimal.Decimal `json:"used"`
	Available decimal.Decimal `json:"available"`
}

type cardRequest struct {
	Name       string          `json:"name"`
	LastFour   string          `json:"last_four"`
	Limit      decimal.Decimal `json:"limit"`
	ClosingDay int             `json:"closing_day"`
	DueDay     int             `json:"due_day"`
}

func (req *cardRequest) apply(c *models.CreditCard) error {
	req.Name = strings.TrimSpace(req.Name)
	req.LastFour = strings.TrimSpace(req.LastFour)

	v := utils.NewValidator()
	v.Required(req.Name, "name")
	v.MaxLen(req.Name, 100, "name")
	v.Check(req.LastFour == "" || lastFourPattern.MatchString(req.LastFour), "last_four", "must be four digits")
	v.Positive(req.Limit, "limit")
	v.Between(req.ClosingDay, 1, 31, "closing_day")
	v.Between(req.DueDay, 1, 31, "due_day")
	if err := v.Err(); err != nil {
		return err
	}

	c.Name = req.Name
	c.LastFour = req.LastFour
	c.Limit = req.Limit
	c.ClosingDay = req.ClosingDay
	c.DueDay = req.DueDay
	return nil
}

func (h *CardHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	var list []models.CreditCard
	if err := h.db.Where("user_id = ?", userID).Order("name").Find(&list).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	used, err := usedByCard(h.db, userID)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	resp := make([]CardResponse, 0, len(list))
	for _, c := range list {
		resp = append(resp, newCardResponse(c, used[c.ID]))
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *CardHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	var req cardRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	card := models.CreditCard{UserID: userID}
	if err := req.apply(&card); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := h.db.Create(&card).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(userID, invalidation.Cards)
	utils.RespondWithJSON(w, http.StatusCreated, newCardResponse(card, decimal.Zero))
}

func (h *CardHandler) GetCard(w http.ResponseWriter, r *http.Request) {
	card, ok := h.ownedCard(w, r)
	if !ok {
		return
	}
	resp, err := h.cardResponse(card)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *CardHandler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	card, ok := h.ownedCard(w, r)
	if !ok {
		return
	}

	req := cardRequest{
		Name:       card.Name,
		LastFour:   card.LastFour,
		Limit:      card.Limit,
		ClosingDay: card.ClosingDay,
		DueDay:     card.DueDay,
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := req.apply(&card); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := h.db.Omit("Invoices").Save(&card).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(card.UserID, invalidation.Cards)
	resp, err := h.cardResponse(card)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// DeleteCard removes the card with its invoices and installments. Expense
// transactions recorded for paid invoices are kept.
func (h *CardHandler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	card, ok := h.ownedCard(w, r)
	if !ok {
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("card_id = ?", card.ID).Delete(&models.Purchase{}).Error; err != nil {
			return err
		}
		if err := tx.Where("card_id = ?", card.ID).Delete(&models.Invoice{}).Error; err != nil {
			return err
		}
		return tx.Delete(&card).Error
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(card.UserID, invalidation.Cards)
	utils.RespondNoContent(w)
}

func newCardResponse(c models.CreditCard, used decimal.Decimal) CardResponse {
	return CardResponse{CreditCard: c, Used: used, Available: c.Limit.Sub(used)}
}

func (h *CardHandler) cardResponse(c models.CreditCard) (CardResponse, error) {
	used, err := usedByCard(h.db, c.UserID)
	if err != nil {
		return CardResponse{}, err
	}
	return newCardResponse(c, used[c.ID]), nil
}

// usedByCard sums installments on open invoices per card.
func usedByCard(tx *gorm.DB, userID uint) (map[uint]decimal.Decimal, error) {
	var rows []struct {
		CardID uint
		Amount decimal.Decimal
	}
	err := tx.Model(&models.Purchase{}).
		Select("purchases.card_id, purchases.amount").
		Joins("JOIN invoices ON invoices.id = purchases.invoice_id").
		Where("purchases.user_id = ? AND invoices.status = ?", userID, models.InvoiceOpen).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	used := make(map[uint]decimal.Decimal)
	for _, row := range rows {
		used[row.CardID] = used[row.CardID].Add(row.Amount)
	}
	return used, nil
}

func (h *CardHandler) ownedCard(w http.ResponseWriter, r *http.Request) (models.CreditCard, bool) {
	var card models.CreditCard
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return card, false
	}
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, r, err)
		return card, false
	}
	if err := utils.FindOwned(h.db, &card, id, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return card, false
	}
	return card, true
}
