package transactions

import (
	"errors"
	"net/http"
	"strconv"
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

// maxBatch bounds POST /transactions/batch.
const maxBatch = 500

// TransactionFilter represents all possible filters for transactions
type TransactionFilter struct {
	Type      string
	Category  string
	Search    string
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	StartDate time.Time
	EndDate   time.Time
}

// ParseFilter reads the list filters from the query string. Dates are
// inclusive.
func ParseFilter(r *http.Request) (TransactionFilter, error) {
	q := r.URL.Query()
	f := TransactionFilter{
		Type:     strings.ToLower(q.Get("type")),
		Category: q.Get("category"),
		Search:   strings.ToLower(strings.TrimSpace(q.Get("search"))),
	}

	v := utils.NewValidator()
	if f.Type != "" {
		v.OneOf(f.Type, "type", models.TypeIncome, models.TypeExpense)
	}
	for _, p := range []struct {
		name string
		dst  **decimal.Decimal
	}{{"min_amount", &f.MinAmount}, {"max_amount", &f.MaxAmount}} {
		if s := q.Get(p.name); s != "" {
			d, err := decimal.NewFromString(s)
			if err != nil {
				v.Add(p.name, "must be a number")
				continue
			}
			*p.dst = &d
		}
	}
	if s := q.Get("start_date"); s != "" {
		v.Date(s, "start_date", &f.StartDate)
	}
	if s := q.Get("end_date"); s != "" {
		v.Date(s, "end_date", &f.EndDate)
	}
	if !f.StartDate.IsZero() && !f.EndDate.IsZero() {
		v.Check(!f.EndDate.Before(f.StartDate), "end_date", "must not be before start_date")
	}
	return f, v.Err()
}

// Apply adds the SQL-expressible filters. Search runs over decrypted text
// and is applied by Matches after loading.
func (f TransactionFilter) Apply(query *gorm.DB) *gorm.DB {
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.Category != "" {
		query = query.Where("category = ?", f.Category)
	}
	if f.MinAmount != nil {
		query = query.Where("amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		query = query.Where("amount <= ?", *f.MaxAmount)
	}
	if !f.StartDate.IsZero() {
		query = query.Where("date >= ?", f.StartDate)
	}
	if !f.EndDate.IsZero() {
		query = query.Where("date < ?", f.EndDate.AddDate(0, 0, 1))
	}
	return query
}

// Matches applies the free-text search.
func (f TransactionFilter) Matches(t models.Transaction) bool {
	if f.Search == "" {
		return true
	}
	for _, s := range []string{t.Description, t.Notes, t.Category, t.PaymentMethod} {
		if strings.Contains(strings.ToLower(s), f.Search) {
			return true
		}
	}
	return false
}

type TransactionHandler struct {
	db    *gorm.DB
	cache *cache.Cache
	hooks Hooks
	now   func() time.Time
}

func NewTransactionHandler(db *gorm.DB, c *cache.Cache, hooks Hooks) *TransactionHandler {
	return &TransactionHandler{db: db, cache: c, hooks: hooks, now: time.Now}
}

// RegisterRoutes registers transaction-related routes with Gorilla Mux
func (h *TransactionHandler) RegisterRoutes(router *mux.Router) {
	transactionRouter := router.PathPrefix("/transactions").Subrouter()

	transactionRouter.HandleFunc("", h.GetTransactions).Methods("GET")
	transactionRouter.HandleFunc("", h.CreateTransaction).Methods("POST")
	transactionRouter.HandleFunc("/batch", h.CreateBatchTransactions).Methods("POST")
	transactionRouter.HandleFunc("/categories", h.GetCategories).Methods("GET")
	transactionRouter.HandleFunc("/{id:[0-9]+}", h.GetTransaction).Methods("GET")
	transactionRouter.HandleFunc("/{id:[0-9]+}", h.UpdateTransaction).Methods("PUT")
	transactionRouter.HandleFunc("/{id:[0-9]+}", h.DeleteTransaction).Methods("DELETE")
}

// GetTransactions handles retrieving transactions with various filters
func (h *TransactionHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}
	filter, err := ParseFilter(r)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	page, perPage, err := utils.ParsePaginationParams(r)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	key := invalidation.Key(userID, invalidation.Transactions, r.URL.Query().Encode())
	resp, err := h.cache.GetOrLoad(key, 0, func() (interface{}, error) {
		return h.list(userID, filter, page, perPage)
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *TransactionHandler) list(userID uint, filter TransactionFilter, page, perPage int) (utils.PaginatedResponse, error) {
	query := filter.Apply(h.db.Model(&models.Transaction{}).Where("user_id = ?", userID)).
		Order("date DESC, id DESC")
	offset := (page - 1) * perPage

	if filter.Search == "" {
		var totalItems int64
		if err := query.Count(&totalItems).Error; err != nil {
			return utils.PaginatedResponse{}, err
		}
		transactions := []models.Transaction{}
		if err := query.Limit(perPage).Offset(offset).Find(&transactions).Error; err != nil {
			return utils.PaginatedResponse{}, err
		}
		return utils.PaginatedResponse{
			Data:       transactions,
			Pagination: utils.NewPaginationMeta(page, perPage, totalItems),
		}, nil
	}

	// Descriptions are encrypted at rest, so searching has to happen after
	// decryption and pagination is applied to the matches.
	var all []models.Transaction
	if err := query.Find(&all).Error; err != nil {
		return utils.PaginatedResponse{}, err
	}
	matches := make([]models.Transaction, 0, len(all))
	for _, t := range all {
		if filter.Matches(t) {
			matches = append(matches, t)
		}
	}

	start := min(offset, len(matches))
	end := min(start+perPage, len(matches))
	return utils.PaginatedResponse{
		Data:       matches[start:end],
		Pagination: utils.NewPaginationMeta(page, perPage, int64(len(matches))),
	}, nil
}

func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	var in Input
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	transaction, err := in.Build(userID, h.now())
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := h.db.Create(&transaction).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.hooks.Written(transaction)
	utils.RespondWithJSON(w, http.StatusCreated, transaction)
}

type BatchTransactionRequest struct {
	Transactions []Input `json:"transactions"`
}

// CreateBatchTransactions inserts several transactions atomically. One
// invalid entry rejects the whole batch.
func (h *TransactionHandler) CreateBatchTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	var batchRequest BatchTransactionRequest
	if err := utils.DecodeJSON(r, &batchRequest); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if len(batchRequest.Transactions) == 0 {
		utils.RespondWithError(w, r, utils.FieldError("transactions", "must not be empty"))
		return
	}
	if len(batchRequest.Transactions) > maxBatch {
		utils.RespondWithError(w, r, utils.FieldError("transactions", "must contain at most 500 entries"))
		return
	}

	now := h.now()
	fields := map[string]string{}
	built := make([]models.Transaction, 0, len(batchRequest.Transactions))
	for i, in := range batchRequest.Transactions {
		t, err := in.Build(userID, now)
		var verr *utils.ValidationError
		if errors.As(err, &verr) {
			for field, msg := range verr.Fields {
				fields["transactions["+strconv.Itoa(i)+"]."+field] = msg
			}
			continue
		}
		built = append(built, t)
	}
	if len(fields) > 0 {
		utils.RespondWithError(w, r, &utils.ValidationError{Fields: fields})
		return
	}

	if err := h.db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&built, 100).Error
	}); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.hooks.Written(built...)
	utils.RespondWithJSON(w, http.StatusCreated, built)
}

func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
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

	var transaction models.Transaction
	if err := utils.FindOwned(h.db, &transaction, id, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, transaction)
}

func (h *TransactionHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
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

	var transaction models.Transaction
	if err := utils.FindOwned(h.db, &transaction, id, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	in := Input{Date: transaction.Date.Format(utils.DateLayout)}
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	updated, err := in.Build(userID, h.now())
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	before := transaction
	transaction.Type = updated.Type
	transaction.Amount = updated.Amount
	transaction.Category = updated.Category
	transaction.Description = updated.Description
	transaction.Notes = updated.Notes
	transaction.Date = updated.Date
	transaction.PaymentMethod = updated.PaymentMethod
	if err := h.db.Save(&transaction).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	// The old category and period may have dropped below an alert level.
	h.hooks.Written(before, transaction)
	utils.RespondWithJSON(w, http.StatusOK, transaction)
}

func (h *TransactionHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
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

	var transaction models.Transaction
	if err := utils.FindOwned(h.db, &transaction, id, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := h.db.Delete(&transaction).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.hooks.Written(transaction)
	utils.RespondNoContent(w)
}

// GetCategories lists the distinct categories the user has used.
func (h *TransactionHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	key := invalidation.Key(userID, invalidation.Categories, "all")
	categories, err := h.cache.GetOrLoad(key, 0, func() (interface{}, error) {
		categories := []string{}
		err := h.db.Model(&models.Transaction{}).
			Where("user_id = ?", userID).
			Distinct("category").
			Order("category").
			Pluck("category", &categories).Error
		return categories, err
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, categories)
}
