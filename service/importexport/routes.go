// Package importexport moves transactions in and out of CSV and xlsx files
// and produces full spreadsheet backups.
package importexport

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/service/transactions"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	maxImportSize = 5 << 20
	maxImportRows = 5000
)

type ImportExportHandler struct {
	db    *gorm.DB
	hooks transactions.Hooks
	now   func() time.Time
}

func NewImportExportHandler(db *gorm.DB, hooks transactions.Hooks) *ImportExportHandler {
	return &ImportExportHandler{db: db, hooks: hooks, now: time.Now}
}

func (h *ImportExportHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/export/transactions", h.ExportTransactions).Methods("GET")
	router.HandleFunc("/export/backup", h.ExportBackup).Methods("GET")
	router.HandleFunc("/import/transactions", h.ImportTransactions).Methods("POST")
	router.HandleFunc("/import/transactions/{batchId}", h.UndoImport).Methods("DELETE")
}

func (h *ImportExportHandler) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = FormatCSV
	}
	v := utils.NewValidator()
	v.OneOf(format, "format", FormatCSV, FormatXLSX)
	filter, ferr := transactions.ParseFilter(r)
	if err := v.Err(); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if ferr != nil {
		utils.RespondWithError(w, r, ferr)
		return
	}

	list, err := h.load(userID, filter)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	var buf bytes.Buffer
	contentType := "text/csv; charset=utf-8"
	if format == FormatCSV {
		err = writeCSV(&buf, list)
	} else {
		contentType = xlsxContentType
		f := excelize.NewFile()
		defer f.Close()
		if err = f.SetSheetName("Sheet1", "Transactions"); err == nil {
			if err = transactionSheet(f, "Transactions", list); err == nil {
				err = f.Write(&buf)
			}
		}
	}
	if err != nil {
		utils.RespondWithError(w, r, fmt.Errorf("export transactions: %w", err))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+exportName("transactions", format, h.now()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *ImportExportHandler) load(userID uint, filter transactions.TransactionFilter) ([]models.Transaction, error) {
	var list []models.Transaction
	query := filter.Apply(h.db.Where("user_id = ?", userID))
	if err := query.Order("date, id").Find(&list).Error; err != nil {
		return nil, err
	}
	if filter.Search == "" {
		return list, nil
	}
	matched := list[:0]
	for _, t := range list {
		if filter.Matches(t) {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

// ExportBackup writes every transaction, budget, goal and investment of
// the user into one workbook.
func (h *ImportExportHandler) ExportBackup(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	var (
		txs         []models.Transaction
		budgetList  []models.Budget
		goals       []models.FinancialGoal
		investments []models.Investment
	)
	for _, q := range []struct {
		dst   interface{}
		order string
	}{
		{&txs, "date, id"},
		{&budgetList, "year, month, category"},
		{&goals, "id"},
		{&investments, "id"},
	} {
		if err := h.db.Where("user_id = ?", userID).Order(q.order).Find(q.dst).Error; err != nil {
			utils.RespondWithError(w, r, err)
			return
		}
	}

	f := excelize.NewFile()
	defer f.Close()
	err = writeBackup(f, txs, budgetList, goals, investments)
	var buf bytes.Buffer
	if err == nil {
		err = f.Write(&buf)
	}
	if err != nil {
		utils.RespondWithError(w, r, fmt.Errorf("export backup: %w", err))
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+exportName("fintrack_backup", FormatXLSX, h.now()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func writeBackup(f *excelize.File, txs []models.Transaction, budgetList []models.Budget, goals []models.FinancialGoal, investments []models.Investment) error {
	if err := f.SetSheetName("Sheet1", "Transactions"); err != nil {
		return err
	}
	if err := transactionSheet(f, "Transactions", txs); err != nil {
		return err
	}

	sheets := []struct {
		name   string
		header []interface{}
		rows   [][]interface{}
	}{
		{name: "Budgets", header: []interface{}{"Category", "Month", "Year", "Amount"}},
		{name: "Goals", header: []interface{}{"Name", "Description", "Target Amount", "Current Amount", "Deadline", "Status"}},
		{name: "Investments", header: []interface{}{"Name", "Ticker", "Type", "Quantity", "Average Price", "Total Invested", "Current Price", "Market Value"}},
	}
	for _, b := range budgetList {
		sheets[0].rows = append(sheets[0].rows, []interface{}{safeText(b.Category), b.Month, b.Year, b.Amount.InexactFloat64()})
	}
	for _, g := range goals {
		deadline := ""
		if g.Deadline != nil {
			deadline = g.Deadline.Format(utils.DateLayout)
		}
		sheets[1].rows = append(sheets[1].rows, []interface{}{
			safeText(g.Name), safeText(g.Description), g.TargetAmount.InexactFloat64(), g.CurrentAmount.InexactFloat64(), deadline, g.Status,
		})
	}
	for _, i := range investments {
		sheets[2].rows = append(sheets[2].rows, []interface{}{
			safeText(i.Name), safeText(i.Ticker), i.Type, i.Quantity.InexactFloat64(), i.AveragePrice.InexactFloat64(),
			i.TotalInvested.InexactFloat64(), i.CurrentPrice.InexactFloat64(), i.MarketValue().InexactFloat64(),
		})
	}

	for _, s := range sheets {
		if _, err := f.NewSheet(s.name); err != nil {
			return err
		}
		if err := f.SetSheetRow(s.name, "A1", &s.header); err != nil {
			return err
		}
		for i, row := range s.rows {
			cell, _ := excelize.CoordinatesToCellName(1, i+2)
			if err := f.SetSheetRow(s.name, cell, &row); err != nil {
				return err
			}
		}
	}
	return nil
}

type importResponse struct {
	Imported int    `json:"imported"`
	BatchID  string `json:"batch_id"`
}

type importErrorResponse struct {
	Error string     `json:"error"`
	Rows  []RowError `json:"rows"`
}

// ImportTransactions validates every row before writing anything; one bad
// row rejects the whole file.
func (h *ImportExportHandler) ImportTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize+1<<10)
	if err := r.ParseMultipartForm(maxImportSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondWithError(w, r, utils.FieldError("file", "must be at most 5 MB"))
			return
		}
		utils.RespondWithError(w, r, utils.BadRequest("Expected a multipart upload"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondWithError(w, r, utils.FieldError("file", "is required"))
		return
	}
	defer file.Close()
	if header.Size > maxImportSize {
		utils.RespondWithError(w, r, utils.FieldError("file", "must be at most 5 MB"))
		return
	}

	rows, err := readRows(strings.ToLower(filepath.Ext(header.Filename)), file)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if len(rows) == 0 {
		utils.RespondWithError(w, r, utils.FieldError("file", "is empty"))
		return
	}
	if err := checkHeader(rows[0]); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	batchID := uuid.NewString()
	now := h.now()
	var (
		list    []models.Transaction
		invalid []RowError
	)
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		if len(list)+len(invalid) == maxImportRows {
			utils.RespondWithError(w, r, utils.FieldError("file", fmt.Sprintf("must have at most %d rows", maxImportRows)))
			return
		}
		t, fields := parseRow(row, userID, now)
		if fields != nil {
			invalid = append(invalid, RowError{Row: i + 2, Fields: fields})
			continue
		}
		t.Source = models.SourceImport
		t.ImportBatchID = batchID
		list = append(list, t)
	}
	if len(invalid) > 0 {
		utils.RespondWithJSON(w, http.StatusUnprocessableEntity, importErrorResponse{Error: "Validation failed", Rows: invalid})
		return
	}
	if len(list) == 0 {
		utils.RespondWithError(w, r, utils.FieldError("file", "has no transactions"))
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&list, 200).Error
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	slog.Info("transactions imported", "user_id", userID, "batch_id", batchID, "count", len(list))
	h.hooks.Written(list...)
	utils.RespondWithJSON(w, http.StatusCreated, importResponse{Imported: len(list), BatchID: batchID})
}

// UndoImport deletes every transaction created by one import.
func (h *ImportExportHandler) UndoImport(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}
	batchID := mux.Vars(r)["batchId"]
	if _, err := uuid.Parse(batchID); err != nil {
		utils.RespondWithError(w, r, utils.BadRequest("Invalid batchId"))
		return
	}

	var removed []models.Transaction
	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND import_batch_id = ?", userID, batchID).Find(&removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return utils.NotFound("Import batch not found")
		}
		return tx.Where("user_id = ? AND import_batch_id = ?", userID, batchID).Delete(&models.Transaction{}).Error
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.hooks.Written(removed...)
	utils.RespondNoContent(w)
}
