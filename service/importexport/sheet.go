package importexport

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/service/transactions"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Columns is the fixed layout of exported and imported transaction files.
var Columns = []string{"Date", "Type", "Category", "Description", "Amount", "Payment Method", "Notes"}

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func record(t models.Transaction) []string {
	return []string{
		t.Date.Format(utils.DateLayout),
		t.Type,
		safeText(t.Category),
		safeText(t.Description),
		t.Amount.StringFixed(2),
		safeText(t.PaymentMethod),
		safeText(t.Notes),
	}
}

// safeText quotes user text that a spreadsheet would otherwise run as a
// formula. unquoteText reverses it on import.
func safeText(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}

func unquoteText(s string) string {
	if len(s) > 1 && s[0] == '\'' && strings.ContainsRune("=+-@\t\r", rune(s[1])) {
		return s[1:]
	}
	return s
}

// groupedAmount matches amounts whose commas only separate thousands.
var groupedAmount = regexp.MustCompile(`^[-+]?\d{1,3}(,\d{3})+(\.\d+)?$`)

// parseAmount reads a dot-decimal amount. "1,234.50" is accepted; a comma
// used as the decimal mark ("12,50") is an error, never 1250.
func parseAmount(s string) (decimal.Decimal, error) {
	if strings.Contains(s, ",") {
		if !groupedAmount.MatchString(s) {
			return decimal.Decimal{}, errors.New("comma is only allowed between thousands")
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	return decimal.NewFromString(s)
}

// writeCSV writes a header row and one line per transaction.
func writeCSV(w io.Writer, ts []models.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, t := range ts {
		if err := cw.Write(record(t)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// transactionSheet fills sheet with the fixed columns. Amounts are stored as
// numbers so spreadsheet formulas work on them.
func transactionSheet(f *excelize.File, sheet string, ts []models.Transaction) error {
	if err := f.SetSheetRow(sheet, "A1", &Columns); err != nil {
		return err
	}
	for i, t := range ts {
		row := record(t)
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		values[4] = t.Amount.InexactFloat64()
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}

// readRows returns the rows of an uploaded .csv or .xlsx file, header
// included. Spreadsheets are read from their first sheet with raw values.
func readRows(ext string, r io.Reader) ([][]string, error) {
	switch ext {
	case ".csv":
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		cr := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		rows, err := cr.ReadAll()
		if err != nil {
			return nil, utils.FieldError("file", "is not a valid CSV file")
		}
		return rows, nil
	case ".xlsx":
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, utils.FieldError("file", "is not a valid spreadsheet")
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, utils.FieldError("file", "has no sheets")
		}
		return f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	default:
		return nil, utils.FieldError("file", "must be a .csv or .xlsx file")
	}
}

func checkHeader(row []string) error {
	if len(row) < len(Columns) {
		return utils.FieldError("file", "header must be: "+strings.Join(Columns, ", "))
	}
	for i, want := range Columns {
		if !strings.EqualFold(strings.TrimSpace(row[i]), want) {
			return utils.FieldError("file", "header must be: "+strings.Join(Columns, ", "))
		}
	}
	return nil
}

// RowError lists what is wrong with one data row. Row numbers count the
// header as row 1, matching what a spreadsheet shows.
type RowError struct {
	Row    int               `json:"row"`
	Fields map[string]string `json:"fields"`
}

// parseRow turns one data row into a transaction.
func parseRow(row []string, userID uint, now time.Time) (models.Transaction, map[string]string) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	fields := map[string]string{}
	in := transactions.Input{
		Type:          cell(1),
		Category:      unquoteText(cell(2)),
		Description:   unquoteText(cell(3)),
		PaymentMethod: unquoteText(cell(5)),
		Notes:         unquoteText(cell(6)),
	}

	date := cell(0)
	if date == "" {
		fields["date"] = "is required"
	} else if _, err := utils.ParseDate(date); err != nil {
		// Spreadsheet date cells arrive as serial numbers.
		serial, ferr := strconv.ParseFloat(date, 64)
		if ferr != nil {
			fields["date"] = "must be a date (YYYY-MM-DD)"
		} else if t, terr := excelize.ExcelDateToTime(serial, false); terr == nil {
			date = t.Format(utils.DateLayout)
		} else {
			fields["date"] = "must be a date (YYYY-MM-DD)"
		}
	}
	in.Date = date

	amount, err := parseAmount(cell(4))
	if err != nil {
		fields["amount"] = "must be a number with a dot for decimals"
		amount = decimal.NewFromInt(1)
	}
	// Spreadsheets store floats; two decimals is what was written out.
	in.Amount = amount.Round(2)
	if !amount.Equal(in.Amount) && amount.Sub(in.Amount).Abs().GreaterThan(decimal.New(1, -6)) {
		fields["amount"] = "must have at most two decimal places"
	}

	t, err := in.Build(userID, now)
	if err != nil {
		var verr *utils.ValidationError
		if !errors.As(err, &verr) {
			fields["row"] = err.Error()
		} else {
			for k, v := range verr.Fields {
				if _, ok := fields[k]; !ok {
					fields[k] = v
				}
			}
		}
	}
	if len(fields) > 0 {
		return models.Transaction{}, fields
	}
	return t, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func exportName(prefix, ext string, now time.Time) string {
	return fmt.Sprintf("%s_%s.%s", prefix, now.Format("20060102_150405"), ext)
}
