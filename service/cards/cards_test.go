package cards

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/KAsare1/Fintrack-server/cache"
	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/db/dbtest"
	"github.com/KAsare1/Fintrack-server/service/invalidation"
	"github.com/KAsare1/Fintrack-server/service/servicetest"
	"github.com/KAsare1/Fintrack-server/service/transactions"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func date(y, m, d int) time.Time { return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC) }

func TestFirstInvoiceMonth(t *testing.T) {
	card := models.CreditCard{ClosingDay: 10, DueDay: 20}
	tests := []struct {
		on          time.Time
		month, year int
	}{
		{date(2026, 3, 10), 3, 2026},
		{date(2026, 3, 11), 4, 2026},
		{date(2026, 12, 25), 1, 2027},
	}
	for _, tt := range tests {
		m, y := FirstInvoiceMonth(card, tt.on)
		if m != tt.month || y != tt.year {
			t.Errorf("%s: got %d/%d, want %d/%d", tt.on.Format("2006-01-02"), m, y, tt.month, tt.year)
		}
	}

	// A closing day past the end of February closes on the 28th.
	late := models.CreditCard{ClosingDay: 31}
	if m, _ := FirstInvoiceMonth(late, date(2026, 2, 28)); m != 2 {
		t.Errorf("Feb 28 with closing day 31 went to month %d", m)
	}
}

func TestDueDate(t *testing.T) {
	tests := []struct {
		card models.CreditCard
		want time.Time
	}{
		{models.CreditCard{ClosingDay: 5, DueDay: 15}, date(2026, 2, 15)},
		{models.CreditCard{ClosingDay: 25, DueDay: 5}, date(2026, 3, 5)},
		{models.CreditCard{ClosingDay: 1, DueDay: 31}, date(2026, 2, 28)},
	}
	for _, tt := range tests {
		if got := DueDate(tt.card, 2, 2026); !got.Equal(tt.want) {
			t.Errorf("closing %d due %d: got %s, want %s", tt.card.ClosingDay, tt.card.DueDay, got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
		}
	}
}

func TestSplitInstallments(t *testing.T) {
	parts := SplitInstallments(decimal.RequireFromString("100"), 3)
	want := []string{"33.33", "33.33", "33.34"}
	sum := decimal.Zero
	for i, p := range parts {
		if p.StringFixed(2) != want[i] {
			t.Errorf("part %d = %s, want %s", i, p, want[i])
		}
		sum = sum.Add(p)
	}
	if !sum.Equal(decimal.NewFromInt(100)) {
		t.Errorf("parts sum to %s", sum)
	}
}

func newRouter(gdb *gorm.DB) *mux.Router {
	c := cache.New(time.Minute, 0)
	inv := invalidation.New(c, nil)
	h := NewCardHandler(gdb, inv, transactions.Hooks{Inv: inv})
	h.now = func() time.Time { return date(2026, 3, 15) }
	return servicetest.Router(h)
}

func TestPurchaseInvoiceAndPayment(t *testing.T) {
	gdb := dbtest.New(t)
	user := dbtest.CreateUser(t, gdb, "card@example.com")
	router := newRouter(gdb)

	rr := servicetest.Do(t, router, "POST", "/cards", user.ID,
		`{"name":"Visa","last_four":"4242","limit":"1000","closing_day":10,"due_day":20}`)
	servicetest.Expect(t, rr, http.StatusCreated)
	var card CardResponse
	servicetest.Decode(t, rr, &card)
	base := fmt.Sprintf("/cards/%d", card.ID)

	var stored string
	gdb.Raw("SELECT last_four FROM credit_cards WHERE id = ?", card.ID).Scan(&stored)
	if stored == "4242" {
		t.Fatal("last four digits stored in clear text")
	}

	// Bought after closing: installments start on the April invoice.
	rr = servicetest.Do(t, router, "POST", base+"/purchases", user.ID,
		`{"description":"Laptop","category":"Electronics","amount":"900","installments":3,"date":"2026-03-12"}`)
	servicetest.Expect(t, rr, http.StatusCreated)
	var purchase purchaseResponse
	servicetest.Decode(t, rr, &purchase)
	if len(purchase.Installments) != 3 || purchase.GroupID == "" {
		t.Fatalf("purchase = %+v", purchase)
	}

	rr = servicetest.Do(t, router, "GET", base, user.ID, nil)
	servicetest.Decode(t, rr, &card)
	if !card.Available.Equal(decimal.NewFromInt(100)) || card.LastFour != "4242" {
		t.Fatalf("card = %+v", card)
	}

	servicetest.Expect(t, servicetest.Do(t, router, "POST", base+"/purchases", user.ID,
		`{"category":"Food","amount":"150"}`), http.StatusUnprocessableEntity)

	rr = servicetest.Do(t, router, "GET", base+"/invoices", user.ID, nil)
	servicetest.Expect(t, rr, http.StatusOK)
	var invoices []InvoiceResponse
	servicetest.Decode(t, rr, &invoices)
	if len(invoices) != 3 || invoices[0].Month != 4 || invoices[2].Month != 6 {
		t.Fatalf("invoices = %+v", invoices)
	}
	if !invoices[0].Total.Equal(decimal.NewFromInt(300)) || !invoices[0].DueDate.Equal(date(2026, 4, 20)) {
		t.Fatalf("first invoice = %+v", invoices[0])
	}

	pay := fmt.Sprintf("/invoices/%d/pay", invoices[0].ID)
	rr = servicetest.Do(t, router, "POST", pay, user.ID, `{"date":"2026-04-18"}`)
	servicetest.Expect(t, rr, http.StatusOK)
	servicetest.Expect(t, servicetest.Do(t, router, "POST", pay, user.ID, nil), http.StatusUnprocessableEntity)

	var tx models.Transaction
	if err := gdb.Where("source = ?", models.SourceInvoice).First(&tx).Error; err != nil {
		t.Fatal(err)
	}
	if !tx.Amount.Equal(decimal.NewFromInt(300)) || tx.Category != InvoiceCategory || tx.InvoiceID == nil || *tx.InvoiceID != invoices[0].ID {
		t.Fatalf("payment transaction = %+v", tx)
	}

	// Deleting the purchase keeps the paid installment only.
	servicetest.Expect(t, servicetest.Do(t, router, "DELETE", fmt.Sprintf("/purchases/%d", purchase.Installments[1].ID), user.ID, nil), http.StatusNoContent)
	var left []models.Purchase
	gdb.Where("group_id = ?", purchase.GroupID).Find(&left)
	if len(left) != 1 || left[0].InstallmentNumber != 1 {
		t.Fatalf("remaining installments = %+v", left)
	}
	servicetest.Expect(t, servicetest.Do(t, router, "DELETE", fmt.Sprintf("/purchases/%d", left[0].ID), user.ID, nil), http.StatusUnprocessableEntity)

	rr = servicetest.Do(t, router, "GET", base, user.ID, nil)
	servicetest.Decode(t, rr, &card)
	if !card.Available.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("available = %s, want the full limit", card.Available)
	}
}

func TestCannotAddToPaidInvoice(t *testing.T) {
	gdb := dbtest.New(t)
	user := dbtest.CreateUser(t, gdb, "paid@example.com")
	card := models.CreditCard{UserID: user.ID, Name: "Amex", Limit: decimal.NewFromInt(500), ClosingDay: 28, DueDay: 5}
	gdb.Create(&card)
	gdb.Create(&models.Invoice{CardID: card.ID, UserID: user.ID, Month: 3, Year: 2026, DueDate: date(2026, 4, 5), Status: models.InvoicePaid})

	rr := servicetest.Do(t, newRouter(gdb), "POST", fmt.Sprintf("/cards/%d/purchases", card.ID), user.ID,
		`{"category":"Food","amount":"10","date":"2026-03-03"}`)
	servicetest.Expect(t, rr, http.StatusUnprocessableEntity)
}

func TestCardValidationAndOwnership(t *testing.T) {
	gdb := dbtest.New(t)
	owner := dbtest.CreateUser(t, gdb, "o@example.com")
	other := dbtest.CreateUser(t, gdb, "x@example.com")
	router := newRouter(gdb)

	for _, body := range []string{
		`{"name":"A","limit":"10","closing_day":0,"due_day":5}`,
		`{"name":"A","limit":"0","closing_day":1,"due_day":5}`,
		`{"name":"A","last_four":"12a4","limit":"10","closing_day":1,"due_day":5}`,
		`{"limit":"10","closing_day":1,"due_day":5}`,
	} {
		servicetest.Expect(t, servicetest.Do(t, router, "POST", "/cards", owner.ID, body), http.StatusUnprocessableEntity)
	}

	card := models.CreditCard{UserID: owner.ID, Name: "Mine", Limit: decimal.NewFromInt(100), ClosingDay: 1, DueDay: 10}
	gdb.Create(&card)
	path := fmt.Sprintf("/cards/%d", card.ID)
	servicetest.Expect(t, servicetest.Do(t, router, "GET", path, other.ID, nil), http.StatusForbidden)
	servicetest.Expect(t, servicetest.Do(t, router, "GET", path+"/invoices", other.ID, nil), http.StatusForbidden)
	servicetest.Expect(t, servicetest.Do(t, router, "POST", path+"/purchases", other.ID, `{"category":"x","amount":"1"}`), http.StatusForbidden)

	rr := servicetest.Do(t, router, "PUT", path, owner.ID, `{"limit":"250"}`)
	servicetest.Expect(t, rr, http.StatusOK)
	var updated CardResponse
	servicetest.Decode(t, rr, &updated)
	if updated.Name != "Mine" || !updated.Available.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("updated = %+v", updated)
	}
	servicetest.Expect(t, servicetest.Do(t, router, "DELETE", path, owner.ID, nil), http.StatusNoContent)
}
