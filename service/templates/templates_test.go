package templates

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/KAsare1/Fintrack-server/cache"
	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/db/dbtest"
	"github.com/KAsare1/Fintrack-server/service/invalidation"
	"github.com/KAsare1/Fintrack-server/service/servicetest"
	"github.com/KAsare1/Fintrack-server/service/transactions"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func newRouter(gdb *gorm.DB) *mux.Router {
	c := cache.New(time.Minute, 0)
	inv := invalidation.New(c, nil)
	h := NewTemplateHandler(gdb, inv, transactions.Hooks{Inv: inv})
	h.now = func() time.Time { return time.Date(2026, 5, 9, 10, 0, 0, 0, time.UTC) }
	return servicetest.Router(h)
}

func TestTemplateCRUDAndApply(t *testing.T) {
	gdb := dbtest.New(t)
	user := dbtest.CreateUser(t, gdb, "tpl@example.com")
	router := newRouter(gdb)

	rr := servicetest.Do(t, router, "POST", "/templates", user.ID,
		`{"name":"Gym","type":"expense","amount":"35","category":"Health","description":"Monthly membership","payment_method":"card"}`)
	servicetest.Expect(t, rr, http.StatusCreated)
	var tmpl models.TransactionTemplate
	servicetest.Decode(t, rr, &tmpl)
	path := fmt.Sprintf("/templates/%d", tmpl.ID)

	rr = servicetest.Do(t, router, "POST", path+"/apply", user.ID, nil)
	servicetest.Expect(t, rr, http.StatusCreated)
	var applied models.Transaction
	servicetest.Decode(t, rr, &applied)
	if applied.Source != models.SourceTemplate || applied.Description != "Monthly membership" ||
		!applied.Date.Equal(time.Date(2026, 5, 9, 0, 0, 0, 0, time.UTC)) || !applied.Amount.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("applied = %+v", applied)
	}

	rr = servicetest.Do(t, router, "POST", path+"/apply", user.ID, `{"date":"2026-05-01","amount":"40"}`)
	servicetest.Expect(t, rr, http.StatusCreated)
	servicetest.Decode(t, rr, &applied)
	if !applied.Amount.Equal(decimal.NewFromInt(40)) || applied.Date.Day() != 1 {
		t.Fatalf("override ignored: %+v", applied)
	}
	servicetest.Expect(t, servicetest.Do(t, router, "POST", path+"/apply", user.ID, `{"amount":"-4"}`), http.StatusUnprocessableEntity)

	rr = servicetest.Do(t, router, "PUT", path, user.ID, `{"amount":"39.90"}`)
	servicetest.Expect(t, rr, http.StatusOK)
	servicetest.Decode(t, rr, &tmpl)
	if tmpl.Name != "Gym" || !tmpl.Amount.Equal(decimal.RequireFromString("39.9")) {
		t.Fatalf("updated = %+v", tmpl)
	}

	rr = servicetest.Do(t, router, "GET", "/templates", user.ID, nil)
	var list []models.TransactionTemplate
	servicetest.Decode(t, rr, &list)
	if len(list) != 1 || list[0].Description != "Monthly membership" {
		t.Fatalf("list = %+v", list)
	}

	servicetest.Expect(t, servicetest.Do(t, router, "DELETE", path, user.ID, nil), http.StatusNoContent)
	servicetest.Expect(t, servicetest.Do(t, router, "GET", path, user.ID, nil), http.StatusNotFound)
}

func TestTemplateValidation(t *testing.T) {
	gdb := dbtest.New(t)
	user := dbtest.CreateUser(t, gdb, "tv@example.com")

	rr := servicetest.Do(t, newRouter(gdb), "POST", "/templates", user.ID, `{"type":"expense","amount":"0","category":"x"}`)
	servicetest.Expect(t, rr, http.StatusUnprocessableEntity)
	var body utils.ErrorResponse
	servicetest.Decode(t, rr, &body)
	if body.Fields["name"] == "" || body.Fields["amount"] == "" {
		t.Fatalf("fields = %v", body.Fields)
	}
}

func TestTemplateOwnership(t *testing.T) {
	gdb := dbtest.New(t)
	owner := dbtest.CreateUser(t, gdb, "a@example.com")
	other := dbtest.CreateUser(t, gdb, "b@example.com")
	tmpl := models.TransactionTemplate{UserID: owner.ID, Name: "Rent", Type: models.TypeExpense, Amount: decimal.NewFromInt(1), Category: "Home"}
	gdb.Create(&tmpl)

	router := newRouter(gdb)
	path := fmt.Sprintf("/templates/%d", tmpl.ID)
	servicetest.Expect(t, servicetest.Do(t, router, "POST", path+"/apply", other.ID, nil), http.StatusForbidden)
	servicetest.Expect(t, servicetest.Do(t, router, "DELETE", path, other.ID, nil), http.StatusForbidden)
}
