package user

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/KAsare1/Fintrack-server/cache"
	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/db/dbtest"
	"github.com/KAsare1/Fintrack-server/service/invalidation"
	"github.com/KAsare1/Fintrack-server/service/servicetest"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type fakeMailer struct {
	to   []string
	body []string
}

func (m *fakeMailer) Send(to, subject, body string) error {
	m.to = append(m.to, to)
	m.body = append(m.body, body)
	return nil
}

type fixture struct {
	db      *gorm.DB
	handler *Handler
	mailer  *fakeMailer
	tokens  *utils.TokenIssuer
	router  *mux.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := dbtest.New(t)
	f := &fixture{db: gdb, mailer: &fakeMailer{}, tokens: utils.NewTokenIssuer("test-secret")}
	f.handler = NewHandler(gdb, f.tokens, f.mailer, invalidation.New(cache.New(time.Minute, 0), nil), false)
	f.handler.hashCost = bcrypt.MinCost

	f.router = mux.NewRouter()
	f.handler.RegisterPublicRoutes(f.router)
	protected := f.router.NewRoute().Subrouter()
	protected.Use(utils.NewAuthenticator(f.tokens).Middleware)
	f.handler.RegisterRoutes(protected)
	return f
}

func (f *fixture) send(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func cookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)

	rr := f.send(t, "POST", "/auth/register", `{"full_name":"Ada Lovelace","email":" Ada@Example.com ","password":"correct horse"}`)
	servicetest.Expect(t, rr, http.StatusCreated)
	var session SessionResponse
	servicetest.Decode(t, rr, &session)
	if session.User.Email != "ada@example.com" || session.AccessToken == "" || session.User.Preferences.Currency != "USD" {
		t.Fatalf("session = %+v", session)
	}
	if c := cookie(rr, utils.SessionCookie); c == nil || !c.HttpOnly || c.Value != session.AccessToken {
		t.Fatalf("session cookie = %+v", c)
	}

	servicetest.Expect(t, f.send(t, "POST", "/auth/register", `{"full_name":"Again","email":"ada@example.com","password":"another one"}`),
		http.StatusUnprocessableEntity)
	servicetest.Expect(t, f.send(t, "POST", "/auth/register", `{"full_name":"","email":"nope","password":"short"}`),
		http.StatusUnprocessableEntity)

	servicetest.Expect(t, f.send(t, "POST", "/auth/login", `{"email":"ada@example.com","password":"wrong password"}`), http.StatusUnauthorized)
	servicetest.Expect(t, f.send(t, "POST", "/auth/login", `{"email":"nobody@example.com","password":"correct horse"}`), http.StatusUnauthorized)

	rr = f.send(t, "POST", "/auth/login", `{"email":"ADA@example.com","password":"correct horse"}`)
	servicetest.Expect(t, rr, http.StatusOK)

	rr = f.send(t, "GET", "/auth/me", "", cookie(rr, utils.SessionCookie))
	servicetest.Expect(t, rr, http.StatusOK)
	var me models.User
	servicetest.Decode(t, rr, &me)
	if me.FullName != "Ada Lovelace" || strings.Contains(rr.Body.String(), "password") {
		t.Fatalf("me = %s", rr.Body.String())
	}

	servicetest.Expect(t, f.send(t, "GET", "/auth/me", ""), http.StatusUnauthorized)
}

func TestRefreshRotatesAndLogoutRevokes(t *testing.T) {
	f := newFixture(t)
	dbtest.CreateUser(t, f.db, "rot@example.com")

	rr := f.send(t, "POST", "/auth/login", `{"email":"rot@example.com","password":"password123"}`)
	servicetest.Expect(t, rr, http.StatusOK)
	first := cookie(rr, utils.RefreshCookie)

	rr = f.send(t, "POST", "/auth/refresh", "", first)
	servicetest.Expect(t, rr, http.StatusOK)
	second := cookie(rr, utils.RefreshCookie)
	if second == nil || second.Value == first.Value {
		t.Fatal("refresh token was not rotated")
	}

	servicetest.Expect(t, f.send(t, "POST", "/auth/refresh", "", first), http.StatusUnauthorized)

	// Body form for clients without cookies.
	var session SessionResponse
	rr = f.send(t, "POST", "/auth/refresh", `{"refresh_token":"`+second.Value+`"}`)
	servicetest.Expect(t, rr, http.StatusOK)
	servicetest.Decode(t, rr, &session)

	third := &http.Cookie{Name: utils.RefreshCookie, Value: session.RefreshToken}
	rr = f.send(t, "POST", "/auth/logout", "", third)
	servicetest.Expect(t, rr, http.StatusNoContent)
	if c := cookie(rr, utils.SessionCookie); c == nil || c.MaxAge >= 0 {
		t.Fatalf("session cookie not cleared: %+v", c)
	}
	servicetest.Expect(t, f.send(t, "POST", "/auth/refresh", "", third), http.StatusUnauthorized)

	servicetest.Expect(t, f.send(t, "POST", "/auth/refresh", `{"refresh_token":"1_abc_def"}`), http.StatusUnauthorized)
}

func TestConcurrentRefreshRotatesOnce(t *testing.T) {
	f := newFixture(t)
	dbtest.CreateUser(t, f.db, "twice@example.com")

	rr := f.send(t, "POST", "/auth/login", `{"email":"twice@example.com","password":"password123"}`)
	token := cookie(rr, utils.RefreshCookie).Value

	// Both requests pass the read check before either writes.
	first, err := f.handler.userForRefresh(token)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.handler.userForRefresh(token)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.handler.rotateSession(httptest.NewRecorder(), first, token); err != nil {
		t.Fatalf("first rotation: %v", err)
	}
	loser := httptest.NewRecorder()
	if _, err := f.handler.rotateSession(loser, second, token); !errors.Is(err, utils.ErrUnauthorized) {
		t.Fatalf("second rotation err = %v, want ErrUnauthorized", err)
	}
	if len(loser.Result().Cookies()) != 0 {
		t.Fatal("losing rotation must not set cookies")
	}
}

func TestRefreshTokenExpires(t *testing.T) {
	f := newFixture(t)
	dbtest.CreateUser(t, f.db, "exp@example.com")

	rr := f.send(t, "POST", "/auth/login", `{"email":"exp@example.com","password":"password123"}`)
	refresh := cookie(rr, utils.RefreshCookie)

	f.handler.now = func() time.Time { return time.Now().Add(utils.RefreshTokenTTL + time.Hour) }
	servicetest.Expect(t, f.send(t, "POST", "/auth/refresh", "", refresh), http.StatusUnauthorized)
}

func TestPreferences(t *testing.T) {
	f := newFixture(t)
	u := dbtest.CreateUser(t, f.db, "prefs@example.com")

	rr := servicetest.Do(t, f.router, "GET", "/auth/preferences", 0, nil)
	servicetest.Expect(t, rr, http.StatusUnauthorized)

	h := servicetest.Router(f.handler)
	rr = servicetest.Do(t, h, "PUT", "/auth/preferences", u.ID, `{"currency":"eur","month_start_day":25,"push_alerts":false,"theme":"Dark"}`)
	servicetest.Expect(t, rr, http.StatusOK)

	var stored models.User
	f.db.First(&stored, u.ID)
	p := stored.Preferences
	if p.Currency != "EUR" || p.MonthStartDay != 25 || p.PushAlerts || p.Theme != models.ThemeDark || p.BudgetAlertThreshold != 80 {
		t.Fatalf("preferences = %+v", p)
	}

	rr = servicetest.Do(t, h, "PUT", "/auth/preferences", u.ID, `{"currency":"XYZ","theme":"blue","month_start_day":31,"budget_alert_threshold":0}`)
	servicetest.Expect(t, rr, http.StatusUnprocessableEntity)
	var body utils.ErrorResponse
	servicetest.Decode(t, rr, &body)
	for _, field := range []string{"currency", "theme", "month_start_day", "budget_alert_threshold"} {
		if _, ok := body.Fields[field]; !ok {
			t.Errorf("missing error for %s: %v", field, body.Fields)
		}
	}

	rr = servicetest.Do(t, h, "GET", "/auth/preferences", u.ID, nil)
	servicetest.Decode(t, rr, &p)
	if p.Currency != "EUR" {
		t.Fatalf("invalid update was applied: %+v", p)
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	u := dbtest.CreateUser(t, f.db, "pw@example.com")
	h := servicetest.Router(f.handler)

	servicetest.Expect(t, servicetest.Do(t, h, "PUT", "/auth/password", u.ID, `{"current_password":"nope","new_password":"brand new pass"}`),
		http.StatusUnprocessableEntity)
	servicetest.Expect(t, servicetest.Do(t, h, "PUT", "/auth/password", u.ID, `{"current_password":"password123","new_password":"brand new pass"}`),
		http.StatusOK)

	servicetest.Expect(t, f.send(t, "POST", "/auth/login", `{"email":"pw@example.com","password":"password123"}`), http.StatusUnauthorized)
	servicetest.Expect(t, f.send(t, "POST", "/auth/login", `{"email":"pw@example.com","password":"brand new pass"}`), http.StatusOK)
}

var tokenPattern = regexp.MustCompile(`[0-9a-f]{64}`)

func TestPasswordReset(t *testing.T) {
	f := newFixture(t)
	dbtest.CreateUser(t, f.db, "reset@example.com")

	servicetest.Expect(t, f.send(t, "POST", "/auth/password-reset", `{"email":"ghost@example.com"}`), http.StatusAccepted)
	if len(f.mailer.to) != 0 {
		t.Fatal("mail sent for an unknown address")
	}

	servicetest.Expect(t, f.send(t, "POST", "/auth/password-reset", `{"email":"Reset@example.com"}`), http.StatusAccepted)
	if len(f.mailer.to) != 1 || f.mailer.to[0] != "reset@example.com" {
		t.Fatalf("mails = %v", f.mailer.to)
	}
	token := tokenPattern.FindString(f.mailer.body[0])
	if token == "" {
		t.Fatalf("no token in %q", f.mailer.body[0])
	}

	var stored models.PasswordResetToken
	f.db.First(&stored)
	if stored.TokenHash == token || stored.TokenHash != utils.HashToken(token) {
		t.Fatal("reset token must be stored hashed")
	}

	servicetest.Expect(t, f.send(t, "POST", "/auth/password-reset/confirm", `{"token":"`+token+`","password":"short"}`), http.StatusUnprocessableEntity)
	servicetest.Expect(t, f.send(t, "POST", "/auth/password-reset/confirm", `{"token":"`+token+`","password":"a fresh secret"}`), http.StatusOK)
	servicetest.Expect(t, f.send(t, "POST", "/auth/password-reset/confirm", `{"token":"`+token+`","password":"again and again"}`), http.StatusUnprocessableEntity)
	servicetest.Expect(t, f.send(t, "POST", "/auth/login", `{"email":"reset@example.com","password":"a fresh secret"}`), http.StatusOK)
}

func TestPasswordResetExpires(t *testing.T) {
	f := newFixture(t)
	dbtest.CreateUser(t, f.db, "late@example.com")

	f.send(t, "POST", "/auth/password-reset", `{"email":"late@example.com"}`)
	token := tokenPattern.FindString(f.mailer.body[0])

	f.handler.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	servicetest.Expect(t, f.send(t, "POST", "/auth/password-reset/confirm", `{"token":"`+token+`","password":"a fresh secret"}`), http.StatusUnprocessableEntity)
}

func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	u := dbtest.CreateUser(t, f.db, "bye@example.com")
	other := dbtest.CreateUser(t, f.db, "stay@example.com")
	for _, id := range []uint{u.ID, other.ID} {
		f.db.Create(&models.Transaction{UserID: id, Type: models.TypeExpense, Amount: decimal.NewFromInt(5), Category: "Food", Date: time.Now(), Source: models.SourceManual})
		f.db.Create(&models.Budget{UserID: id, Category: "Food", Month: 1, Year: 2026, Amount: decimal.NewFromInt(50)})
		f.db.Create(&models.Device{UserID: id, Token: "ExponentPushToken[abc]"})
	}
	h := servicetest.Router(f.handler)

	servicetest.Expect(t, servicetest.Do(t, h, "DELETE", "/auth/me", u.ID, `{"password":"wrong"}`), http.StatusUnprocessableEntity)
	servicetest.Expect(t, servicetest.Do(t, h, "DELETE", "/auth/me", u.ID, `{"password":"password123"}`), http.StatusNoContent)

	for _, model := range []interface{}{&models.Transaction{}, &models.Budget{}, &models.Device{}} {
		var mine, theirs int64
		f.db.Model(model).Where("user_id = ?", u.ID).Count(&mine)
		f.db.Model(model).Where("user_id = ?", other.ID).Count(&theirs)
		if mine != 0 || theirs != 1 {
			t.Errorf("%T: mine = %d, theirs = %d", model, mine, theirs)
		}
	}
	var users int64
	f.db.Model(&models.User{}).Count(&users)
	if users != 1 {
		t.Fatalf("users = %d", users)
	}
	servicetest.Expect(t, servicetest.Do(t, h, "GET", "/auth/me", u.ID, nil), http.StatusUnauthorized)
}
