package notification

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/db/dbtest"
	"github.com/KAsare1/Fintrack-server/service/servicetest"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/shopspring/decimal"
)

type fakePusher struct {
	messages []*expo.PushMessage
	reject   map[string]bool
}

func (f *fakePusher) Publish(m *expo.PushMessage) (expo.PushResponse, error) {
	f.messages = append(f.messages, m)
	if f.reject[string(m.To[0])] {
		return expo.PushResponse{
			Status:  "error",
			Details: map[string]string{"error": "DeviceNotRegistered"},
		}, nil
	}
	return expo.PushResponse{Status: expo.SuccessStatus}, nil
}

type fakeMailer struct {
	to, subject, body []string
	err               error
}

func (f *fakeMailer) Send(to, subject, body string) error {
	f.to = append(f.to, to)
	f.subject = append(f.subject, subject)
	f.body = append(f.body, body)
	return f.err
}

func TestRegisterDevice(t *testing.T) {
	gdb := dbtest.New(t)
	user := dbtest.CreateUser(t, gdb, "dev@example.com")
	router := servicetest.Router(NewNotificationHandler(gdb))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"token":"ExponentPushToken[abc]","device_type":"ios"}`, http.StatusCreated},
		{"again refreshes", `{"token":"ExponentPushToken[abc]","device_type":"android"}`, http.StatusOK},
		{"missing token", `{"device_type":"ios"}`, http.StatusUnprocessableEntity},
		{"bad token", `{"token":"not-a-token"}`, http.StatusUnprocessableEntity},
		{"unknown field", `{"token":"ExponentPushToken[abc]","user_id":9}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := servicetest.Do(t, router, "POST", "/devices", user.ID, tt.body)
			servicetest.Expect(t, rr, tt.want)
		})
	}

	var devices []models.Device
	gdb.Find(&devices)
	if len(devices) != 1 || devices[0].DeviceType != "android" {
		t.Fatalf("devices = %+v", devices)
	}

	rr := servicetest.Do(t, router, "POST", "/devices", 0, `{"token":"ExponentPushToken[abc]"}`)
	servicetest.Expect(t, rr, http.StatusUnauthorized)
}

func TestDeleteDeviceChecksOwner(t *testing.T) {
	gdb := dbtest.New(t)
	owner := dbtest.CreateUser(t, gdb, "owner@example.com")
	other := dbtest.CreateUser(t, gdb, "other@example.com")
	device := models.Device{UserID: owner.ID, Token: "ExponentPushToken[x]"}
	gdb.Create(&device)

	router := servicetest.Router(NewNotificationHandler(gdb))
	path := fmt.Sprintf("/devices/%d", device.ID)

	servicetest.Expect(t, servicetest.Do(t, router, "DELETE", path, other.ID, nil), http.StatusForbidden)
	servicetest.Expect(t, servicetest.Do(t, router, "DELETE", path, owner.ID, nil), http.StatusNoContent)
	servicetest.Expect(t, servicetest.Do(t, router, "DELETE", path, owner.ID, nil), http.StatusNotFound)
}

func TestNotifyRemovesUnregisteredDevices(t *testing.T) {
	gdb := dbtest.New(t)
	user := dbtest.CreateUser(t, gdb, "push@example.com")
	gdb.Create(&models.Device{UserID: user.ID, Token: "ExponentPushToken[good]"})
	gdb.Create(&models.Device{UserID: user.ID, Token: "ExponentPushToken[gone]"})
	gdb.Create(&models.Device{UserID: user.ID, Token: "garbage"})

	pusher := &fakePusher{reject: map[string]bool{"ExponentPushToken[gone]": true}}
	n := NewNotifier(gdb, pusher, &fakeMailer{})

	if err := n.Notify(user, "Hi", "there", nil); err != nil {
		t.Fatal(err)
	}
	if len(pusher.messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(pusher.messages))
	}

	var left []models.Device
	gdb.Where("user_id = ?", user.ID).Find(&left)
	if len(left) != 1 || left[0].Token != "ExponentPushToken[good]" {
		t.Fatalf("remaining devices = %+v", left)
	}
}

func TestNotifyHonoursPreferences(t *testing.T) {
	gdb := dbtest.New(t)
	user := dbtest.CreateUser(t, gdb, "prefs@example.com")
	gdb.Create(&models.Device{UserID: user.ID, Token: "ExponentPushToken[a]"})

	pusher := &fakePusher{}
	mailer := &fakeMailer{}
	n := NewNotifier(gdb, pusher, mailer)

	user.Preferences.PushAlerts = false
	user.Preferences.EmailAlerts = true
	budget := models.Budget{Category: "Food", Amount: decimal.NewFromInt(100)}
	if err := n.BudgetAlert(user, budget, decimal.NewFromInt(120), models.AlertExceeded); err != nil {
		t.Fatal(err)
	}

	if len(pusher.messages) != 0 {
		t.Fatal("push disabled but a message was published")
	}
	if len(mailer.to) != 1 || mailer.subject[0] != "Budget exceeded" {
		t.Fatalf("mail = %+v", mailer)
	}
	if !strings.Contains(mailer.body[0], "$120.00") || !strings.Contains(mailer.body[0], "Food") {
		t.Fatalf("body = %q", mailer.body[0])
	}
}

func TestNotifyReportsTotalFailure(t *testing.T) {
	gdb := dbtest.New(t)
	user := dbtest.CreateUser(t, gdb, "fail@example.com")
	user.Preferences.PushAlerts = false
	user.Preferences.EmailAlerts = true

	n := NewNotifier(gdb, &fakePusher{}, &fakeMailer{err: errors.New("smtp down")})
	if err := n.Notify(user, "a", "b", nil); err == nil {
		t.Fatal("expected an error when every channel fails")
	}
}
