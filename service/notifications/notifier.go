package notification

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Pusher is the part of *expo.PushClient the notifier needs.
type Pusher interface {
	Publish(message *expo.PushMessage) (expo.PushResponse, error)
}

// Notifier delivers alerts over push and email according to the user's
// preferences.
type Notifier struct {
	db     *gorm.DB
	pusher Pusher
	mailer Mailer
}

func NewNotifier(db *gorm.DB, pusher Pusher, mailer Mailer) *Notifier {
	if pusher == nil {
		pusher = expo.NewPushClient(nil)
	}
	return &Notifier{db: db, pusher: pusher, mailer: mailer}
}

// Notify sends one message to every registered device and, if the user
// opted in, by email. Delivery failures are logged, not returned, except
// when no channel succeeded.
func (n *Notifier) Notify(user models.User, title, body string, data map[string]string) error {
	var errs []error
	delivered := false

	if user.Preferences.PushAlerts {
		sent, err := n.push(user.ID, title, body, data)
		if err != nil {
			errs = append(errs, err)
		}
		delivered = delivered || sent > 0
	}

	if user.Preferences.EmailAlerts && n.mailer != nil {
		if err := n.mailer.Send(user.Email, title, body); err != nil {
			slog.Warn("alert email failed", "user_id", user.ID, "error", err)
			errs = append(errs, err)
		} else {
			delivered = true
		}
	}

	if !delivered && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// BudgetAlert announces that a budget crossed the user's threshold or was
// exceeded.
func (n *Notifier) BudgetAlert(user models.User, budget models.Budget, spent decimal.Decimal, level int) error {
	currency := user.Preferences.Currency
	var title, body string
	switch level {
	case models.AlertExceeded:
		title = "Budget exceeded"
		body = fmt.Sprintf("You have spent %s of your %s budget for %s.",
			utils.FormatMoney(spent, currency), utils.FormatMoney(budget.Amount, currency), budget.Category)
	case models.AlertThreshold:
		title = "Budget almost used"
		body = fmt.Sprintf("You have used %d%% of your %s budget for %s (%s left).",
			user.Preferences.BudgetAlertThreshold, utils.FormatMoney(budget.Amount, currency), budget.Category,
			utils.FormatMoney(budget.Amount.Sub(spent), currency))
	default:
		return nil
	}
	return n.Notify(user, title, body, map[string]string{
		"type":      "budget_alert",
		"budget_id": fmt.Sprint(budget.ID),
	})
}

// RecurringReminder announces an upcoming recurring expense.
func (n *Notifier) RecurringReminder(user models.User, r models.RecurringExpense) error {
	body := fmt.Sprintf("%s of %s is due on %s.",
		r.Description, utils.FormatMoney(r.Amount, user.Preferences.Currency), r.NextDueDate.Format(utils.DateLayout))
	return n.Notify(user, "Upcoming payment", body, map[string]string{
		"type":         "recurring_reminder",
		"recurring_id": fmt.Sprint(r.ID),
	})
}

func (n *Notifier) push(userID uint, title, body string, data map[string]string) (int, error) {
	var devices []models.Device
	if err := n.db.Where("user_id = ?", userID).Find(&devices).Error; err != nil {
		return 0, err
	}

	sent := 0
	var invalid []uint
	var lastErr error
	for _, d := range devices {
		token, err := expo.NewExponentPushToken(d.Token)
		if err != nil {
			invalid = append(invalid, d.ID)
			continue
		}

		resp, err := n.pusher.Publish(&expo.PushMessage{
			To:       []expo.ExponentPushToken{token},
			Title:    title,
			Body:     body,
			Data:     data,
			Sound:    "default",
			Priority: expo.DefaultPriority,
		})
		if err != nil {
			slog.Warn("push publish failed", "user_id", userID, "device_id", d.ID, "error", err)
			lastErr = err
			continue
		}
		if err := resp.ValidateResponse(); err != nil {
			var notRegistered *expo.DeviceNotRegisteredError
			if errors.As(err, &notRegistered) {
				invalid = append(invalid, d.ID)
			} else {
				slog.Warn("push rejected", "user_id", userID, "device_id", d.ID, "error", err)
				lastErr = err
			}
			continue
		}
		sent++
	}

	if len(invalid) > 0 {
		if err := n.db.Where("id IN ?", invalid).Delete(&models.Device{}).Error; err != nil {
			slog.Error("removing invalid push tokens", "user_id", userID, "error", err)
		} else {
			slog.Info("removed invalid push tokens", "user_id", userID, "count", len(invalid))
		}
	}
	return sent, lastErr
}
