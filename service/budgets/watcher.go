package budgets

import (
	"errors"
	"log/slog"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Alerter delivers budget alerts; *notification.Notifier implements it.
type Alerter interface {
	BudgetAlert(user models.User, budget models.Budget, spent decimal.Decimal, level int) error
}

// Watcher re-evaluates a budget after spending in its category changed and
// sends an alert the first time a level is reached within the period.
type Watcher struct {
	db      *gorm.DB
	alerter Alerter
	// dispatch runs alert delivery; it defaults to a goroutine so requests
	// never wait on push or SMTP.
	dispatch func(func())
}

func NewWatcher(db *gorm.DB, alerter Alerter) *Watcher {
	return &Watcher{db: db, alerter: alerter, dispatch: func(f func()) { go f() }}
}

// Synchronous makes Check deliver alerts before returning. Batch jobs use it
// so the process does not exit with deliveries in flight.
func (w *Watcher) Synchronous() {
	w.dispatch = func(f func()) { f() }
}

// Check looks at the budget covering date for category. Errors are logged;
// a failed check never fails the write that triggered it.
func (w *Watcher) Check(userID uint, category string, date time.Time) {
	if w == nil {
		return
	}
	if err := w.check(userID, category, date); err != nil {
		slog.Error("budget check failed", "user_id", userID, "category", category, "error", err)
	}
}

func (w *Watcher) check(userID uint, category string, date time.Time) error {
	var user models.User
	if err := w.db.First(&user, userID).Error; err != nil {
		return err
	}

	month, year := models.PeriodOf(date, user.Preferences.MonthStartDay)
	var budget models.Budget
	err := w.db.Where("user_id = ? AND category = ? AND month = ? AND year = ?", userID, category, month, year).
		First(&budget).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	from, to := models.Period(month, year, user.Preferences.MonthStartDay)
	spent, err := Spent(w.db, userID, category, from, to)
	if err != nil {
		return err
	}

	level := AlertLevelFor(NewUsage(budget, spent), user.Preferences.BudgetAlertThreshold)
	previous := budget.AlertLevel
	if level == previous {
		return nil
	}
	// Lowering the level (after a delete or a raised budget) re-arms the alert.
	if err := w.db.Model(&models.Budget{}).Where("id = ?", budget.ID).Update("alert_level", level).Error; err != nil {
		return err
	}
	budget.AlertLevel = level
	if level < previous || w.alerter == nil {
		return nil
	}

	slog.Info("budget alert", "user_id", userID, "budget_id", budget.ID, "level", level)
	w.dispatch(func() {
		if err := w.alerter.BudgetAlert(user, budget, spent, level); err != nil {
			slog.Warn("budget alert not delivered", "user_id", userID, "budget_id", budget.ID, "error", err)
		}
	})
	return nil
}
