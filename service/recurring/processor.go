package recurring

import (
	"context"
	"log/slog"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/service/transactions"
	"gorm.io/gorm"
)

// ReminderWindow is how far ahead upcoming expenses are announced.
const ReminderWindow = 3 * 24 * time.Hour

// maxCatchUp bounds how many missed occurrences one run materialises per
// expense (a weekly expense left alone for years).
const maxCatchUp = 400

// Reminder sends upcoming-payment notices; *notification.Notifier
// implements it.
type Reminder interface {
	RecurringReminder(user models.User, r models.RecurringExpense) error
}

// Processor turns due recurring expenses into transactions and reminds users
// of the ones coming up. It is run by the process-recurring command.
type Processor struct {
	db       *gorm.DB
	hooks    transactions.Hooks
	reminder Reminder
}

func NewProcessor(db *gorm.DB, hooks transactions.Hooks, reminder Reminder) *Processor {
	return &Processor{db: db, hooks: hooks, reminder: reminder}
}

type Result struct {
	Created  int `json:"created"`
	Reminded int `json:"reminded"`
	Failed   int `json:"failed"`
}

// Run processes every user. Failures on one expense are logged and counted
// without stopping the run.
func (p *Processor) Run(ctx context.Context, now time.Time) (Result, error) {
	var res Result
	today := models.DateOnly(now)

	var due []models.RecurringExpense
	if err := p.db.WithContext(ctx).
		Where("active = ? AND next_due_date <= ?", true, today).
		Order("id").Find(&due).Error; err != nil {
		return res, err
	}
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		created, err := Materialise(p.db.WithContext(ctx), &r, today)
		if err != nil {
			slog.Error("materialising recurring expense", "recurring_id", r.ID, "user_id", r.UserID, "error", err)
			res.Failed++
			continue
		}
		res.Created += len(created)
		p.hooks.Written(created...)
	}

	if p.reminder == nil {
		return res, nil
	}

	var upcoming []models.RecurringExpense
	if err := p.db.WithContext(ctx).
		Where("active = ? AND next_due_date > ? AND next_due_date <= ?", true, today, today.Add(ReminderWindow)).
		Order("user_id, next_due_date").Find(&upcoming).Error; err != nil {
		return res, err
	}
	users := map[uint]models.User{}
	for _, r := range upcoming {
		if r.RemindedFor != nil && r.RemindedFor.Equal(r.NextDueDate) {
			continue
		}
		user, ok := users[r.UserID]
		if !ok {
			if err := p.db.WithContext(ctx).First(&user, r.UserID).Error; err != nil {
				slog.Error("loading user for reminder", "user_id", r.UserID, "error", err)
				res.Failed++
				continue
			}
			users[r.UserID] = user
		}

		if err := p.reminder.RecurringReminder(user, r); err != nil {
			slog.Warn("recurring reminder not delivered", "recurring_id", r.ID, "user_id", r.UserID, "error", err)
			res.Failed++
			continue
		}
		if err := p.db.WithContext(ctx).Model(&models.RecurringExpense{}).
			Where("id = ?", r.ID).Update("reminded_for", r.NextDueDate).Error; err != nil {
			slog.Error("marking reminder sent", "recurring_id", r.ID, "error", err)
		}
		res.Reminded++
	}

	slog.Info("recurring expenses processed", "created", res.Created, "reminded", res.Reminded, "failed", res.Failed)
	return res, nil
}

// Materialise records every occurrence of r due on or before today and
// moves its next due date past today, in one database transaction.
func Materialise(tx *gorm.DB, r *models.RecurringExpense, today time.Time) ([]models.Transaction, error) {
	var created []models.Transaction
	err := tx.Transaction(func(tx *gorm.DB) error {
		next := *r
		for i := 0; !next.NextDueDate.After(today) && i < maxCatchUp; i++ {
			t := occurrence(next, next.NextDueDate)
			if err := tx.Create(&t).Error; err != nil {
				return err
			}
			created = append(created, t)
			paid := next.NextDueDate
			next.LastPaidAt = &paid
			next.Advance()
		}
		if err := tx.Model(&models.RecurringExpense{}).Where("id = ?", r.ID).Updates(map[string]interface{}{
			"next_due_date": next.NextDueDate,
			"last_paid_at":  next.LastPaidAt,
		}).Error; err != nil {
			return err
		}
		*r = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func occurrence(r models.RecurringExpense, date time.Time) models.Transaction {
	id := r.ID
	return models.Transaction{
		UserID:             r.UserID,
		Type:               models.TypeExpense,
		Amount:             r.Amount,
		Category:           r.Category,
		Description:        r.Description,
		Date:               date,
		PaymentMethod:      r.PaymentMethod,
		Source:             models.SourceRecurring,
		RecurringExpenseID: &id,
	}
}
