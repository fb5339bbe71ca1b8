package models

import (
	"time"
)

// Base replaces gorm.Model for user data: rows are hard-deleted so the
// per-period unique indexes stay usable after a delete.
type Base struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Owned is implemented by every row that belongs to a single user.
type Owned interface {
	OwnerID() uint
}

type User struct {
	Base
	FullName              string    `gorm:"column:full_name;size:255;not null" json:"full_name"`
	Email                 string    `gorm:"column:email;size:255;not null;uniqueIndex" json:"email"`
	PasswordHash          string    `gorm:"column:password_hash;size:255;not null" json:"-"`
	Refresh               string    `gorm:"column:refresh_token;size:255;index" json:"-"`
	RefreshTokenExpiredAt time.Time `gorm:"column:refresh_token_expired_at" json:"-"`

	Preferences Preferences `gorm:"embedded;embeddedPrefix:pref_" json:"preferences"`
}

func (u User) OwnerID() uint { return u.ID }

const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

// Preferences are the per-user settings exposed on /auth/preferences.
type Preferences struct {
	Currency             string `gorm:"size:3;not null;default:USD" json:"currency"`
	Locale               string `gorm:"size:20;not null;default:en-US" json:"locale"`
	Theme                string `gorm:"size:10;not null;default:system" json:"theme"`
	MonthStartDay        int    `gorm:"not null;default:1" json:"month_start_day"`
	EmailAlerts          bool   `gorm:"not null;default:false" json:"email_alerts"`
	PushAlerts           bool   `gorm:"not null;default:true" json:"push_alerts"`
	BudgetAlertThreshold int    `gorm:"not null;default:80" json:"budget_alert_threshold"`
}

// DefaultPreferences is what a freshly registered user gets.
func DefaultPreferences() Preferences {
	return Preferences{
		Currency:             "USD",
		Locale:               "en-US",
		Theme:                ThemeSystem,
		MonthStartDay:        1,
		PushAlerts:           true,
		BudgetAlertThreshold: 80,
	}
}

type PasswordResetToken struct {
	Base
	UserID    uint       `gorm:"not null;index"`
	TokenHash string     `gorm:"size:64;not null;uniqueIndex"`
	ExpiresAt time.Time  `gorm:"not null"`
	UsedAt    *time.Time
}
