package user

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/db"
	"github.com/KAsare1/Fintrack-server/service/invalidation"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const resetTokenTTL = time.Hour

func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}
	user, err := utils.LoadUser(h.db, userID)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, user.Preferences)
}

func validatePreferences(p *models.Preferences) error {
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	p.Locale = strings.TrimSpace(p.Locale)
	p.Theme = strings.ToLower(strings.TrimSpace(p.Theme))

	v := utils.NewValidator()
	v.Check(utils.ValidCurrency(p.Currency), "currency", "must be an ISO 4217 currency code")
	v.Required(p.Locale, "locale")
	v.MaxLen(p.Locale, 20, "locale")
	v.OneOf(p.Theme, "theme", models.ThemeLight, models.ThemeDark, models.ThemeSystem)
	v.Between(p.MonthStartDay, 1, 28, "month_start_day")
	v.Between(p.BudgetAlertThreshold, 1, 100, "budget_alert_threshold")
	return v.Err()
}

// UpdatePreferences accepts any subset of the preference fields.
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}
	user, err := utils.LoadUser(h.db, userID)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	prefs := user.Preferences
	if err := utils.DecodeJSON(r, &prefs); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := validatePreferences(&prefs); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	if err := h.db.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"pref_currency":               prefs.Currency,
		"pref_locale":                 prefs.Locale,
		"pref_theme":                  prefs.Theme,
		"pref_month_start_day":        prefs.MonthStartDay,
		"pref_email_alerts":           prefs.EmailAlerts,
		"pref_push_alerts":            prefs.PushAlerts,
		"pref_budget_alert_threshold": prefs.BudgetAlertThreshold,
	}).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.Changed(userID, invalidation.Preferences)
	utils.RespondWithJSON(w, http.StatusOK, prefs)
}

// ChangePassword revokes the stored refresh token and starts a new session,
// signing out every other device.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}
	user, err := utils.LoadUser(h.db, userID)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	v := utils.NewValidator()
	v.Check(bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)) == nil,
		"current_password", "is incorrect")
	v.Check(len(req.NewPassword) >= minPasswordLength, "new_password", "must be at least 8 characters")
	v.Check(len(req.NewPassword) <= 72, "new_password", "must be at most 72 characters")
	if err := v.Err(); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	hash, err := h.hash(req.NewPassword)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	var session SessionResponse
	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Update("password_hash", hash).Error; err != nil {
			return err
		}
		var err error
		session, err = h.startSession(w, tx, user)
		return err
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, session)
}

// DeleteMe removes the account and everything it owns. The password is
// asked again to confirm.
func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}
	user, err := utils.LoadUser(h.db, userID)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		utils.RespondWithError(w, r, utils.FieldError("password", "is incorrect"))
		return
	}

	if err := deleteAccount(h.db, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.inv.ForgetUser(userID)
	h.clearCookies(w)
	slog.Info("account deleted", "user_id", userID)
	utils.RespondNoContent(w)
}

// deleteAccount removes owned rows children first, then the user.
func deleteAccount(gdb *gorm.DB, userID uint) error {
	return gdb.Transaction(func(tx *gorm.DB) error {
		tables := db.Models()
		for i := len(tables) - 1; i >= 0; i-- {
			if _, ok := tables[i].(*models.User); ok {
				continue
			}
			if err := tx.Where("user_id = ?", userID).Delete(tables[i]).Error; err != nil {
				return fmt.Errorf("deleting %T: %w", tables[i], err)
			}
		}
		return tx.Delete(&models.User{}, userID).Error
	})
}

type messageResponse struct {
	Message string `json:"message"`
}

const resetRequestedMessage = "If an account exists, a reset link has been sent to its email"

// handlePasswordResetRequest answers the same way whether or not the email
// is registered.
func (h *Handler) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	email := normaliseEmail(req.Email)
	if email == "" {
		utils.RespondWithError(w, r, utils.FieldError("email", "is required"))
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", email).First(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			utils.RespondWithError(w, r, err)
			return
		}
		utils.RespondWithJSON(w, http.StatusAccepted, messageResponse{resetRequestedMessage})
		return
	}

	token, err := utils.RandomToken(32)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.PasswordResetToken{
			UserID:    user.ID,
			TokenHash: utils.HashToken(token),
			ExpiresAt: h.now().Add(resetTokenTTL),
		}).Error
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	body := fmt.Sprintf("Hello %s,\n\nUse this code to reset your Fintrack password:\n\n%s\n\nIt expires in one hour. If you did not ask for a reset you can ignore this email.\n",
		user.FullName, token)
	if err := h.mailer.Send(user.Email, "Reset your Fintrack password", body); err != nil {
		slog.Error("sending password reset email", "user_id", user.ID, "error", err)
	}
	utils.RespondWithJSON(w, http.StatusAccepted, messageResponse{resetRequestedMessage})
}

// handlePasswordReset consumes a reset token. All sessions are revoked.
func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	v := utils.NewValidator()
	v.Required(req.Token, "token")
	v.Check(len(req.Password) >= minPasswordLength, "password", "must be at least 8 characters")
	v.Check(len(req.Password) <= 72, "password", "must be at most 72 characters")
	if err := v.Err(); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	var reset models.PasswordResetToken
	err := h.db.Where("token_hash = ?", utils.HashToken(strings.TrimSpace(req.Token))).First(&reset).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.RespondWithError(w, r, err)
		return
	}
	if err != nil || reset.UsedAt != nil || reset.ExpiresAt.Before(h.now()) {
		utils.RespondWithError(w, r, utils.FieldError("token", "is invalid or expired"))
		return
	}

	hash, err := h.hash(req.Password)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	now := h.now()
	err = h.db.Transaction(func(tx *gorm.DB) error {
		used := tx.Model(&models.PasswordResetToken{}).
			Where("id = ? AND used_at IS NULL", reset.ID).
			Update("used_at", now)
		if used.Error != nil {
			return used.Error
		}
		if used.RowsAffected == 0 {
			return utils.FieldError("token", "is invalid or expired")
		}
		return tx.Model(&models.User{}).Where("id = ?", reset.UserID).Updates(map[string]interface{}{
			"password_hash": hash,
			"refresh_token": "",
		}).Error
	})
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	h.clearCookies(w)
	utils.RespondWithJSON(w, http.StatusOK, messageResponse{"Password updated"})
}
