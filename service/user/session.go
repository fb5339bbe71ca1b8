package user

import (
	"net/http"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"gorm.io/gorm"
)

// SessionResponse is returned by login, register and refresh. The tokens
// are also set as HttpOnly cookies; mobile clients use the body.
type SessionResponse struct {
	User                  models.User `json:"user"`
	AccessToken           string      `json:"access_token"`
	AccessTokenExpiresAt  time.Time   `json:"access_token_expires_at"`
	RefreshToken          string      `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time   `json:"refresh_token_expires_at"`
}

// startSession issues a token pair and stores the refresh token hash,
// replacing any previous one.
func (h *Handler) startSession(w http.ResponseWriter, tx *gorm.DB, user models.User) (SessionResponse, error) {
	return h.issueSession(w, tx.Model(&models.User{}).Where("id = ?", user.ID), user)
}

// rotateSession replaces the presented refresh token only if it is still the
// stored one. Of two requests racing with the same token, one loses and gets
// ErrUnauthorized.
func (h *Handler) rotateSession(w http.ResponseWriter, user models.User, presented string) (SessionResponse, error) {
	return h.issueSession(w, h.db.Model(&models.User{}).
		Where("id = ? AND refresh_token = ?", user.ID, utils.HashToken(presented)), user)
}

func (h *Handler) issueSession(w http.ResponseWriter, row *gorm.DB, user models.User) (SessionResponse, error) {
	access, accessExp, err := h.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return SessionResponse{}, err
	}
	refresh, refreshExp, err := h.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return SessionResponse{}, err
	}

	res := row.Updates(map[string]interface{}{
		"refresh_token":            utils.HashToken(refresh),
		"refresh_token_expired_at": refreshExp,
	})
	if res.Error != nil {
		return SessionResponse{}, res.Error
	}
	if res.RowsAffected == 0 {
		return SessionResponse{}, utils.ErrUnauthorized
	}

	h.setCookie(w, utils.SessionCookie, access, accessExp)
	h.setCookie(w, utils.RefreshCookie, refresh, refreshExp)
	return SessionResponse{
		User:                  user,
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: refreshExp,
	}, nil
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookies(w http.ResponseWriter) {
	for _, name := range []string{utils.SessionCookie, utils.RefreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// refreshTokenFrom reads the refresh token from its cookie or, for clients
// without cookies, from a JSON body.
func refreshTokenFrom(r *http.Request) string {
	if c, err := r.Cookie(utils.RefreshCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if r.ContentLength == 0 {
		return ""
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		return ""
	}
	return body.RefreshToken
}

// userForRefresh resolves a refresh token to its user. The token must be
// correctly signed, match the stored hash and not be expired.
func (h *Handler) userForRefresh(token string) (models.User, error) {
	var user models.User
	if token == "" {
		return user, utils.ErrUnauthorized
	}
	userID, err := h.tokens.VerifyRefreshToken(token)
	if err != nil {
		return user, utils.ErrUnauthorized
	}
	user, err = utils.LoadUser(h.db, userID)
	if err != nil {
		return user, err
	}
	if user.Refresh == "" || user.Refresh != utils.HashToken(token) || user.RefreshTokenExpiredAt.Before(h.now()) {
		return user, utils.ErrUnauthorized
	}
	return user, nil
}
