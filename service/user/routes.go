// Package user handles accounts and sessions: registration, login, token
// refresh, preferences and password management.
package user

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/KAsare1/Fintrack-server/service/invalidation"
	notification "github.com/KAsare1/Fintrack-server/service/notifications"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 8

type Handler struct {
	db           *gorm.DB
	tokens       *utils.TokenIssuer
	mailer       notification.Mailer
	inv          *invalidation.Invalidator
	cookieSecure bool
	hashCost     int
	now          func() time.Time
}

func NewHandler(db *gorm.DB, tokens *utils.TokenIssuer, mailer notification.Mailer, inv *invalidation.Invalidator, cookieSecure bool) *Handler {
	return &Handler{
		db:           db,
		tokens:       tokens,
		mailer:       mailer,
		inv:          inv,
		cookieSecure: cookieSecure,
		hashCost:     bcrypt.DefaultCost,
		now:          time.Now,
	}
}

// RegisterPublicRoutes mounts the endpoints reachable without a session.
func (h *Handler) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/auth/register", h.HandleRegister).Methods("POST")
	router.HandleFunc("/auth/login", h.handleLogin).Methods("POST")
	router.HandleFunc("/auth/refresh", h.handleRefreshToken).Methods("POST")
	router.HandleFunc("/auth/logout", h.handleLogout).Methods("POST")
	router.HandleFunc("/auth/password-reset", h.handlePasswordResetRequest).Methods("POST")
	router.HandleFunc("/auth/password-reset/confirm", h.handlePasswordReset).Methods("POST")
}

// RegisterRoutes mounts the endpoints that need an authenticated user.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/me", h.GetMe).Methods("GET")
	router.HandleFunc("/auth/me", h.DeleteMe).Methods("DELETE")
	router.HandleFunc("/auth/preferences", h.GetPreferences).Methods("GET")
	router.HandleFunc("/auth/preferences", h.UpdatePreferences).Methods("PUT")
	router.HandleFunc("/auth/password", h.ChangePassword).Methods("PUT")
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (h *Handler) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.hashCost)
	return string(b), err
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = normaliseEmail(req.Email)

	v := utils.NewValidator()
	v.Required(req.FullName, "full_name")
	v.MaxLen(req.FullName, 255, "full_name")
	v.Required(req.Email, "email")
	if req.Email != "" {
		_, err := mail.ParseAddress(req.Email)
		v.Check(err == nil, "email", "must be a valid email address")
	}
	v.MaxLen(req.Email, 255, "email")
	v.Check(len(req.Password) >= minPasswordLength, "password", "must be at least 8 characters")
	v.Check(len(req.Password) <= 72, "password", "must be at most 72 characters")
	if err := v.Err(); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	var existing int64
	if err := h.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&existing).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if existing > 0 {
		utils.RespondWithError(w, r, utils.FieldError("email", "is already registered"))
		return
	}

	hash, err := h.hash(req.Password)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	user := models.User{
		FullName:     req.FullName,
		Email:        req.Email,
		PasswordHash: hash,
		Preferences:  models.DefaultPreferences(),
	}

	var session SessionResponse
	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return utils.FieldError("email", "is already registered")
			}
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

	slog.Info("user registered", "user_id", user.ID)
	utils.RespondWithJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", normaliseEmail(req.Email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.RespondWithError(w, r, utils.ErrUnauthorized)
			return
		}
		utils.RespondWithError(w, r, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	session, err := h.startSession(w, h.db, user)
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, session)
}

// handleRefreshToken rotates both tokens; the old refresh token stops
// working immediately.
func (h *Handler) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	token := refreshTokenFrom(r)
	user, err := h.userForRefresh(token)
	if err != nil {
		h.clearCookies(w)
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	session, err := h.rotateSession(w, user, token)
	if errors.Is(err, utils.ErrUnauthorized) {
		h.clearCookies(w)
	}
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, session)
}

// handleLogout always clears the cookies; a valid refresh token is also
// revoked server side.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if user, err := h.userForRefresh(refreshTokenFrom(r)); err == nil {
		if err := h.db.Model(&models.User{}).Where("id = ?", user.ID).Update("refresh_token", "").Error; err != nil {
			utils.RespondWithError(w, r, err)
			return
		}
	}
	h.clearCookies(w)
	utils.RespondNoContent(w)
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
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
	utils.RespondWithJSON(w, http.StatusOK, user)
}
