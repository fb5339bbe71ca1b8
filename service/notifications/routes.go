package notification

import (
	"errors"
	"net/http"
	"strings"

	"github.com/KAsare1/Fintrack-server/cmd/models"
	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/gorilla/mux"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"gorm.io/gorm"
)

// NotificationHandler manages the push devices of the signed-in user.
type NotificationHandler struct {
	db *gorm.DB
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{db: db}
}

func (h *NotificationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/devices", h.ListDevices).Methods("GET")
	router.HandleFunc("/devices", h.RegisterDevice).Methods("POST")
	router.HandleFunc("/devices/{id}", h.DeleteDevice).Methods("DELETE")
}

type deviceRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"`
	DeviceName string `json:"device_name"`
}

// RegisterDevice stores an Expo push token. Registering a known token again
// only refreshes its metadata.
func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	var req deviceRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	req.Token = strings.TrimSpace(req.Token)

	v := utils.NewValidator()
	v.Required(req.Token, "token")
	if req.Token != "" {
		_, err := expo.NewExponentPushToken(req.Token)
		v.Check(err == nil, "token", "must be an Expo push token")
	}
	v.MaxLen(req.DeviceType, 50, "device_type")
	v.MaxLen(req.DeviceName, 100, "device_name")
	if err := v.Err(); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	var device models.Device
	err = h.db.Where("token = ? AND user_id = ?", req.Token, userID).First(&device).Error
	switch {
	case err == nil:
		device.DeviceType = req.DeviceType
		device.DeviceName = req.DeviceName
		if err := h.db.Save(&device).Error; err != nil {
			utils.RespondWithError(w, r, err)
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, device)
	case errors.Is(err, gorm.ErrRecordNotFound):
		device = models.Device{
			UserID:     userID,
			Token:      req.Token,
			DeviceType: req.DeviceType,
			DeviceName: req.DeviceName,
		}
		if err := h.db.Create(&device).Error; err != nil {
			utils.RespondWithError(w, r, err)
			return
		}
		utils.RespondWithJSON(w, http.StatusCreated, device)
	default:
		utils.RespondWithError(w, r, err)
	}
}

func (h *NotificationHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}

	devices := []models.Device{}
	if err := h.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&devices).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, devices)
}

func (h *NotificationHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, r, utils.ErrUnauthorized)
		return
	}
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.RespondWithError(w, r, err)
		return
	}

	var device models.Device
	if err := utils.FindOwned(h.db, &device, id, userID); err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	if err := h.db.Delete(&device).Error; err != nil {
		utils.RespondWithError(w, r, err)
		return
	}
	utils.RespondNoContent(w)
}
