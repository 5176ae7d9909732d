package api

import (
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendance-gateway/internal/errcode"
	"attendance-gateway/internal/model"
	"attendance-gateway/internal/protocol"
)

// DeviceUserResponse is one staff entry read from a terminal.
type DeviceUserResponse struct {
	UserID         uint64 `json:"user_id"`
	Name           string `json:"name"`
	CardID         string `json:"card_id,omitempty"`
	HasBiometric   bool   `json:"has_biometric"`
	PlatformUserID *int64 `json:"platform_user_id,omitempty"`
}

// RecordInfoResponse mirrors the terminal's storage counters.
type RecordInfoResponse struct {
	UserCount      int `json:"user_count"`
	FPCount        int `json:"fingerprint_count"`
	RecordCount    int `json:"record_count"`
	NewRecordCount int `json:"new_record_count"`

	// DeviceInfo is the hex-encoded device info payload, when the firmware answers it.
	DeviceInfo string `json:"device_info,omitempty"`
}

// GetDevices handles GET /api/devices.
func (h *Handler) GetDevices(c *gin.Context) {
	devices, err := h.store.ListDevices(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list devices", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, errcode.Error, "failed to retrieve devices")
		return
	}
	c.JSON(http.StatusOK, devices)
}

// GetDeviceInfo handles GET /api/devices/:id/info.
func (h *Handler) GetDeviceInfo(c *gin.Context) {
	dev, ok := h.device(c)
	if !ok {
		return
	}
	var (
		info protocol.RecordInfo
		raw  []byte
	)
	err := h.withTerminal(dev, func(m DeviceManager) error {
		var err error
		info, err = m.RecordInfo(c.Request.Context())
		if err != nil {
			return err
		}
		if raw, err = m.DeviceInfo(c.Request.Context()); err != nil {
			h.logger.Debug("Device info unavailable", zap.Int64("device_id", dev.ID), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		h.terminalError(c, dev, "record_info", err)
		return
	}
	c.JSON(http.StatusOK, RecordInfoResponse{
		UserCount:      info.UserCount,
		FPCount:        info.FPCount,
		RecordCount:    info.RecordCount,
		NewRecordCount: info.NewRecordCount,
		DeviceInfo:     hex.EncodeToString(raw),
	})
}

// PostDeviceSync handles POST /api/devices/:id/sync. With all=1 every stored
// record is re-read instead of only the unread ones.
func (h *Handler) PostDeviceSync(c *gin.Context) {
	dev, ok := h.device(c)
	if !ok {
		return
	}
	pull := h.opts.Syncer.PollDevice
	if all, _ := strconv.ParseBool(c.Query("all")); all {
		pull = h.opts.Syncer.Backfill
	}
	stats, err := pull(c.Request.Context(), dev.ID)
	if err != nil {
		h.terminalError(c, dev, "sync", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetDeviceUsers handles GET /api/devices/:id/users.
func (h *Handler) GetDeviceUsers(c *gin.Context) {
	dev, ok := h.device(c)
	if !ok {
		return
	}
	var users []protocol.UserRecord
	err := h.withTerminal(dev, func(m DeviceManager) error {
		var err error
		users, err = m.ListUsers(c.Request.Context())
		return err
	})
	if err != nil {
		h.terminalError(c, dev, "list_users", err)
		return
	}

	resp := make([]DeviceUserResponse, 0, len(users))
	for _, u := range users {
		r := DeviceUserResponse{
			UserID:       u.UserID,
			Name:         u.Name,
			CardID:       u.CardID,
			HasBiometric: u.HasBiometric,
		}
		if u.UserID <= math.MaxUint32 {
			if du, err := h.store.FindDeviceUser(c.Request.Context(), dev.ID, uint32(u.UserID)); err == nil {
				r.PlatformUserID = &du.UserID
			}
		}
		resp = append(resp, r)
	}
	c.JSON(http.StatusOK, resp)
}

// maxDeviceUserID is the largest staff id a terminal accepts.
const maxDeviceUserID = 65535

type postDeviceUserRequest struct {
	UserID         uint64 `json:"user_id" binding:"required"`
	Name           string `json:"name" binding:"required"`
	Password       string `json:"password"`
	CardID         string `json:"card_id"`
	PlatformUserID int64  `json:"platform_user_id"`
}

// PostDeviceUser handles POST /api/devices/:id/users. The terminal is written
// first; the platform link is stored only once the device accepted the user.
func (h *Handler) PostDeviceUser(c *gin.Context) {
	dev, ok := h.device(c)
	if !ok {
		return
	}
	var req postDeviceUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, errcode.InvalidRequest, err.Error())
		return
	}
	if req.UserID > maxDeviceUserID {
		errorJSON(c, http.StatusBadRequest, errcode.InvalidRequest, "user_id must be between 1 and 65535")
		return
	}
	if len(req.Password) > 10 || len(req.CardID) > 10 {
		errorJSON(c, http.StatusBadRequest, errcode.InvalidRequest, "password and card_id are limited to 10 characters")
		return
	}

	err := h.withTerminal(dev, func(m DeviceManager) error {
		return m.AddUser(c.Request.Context(), req.UserID, req.Name, req.Password, req.CardID)
	})
	if err != nil {
		h.terminalError(c, dev, "add_user", err)
		return
	}
	h.invalidate(dev)

	if req.PlatformUserID > 0 {
		du := model.DeviceUser{DeviceID: dev.ID, DeviceUserID: uint32(req.UserID), UserID: req.PlatformUserID}
		if req.CardID != "" {
			card := req.CardID
			du.CardNumber = &card
		}
		if err := h.store.UpsertDeviceUser(c.Request.Context(), &du); err != nil {
			h.logger.Error("User added to terminal but link not stored",
				zap.Int64("device_id", dev.ID), zap.Uint64("user_id", req.UserID), zap.Error(err))
			errorJSON(c, http.StatusInternalServerError, errcode.Error, "user added to device but platform link failed")
			return
		}
	}

	h.logger.Info("User provisioned on terminal", zap.Int64("device_id", dev.ID), zap.Uint64("user_id", req.UserID))
	c.JSON(http.StatusCreated, gin.H{"user_id": req.UserID, "device_id": dev.ID})
}

// DeleteDeviceUser handles DELETE /api/devices/:id/users/:uid.
func (h *Handler) DeleteDeviceUser(c *gin.Context) {
	dev, ok := h.device(c)
	if !ok {
		return
	}
	uid, err := strconv.ParseUint(c.Param("uid"), 10, 64)
	if err != nil || uid == 0 || uid > maxDeviceUserID {
		errorJSON(c, http.StatusBadRequest, errcode.InvalidRequest, "invalid user id")
		return
	}

	err = h.withTerminal(dev, func(m DeviceManager) error {
		return m.DeleteUser(c.Request.Context(), uid)
	})
	if err != nil {
		h.terminalError(c, dev, "delete_user", err)
		return
	}
	h.invalidate(dev)

	if err := h.store.DeleteDeviceUser(c.Request.Context(), dev.ID, uint32(uid)); err != nil {
		h.logger.Error("User removed from terminal but link not deleted",
			zap.Int64("device_id", dev.ID), zap.Uint64("user_id", uid), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, errcode.Error, "user removed from device but platform link failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) invalidate(dev *model.Device) {
	if h.opts.Cache != nil {
		h.opts.Cache.Invalidate(fmt.Sprintf("/api/devices/%d/", dev.ID))
	}
}
