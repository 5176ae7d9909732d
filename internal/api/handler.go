package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendance-gateway/internal/attendance"
	"attendance-gateway/internal/errcode"
	"attendance-gateway/internal/model"
	"attendance-gateway/internal/mw"
	"attendance-gateway/internal/poller"
	"attendance-gateway/internal/protocol"
	"attendance-gateway/internal/store"
	"attendance-gateway/internal/terminal"
)

// DeviceManager is the slice of a terminal client the device endpoints use.
type DeviceManager interface {
	RecordInfo(ctx context.Context) (protocol.RecordInfo, error)
	DeviceInfo(ctx context.Context) ([]byte, error)
	ListUsers(ctx context.Context) ([]protocol.UserRecord, error)
	AddUser(ctx context.Context, userID uint64, name, password, cardID string) error
	DeleteUser(ctx context.Context, userID uint64) error
	Close() error
}

// OpenFunc returns a manager for a registered device.
type OpenFunc func(dev model.Device) DeviceManager

// TerminalOpener opens devices over the wire protocol.
func TerminalOpener(d *terminal.Dialer) OpenFunc {
	return func(dev model.Device) DeviceManager {
		return d.Client(dev.IPAddress, dev.Port, dev.DeviceCode)
	}
}

// Ingester applies one normalized event.
type Ingester interface {
	Ingest(ctx context.Context, ev attendance.Event) (attendance.Result, error)
}

// Syncer pulls punches from a terminal on demand.
type Syncer interface {
	PollDevice(ctx context.Context, deviceID int64) (poller.Stats, error)
	Backfill(ctx context.Context, deviceID int64) (poller.Stats, error)
}

// Options carries the handler settings taken from configuration.
type Options struct {
	WebhookToken string
	Location     *time.Location
	Guard        *terminal.Guard
	Cache        *mw.ResponseCache

	// Syncer enables POST /api/devices/:id/sync.
	Syncer Syncer
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	pipeline Ingester
	open     OpenFunc
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, pipeline Ingester, open OpenFunc, opts Options, logger *zap.Logger) *Handler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Guard == nil {
		opts.Guard = terminal.NewGuard()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:    s,
		pipeline: pipeline,
		open:     open,
		opts:     opts,
		logger:   logger.With(zap.String("component", "api")),
		now:      time.Now,
	}
}

func errorJSON(c *gin.Context, status int, code errcode.Code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}

// device loads the :id device or writes the error response.
func (h *Handler) device(c *gin.Context) (*model.Device, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		errorJSON(c, http.StatusBadRequest, errcode.InvalidRequest, "invalid device id")
		return nil, false
	}
	dev, err := h.store.GetDevice(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, errcode.DeviceNotFound, "device not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to load device", zap.Int64("device_id", id), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, errcode.Error, "failed to load device")
		return nil, false
	}
	return dev, true
}

// withTerminal runs fn against the device while holding its guard.
func (h *Handler) withTerminal(dev *model.Device, fn func(m DeviceManager) error) error {
	defer h.opts.Guard.Lock(terminal.Addr(dev.IPAddress, dev.Port))()
	m := h.open(*dev)
	defer m.Close()
	return fn(m)
}

// terminalError maps a failed terminal call onto an HTTP response.
func (h *Handler) terminalError(c *gin.Context, dev *model.Device, op string, err error) {
	code := terminal.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case errcode.DeviceRejected:
		status = http.StatusUnprocessableEntity
	case errcode.ConnectionFailed, errcode.InsufficientData:
		status = http.StatusBadGateway
	}
	h.logger.Warn("Terminal operation failed",
		zap.Int64("device_id", dev.ID),
		zap.String("op", op),
		zap.String("code", string(code)),
		zap.Error(err))
	errorJSON(c, status, code, err.Error())
}
