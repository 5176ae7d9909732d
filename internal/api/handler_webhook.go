package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendance-gateway/internal/attendance"
	"attendance-gateway/internal/errcode"
	"attendance-gateway/internal/mw"
	"attendance-gateway/internal/parse"
)

// TokenHeader carries the shared webhook secret.
const TokenHeader = "X-Webhook-Token"

// PostTerminalEvent handles POST /api/webhooks/terminal. Domain failures are
// answered with 200 and a Result carrying the code; callers branch on it.
func (h *Handler) PostTerminalEvent(c *gin.Context) {
	if tok := h.opts.WebhookToken; tok != "" {
		got := c.GetHeader(TokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			errorJSON(c, http.StatusUnauthorized, errcode.Unauthorized, "invalid webhook token")
			return
		}
	}

	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		errorJSON(c, http.StatusBadRequest, errcode.InvalidRequest, "invalid request")
		return
	}
	if sn := strings.TrimSpace(c.GetHeader(mw.DeviceHeader)); sn != "" && !parse.Has(raw, "device_sn", "sn", "serial") {
		raw["device_sn"] = sn
	}

	ev, code := attendance.Normalize(raw, h.now(), h.opts.Location)
	if code != errcode.OK {
		c.JSON(http.StatusOK, attendance.Result{Code: code, Message: "event rejected during normalization"})
		return
	}

	res, err := h.pipeline.Ingest(c.Request.Context(), ev)
	if err != nil {
		h.logger.Error("Failed to ingest terminal event", zap.String("device_sn", ev.DeviceSerial), zap.Error(err))
		c.JSON(http.StatusInternalServerError, res)
		return
	}
	c.JSON(http.StatusOK, res)
}
