// Package webhook hosts a local stand-in for the external provider so the
// delivery loop can be exercised end to end without outside infrastructure.
package webhook

import (
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/api/respond"
)

// Handler simulates provider delivery outcomes: roughly 80% accepted, the rest
// failed.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// ForwardResponse mimics the provider response contract.
type ForwardResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Forward handles forwarded delivery requests and returns a provider-style outcome.
func (h *Handler) Forward(c *ginext.Context) {
	status := "accepted"
	code := http.StatusAccepted

	// The top-level source is safe for concurrent requests.
	if rand.Intn(100) >= 80 {
		status = "failed"
		code = http.StatusInternalServerError
	}

	zlog.Logger.Info().
		Str("method", c.Request.Method).
		Str("status", status).
		Msg("webhook forward received")

	respond.JSON(c.Writer, code, ForwardResponse{
		MessageID: uuid.NewString(),
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
