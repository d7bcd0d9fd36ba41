// Package action routes decrypted requests to named handlers.
package action

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"farmgate/internal/metrics"
	"farmgate/internal/txn"
	"farmgate/pkg/jwt"
)

// Return actions the client reacts to regardless of the request.
const (
	ReturnMessage = "receiver_message_data"
	ReturnAction  = "receiver_action_data"
)

// ReplyFunc sends one reply frame to the calling session.
type ReplyFunc func(returnAction string, data any)

// Call is one request addressed to a handler.
type Call struct {
	Identity jwt.Identity
	Action   string
	Data     json.RawMessage
	// ReturnAction is what a successful reply is tagged with.
	ReturnAction string
	Reply        ReplyFunc
}

// Handler serves one action. A *txn.BusinessError is shown to the user;
// txn.ErrEntityNotFound asks the client to reload.
type Handler func(ctx context.Context, call *Call) error

type Registry struct {
	handlers map[string]Handler
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewRegistry(logger *zap.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger.Named("action"),
		metrics:  m,
	}
}

// Handle registers h under name. Registration happens before serving.
func (r *Registry) Handle(name string, h Handler) {
	r.handlers[name] = h
}

// Dispatch runs the handler for call.Action and reports whether one exists.
// Unknown actions are ignored.
func (r *Registry) Dispatch(ctx context.Context, call *Call) bool {
	h, ok := r.handlers[call.Action]
	if !ok {
		r.metrics.Frame("message", "unknown_action")
		return false
	}

	err := h(ctx, call)
	r.metrics.Frame("message", string(txn.Classify(err)))

	var be *txn.BusinessError
	switch {
	case err == nil:
	case errors.Is(err, txn.ErrEntityNotFound):
		call.Reply(ReturnAction, map[string]any{"action": "reload"})
	case errors.As(err, &be):
		call.Reply(ReturnMessage, map[string]any{"content": be.Message, "type": "error"})
	default:
		r.logger.Error("action failed",
			zap.String("action", call.Action),
			zap.String("tele_id", call.Identity.TeleID),
			zap.Error(err))
	}
	return true
}
