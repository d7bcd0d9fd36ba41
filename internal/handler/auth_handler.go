package handler

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"farmgate/internal/handler/middleware"
	"farmgate/internal/service"
	"farmgate/pkg/response"
)

const (
	headerWebAppInit = "--webapp-init"
	headerWebAppHash = "--webapp-hash"
	maxAuthBodySize  = 64 << 10
)

type AuthHandler struct {
	authService service.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, logger: logger.Named("auth_handler")}
}

// Auth handles POST /api/auth.
func (h *AuthHandler) Auth(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAuthBodySize))
	if err != nil {
		response.BadRequest(c, "Bad request.")
		return
	}

	token, err := h.authService.Authenticate(c.Request.Context(), service.AuthRequest{
		InitData:  c.GetHeader(headerWebAppInit),
		Signature: c.GetHeader(headerWebAppHash),
		Body:      body,
		ClientIP:  middleware.ClientIP(c),
	})
	switch {
	case err == nil:
		response.Success(c, gin.H{"token": token})
	case errors.Is(err, service.ErrMalformedRequest),
		errors.Is(err, service.ErrStaleRequest),
		errors.Is(err, service.ErrRequestSignature):
		response.BadRequest(c, "Bad request.")
	case errors.Is(err, service.ErrInvalidInitData):
		response.Forbidden(c, "Invalid user data.")
	default:
		h.logger.Error("auth failed", zap.Error(err))
		response.InternalError(c, "Internal server error.")
	}
}
