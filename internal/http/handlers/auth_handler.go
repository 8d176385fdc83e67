package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/secure-shuttle/backend/internal/auth"
	"github.com/secure-shuttle/backend/internal/config"
	"github.com/secure-shuttle/backend/internal/http/dto"
	"go.uber.org/zap"
)

// AuthHandler mints access tokens. Identity itself lives upstream; the
// internal issue endpoint is how trusted callers exchange a verified user id
// for a JWT.
type AuthHandler struct {
	cfg *config.Config
	log *zap.Logger
}

func NewAuthHandler(cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, log: log}
}

// IssueToken is mounted behind the internal key middleware.
func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	var req dto.IssueTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "user_id is required"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, req.UserID, h.cfg.IsAdmin(req.UserID), h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("token generation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.TokenResponse{Token: token}})
}
