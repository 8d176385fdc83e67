package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/secure-shuttle/backend/internal/http/dto"
	"github.com/secure-shuttle/backend/internal/middleware"
	"github.com/secure-shuttle/backend/internal/services"
	"go.uber.org/zap"
)

type RatingHandler struct {
	ratingService *services.RatingService
	log           *zap.Logger
}

func NewRatingHandler(ratingService *services.RatingService, log *zap.Logger) *RatingHandler {
	return &RatingHandler{ratingService: ratingService, log: log}
}

func (h *RatingHandler) Rate(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}
	var req dto.RateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	rating, err := h.ratingService.Rate(c.Context(), middleware.GetUserID(c), id, req.Score, req.Comment)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rating})
}

func (h *RatingHandler) ListForEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	ratings, err := h.ratingService.ListForEscrow(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: ratings})
}

// MyRating returns the caller's own rating for an escrow.
func (h *RatingHandler) MyRating(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	rating, err := h.ratingService.MyRating(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rating})
}

func (h *RatingHandler) UserSummary(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "user id is required"})
	}

	summary, err := h.ratingService.UserSummary(c.Context(), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: summary})
}
