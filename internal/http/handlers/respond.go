package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/secure-shuttle/backend/internal/apperr"
	"github.com/secure-shuttle/backend/internal/http/dto"
)

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthorized:
		return fiber.StatusUnauthorized
	case apperr.KindForbidden:
		return fiber.StatusForbidden
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidState:
		return fiber.StatusConflict
	case apperr.KindValidation:
		return fiber.StatusBadRequest
	case apperr.KindUpstreamUnavailable:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// fail maps a service error onto the HTTP surface. Unclassified errors are
// reported as opaque 500s so storage details never leak.
func fail(c *fiber.Ctx, err error) error {
	kind, ok := apperr.KindOf(err)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.Status(statusForKind(kind)).JSON(dto.ErrorResponse{Error: err.Error()})
}
