package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/secure-shuttle/backend/internal/http/dto"
	"github.com/secure-shuttle/backend/internal/middleware"
	"github.com/secure-shuttle/backend/internal/services"
	"go.uber.org/zap"
)

type SettlementHandler struct {
	settlementService *services.SettlementService
	log               *zap.Logger
}

func NewSettlementHandler(settlementService *services.SettlementService, log *zap.Logger) *SettlementHandler {
	return &SettlementHandler{settlementService: settlementService, log: log}
}

func (h *SettlementHandler) Release(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}
	var req dto.ReleaseRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
		}
	}

	tx, escrow, err := h.settlementService.Release(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), id, req.IdempotencyKey)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ReleaseResponse{Escrow: escrow, Transaction: tx}})
}

func (h *SettlementHandler) AdminSettle(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}
	var req dto.AdminSettleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	tx, escrow, err := h.settlementService.AdminSettle(c.Context(), middleware.GetUserID(c), id, req.Action)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ReleaseResponse{Escrow: escrow, Transaction: tx}})
}

func (h *SettlementHandler) ListTransactions(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	txs, err := h.settlementService.ListTransactions(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: txs})
}

// ReleaseShared releases an escrow addressed by its share-link public id.
func (h *SettlementHandler) ReleaseShared(c *fiber.Ctx) error {
	var req dto.ReleaseRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
		}
	}

	tx, escrow, err := h.settlementService.ReleaseByPublicID(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), c.Params("publicId"), req.IdempotencyKey)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ReleaseResponse{Escrow: escrow, Transaction: tx}})
}

// AdminSettleShared settles an escrow addressed by its share-link public id.
func (h *SettlementHandler) AdminSettleShared(c *fiber.Ctx) error {
	var req dto.AdminSettleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	tx, escrow, err := h.settlementService.AdminSettleByPublicID(c.Context(), middleware.GetUserID(c), c.Params("publicId"), req.Action)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ReleaseResponse{Escrow: escrow, Transaction: tx}})
}

func (h *SettlementHandler) GetTransaction(c *fiber.Ctx) error {
	signature := c.Params("signature")
	if signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "signature is required"})
	}

	tx, err := h.settlementService.GetTransaction(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), signature)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: tx})
}

// Reconcile re-checks every unsettled transfer of an escrow.
func (h *SettlementHandler) Reconcile(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	txs, err := h.settlementService.ReconcileEscrow(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: txs})
}

// CheckTransaction forces one status poll of a submitted transfer.
func (h *SettlementHandler) CheckTransaction(c *fiber.Ctx) error {
	signature := c.Params("signature")
	if signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "signature is required"})
	}
	// Visibility check before touching the chain.
	if _, err := h.settlementService.GetTransaction(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), signature); err != nil {
		return fail(c, err)
	}

	tx, err := h.settlementService.CheckTransactionStatus(c.Context(), signature)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: tx})
}
