package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/secure-shuttle/backend/internal/http/dto"
	"github.com/secure-shuttle/backend/internal/middleware"
	"github.com/secure-shuttle/backend/internal/services"
	"github.com/secure-shuttle/backend/internal/solana"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService  *services.EscrowService
	fundingService *services.FundingService
	log            *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, fundingService *services.FundingService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, fundingService: fundingService, log: log}
}

func (h *EscrowHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	actorID := middleware.GetUserID(c)
	escrow, joinToken, err := h.escrowService.Create(c.Context(), actorID, services.CreateEscrowInput{
		Label:                  req.Label,
		SenderAddress:          req.SenderAddress,
		RecipientAddress:       req.RecipientAddress,
		ExpectedAmountLamports: req.ExpectedAmountLamports,
		Role:                   req.Role,
	})
	if err != nil {
		return fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.CreateEscrowResponse{
		Escrow:    escrow,
		JoinToken: joinToken,
	}})
}

func (h *EscrowHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	escrow, err := h.escrowService.Get(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

// GetShared resolves a share link. Non-participants must present the join
// token as a query parameter.
func (h *EscrowHandler) GetShared(c *fiber.Ctx) error {
	escrow, err := h.escrowService.GetShared(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c),
		c.Params("publicId"), c.Query("join_token"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) List(c *fiber.Ctx) error {
	limit, offset := 20, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	var status *string
	if v := c.Query("status"); v != "" {
		status = &v
	}

	total, items, err := h.escrowService.List(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), status, limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ListResponse{Total: total, Items: items}})
}

func (h *EscrowHandler) Update(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}
	var req dto.UpdateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	escrow, err := h.escrowService.Update(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), id, services.UpdateEscrowInput{
		Label:                  req.Label,
		ExpectedAmountLamports: req.ExpectedAmountLamports,
		SenderAddress:          req.SenderAddress,
		RecipientAddress:       req.RecipientAddress,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) ClaimRole(c *fiber.Ctx) error {
	var req dto.ClaimRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.Role == "" || req.JoinToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "role and join_token are required"})
	}

	escrow, err := h.escrowService.ClaimRole(c.Context(), middleware.GetUserID(c), c.Params("publicId"), req.Role, req.JoinToken)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) CreateInvite(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	raw, expiresAt, err := h.escrowService.CreateInvite(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.InviteResponse{
		InviteToken: raw,
		ExpiresAt:   expiresAt,
	}})
}

func (h *EscrowHandler) AcceptInvite(c *fiber.Ctx) error {
	var req dto.AcceptInviteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.InviteToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invite_token is required"})
	}

	escrow, err := h.escrowService.AcceptInvite(c.Context(), middleware.GetUserID(c), req.InviteToken)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) SetRecipientAddress(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}
	var req dto.SetRecipientAddressRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.Address == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "address is required"})
	}

	escrow, err := h.escrowService.SetRecipientAddress(c.Context(), middleware.GetUserID(c), id, req.Address)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) MarkServiceComplete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	escrow, err := h.escrowService.MarkServiceComplete(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) Balance(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	escrow, err := h.escrowService.Get(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), id)
	if err != nil {
		return fail(c, err)
	}
	balance, err := h.fundingService.Balance(c.Context(), escrow)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.BalanceResponse{
		PublicKey:       escrow.PublicKey,
		BalanceLamports: balance,
		BalanceSol:      float64(balance) / float64(solana.LamportsPerSol),
	}})
}

func (h *EscrowHandler) SyncFunding(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	if _, err := h.escrowService.Get(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), id); err != nil {
		return fail(c, err)
	}
	status, err := h.fundingService.SyncFunding(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: status})
}

// AuditTrail returns the recorded lifecycle history of an escrow.
func (h *EscrowHandler) AuditTrail(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	entries, err := h.escrowService.AuditTrail(c.Context(), id, limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

// RecordTransaction registers a deposit the client observed out-of-band.
func (h *EscrowHandler) RecordTransaction(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}
	var req dto.RecordTransactionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	status, err := h.fundingService.RecordDeposit(c.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), id, req.Signature)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: status})
}

// MarkFunded is the admin escape hatch when RPC visibility lags a real
// deposit.
func (h *EscrowHandler) MarkFunded(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	escrow, err := h.fundingService.MarkFunded(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}
