package handlers

import (
	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/http/dto"
	"github.com/escrow-marketplace/backend/internal/middleware"
	"github.com/escrow-marketplace/backend/internal/services"
	"github.com/gagliardetto/solana-go"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, log: log}
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	id, err := pathKey(c, "id")
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	e, err := h.escrowService.GetEscrow(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: e})
}

func (h *EscrowHandler) Quote(c *fiber.Ctx) error {
	id, err := pathKey(c, "id")
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	req, err := parseFill(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	q, err := h.escrowService.Quote(c.UserContext(), id, req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: q})
}

func (h *EscrowHandler) Open(c *fiber.Ctx) error {
	var req dto.OpenEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	maker, _ := middleware.GetWallet(c)

	depositMint, err := chain.ParsePublicKey(req.DepositMint)
	if err != nil {
		return badRequest(c, "invalid deposit_mint")
	}
	requestMint, err := chain.ParsePublicKey(req.RequestMint)
	if err != nil {
		return badRequest(c, "invalid request_mint")
	}
	depositAmount, err := decimal.NewFromString(req.DepositAmount)
	if err != nil {
		return badRequest(c, "invalid deposit_amount")
	}
	requestAmount, err := decimal.NewFromString(req.RequestAmount)
	if err != nil {
		return badRequest(c, "invalid request_amount")
	}
	recipient, err := optionalKey(req.Recipient)
	if err != nil {
		return badRequest(c, "invalid recipient")
	}
	whitelist, err := optionalKey(req.Whitelist)
	if err != nil {
		return badRequest(c, "invalid whitelist")
	}

	out, err := h.escrowService.Open(c.UserContext(), services.OpenRequest{
		StorefrontID:     req.StorefrontID,
		Maker:            maker,
		DepositMint:      depositMint,
		RequestMint:      requestMint,
		DepositAmount:    depositAmount,
		RequestAmount:    requestAmount,
		ExpireTimestamp:  req.ExpireTimestamp,
		AllowPartialFill: req.AllowPartialFill,
		OnlyWhitelist:    req.OnlyWhitelist,
		Slippage:         req.Slippage,
		Recipient:        recipient,
		Whitelist:        whitelist,
		Seed:             req.Seed,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: out})
}

func (h *EscrowHandler) Fill(c *fiber.Ctx) error {
	id, err := pathKey(c, "id")
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	req, err := parseFill(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	taker, _ := middleware.GetWallet(c)

	out, err := h.escrowService.Fill(c.UserContext(), taker, id, req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

func (h *EscrowHandler) Cancel(c *fiber.Ctx) error {
	id, err := pathKey(c, "id")
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	maker, _ := middleware.GetWallet(c)

	out, err := h.escrowService.Cancel(c.UserContext(), maker, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

func (h *EscrowHandler) Submit(c *fiber.Ctx) error {
	var req dto.SubmitTxRequest
	if err := c.BodyParser(&req); err != nil || req.Transaction == "" {
		return badRequest(c, "transaction is required")
	}
	signer, _ := middleware.GetWallet(c)

	sig, err := h.escrowService.Submit(c.UserContext(), signer, req.Transaction)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.SubmitTxResponse{Signature: sig.String()}})
}

func parseFill(c *fiber.Ctx) (services.FillRequest, error) {
	var req dto.FillEscrowRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return services.FillRequest{}, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	out := services.FillRequest{StorefrontID: req.StorefrontID}
	if req.RequestAmount != nil {
		v, err := decimal.NewFromString(*req.RequestAmount)
		if err != nil {
			return out, fiber.NewError(fiber.StatusBadRequest, "invalid request_amount")
		}
		out.RequestAmount = &v
	}
	if req.Percentage != nil {
		v, err := decimal.NewFromString(*req.Percentage)
		if err != nil {
			return out, fiber.NewError(fiber.StatusBadRequest, "invalid percentage")
		}
		out.Percentage = &v
	}
	return out, nil
}

func optionalKey(s *string) (*solana.PublicKey, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	pk, err := chain.ParsePublicKey(*s)
	if err != nil {
		return nil, err
	}
	return &pk, nil
}
