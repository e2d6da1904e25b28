package handlers

import (
	"errors"
	"time"

	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/config"
	"github.com/escrow-marketplace/backend/internal/http/dto"
	"github.com/escrow-marketplace/backend/internal/middleware"
	"github.com/escrow-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AuthHandler struct {
	walletService *services.WalletService
	cfg           *config.Config
	log           *zap.Logger
}

func NewAuthHandler(walletService *services.WalletService, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{walletService: walletService, cfg: cfg, log: log}
}

// Nonce выдаёт nonce и готовое сообщение для подписи кошельком.
func (h *AuthHandler) Nonce(c *fiber.Ctx) error {
	var req dto.NonceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Address == "" {
		return badRequest(c, "address is required")
	}

	n, err := h.walletService.IssueNonce(c.UserContext(), req.Address)
	if err != nil {
		if errors.Is(err, chain.ErrInvalidKey) {
			return badRequest(c, err.Error())
		}
		h.log.Error("failed to issue nonce", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "failed to issue nonce"})
	}

	domain := c.Hostname()
	if len(h.cfg.SignInAllowedDomains) > 0 {
		domain = h.cfg.SignInAllowedDomains[0]
	}
	issuedAt := time.Now().UTC().Format(time.RFC3339)

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NonceResponse{
		Nonce:     n.Nonce,
		Domain:    domain,
		IssuedAt:  issuedAt,
		Message:   chain.SignInMessage(domain, n.Wallet, n.Nonce, issuedAt),
		ExpiresAt: n.ExpiresAt.UTC().Format(time.RFC3339),
	}})
}

func (h *AuthHandler) WalletSignIn(c *fiber.Ctx) error {
	var req dto.WalletSignInRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Address == "" || req.Nonce == "" || req.Signature == "" {
		return badRequest(c, "address, nonce and signature are required")
	}

	res, err := h.walletService.SignIn(c.UserContext(), chain.SignIn{
		Address:   req.Address,
		Domain:    req.Domain,
		Nonce:     req.Nonce,
		IssuedAt:  req.IssuedAt,
		Signature: req.Signature,
	})
	if err != nil {
		if errors.Is(err, services.ErrSignInRejected) {
			h.log.Debug("sign-in rejected", zap.String("address", req.Address), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		h.log.Error("sign-in failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "sign-in failed"})
	}

	return c.JSON(dto.AuthResponse{Token: res.Token, Wallet: res.Wallet})
}

// Me returns the authenticated wallet record.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	wallet, _ := middleware.GetWallet(c)
	w, err := h.walletService.GetWallet(c.UserContext(), wallet.String())
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "wallet not found"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: w})
}
