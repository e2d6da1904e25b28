package handlers

import (
	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/http/dto"
	"github.com/escrow-marketplace/backend/internal/market"
	"github.com/escrow-marketplace/backend/internal/middleware"
	"github.com/escrow-marketplace/backend/internal/services"
	"github.com/gagliardetto/solana-go"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type StorefrontHandler struct {
	marketService *services.MarketService
	log           *zap.Logger
}

func NewStorefrontHandler(marketService *services.MarketService, log *zap.Logger) *StorefrontHandler {
	return &StorefrontHandler{marketService: marketService, log: log}
}

func (h *StorefrontHandler) ListStorefronts(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.marketService.Storefronts()})
}

// Escrows lists a storefront's escrows. Query: type, currency, class, q.
func (h *StorefrontHandler) Escrows(c *fiber.Ctx) error {
	f, err := parseFilter(c.Query("type"), c.Query("currency"), c.Query("class"), c.Query("q"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	var viewer *solana.PublicKey
	if w, ok := middleware.GetWallet(c); ok {
		viewer = &w
	}

	listings, err := h.marketService.Listings(c.UserContext(), c.Params("id"), f, viewer)
	if err != nil {
		if isNotFound(err) {
			return fail(c, err)
		}
		h.log.Error("failed to list escrows", zap.String("storefront", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "failed to list escrows"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: listings})
}

func (h *StorefrontHandler) MyEscrows(c *fiber.Ctx) error {
	wallet, _ := middleware.GetWallet(c)
	escrows, err := h.marketService.MakerEscrows(c.UserContext(), wallet)
	if err != nil {
		h.log.Error("failed to list maker escrows", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "failed to list escrows"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrows})
}

func parseFilter(tradeType, currency, class, q string) (market.Filter, error) {
	f := market.Filter{Class: class, Search: q}
	if tradeType != "" {
		tt, ok := market.ParseTradeType(tradeType)
		if !ok {
			return f, fiber.NewError(fiber.StatusBadRequest, "type must be one of buy, sell, trade, swap")
		}
		f.TradeType = tt
	}
	if currency != "" {
		pk, err := chain.ParsePublicKey(currency)
		if err != nil {
			return f, fiber.NewError(fiber.StatusBadRequest, "invalid currency")
		}
		f.Currency = &pk
	}
	return f, nil
}
