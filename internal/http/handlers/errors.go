package handlers

import (
	"errors"

	"github.com/escrow-marketplace/backend/internal/apperr"
	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/http/dto"
	"github.com/escrow-marketplace/backend/internal/middleware"
	"github.com/escrow-marketplace/backend/internal/storefront"
	"github.com/gagliardetto/solana-go"
	"github.com/gofiber/fiber/v2"
)

// fail renders an operation error with its normalized kind.
func fail(c *fiber.Ctx, err error) error {
	reqID := middleware.RequestID(c)

	if isNotFound(err) {
		msg := chain.ErrEscrowNotFound.Error()
		if errors.Is(err, storefront.ErrNotFound) {
			msg = storefront.ErrNotFound.Error()
		}
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: msg, RequestID: reqID})
	}

	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error", RequestID: reqID})
	}

	status := fiber.StatusBadRequest
	switch ae.Kind {
	case apperr.KindWalletNotReady:
		status = fiber.StatusUnauthorized
	case apperr.KindNetwork:
		status = fiber.StatusServiceUnavailable
	case apperr.KindAccountState:
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(dto.ErrorResponse{
		Error:     ae.Message,
		Type:      string(ae.Kind),
		Retryable: ae.Retryable,
		RequestID: reqID,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.RequestID(c)})
}

// pathKey parses a base58 address route parameter.
func pathKey(c *fiber.Ctx, name string) (solana.PublicKey, error) {
	return chain.ParsePublicKey(c.Params(name))
}

func isNotFound(err error) bool {
	return errors.Is(err, chain.ErrEscrowNotFound) || errors.Is(err, storefront.ErrNotFound)
}
