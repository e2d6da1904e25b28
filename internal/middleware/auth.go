package middleware

import (
	"strings"

	"github.com/escrow-marketplace/backend/internal/auth"
	"github.com/escrow-marketplace/backend/internal/config"
	"github.com/gagliardetto/solana-go"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const CtxWallet = "wallet"

func parseBearer(c *fiber.Ctx, cfg *config.Config) (*auth.Claims, string) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return nil, "missing authorization header"
	}
	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenStr == authHeader {
		return nil, "invalid authorization format"
	}
	claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
	if err != nil {
		return nil, "invalid or expired token"
	}
	return claims, ""
}

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, reason := parseBearer(c, cfg)
		if claims == nil {
			log.Debug("auth rejected", zap.String("reason", reason))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": reason})
		}
		wallet, err := solana.PublicKeyFromBase58(claims.Wallet)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid wallet in token"})
		}
		c.Locals(CtxWallet, wallet)
		return c.Next()
	}
}

// OptionalAuthMiddleware attaches the wallet when a valid token is present
// and lets anonymous requests through.
func OptionalAuthMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if claims, _ := parseBearer(c, cfg); claims != nil {
			if wallet, err := solana.PublicKeyFromBase58(claims.Wallet); err == nil {
				c.Locals(CtxWallet, wallet)
			}
		}
		return c.Next()
	}
}

// GetWallet returns the authenticated wallet, ok=false for anonymous requests.
func GetWallet(c *fiber.Ctx) (solana.PublicKey, bool) {
	w, ok := c.Locals(CtxWallet).(solana.PublicKey)
	return w, ok
}

// AdminMiddleware requires a wallet listed in ADMIN_WALLETS
func AdminMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		wallet, ok := GetWallet(c)
		if !ok || !cfg.IsAdmin(wallet.String()) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin access required"})
		}
		return c.Next()
	}
}
