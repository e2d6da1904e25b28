package handlers

import (
	"github.com/escrow-marketplace/backend/internal/http/dto"
	"github.com/escrow-marketplace/backend/internal/middleware"
	"github.com/escrow-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AdminHandler struct {
	networkService *services.NetworkService
	auditService   *services.AuditService
	log            *zap.Logger
}

func NewAdminHandler(networkService *services.NetworkService, auditService *services.AuditService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{networkService: networkService, auditService: auditService, log: log}
}

// AuditHistory lists audit entries of one entity: escrow, transaction or wallet.
func (h *AdminHandler) AuditHistory(c *fiber.Ctx) error {
	entityType := c.Params("type")
	switch entityType {
	case "escrow", "transaction", "wallet":
	default:
		return badRequest(c, "type must be one of escrow, transaction, wallet")
	}

	logs, err := h.auditService.History(c.UserContext(), entityType, c.Params("id"), c.QueryInt("limit", 0), c.QueryInt("offset", 0))
	if err != nil {
		h.log.Error("failed to load audit history", zap.String("type", entityType), zap.Error(err))
		return fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func (h *AdminHandler) GetNetwork(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NetworkResponse{
		Network: string(h.networkService.Current()),
	}})
}

func (h *AdminHandler) SwitchNetwork(c *fiber.Ctx) error {
	var req dto.SwitchNetworkRequest
	if err := c.BodyParser(&req); err != nil || req.Network == "" {
		return badRequest(c, "network is required")
	}
	admin, _ := middleware.GetWallet(c)

	switched, err := h.networkService.Switch(c.UserContext(), req.Network, admin.String())
	if err != nil {
		return badRequest(c, err.Error())
	}
	h.log.Info("network switch requested",
		zap.String("admin", admin.String()),
		zap.String("network", req.Network),
		zap.Bool("switched", switched),
	)
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NetworkResponse{
		Network:  string(h.networkService.Current()),
		Switched: switched,
	}})
}
