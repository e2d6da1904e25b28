package services

import (
	"context"

	"github.com/escrow-marketplace/backend/internal/models"
	"go.uber.org/zap"
)

const (
	defaultAuditPage = 50
	maxAuditPage     = 100
)

type auditReader interface {
	GetByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error)
}

// AuditService serves the audit trail written by the escrow and wallet
// services to admins.
type AuditService struct {
	repo auditReader
	log  *zap.Logger
}

func NewAuditService(repo auditReader, log *zap.Logger) *AuditService {
	return &AuditService{repo: repo, log: log}
}

// History returns entries for one entity, newest first.
func (s *AuditService) History(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error) {
	switch {
	case limit <= 0:
		limit = defaultAuditPage
	case limit > maxAuditPage:
		limit = maxAuditPage
	}
	if offset < 0 {
		offset = 0
	}
	logs, err := s.repo.GetByEntity(ctx, entityType, entityID, limit, offset)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return logs, nil
}
