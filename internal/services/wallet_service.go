package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/escrow-marketplace/backend/internal/auth"
	"github.com/escrow-marketplace/backend/internal/chain"
	"github.com/escrow-marketplace/backend/internal/config"
	"github.com/escrow-marketplace/backend/internal/models"
	"github.com/escrow-marketplace/backend/internal/repositories"
	"go.uber.org/zap"
)

var ErrSignInRejected = errors.New("sign-in rejected")

type WalletService struct {
	walletRepo *repositories.WalletRepo
	auditRepo  *repositories.AuditRepo
	cfg        *config.Config
	log        *zap.Logger
}

func NewWalletService(
	walletRepo *repositories.WalletRepo,
	auditRepo *repositories.AuditRepo,
	cfg *config.Config,
	log *zap.Logger,
) *WalletService {
	return &WalletService{
		walletRepo: walletRepo,
		auditRepo:  auditRepo,
		cfg:        cfg,
		log:        log,
	}
}

// IssueNonce создаёт одноразовый nonce для sign-in сообщения кошелька.
func (s *WalletService) IssueNonce(ctx context.Context, address string) (*models.SignInNonce, error) {
	pub, err := chain.ParsePublicKey(address)
	if err != nil {
		return nil, err
	}
	n, err := s.walletRepo.CreateNonce(ctx, pub.String(), s.cfg.SignInNonceTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create nonce: %w", err)
	}
	return n, nil
}

type SignInResult struct {
	Token  string         `json:"token"`
	Wallet *models.Wallet `json:"wallet"`
}

// SignIn проверяет подпись и выдаёт JWT для кошелька.
func (s *WalletService) SignIn(ctx context.Context, in chain.SignIn) (*SignInResult, error) {
	// 1. Подпись, домен, возраст
	pub, err := chain.VerifySignIn(in, s.cfg.SignInAllowedDomains, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignInRejected, err)
	}

	// 2. Consume nonce, защита от replay
	if _, err := s.walletRepo.ConsumeNonce(ctx, in.Nonce, pub.String()); err != nil {
		if errors.Is(err, repositories.ErrNonceInvalid) {
			return nil, fmt.Errorf("%w: %v", ErrSignInRejected, err)
		}
		return nil, fmt.Errorf("failed to consume nonce: %w", err)
	}

	wallet, err := s.walletRepo.Touch(ctx, pub.String())
	if err != nil {
		return nil, fmt.Errorf("failed to save wallet: %w", err)
	}

	token, err := auth.GenerateJWT(s.cfg.JWTSecret, pub.String(), s.cfg.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	actor := pub.String()
	if err := s.auditRepo.Log(ctx, models.AuditLog{
		ActorWallet: &actor,
		ActorType:   "wallet",
		Action:      "signed_in",
		EntityType:  "wallet",
		EntityID:    actor,
		Meta:        map[string]any{"domain": in.Domain},
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", "signed_in"), zap.String("entity", actor), zap.Error(err))
	}

	s.log.Info("wallet signed in", zap.String("wallet", actor))
	return &SignInResult{Token: token, Wallet: wallet}, nil
}

func (s *WalletService) GetWallet(ctx context.Context, address string) (*models.Wallet, error) {
	return s.walletRepo.Get(ctx, address)
}
