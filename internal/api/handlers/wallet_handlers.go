package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rail-service/custody_service/internal/domain/entities"
	"github.com/rail-service/custody_service/pkg/logger"
)

// WalletService manages a user's custodial deposit wallet
type WalletService interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*entities.CustodialWallet, error)
	Get(ctx context.Context, userID uuid.UUID) (*entities.CustodialWallet, error)
	Regenerate(ctx context.Context, userID uuid.UUID) (*entities.CustodialWallet, error)
}

// WalletHandlers handles wallet-related HTTP requests
type WalletHandlers struct {
	walletService WalletService
	logger        *logger.Logger
}

// NewWalletHandlers creates new wallet handlers
func NewWalletHandlers(walletService WalletService, logger *logger.Logger) *WalletHandlers {
	return &WalletHandlers{
		walletService: walletService,
		logger:        logger,
	}
}

// CreateWallet handles POST /api/v1/wallets
// @Summary Get or create the caller's deposit wallet
// @Tags wallets
// @Produce json
// @Security BearerAuth
// @Success 200 {object} entities.WalletResponse
// @Failure 401 {object} entities.ErrorResponse
// @Router /wallets [post]
func (h *WalletHandlers) CreateWallet(c *gin.Context) {
	h.respond(c, h.walletService.GetOrCreate)
}

// GetMyWallet handles GET /api/v1/wallets/me
// @Summary The caller's active deposit wallet
// @Tags wallets
// @Produce json
// @Security BearerAuth
// @Success 200 {object} entities.WalletResponse
// @Failure 404 {object} entities.ErrorResponse
// @Router /wallets/me [get]
func (h *WalletHandlers) GetMyWallet(c *gin.Context) {
	h.respond(c, h.walletService.Get)
}

// RegenerateWallet handles POST /api/v1/wallets/regenerate
// @Summary Replace the caller's deposit wallet
// @Description The previous wallet is deactivated. Refused within 10 seconds of the last creation.
// @Tags wallets
// @Produce json
// @Security BearerAuth
// @Success 200 {object} entities.WalletResponse
// @Failure 429 {object} entities.ErrorResponse
// @Router /wallets/regenerate [post]
func (h *WalletHandlers) RegenerateWallet(c *gin.Context) {
	h.respond(c, h.walletService.Regenerate)
}

func (h *WalletHandlers) respond(c *gin.Context, op func(context.Context, uuid.UUID) (*entities.CustodialWallet, error)) {
	userID, err := getUserID(c)
	if err != nil {
		SendUnauthorized(c, MsgUnauthorized)
		return
	}

	wallet, err := op(c.Request.Context(), userID)
	if err != nil {
		SendDomainError(c, requestLogger(c, h.logger), err)
		return
	}
	SendSuccess(c, wallet.ToResponse())
}
