package handlers

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rail-service/custody_service/internal/domain/entities"
	"github.com/rail-service/custody_service/pkg/logger"
)

// CycleRunner triggers withdrawal cycles.
type CycleRunner interface {
	Run(ctx context.Context, mode entities.CycleMode) (*entities.CycleReport, error)
}

// QueueInspector answers whether an address has a queued job.
type QueueInspector interface {
	IsAddressQueued(ctx context.Context, address string) (bool, error)
}

// WalletFunder tops up addresses from the master signer.
type WalletFunder interface {
	FundAddresses(ctx context.Context, addresses []string, amount *big.Int) (*entities.TransferReport, error)
}

// WalletOverviewer summarises sweepable balances.
type WalletOverviewer interface {
	Overview(ctx context.Context) (*entities.WalletOverview, error)
}

// WithdrawalLister reads persisted withdrawal records.
type WithdrawalLister interface {
	List(ctx context.Context, filter entities.WithdrawalFilter) ([]*entities.WithdrawalRecord, error)
}

// FundWalletsRequest is the body of POST /admin/withdraw/fund-wallets.
type FundWalletsRequest struct {
	Addresses []string `json:"addresses" validate:"required,min=1,max=100,dive,required"`
	// AmountWei defaults to the minimum top-up when empty.
	AmountWei string `json:"amountWei,omitempty" validate:"omitempty,numeric"`
}

// CustodyHandlers serves the operator endpoints of the withdrawal engine
type CustodyHandlers struct {
	cycles        CycleRunner
	queue         QueueInspector
	funder        WalletFunder
	overview      WalletOverviewer
	withdrawals   WithdrawalLister
	depositWallet string
	defaultFund   *big.Int
	validator     *validator.Validate
	logger        *logger.Logger
}

// NewCustodyHandlers creates a new CustodyHandlers instance
func NewCustodyHandlers(
	cycles CycleRunner,
	queue QueueInspector,
	funder WalletFunder,
	overview WalletOverviewer,
	withdrawals WithdrawalLister,
	depositWallet string,
	defaultFund *big.Int,
	logger *logger.Logger,
) *CustodyHandlers {
	return &CustodyHandlers{
		cycles:        cycles,
		queue:         queue,
		funder:        funder,
		overview:      overview,
		withdrawals:   withdrawals,
		depositWallet: depositWallet,
		defaultFund:   defaultFund,
		validator:     validator.New(),
		logger:        logger,
	}
}

// GetDepositWallet handles GET /api/v1/admin/withdraw/deposit-wallet
// @Summary Settlement deposit wallet
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string
// @Router /admin/withdraw/deposit-wallet [get]
func (h *CustodyHandlers) GetDepositWallet(c *gin.Context) {
	SendSuccess(c, gin.H{"depositWallet": h.depositWallet})
}

// GetUserWallets handles GET /api/v1/admin/withdraw/user-wallets
// @Summary Sweepable wallet overview
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} entities.WalletOverview
// @Failure 502 {object} entities.ErrorResponse
// @Router /admin/withdraw/user-wallets [get]
func (h *CustodyHandlers) GetUserWallets(c *gin.Context) {
	overview, err := h.overview.Overview(c.Request.Context())
	if err != nil {
		SendDomainError(c, requestLogger(c, h.logger), err)
		return
	}
	SendSuccess(c, overview)
}

// GetWithdrawals handles GET /api/v1/admin/withdraw/withdrawals
// @Summary List withdrawal records
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param userId query string false "User ID"
// @Param startDate query string false "Inclusive lower bound (RFC3339 or YYYY-MM-DD)"
// @Param endDate query string false "Inclusive upper bound (RFC3339 or YYYY-MM-DD)"
// @Param orderBy query string false "asc or desc"
// @Param limit query int false "Maximum records"
// @Success 200 {array} entities.WithdrawalRecord
// @Failure 400 {object} entities.ErrorResponse
// @Router /admin/withdraw/withdrawals [get]
func (h *CustodyHandlers) GetWithdrawals(c *gin.Context) {
	filter, ok := h.parseWithdrawalFilter(c)
	if !ok {
		return
	}

	records, err := h.withdrawals.List(c.Request.Context(), filter)
	if err != nil {
		SendDomainError(c, requestLogger(c, h.logger), err)
		return
	}
	SendSuccess(c, records)
}

func (h *CustodyHandlers) parseWithdrawalFilter(c *gin.Context) (entities.WithdrawalFilter, bool) {
	filter := entities.WithdrawalFilter{
		OrderBy: strings.ToLower(queryAny(c, "orderBy", "order")),
		Limit:   parseIntParam(c, "limit", 100),
	}
	if filter.OrderBy != "" && filter.OrderBy != "asc" && filter.OrderBy != "desc" {
		SendBadRequest(c, ErrCodeInvalidRequest, "orderBy must be asc or desc")
		return filter, false
	}
	if filter.Limit < 1 || filter.Limit > 1000 {
		SendBadRequest(c, ErrCodeInvalidRequest, "limit must be between 1 and 1000")
		return filter, false
	}

	if raw := queryAny(c, "userId", "user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			SendBadRequest(c, ErrCodeInvalidRequest, "Invalid user ID format")
			return filter, false
		}
		filter.UserID = &id
	}

	var err error
	if filter.StartDate, err = parseDateParam(queryAny(c, "startDate", "start_date")); err != nil {
		SendBadRequest(c, ErrCodeInvalidDate, err.Error())
		return filter, false
	}
	if filter.EndDate, err = parseDateParam(queryAny(c, "endDate", "end_date")); err != nil {
		SendBadRequest(c, ErrCodeInvalidDate, err.Error())
		return filter, false
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		SendBadRequest(c, ErrCodeInvalidDate, "endDate is before startDate")
		return filter, false
	}
	return filter, true
}

// Withdraw handles POST /api/v1/admin/withdraw/withdraw
// @Summary Run a synchronous withdrawal cycle
// @Description Funds wallets that lack gas, then sweeps every eligible wallet. Per-address failures are reported, not fatal.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} entities.CycleReport
// @Failure 409 {object} entities.ErrorResponse
// @Router /admin/withdraw/withdraw [post]
func (h *CustodyHandlers) Withdraw(c *gin.Context) {
	report, err := h.cycles.Run(c.Request.Context(), entities.CycleModeSynchronous)
	if err != nil {
		SendDomainError(c, requestLogger(c, h.logger), err)
		return
	}
	SendSuccess(c, report)
}

// StartBatch handles POST /api/v1/admin/withdraw/batches
// @Summary Enqueue a withdrawal batch
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 202 {object} entities.StartResult
// @Failure 409 {object} entities.ErrorResponse
// @Router /admin/withdraw/batches [post]
func (h *CustodyHandlers) StartBatch(c *gin.Context) {
	report, err := h.cycles.Run(c.Request.Context(), entities.CycleModeQueued)
	if err != nil {
		SendDomainError(c, requestLogger(c, h.logger), err)
		return
	}
	SendAccepted(c, report.Batch)
}

// IsAddressQueued handles GET /api/v1/admin/withdraw/queued?address=
// @Summary Whether an address has a waiting or active job
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param address query string true "Wallet address"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} entities.ErrorResponse
// @Router /admin/withdraw/queued [get]
func (h *CustodyHandlers) IsAddressQueued(c *gin.Context) {
	address := strings.TrimSpace(c.Query("address"))
	if !common.IsHexAddress(address) {
		SendBadRequest(c, ErrCodeInvalidAddress, "address must be a hex encoded account")
		return
	}

	queued, err := h.queue.IsAddressQueued(c.Request.Context(), address)
	if err != nil {
		SendDomainError(c, requestLogger(c, h.logger), err)
		return
	}
	SendSuccess(c, gin.H{"address": address, "queued": queued})
}

// FundWallets handles POST /api/v1/admin/withdraw/fund-wallets
// @Summary Top up wallets with native currency from the master signer
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body FundWalletsRequest true "Addresses to fund"
// @Success 200 {object} entities.TransferReport
// @Failure 400 {object} entities.ErrorResponse
// @Router /admin/withdraw/fund-wallets [post]
func (h *CustodyHandlers) FundWallets(c *gin.Context) {
	var req FundWalletsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		SendBadRequest(c, ErrCodeValidationError, err.Error())
		return
	}
	for _, address := range req.Addresses {
		if !common.IsHexAddress(address) {
			SendBadRequest(c, ErrCodeInvalidAddress, "invalid address "+address)
			return
		}
	}

	amount := new(big.Int).Set(h.defaultFund)
	if req.AmountWei != "" {
		parsed, ok := new(big.Int).SetString(req.AmountWei, 10)
		if !ok || parsed.Sign() <= 0 {
			SendBadRequest(c, ErrCodeInvalidAmount, "amountWei must be a positive integer")
			return
		}
		amount = parsed
	}

	report, err := h.funder.FundAddresses(c.Request.Context(), req.Addresses, amount)
	if err != nil {
		SendDomainError(c, requestLogger(c, h.logger), err)
		return
	}
	SendSuccess(c, report)
}

func queryAny(c *gin.Context, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(c.Query(key)); v != "" {
			return v
		}
	}
	return ""
}
