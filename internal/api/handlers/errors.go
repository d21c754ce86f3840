package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rail-service/custody_service/internal/domain/entities"
	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
	"github.com/rail-service/custody_service/pkg/logger"
)

// Error codes as constants for consistent error responses across handlers
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeInvalidAddress     = "INVALID_ADDRESS"
	ErrCodeInvalidAmount      = "INVALID_AMOUNT"
	ErrCodeInvalidDate        = "INVALID_DATE"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeWalletNotFound     = "WALLET_NOT_FOUND"
	ErrCodeUnknownAddress     = "UNKNOWN_ADDRESS"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeChainUnavailable   = "CHAIN_UNAVAILABLE"
	ErrCodeTransactionFailed  = "TRANSACTION_FAILED"
)

// Error messages as constants for consistency
const (
	MsgInvalidRequest     = "Invalid request payload"
	MsgUnauthorized       = "Authentication required"
	MsgInternalError      = "Internal server error"
	MsgServiceUnavailable = "Service temporarily unavailable"
)

// SendError sends an error response with optional details
func SendError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, entities.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// SendBadRequest sends a 400 Bad Request error
func SendBadRequest(c *gin.Context, code, message string) {
	SendError(c, http.StatusBadRequest, code, message, nil)
}

// SendUnauthorized sends a 401 Unauthorized error
func SendUnauthorized(c *gin.Context, message string) {
	SendError(c, http.StatusUnauthorized, ErrCodeUnauthorized, message, nil)
}

// SendInternalError sends a 500 Internal Server Error
func SendInternalError(c *gin.Context, code, message string) {
	SendError(c, http.StatusInternalServerError, code, message, nil)
}

// SendSuccess sends a 200 OK response with data
func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// SendCreated sends a 201 Created response with data
func SendCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// SendAccepted sends a 202 Accepted response with data
func SendAccepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, data)
}

// SendDomainError maps a domain error onto an HTTP status. Anything it does
// not recognise is logged and reported as a 500.
func SendDomainError(c *gin.Context, log *logger.Logger, err error) {
	details := domainerrors.GetErrorDetails(err)

	switch {
	case domainerrors.IsInvalidInput(err):
		SendError(c, http.StatusBadRequest, ErrCodeValidationError, err.Error(), details)
	case domainerrors.IsWalletNotFound(err):
		SendError(c, http.StatusNotFound, ErrCodeWalletNotFound, "Wallet not found", nil)
	case domainerrors.IsUnknownAddress(err):
		SendError(c, http.StatusNotFound, ErrCodeUnknownAddress, err.Error(), details)
	case domainerrors.IsNotFound(err):
		SendError(c, http.StatusNotFound, ErrCodeNotFound, err.Error(), nil)
	case domainerrors.IsConflict(err):
		SendError(c, http.StatusConflict, ErrCodeConflict, err.Error(), nil)
	case domainerrors.IsRateLimit(err):
		c.Header("Retry-After", "10")
		SendError(c, http.StatusTooManyRequests, ErrCodeTooManyRequests, err.Error(), details)
	case domainerrors.IsNetwork(err):
		log.Warn("Chain unavailable", "error", err, "path", c.FullPath())
		SendError(c, http.StatusBadGateway, ErrCodeChainUnavailable, "Blockchain node unavailable", nil)
	case domainerrors.IsTransactionFailed(err):
		SendError(c, http.StatusBadGateway, ErrCodeTransactionFailed, err.Error(), details)
	case domainerrors.IsConfiguration(err):
		log.Error("Service misconfigured", "error", err)
		SendError(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, MsgServiceUnavailable, nil)
	default:
		log.Error("Request failed", "error", err, "path", c.FullPath())
		SendInternalError(c, ErrCodeInternalError, MsgInternalError)
	}
}
