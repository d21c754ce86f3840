package errors

import "errors"

// Custody errors
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrNetwork           = errors.New("network error")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDecryption        = errors.New("key decryption failed")
	ErrTransactionFailed = errors.New("transaction failed")
	ErrUnknownAddress    = errors.New("unknown address")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrOwnershipMismatch = errors.New("address not derived from custody key")
)

// ConfigurationError reports a missing or malformed startup setting. Fatal.
func ConfigurationError(key, message string) *DomainError {
	return &DomainError{
		Err:     ErrConfiguration,
		Code:    "CONFIGURATION_ERROR",
		Message: message,
		Details: map[string]interface{}{
			"key": key,
		},
	}
}

// NetworkError wraps a failed RPC call. Callers skip or retry.
func NetworkError(operation string, cause error) *DomainError {
	de := &DomainError{
		Err:       ErrNetwork,
		Code:      "NETWORK_ERROR",
		Message:   "rpc call failed: " + operation,
		Retryable: true,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
	if cause != nil {
		de.Message += ": " + cause.Error()
		de.Details["cause"] = cause.Error()
	}
	return de
}

// InsufficientFundsError creates an insufficient funds error
func InsufficientFundsError(address, available, required string) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientFunds,
		Code:    "INSUFFICIENT_FUNDS",
		Message: "insufficient funds for this operation",
		Details: map[string]interface{}{
			"address":   address,
			"available": available,
			"required":  required,
		},
	}
}

// DecryptionError reports stored key material that failed authentication.
func DecryptionError(address string) *DomainError {
	return &DomainError{
		Err:     ErrDecryption,
		Code:    "DECRYPTION_ERROR",
		Message: "stored key material failed authentication",
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// TransactionFailedError reports a mined transaction with a failed receipt.
func TransactionFailedError(txHash string, status uint64) *DomainError {
	return &DomainError{
		Err:       ErrTransactionFailed,
		Code:      "TRANSACTION_FAILED",
		Message:   "transaction reverted on chain: " + txHash,
		Retryable: true,
		Details: map[string]interface{}{
			"tx_hash": txHash,
			"status":  status,
		},
	}
}

// UnknownAddressError reports an address with no owning custodial wallet.
func UnknownAddressError(address string) *DomainError {
	return &DomainError{
		Err:     ErrUnknownAddress,
		Code:    "UNKNOWN_ADDRESS",
		Message: "no custodial wallet owns address " + address,
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// WalletNotFoundError creates a wallet not found error
func WalletNotFoundError(userID string) *DomainError {
	return &DomainError{
		Err:     ErrWalletNotFound,
		Code:    "WALLET_NOT_FOUND",
		Message: "wallet not found",
		Details: map[string]interface{}{
			"user_id": userID,
		},
	}
}

// OwnershipMismatchError reports a stored address that the custody xpub does not derive.
func OwnershipMismatchError(address string, index int64) *DomainError {
	return &DomainError{
		Err:     ErrOwnershipMismatch,
		Code:    "OWNERSHIP_MISMATCH",
		Message: "address does not match custody derivation",
		Details: map[string]interface{}{
			"address":          address,
			"derivation_index": index,
		},
	}
}

func IsConfiguration(err error) bool     { return errors.Is(err, ErrConfiguration) }
func IsNetwork(err error) bool           { return errors.Is(err, ErrNetwork) }
func IsInsufficientFunds(err error) bool { return errors.Is(err, ErrInsufficientFunds) }
func IsDecryption(err error) bool        { return errors.Is(err, ErrDecryption) }
func IsTransactionFailed(err error) bool { return errors.Is(err, ErrTransactionFailed) }
func IsUnknownAddress(err error) bool    { return errors.Is(err, ErrUnknownAddress) }
func IsWalletNotFound(err error) bool    { return errors.Is(err, ErrWalletNotFound) }
func IsOwnershipMismatch(err error) bool { return errors.Is(err, ErrOwnershipMismatch) }
