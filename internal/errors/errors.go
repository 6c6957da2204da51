package errors

import (
	goerrors "errors"
	"fmt"
)

// AppError represents an application-level error with a taxonomy code and
// optional cause
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf extracts the taxonomy code from an error chain, or returns
// ErrCodeInternal when the error carries no AppError
func CodeOf(err error) string {
	var appErr *AppError
	if goerrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether any error in the chain carries the given code
func HasCode(err error, code string) bool {
	var appErr *AppError
	if goerrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Error codes
const (
	// Room gateway
	ErrCodeGatewayUnavailable  = "GATEWAY_UNAVAILABLE"
	ErrCodeNameConflict        = "NAME_CONFLICT"
	ErrCodeRoomNotFound        = "ROOM_NOT_FOUND"
	ErrCodeParticipantNotFound = "PARTICIPANT_NOT_FOUND"

	// Summarization (retryable, never fatal to a transfer)
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInvalidContext      = "INVALID_CONTEXT"

	// Transfer orchestration
	ErrCodeTargetAgentJoinTimeout   = "TARGET_AGENT_JOIN_TIMEOUT"
	ErrCodeCallerJoinTimeout        = "CALLER_JOIN_TIMEOUT"
	ErrCodeInvalidStateTransition   = "INVALID_STATE_TRANSITION"
	ErrCodeSessionHasActiveTransfer = "SESSION_HAS_ACTIVE_TRANSFER"
	ErrCodeSessionNotFound          = "SESSION_NOT_FOUND"
	ErrCodeTransferNotFound         = "TRANSFER_NOT_FOUND"

	// General
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeInternal     = "INTERNAL"
)
