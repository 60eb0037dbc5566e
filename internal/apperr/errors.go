package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the typed error returned by every service operation. Two errors
// are considered equal by errors.Is when their Kind matches, so callers can
// compare against the sentinels below even after wrapping.
type Error struct {
	Status  int    `json:"-"`
	Kind    string `json:"code"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(status int, kind, message string) *Error {
	return &Error{Status: status, Kind: kind, Message: message}
}

// Wrap returns a copy of base carrying a more specific message and cause.
// The shared sentinel is never mutated.
func Wrap(base *Error, message string, err error) *Error {
	if message == "" {
		message = base.Message
	}
	return &Error{Status: base.Status, Kind: base.Kind, Message: message, Err: err}
}

// Newf returns a copy of base with a formatted message.
func Newf(base *Error, format string, args ...interface{}) *Error {
	return Wrap(base, fmt.Sprintf(format, args...), nil)
}

// StatusOf maps any error to an HTTP status. Untyped errors are 500s.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// KindOf returns the kind of a typed error, or "internal".
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal.Kind
}

// Validation
var (
	ErrValidation          = New(http.StatusBadRequest, "validation_error", "Invalid request")
	ErrInvalidPayoutMethod = New(http.StatusBadRequest, "invalid_payout_method", "Payout method must be bank_transfer or e_wallet")
	ErrAmountExceedsHeld   = New(http.StatusUnprocessableEntity, "amount_exceeds_held", "Amount exceeds held escrow funds")
)

// State conflicts
var (
	ErrOrderNotPayable        = New(http.StatusConflict, "order_not_payable", "Order cannot be paid")
	ErrInvalidPaymentState    = New(http.StatusConflict, "invalid_payment_state", "Payment is not in a valid state for this operation")
	ErrInvalidEscrowState     = New(http.StatusConflict, "invalid_escrow_state", "Escrow is not in a valid state for this operation")
	ErrInvalidWithdrawalState = New(http.StatusConflict, "invalid_withdrawal_state", "Withdrawal is not in a valid state for this operation")
	ErrDuplicateEscrow        = New(http.StatusConflict, "duplicate_escrow", "Escrow already exists for this payment")
	ErrRefundInProgress       = New(http.StatusConflict, "refund_in_progress", "A refund is already in progress for this payment")
	ErrWithdrawalInProgress   = New(http.StatusConflict, "withdrawal_in_progress", "A withdrawal is already in progress for this escrow")
	ErrConcurrentUpdate       = New(http.StatusConflict, "concurrent_update", "Record was modified concurrently, retry the request")
)

// External dependencies
var (
	ErrGatewayUnavailable  = New(http.StatusBadGateway, "gateway_unavailable", "Payment gateway is unavailable")
	ErrGatewayRefundFailed = New(http.StatusBadGateway, "gateway_refund_failed", "Payment gateway rejected the refund")
	ErrOrderServiceFailed  = New(http.StatusBadGateway, "order_service_unavailable", "Order service is unavailable")
)

// Not found
var (
	ErrPaymentNotFound      = New(http.StatusNotFound, "payment_not_found", "Payment not found")
	ErrEscrowNotFound       = New(http.StatusNotFound, "escrow_not_found", "Escrow not found")
	ErrWithdrawalNotFound   = New(http.StatusNotFound, "withdrawal_not_found", "Withdrawal not found")
	ErrRefundNotFound       = New(http.StatusNotFound, "refund_not_found", "Refund not found")
	ErrOrderNotFound        = New(http.StatusNotFound, "order_not_found", "Order not found")
	ErrPayoutMethodNotFound = New(http.StatusNotFound, "payout_method_not_found", "Payout method not found")
	ErrNotificationNotFound = New(http.StatusNotFound, "notification_not_found", "Notification not found")
)

// Security
var (
	ErrInvalidSignature = New(http.StatusBadRequest, "invalid_signature", "Invalid webhook signature")
	ErrUnauthorized     = New(http.StatusUnauthorized, "unauthorized", "Authentication required")
	ErrForbidden        = New(http.StatusForbidden, "forbidden", "You are not allowed to perform this action")
)

var ErrInternal = New(http.StatusInternalServerError, "internal_error", "Internal server error")
