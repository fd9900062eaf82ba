package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid exec context")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Webhook ingress
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrProviderNotFound     = errors.New("payment provider not found")
	ErrWebhookVerification  = errors.New("webhook verification failed")
	ErrMalformedPayload     = errors.New("malformed webhook payload")
	ErrUnknownGateway       = errors.New("unknown gateway kind")

	// Reconciliation
	ErrPayableNotFound         = errors.New("payable not found")
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrProviderCustomerMissing = errors.New("payment provider customer not found")
	ErrPayableAlreadySucceeded = errors.New("payable already succeeded")
	ErrStaleObject             = errors.New("stale object: version conflict")
	ErrRetriesExhausted        = errors.New("retries exhausted")
	ErrGatewayUnavailable      = errors.New("gateway unavailable")
	ErrUnsupportedPayable      = errors.New("gateway does not support this payable")
	ErrPaymentNotYetRecorded   = errors.New("payment not recorded yet")
	ErrChargeNotRecorded       = errors.New("charge accepted by gateway but not recorded")
)

// GatewayError is returned by gateway adapters when the provider answers with a non-2xx status.
type GatewayError struct {
	Gateway    string
	HTTPStatus int
	Code       string
	Body       string
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: http %d (%s): %s", e.Gateway, e.HTTPStatus, e.Code, e.Body)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Gateway, e.HTTPStatus, e.Body)
}

// ValidationError is a precondition failure reported without contacting a gateway.
type ValidationError struct {
	Field string
	Code  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Code)
}

const CodePaymentMethodError = "payment_method_error"

// IsTerminal reports errors that must never be retried by re-enqueueing.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	for _, t := range []error{
		ErrOrganizationNotFound, ErrProviderNotFound, ErrWebhookVerification,
		ErrMalformedPayload, ErrUnknownGateway, ErrPayableNotFound,
		ErrPaymentNotFound, ErrProviderCustomerMissing, ErrPayableAlreadySucceeded,
		ErrUnsupportedPayable, ErrInvalidArgument, ErrChargeNotRecorded,
	} {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// IsRetryable is the complement of IsTerminal for non-nil errors.
func IsRetryable(err error) bool {
	return err != nil && !IsTerminal(err)
}
