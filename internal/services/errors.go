package services

import (
	"errors"
	"fmt"

	"github.com/gourav-1711/jewellery-backend/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located for the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order's status does not allow the operation.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates a concurrent write or duplicate.
	ErrOrderConflict = errors.New("order: conflict")

	ErrProductNotFound   = errors.New("order: product not found")
	ErrCartEmpty         = errors.New("order: cart is empty")
	ErrInsufficientStock = errors.New("order: insufficient stock")

	// ErrPaymentVerificationFailed covers every verification failure, whatever the cause.
	ErrPaymentVerificationFailed = errors.New("order: payment verification failed")
	// ErrAmountMismatch is always wrapped in ErrPaymentVerificationFailed.
	ErrAmountMismatch = errors.New("order: gateway amount mismatch")
	// ErrInvalidSignature reports a webhook whose signature does not match the body.
	ErrInvalidSignature = errors.New("order: invalid webhook signature")

	ErrInvalidOTP         = errors.New("order: invalid delivery otp")
	ErrReturnWindowClosed = errors.New("order: return window closed")

	// ErrUpstream reports a payment gateway failure.
	ErrUpstream = errors.New("order: payment gateway error")

	// ErrRepositoryUnavailable reports a storage outage.
	ErrRepositoryUnavailable = errors.New("order: repository unavailable")
)

func mapRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repositories.ErrInsufficientStock) {
		return fmt.Errorf("%w: %v", ErrInsufficientStock, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
		}
	}
	return err
}
