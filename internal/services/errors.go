package services

import (
	"errors"
	"fmt"

	"github.com/openshop/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order, or a resource it references, could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the operation is not allowed in the current state.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates an optimistic concurrency conflict.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the backing store could not serve the request.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// Specific errors wrap one of the kinds above so errors.Is matches both.
var (
	ErrEmptyCart              = fmt.Errorf("%w: cart is empty", ErrOrderInvalidState)
	ErrInvalidCartState       = fmt.Errorf("%w: cart references unknown variants", ErrOrderInvalidState)
	ErrAlreadyCancelled       = fmt.Errorf("%w: order already cancelled", ErrOrderInvalidState)
	ErrAlreadyShipped         = fmt.Errorf("%w: order already shipped", ErrOrderInvalidState)
	ErrAddressNotFound        = fmt.Errorf("%w: address", ErrOrderNotFound)
	ErrVariantNotFound        = fmt.Errorf("%w: variant", ErrOrderNotFound)
	ErrCartItemNotFound       = fmt.Errorf("%w: cart item", ErrOrderNotFound)
	ErrInvalidStatus          = fmt.Errorf("%w: unrecognised status", ErrOrderInvalidInput)
	ErrAmountOutOfRange       = fmt.Errorf("%w: amount out of range", ErrOrderInvalidInput)
	ErrConcurrentModification = fmt.Errorf("%w: concurrent modification", ErrOrderConflict)
)

// mapRepositoryError translates repository categories into service errors. notFound is the
// error reported for missing rows so callers can distinguish orders from addresses or variants.
func mapRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}
