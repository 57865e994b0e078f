package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrProductNotFound         = errors.New("product not found")
	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderNotPending         = errors.New("order is not pending approval")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// InsufficientStockError identifies the product that could not be reserved.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// ValidationError reports malformed input. It is returned before any store
// access when the input can be checked up front.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StoreError wraps infrastructure failures of the backing store. Nothing
// was committed when it is returned, so the whole operation may be retried.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}

func IsValidation(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
