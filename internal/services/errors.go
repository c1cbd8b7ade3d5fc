package services

import (
	"errors"
	"fmt"

	"github.com/diewo77/clinic-invoices/internal/composition"
	"github.com/diewo77/clinic-invoices/internal/models"
)

// Sentinel errors. Callers match them with errors.Is; the concrete error
// usually carries the offending name or id.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("already exists")
	ErrSelfReference     = errors.New("product cannot contain itself")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidTransition = errors.New("invalid transition")

	ErrCycle      = composition.ErrCycle
	ErrValidation = composition.ErrValidation

	ErrDuplicateEdge = fmt.Errorf("%w: composition edge", ErrDuplicate)
	ErrEdgeNotFound  = fmt.Errorf("%w: composition edge", ErrNotFound)
	ErrProductInUse  = fmt.Errorf("%w: product is referenced by invoices", ErrInvalidState)
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TransitionError reports a rejected invoice state change. The invoice is
// left in state From.
type TransitionError struct {
	From   models.InvoiceStatus
	To     models.InvoiceStatus
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func productNotFound(name string) error {
	return fmt.Errorf("%w: product %q", ErrNotFound, name)
}

func invoiceNotFound(id uint) error {
	return fmt.Errorf("%w: invoice %d", ErrNotFound, id)
}

// graphErr reports an edge whose product row has gone as ErrNotFound.
func graphErr(err error) error {
	if errors.Is(err, composition.ErrUnknownNode) && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
