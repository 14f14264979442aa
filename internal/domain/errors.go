package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers that need to decide between fixing
// input, re-reading state, or escalating.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindPrecondition Kind = "precondition"
	KindConcurrency  Kind = "concurrency"
	KindConsistency  Kind = "consistency"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
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

// Is matches on Code so a detailed error still satisfies errors.Is against
// the package sentinel it was derived from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidInput         = &Error{Kind: KindValidation, Code: "InvalidInput", Message: "invalid input"}
	ErrInvalidPaymentAmount = &Error{Kind: KindValidation, Code: "InvalidPaymentAmount", Message: "amount tendered is below total"}
	ErrInvalidCode          = &Error{Kind: KindValidation, Code: "InvalidCode", Message: "discount code is not valid"}
	ErrVarianceUnexplained  = &Error{Kind: KindValidation, Code: "VarianceUnexplained", Message: "cash variance requires a discrepancy reason"}
	ErrInsufficientStock    = &Error{Kind: KindPrecondition, Code: "InsufficientStock", Message: "insufficient stock"}
	ErrInvalidState         = &Error{Kind: KindPrecondition, Code: "InvalidState", Message: "entity is not in the required state"}
	ErrShiftAlreadyOpen     = &Error{Kind: KindPrecondition, Code: "ShiftAlreadyOpen", Message: "cashier already has an open shift"}
	ErrShiftAlreadyClosed   = &Error{Kind: KindPrecondition, Code: "ShiftAlreadyClosed", Message: "shift is already closed"}
	ErrStockRaceUnresolved  = &Error{Kind: KindConcurrency, Code: "StockRaceUnresolved", Message: "stock changed concurrently and the retry also conflicted"}
	ErrJobConflict          = &Error{Kind: KindConcurrency, Code: "JobConflict", Message: "job was modified concurrently"}
	ErrNegativeStock        = &Error{Kind: KindConsistency, Code: "NegativeStock", Message: "stock would go negative"}
	ErrNotFound             = &Error{Kind: KindNotFound, Code: "NotFound", Message: "not found"}
	ErrForbidden            = &Error{Kind: KindForbidden, Code: "Forbidden", Message: "forbidden"}
)

// Errorf derives a detailed error from a sentinel, keeping its kind and code.
func Errorf(base *Error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause to a sentinel.
func Wrap(base *Error, err error) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: base.Message, Err: err}
}

// KindOf returns the kind carried by err, or the empty kind for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// CodeOf returns the machine-readable code carried by err.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
