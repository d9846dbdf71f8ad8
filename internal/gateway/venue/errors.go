package venue

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindMarketClosed  ErrorKind = "MARKET_CLOSED"
	KindTimeout       ErrorKind = "TIMEOUT"
	KindInvalidTicket ErrorKind = "INVALID_TICKET"
	KindMargin        ErrorKind = "MARGIN"
	KindUnknown       ErrorKind = "UNKNOWN"
)

// Error is a typed venue failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("venue %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("venue %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap turns an arbitrary error from a venue call into *Error. Context
// deadlines become TIMEOUT, anything untyped becomes UNKNOWN.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ve *Error
	if errors.As(err, &ve) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	return &Error{Kind: KindUnknown, Op: op, Err: err}
}

// KindOf returns the kind of a venue error, KindUnknown for other errors and
// "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
