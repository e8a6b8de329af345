package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrNotActive    = errors.New("offer not active")
	ErrInvalidOffer = errors.New("invalid offer parameters")
	ErrSameParent   = errors.New("mum and dad must differ")
	ErrBusy         = errors.New("request already in flight")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNoAccount    = errors.New("no active account")
)

// GatewayError is a transport or ABI failure talking to the ledger. It is
// always surfaced to the caller.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// NewGatewayError wraps err unless it is nil, already a GatewayError, or the
// ErrNotActive negative result.
func NewGatewayError(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotActive) {
		return err
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return err
	}
	return &GatewayError{Op: op, Err: err}
}

// PartialResolutionError reports one id in a batch that could not be
// resolved. Batches log and drop these instead of failing.
type PartialResolutionError struct {
	TokenID uint64
	Err     error
}

func (e *PartialResolutionError) Error() string {
	return fmt.Sprintf("resolve token %d: %v", e.TokenID, e.Err)
}

func (e *PartialResolutionError) Unwrap() error { return e.Err }
