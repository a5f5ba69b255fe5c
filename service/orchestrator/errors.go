package orchestrator

import (
	"errors"
	"fmt"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/invocation"
	"github.com/brojonat/flashtrade/service/loanrecord"
)

var (
	ErrInvalidAccount = errors.New("invalid account")
	ErrBorrowRejected = errors.New("borrow rejected")
	ErrRepayRejected  = errors.New("repay rejected")
	ErrUnknownAction  = errors.New("unknown trade action")
	ErrInvalidAmount  = errors.New("invalid amount")

	ErrAmountOverflow        = invocation.ErrAmountOverflow
	ErrEncodingFailure       = codec.ErrEncodingFailure
	ErrAlreadyOutstanding    = loanrecord.ErrAlreadyOutstanding
	ErrNoSuchRecord          = loanrecord.ErrNoSuchRecord
	ErrInsufficientRentFunds = loanrecord.ErrInsufficientRentFunds
)

// AbortError reports the last state a trade reached before it failed. The
// host discards the whole transaction, so the state is diagnostic only.
type AbortError struct {
	State State
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("trade aborted in state %s: %v", e.State, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// ErrorKind maps err to the name of its error class, or "internal" for
// errors outside the trade taxonomy. It is used for metric labels and
// persisted execution history.
func ErrorKind(err error) string {
	kinds := []struct {
		target error
		name   string
	}{
		{ErrInvalidAccount, "invalid_account"},
		{ErrInvalidAmount, "invalid_amount"},
		{ErrAlreadyOutstanding, "already_outstanding"},
		{ErrNoSuchRecord, "no_such_record"},
		{ErrInsufficientRentFunds, "insufficient_rent_funds"},
		{ErrBorrowRejected, "borrow_rejected"},
		{ErrRepayRejected, "repay_rejected"},
		{ErrUnknownAction, "unknown_action"},
		{ErrAmountOverflow, "amount_overflow"},
		{ErrEncodingFailure, "encoding_failure"},
	}
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			return k.name
		}
	}
	if err == nil {
		return ""
	}
	return "internal"
}
