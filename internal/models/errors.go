package models

import "errors"

// ErrInsufficientFunds is returned when the available balance cannot cover a
// requested debit.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrBelowMinimum is returned when a withdrawal amount is below the adapter's
// minimum.
var ErrBelowMinimum = errors.New("amount below minimum withdrawal")

// ErrInvalidAmount is returned when an amount is not positive after fees.
var ErrInvalidAmount = errors.New("invalid amount")

// ErrSelfTransfer is returned when a move names the same account on both legs.
var ErrSelfTransfer = errors.New("cannot transfer to the same account")

// ErrSelfWithdrawal is returned when a withdrawal targets the caller's own
// deposit address.
var ErrSelfWithdrawal = errors.New("cannot withdraw to own deposit address")

// ErrAddressNotFound is returned when no address row matches a lookup.
var ErrAddressNotFound = errors.New("address not found")

// ErrAdapterUnreachable is returned when the coin backend cannot be reached.
var ErrAdapterUnreachable = errors.New("coin adapter unreachable")

// ErrAdapterDisabled is returned when no enabled adapter serves a symbol.
var ErrAdapterDisabled = errors.New("coin adapter disabled")

// ErrAlreadyConfirmed is returned when a confirmation nonce has already been
// consumed.
var ErrAlreadyConfirmed = errors.New("transaction already confirmed")

// ErrInvalidDestination is returned when a queued withdrawal turns out to
// target one of this system's own deposit addresses.
var ErrInvalidDestination = errors.New("invalid withdrawal destination")

// ErrNotFound is returned for an unknown transaction id or txid.
var ErrNotFound = errors.New("transaction not found")

// ErrNotCancellable is returned when a transaction is not in a cancellable
// state.
var ErrNotCancellable = errors.New("transaction not in a cancellable state")
