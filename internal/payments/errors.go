package payments

import "errors"

var (
	// ErrNotFound signals a missing payment, invoice or allocation.
	ErrNotFound = errors.New("payments: not found")
	// ErrInvalidState rejects operations against cancelled invoices.
	ErrInvalidState = errors.New("payments: invalid state")
	// ErrOverAllocated rejects allocations past the invoice balance under
	// the reject policy, and always past the payment's unallocated amount.
	ErrOverAllocated = errors.New("payments: amount exceeds open balance")
	// ErrPaymentExhausted rejects allocating more than the payment holds.
	ErrPaymentExhausted = errors.New("payments: amount exceeds unallocated payment")
	// ErrConflict surfaces lost concurrent races for retry by the caller.
	ErrConflict = errors.New("payments: conflict, retry")
)
