package credits

import "errors"

var (
	// ErrNotFound means an account involved in the operation is missing or deactivated.
	ErrNotFound = errors.New("account not found")
	// ErrInsufficientBalance means the patient cannot cover the cost.
	ErrInsufficientBalance = errors.New("insufficient credits")
	// ErrTransactionAborted means the datastore did not commit the change.
	ErrTransactionAborted = errors.New("credit transaction aborted")
	// ErrInvalidCost rejects non-positive costs and self transfers.
	ErrInvalidCost = errors.New("invalid deduction")
)
