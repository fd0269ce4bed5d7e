package points

import "errors"

var (
	ErrUnknownCategory      = errors.New("unknown category")
	ErrNotFound             = errors.New("not found")
	ErrBatchNotFound        = errors.New("no events found for batch")
	ErrAlreadyRequested     = errors.New("rollback already requested for batch")
	ErrConfirmationMismatch = errors.New("confirmation code mismatch")
	ErrCoolingOffNotElapsed = errors.New("cooling-off period has not elapsed")
	ErrNotPending           = errors.New("rollback request is not pending")
	ErrEmptyReason          = errors.New("bonus reason must not be empty")
	ErrZeroAmount           = errors.New("bonus amount must not be zero")
	ErrBulkEventProtected   = errors.New("bulk events can only be removed through batch rollback")

	// ErrPartialBatch signals that some units of a multi-unit operation failed.
	// The accompanying result carries exact success/failure counts.
	ErrPartialBatch = errors.New("one or more units in the batch failed")
)
