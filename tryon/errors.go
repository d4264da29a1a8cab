package tryon

import "errors"

var (
	ErrInvalidRequest   = errors.New("invalid try-on request")
	ErrSubmission       = errors.New("try-on submission failed")
	ErrProviderFailure  = errors.New("try-on failed at provider")
	ErrTimeout          = errors.New("try-on is taking longer than expected")
	ErrCanceled         = errors.New("try-on canceled")
	ErrRefundFailed     = errors.New("refund could not be completed, contact support")
	ErrNotRefundable    = errors.New("task is not in a refundable state")
	ErrAlreadyPublished = errors.New("task result already published")
	ErrUnknownTask      = errors.New("unknown try-on task")
	ErrShuttingDown     = errors.New("try-on service is shutting down")
	ErrInterrupted      = errors.New("try-on interrupted by service shutdown")
	ErrResultNotSaved   = errors.New("try-on finished but the result could not be saved, contact support")
)
