package core

import (
	"errors"

	"github.com/blyfast/blyfast/core/scheduler"
)

// errorStatus maps a dispatch failure to the response status written when
// nothing has been sent yet. Capacity problems are retryable and surface as
// 503; everything else is a plain server error.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrTaskRejected),
		errors.Is(err, scheduler.ErrCircuitOpen),
		errors.Is(err, scheduler.ErrShutdown):
		return 503
	default:
		return 500
	}
}

// errorMessage keeps failure details out of responses; the specifics go to
// the log instead.
func errorMessage(status int) string {
	switch status {
	case 503:
		return "Service Unavailable"
	default:
		return "Internal Server Error"
	}
}
