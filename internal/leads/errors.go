package leads

import "errors"

var (
	// ErrMissingPhone is returned when resolution is attempted without a phone number
	ErrMissingPhone = errors.New("leads: phone is required")

	// ErrLeaseTimeout is returned when the per-phone lease could not be acquired in time
	ErrLeaseTimeout = errors.New("leads: lease wait timed out")
)
