package mstp

import "errors"

// Errors returned across package boundaries by the datalink core. Internal
// FSM recoveries (FramingError, ReceiveError, TokenLost, AddressConflict)
// are not represented here - they are local state transitions, not errors.
var (
	ErrIllegalArgument = errors.New("mstp: illegal argument")
	ErrQueueFull       = errors.New("mstp: queue full")
	ErrBufferExceeded  = errors.New("mstp: buffer exceeded")
	ErrInvalidState    = errors.New("mstp: invalid state")
	ErrNotFound        = errors.New("mstp: not found")
	ErrIllegalBaudrate = errors.New("mstp: illegal baud rate")
)
