package bus

import "errors"

var (
	ErrHandlerPanic    = errors.New("handler panicked")
	ErrUnexpectedEvent = errors.New("unexpected event type")
)
