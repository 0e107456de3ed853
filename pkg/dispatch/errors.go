// HookClaw - Telegram webhook gateway
// License: MIT

package dispatch

import "errors"

var (
	// ErrHandlerNotFound means no handler matches an update's kind or selectors.
	ErrHandlerNotFound = errors.New("no handler registered for update")

	// ErrTableFrozen is returned when registering after the dispatcher took the table.
	ErrTableFrozen = errors.New("dispatch table is frozen")

	// ErrDuplicateHandler is returned when a key is registered twice.
	ErrDuplicateHandler = errors.New("handler already registered")

	// ErrAlreadyRunning is returned when Run is called on a running or stopped dispatcher.
	ErrAlreadyRunning = errors.New("dispatcher already started")

	// ErrUnexpectedUpdate is returned by typed handlers given another variant.
	ErrUnexpectedUpdate = errors.New("unexpected update type")
)
