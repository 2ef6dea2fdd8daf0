// ABOUTME: Error types returned by bot worker operations
// ABOUTME: Separates missing capabilities from transport delivery failures

package botkit

import (
	"errors"
	"fmt"
)

// ErrConfiguration matches every *ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("configuration error")

// Causes carried by ConfigurationError
var (
	ErrNoDialogContext   = errors.New("no dialogContext")
	ErrMissingServiceURL = errors.New("missing serviceUrl")
	ErrNoTurnContext     = errors.New("no turn context")
	ErrNoIncomingMessage = errors.New("source message has no incoming activity")
	ErrNoReference       = errors.New("no conversation reference")
	ErrNoAdapter         = errors.New("controller has no adapter")
)

// ConfigurationError reports an operation the worker cannot perform because
// it was spawned without a capability or was given incomplete input. It is
// never retried.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConfiguration) hold for any ConfigurationError.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// DeliveryError wraps a failure reported by the transport. The worker does
// not retry; retry policy belongs to the adapter.
type DeliveryError struct {
	Op  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: delivery failed: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
