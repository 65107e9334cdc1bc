package mlflowbox

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	ErrContainerNotFound = errors.New("container not found")
	ErrDockerUnavailable = errors.New("docker not available")
	ErrImageNotFound     = errors.New("image not found locally")
	ErrMalformedResult   = errors.New("malformed tracking result")
	ErrInvalidMetric     = errors.New("metric value is not numeric")
	ErrRunClosed         = errors.New("run already closed")
)

// ConfigurationError reports an invalid data directory or a missing
// configuration key. Check names the validation that failed: "required",
// "exists", "is_dir", "writable" or "port".
type ConfigurationError struct {
	Check string
	Path  string
	Key   string
	Err   error
}

func (e *ConfigurationError) Error() string {
	var msg string
	switch {
	case e.Key != "":
		msg = fmt.Sprintf("configuration: %s is not set", e.Key)
	default:
		msg = fmt.Sprintf("configuration: %s check failed for %s", e.Check, e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// PortConflictError is returned when the requested host port already accepts
// connections on the loopback interface.
type PortConflictError struct {
	Port int
}

func (e *PortConflictError) Error() string {
	return fmt.Sprintf("port %d is already in use", e.Port)
}

// RuntimeError wraps a container runtime failure. Op is one of "connect",
// "lookup", "teardown", "image", "create" or "start".
type RuntimeError struct {
	Op        string
	Container string
	Err       error
}

func (e *RuntimeError) Error() string {
	if e.Container == "" {
		return fmt.Sprintf("container runtime: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("container runtime: %s %s: %v", e.Op, e.Container, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}
