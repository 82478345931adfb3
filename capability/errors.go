package capability

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a capability name is not registered.
	ErrNotFound = errors.New("capability not found")

	// ErrDuplicate is returned when registering a name that already
	// exists without requesting override.
	ErrDuplicate = errors.New("capability already registered")

	// ErrInvocation wraps failures raised by subagent and MCP backends.
	ErrInvocation = errors.New("capability invocation failed")

	// ErrPermissionDenied is returned when an approval-gated capability
	// is invoked and approval is withheld. The capability is not executed.
	ErrPermissionDenied = errors.New("permission denied")
)

// PermissionDeniedError reports a withheld approval with its reason.
type PermissionDeniedError struct {
	Capability string
	Reason     string
}

func (e *PermissionDeniedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("permission denied for capability %q", e.Capability)
	}
	return fmt.Sprintf("permission denied for capability %q: %s", e.Capability, e.Reason)
}

func (e *PermissionDeniedError) Unwrap() error {
	return ErrPermissionDenied
}
