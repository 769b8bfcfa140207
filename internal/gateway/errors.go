package gateway

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed tool invocation.
type ErrorKind string

const (
	// KindUnknownTool means the requested tool is not in the discovered set.
	KindUnknownTool ErrorKind = "unknown_tool"
	// KindTimeout means the per-call deadline expired.
	KindTimeout ErrorKind = "timeout"
	// KindRemote means the provider executed the call and reported an error.
	KindRemote ErrorKind = "remote"
	// KindUnavailable means the provider could not be reached even after
	// one reconnect attempt.
	KindUnavailable ErrorKind = "unavailable"
)

// ToolError describes a failed tool invocation. The orchestration loop
// feeds its message back to the model as an in-band failure result.
type ToolError struct {
	Kind   ErrorKind
	Tool   string
	Detail string
	Err    error
}

func (e *ToolError) Error() string {
	switch {
	case e.Tool == "" && e.Detail == "":
		return fmt.Sprintf("tool provider: %s", e.Kind)
	case e.Tool == "":
		return fmt.Sprintf("tool provider: %s: %s", e.Kind, e.Detail)
	case e.Detail == "":
		return fmt.Sprintf("tool %q: %s", e.Tool, e.Kind)
	default:
		return fmt.Sprintf("tool %q: %s: %s", e.Tool, e.Kind, e.Detail)
	}
}

func (e *ToolError) Unwrap() error { return e.Err }

// IsKind reports whether err is a ToolError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *ToolError
	return errors.As(err, &te) && te.Kind == kind
}

// IsUnavailable reports whether err means the tool provider is unreachable.
func IsUnavailable(err error) bool { return IsKind(err, KindUnavailable) }
