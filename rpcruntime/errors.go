package rpcruntime

import "fmt"

// RemoteInvocationError wraps a failure reported by the remote side of a
// call: either the target method returned a non-nil error, or it panicked
// and the server recovered rather than tearing down the whole stream.
type RemoteInvocationError struct {
	ServiceMethod string
	Message       string
}

func (e *RemoteInvocationError) Error() string {
	return fmt.Sprintf("rpcruntime: %s: %s", e.ServiceMethod, e.Message)
}
