package interfaces

import (
	"errors"
	"fmt"
)

// Error taxonomy for the RPC protocol. Worker-side failures are always
// flattened into error replies; these sentinels are what the client and
// server packages wrap so callers can errors.Is on the failure class.
var (
	// ErrDecode indicates a malformed wire payload.
	ErrDecode = errors.New("malformed wire payload")

	// ErrHandshake indicates a missing or invalid HELLO_ACK, or a handshake
	// timeout. A connection in this state is unusable.
	ErrHandshake = errors.New("handshake failed")

	// ErrDecrypt indicates an authenticated-decryption failure.
	ErrDecrypt = errors.New("decryption failed")

	// ErrAuthentication indicates an unknown or missing credential on a
	// protected call.
	ErrAuthentication = errors.New("authentication failed")

	// ErrFunctionNotFound indicates a call to an unregistered name.
	ErrFunctionNotFound = errors.New("function not found")

	// ErrTimeout indicates the client received no reply within its deadline.
	ErrTimeout = errors.New("timed out waiting for reply")

	// ErrSync indicates a best-effort shared-variable replication failure.
	// It is logged by the shared proxy, never returned from an assignment.
	ErrSync = errors.New("shared variable sync failed")
)

// RemoteError carries a server-produced error reply. The message is the
// verbatim error text of the failed call; no stack traces cross the wire.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s", e.Message)
}
