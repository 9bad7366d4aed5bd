package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotStarted is returned by any façade call issued before start() or
// after stop().
var ErrNotStarted = errors.New("fleet dispatcher not started")

// ConnectError wraps a channel's failure to establish or re-establish its
// transport.
type ConnectError struct {
	Target string // "host:port"
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s failed: %v", e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CallTimeout indicates a per-RPC deadline elapsed.
type CallTimeout struct {
	Target    string
	Operation string
}

func (e *CallTimeout) Error() string {
	return fmt.Sprintf("%s against %s timed out", e.Operation, e.Target)
}

// NotConnected is returned by RpcChannel.Transport when the channel isn't
// in the CONNECTED state.
type NotConnected struct {
	Target string
	State  ChannelState
}

func (e *NotConnected) Error() string {
	return fmt.Sprintf("channel to %s not connected (state=%s)", e.Target, e.State)
}

// CertFetchError indicates connectNode could not obtain a node's TLS leaf
// certificate over its REST port.
type CertFetchError struct {
	Target string
	Err    error
}

func (e *CertFetchError) Error() string {
	return fmt.Sprintf("fetching certificate from %s failed: %v", e.Target, e.Err)
}

func (e *CertFetchError) Unwrap() error { return e.Err }

// RemoteError wraps an error returned by the proxy engine's AlterInbound
// RPC that isn't one of the idempotent "already exists"/"not found" cases.
type RemoteError struct {
	Target    string
	Tag       string
	Operation string
	Err       error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s against %s: %v", e.Operation, e.Tag, e.Target, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsAlreadyExists reports whether err's remote-side message indicates the
// target already has the entity being added — treated as success for
// AddUserOp so UPDATE's add-after-remove stays idempotent.
func IsAlreadyExists(err error) bool {
	return containsFold(err, "already exists")
}

// IsNotFound reports whether err's remote-side message indicates the
// target entity was absent — treated as success for RemoveUserOp.
func IsNotFound(err error) bool {
	return containsFold(err, "not found")
}

func containsFold(err error, substr string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), substr)
}

// IsRecoverable reports whether err should be treated as a transient
// channel/transport failure (breaker failure, retryable by a later
// mutation) as opposed to a programmer/configuration error.
func IsRecoverable(err error) bool {
	var connErr *ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var timeoutErr *CallTimeout
	if errors.As(err, &timeoutErr) {
		return true
	}
	var notConnErr *NotConnected
	if errors.As(err, &notConnErr) {
		return true
	}
	return false
}
