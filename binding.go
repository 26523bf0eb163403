package gqlwatch

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// BindingState is the observable state of a binding, corresponding one to one
// with what a consumer would render.
type BindingState int

const (
	// StateInactive means the binding's token is Inactive and no execution
	// backs it.
	StateInactive BindingState = iota

	// StateLoading means an execution exists but has produced no data yet.
	StateLoading

	// StateData means a successful payload is available. The binding stays in
	// this state during refetches: stale data beats a loading flicker.
	StateData

	// StateError means the last transport call failed and no payload has ever
	// been received.
	StateError
)

func (s BindingState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateLoading:
		return "loading"
	case StateData:
		return "data"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Binding is a live, non-owning subscription from a consumer to a query
// execution (or to nothing, while its token is Inactive). It is created by
// Client.Bind and must be released with Close.
type Binding struct {
	client     *Client
	definition *QueryDefinition
	token      ActivationToken

	// The execution this binding currently holds. It remains held across a
	// transition to an Inactive token: suspending the binding suspends the
	// subscription, not the execution.
	exec *execution

	updates chan struct{}
	closed  bool
}

// Updates returns a channel that receives a (coalesced) signal whenever the
// binding's observable state may have changed. It is closed when the binding
// is closed.
func (b *Binding) Updates() <-chan struct{} {
	return b.updates
}

// State returns the binding's current observable state.
func (b *Binding) State() BindingState {
	b.client.mu.Lock()
	defer b.client.mu.Unlock()
	return b.stateLocked()
}

func (b *Binding) stateLocked() BindingState {
	if !b.token.IsActive() || b.exec == nil {
		return StateInactive
	}
	if b.exec.hasData() {
		return StateData
	}
	if b.exec.status == StatusError {
		return StateError
	}
	return StateLoading
}

// Data returns the most recent successful payload, or nil if there is none.
func (b *Binding) Data() json.RawMessage {
	b.client.mu.Lock()
	defer b.client.mu.Unlock()
	if !b.token.IsActive() || b.exec == nil {
		return nil
	}
	return b.exec.data
}

// Err returns the failure from the most recent transport call, or nil. A
// binding can report both Data and Err after a failed refetch; State prefers
// the data.
func (b *Binding) Err() error {
	b.client.mu.Lock()
	defer b.client.mu.Unlock()
	if !b.token.IsActive() || b.exec == nil || b.exec.status != StatusError {
		return nil
	}
	return errors.New(b.exec.lastErr)
}

// Rebind re-evaluates the binding against a new token.
//
// Transitioning to Inactive detaches the subscription but leaves the already
// materialized execution (if any) untouched in the registry. Transitioning to
// Active joins or creates an execution for the new variables, releasing a
// previously held execution only if the variables actually changed.
func (b *Binding) Rebind(token ActivationToken) error {
	return b.client.rebind(b, token)
}

// Close tears the binding down and releases its hold on the underlying
// execution. When the last holder of an execution closes, the execution is
// evicted from the registry and any in-flight transport call for it is
// cancelled. Close is idempotent.
func (b *Binding) Close() {
	b.client.unbind(b)
}

func (b *Binding) notifyLocked() {
	if b.closed || !b.token.IsActive() {
		return
	}
	select {
	case b.updates <- struct{}{}:
	default:
	}
}
