package gqlwatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gqlwatch/gqlwatch/transport"
)

// Client coordinates the lifecycle of query executions: creation via Bind,
// result delivery, refetch-by-name, and teardown. It exclusively owns the
// registry of materialized executions.
type Client struct {
	transport transport.Transport
	logger    logrus.FieldLogger

	// All registry and execution state is guarded by mu. Transport calls run
	// on their own goroutines and re-acquire it to apply results, so nothing
	// below ever blocks on the network.
	mu       sync.Mutex
	registry *registry

	// Results restored from a snapshot, keyed like the registry. Entries are
	// claimed by the first matching bind; they are invisible to refetch.
	cache map[string]json.RawMessage
}

// NewClient returns a client that executes operations via the configured
// transport.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, errors.New("a transport is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		transport: cfg.Transport,
		logger:    logger,
		registry:  newRegistry(),
		cache:     map[string]json.RawMessage{},
	}, nil
}

// Bind subscribes a consumer to the given definition under the given token.
//
// If the token is Inactive the returned binding is in the inactive state and
// nothing else happens: no registry entry is created and no transport call is
// issued, ever. If the token is Active, the binding joins the existing
// execution for (definition, variables) or creates one. A newly created
// execution fetches immediately; an existing one with a successful payload is
// reused without a new transport call.
//
// Malformed variables for an Active token are reported synchronously.
func (c *Client) Bind(definition *QueryDefinition, token ActivationToken) (*Binding, error) {
	decision, variables := Evaluate(token)

	b := &Binding{
		client:     c,
		definition: definition,
		token:      token,
		updates:    make(chan struct{}, 1),
	}

	if decision == Suspend {
		return b, nil
	}

	if err := definition.validateVariables(variables); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	b.exec = c.attachLocked(b, definition, variables)
	b.notifyLocked()
	return b, nil
}

// RefetchByName re-executes every currently materialized execution whose
// definition name is in names, with that execution's existing variables.
//
// The registry membership is snapshotted at the moment of the call:
// executions that were never created (for example because their binding's
// token was Inactive) are not visited and cause no transport call, and
// executions materialized while the refetch is in flight are not joined into
// it. Refetching an empty registry is a no-op that completes immediately.
//
// A failed refetch of one execution does not abort the others; failures
// surface on the affected execution's status. The returned error is reserved
// for context cancellation.
func (c *Client) RefetchByName(ctx context.Context, names ...string) error {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}

	c.mu.Lock()
	var settled []<-chan struct{}
	for _, e := range c.registry.byName(set) {
		settled = append(settled, c.startFetchLocked(e))
	}
	c.mu.Unlock()

	for _, done := range settled {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// attachLocked joins b to the execution for (definition, variables), creating
// and fetching it if it doesn't exist. An existing execution with a payload is
// reused as-is; one that previously errored without ever producing data is
// retried.
func (c *Client) attachLocked(b *Binding, definition *QueryDefinition, variables Variables) *execution {
	key := executionKey(definition.Name, variables)
	e := c.registry.get(key)
	if e == nil {
		e = &execution{
			definition: definition,
			variables:  variables,
			key:        key,
			createdAt:  time.Now(),
			holders:    map[*Binding]struct{}{},
		}
		c.registry.put(e)
		if restored, ok := c.cache[key]; ok {
			delete(c.cache, key)
			e.status = StatusSuccess
			e.data = restored
		} else {
			c.startFetchLocked(e)
		}
	} else if e.status == StatusError && !e.hasData() && e.cancelInflight == nil {
		c.startFetchLocked(e)
	}
	e.holders[b] = struct{}{}
	return e
}

func (c *Client) rebind(b *Binding, token ActivationToken) error {
	decision, variables := Evaluate(token)
	if decision == Create {
		if err := b.definition.validateVariables(variables); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if b.closed {
		return errors.New("binding is closed")
	}

	b.token = token

	if decision == Suspend {
		// The subscription is detached, but the execution stays registered
		// (and refetchable) until the binding is closed.
		return nil
	}

	key := executionKey(b.definition.Name, variables)
	if b.exec == nil || b.exec.key != key {
		previous := b.exec
		b.exec = c.attachLocked(b, b.definition, variables)
		if previous != nil {
			c.releaseLocked(b, previous)
		}
	}
	b.notifyLocked()
	return nil
}

func (c *Client) unbind(b *Binding) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	if b.exec != nil {
		c.releaseLocked(b, b.exec)
		b.exec = nil
	}
	close(b.updates)
}

// releaseLocked drops b's hold on e, evicting e once no holders remain. Only
// then is an in-flight request for it cancelled: a shared request lives as
// long as its longest holder.
func (c *Client) releaseLocked(b *Binding, e *execution) {
	delete(e.holders, b)
	if len(e.holders) > 0 {
		return
	}
	c.registry.remove(e)
	e.generation++
	if e.cancelInflight != nil {
		e.cancelInflight()
		e.cancelInflight = nil
	}
}

// startFetchLocked issues a transport call for e and returns a channel that
// closes once the response has been applied (or superseded). The execution's
// last payload is retained while the fetch is pending.
func (c *Client) startFetchLocked(e *execution) <-chan struct{} {
	ctx, cancel := context.WithCancel(context.Background())
	if e.cancelInflight != nil {
		// A newer fetch supersedes any in-flight one; the generation bump
		// below makes the old response a no-op regardless.
		e.cancelInflight()
	}
	e.cancelInflight = cancel
	e.generation++
	e.status = StatusPending

	generation := e.generation
	req := &transport.Request{
		OperationName: e.definition.Name,
		Query:         e.definition.Query,
		Variables:     e.variables,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := c.transport.RoundTrip(ctx, req)
		c.applyResult(e, generation, resp, err)
	}()
	return done
}

func (c *Client) applyResult(e *execution, generation uint64, resp *transport.Response, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.generation != generation {
		// Superseded by a later fetch or by eviction.
		return
	}
	e.cancelInflight = nil

	if err == nil {
		if resp == nil {
			err = errors.New("transport returned no response")
		} else if resp.Failed() {
			err = resp.FirstError()
		}
	}

	if err != nil {
		e.status = StatusError
		e.lastErr = err.Error()
		c.logger.WithField("operation", e.definition.Name).Info(errors.Wrap(err, "query execution failed"))
	} else {
		e.status = StatusSuccess
		e.data = resp.Data
		e.lastErr = ""
	}

	for b := range e.holders {
		b.notifyLocked()
	}
}
