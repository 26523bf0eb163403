// Package transport defines the network-shaped boundary of the client: a
// single RoundTrip interface plus HTTP, graphql-ws, and scripted stub
// implementations of it.
package transport

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Request describes one outbound operation.
type Request struct {
	OperationName string                 `json:"operationName,omitempty"`
	Query         string                 `json:"query,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// Error is a GraphQL error returned by the server.
type Error struct {
	Message string        `json:"message"`
	Path    []interface{} `json:"path,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Response is the server's reply to a request. Data is left as raw JSON for
// the caller to interpret.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []*Error        `json:"errors,omitempty"`
}

// Failed returns true if the response carries errors and no data at all.
// Partial results (data alongside errors) are not considered failures.
func (r *Response) Failed() bool {
	return r.Data == nil && len(r.Errors) > 0
}

// FirstError returns the response's first error, or nil if there is none.
func (r *Response) FirstError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// Transport executes a single operation. Implementations must be safe for
// concurrent use and must honor context cancellation.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

var errNoResponse = errors.New("transport returned no response")
