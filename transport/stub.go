package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type stubResult struct {
	response *Response
	err      error
}

// Stub is a scripted transport for tests and dry runs. It records every
// outbound request and answers from per-operation scripts after an optional
// delay.
type Stub struct {
	mu      sync.Mutex
	delay   time.Duration
	scripts map[string][]stubResult
	calls   []Request
}

// NewStub returns a stub with no scripted responses. Unscripted operations
// fail their round trips.
func NewStub() *Stub {
	return &Stub{
		scripts: map[string][]stubResult{},
	}
}

// SetDelay makes every subsequent round trip wait for d before responding.
func (s *Stub) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// ScriptData scripts a successful response for the named operation. Scripts
// are consumed in order; the last one answers all remaining calls.
func (s *Stub) ScriptData(operationName, data string) {
	s.script(operationName, stubResult{
		response: &Response{Data: json.RawMessage(data)},
	})
}

// ScriptError scripts a transport-level failure for the named operation.
func (s *Stub) ScriptError(operationName, message string) {
	s.script(operationName, stubResult{
		err: fmt.Errorf("%s", message),
	})
}

// ScriptGraphQLError scripts a response carrying a GraphQL error and no data.
func (s *Stub) ScriptGraphQLError(operationName, message string) {
	s.script(operationName, stubResult{
		response: &Response{
			Errors: []*Error{{Message: message}},
		},
	})
}

func (s *Stub) script(operationName string, result stubResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[operationName] = append(s.scripts[operationName], result)
}

// Calls returns a copy of every request seen so far, in order.
func (s *Stub) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// CallCount returns how many requests have been recorded for the named
// operation.
func (s *Stub) CallCount(operationName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, call := range s.calls {
		if call.OperationName == operationName {
			n++
		}
	}
	return n
}

// RoundTrip records the request and answers it from the operation's script.
func (s *Stub) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	recorded := *req
	if req.Variables != nil {
		recorded.Variables = make(map[string]interface{}, len(req.Variables))
		for k, v := range req.Variables {
			recorded.Variables[k] = v
		}
	}
	s.calls = append(s.calls, recorded)

	var result stubResult
	if script := s.scripts[req.OperationName]; len(script) > 0 {
		result = script[0]
		if len(script) > 1 {
			s.scripts[req.OperationName] = script[1:]
		}
	} else {
		result = stubResult{err: fmt.Errorf("no scripted response for operation %q", req.OperationName)}
	}
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	return result.response, result.err
}
