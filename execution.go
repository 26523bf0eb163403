package gqlwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// QueryDefinition is an immutable description of a named operation. Identity
// is Name: refetch-by-name and the registry both key on it.
type QueryDefinition struct {
	Name  string
	Query string

	// Variables that must be present (and non-nil) whenever the definition is
	// bound with an Active token. Missing ones are reported synchronously by
	// Bind rather than surfacing later as a server error.
	RequiredVariables []string
}

func (def *QueryDefinition) validateVariables(variables Variables) error {
	for _, name := range def.RequiredVariables {
		if v, ok := variables[name]; !ok || v == nil {
			return fmt.Errorf("operation %v requires variable %q", def.Name, name)
		}
	}
	return nil
}

// Status describes where an execution is in its fetch cycle.
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// canonical JSON is used for execution identity, so map key order must be
// deterministic.
var canonicalJSON = jsoniter.ConfigCompatibleWithStandardLibrary

func executionKey(name string, variables Variables) string {
	if len(variables) == 0 {
		return name
	}
	b, err := canonicalJSON.Marshal(map[string]interface{}(variables))
	if err != nil {
		// Unmarshalable variables would have failed at the transport anyway;
		// fall back to something stable enough for registry identity.
		return name + ":" + fmt.Sprintf("%v", variables)
	}
	return name + ":" + string(b)
}

// execution is one materialization of a definition for a concrete variable
// set. All fields are guarded by the owning client's mutex.
type execution struct {
	definition *QueryDefinition
	variables  Variables
	key        string
	createdAt  time.Time

	status  Status
	data    json.RawMessage
	lastErr string

	// Bindings currently holding the execution. The execution outlives any
	// one of them and is evicted only when the set empties.
	holders map[*Binding]struct{}

	// Cancels the in-flight transport call, if any. Only invoked on eviction:
	// a shared request keeps running as long as any holder remains.
	cancelInflight context.CancelFunc

	// generation increments on every fetch so a stale response can't
	// overwrite the result of a later one.
	generation uint64
}

func (e *execution) hasData() bool {
	return e.data != nil
}
