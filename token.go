package gqlwatch

// Variables is a set of GraphQL variable values for a single operation.
type Variables map[string]interface{}

// ActivationToken decides whether a binding should execute its query or stay
// dormant. It is a two-case sum: either Active with a concrete variable set or
// Inactive. It is deliberately not a nullable Variables map – "no variables
// yet" and "variables that happen to be empty" must never be confused.
type ActivationToken struct {
	active    bool
	variables Variables
}

// Active returns a token that will cause a binding to materialize an execution
// with the given variables. The variables may be nil for operations that take
// none.
func Active(variables Variables) ActivationToken {
	return ActivationToken{
		active:    true,
		variables: variables,
	}
}

// Inactive is the token for bindings that should not execute. Binding with it
// never touches the registry and never issues a transport call.
var Inactive = ActivationToken{}

// IsActive returns true if the token carries a concrete variable set.
func (t ActivationToken) IsActive() bool {
	return t.active
}

// Decision is the outcome of evaluating an activation token.
type Decision int

const (
	// Suspend means no execution should be created or looked up.
	Suspend Decision = iota

	// Create means an execution should be created (or joined) for the token's
	// variables.
	Create
)

// Evaluate maps a token to an execution decision. It is pure: evaluating the
// same token any number of times yields the same decision and has no side
// effects.
func Evaluate(t ActivationToken) (Decision, Variables) {
	if !t.active {
		return Suspend, nil
	}
	return Create, t.variables
}
