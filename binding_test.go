package gqlwatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinding_ErrorState(t *testing.T) {
	client, stub := newTestClient(t)
	stub.ScriptError("GetUser", "boom")
	stub.ScriptData("GetUser", `{"user":{"id":"1","name":"Test User"}}`)

	b, err := client.Bind(getUserDefinition, Active(Variables{"id": "1"}))
	require.NoError(t, err)
	defer b.Close()

	// A failure with no prior payload is the error state.
	waitForState(t, b, StateError)
	assert.Nil(t, b.Data())
	require.EqualError(t, b.Err(), "boom")

	// Error is re-enterable to pending: a refetch can recover the execution.
	require.NoError(t, client.RefetchByName(context.Background(), "GetUser"))
	waitForState(t, b, StateData)
	assert.NoError(t, b.Err())
	assert.JSONEq(t, `{"user":{"id":"1","name":"Test User"}}`, string(b.Data()))
}

func TestBinding_GraphQLErrorState(t *testing.T) {
	client, stub := newTestClient(t)
	stub.ScriptGraphQLError("GetUser", "user not found")

	b, err := client.Bind(getUserDefinition, Active(Variables{"id": "1"}))
	require.NoError(t, err)
	defer b.Close()

	waitForState(t, b, StateError)
	require.EqualError(t, b.Err(), "user not found")
}

func TestBinding_InactiveToActive(t *testing.T) {
	client, stub := newTestClient(t)
	stub.ScriptData("GetUser", `{"user":{"id":"1","name":"Test User"}}`)

	b, err := client.Bind(getUserDefinition, Inactive)
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, StateInactive, b.State())
	require.Empty(t, stub.Calls())

	require.NoError(t, b.Rebind(Active(Variables{"id": "1"})))
	waitForState(t, b, StateData)
	assert.Equal(t, 1, stub.CallCount("GetUser"))
}

func TestBinding_RebindVariableChange(t *testing.T) {
	client, stub := newTestClient(t)
	stub.ScriptData("GetUser", `{"user":{"id":"x","name":"Test User"}}`)

	b, err := client.Bind(getUserDefinition, Active(Variables{"id": "1"}))
	require.NoError(t, err)
	defer b.Close()
	waitForState(t, b, StateData)
	require.Equal(t, 1, stub.CallCount("GetUser"))

	require.NoError(t, b.Rebind(Active(Variables{"id": "2"})))
	waitForState(t, b, StateData)
	require.Equal(t, 2, stub.CallCount("GetUser"))

	// The execution for id 1 lost its only holder and was evicted, so a
	// refetch only visits id 2.
	require.NoError(t, client.RefetchByName(context.Background(), "GetUser"))
	calls := stub.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "2", calls[2].Variables["id"])
}

func TestBinding_RebindSameVariables(t *testing.T) {
	client, stub := newTestClient(t)
	stub.ScriptData("GetUser", `{"user":{"id":"1","name":"Test User"}}`)

	b, err := client.Bind(getUserDefinition, Active(Variables{"id": "1"}))
	require.NoError(t, err)
	defer b.Close()
	waitForState(t, b, StateData)

	require.NoError(t, b.Rebind(Active(Variables{"id": "1"})))
	assert.Equal(t, StateData, b.State())
	assert.Equal(t, 1, stub.CallCount("GetUser"))
}

func TestBinding_RebindMisuse(t *testing.T) {
	client, stub := newTestClient(t)
	stub.ScriptData("GetUser", `{"user":{"id":"1","name":"Test User"}}`)

	b, err := client.Bind(getUserDefinition, Active(Variables{"id": "1"}))
	require.NoError(t, err)
	defer b.Close()
	waitForState(t, b, StateData)

	// Validation failures are synchronous and leave the binding untouched.
	require.EqualError(t, b.Rebind(Active(Variables{})), `operation GetUser requires variable "id"`)
	assert.Equal(t, StateData, b.State())
	assert.Equal(t, 1, stub.CallCount("GetUser"))
}

func TestBinding_RebindAfterClose(t *testing.T) {
	client, _ := newTestClient(t)

	b, err := client.Bind(getUserDefinition, Inactive)
	require.NoError(t, err)
	b.Close()

	require.EqualError(t, b.Rebind(Active(Variables{"id": "1"})), "binding is closed")
}
