package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStub_RecordsCalls(t *testing.T) {
	stub := NewStub()
	stub.ScriptData("GetUser", `{"user":null}`)

	resp, err := stub.RoundTrip(context.Background(), &Request{
		OperationName: "GetUser",
		Variables:     map[string]interface{}{"id": "1"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":null}`, string(resp.Data))

	calls := stub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "GetUser", calls[0].OperationName)
	assert.Equal(t, "1", calls[0].Variables["id"])
	assert.Equal(t, 1, stub.CallCount("GetUser"))
	assert.Equal(t, 0, stub.CallCount("GetPosts"))
}

func TestStub_ScriptOrder(t *testing.T) {
	stub := NewStub()
	stub.ScriptError("GetUser", "boom")
	stub.ScriptData("GetUser", `{"user":{}}`)

	_, err := stub.RoundTrip(context.Background(), &Request{OperationName: "GetUser"})
	require.EqualError(t, err, "boom")

	// The last script answers all remaining calls.
	for i := 0; i < 2; i++ {
		resp, err := stub.RoundTrip(context.Background(), &Request{OperationName: "GetUser"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"user":{}}`, string(resp.Data))
	}
}

func TestStub_Unscripted(t *testing.T) {
	stub := NewStub()
	_, err := stub.RoundTrip(context.Background(), &Request{OperationName: "Mystery"})
	require.EqualError(t, err, `no scripted response for operation "Mystery"`)

	// Failed round trips are still recorded.
	assert.Equal(t, 1, stub.CallCount("Mystery"))
}

func TestStub_GraphQLError(t *testing.T) {
	stub := NewStub()
	stub.ScriptGraphQLError("GetUser", "not found")

	resp, err := stub.RoundTrip(context.Background(), &Request{OperationName: "GetUser"})
	require.NoError(t, err)
	assert.True(t, resp.Failed())
	require.EqualError(t, resp.FirstError(), "not found")
}

func TestStub_DelayAndCancellation(t *testing.T) {
	stub := NewStub()
	stub.SetDelay(time.Minute)
	stub.ScriptData("GetUser", `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	go cancel()
	_, err := stub.RoundTrip(ctx, &Request{OperationName: "GetUser"})
	require.ErrorIs(t, err, context.Canceled)
}
