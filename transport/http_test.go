package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body httpRequestBody
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			return
		}
		assert.Equal(t, "GetUser", body.OperationName)
		assert.Equal(t, "42", body.Variables["id"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"user":{"id":"42"}}}`))
	}))
	defer ts.Close()

	transport := &HTTPTransport{URL: ts.URL}
	resp, err := transport.RoundTrip(context.Background(), &Request{
		OperationName: "GetUser",
		Query:         "query GetUser($id: ID!) { user(id: $id) { id } }",
		Variables:     map[string]interface{}{"id": "42"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":{"id":"42"}}`, string(resp.Data))
	assert.False(t, resp.Failed())
}

func TestHTTPTransport_GraphQLErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors":[{"message":"user not found"}]}`))
	}))
	defer ts.Close()

	transport := &HTTPTransport{URL: ts.URL}
	resp, err := transport.RoundTrip(context.Background(), &Request{OperationName: "GetUser"})
	require.NoError(t, err)
	assert.True(t, resp.Failed())
	require.EqualError(t, resp.FirstError(), "user not found")
}

func TestHTTPTransport_UnexpectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer ts.Close()

	transport := &HTTPTransport{URL: ts.URL}
	_, err := transport.RoundTrip(context.Background(), &Request{OperationName: "GetUser"})
	require.EqualError(t, err, "unexpected response status: 502")
}

func TestHTTPTransport_PersistedQueries(t *testing.T) {
	const query = "query GetUser($id: ID!) { user(id: $id) { id } }"

	persisted := map[string]string{}
	var requests []httpRequestBody
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body httpRequestBody
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			return
		}
		requests = append(requests, body)

		ext, _ := body.Extensions["persistedQuery"].(map[string]interface{})
		if !assert.NotNil(t, ext, "every request should carry the persisted query extension") {
			return
		}
		hash, _ := ext["sha256Hash"].(string)

		q := body.Query
		if q == "" {
			if stored, ok := persisted[hash]; ok {
				q = stored
			} else {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"errors":[{"message":"PersistedQueryNotFound"}]}`))
				return
			}
		} else {
			persisted[hash] = q
		}

		assert.Equal(t, query, q)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"user":{"id":"42"}}}`))
	}))
	defer ts.Close()

	transport := &HTTPTransport{URL: ts.URL, PersistedQueries: true}

	// First round trip: hash only, then retransmission with the full query.
	resp, err := transport.RoundTrip(context.Background(), &Request{
		OperationName: "GetUser",
		Query:         query,
		Variables:     map[string]interface{}{"id": "42"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":{"id":"42"}}`, string(resp.Data))
	require.Len(t, requests, 2)
	assert.Empty(t, requests[0].Query)
	assert.Equal(t, query, requests[1].Query)

	// Second round trip: the hash is known, one request suffices.
	resp, err = transport.RoundTrip(context.Background(), &Request{
		OperationName: "GetUser",
		Query:         query,
		Variables:     map[string]interface{}{"id": "42"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":{"id":"42"}}`, string(resp.Data))
	require.Len(t, requests, 3)
	assert.Empty(t, requests[2].Query)

	expectedHash := sha256.Sum256([]byte(query))
	ext, _ := requests[0].Extensions["persistedQuery"].(map[string]interface{})
	assert.Equal(t, hex.EncodeToString(expectedHash[:]), ext["sha256Hash"])
}
