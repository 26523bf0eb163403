package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// HTTPTransport executes operations as JSON POSTs against a GraphQL endpoint.
type HTTPTransport struct {
	// The endpoint URL. Required.
	URL string

	// If not given, http.DefaultClient is used.
	HTTPClient *http.Client

	// If set, requests are first attempted as Apollo automatic persisted
	// queries: only the query's sha256 hash is sent, and the full query is
	// retransmitted if the server doesn't know it yet:
	// https://www.apollographql.com/docs/react/api/link/persisted-queries/
	PersistedQueries bool

	// Additional headers for every request, e.g. authorization.
	Header http.Header
}

type httpRequestBody struct {
	Query         string                 `json:"query,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Extensions    map[string]interface{} `json:"extensions,omitempty"`
}

const persistedQueryNotFoundMessage = "PersistedQueryNotFound"

func persistedQueryExtension(query string) map[string]interface{} {
	hash := sha256.Sum256([]byte(query))
	return map[string]interface{}{
		"persistedQuery": map[string]interface{}{
			"version":    1,
			"sha256Hash": hex.EncodeToString(hash[:]),
		},
	}
}

// RoundTrip implements Transport.
func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	body := httpRequestBody{
		Query:         req.Query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
	}

	if !t.PersistedQueries {
		return t.post(ctx, body)
	}

	// Hash-only first. If the server hasn't seen the query, send it in full
	// along with the hash so it can be persisted for next time.
	body.Extensions = persistedQueryExtension(req.Query)
	body.Query = ""
	resp, err := t.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if !persistedQueryNotFound(resp) {
		return resp, nil
	}
	body.Query = req.Query
	return t.post(ctx, body)
}

func persistedQueryNotFound(resp *Response) bool {
	for _, e := range resp.Errors {
		if e.Message == persistedQueryNotFoundMessage {
			return true
		}
	}
	return false
}

func (t *HTTPTransport) post(ctx context.Context, body httpRequestBody) (*Response, error) {
	buf, err := jsoniter.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal request body")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrap(err, "unable to create http request")
	}
	for k, vs := range t.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "http request failed")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected response status: %v", httpResp.StatusCode)
	}

	var resp Response
	if err := jsoniter.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, "unable to decode response body")
	}
	return &resp, nil
}
