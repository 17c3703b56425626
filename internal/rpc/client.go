// Package rpc is the client side of the backend's JSON-RPC contract:
//
//	--> {"jsonrpc":"2.0","method":"call","params":{"model":...,"method":...,"args":[...],"kwargs":{...}},"id":1}
//	<-- {"jsonrpc":"2.0","result":...,"id":1}
//	<-- {"jsonrpc":"2.0","error":{"code":100,"message":"..."},"id":1}
//
// The dialect beyond that is opaque to the core. The one classification the
// core cares about is authorization failure (error code 100 or HTTP 401/403),
// which is surfaced as ErrUnauthorized for the session-owning collaborator.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// ErrUnauthorized marks an authorization failure. Not retryable by this
// core; re-authentication is the external collaborator's job.
var ErrUnauthorized = errors.New("unauthorized")

// authErrorCode is the backend's session-expired JSON-RPC error code.
const authErrorCode = 100

// Invoker is the remote call surface consumed by cache, sync and session.
type Invoker interface {
	Call(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (json.RawMessage, error)
}

// Error is a failed remote call, either an HTTP-level failure or a JSON-RPC
// error object.
type Error struct {
	Code       int
	Message    string
	Data       json.RawMessage
	HTTPStatus int
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 && e.Code == 0 {
		return fmt.Sprintf("rpc: http %d: %s", e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("rpc: error %d: %s", e.Code, e.Message)
}

// Is lets errors.Is(err, ErrUnauthorized) work across both failure kinds.
func (e *Error) Is(target error) bool {
	if target != ErrUnauthorized {
		return false
	}
	return e.Code == authErrorCode ||
		e.HTTPStatus == http.StatusUnauthorized ||
		e.HTTPStatus == http.StatusForbidden
}

type request struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int64  `json:"id"`
	Params  params `json:"params"`
}

type params struct {
	Model  string                 `json:"model"`
	Method string                 `json:"method"`
	Args   []interface{}          `json:"args"`
	Kwargs map[string]interface{} `json:"kwargs"`
}

type response struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
	ID json.RawMessage `json:"id"`
}

// Client POSTs JSON-RPC calls to a single backend endpoint. Timeouts belong
// to the injected http.Client and surface as ordinary errors.
type Client struct {
	endpoint string
	database string
	http     *http.Client
	nextID   atomic.Int64
}

// NewClient builds a client for the given endpoint URL and tenant database.
// httpClient may be nil, in which case http.DefaultClient is used.
func NewClient(endpoint, database string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{endpoint: endpoint, database: database, http: httpClient}
}

// Call invokes model.method(args, kwargs) on the backend and returns the raw
// result for the caller to decode.
func (c *Client) Call(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (json.RawMessage, error) {
	// copy kwargs so the tenant entry never leaks into the caller's map
	merged := make(map[string]interface{}, len(kwargs)+1)
	for k, v := range kwargs {
		merged[k] = v
	}
	if c.database != "" {
		// tenant routing rides along with every call
		merged["database"] = c.database
	}
	body, err := json.Marshal(request{
		Jsonrpc: "2.0",
		Method:  "call",
		ID:      c.nextID.Add(1),
		Params:  params{Model: model, Method: method, Args: args, Kwargs: merged},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", model, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{HTTPStatus: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response for %s.%s: %w", model, method, err)
	}
	if parsed.Error != nil {
		return nil, &Error{
			Code:    parsed.Error.Code,
			Message: parsed.Error.Message,
			Data:    parsed.Error.Data,
		}
	}
	return parsed.Result, nil
}
