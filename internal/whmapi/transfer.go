package whmapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

func transferCall(fn, sessionID string) Request {
	return Request{
		Dialect: WHMv1,
		Func:    fn,
		Args:    url.Values{"transfer_session_id": {sessionID}},
	}
}

// StartTransferSession starts or resumes a session. On success the
// result carries the worker process id; see Result.PID.
func (c *Client) StartTransferSession(ctx context.Context, sessionID string) (*Result, error) {
	return c.Call(ctx, transferCall("start_transfer_session", sessionID))
}

func (c *Client) PauseTransferSession(ctx context.Context, sessionID string) (*Result, error) {
	return c.Call(ctx, transferCall("pause_transfer_session", sessionID))
}

func (c *Client) AbortTransferSession(ctx context.Context, sessionID string) (*Result, error) {
	return c.Call(ctx, transferCall("abort_transfer_session", sessionID))
}

// GetTransferSessionState returns the server's name for the session's
// current state, e.g. "RUNNING".
func (c *Client) GetTransferSessionState(ctx context.Context, sessionID string) (string, error) {
	res, err := c.Call(ctx, transferCall("get_transfer_session_state", sessionID))
	if err != nil {
		return "", err
	}
	if err := res.Err(); err != nil {
		return "", err
	}
	var data struct {
		StateName string `json:"state_name"`
	}
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return "", fmt.Errorf("decode session state: %w", err)
	}
	if data.StateName == "" {
		return "", fmt.Errorf("session %s: no state in response", sessionID)
	}
	return data.StateName, nil
}

// PID returns data.pid, which the server sends as a number or a string.
// It is 0 when absent.
func (r *Result) PID() int {
	if len(r.Data) == 0 {
		return 0
	}
	var data struct {
		PID json.RawMessage `json:"pid"`
	}
	if err := json.Unmarshal(r.Data, &data); err != nil || len(data.PID) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(data.PID, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(data.PID, &s); err == nil {
		n, _ = strconv.Atoi(s)
		return n
	}
	return 0
}
