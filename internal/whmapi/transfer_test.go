package whmapi

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestStartTransferSessionPID(t *testing.T) {
	tests := []struct {
		body string
		pid  int
	}{
		{`{"metadata":{"result":1},"data":{"pid":4242}}`, 4242},
		{`{"metadata":{"result":1},"data":{"pid":"77"}}`, 77},
		{`{"metadata":{"result":1},"data":{}}`, 0},
		{`{"metadata":{"result":1}}`, 0},
	}
	for _, tt := range tests {
		ts, got := newTestServer(t, http.StatusOK, tt.body)
		c := newTestClient(t, ts.URL)

		res, err := c.StartTransferSession(context.Background(), "sess1")
		if err != nil {
			t.Fatal(err)
		}
		if res.PID() != tt.pid {
			t.Errorf("PID() = %d, want %d for %s", res.PID(), tt.pid, tt.body)
		}
		if got.form.Get("transfer_session_id") != "sess1" {
			t.Errorf("transfer_session_id = %q", got.form.Get("transfer_session_id"))
		}
	}
}

func TestGetTransferSessionState(t *testing.T) {
	ts, got := newTestServer(t, http.StatusOK, `{"metadata":{"result":1},"data":{"state_name":"PAUSED"}}`)
	c := newTestClient(t, ts.URL)

	state, err := c.GetTransferSessionState(context.Background(), "sess1")
	if err != nil {
		t.Fatal(err)
	}
	if state != "PAUSED" {
		t.Errorf("state = %q", state)
	}
	if got.path != "/json-api/get_transfer_session_state" {
		t.Errorf("path = %q", got.path)
	}
}

func TestGetTransferSessionStateRefused(t *testing.T) {
	ts, _ := newTestServer(t, http.StatusOK, `{"metadata":{"result":0,"reason":"No such session."}}`)
	c := newTestClient(t, ts.URL)

	_, err := c.GetTransferSessionState(context.Background(), "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Reason != "No such session." {
		t.Errorf("Reason = %q", apiErr.Reason)
	}
}

func TestResultMessage(t *testing.T) {
	tests := []struct {
		res  Result
		want string
	}{
		{Result{Errors: []string{"a", "b"}, Reason: "r"}, "a\nb"},
		{Result{Reason: "r"}, "r"},
		{Result{}, "unknown error"},
	}
	for _, tt := range tests {
		if got := tt.res.Message(); got != tt.want {
			t.Errorf("Message() = %q, want %q", got, tt.want)
		}
	}
}
