package main

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xferwatch/xferwatch/internal/mock"
	"github.com/xferwatch/xferwatch/internal/transfer"
)

type cliTestEnv struct {
	server     *httptest.Server
	configPath string
}

func setupCLITestEnv(t *testing.T, gens ...*mock.Generator) *cliTestEnv {
	t.Helper()

	srv := httptest.NewServer(mock.NewServer(mock.ServerOptions{User: "root", Token: "TOKEN"}, gens...))
	t.Cleanup(srv.Close)

	configPath := filepath.Join(t.TempDir(), "xferwatch.yaml")
	writeTestConfig(t, configPath, srv.URL)
	return &cliTestEnv{server: srv, configPath: configPath}
}

func writeTestConfig(t *testing.T, path, serverURL string) {
	t.Helper()
	t.Setenv("XFERWATCH_TEST_TOKEN", "TOKEN")
	content := fmt.Sprintf(`server:
  url: %q
  user: root
  token: ${XFERWATCH_TEST_TOKEN}
  timeout: 5s
tail:
  poll_interval: 10ms
log:
  level: error
`, serverURL)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// finished returns a generator whose session already ran to completion.
func finished(t *testing.T, id string) *mock.Generator {
	t.Helper()
	gen := mock.NewGenerator(mock.GeneratorOptions{SessionID: id, Items: []string{"alice"}, LinesPerItem: 2})
	if _, err := gen.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 100 && !gen.State().IsTerminal(); i++ {
		gen.Step()
	}
	if !gen.State().IsTerminal() {
		t.Fatal("generator did not finish")
	}
	return gen
}

func TestStatusCommand(t *testing.T) {
	done := finished(t, "done0001")
	pending := mock.NewGenerator(mock.GeneratorOptions{SessionID: "wait0001"})
	env := setupCLITestEnv(t, done, pending)

	out, _, err := runCLI(t, []string{"status", "done0001", "wait0001", "nope0001"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "done0001")
	requireContains(t, out, "COMPLETED")
	requireContains(t, out, "wait0001")
	requireContains(t, out, "PENDING")
	requireContains(t, out, "invalid transfer session id")
}

func TestStatusCommandAllFailed(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"status", "nope0001"}, env.configPath)
	if err == nil {
		t.Fatal("expected error when no session could be read")
	}
}

func TestTailCommandFinishedSession(t *testing.T) {
	env := setupCLITestEnv(t, finished(t, "done0001"))

	out, _, err := runCLI(t, []string{"tail", "done0001"}, env.configPath)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	requireContains(t, out, "master.log")
	requireContains(t, out, `"completed"`)
	requireContains(t, out, "-> COMPLETED")
}

func TestTailCommandPendingSession(t *testing.T) {
	env := setupCLITestEnv(t, mock.NewGenerator(mock.GeneratorOptions{SessionID: "wait0001"}))

	out, _, err := runCLI(t, []string{"tail", "wait0001"}, env.configPath)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	requireContains(t, out, "nothing to follow")
}

func TestTailCommandBadRequested(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"tail", "x", "--requested", "explode"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestTailCommandRefusesAbort(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"tail", "x", "--requested", "abort"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "cannot abort") {
		t.Fatalf("err = %v, want abort refusal", err)
	}
}

func TestTailAction(t *testing.T) {
	tests := []struct {
		name    string
		want    transfer.Action
		wantErr bool
	}{
		{"", transfer.ActionNone, false},
		{"start", transfer.ActionStart, false},
		{"Resume", transfer.ActionResume, false},
		{"abort", transfer.ActionAbort, true},
		{"explode", transfer.ActionNone, true},
	}
	for _, tt := range tests {
		got, err := tailAction(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("tailAction(%q) err = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("tailAction(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCommandsRequireServer(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(configPath, []byte("log:\n  level: error\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, args := range [][]string{
		{"status", "abc"},
		{"tail", "abc"},
		{"relay", "abc"},
	} {
		_, _, err := runCLI(t, args, configPath)
		if err == nil || !strings.Contains(err.Error(), "server.url") {
			t.Errorf("%v: err = %v, want server.url validation error", args, err)
		}
	}
}

func TestInvalidLogLevel(t *testing.T) {
	_, _, err := runCLI(t, []string{"--log-level", "loud", "status", "abc"}, "")
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Session", "State"},
		[][]string{{"abc", "RUNNING"}, {"def"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	requireContains(t, out, "SESSION")
	requireContains(t, out, "RUNNING")
	requireContains(t, out, "def")
	if strings.Contains(out, "<nil>") {
		t.Errorf("short row rendered nil cells:\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("expected empty table for no headers")
	}
}
