package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// newTestRoot creates a fresh cobra root command wired to all subcommands.
// Each test gets an isolated command tree to avoid shared flag state.
func newTestRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "blockflow",
		SilenceUsage: true,
	}
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewLogsCmd())
	return root
}

// executeCommand runs a cobra command with the given args and captures
// stdout and stderr.
func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

// writeTestFile creates a temporary file with the given content.
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validGraphJSON = `{
  "name": "demo",
  "nodes": [
    {"id": "start", "plugin_id": "__start__", "title": "Start"},
    {"id": "echo1", "plugin_id": "echo", "title": "Echo", "params": {"message": "hi"}}
  ],
  "edges": [
    {"source": "start", "target": "echo1", "branch": "ok"}
  ]
}`

const unknownPluginGraphJSON = `{
  "nodes": [
    {"id": "start", "plugin_id": "__start__"},
    {"id": "n1", "plugin_id": "does_not_exist"}
  ],
  "edges": [{"source": "start", "target": "n1", "branch": "ok"}]
}`

const invalidVarRefGraphJSON = `{
  "nodes": [
    {"id": "start", "plugin_id": "__start__"},
    {"id": "n1", "plugin_id": "echo", "input_var_ref": "bogus:1"}
  ],
  "edges": [{"source": "start", "target": "n1", "branch": "ok"}]
}`

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return exitSuccess
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T: %v", err, err)
	}
	return exitErr.Code
}

func TestValidateValidGraph(t *testing.T) {
	path := writeTestFile(t, "demo.json", validGraphJSON)

	stdout, _, err := executeCommand(newTestRoot(), "validate", path)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(stdout, "Valid!") {
		t.Errorf("stdout = %q, want Valid!", stdout)
	}
}

func TestValidateWarningsPass(t *testing.T) {
	path := writeTestFile(t, "warned.json", unknownPluginGraphJSON)

	stdout, _, err := executeCommand(newTestRoot(), "validate", path)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(stdout, "WARNING") {
		t.Errorf("stdout = %q, want an unknown-plugin warning", stdout)
	}
	if !strings.Contains(stdout, "Valid!") {
		t.Errorf("stdout = %q, warnings alone must not fail validation", stdout)
	}
}

func TestValidateStrictFailsOnWarnings(t *testing.T) {
	path := writeTestFile(t, "warned.json", unknownPluginGraphJSON)

	_, _, err := executeCommand(newTestRoot(), "validate", "--strict", path)
	if got := exitCode(t, err); got != exitValidation {
		t.Errorf("exit code = %d, want %d", got, exitValidation)
	}
}

func TestValidateErrorsFail(t *testing.T) {
	path := writeTestFile(t, "bad.json", invalidVarRefGraphJSON)

	stdout, _, err := executeCommand(newTestRoot(), "validate", path)
	if got := exitCode(t, err); got != exitValidation {
		t.Errorf("exit code = %d, want %d", got, exitValidation)
	}
	if !strings.Contains(stdout, "ERROR") {
		t.Errorf("stdout = %q, want an invalid-var-ref error", stdout)
	}
}

func TestValidateJSONFormat(t *testing.T) {
	path := writeTestFile(t, "warned.json", unknownPluginGraphJSON)

	stdout, _, err := executeCommand(newTestRoot(), "validate", "--format", "json", path)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(stdout), "[") {
		t.Errorf("stdout = %q, want a JSON array", stdout)
	}
	if !strings.Contains(stdout, "unknown_plugin") {
		t.Errorf("stdout = %q, want the unknown_plugin code", stdout)
	}
}

func TestValidateMissingFile(t *testing.T) {
	_, _, err := executeCommand(newTestRoot(), "validate", filepath.Join(t.TempDir(), "absent.json"))
	if got := exitCode(t, err); got != exitFileNotFound {
		t.Errorf("exit code = %d, want %d", got, exitFileNotFound)
	}
}

func TestRunExecutesGraph(t *testing.T) {
	path := writeTestFile(t, "demo.json", validGraphJSON)

	stdout, _, err := executeCommand(newTestRoot(), "run", path)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(stdout, "Finished") {
		t.Errorf("stdout = %q, want a Finished state", stdout)
	}
}

func TestRunJSONOutput(t *testing.T) {
	path := writeTestFile(t, "demo.json", validGraphJSON)

	stdout, _, err := executeCommand(newTestRoot(), "run", "--format", "json", path)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(stdout, `"state": "Finished"`) {
		t.Errorf("stdout = %q, want state Finished in JSON", stdout)
	}
}

func TestRunFailedSimulationReportsFail(t *testing.T) {
	failGraph := `{
	  "nodes": [
	    {"id": "start", "plugin_id": "__start__"},
	    {"id": "f1", "plugin_id": "echo", "params": {"fail_simulation": true}}
	  ],
	  "edges": [{"source": "start", "target": "f1", "branch": "ok"}]
	}`
	path := writeTestFile(t, "fail.json", failGraph)

	// A FAIL result without a fail edge still finishes the run; the
	// outcome carries the failure.
	stdout, _, err := executeCommand(newTestRoot(), "run", path)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(stdout, "FAIL") || !strings.Contains(stdout, "SIMULATED_FAILURE") {
		t.Errorf("stdout = %q, want the simulated failure result", stdout)
	}
}

func TestRunWritesLogFile(t *testing.T) {
	path := writeTestFile(t, "demo.json", validGraphJSON)
	logPath := filepath.Join(t.TempDir(), "run.log")

	if _, _, err := executeCommand(newTestRoot(), "run", "--log", logPath, path); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading run log: %v", err)
	}
	if !strings.Contains(string(data), "Execution started") {
		t.Errorf("run log missing start entry: %q", data)
	}
}

func TestRunFromSelectedNode(t *testing.T) {
	path := writeTestFile(t, "demo.json", validGraphJSON)

	stdout, _, err := executeCommand(newTestRoot(), "run", "--node", "echo1", path)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(stdout, "Finished") {
		t.Errorf("stdout = %q, want a Finished state", stdout)
	}
}

func TestLogsTail(t *testing.T) {
	dir := t.TempDir()
	graphPath := filepath.Join(dir, "demo.json")
	if err := os.WriteFile(graphPath, []byte(validGraphJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	logPath := filepath.Join(dir, "run.log")
	if _, _, err := executeCommand(newTestRoot(), "run", "--log", logPath, graphPath); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	stdout, _, err := executeCommand(newTestRoot(), "logs", "--project-dir", dir, "-n", "5")
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if strings.TrimSpace(stdout) == "" {
		t.Error("logs printed nothing for a project with a run log")
	}

	_, _, err = executeCommand(newTestRoot(), "logs", "--project-dir", dir, "--level", "NOISE")
	if got := exitCode(t, err); got != exitValidation {
		t.Errorf("bad level exit code = %d, want %d", got, exitValidation)
	}
}

func TestLogsEmptyProject(t *testing.T) {
	stdout, _, err := executeCommand(newTestRoot(), "logs", "--project-dir", t.TempDir())
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if strings.TrimSpace(stdout) != "" {
		t.Errorf("stdout = %q, want empty output for a fresh project", stdout)
	}
}
