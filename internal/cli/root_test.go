package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"run", "baseline", "history", "patterns",
		"analytics", "config", "db", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestAnalyticsSubcommands(t *testing.T) {
	subcmds := []string{"durations", "rates", "flaky", "throughput", "run-detail"}
	for _, sub := range subcmds {
		out, err := executeCommand("analytics", sub, "--help")
		if err != nil {
			t.Errorf("analytics %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("analytics %s --help produced no output", sub)
		}
	}
}

func TestBaselineSubcommands(t *testing.T) {
	subcmds := []string{"show", "create", "reset"}
	for _, sub := range subcmds {
		out, err := executeCommand("baseline", sub, "--help")
		if err != nil {
			t.Errorf("baseline %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("baseline %s --help produced no output", sub)
		}
	}
}

func TestHistorySubcommands(t *testing.T) {
	subcmds := []string{"list", "show", "verify"}
	for _, sub := range subcmds {
		out, err := executeCommand("history", sub, "--help")
		if err != nil {
			t.Errorf("history %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("history %s --help produced no output", sub)
		}
	}
}

func TestConfigValidateCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yaml")
	content := `
vigil:
  target: app.test
  url: https://app.test
  journeys:
    - id: login
      steps:
        - id: open
          type: navigate
          url: /login
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := executeCommand("config", "validate", "--file", path)
	if err != nil {
		t.Fatalf("config validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("expected validity confirmation, got: %s", out)
	}

	t.Cleanup(func() { configFile = "" })
}

func TestConfigValidateRejectsBrokenConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yaml")
	content := `
vigil:
  target: app.test
  journeys:
    - id: login
      steps:
        - id: open
          type: hover
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := executeCommand("config", "validate", "--file", path)
	if err == nil {
		t.Fatalf("expected validation failure, got output: %s", out)
	}
	if !strings.Contains(out, "vigil.url") {
		t.Errorf("expected missing-url error in output, got: %s", out)
	}

	t.Cleanup(func() { configFile = "" })
}

func TestExitErrorMessage(t *testing.T) {
	err := &ExitError{Code: 2}
	if !strings.Contains(err.Error(), "2") {
		t.Errorf("ExitError message should carry the code, got: %s", err.Error())
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}
