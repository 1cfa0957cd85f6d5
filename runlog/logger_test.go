package runlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	l.now = func() time.Time {
		return time.Date(2026, 2, 10, 9, 30, 0, 120e6, time.UTC)
	}
	return l, path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestLogger_Write_LineFormat(t *testing.T) {
	l, path := openTestLogger(t)

	l.Info("Node started: Echo", Tags{RunID: "run_20260210_093000", NodeID: "n1", NodeTitle: "Echo"})

	lines := readLines(t, path)
	want := `2026-02-10 09:30:00.120 | run=run_20260210_093000 | node=n1 | title="Echo" | lvl=INFO | msg=Node started: Echo`
	if lines[0] != want {
		t.Errorf("line = %q\nwant   %q", lines[0], want)
	}
}

func TestLogger_Write_DashPlaceholders(t *testing.T) {
	l, path := openTestLogger(t)

	l.Warn("engine warning", Tags{})

	lines := readLines(t, path)
	if !strings.Contains(lines[0], `run=- | node=- | title="-" | lvl=WARN`) {
		t.Errorf("line = %q, want dash placeholders for missing tags", lines[0])
	}
}

func TestLogger_Write_Details(t *testing.T) {
	l, path := openTestLogger(t)

	l.Error("node failed", Tags{RunID: "r", Details: map[string]any{"code": "SIMULATED_FAILURE"}})

	lines := readLines(t, path)
	if !strings.HasSuffix(lines[0], ` | details={"code":"SIMULATED_FAILURE"}`) {
		t.Errorf("line = %q, want trailing details json", lines[0])
	}
}

func TestLogger_Write_EscapesNewlines(t *testing.T) {
	l, path := openTestLogger(t)

	l.Info("first\nsecond\rthird", Tags{})

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("got %d physical lines, want 1", len(lines))
	}
	if !strings.Contains(lines[0], `msg=first\nsecond\rthird`) {
		t.Errorf("line = %q", lines[0])
	}
}

func TestLogger_WriteAfterCloseIsSafe(t *testing.T) {
	l, _ := openTestLogger(t)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	l.Info("dropped", Tags{})
	if err := l.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestTailFile(t *testing.T) {
	l, path := openTestLogger(t)
	for i := 0; i < 5; i++ {
		l.Info("info line", Tags{})
	}
	l.Error("error one", Tags{})
	l.Error("error two", Tags{})

	t.Run("last n", func(t *testing.T) {
		lines, err := TailFile(path, 3, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(lines) != 3 {
			t.Fatalf("got %d lines, want 3", len(lines))
		}
		if !strings.Contains(lines[2], "error two") {
			t.Errorf("last line = %q", lines[2])
		}
	})

	t.Run("level filter", func(t *testing.T) {
		lines, err := TailFile(path, 10, LevelError)
		if err != nil {
			t.Fatal(err)
		}
		if len(lines) != 2 {
			t.Fatalf("got %d ERROR lines, want 2", len(lines))
		}
	})

	t.Run("zero n returns all", func(t *testing.T) {
		lines, err := TailFile(path, 0, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(lines) != 7 {
			t.Fatalf("got %d lines, want 7", len(lines))
		}
	})

	t.Run("missing file", func(t *testing.T) {
		lines, err := TailFile(filepath.Join(t.TempDir(), "absent.log"), 5, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(lines) != 0 {
			t.Errorf("got %d lines from missing file, want 0", len(lines))
		}
	})
}

func TestLogger_TailUsesOwnPath(t *testing.T) {
	l, _ := openTestLogger(t)
	l.Info("one", Tags{})

	lines, err := l.Tail(10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "msg=one") {
		t.Errorf("Tail() = %v", lines)
	}
}
