package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blockflow/blockflow/runlog"
)

// NewLogsCmd creates the "logs" subcommand.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the tail of the project run log",
		Args:  cobra.NoArgs,
		RunE:  runLogs,
	}

	cmd.Flags().IntP("lines", "n", 100, "Number of lines to print")
	cmd.Flags().String("level", "", "Only lines at this level: DEBUG | INFO | WARN | ERROR")
	cmd.Flags().String("project-dir", ".", "Project directory containing run.log")

	return cmd
}

func runLogs(cmd *cobra.Command, _ []string) error {
	n, _ := cmd.Flags().GetInt("lines")
	level, _ := cmd.Flags().GetString("level")
	projectDir, _ := cmd.Flags().GetString("project-dir")

	if n < 0 {
		return exitError(exitValidation, "lines must be non-negative")
	}
	level = strings.ToUpper(strings.TrimSpace(level))
	switch level {
	case "", runlog.LevelDebug, runlog.LevelInfo, runlog.LevelWarn, runlog.LevelError:
	default:
		return exitError(exitValidation, "unknown log level %q", level)
	}

	// TailFile treats a missing log as empty, so a fresh project prints
	// nothing rather than failing.
	path := filepath.Join(projectDir, "run.log")
	lines, err := runlog.TailFile(path, n, level)
	if err != nil {
		return exitError(exitRuntime, "reading run log: %v", err)
	}

	for _, line := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
