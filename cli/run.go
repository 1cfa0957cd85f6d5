package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockflow/blockflow"
	"github.com/blockflow/blockflow/engine"
	"github.com/blockflow/blockflow/loader"
	"github.com/blockflow/blockflow/registry"
	"github.com/blockflow/blockflow/runlog"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a graph file locally",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().String("node", "", "Start from this node instead of the start marker")
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().String("log", "", "Write the run log to this file")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout")
	cmd.Flags().String("plugins", "", "Directory of plugin manifests to register")
	cmd.Flags().String("project-dir", ".", "Project directory exposed to plugin handlers")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	nodeID, _ := cmd.Flags().GetString("node")
	format, _ := cmd.Flags().GetString("format")
	logPath, _ := cmd.Flags().GetString("log")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	projectDir, _ := cmd.Flags().GetString("project-dir")

	reg, err := buildRegistry(cmd)
	if err != nil {
		return err
	}

	g, diags, err := loadGraphForRun(cmd, filePath, reg)
	if err != nil {
		return err
	}
	for _, d := range diags {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning [%s]: %s\n", d.Code, d.Message)
	}

	var log *runlog.Logger
	if logPath != "" {
		log, err = runlog.Open(logPath)
		if err != nil {
			return exitError(exitRuntime, "opening run log: %v", err)
		}
		defer func() {
			_ = log.Close()
		}()
	}

	eng := engine.New(engine.Config{
		Plugins:    reg,
		Vars:       blockflow.NewMemVars(),
		Log:        log,
		ProjectDir: projectDir,
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	run, err := eng.Start(ctx, g, engine.StartOptions{
		NodeID:        nodeID,
		FromBeginning: nodeID == "",
	})
	if err != nil {
		return exitError(exitRuntime, "starting run: %v", err)
	}

	select {
	case <-run.Done():
	case <-ctx.Done():
		eng.HardStop()
		<-run.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return exitError(exitTimeout, "execution timed out after %s", timeout)
		}
	}

	outcome := run.Wait()
	if err := writeOutcome(cmd.OutOrStdout(), outcome, format); err != nil {
		return err
	}

	switch outcome.State {
	case engine.StateFinished:
		return nil
	default:
		return exitError(exitRuntime, "run ended in state %s", outcome.State)
	}
}

func loadGraphForRun(cmd *cobra.Command, filePath string, reg *registry.Registry) (*blockflow.Graph, []loader.Diagnostic, error) {
	g, diags, err := loader.LoadGraph(filePath, reg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		var derr *loader.DiagnosticError
		if errors.As(err, &derr) {
			printDiagnosticsText(cmd.ErrOrStderr(), derr.Diagnostics)
			return nil, nil, exitError(exitValidation, "validation failed")
		}
		return nil, nil, exitError(exitValidation, "%v", err)
	}
	return g, diags, nil
}

// writeOutcome reports the settled run in the requested format.
func writeOutcome(w io.Writer, outcome engine.RunOutcome, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"run_id": outcome.RunID,
			"state":  outcome.State,
			"result": outcome.Final,
		})
	case "text":
		fmt.Fprintf(w, "Run %s ended in state %s\n", outcome.RunID, outcome.State)
		if outcome.Final != nil {
			fmt.Fprintf(w, "Last result: %s", outcome.Final.Status)
			if outcome.Final.Code != "" {
				fmt.Fprintf(w, " [%s]", outcome.Final.Code)
			}
			if outcome.Final.Message != "" {
				fmt.Fprintf(w, " %s", outcome.Final.Message)
			}
			fmt.Fprintln(w)
		}
		if outcome.Err != nil {
			fmt.Fprintf(w, "Error: %v\n", outcome.Err)
		}
		return nil
	default:
		return exitError(exitValidation, "unknown format %q (use text or json)", format)
	}
}
