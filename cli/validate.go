package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blockflow/blockflow/loader"
	"github.com/blockflow/blockflow/registry"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a graph file without executing",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")
	cmd.Flags().String("plugins", "", "Directory of plugin manifests to register")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	out := cmd.OutOrStdout()

	reg, err := buildRegistry(cmd)
	if err != nil {
		return err
	}

	_, diags, err := loader.LoadGraph(filePath, reg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		// A DiagnosticError means diags already carries the findings;
		// anything else is a read or parse failure.
		if !errors.As(err, new(*loader.DiagnosticError)) {
			return exitError(exitValidation, "%v", err)
		}
	}

	printDiagnostics(out, diags, format)

	hasWarnings := len(diags) > 0 && !loader.HasErrors(diags)
	if loader.HasErrors(diags) || (strict && hasWarnings) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

// buildRegistry assembles the plugin registry for commands that load
// graphs: builtins plus any manifests found in the --plugins directory.
func buildRegistry(cmd *cobra.Command) (*registry.Registry, error) {
	reg := registry.NewWithBuiltins()

	dir, _ := cmd.Flags().GetString("plugins")
	if dir == "" {
		return reg, nil
	}

	descs, errs := registry.DiscoverManifests(dir)
	for _, err := range errs {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	for _, id := range reg.ApplyManifests(descs) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: manifest %q has no registered handler\n", id)
	}
	return reg, nil
}

// printDiagnostics writes diagnostics in the requested format, followed by
// a summary line for text format.
func printDiagnostics(w io.Writer, diags []loader.Diagnostic, format string) {
	if format == "json" {
		if diags == nil {
			diags = []loader.Diagnostic{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(diags)
		return
	}
	printDiagnosticsText(w, diags)
}

func printDiagnosticsText(w io.Writer, diags []loader.Diagnostic) {
	var nErrs, nWarns int
	for _, d := range diags {
		sev := strings.ToUpper(string(d.Severity))
		if d.NodeID != "" {
			fmt.Fprintf(w, "%s [%s]: %s (node %s)\n", sev, d.Code, d.Message, d.NodeID)
		} else {
			fmt.Fprintf(w, "%s [%s]: %s\n", sev, d.Code, d.Message)
		}
		if d.Severity == loader.SeverityError {
			nErrs++
		} else {
			nWarns++
		}
	}

	switch {
	case nErrs == 0 && nWarns == 0:
		fmt.Fprintln(w, "Valid!")
	case nErrs == 0:
		fmt.Fprintf(w, "\nValid! (%d %s)\n", nWarns, pluralize("warning", nWarns))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n",
			nErrs, pluralize("error", nErrs),
			nWarns, pluralize("warning", nWarns))
	}
}

func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
