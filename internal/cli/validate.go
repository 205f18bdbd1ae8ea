package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshula/primstack/internal/compiler"
	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/schema"
)

// ValidationIssue is one problem found in a scene document.
type ValidationIssue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Files    int               `json:"files"`
	Types    int               `json:"types"`
	Entities int               `json:"entities"`
	Issues   []ValidationIssue `json:"issues,omitempty"`
	Cycles   []compiler.Cycle  `json:"cycles,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scene-dir>",
		Short: "Validate a scene document without building runtime state",
		Long: `Validate a CUE scene document: schema registrations, entity
declarations, opinion kinds, and arc structure.

Reports every problem in one run, including every composition cycle in the
document, by applying the compiled document to a scratch store.

Exit codes:
  0 - Scene valid
  1 - Validation failed (schema conflicts, bad opinions, cycles)
  2 - Command error (directory not found, no CUE files)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, sceneDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(sceneDir); os.IsNotExist(err) {
		msg := fmt.Sprintf("scene directory not found: %s", sceneDir)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", ErrCodeNotFound, msg))
	}

	doc, err := compiler.Load(sceneDir)
	if err != nil {
		return outputValidationIssues(formatter, ValidationResult{Issues: issuesFromError(err)})
	}
	formatter.VerboseLog("Loaded %d CUE file(s) from %s", doc.Files, sceneDir)

	compiled, err := compiler.Compile(doc)
	if err != nil {
		return outputValidationIssues(formatter, ValidationResult{
			Files:  doc.Files,
			Issues: issuesFromError(err),
		})
	}
	formatter.VerboseLog("Compiled %d type(s), %d entity(ies)", len(compiled.Types), len(compiled.Entities))

	result := ValidationResult{
		Files:    doc.Files,
		Types:    len(compiled.Types),
		Entities: len(compiled.Entities),
	}

	// Whole-document cycle analysis runs before any store mutation so every
	// cycle is reported, not just the first one the store would reject.
	if cycles := compiler.AnalyzeCycles(compiled); len(cycles) > 0 {
		result.Cycles = cycles
		for _, c := range cycles {
			result.Issues = append(result.Issues, ValidationIssue{
				Field:   "scene.entities",
				Message: c.Message,
				Code:    ErrCodeCycle,
			})
		}
		return outputValidationIssues(formatter, result)
	}

	// Dry-run apply against a scratch store to surface the validation the
	// mutation API itself performs.
	reg := schema.NewRegistry()
	scratch := graph.NewStore(reg)
	if err := compiler.Apply(compiled, reg, scratch); err != nil {
		result.Issues = append(result.Issues, issuesFromError(err)...)
		return outputValidationIssues(formatter, result)
	}

	result.Valid = true
	return outputValidateSuccess(formatter, result)
}

// issuesFromError flattens compile errors, including aggregated lists, into
// validation issues.
func issuesFromError(err error) []ValidationIssue {
	var list compiler.ErrorList
	if errors.As(err, &list) {
		issues := make([]ValidationIssue, 0, len(list))
		for _, e := range list {
			issues = append(issues, issueFromCompileError(e))
		}
		return issues
	}
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		return []ValidationIssue{issueFromCompileError(ce)}
	}
	return []ValidationIssue{{Message: err.Error(), Code: errorCode(err)}}
}

func issueFromCompileError(e *compiler.CompileError) ValidationIssue {
	issue := ValidationIssue{
		Field:   e.Field,
		Message: e.Message,
		Code:    ErrCodeCompile,
	}
	if e.Pos.IsValid() {
		issue.File = e.Pos.Filename()
		issue.Line = e.Pos.Line()
	}
	return issue
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Scene valid: %d type(s), %d entity(ies)\n", result.Types, result.Entities)
	return nil
}

// outputValidationIssues outputs validation failures.
func outputValidationIssues(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    result.Issues[0].Code,
				Message: result.Issues[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d issue(s)", len(result.Issues)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range result.Issues {
		if issue.File != "" {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", issue.File, issue.Line)
		}
		if issue.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", issue.Code, issue.Field, issue.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
		}
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d issue(s)", len(result.Issues)))
}
