package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshula/primstack/internal/compiler"
	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/journal"
	"github.com/meshula/primstack/internal/resolve"
	"github.com/meshula/primstack/internal/schema"
	"github.com/meshula/primstack/internal/value"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Journal string
}

// ReplayMismatch is one divergence between two replays of the same journal.
type ReplayMismatch struct {
	Entity   string `json:"entity"`
	Property string `json:"property"`
	First    string `json:"first"`
	Second   string `json:"second"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Edits         int              `json:"edits"`
	Entities      int              `json:"entities"`
	Deterministic bool             `json:"deterministic"`
	Mismatches    []ReplayMismatch `json:"mismatches,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scene-dir>",
		Short: "Rebuild a store from the journal and verify determinism",
		Long: `Rebuild composition state from the edit journal and verify that
replay is deterministic.

The scene directory supplies only the schema; every entity, arc, and
opinion comes from the recorded edits. The journal is replayed twice into
two independent stores, and every property of every entity is resolved in
both; any difference in value or provenance fails the run.

Exit codes:
  0 - Replay deterministic
  1 - Replays diverged
  2 - Command error (journal not found, edit refused to apply)

Examples:
  primstack replay ./scene --journal ./edits.db
  primstack replay ./scene --journal ./edits.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("journal")

	return cmd
}

func runReplay(opts *ReplayOptions, sceneDir string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(opts.Journal); os.IsNotExist(err) {
		return commandError(formatter, ErrCodeNotFound, fmt.Sprintf("journal not found: %s", opts.Journal), nil)
	}
	if _, err := os.Stat(sceneDir); os.IsNotExist(err) {
		return commandError(formatter, ErrCodeNotFound, fmt.Sprintf("scene directory not found: %s", sceneDir), nil)
	}

	doc, err := compiler.Load(sceneDir)
	if err != nil {
		return commandError(formatter, errorCode(err), fmt.Sprintf("loading schema: %v", err), nil)
	}
	compiled, err := compiler.Compile(doc)
	if err != nil {
		return commandError(formatter, errorCode(err), fmt.Sprintf("compiling schema: %v", err), nil)
	}

	first, edits, err := replayOnce(ctx, opts.Journal, compiled)
	if err != nil {
		return commandError(formatter, errorCode(err), fmt.Sprintf("first replay: %v", err), nil)
	}
	formatter.VerboseLog("Replayed %d edit(s)", edits)

	second, _, err := replayOnce(ctx, opts.Journal, compiled)
	if err != nil {
		return commandError(formatter, errorCode(err), fmt.Sprintf("second replay: %v", err), nil)
	}

	result := ReplayResult{
		Edits:    edits,
		Entities: len(first.Paths()),
	}
	result.Mismatches, err = compareStores(first, second)
	if err != nil {
		return commandError(formatter, errorCode(err), fmt.Sprintf("comparing replays: %v", err), nil)
	}
	result.Deterministic = len(result.Mismatches) == 0

	return outputReplayResult(formatter, result)
}

// replayOnce rebuilds one store from the journal: schema from the compiled
// document, everything else from the recorded edits.
func replayOnce(ctx context.Context, path string, compiled *compiler.Compiled) (*graph.Store, int, error) {
	reg := schema.NewRegistry()
	if err := compiler.ApplySchema(compiled, reg); err != nil {
		return nil, 0, err
	}
	store := graph.NewStore(reg)

	j, err := journal.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer j.Close()

	n, err := j.Replay(ctx, store)
	if err != nil {
		return nil, n, err
	}
	return store, n, nil
}

// compareStores resolves every declared property of every entity in both
// stores and reports value or provenance differences.
func compareStores(first, second *graph.Store) ([]ReplayMismatch, error) {
	engFirst := resolve.New(first, first.Registry())
	engSecond := resolve.New(second, second.Registry())

	var mismatches []ReplayMismatch
	for _, id := range first.Paths() {
		var typeName string
		err := first.View(func(v *graph.View) error {
			typeName, _ = v.TypeName(id)
			return nil
		})
		if err != nil {
			return nil, err
		}
		rt, err := first.Registry().ResolveType(typeName)
		if err != nil {
			return nil, err
		}
		for _, prop := range rt.PropertyNames() {
			a, err := engFirst.Resolve(id, prop)
			if err != nil {
				return nil, err
			}
			b, err := engSecond.Resolve(id, prop)
			if err != nil {
				mismatches = append(mismatches, ReplayMismatch{
					Entity: string(id), Property: prop,
					First:  describeResolution(a),
					Second: fmt.Sprintf("error: %v", err),
				})
				continue
			}
			if !value.Equal(a.Value, b.Value) || a.Source != b.Source {
				mismatches = append(mismatches, ReplayMismatch{
					Entity: string(id), Property: prop,
					First:  describeResolution(a),
					Second: describeResolution(b),
				})
			}
		}
	}
	return mismatches, nil
}

func describeResolution(r resolve.Result) string {
	src := "default"
	if !r.Source.Default {
		src = fmt.Sprintf("%s %s", r.Source.Arc, r.Source.Author)
	}
	return fmt.Sprintf("%s (%s)", value.Render(r.Value), src)
}

func outputReplayResult(formatter *OutputFormatter, result ReplayResult) error {
	if formatter.Format == "json" {
		if result.Deterministic {
			return formatter.Success(result)
		}
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    ErrCodeGeneric,
				Message: "replay determinism verification failed",
			},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("replay diverged on %d property(ies)", len(result.Mismatches)))
	}

	if result.Deterministic {
		fmt.Fprintf(formatter.Writer, "✓ Replayed %d edit(s) into %d entity(ies), deterministic\n",
			result.Edits, result.Entities)
		return nil
	}

	fmt.Fprintf(formatter.Writer, "✗ Replay diverged\n\n")
	for _, m := range result.Mismatches {
		fmt.Fprintf(formatter.Writer, "  %s %s:\n    first:  %s\n    second: %s\n",
			m.Entity, m.Property, m.First, m.Second)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("replay diverged on %d property(ies)", len(result.Mismatches)))
}
