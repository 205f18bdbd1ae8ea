package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds the global flags shared by every subcommand.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

var validFormats = []string{"text", "json"}

func isValidFormat(format string) bool {
	return slices.Contains(validFormats, format)
}

// NewRootCommand builds the primstack command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "primstack",
		Short: "primstack - composed-property resolution for scene graphs",
		Long:  "Tooling for scene documents: validation, resolution, tier baking, table inspection, and journal replay.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		NewValidateCommand(opts),
		NewResolveCommand(opts),
		NewBakeCommand(opts),
		NewInspectCommand(opts),
		NewReplayCommand(opts),
		NewTestCommand(opts),
	)

	return cmd
}
