package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meshula/primstack/internal/flatten"
	"github.com/meshula/primstack/internal/value"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Values bool // dump every baked value
}

// ColumnInfo is one property directory entry.
type ColumnInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// InspectResult holds the decoded table summary.
type InspectResult struct {
	File     string                                `json:"file"`
	Format   uint16                                `json:"format"`
	Tier     string                                `json:"tier"`
	BuildID  string                                `json:"build_id"`
	Records  int                                   `json:"records"`
	Columns  []ColumnInfo                          `json:"columns"`
	Entities []string                              `json:"entities"`
	Values   map[string]map[string]json.RawMessage `json:"values,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <table.pstb>",
		Short: "Decode a baked table file",
		Long: `Decode a binary table file and print its header, property directory,
and record list.

With --values, every present value is printed per record. Absent slots
(properties an entity's type does not carry at this tier) are omitted.

Examples:
  primstack inspect ./baked/near.pstb
  primstack inspect ./baked/near.pstb --values
  primstack inspect ./baked/near.pstb --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Values, "values", false, "print every baked value")

	return cmd
}

func runInspect(opts *InspectOptions, file string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	f, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			return commandError(formatter, ErrCodeNotFound, fmt.Sprintf("table file not found: %s", file), nil)
		}
		return commandError(formatter, ErrCodeGeneric, fmt.Sprintf("opening table: %v", err), nil)
	}
	defer f.Close()

	table, err := flatten.DecodeTable(f)
	if err != nil {
		return commandError(formatter, errorCode(err), fmt.Sprintf("decoding table: %v", err), nil)
	}

	result := InspectResult{
		File:    file,
		Format:  flatten.FormatVersion,
		Tier:    table.Tier().String(),
		BuildID: table.BuildID().String(),
		Records: table.EntityCount(),
	}
	for _, name := range table.Properties() {
		kind, _ := table.Kind(name)
		result.Columns = append(result.Columns, ColumnInfo{Name: name, Kind: kind.String()})
	}
	for _, id := range table.Entities() {
		result.Entities = append(result.Entities, string(id))
	}

	if opts.Values {
		result.Values = make(map[string]map[string]json.RawMessage, len(result.Entities))
		for _, id := range table.Entities() {
			row := make(map[string]json.RawMessage)
			for _, name := range table.Properties() {
				v, ok := table.Lookup(id, name)
				if !ok {
					continue
				}
				doc, err := value.Canonical(v)
				if err != nil {
					return commandError(formatter, ErrCodeGeneric,
						fmt.Sprintf("encoding %s %s: %v", id, name, err), nil)
				}
				row[name] = json.RawMessage(doc)
			}
			result.Values[string(id)] = row
		}
	}

	return outputInspectResult(formatter, result, table)
}

func outputInspectResult(formatter *OutputFormatter, result InspectResult, table *flatten.Table) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "Table %s\n", filepath.Base(result.File))
	fmt.Fprintf(formatter.Writer, "  format:  %d\n", result.Format)
	fmt.Fprintf(formatter.Writer, "  tier:    %s\n", result.Tier)
	fmt.Fprintf(formatter.Writer, "  build:   %s\n", result.BuildID)
	fmt.Fprintf(formatter.Writer, "  records: %d\n", result.Records)
	fmt.Fprintln(formatter.Writer)

	if len(result.Columns) > 0 {
		width := 0
		for _, c := range result.Columns {
			if len(c.Name) > width {
				width = len(c.Name)
			}
		}
		fmt.Fprintln(formatter.Writer, "Columns:")
		for _, c := range result.Columns {
			fmt.Fprintf(formatter.Writer, "  %-*s  %s\n", width, c.Name, c.Kind)
		}
		fmt.Fprintln(formatter.Writer)
	}

	fmt.Fprintln(formatter.Writer, "Records:")
	for _, id := range table.Entities() {
		fmt.Fprintf(formatter.Writer, "  %s\n", id)
		if result.Values == nil {
			continue
		}
		for _, name := range table.Properties() {
			v, ok := table.Lookup(id, name)
			if !ok {
				continue
			}
			fmt.Fprintf(formatter.Writer, "    %s = %s\n", name, value.Render(v))
		}
	}
	return nil
}
