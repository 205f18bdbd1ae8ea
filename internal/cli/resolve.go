package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/resolve"
	"github.com/meshula/primstack/internal/value"
)

// ResolvedProperty is one composed property with its provenance.
type ResolvedProperty struct {
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	Value    json.RawMessage `json:"value"`
	Rendered string          `json:"rendered"`
	Source   SourceInfo      `json:"source"`
}

// SourceInfo describes the winning opinion for a property.
type SourceInfo struct {
	Arc     string `json:"arc"`
	Index   int    `json:"index"`
	Author  string `json:"author,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// ResolveResult holds the resolve command output.
type ResolveResult struct {
	Entity     string             `json:"entity"`
	Type       string             `json:"type"`
	Properties []ResolvedProperty `json:"properties"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <scene-dir> <entity> [property]",
		Short: "Resolve composed properties for an entity",
		Long: `Build the scene and resolve one property, or every property the
entity's type declares, reporting the winning value and where it came from.

The source column names the arc kind that won (local, reference, payload,
inherit, specialize), the entity whose content held the opinion, and
"default" when no authored opinion exists anywhere in the composition.

Examples:
  primstack resolve ./scene /World/Hero
  primstack resolve ./scene /World/Hero stats:health
  primstack resolve ./scene /World/Hero --format json`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			property := ""
			if len(args) == 3 {
				property = args[2]
			}
			return runResolve(rootOpts, args[0], args[1], property, cmd)
		},
	}

	return cmd
}

func runResolve(opts *RootOptions, sceneDir, entity, property string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(sceneDir); os.IsNotExist(err) {
		return commandError(formatter, ErrCodeNotFound, fmt.Sprintf("scene directory not found: %s", sceneDir), nil)
	}

	scene, err := LoadScene(sceneDir)
	if err != nil {
		return commandError(formatter, errorCode(err), fmt.Sprintf("building scene: %v", err), nil)
	}
	formatter.VerboseLog("Built scene from %d CUE file(s)", scene.Files)

	id, err := value.NewPath(entity)
	if err != nil {
		return commandError(formatter, ErrCodeEntity, fmt.Sprintf("invalid entity path: %v", err), nil)
	}

	var typeName string
	verr := scene.Store.View(func(v *graph.View) error {
		name, ok := v.TypeName(id)
		if !ok {
			return &graph.UnknownEntityError{Path: id}
		}
		typeName = name
		return nil
	})
	if verr != nil {
		return commandError(formatter, errorCode(verr), verr.Error(), nil)
	}

	rt, err := scene.Registry.ResolveType(typeName)
	if err != nil {
		return commandError(formatter, errorCode(err), err.Error(), nil)
	}

	properties := rt.PropertyNames()
	if property != "" {
		if !rt.Has(property) {
			return commandError(formatter, ErrCodeSchema,
				fmt.Sprintf("type %q does not declare property %q", typeName, property), nil)
		}
		properties = []string{property}
	}

	engine := scene.Engine()
	result := ResolveResult{
		Entity:     string(id),
		Type:       typeName,
		Properties: make([]ResolvedProperty, 0, len(properties)),
	}
	for _, name := range properties {
		res, err := engine.Resolve(id, name)
		if err != nil {
			return commandError(formatter, errorCode(err),
				fmt.Sprintf("resolving %s %s: %v", id, name, err), nil)
		}
		rp, err := resolvedProperty(name, res)
		if err != nil {
			return commandError(formatter, ErrCodeGeneric, err.Error(), nil)
		}
		result.Properties = append(result.Properties, rp)
	}

	return outputResolveResult(formatter, result)
}

func resolvedProperty(name string, res resolve.Result) (ResolvedProperty, error) {
	doc, err := value.Canonical(res.Value)
	if err != nil {
		return ResolvedProperty{}, fmt.Errorf("encoding %s: %w", name, err)
	}
	return ResolvedProperty{
		Name:     name,
		Kind:     res.Value.Kind().String(),
		Value:    json.RawMessage(doc),
		Rendered: value.Render(res.Value),
		Source: SourceInfo{
			Arc:     res.Source.Arc.String(),
			Index:   res.Source.Index,
			Author:  string(res.Source.Author),
			Default: res.Source.Default,
		},
	}, nil
}

// sourceString renders provenance for text output.
func sourceString(s SourceInfo) string {
	if s.Default {
		return "default"
	}
	return fmt.Sprintf("%s %s", s.Arc, s.Author)
}

func outputResolveResult(formatter *OutputFormatter, result ResolveResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "%s (%s)\n", result.Entity, result.Type)
	for _, p := range result.Properties {
		fmt.Fprintf(formatter.Writer, "  %s = %s (%s)\n", p.Name, p.Rendered, sourceString(p.Source))
	}
	return nil
}

// commandError reports a command-level problem and returns exit code 2.
func commandError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}
