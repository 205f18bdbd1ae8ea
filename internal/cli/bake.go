package cli

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meshula/primstack/internal/flatten"
	"github.com/meshula/primstack/internal/journal"
	"github.com/meshula/primstack/internal/lod"
)

// BakeOptions holds flags for the bake command.
type BakeOptions struct {
	*RootOptions
	Out     string   // output directory
	Tiers   []string // tiers to bake; empty means all
	Journal string   // optional journal database for bake manifests
}

// BakedTable summarizes one written table file.
type BakedTable struct {
	Tier       string `json:"tier"`
	File       string `json:"file"`
	BuildID    string `json:"build_id"`
	Records    int    `json:"records"`
	Properties int    `json:"properties"`
	SHA256     string `json:"sha256"`
}

// BakeResult holds the overall bake output.
type BakeResult struct {
	Entities int          `json:"entities"`
	Tables   []BakedTable `json:"tables"`
	OutDir   string       `json:"out_dir"`
}

// NewBakeCommand creates the bake command.
func NewBakeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BakeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bake <scene-dir>",
		Short: "Flatten a scene into binary tier tables",
		Long: `Build the scene, resolve every entity at each requested tier, and
write one binary table file per tier to the output directory.

Each tier bakes only the properties its LOD policy enables; the scene's lod
block supplies the policy, with an everything-enabled default when absent.
Table files are named <tier>.pstb and carry a generation snapshot, so a
runtime can detect staleness against a live store.

With --journal, a bake manifest row (build ID, tier, record count, content
hash) is recorded per table.

Examples:
  primstack bake ./scene --out ./baked
  primstack bake ./scene --out ./baked --tier near --tier mid
  primstack bake ./scene --out ./baked --journal ./edits.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBake(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output directory (required)")
	_ = cmd.MarkFlagRequired("out")
	cmd.Flags().StringSliceVar(&opts.Tiers, "tier", nil, "tier to bake (repeatable; default all)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record bake manifests in this journal database")

	return cmd
}

func runBake(opts *BakeOptions, sceneDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(sceneDir); os.IsNotExist(err) {
		return commandError(formatter, ErrCodeNotFound, fmt.Sprintf("scene directory not found: %s", sceneDir), nil)
	}

	tiers, err := bakeTiers(opts.Tiers)
	if err != nil {
		return commandError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	scene, err := LoadScene(sceneDir)
	if err != nil {
		return commandError(formatter, errorCode(err), fmt.Sprintf("building scene: %v", err), nil)
	}
	formatter.VerboseLog("Built scene from %d CUE file(s)", scene.Files)

	cfg := lod.DefaultConfig()
	if scene.Compiled.LOD != nil {
		cfg = *scene.Compiled.LOD
	}
	lods, err := lod.NewManager(cfg)
	if err != nil {
		return commandError(formatter, errorCode(err), fmt.Sprintf("lod policy: %v", err), nil)
	}

	if err := os.MkdirAll(opts.Out, 0755); err != nil {
		return commandError(formatter, ErrCodeWriteFailed, fmt.Sprintf("creating output directory: %v", err), nil)
	}

	flattener := flatten.NewFlattener(scene.Store, scene.Registry, scene.Engine(), lods)
	ids := scene.Store.Paths()

	result := BakeResult{
		Entities: len(ids),
		Tables:   make([]BakedTable, 0, len(tiers)),
		OutDir:   opts.Out,
	}
	for _, tier := range tiers {
		table, err := flattener.Flatten(ids, tier)
		if err != nil {
			return commandError(formatter, errorCode(err), fmt.Sprintf("flattening %s: %v", tier, err), nil)
		}

		var buf bytes.Buffer
		if err := flatten.EncodeTable(&buf, table); err != nil {
			return commandError(formatter, errorCode(err), fmt.Sprintf("encoding %s table: %v", tier, err), nil)
		}
		sum := sha256.Sum256(buf.Bytes())

		file := filepath.Join(opts.Out, tier.String()+".pstb")
		if err := os.WriteFile(file, buf.Bytes(), 0644); err != nil {
			return commandError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing %s: %v", file, err), nil)
		}
		formatter.VerboseLog("Baked %s: %d record(s)", file, table.EntityCount())

		result.Tables = append(result.Tables, BakedTable{
			Tier:       tier.String(),
			File:       file,
			BuildID:    table.BuildID().String(),
			Records:    table.EntityCount(),
			Properties: len(table.Properties()),
			SHA256:     hex.EncodeToString(sum[:]),
		})
	}

	if opts.Journal != "" {
		if err := recordBakes(opts.Journal, result.Tables); err != nil {
			return commandError(formatter, ErrCodeGeneric, fmt.Sprintf("recording bake manifests: %v", err), nil)
		}
		formatter.VerboseLog("Recorded %d bake manifest(s) in %s", len(result.Tables), opts.Journal)
	}

	return outputBakeResult(formatter, result)
}

// bakeTiers parses the requested tier names, defaulting to all four in
// near-to-culled order, deduplicated.
func bakeTiers(names []string) ([]lod.Tier, error) {
	if len(names) == 0 {
		return []lod.Tier{lod.TierNear, lod.TierMid, lod.TierFar, lod.TierCulled}, nil
	}
	seen := make(map[lod.Tier]bool, len(names))
	tiers := make([]lod.Tier, 0, len(names))
	for _, name := range names {
		t, err := lod.ParseTier(name)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		tiers = append(tiers, t)
	}
	return tiers, nil
}

// recordBakes writes one manifest row per baked table.
func recordBakes(path string, tables []BakedTable) error {
	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := context.Background()
	for _, t := range tables {
		tier, err := lod.ParseTier(t.Tier)
		if err != nil {
			return err
		}
		m := journal.BakeManifest{
			BuildID:     t.BuildID,
			Tier:        tier,
			EntityCount: t.Records,
			TableSHA:    t.SHA256,
		}
		if err := j.RecordBake(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func outputBakeResult(formatter *OutputFormatter, result BakeResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Baked %d entity(ies) into %d table(s)\n\n", result.Entities, len(result.Tables))
	for _, t := range result.Tables {
		fmt.Fprintf(formatter.Writer, "  %s: %d record(s), %d column(s), sha256 %s\n",
			filepath.Base(t.File), t.Records, t.Properties, t.SHA256[:12])
	}
	fmt.Fprintf(formatter.Writer, "\nWrote tables to %s\n", result.OutDir)
	return nil
}
