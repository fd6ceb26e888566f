package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/OFFIS-RIT/stagegraph/pkg/export"
	"github.com/OFFIS-RIT/stagegraph/pkg/extract"
	"github.com/OFFIS-RIT/stagegraph/pkg/graph"
	"github.com/OFFIS-RIT/stagegraph/pkg/logger"
	"github.com/OFFIS-RIT/stagegraph/pkg/logger/console"

	"github.com/spf13/cobra"
)

var reStageName = regexp.MustCompile(`(?i)stage[-_ ]?(\d+)`)

type options struct {
	debug         bool
	mergeFormat   string
	importFormat  string
	out           string
	stageFromName bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "stagegraph",
		Short:        "Merge stage ontology payloads into a knowledge graph",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
				Debug:  opts.debug,
				Output: cmd.ErrOrStderr(),
			}))
		},
	}
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&opts.out, "out", "o", "", "write the result to a file instead of stdout")

	root.AddCommand(newMergeCmd(opts), newImportCmd(opts), newSchemaCmd(opts))
	return root
}

func newMergeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge [payload.json...]",
		Short: "Merge stage payload files into one graph and export it",
		Long: `Merges ontology payload files in stage order and writes the resulting
graph. By default the stage of a file is read from its name (stage-3.json);
with --stage-from-name=false the files are taken as stages 1, 2, 3 in the
order given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.mergeFormat, "format", "f", "ttl", "output format: ttl, layout or report")
	cmd.Flags().BoolVar(&opts.stageFromName, "stage-from-name", true, "read the stage number from each file name")
	return cmd
}

func runMerge(cmd *cobra.Command, opts *options, args []string) error {
	g := graph.NewGraph(graph.NewGraphParams{})
	reports := make([]graph.MergeReport, 0, len(args))

	for i, path := range args {
		stage := i + 1
		if opts.stageFromName {
			n, err := stageFromName(path)
			if err != nil {
				return err
			}
			stage = n
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		set, err := extract.Normalize(stage, raw)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		report, err := g.Merge(stage, set)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		logger.Info("[Merge] merged payload",
			"file", filepath.Base(path),
			"stage", stage,
			"new_entities", report.NewEntities,
			"new_relations", report.NewRelations,
			"dropped", report.DroppedRelations,
		)
		reports = append(reports, report)
	}

	switch opts.mergeFormat {
	case "ttl":
		return write(cmd, opts, []byte(export.ToTurtle(g)))
	case "layout":
		return writeJSON(cmd, opts, export.ToLayout(g))
	case "report":
		return writeJSON(cmd, opts, reports)
	default:
		return fmt.Errorf("unknown format %q", opts.mergeFormat)
	}
}

func stageFromName(path string) (int, error) {
	m := reStageName.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, fmt.Errorf("no stage number in file name %q", path)
	}
	stage, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("bad stage number in %q: %w", path, err)
	}
	return stage, nil
}

func newImportCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [graph.ttl]",
		Short: "Rebuild a graph from a Turtle export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			g, err := export.Import(string(raw))
			if err != nil {
				return err
			}

			switch opts.importFormat {
			case "stats":
				return writeJSON(cmd, opts, g.Stats())
			case "ttl":
				return write(cmd, opts, []byte(export.ToTurtle(g)))
			case "layout":
				return writeJSON(cmd, opts, export.ToLayout(g))
			default:
				return fmt.Errorf("unknown format %q", opts.importFormat)
			}
		},
	}
	cmd.Flags().StringVarP(&opts.importFormat, "format", "f", "stats", "output format: stats, ttl or layout")
	return cmd
}

func newSchemaCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of a stage payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(cmd, opts, extract.Schema())
		},
	}
}

func writeJSON(cmd *cobra.Command, opts *options, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return write(cmd, opts, append(data, '\n'))
}

func write(cmd *cobra.Command, opts *options, data []byte) error {
	if opts.out != "" {
		if err := os.WriteFile(opts.out, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", opts.out, err)
		}
		return nil
	}
	_, err := cmd.OutOrStdout().Write(data)
	return err
}
