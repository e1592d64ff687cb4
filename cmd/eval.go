package cmd

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/patrikhermansson/simindex/example"
)

func newEvalCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Measure recall and latency of a backend on a dataset",
		Long: `Build an index over <dir>/train.csv, query it with <dir>/test.csv and
report Recall@k against <dir>/neighbors.csv. Without neighbors.csv the
ground truth comes from an exact flat index.

Example:
  simindex eval --backend pqivf --dir data/sift-128-euclidean --k 10
  HANN_BENCH_NTRD=8 simindex eval -b kdtree --dir data/glove --num-queries -1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := v.GetString("dir")
			if dir == "" {
				return fmt.Errorf("dataset directory is required, use --dir flag")
			}
			opts, err := indexOptions(v)
			if err != nil {
				return err
			}
			ds, err := example.LoadDataset(dir)
			if err != nil {
				return err
			}
			report, err := example.RunDataset(ds, opts, example.RunConfig{
				K:          v.GetInt("k"),
				NumQueries: v.GetInt("num_queries"),
				MaxResults: v.GetInt("max_results"),
				Threads:    v.GetInt("threads"),
			}, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if path := v.GetString("report"); path != "" {
				return writeReport(path, ds.Name, v.GetInt("k"), report)
			}
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Dataset directory with train.csv and test.csv")
	cmd.Flags().IntP("k", "k", 10, "Number of neighbors per query")
	cmd.Flags().Int("num-queries", 5, "Queries to run, -1 runs all of them without per-query output")
	cmd.Flags().Int("max-results", 5, "Neighbors printed per query")
	cmd.Flags().Int("threads", 0, "Query workers (0 reads HANN_BENCH_NTRD, default 1)")
	cmd.Flags().String("report", "", "Write a YAML summary of the run to this file")
	addIndexFlags(cmd.Flags())
	return cmd
}

// evalSummary is the YAML form of an evaluation run.
type evalSummary struct {
	Dataset        string  `yaml:"dataset"`
	Backend        string  `yaml:"backend"`
	Vectors        int     `yaml:"vectors"`
	Dimension      int     `yaml:"dimension"`
	IndexBytes     int     `yaml:"index_bytes"`
	K              int     `yaml:"k"`
	Queries        int     `yaml:"queries"`
	Recall         float64 `yaml:"recall"`
	BuildSeconds   float64 `yaml:"build_seconds"`
	QueryMicros    float64 `yaml:"avg_query_us"`
	RuntimeSeconds float64 `yaml:"runtime_seconds"`
}

func writeReport(path, dataset string, k int, report *example.Report) error {
	out, err := yaml.Marshal(evalSummary{
		Dataset:        dataset,
		Backend:        report.Stats.Kind.String(),
		Vectors:        report.Stats.Count,
		Dimension:      report.Stats.Dimension,
		IndexBytes:     report.Stats.Size,
		K:              k,
		Queries:        len(report.Queries),
		Recall:         report.AverageRecall,
		BuildSeconds:   report.BuildTime.Seconds(),
		QueryMicros:    float64(report.AverageQuery.Microseconds()),
		RuntimeSeconds: report.Runtime.Seconds(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}
