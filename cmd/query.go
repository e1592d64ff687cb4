package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/patrikhermansson/simindex/example"
	"github.com/patrikhermansson/simindex/index"
)

func newQueryCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query a saved index with vectors from a CSV file",
		Long: `Restore a saved index and print the k nearest neighbors of every
vector in a CSV file. Distances are squared Euclidean.

Example:
  simindex query --index train.sidx --input queries.csv --k 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := v.GetString("index")
			input := v.GetString("input")
			if path == "" {
				return fmt.Errorf("index file is required, use --index flag")
			}
			if input == "" {
				return fmt.Errorf("input file is required, use -i flag")
			}

			idx, err := index.Restore(path)
			if err != nil {
				return err
			}
			queries, err := example.LoadMatrix(input, v.GetBool("skip_header"))
			if err != nil {
				return err
			}
			k := v.GetInt("k")
			results, err := idx.QueryBatch(queries, k)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, res := range results {
				fmt.Fprintf(out, "Query #%d: %s\n", i+1, example.FormatResults(res, k))
			}
			return nil
		},
	}
	cmd.Flags().String("index", "", "Snapshot file written by build")
	cmd.Flags().StringP("input", "i", "", "CSV file of query vectors")
	cmd.Flags().IntP("k", "k", 10, "Number of neighbors per query")
	cmd.Flags().Bool("skip-header", false, "Skip the first CSV record")
	return cmd
}
