package cmd

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/patrikhermansson/simindex/example"
	"github.com/patrikhermansson/simindex/index"
)

func newBuildCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an index from a CSV file and save it",
		Long: `Build an index over the vectors of a CSV file (one vector per line)
and write the trained index to a snapshot file.

Example:
  simindex build --backend kdtree --input train.csv --output train.sidx
  simindex build -b pqivf --num-probes 16 --codec lz4 -i train.csv -o train.sidx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			input := v.GetString("input")
			output := v.GetString("output")
			if input == "" {
				return fmt.Errorf("input file is required, use -i flag")
			}
			if output == "" {
				return fmt.Errorf("output file is required, use -o flag")
			}
			opts, err := indexOptions(v)
			if err != nil {
				return err
			}

			data, err := example.LoadMatrix(input, v.GetBool("skip_header"))
			if err != nil {
				return err
			}
			start := time.Now()
			idx, err := index.Create(data, opts)
			if err != nil {
				return err
			}
			elapsed := time.Since(start)
			if err := idx.Save(output); err != nil {
				return err
			}
			log.Info().Msgf("Saved index to %s", output)

			stats := idx.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d vectors (%d dimensions) with %s in %.2fs -> %s\n",
				stats.Count, stats.Dimension, stats.Kind, elapsed.Seconds(), output)
			return nil
		},
	}
	cmd.Flags().StringP("input", "i", "", "CSV file of vectors to index")
	cmd.Flags().StringP("output", "o", "", "Snapshot file to write")
	cmd.Flags().Bool("skip-header", false, "Skip the first CSV record")
	addIndexFlags(cmd.Flags())
	return cmd
}
