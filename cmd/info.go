package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/patrikhermansson/simindex/core"
	"github.com/patrikhermansson/simindex/index"
	"github.com/patrikhermansson/simindex/persistence"
)

func newInfoCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show platform details, defaults or the contents of a saved index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if path := v.GetString("index"); path != "" {
				idx, err := index.Restore(path)
				if err != nil {
					return err
				}
				stats := idx.Stats()
				fmt.Fprintf(out, "Index:      %s\n", path)
				fmt.Fprintf(out, "Backend:    %s\n", stats.Kind)
				fmt.Fprintf(out, "Vectors:    %d\n", stats.Count)
				fmt.Fprintf(out, "Dimension:  %d\n", stats.Dimension)
				fmt.Fprintf(out, "Size:       %d bytes\n", stats.Size)
				return nil
			}

			features := core.CPUFeatures()
			if len(features) == 0 {
				features = []string{"none detected"}
			}
			defaults := index.DefaultOptions()
			fmt.Fprintf(out, "Platform:   %s/%s, %d CPUs, %s\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version())
			fmt.Fprintf(out, "CPU:        %s\n", strings.Join(features, " "))
			fmt.Fprintf(out, "Backends:   %s\n", kindNames())
			fmt.Fprintf(out, "Codec:      %s\n", persistence.DefaultCodec())
			fmt.Fprintf(out, "kdtree:     leaf_capacity=%d parallel_threshold=%d\n",
				defaults.LeafCapacity, defaults.ParallelThreshold)
			fmt.Fprintf(out, "pqivf:      coarse_k=%d bits=%d kmeans_iters=%d num_probes=%d\n",
				defaults.CoarseK, defaults.Bits, defaults.KMeansIters, defaults.NumProbes)
			return nil
		},
	}
	cmd.Flags().String("index", "", "Describe this snapshot file instead")
	return cmd
}

func kindNames() string {
	names := make([]string, 0, len(core.Kinds()))
	for _, kind := range core.Kinds() {
		names = append(names, kind.String())
	}
	return strings.Join(names, " ")
}
