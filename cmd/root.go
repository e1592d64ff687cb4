// Package cmd implements the simindex command line interface.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/patrikhermansson/simindex/index"
)

// underscoreFlags lets --leaf-capacity and --leaf_capacity name the same flag,
// which also makes flag names match the configuration keys.
func underscoreFlags(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
}

// NewRootCmd returns the simindex command tree with its own configuration state.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "simindex",
		Short: "Build, query and evaluate nearest neighbor indexes",
		Long: `simindex builds k-nearest-neighbor indexes over CSV vector files.

Backends:
  flat     exact brute force search
  kdtree   exact k-d tree search
  pqivf    approximate inverted file with product quantization

Options are read from flags, HANN_* environment variables and an
optional YAML file given with --config, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(v, cmd)
		},
	}
	root.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	root.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	root.SetGlobalNormalizationFunc(underscoreFlags)

	root.AddCommand(
		newBuildCmd(v),
		newQueryCmd(v),
		newEvalCmd(v),
		newInfoCmd(v),
	)
	return root
}

// Execute runs the CLI code.
func Execute() error {
	return NewRootCmd().Execute()
}

func loadConfig(v *viper.Viper, cmd *cobra.Command) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	defaults := index.DefaultOptions()
	v.SetDefault("backend", defaults.Backend)
	v.SetDefault("leaf_capacity", defaults.LeafCapacity)
	v.SetDefault("parallel_threshold", defaults.ParallelThreshold)
	v.SetDefault("coarse_k", defaults.CoarseK)
	v.SetDefault("bits", defaults.Bits)
	v.SetDefault("kmeans_iters", defaults.KMeansIters)
	v.SetDefault("num_probes", defaults.NumProbes)

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix("HANN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("codec", "HANN_CODEC", "HANN_COMPRESSION"); err != nil {
		return err
	}

	if configFile := v.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		log.Debug().Msgf("Using configuration file %s", v.ConfigFileUsed())
	}
	return nil
}

// indexOptions decodes the backend options from every configuration source.
func indexOptions(v *viper.Viper) (index.Options, error) {
	var opts index.Options
	if err := v.Unmarshal(&opts); err != nil {
		return opts, fmt.Errorf("unable to decode index options: %w", err)
	}
	return opts, nil
}

// addIndexFlags registers the backend selection and tuning flags.
func addIndexFlags(fs *pflag.FlagSet) {
	defaults := index.DefaultOptions()
	fs.StringP("backend", "b", defaults.Backend, "Index backend: flat, kdtree or pqivf")
	fs.String("codec", "", "Snapshot compression: none, zstd or lz4 (default from HANN_COMPRESSION, else zstd)")
	fs.Int("leaf-capacity", defaults.LeafCapacity, "kdtree: maximum rows per leaf")
	fs.Int("parallel-threshold", defaults.ParallelThreshold, "kdtree: subtree size above which halves build concurrently")
	fs.Int("coarse-k", defaults.CoarseK, "pqivf: number of coarse clusters")
	fs.Int("bits", defaults.Bits, "pqivf: bits per subquantizer code (1-8)")
	fs.Int("kmeans-iters", defaults.KMeansIters, "pqivf: k-means iterations")
	fs.Int("num-probes", defaults.NumProbes, "pqivf: inverted lists probed per query")
	fs.Int("num-subquantizers", 0, "pqivf: subquantizer count (0 picks the first of 4, 5, 2 dividing the dimension)")
	fs.Int64("seed", 0, "pqivf: random seed (0 reads HANN_SEED or the clock)")
}
