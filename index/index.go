// Package index selects a nearest neighbor backend and restores saved indexes.
package index

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/patrikhermansson/simindex/core"
	"github.com/patrikhermansson/simindex/flat"
	"github.com/patrikhermansson/simindex/kdtree"
	"github.com/patrikhermansson/simindex/persistence"
	"github.com/patrikhermansson/simindex/pqivf"
)

// Options selects a backend and its parameters. Zero values select the backend defaults.
type Options struct {
	Backend string `mapstructure:"backend"` // flat, kdtree or pqivf
	Codec   string `mapstructure:"codec"`   // snapshot compression: none, zstd or lz4

	LeafCapacity      int `mapstructure:"leaf_capacity"`
	ParallelThreshold int `mapstructure:"parallel_threshold"`

	CoarseK          int   `mapstructure:"coarse_k"`
	Bits             int   `mapstructure:"bits"`
	KMeansIters      int   `mapstructure:"kmeans_iters"`
	NumProbes        int   `mapstructure:"num_probes"`
	NumSubquantizers int   `mapstructure:"num_subquantizers"`
	Seed             int64 `mapstructure:"seed"`
}

// DefaultOptions returns the options of an exact flat index.
func DefaultOptions() Options {
	return Options{
		Backend:           core.KindFlat.String(),
		LeafCapacity:      kdtree.DefaultLeafCapacity,
		ParallelThreshold: kdtree.DefaultParallelThreshold,
		CoarseK:           pqivf.DefaultCoarseK,
		Bits:              pqivf.DefaultBits,
		KMeansIters:       pqivf.DefaultKMeansIters,
		NumProbes:         pqivf.DefaultNumProbes,
	}
}

// ParseKind maps a backend name to its Kind.
func ParseKind(name string) (core.Kind, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for _, kind := range core.Kinds() {
		if kind.String() == name {
			return kind, nil
		}
	}
	switch name {
	case "exact", "bruteforce":
		return core.KindFlat, nil
	case "tree", "kd":
		return core.KindKDTree, nil
	case "ivfpq", "quantized":
		return core.KindPQIVF, nil
	}
	return core.KindUnknown, fmt.Errorf("%w: unknown backend %q", core.ErrInvalidArgument, name)
}

// New returns an unbuilt index of the backend selected by opts.
func New(opts Options) (core.Index, error) {
	kind, err := ParseKind(opts.Backend)
	if err != nil {
		return nil, err
	}
	codec := persistence.DefaultCodec()
	if opts.Codec != "" {
		if codec, err = persistence.ParseCodec(opts.Codec); err != nil {
			return nil, err
		}
	}
	switch kind {
	case core.KindFlat:
		idx := flat.NewFlatIndex()
		idx.Codec = codec
		return idx, nil
	case core.KindKDTree:
		idx := kdtree.NewKDTreeIndex(opts.LeafCapacity, opts.ParallelThreshold)
		idx.Codec = codec
		return idx, nil
	default:
		idx := pqivf.NewPQIVFIndex(opts.CoarseK, opts.Bits, opts.KMeansIters, opts.NumProbes)
		idx.NumSubquantizers = opts.NumSubquantizers
		idx.Seed = opts.Seed
		idx.Codec = codec
		return idx, nil
	}
}

// Create builds an index of the selected backend over data.
func Create(data core.Matrix, opts Options) (core.Index, error) {
	idx, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := idx.Build(data); err != nil {
		return nil, fmt.Errorf("build %s index: %w", opts.Backend, err)
	}
	stats := idx.Stats()
	log.Info().
		Str("backend", stats.Kind.String()).
		Int("count", stats.Count).
		Int("dim", stats.Dimension).
		Int("bytes", stats.Size).
		Msg("Created index")
	return idx, nil
}

// Restore reads a saved index of any backend, dispatching on the kind recorded in the file.
func Restore(path string) (core.Index, error) {
	kind, err := persistence.PeekKind(path)
	if err != nil {
		return nil, err
	}
	var idx core.Index
	switch kind {
	case core.KindFlat:
		idx, err = flat.Restore(path)
	case core.KindKDTree:
		idx, err = kdtree.Restore(path)
	case core.KindPQIVF:
		idx, err = pqivf.Restore(path)
	default:
		return nil, fmt.Errorf("%w: %s holds an unknown backend %s", core.ErrPersistence, path, kind)
	}
	if err != nil {
		return nil, err
	}
	return idx, nil
}
