// Package flat implements exact nearest neighbor search by brute force.
// It is the correctness baseline for the other backends.
package flat

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/patrikhermansson/simindex/core"
	"github.com/patrikhermansson/simindex/internal/topk"
	"github.com/patrikhermansson/simindex/persistence"
)

// FlatIndex stores the dataset verbatim and scans every row per query.
type FlatIndex struct {
	mu    sync.RWMutex // protects the index state
	built bool         // set once Build or Restore completes
	data  core.Matrix  // copy of the dataset
	Codec persistence.Codec
}

// NewFlatIndex creates an empty, unbuilt flat index.
func NewFlatIndex() *FlatIndex {
	return &FlatIndex{Codec: persistence.DefaultCodec()}
}

// Build copies the dataset into the index. An empty dataset is accepted and
// every query on it returns an empty result.
func (f *FlatIndex) Build(data core.Matrix) error {
	if err := data.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.built {
		return fmt.Errorf("%w: index already built", core.ErrConfiguration)
	}
	f.data = data.Clone()
	f.built = true
	log.Debug().Msgf("Built flat index with %d vectors of dimension %d", data.Rows, data.Dim)
	return nil
}

// Query returns the k nearest rows to query by exact squared Euclidean distance.
// k larger than the number of rows is clamped.
func (f *FlatIndex) Query(query []float32, k int) (core.Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.built {
		return core.Result{}, core.ErrNotBuilt
	}
	return f.search(query, k)
}

func (f *FlatIndex) search(query []float32, k int) (core.Result, error) {
	if err := core.CheckQuery(query, f.data.Dim, k); err != nil {
		return core.Result{}, err
	}
	sel := topk.New(core.ClampK(k, f.data.Rows))
	for i := 0; i < f.data.Rows; i++ {
		sel.Push(i, core.SquaredEuclidean(query, f.data.Row(i)))
	}
	return sel.Result(), nil
}

// QueryBatch answers every row of queries concurrently.
func (f *FlatIndex) QueryBatch(queries core.Matrix, k int) ([]core.Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.built {
		return nil, core.ErrNotBuilt
	}
	return core.RunBatch(queries, f.data.Dim, func(q []float32) (core.Result, error) {
		return f.search(q, k)
	})
}

// Stats returns statistics about the index.
func (f *FlatIndex) Stats() core.IndexStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return core.IndexStats{
		Kind:      core.KindFlat,
		Built:     f.built,
		Count:     f.data.Rows,
		Dimension: f.data.Dim,
		Size:      len(f.data.Data) * 4,
	}
}

// flatSnapshot is the serializable representation of the flat index.
type flatSnapshot struct {
	Rows int
	Dim  int
	Data []float32
}

// Save writes the index to path.
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.built {
		return core.ErrNotBuilt
	}
	snap := flatSnapshot{Rows: f.data.Rows, Dim: f.data.Dim, Data: f.data.Data}
	return persistence.WriteFile(path, core.KindFlat, snap, f.Codec)
}

// Restore reads a flat index previously written by Save.
func Restore(path string) (*FlatIndex, error) {
	var snap flatSnapshot
	if err := persistence.ReadFile(path, core.KindFlat, &snap); err != nil {
		return nil, err
	}
	data := core.Matrix{Rows: snap.Rows, Dim: snap.Dim, Data: snap.Data}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrPersistence, path, err)
	}
	f := NewFlatIndex()
	f.data = data
	f.built = true
	return f, nil
}

// Check interface compliance.
var _ core.Index = (*FlatIndex)(nil)
