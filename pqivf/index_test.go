package pqivf_test

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/patrikhermansson/simindex/core"
	"github.com/patrikhermansson/simindex/flat"
	"github.com/patrikhermansson/simindex/pqivf"
)

// gaussianClusters draws perCluster points around each of clusters random centers.
func gaussianClusters(t *testing.T, rnd *rand.Rand, clusters, perCluster, dim int, sigma float64) core.Matrix {
	t.Helper()
	centers := make([][]float32, clusters)
	for c := range centers {
		centers[c] = make([]float32, dim)
		for j := range centers[c] {
			centers[c][j] = rnd.Float32()*40 - 20
		}
	}
	data := make([]float32, 0, clusters*perCluster*dim)
	for i := 0; i < clusters*perCluster; i++ {
		center := centers[rnd.Intn(clusters)]
		for j := 0; j < dim; j++ {
			data = append(data, center[j]+float32(rnd.NormFloat64()*sigma))
		}
	}
	m, err := core.NewMatrixFromData(data, dim)
	if err != nil {
		t.Fatalf("NewMatrixFromData failed: %v", err)
	}
	return m
}

func newIndex(seed int64) *pqivf.PQIVFIndex {
	idx := pqivf.NewPQIVFIndex(0, 0, 0, 0)
	idx.Seed = seed
	return idx
}

func TestChooseSubquantizers(t *testing.T) {
	tests := []struct {
		dim     int
		want    int
		wantErr bool
	}{
		{dim: 8, want: 4},
		{dim: 10, want: 5},
		{dim: 6, want: 2},
		{dim: 2, want: 2},
		{dim: 128, want: 4},
		{dim: 7, wantErr: true},
		{dim: 1, wantErr: true},
	}
	for _, tt := range tests {
		got, err := pqivf.ChooseSubquantizers(tt.dim, pqivf.DefaultSubquantizerCandidates)
		if tt.wantErr {
			if !errors.Is(err, core.ErrConfiguration) {
				t.Errorf("dim %d: expected ErrConfiguration, got %v", tt.dim, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("dim %d: got %d, %v; want %d", tt.dim, got, err, tt.want)
		}
	}
}

func TestPQIVF_RejectsIndivisibleDimension(t *testing.T) {
	rows := make([][]float32, 20)
	for i := range rows {
		rows[i] = []float32{1, 2, 3, 4, 5, 6, float32(i)}
	}
	data, _ := core.NewMatrix(rows)
	idx := newIndex(1)
	if err := idx.Build(data); !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for dim 7, got %v", err)
	}
	if idx.Stats().Built {
		t.Errorf("index must stay unbuilt after a failed build")
	}
	if _, err := idx.Query(rows[0], 1); !errors.Is(err, core.ErrNotBuilt) {
		t.Errorf("expected ErrNotBuilt after failed build, got %v", err)
	}

	explicit := newIndex(1)
	explicit.NumSubquantizers = 3
	if err := explicit.Build(data); !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for explicit m=3, got %v", err)
	}
}

func TestPQIVF_ConfigurationErrors(t *testing.T) {
	if err := newIndex(1).Build(core.Matrix{Dim: 4}); !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for empty dataset, got %v", err)
	}
	data, _ := core.NewMatrix([][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}})
	idx := newIndex(1)
	idx.Bits = 9
	if err := idx.Build(data); !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for 9-bit codes, got %v", err)
	}
}

func TestPQIVF_SixPoints(t *testing.T) {
	data, _ := core.NewMatrix([][]float32{
		{0, 0}, {1, 0}, {0, 1},
		{10, 10}, {11, 10}, {10, 11},
	})
	idx := newIndex(42)
	if err := idx.Build(data); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	layout := idx.Layout()
	if layout.Subquantizers != 2 || layout.SubDimension != 1 {
		t.Errorf("unexpected layout %+v", layout)
	}
	if layout.CoarseClusters != 6 || layout.CodebookSize != 6 {
		t.Errorf("expected quantizer sizes clamped to 6, got %+v", layout)
	}
	res, err := idx.Query([]float32{0, 0}, 3)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	wantIdx := []int{0, 1, 2}
	wantDist := []float64{0, 1, 1}
	for i := range wantIdx {
		if res.Indices[i] != wantIdx[i] || res.Distances[i] != wantDist[i] {
			t.Errorf("position %d: got (%d, %v), want (%d, %v)",
				i, res.Indices[i], res.Distances[i], wantIdx[i], wantDist[i])
		}
	}
}

// TestPQIVF_Recall checks recall@10 against exact search on well separated
// Gaussian clusters. The documented minimum is 0.6.
func TestPQIVF_Recall(t *testing.T) {
	const (
		k         = 10
		minRecall = 0.6
	)
	rnd := rand.New(rand.NewSource(2024))
	data := gaussianClusters(t, rnd, 20, 150, 8, 1.0)
	idx := newIndex(7)
	if err := idx.Build(data); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	exact := flat.NewFlatIndex()
	if err := exact.Build(data); err != nil {
		t.Fatalf("flat Build failed: %v", err)
	}

	queries := 100
	var hits, total int
	for q := 0; q < queries; q++ {
		query := data.Row(rnd.Intn(data.Rows))
		perturbed := make([]float32, len(query))
		for j, v := range query {
			perturbed[j] = v + float32(rnd.NormFloat64()*0.1)
		}
		want, err := exact.Query(perturbed, k)
		if err != nil {
			t.Fatalf("flat Query failed: %v", err)
		}
		got, err := idx.Query(perturbed, k)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if got.Len() != k {
			t.Fatalf("expected %d results, got %d", k, got.Len())
		}
		truth := make(map[int]struct{}, k)
		for _, id := range want.Indices {
			truth[id] = struct{}{}
		}
		for _, id := range got.Indices {
			if _, ok := truth[id]; ok {
				hits++
			}
		}
		total += k
	}
	recall := float64(hits) / float64(total)
	t.Logf("recall@%d = %.3f", k, recall)
	if recall < minRecall {
		t.Errorf("recall@%d = %.3f, want at least %.2f", k, recall, minRecall)
	}
}

func TestPQIVF_ResultsAreOrderedAndComplete(t *testing.T) {
	rnd := rand.New(rand.NewSource(5))
	data := gaussianClusters(t, rnd, 5, 40, 4, 0.5)
	idx := newIndex(3)
	idx.NumProbes = 1
	if err := idx.Build(data); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// k close to N forces the search to expand beyond the probed lists.
	res, err := idx.Query(data.Row(0), data.Rows)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Len() != data.Rows {
		t.Fatalf("expected %d results, got %d", data.Rows, res.Len())
	}
	seen := make(map[int]bool, data.Rows)
	for i, id := range res.Indices {
		if seen[id] {
			t.Fatalf("row %d returned twice", id)
		}
		seen[id] = true
		if i > 0 && res.Distances[i] < res.Distances[i-1] {
			t.Fatalf("distances not ascending at %d", i)
		}
		if res.Distances[i] < 0 {
			t.Fatalf("negative distance %v", res.Distances[i])
		}
	}
	if clamped, _ := idx.Query(data.Row(0), 10*data.Rows); clamped.Len() != data.Rows {
		t.Errorf("expected k to be clamped to %d, got %d", data.Rows, clamped.Len())
	}
}

func TestPQIVF_UsageErrors(t *testing.T) {
	idx := newIndex(1)
	if _, err := idx.Query([]float32{1, 2, 3, 4}, 1); !errors.Is(err, core.ErrNotBuilt) {
		t.Errorf("expected ErrNotBuilt, got %v", err)
	}
	if err := idx.Save(filepath.Join(t.TempDir(), "x")); !errors.Is(err, core.ErrNotBuilt) {
		t.Errorf("expected ErrNotBuilt from Save, got %v", err)
	}
	rnd := rand.New(rand.NewSource(1))
	data := gaussianClusters(t, rnd, 3, 20, 4, 1)
	if err := idx.Build(data); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := idx.Build(data); !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration on second Build, got %v", err)
	}
	if _, err := idx.Query([]float32{1, 2}, 1); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for wrong dimension, got %v", err)
	}
	if _, err := idx.Query(data.Row(0), 0); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for k=0, got %v", err)
	}
}

func TestPQIVF_SaveRestore(t *testing.T) {
	rnd := rand.New(rand.NewSource(9))
	data := gaussianClusters(t, rnd, 10, 50, 10, 1)
	idx := newIndex(11)
	if err := idx.Build(data); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "pqivf.sidx")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	restored, err := pqivf.Restore(path)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.Layout() != idx.Layout() {
		t.Errorf("layout changed after restore: %+v vs %+v", restored.Layout(), idx.Layout())
	}
	if restored.Stats() != idx.Stats() {
		t.Errorf("stats changed after restore: %+v vs %+v", restored.Stats(), idx.Stats())
	}
	queries := gaussianClusters(t, rnd, 2, 10, 10, 1)
	want, err := idx.QueryBatch(queries, 7)
	if err != nil {
		t.Fatalf("QueryBatch failed: %v", err)
	}
	got, err := restored.QueryBatch(queries, 7)
	if err != nil {
		t.Fatalf("QueryBatch on restored index failed: %v", err)
	}
	for q := range want {
		for i := range want[q].Indices {
			if want[q].Indices[i] != got[q].Indices[i] || want[q].Distances[i] != got[q].Distances[i] {
				t.Fatalf("query %d position %d differs after restore", q, i)
			}
		}
	}
}

func TestPQIVF_RestoreRejectsCorruptFile(t *testing.T) {
	rnd := rand.New(rand.NewSource(9))
	data := gaussianClusters(t, rnd, 4, 20, 4, 1)
	idx := newIndex(11)
	if err := idx.Build(data); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "pqivf.sidx")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)/2] ^= 0x5A
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := pqivf.Restore(path); !errors.Is(err, core.ErrPersistence) {
		t.Errorf("expected ErrPersistence for corrupt file, got %v", err)
	}
}

func TestPQIVF_ConcurrentQueries(t *testing.T) {
	rnd := rand.New(rand.NewSource(13))
	data := gaussianClusters(t, rnd, 5, 60, 4, 1)
	idx := newIndex(17)
	if err := idx.Build(data); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want, err := idx.Query(data.Row(3), 5)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := idx.Query(data.Row(3), 5)
			if err != nil {
				t.Errorf("Query failed: %v", err)
				return
			}
			for j := range want.Indices {
				if got.Indices[j] != want.Indices[j] {
					t.Errorf("concurrent query returned different neighbors")
					return
				}
			}
		}()
	}
	wg.Wait()
}
