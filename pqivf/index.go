// Package pqivf implements approximate nearest neighbor search with an
// inverted file (coarse k-means buckets) and product quantization of the
// residuals, scored by asymmetric distance computation.
package pqivf

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/patrikhermansson/simindex/core"
	"github.com/patrikhermansson/simindex/internal/topk"
	"github.com/patrikhermansson/simindex/persistence"
)

const (
	// DefaultCoarseK is the number of coarse clusters (inverted lists).
	DefaultCoarseK = 100
	// DefaultBits is the code width per subquantizer.
	DefaultBits = 8
	// DefaultKMeansIters is the number of Lloyd iterations for every quantizer.
	DefaultKMeansIters = 25
	// DefaultNumProbes is the number of inverted lists scanned per query.
	DefaultNumProbes = 8
)

// DefaultSubquantizerCandidates is the preference order used to pick the number of subquantizers.
var DefaultSubquantizerCandidates = []int{4, 5, 2}

// ChooseSubquantizers returns the first candidate that evenly divides dimension.
// No fallback is attempted when none does.
func ChooseSubquantizers(dimension int, candidates []int) (int, error) {
	for _, m := range candidates {
		if m > 0 && m <= dimension && dimension%m == 0 {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: no subquantizer count in %v divides dimension %d",
		core.ErrConfiguration, candidates, dimension)
}

// invertedList holds the rows assigned to one coarse cluster and their codes.
// The codes of IDs[i] are Codes[i*m : (i+1)*m].
type invertedList struct {
	IDs   []int32
	Codes []byte
}

// PQIVFIndex is the main structure for the PQIVF index.
type PQIVFIndex struct {
	mu               sync.RWMutex   // protects the index state
	built            bool           // set once Build or Restore completes
	dimension        int            // dimension of the vectors
	rows             int            // number of indexed vectors
	numSubquantizers int            // number of subquantizers (splits per vector)
	subDim           int            // dimension of each sub-vector
	ksub             int            // number of centroids per subquantizer codebook
	coarseK          int            // number of coarse clusters actually trained
	coarseCentroids  []float32      // coarseK * dimension
	codebooks        []float32      // numSubquantizers * ksub * subDim
	lists            []invertedList // one inverted list per coarse cluster

	CoarseK                int   // requested number of coarse clusters, clamped to the dataset size
	Bits                   int   // bits per subquantizer code, 1 to 8
	KMeansIters            int   // number of iterations for training every quantizer
	NumProbes              int   // number of candidate clusters to consider during search
	NumSubquantizers       int   // explicit subquantizer count; 0 picks from SubquantizerCandidates
	SubquantizerCandidates []int // preference order for the subquantizer count
	Seed                   int64 // seed for training; 0 takes core.GetSeed()
	Codec                  persistence.Codec
}

// NewPQIVFIndex creates a new, unbuilt PQIVF index. Non-positive arguments select the defaults.
func NewPQIVFIndex(coarseK, bits, kMeansIters, numProbes int) *PQIVFIndex {
	if coarseK < 1 {
		coarseK = DefaultCoarseK
	}
	if bits < 1 {
		bits = DefaultBits
	}
	if kMeansIters < 1 {
		kMeansIters = DefaultKMeansIters
	}
	if numProbes < 1 {
		numProbes = DefaultNumProbes
	}
	return &PQIVFIndex{
		CoarseK:                coarseK,
		Bits:                   bits,
		KMeansIters:            kMeansIters,
		NumProbes:              numProbes,
		SubquantizerCandidates: append([]int(nil), DefaultSubquantizerCandidates...),
		Codec:                  persistence.DefaultCodec(),
	}
}

// subquantizers resolves the number of subquantizers for dimension.
func (pq *PQIVFIndex) subquantizers(dimension int) (int, error) {
	if pq.NumSubquantizers > 0 {
		if dimension%pq.NumSubquantizers != 0 {
			return 0, fmt.Errorf("%w: dimension (%d) must be divisible by numSubquantizers (%d)",
				core.ErrConfiguration, dimension, pq.NumSubquantizers)
		}
		return pq.NumSubquantizers, nil
	}
	return ChooseSubquantizers(dimension, pq.SubquantizerCandidates)
}

// Build trains the coarse quantizer and the product quantizer on data and
// encodes every row into its inverted list. Preconditions on the dimension are
// checked before any training starts; on failure the index stays unbuilt.
func (pq *PQIVFIndex) Build(data core.Matrix) error {
	if err := data.Validate(); err != nil {
		return err
	}
	if data.Rows == 0 {
		return fmt.Errorf("%w: cannot train quantizers on an empty dataset", core.ErrConfiguration)
	}
	m, err := pq.subquantizers(data.Dim)
	if err != nil {
		return err
	}
	if pq.Bits < 1 || pq.Bits > 8 {
		return fmt.Errorf("%w: bits per code must be between 1 and 8, got %d", core.ErrConfiguration, pq.Bits)
	}

	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.built {
		return fmt.Errorf("%w: index already built", core.ErrConfiguration)
	}

	start := time.Now()
	seed := pq.Seed
	if seed == 0 {
		seed = core.GetSeed()
	}
	rnd := rand.New(rand.NewSource(seed))
	dim := data.Dim
	subDim := dim / m

	coarseK := pq.CoarseK
	if coarseK > data.Rows {
		log.Warn().Msgf("Clamping coarse clusters from %d to the %d available vectors", coarseK, data.Rows)
		coarseK = data.Rows
	}
	ksub := 1 << pq.Bits
	if ksub > data.Rows {
		log.Warn().Msgf("Clamping codebook size from %d to the %d available vectors", ksub, data.Rows)
		ksub = data.Rows
	}
	log.Debug().
		Int("rows", data.Rows).
		Int("dim", dim).
		Int("subquantizers", m).
		Int("coarse_k", coarseK).
		Int("ksub", ksub).
		Strs("cpu", core.CPUFeatures()).
		Msg("Training PQIVF index")

	bar := core.NewProgressBar(m+1, "training quantizers")
	coarse := trainKMeans(data.Data, dim, coarseK, pq.KMeansIters, rnd)
	assign := make([]int32, data.Rows)
	for i := range assign {
		assign[i] = -1
	}
	assignAll(data.Data, dim, coarse, coarseK, assign)
	_ = bar.Add(1)

	// Residuals of every row, regrouped per subquantizer so each group is contiguous.
	groups := make([][]float32, m)
	for s := range groups {
		groups[s] = make([]float32, data.Rows*subDim)
	}
	residual := make([]float32, dim)
	for i := 0; i < data.Rows; i++ {
		c := int(assign[i])
		core.SubInto(residual, data.Row(i), coarse[c*dim:(c+1)*dim])
		for s := 0; s < m; s++ {
			copy(groups[s][i*subDim:(i+1)*subDim], residual[s*subDim:(s+1)*subDim])
		}
	}
	codebooks := make([]float32, 0, m*ksub*subDim)
	for s := 0; s < m; s++ {
		codebooks = append(codebooks, trainKMeans(groups[s], subDim, ksub, pq.KMeansIters, rnd)...)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	// Rows are appended in ascending order, so every list stays sorted by row.
	lists := make([]invertedList, coarseK)
	for i := 0; i < data.Rows; i++ {
		list := &lists[assign[i]]
		list.IDs = append(list.IDs, int32(i))
	}
	for c := range lists {
		lists[c].Codes = make([]byte, len(lists[c].IDs)*m)
	}
	codes := make([]int32, data.Rows)
	encodeBar := core.NewProgressBar(m, "encoding vectors")
	for s := 0; s < m; s++ {
		for i := range codes {
			codes[i] = -1
		}
		assignAll(groups[s], subDim, codebooks[s*ksub*subDim:(s+1)*ksub*subDim], ksub, codes)
		scatterCodes(lists, assign, codes, s, m)
		_ = encodeBar.Add(1)
	}
	_ = encodeBar.Finish()

	pq.dimension = dim
	pq.rows = data.Rows
	pq.numSubquantizers = m
	pq.subDim = subDim
	pq.ksub = ksub
	pq.coarseK = coarseK
	pq.coarseCentroids = coarse
	pq.codebooks = codebooks
	pq.lists = lists
	pq.built = true
	log.Info().
		Int("rows", data.Rows).
		Int("subquantizers", m).
		Int("lists", coarseK).
		Dur("elapsed", time.Since(start)).
		Msg("Built PQIVF index")
	return nil
}

// scatterCodes writes the codes of subquantizer s into the inverted lists.
func scatterCodes(lists []invertedList, assign, codes []int32, s, m int) {
	pos := make([]int, len(lists))
	for i := range codes {
		c := assign[i]
		lists[c].Codes[pos[c]*m+s] = byte(codes[i])
		pos[c]++
	}
}

// centroidOrder returns the coarse clusters sorted by distance to query, then by cluster index.
func (pq *PQIVFIndex) centroidOrder(query []float32) []int {
	dists := make([]float64, pq.coarseK)
	order := make([]int, pq.coarseK)
	for c := range order {
		order[c] = c
		dists[c] = core.SquaredEuclidean(query, pq.coarseCentroids[c*pq.dimension:(c+1)*pq.dimension])
	}
	sort.SliceStable(order, func(i, j int) bool {
		return dists[order[i]] < dists[order[j]]
	})
	return order
}

// fillTable computes the asymmetric distance table of a query residual:
// table[s*ksub+c] is the squared distance of sub-vector s to codeword c.
func (pq *PQIVFIndex) fillTable(residual []float32, table []float64) {
	for s := 0; s < pq.numSubquantizers; s++ {
		sub := residual[s*pq.subDim : (s+1)*pq.subDim]
		book := pq.codebooks[s*pq.ksub*pq.subDim : (s+1)*pq.ksub*pq.subDim]
		for c := 0; c < pq.ksub; c++ {
			table[s*pq.ksub+c] = core.SquaredEuclidean(sub, book[c*pq.subDim:(c+1)*pq.subDim])
		}
	}
}

func (pq *PQIVFIndex) search(query []float32, k int) (core.Result, error) {
	if err := core.CheckQuery(query, pq.dimension, k); err != nil {
		return core.Result{}, err
	}
	k = core.ClampK(k, pq.rows)
	probes := min(pq.NumProbes, pq.coarseK)
	m := pq.numSubquantizers

	sel := topk.New(k)
	residual := make([]float32, pq.dimension)
	table := make([]float64, m*pq.ksub)
	scanned := 0
	// Probe the nearest lists, then keep going until at least k rows were scored.
	for p, c := range pq.centroidOrder(query) {
		if p >= probes && scanned >= k {
			break
		}
		list := pq.lists[c]
		if len(list.IDs) == 0 {
			continue
		}
		core.SubInto(residual, query, pq.coarseCentroids[c*pq.dimension:(c+1)*pq.dimension])
		pq.fillTable(residual, table)
		for j, id := range list.IDs {
			code := list.Codes[j*m : (j+1)*m]
			var d float64
			for s, b := range code {
				d += table[s*pq.ksub+int(b)]
			}
			sel.Push(int(id), d)
		}
		scanned += len(list.IDs)
	}
	return sel.Result(), nil
}

// Query returns the approximate k nearest rows to query. Distances are
// approximate squared Euclidean distances. k larger than the number of rows is clamped.
func (pq *PQIVFIndex) Query(query []float32, k int) (core.Result, error) {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	if !pq.built {
		return core.Result{}, core.ErrNotBuilt
	}
	return pq.search(query, k)
}

// QueryBatch answers every row of queries concurrently.
func (pq *PQIVFIndex) QueryBatch(queries core.Matrix, k int) ([]core.Result, error) {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	if !pq.built {
		return nil, core.ErrNotBuilt
	}
	return core.RunBatch(queries, pq.dimension, func(q []float32) (core.Result, error) {
		return pq.search(q, k)
	})
}

// Layout describes the trained quantizers of a PQIVF index.
type Layout struct {
	Subquantizers  int // number of sub-vector groups
	SubDimension   int // dimension of each group
	CodebookSize   int // centroids per subquantizer
	CoarseClusters int // number of inverted lists
}

// Layout returns the shape of the trained quantizers, zero when unbuilt.
func (pq *PQIVFIndex) Layout() Layout {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return Layout{
		Subquantizers:  pq.numSubquantizers,
		SubDimension:   pq.subDim,
		CodebookSize:   pq.ksub,
		CoarseClusters: pq.coarseK,
	}
}

// Stats returns statistics about the index (e.g. total number of entries).
func (pq *PQIVFIndex) Stats() core.IndexStats {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	size := (len(pq.coarseCentroids) + len(pq.codebooks)) * 4
	for _, list := range pq.lists {
		size += len(list.IDs)*4 + len(list.Codes)
	}
	return core.IndexStats{
		Kind:      core.KindPQIVF,
		Built:     pq.built,
		Count:     pq.rows,
		Dimension: pq.dimension,
		Size:      size,
	}
}

// pqivfSnapshot is a serializable representation of the PQIVF index.
type pqivfSnapshot struct {
	Dimension        int
	Rows             int
	NumSubquantizers int
	Ksub             int
	CoarseK          int
	CoarseCentroids  []float32
	Codebooks        []float32
	Lists            []invertedList
	Bits             int
	KMeansIters      int
	NumProbes        int
	Seed             int64
}

// Save writes the trained quantizers and inverted lists to path.
func (pq *PQIVFIndex) Save(path string) error {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	if !pq.built {
		return core.ErrNotBuilt
	}
	snap := pqivfSnapshot{
		Dimension:        pq.dimension,
		Rows:             pq.rows,
		NumSubquantizers: pq.numSubquantizers,
		Ksub:             pq.ksub,
		CoarseK:          pq.coarseK,
		CoarseCentroids:  pq.coarseCentroids,
		Codebooks:        pq.codebooks,
		Lists:            pq.lists,
		Bits:             pq.Bits,
		KMeansIters:      pq.KMeansIters,
		NumProbes:        pq.NumProbes,
		Seed:             pq.Seed,
	}
	return persistence.WriteFile(path, core.KindPQIVF, snap, pq.Codec)
}

// Restore reads a PQIVF index previously written by Save.
func Restore(path string) (*PQIVFIndex, error) {
	var snap pqivfSnapshot
	if err := persistence.ReadFile(path, core.KindPQIVF, &snap); err != nil {
		return nil, err
	}
	if err := snap.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrPersistence, path, err)
	}
	pq := NewPQIVFIndex(snap.CoarseK, snap.Bits, snap.KMeansIters, snap.NumProbes)
	pq.NumSubquantizers = snap.NumSubquantizers
	pq.Seed = snap.Seed
	pq.dimension = snap.Dimension
	pq.rows = snap.Rows
	pq.numSubquantizers = snap.NumSubquantizers
	pq.subDim = snap.Dimension / snap.NumSubquantizers
	pq.ksub = snap.Ksub
	pq.coarseK = snap.CoarseK
	pq.coarseCentroids = snap.CoarseCentroids
	pq.codebooks = snap.Codebooks
	pq.lists = snap.Lists
	pq.built = true
	return pq, nil
}

// validate checks that the arenas of the snapshot have consistent sizes.
func (s *pqivfSnapshot) validate() error {
	if s.Dimension <= 0 || s.Rows <= 0 || s.NumSubquantizers <= 0 || s.Dimension%s.NumSubquantizers != 0 {
		return fmt.Errorf("invalid shape: dim %d, rows %d, subquantizers %d", s.Dimension, s.Rows, s.NumSubquantizers)
	}
	if s.Ksub <= 0 || s.Ksub > 256 || s.CoarseK <= 0 || s.NumProbes <= 0 {
		return fmt.Errorf("invalid quantizer sizes: ksub %d, coarse %d, probes %d", s.Ksub, s.CoarseK, s.NumProbes)
	}
	if len(s.CoarseCentroids) != s.CoarseK*s.Dimension {
		return fmt.Errorf("coarse centroids have %d values, expected %d", len(s.CoarseCentroids), s.CoarseK*s.Dimension)
	}
	if len(s.Codebooks) != s.Ksub*s.Dimension {
		return fmt.Errorf("codebooks have %d values, expected %d", len(s.Codebooks), s.Ksub*s.Dimension)
	}
	if len(s.Lists) != s.CoarseK {
		return fmt.Errorf("%d inverted lists for %d coarse clusters", len(s.Lists), s.CoarseK)
	}
	total := 0
	for c, list := range s.Lists {
		if len(list.Codes) != len(list.IDs)*s.NumSubquantizers {
			return fmt.Errorf("list %d has %d codes for %d rows", c, len(list.Codes), len(list.IDs))
		}
		for _, id := range list.IDs {
			if id < 0 || int(id) >= s.Rows {
				return fmt.Errorf("list %d references row %d out of range", c, id)
			}
		}
		for _, b := range list.Codes {
			if int(b) >= s.Ksub {
				return fmt.Errorf("list %d holds code %d outside codebook of %d", c, b, s.Ksub)
			}
		}
		total += len(list.IDs)
	}
	if total != s.Rows {
		return fmt.Errorf("inverted lists hold %d rows, expected %d", total, s.Rows)
	}
	return nil
}

// Check interface compliance.
var _ core.Index = (*PQIVFIndex)(nil)
