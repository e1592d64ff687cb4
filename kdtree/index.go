// Package kdtree implements exact nearest neighbor search with a k-d tree.
package kdtree

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"github.com/patrikhermansson/simindex/core"
	"github.com/patrikhermansson/simindex/internal/topk"
	"github.com/patrikhermansson/simindex/persistence"
)

const (
	// DefaultLeafCapacity is the maximum number of rows kept in a leaf bucket.
	DefaultLeafCapacity = 16
	// DefaultParallelThreshold is the subtree size above which both halves are built concurrently.
	DefaultParallelThreshold = 4096
)

// NewKDTreeIndex creates a new, unbuilt k-d tree index.
func NewKDTreeIndex(leafCapacity, parallelThreshold int) *KDTreeIndex {
	if leafCapacity < 1 {
		leafCapacity = DefaultLeafCapacity
	}
	if parallelThreshold < 1 {
		parallelThreshold = DefaultParallelThreshold
	}
	return &KDTreeIndex{
		LeafCapacity:      leafCapacity,
		ParallelThreshold: parallelThreshold,
		Codec:             persistence.DefaultCodec(),
	}
}

// node is one entry of the tree arena. Children are handles into the same arena.
// Every node covers perm[Start:End]; leaves have Split == -1.
type node struct {
	Split int32   // dimension used for splitting, -1 for leaves
	Value float32 // split coordinate: left rows are <= Value, right rows are >= Value
	Left  int32   // handle of the left child
	Right int32   // handle of the right child
	Start int32   // first position in perm covered by the node
	End   int32   // one past the last position in perm covered by the node
}

// KDTreeIndex is the main structure for the k-d tree index.
type KDTreeIndex struct {
	mu                sync.RWMutex // protects the index state
	built             bool         // set once Build or Restore completes
	data              core.Matrix  // copy of the dataset
	perm              []int32      // row indices ordered so that every node covers a contiguous range
	nodes             []node       // tree arena
	root              int32        // handle of the root node
	LeafCapacity      int          // maximum number of rows in a leaf
	ParallelThreshold int          // subtree size that triggers parallel building
	Codec             persistence.Codec
}

// builder builds a subtree into its own arena. Builders working on disjoint
// ranges of perm may run concurrently.
type builder struct {
	data              core.Matrix
	perm              []int32
	nodes             []node
	leafCapacity      int
	parallelThreshold int
	bar               *progressbar.ProgressBar
}

func (b *builder) child() *builder {
	return &builder{
		data:              b.data,
		perm:              b.perm,
		leafCapacity:      b.leafCapacity,
		parallelThreshold: b.parallelThreshold,
		bar:               b.bar,
	}
}

// widestDimension returns the dimension with the greatest spread over perm[start:end] and that spread.
func (b *builder) widestDimension(start, end int) (int, float32) {
	best, bestSpread := 0, float32(-1)
	for d := 0; d < b.data.Dim; d++ {
		lo := b.data.Data[int(b.perm[start])*b.data.Dim+d]
		hi := lo
		for _, id := range b.perm[start+1 : end] {
			v := b.data.Data[int(id)*b.data.Dim+d]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if spread := hi - lo; spread > bestSpread {
			best, bestSpread = d, spread
		}
	}
	return best, bestSpread
}

func (b *builder) leaf(start, end int) int32 {
	id := int32(len(b.nodes))
	b.nodes = append(b.nodes, node{Split: -1, Start: int32(start), End: int32(end)})
	_ = b.bar.Add(end - start)
	return id
}

// build recursively splits perm[start:end] at the median of the widest dimension.
func (b *builder) build(start, end int) int32 {
	if end-start <= b.leafCapacity {
		return b.leaf(start, end)
	}
	dim, spread := b.widestDimension(start, end)
	if spread <= 0 {
		// All rows in the range are identical.
		return b.leaf(start, end)
	}

	stride := b.data.Dim
	coords := b.data.Data
	segment := b.perm[start:end]
	sort.Slice(segment, func(i, j int) bool {
		ci := coords[int(segment[i])*stride+dim]
		cj := coords[int(segment[j])*stride+dim]
		if ci == cj {
			return segment[i] < segment[j]
		}
		return ci < cj
	})
	mid := start + (end-start)/2
	value := coords[int(b.perm[mid])*stride+dim]

	id := int32(len(b.nodes))
	b.nodes = append(b.nodes, node{Split: int32(dim), Value: value, Start: int32(start), End: int32(end)})

	var left, right int32
	if end-start > b.parallelThreshold {
		lb, rb := b.child(), b.child()
		var lroot, rroot int32
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			lroot = lb.build(start, mid)
		}()
		go func() {
			defer wg.Done()
			rroot = rb.build(mid, end)
		}()
		wg.Wait()
		left = b.adopt(lb, lroot)
		right = b.adopt(rb, rroot)
	} else {
		left = b.build(start, mid)
		right = b.build(mid, end)
	}
	b.nodes[id].Left = left
	b.nodes[id].Right = right
	return id
}

// adopt appends the arena of a child builder and returns the shifted handle of its root.
func (b *builder) adopt(c *builder, root int32) int32 {
	offset := int32(len(b.nodes))
	for _, n := range c.nodes {
		if n.Split >= 0 {
			n.Left += offset
			n.Right += offset
		}
		b.nodes = append(b.nodes, n)
	}
	return root + offset
}

// Build constructs the tree over every row of data. An empty dataset is a configuration error.
func (t *KDTreeIndex) Build(data core.Matrix) error {
	if err := data.Validate(); err != nil {
		return err
	}
	if data.Rows == 0 {
		return fmt.Errorf("%w: cannot build a k-d tree on an empty dataset", core.ErrConfiguration)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.built {
		return fmt.Errorf("%w: index already built", core.ErrConfiguration)
	}

	start := time.Now()
	data = data.Clone()
	perm := make([]int32, data.Rows)
	for i := range perm {
		perm[i] = int32(i)
	}
	b := &builder{
		data:              data,
		perm:              perm,
		leafCapacity:      t.LeafCapacity,
		parallelThreshold: t.ParallelThreshold,
		bar:               core.NewProgressBar(data.Rows, "building k-d tree"),
	}
	root := b.build(0, data.Rows)
	_ = b.bar.Finish()

	t.data = data
	t.perm = perm
	t.nodes = b.nodes
	t.root = root
	t.built = true
	log.Debug().
		Int("rows", data.Rows).
		Int("dim", data.Dim).
		Int("nodes", len(b.nodes)).
		Dur("elapsed", time.Since(start)).
		Msg("Built k-d tree index")
	return nil
}

// descend visits the subtree rooted at id, nearer child first. The farther
// child is skipped when the distance to the splitting plane alone exceeds the
// current k-th best distance.
func (t *KDTreeIndex) descend(id int32, query []float32, sel *topk.Selector) {
	n := &t.nodes[id]
	if n.Split < 0 {
		for _, row := range t.perm[n.Start:n.End] {
			sel.Push(int(row), core.SquaredEuclidean(query, t.data.Row(int(row))))
		}
		return
	}
	diff := float64(query[n.Split]) - float64(n.Value)
	near, far := n.Left, n.Right
	if diff >= 0 {
		near, far = n.Right, n.Left
	}
	t.descend(near, query, sel)
	// Equal bounds are still visited so ties resolve to the lower row index.
	if diff*diff <= sel.Worst() {
		t.descend(far, query, sel)
	}
}

func (t *KDTreeIndex) search(query []float32, k int) (core.Result, error) {
	if err := core.CheckQuery(query, t.data.Dim, k); err != nil {
		return core.Result{}, err
	}
	sel := topk.New(core.ClampK(k, t.data.Rows))
	t.descend(t.root, query, sel)
	return sel.Result(), nil
}

// Query returns the k exact nearest rows to query. k larger than the number of rows is clamped.
func (t *KDTreeIndex) Query(query []float32, k int) (core.Result, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.built {
		return core.Result{}, core.ErrNotBuilt
	}
	return t.search(query, k)
}

// QueryBatch answers every row of queries concurrently.
func (t *KDTreeIndex) QueryBatch(queries core.Matrix, k int) ([]core.Result, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.built {
		return nil, core.ErrNotBuilt
	}
	return core.RunBatch(queries, t.data.Dim, func(q []float32) (core.Result, error) {
		return t.search(q, k)
	})
}

// Depth returns the number of levels in the tree, 0 when unbuilt.
func (t *KDTreeIndex) Depth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.built {
		return 0
	}
	var depth func(id int32) int
	depth = func(id int32) int {
		n := t.nodes[id]
		if n.Split < 0 {
			return 1
		}
		return 1 + max(depth(n.Left), depth(n.Right))
	}
	return depth(t.root)
}

// Stats returns some basic statistics about the index.
func (t *KDTreeIndex) Stats() core.IndexStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return core.IndexStats{
		Kind:      core.KindKDTree,
		Built:     t.built,
		Count:     t.data.Rows,
		Dimension: t.data.Dim,
		Size:      len(t.data.Data)*4 + len(t.perm)*4 + len(t.nodes)*24,
	}
}

// kdtreeSnapshot is used to serialize the index using gob.
type kdtreeSnapshot struct {
	Rows              int
	Dim               int
	Data              []float32
	Perm              []int32
	Nodes             []node
	Root              int32
	LeafCapacity      int
	ParallelThreshold int
}

// Save writes the data and the tree arena to path.
func (t *KDTreeIndex) Save(path string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.built {
		return core.ErrNotBuilt
	}
	snap := kdtreeSnapshot{
		Rows:              t.data.Rows,
		Dim:               t.data.Dim,
		Data:              t.data.Data,
		Perm:              t.perm,
		Nodes:             t.nodes,
		Root:              t.root,
		LeafCapacity:      t.LeafCapacity,
		ParallelThreshold: t.ParallelThreshold,
	}
	return persistence.WriteFile(path, core.KindKDTree, snap, t.Codec)
}

// Restore reads a k-d tree index previously written by Save. The tree is not rebuilt.
func Restore(path string) (*KDTreeIndex, error) {
	var snap kdtreeSnapshot
	if err := persistence.ReadFile(path, core.KindKDTree, &snap); err != nil {
		return nil, err
	}
	if err := snap.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrPersistence, path, err)
	}
	t := NewKDTreeIndex(snap.LeafCapacity, snap.ParallelThreshold)
	t.data = core.Matrix{Rows: snap.Rows, Dim: snap.Dim, Data: snap.Data}
	t.perm = snap.Perm
	t.nodes = snap.Nodes
	t.root = snap.Root
	t.built = true
	return t, nil
}

// validate checks that every handle in the snapshot points inside its arena.
func (s *kdtreeSnapshot) validate() error {
	data := core.Matrix{Rows: s.Rows, Dim: s.Dim, Data: s.Data}
	if err := data.Validate(); err != nil {
		return err
	}
	if s.Rows == 0 || len(s.Perm) != s.Rows {
		return fmt.Errorf("permutation has %d entries for %d rows", len(s.Perm), s.Rows)
	}
	for _, row := range s.Perm {
		if row < 0 || int(row) >= s.Rows {
			return fmt.Errorf("row %d out of range", row)
		}
	}
	count := int32(len(s.Nodes))
	if s.Root < 0 || s.Root >= count {
		return fmt.Errorf("root handle %d out of range", s.Root)
	}
	for i, n := range s.Nodes {
		if n.Start < 0 || n.End < n.Start || int(n.End) > s.Rows {
			return fmt.Errorf("node %d covers invalid range [%d, %d)", i, n.Start, n.End)
		}
		if n.Split < 0 {
			continue
		}
		// Children always follow their parent in the arena.
		if int(n.Split) >= s.Dim || n.Left <= int32(i) || n.Left >= count || n.Right <= int32(i) || n.Right >= count {
			return fmt.Errorf("node %d has invalid split or children", i)
		}
	}
	return nil
}

// Check that KDTreeIndex implements the core.Index interface.
var _ core.Index = (*KDTreeIndex)(nil)
