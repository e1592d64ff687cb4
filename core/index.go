package core

import "fmt"

// Index is the contract shared by every nearest neighbor backend.
// An index is built exactly once and is read-only afterwards.
type Index interface {

	// Build constructs the index state from the dataset. It must be called
	// exactly once, before any query.
	Build(data Matrix) error

	// Query returns the k nearest rows to a single query vector.
	Query(query []float32, k int) (Result, error)

	// QueryBatch runs Query for every row of queries.
	QueryBatch(queries Matrix, k int) ([]Result, error)

	// Save persists the index state to the specified file, overwriting it.
	Save(path string) error

	// Stats returns metadata about the index, such as count and dimensionality.
	Stats() IndexStats
}

// Kind identifies an index backend.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindFlat         // exact brute force search
	KindKDTree       // exact k-d tree search
	KindPQIVF        // approximate inverted file with product quantization
)

var kindNames = map[Kind]string{
	KindFlat:   "flat",
	KindKDTree: "kdtree",
	KindPQIVF:  "pqivf",
}

// String returns the human-readable name of the backend.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Kinds returns every known backend in a stable order.
func Kinds() []Kind {
	return []Kind{KindFlat, KindKDTree, KindPQIVF}
}

// Result holds the k nearest neighbors of one query.
// Distances are squared Euclidean and ascending; Indices[i] is the dataset
// row at distance Distances[i].
type Result struct {
	Distances []float64
	Indices   []int
}

// Len returns the number of neighbors in the result.
func (r Result) Len() int {
	return len(r.Indices)
}

// Neighbors returns the result as a slice of Neighbor values.
func (r Result) Neighbors() []Neighbor {
	out := make([]Neighbor, len(r.Indices))
	for i := range r.Indices {
		out[i] = Neighbor{ID: r.Indices[i], Distance: r.Distances[i]}
	}
	return out
}

// Neighbor holds a neighbor's row index and its computed distance.
type Neighbor struct {
	ID       int
	Distance float64
}

// IndexStats contains metadata about the index.
type IndexStats struct {
	Kind      Kind // backend of the index
	Built     bool // whether Build or Restore has completed
	Count     int  // total number of indexed vectors
	Dimension int  // dimensionality of vectors
	Size      int  // approximate size of the index state in bytes
}
