// Package topk selects the k best (distance, index) pairs out of a stream of candidates.
package topk

import (
	"container/heap"
	"math"
	"sort"

	"github.com/patrikhermansson/simindex/core"
)

// candidate represents a potential neighbor with its distance.
type candidate struct {
	id   int     // dataset row index
	dist float64 // distance to the query vector
}

// less orders candidates by distance, then by lower row index.
func less(a, b candidate) bool {
	if a.dist == b.dist {
		return a.id < b.id
	}
	return a.dist < b.dist
}

// candidateMaxHeap keeps the worst retained candidate at the root.
type candidateMaxHeap []candidate

func (h candidateMaxHeap) Len() int            { return len(h) }
func (h candidateMaxHeap) Less(i, j int) bool  { return less(h[j], h[i]) }
func (h candidateMaxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateMaxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candidateMaxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Selector retains the k smallest candidates ordered by (distance, index).
// A Selector is not safe for concurrent use.
type Selector struct {
	k int
	h candidateMaxHeap
}

// New returns a selector that keeps at most k candidates.
func New(k int) *Selector {
	if k < 0 {
		k = 0
	}
	return &Selector{k: k, h: make(candidateMaxHeap, 0, k)}
}

// Push offers a candidate and reports whether it was retained.
func (s *Selector) Push(id int, dist float64) bool {
	c := candidate{id: id, dist: dist}
	if len(s.h) < s.k {
		heap.Push(&s.h, c)
		return true
	}
	if s.k == 0 || !less(c, s.h[0]) {
		return false
	}
	s.h[0] = c
	heap.Fix(&s.h, 0)
	return true
}

// Full reports whether k candidates are retained.
func (s *Selector) Full() bool {
	return len(s.h) >= s.k
}

// Worst returns the largest retained distance, or +Inf while the selector is not full.
func (s *Selector) Worst() float64 {
	if !s.Full() || len(s.h) == 0 {
		return math.Inf(1)
	}
	return s.h[0].dist
}

// Len returns the number of retained candidates.
func (s *Selector) Len() int {
	return len(s.h)
}

// Result returns the retained candidates in ascending (distance, index) order.
func (s *Selector) Result() core.Result {
	sorted := make([]candidate, len(s.h))
	copy(sorted, s.h)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	res := core.Result{
		Distances: make([]float64, len(sorted)),
		Indices:   make([]int, len(sorted)),
	}
	for i, c := range sorted {
		res.Distances[i] = c.dist
		res.Indices[i] = c.id
	}
	return res
}
