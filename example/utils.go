package example

import (
	"fmt"
	"strings"

	"github.com/patrikhermansson/simindex/core"
)

// FormatResults returns a formatted string of neighbor results.
// maxResults specifies how many items to include.
func FormatResults(res core.Result, maxResults int) string {
	var b strings.Builder
	for i, n := range res.Neighbors() {
		if i >= maxResults {
			break
		}
		fmt.Fprintf(&b, "id=%d (dist=%.3f) ", n.ID, n.Distance)
	}
	return strings.TrimSpace(b.String())
}

// FormatGroundTruth returns a formatted string of ground-truth neighbor results.
// distances may be shorter than neighbors, missing entries are omitted.
func FormatGroundTruth(neighbors []int, distances []float64, maxResults int) string {
	var b strings.Builder
	for j, id := range neighbors {
		if j >= maxResults {
			break
		}
		if j < len(distances) {
			fmt.Fprintf(&b, "id=%d (dist=%.3f) ", id, distances[j])
		} else {
			fmt.Fprintf(&b, "id=%d ", id)
		}
	}
	return strings.TrimSpace(b.String())
}

// RecallAtK computes Recall@k as the fraction of the first k ground-truth
// neighbors that appear among the first k predictions.
func RecallAtK(predicted core.Result, groundTruth []int, k int) float64 {
	if k <= 0 || len(groundTruth) == 0 {
		return 0.0
	}
	if len(groundTruth) > k {
		groundTruth = groundTruth[:k]
	}
	predSet := make(map[int]struct{}, k)
	for i, id := range predicted.Indices {
		if i >= k {
			break
		}
		predSet[id] = struct{}{}
	}

	correct := 0
	for _, id := range groundTruth {
		if _, ok := predSet[id]; ok {
			correct++
		}
	}
	return float64(correct) / float64(len(groundTruth))
}
