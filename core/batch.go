package core

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// RunBatch answers every row of queries with query, fanning the work out over
// at most runtime.NumCPU() goroutines. Results keep the order of the rows.
// The first error stops the remaining queries and is returned.
func RunBatch(queries Matrix, dim int, query func(q []float32) (Result, error)) ([]Result, error) {
	if err := queries.Validate(); err != nil {
		return nil, err
	}
	if queries.Rows > 0 && queries.Dim != dim {
		return nil, &DimensionMismatchError{Expected: dim, Actual: queries.Dim}
	}
	results := make([]Result, queries.Rows)
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := 0; i < queries.Rows; i++ {
		i := i
		g.Go(func() error {
			res, err := query(queries.Row(i))
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
