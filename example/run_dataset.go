package example

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/patrikhermansson/simindex/core"
	"github.com/patrikhermansson/simindex/index"
)

// RunConfig controls a dataset run.
type RunConfig struct {
	K          int
	NumQueries int // negative selects every test vector and suppresses per-query output
	MaxResults int
	Threads    int // 0 reads HANN_BENCH_NTRD, defaulting to 1
}

// QueryResult holds the results for a single query.
type QueryResult struct {
	Recall   float64
	Duration time.Duration
	Result   core.Result
}

// Report summarizes a dataset run.
type Report struct {
	Stats         core.IndexStats
	BuildTime     time.Duration
	Queries       []QueryResult
	AverageRecall float64
	AverageQuery  time.Duration
	Runtime       time.Duration
}

func benchThreads() int {
	if env := os.Getenv("HANN_BENCH_NTRD"); env != "" {
		if t, err := strconv.Atoi(env); err == nil && t > 0 {
			log.Info().Msgf("Using %d threads for benchmarking", t)
			return t
		}
		log.Warn().Msgf("Failed to parse HANN_BENCH_NTRD value: %s", env)
	}
	return 1
}

// GroundTruth returns the neighbor lists ds carries, or computes them with an
// exact flat index over the training vectors when the dataset has none.
func GroundTruth(ds *Dataset, k int) ([][]int, error) {
	if ds.Neighbors != nil {
		return ds.Neighbors, nil
	}
	log.Info().Msgf("Computing ground truth for %d queries with a flat index", ds.Test.Rows)
	opts := index.DefaultOptions()
	opts.Backend = core.KindFlat.String()
	baseline, err := index.Create(ds.Train, opts)
	if err != nil {
		return nil, err
	}
	results, err := baseline.QueryBatch(ds.Test, k)
	if err != nil {
		return nil, err
	}
	truth := make([][]int, len(results))
	for i, res := range results {
		truth[i] = res.Indices
	}
	return truth, nil
}

// RunDataset builds an index over ds.Train with opts and answers the test
// queries, comparing each answer against the ground truth. Per-query details
// are written to w unless every query is run.
func RunDataset(ds *Dataset, opts index.Options, cfg RunConfig, w io.Writer) (*Report, error) {
	if cfg.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", core.ErrInvalidArgument, cfg.K)
	}
	overallStart := time.Now()
	truth, err := GroundTruth(ds, cfg.K)
	if err != nil {
		return nil, fmt.Errorf("ground truth: %w", err)
	}

	buildStart := time.Now()
	idx, err := index.Create(ds.Train, opts)
	if err != nil {
		return nil, err
	}
	report := &Report{Stats: idx.Stats(), BuildTime: time.Since(buildStart)}
	fmt.Fprintf(w, "Indexed %d vectors (%d dimensions) with %s in %.2fs\n",
		report.Stats.Count, report.Stats.Dimension, report.Stats.Kind, report.BuildTime.Seconds())

	numQueries := cfg.NumQueries
	benchmarkMode := false
	if numQueries < 0 || numQueries > ds.Test.Rows {
		numQueries = ds.Test.Rows
		benchmarkMode = cfg.NumQueries < 0
	}
	if len(truth) < numQueries {
		return nil, fmt.Errorf("%w: %d ground-truth rows for %d queries",
			core.ErrInvalidArgument, len(truth), numQueries)
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = benchThreads()
	}
	fmt.Fprintf(w, "Running kNN queries (k=%d) on %d test vectors using %d threads\n", cfg.K, numQueries, threads)

	report.Queries = make([]QueryResult, numQueries)
	bar := core.NewProgressBar(numQueries, "querying")
	var g errgroup.Group
	g.SetLimit(threads)
	for i := 0; i < numQueries; i++ {
		i := i
		g.Go(func() error {
			start := time.Now()
			res, err := idx.Query(ds.Test.Row(i), cfg.K)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			report.Queries[i] = QueryResult{
				Recall:   RecallAtK(res, truth[i], cfg.K),
				Duration: time.Since(start),
				Result:   res,
			}
			_ = bar.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	_ = bar.Finish()

	var totalRecall float64
	var totalQueryTime time.Duration
	for i, q := range report.Queries {
		totalRecall += q.Recall
		totalQueryTime += q.Duration
		if benchmarkMode {
			continue
		}
		var gtDistances []float64
		if i < len(ds.Distances) {
			gtDistances = ds.Distances[i]
		}
		fmt.Fprintf(w, "Query #%d:\n", i+1)
		fmt.Fprintf(w, " -> Predicted:     %s\n", FormatResults(q.Result, cfg.MaxResults))
		fmt.Fprintf(w, " -> Ground-truth:  %s\n", FormatGroundTruth(truth[i], gtDistances, cfg.MaxResults))
		fmt.Fprintf(w, " -> Recall@%d:     %.2f, Response time: %v\n", cfg.K, q.Recall, q.Duration)
	}
	if numQueries > 0 {
		report.AverageRecall = totalRecall / float64(numQueries)
		report.AverageQuery = totalQueryTime / time.Duration(numQueries)
	}
	report.Runtime = time.Since(overallStart)

	fmt.Fprintf(w, "Average Recall@%d over %d queries: %.2f\n", cfg.K, numQueries, report.AverageRecall)
	fmt.Fprintf(w, "Average query response time: %v\n", report.AverageQuery)
	fmt.Fprintf(w, "Overall runtime: %v\n", report.Runtime)
	return report, nil
}
