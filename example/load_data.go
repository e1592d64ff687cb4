package example

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/patrikhermansson/simindex/core"
)

// Dataset is a benchmark dataset split into indexed and query vectors.
// Neighbors and Distances hold the ground truth per query and may be nil.
type Dataset struct {
	Name      string
	Train     core.Matrix
	Test      core.Matrix
	Neighbors [][]int
	Distances [][]float64
}

// LoadDataset loads a dataset from a directory.
// The directory must contain the following files:
//   - train.csv       (vectors to index)
//   - test.csv        (query vectors, not indexed)
//
// and may contain:
//   - neighbors.csv   (expected neighbor row indices per query)
//   - distances.csv   (expected distances per query)
func LoadDataset(dir string) (*Dataset, error) {
	log.Info().Msgf("Loading dataset from directory: %s", dir)
	ds := &Dataset{Name: filepath.Base(dir)}

	var err error
	if ds.Train, err = LoadMatrix(filepath.Join(dir, "train.csv"), false); err != nil {
		return nil, fmt.Errorf("failed to load train.csv: %w", err)
	}
	if ds.Test, err = LoadMatrix(filepath.Join(dir, "test.csv"), false); err != nil {
		return nil, fmt.Errorf("failed to load test.csv: %w", err)
	}
	if ds.Test.Rows > 0 && ds.Train.Rows > 0 && ds.Test.Dim != ds.Train.Dim {
		return nil, &core.DimensionMismatchError{Expected: ds.Train.Dim, Actual: ds.Test.Dim}
	}

	neighborsPath := filepath.Join(dir, "neighbors.csv")
	if ds.Neighbors, err = readOptionalCSV[int](neighborsPath); err != nil {
		return nil, fmt.Errorf("failed to load neighbors.csv: %w", err)
	}
	distancesPath := filepath.Join(dir, "distances.csv")
	if ds.Distances, err = readOptionalCSV[float64](distancesPath); err != nil {
		return nil, fmt.Errorf("failed to load distances.csv: %w", err)
	}
	if ds.Neighbors != nil && len(ds.Neighbors) != ds.Test.Rows {
		return nil, fmt.Errorf("%w: %d ground-truth rows for %d queries",
			core.ErrInvalidArgument, len(ds.Neighbors), ds.Test.Rows)
	}

	log.Info().Msgf("Loaded dataset %s: %d train and %d test vectors of dimension %d",
		ds.Name, ds.Train.Rows, ds.Test.Rows, ds.Train.Dim)
	return ds, nil
}

// LoadMatrix reads float32 vectors from a CSV file, one vector per record.
func LoadMatrix(path string, skipHeader bool) (core.Matrix, error) {
	rows, err := readCSV[float32](path, skipHeader)
	if err != nil {
		return core.Matrix{}, err
	}
	m, err := core.NewMatrix(rows)
	if err != nil {
		return core.Matrix{}, fmt.Errorf("%s: %w", path, err)
	}
	log.Info().Msgf("Loaded %d vectors from %s", m.Rows, path)
	return m, nil
}

func readOptionalCSV[T int | float32 | float64](path string) ([][]T, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Debug().Msgf("No ground truth at %s", path)
		return nil, nil
	}
	return readCSV[T](path, false)
}

// readCSV is a generic CSV reader for types: int, float32, and float64.
func readCSV[T int | float32 | float64](path string, skipHeader bool) ([][]T, error) {
	log.Debug().Msgf("Opening CSV file: %s", path)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	var result [][]T

	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read error in %s: %w", path, err)
		}
		if skipHeader {
			skipHeader = false
			continue
		}
		row := make([]T, len(record))
		for i, val := range record {
			parsed, err := parseValue[T](val)
			if err != nil {
				return nil, fmt.Errorf("parse error at line %d col %d in %s: %w", line, i, path, err)
			}
			row[i] = parsed
		}
		result = append(result, row)
	}

	log.Debug().Msgf("Parsed %d rows from %s", len(result), path)
	return result, nil
}

// parseValue converts a string to T (int, float32, or float64).
func parseValue[T int | float32 | float64](s string) (T, error) {
	s = strings.TrimSpace(s)
	var zero T
	switch any(zero).(type) {
	case int:
		v, err := strconv.Atoi(s)
		return any(v).(T), err
	case float32:
		v, err := strconv.ParseFloat(s, 32)
		return any(float32(v)).(T), err
	case float64:
		v, err := strconv.ParseFloat(s, 64)
		return any(v).(T), err
	default:
		return zero, fmt.Errorf("unsupported type %T", zero)
	}
}

// WriteMatrix writes m as CSV with one vector per record.
func WriteMatrix(w io.Writer, m core.Matrix) error {
	cw := csv.NewWriter(w)
	record := make([]string, m.Dim)
	for i := 0; i < m.Rows; i++ {
		for j, v := range m.Row(i) {
			record[j] = strconv.FormatFloat(float64(v), 'g', -1, 32)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
