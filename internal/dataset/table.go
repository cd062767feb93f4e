package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

var (
	ErrNoLatentColumns = errors.New("no latent columns found in table")
	ErrMissingTarget   = errors.New("target column not found in table")
	ErrEmptyJoin       = errors.New("latent and target tables share no row ids")
	ErrDatasetNotFound = errors.New("dataset file not found or unreadable")
)

// DefaultLatentPrefix matches the column naming produced by the latent
// extraction pipeline (latent_0, latent_1, ...).
const DefaultLatentPrefix = "latent_"

// LatentTable maps a row id to its latent vector. Row order follows the
// source file.
type LatentTable struct {
	IDs     []string
	Vectors [][]float64
}

func (t *LatentTable) Dim() int {
	if len(t.Vectors) == 0 {
		return 0
	}
	return len(t.Vectors[0])
}

// TargetTable maps a row id to the scalar ground-truth value of one layer.
type TargetTable struct {
	Values map[string]float64
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDatasetNotFound, path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error parsing csv %s: %w", path, err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("%w: %s is empty", ErrDatasetNotFound, path)
	}
	return records, nil
}

// LoadLatentTable reads the latent vector table. The first column is the row
// id; the feature columns are those whose header carries the given prefix, in
// file order. Rows with unparseable or non-finite values are dropped, never
// imputed.
func LoadLatentTable(path, prefix string) (*LatentTable, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	header := records[0]
	var latentCols []int
	for i, name := range header {
		if strings.HasPrefix(name, prefix) {
			latentCols = append(latentCols, i)
		}
	}
	if len(latentCols) == 0 {
		return nil, fmt.Errorf("%w: %s (prefix %q)", ErrNoLatentColumns, path, prefix)
	}

	table := &LatentTable{}
	for _, row := range records[1:] {
		vec := make([]float64, 0, len(latentCols))
		valid := true
		for _, col := range latentCols {
			if col >= len(row) {
				valid = false
				break
			}
			v, err := strconv.ParseFloat(row[col], 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				valid = false
				break
			}
			vec = append(vec, v)
		}
		if !valid {
			continue
		}
		table.IDs = append(table.IDs, row[0])
		table.Vectors = append(table.Vectors, vec)
	}

	return table, nil
}

// LoadTargetTable reads the ground-truth table for one layer. The first
// column is the row id; layerKey names the value column.
func LoadTargetTable(path, layerKey string) (*TargetTable, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	targetCol := -1
	for i, name := range records[0] {
		if name == layerKey {
			targetCol = i
			break
		}
	}
	if targetCol < 0 {
		return nil, fmt.Errorf("%w: column %q in %s", ErrMissingTarget, layerKey, path)
	}

	table := &TargetTable{Values: make(map[string]float64)}
	for _, row := range records[1:] {
		if targetCol >= len(row) {
			continue
		}
		v, err := strconv.ParseFloat(row[targetCol], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		table.Values[row[0]] = v
	}

	return table, nil
}

// Row is one joined training sample.
type Row struct {
	ID     string
	Latent []float64
	Target float64
}

// Dataset is the inner join of a latent table and a target table. Only rows
// present in both tables survive; ordering follows the latent table.
type Dataset struct {
	Rows []Row
}

func Join(latent *LatentTable, target *TargetTable) (*Dataset, error) {
	ds := &Dataset{}
	for i, id := range latent.IDs {
		value, ok := target.Values[id]
		if !ok {
			continue
		}
		ds.Rows = append(ds.Rows, Row{ID: id, Latent: latent.Vectors[i], Target: value})
	}
	if len(ds.Rows) == 0 {
		return nil, ErrEmptyJoin
	}
	return ds, nil
}

func (ds *Dataset) Len() int {
	return len(ds.Rows)
}

func (ds *Dataset) Dim() int {
	if len(ds.Rows) == 0 {
		return 0
	}
	return len(ds.Rows[0].Latent)
}
