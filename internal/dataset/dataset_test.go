package dataset

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"bnn-backend/internal/descriptor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), os.ModePerm))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const latentCSV = `id,northing,easting,latent_0,latent_1,latent_2
tile_001,10.0,20.0,0.1,0.2,0.3
tile_002,11.0,21.0,0.4,0.5,0.6
tile_003,12.0,22.0,0.7,NaN,0.9
tile_004,13.0,23.0,1.0,1.1,1.2
`

const targetCSV = `id,landability
tile_001,0.9
tile_002,0.5
tile_004,0.1
tile_005,0.7
`

func TestLoadLatentTable(t *testing.T) {
	path := writeCSV(t, t.TempDir(), "latent.csv", latentCSV)

	table, err := LoadLatentTable(path, DefaultLatentPrefix)
	require.NoError(t, err)

	// tile_003 is dropped: NaN latent value.
	assert.Equal(t, []string{"tile_001", "tile_002", "tile_004"}, table.IDs)
	assert.Equal(t, 3, table.Dim())
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, table.Vectors[0])
}

func TestLoadLatentTableNoLatentColumns(t *testing.T) {
	path := writeCSV(t, t.TempDir(), "latent.csv", "id,a,b\nx,1,2\n")

	_, err := LoadLatentTable(path, DefaultLatentPrefix)
	assert.ErrorIs(t, err, ErrNoLatentColumns)
}

func TestLoadLatentTableMissingFile(t *testing.T) {
	_, err := LoadLatentTable(filepath.Join(t.TempDir(), "nope.csv"), DefaultLatentPrefix)
	assert.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestLoadTargetTable(t *testing.T) {
	path := writeCSV(t, t.TempDir(), "target.csv", targetCSV)

	table, err := LoadTargetTable(path, "landability")
	require.NoError(t, err)

	assert.Len(t, table.Values, 4)
	assert.Equal(t, 0.9, table.Values["tile_001"])
}

func TestLoadTargetTableMissingColumn(t *testing.T) {
	path := writeCSV(t, t.TempDir(), "target.csv", targetCSV)

	_, err := LoadTargetTable(path, "measurability")
	assert.ErrorIs(t, err, ErrMissingTarget)
}

func TestJoin(t *testing.T) {
	dir := t.TempDir()
	latent, err := LoadLatentTable(writeCSV(t, dir, "latent.csv", latentCSV), DefaultLatentPrefix)
	require.NoError(t, err)
	target, err := LoadTargetTable(writeCSV(t, dir, "target.csv", targetCSV), "landability")
	require.NoError(t, err)

	ds, err := Join(latent, target)
	require.NoError(t, err)

	// Inner join: tile_003 has no valid latent row, tile_005 has no latent
	// row at all; neither is imputed.
	require.Equal(t, 3, ds.Len())
	assert.Equal(t, "tile_001", ds.Rows[0].ID)
	assert.Equal(t, 0.9, ds.Rows[0].Target)
	assert.Equal(t, "tile_004", ds.Rows[2].ID)
}

func TestJoinDisjoint(t *testing.T) {
	latent := &LatentTable{IDs: []string{"a"}, Vectors: [][]float64{{1}}}
	target := &TargetTable{Values: map[string]float64{"b": 1}}

	_, err := Join(latent, target)
	assert.ErrorIs(t, err, ErrEmptyJoin)
}

func TestSplit(t *testing.T) {
	ds := &Dataset{}
	for i := 0; i < 100; i++ {
		ds.Rows = append(ds.Rows, Row{ID: string(rune('a' + i%26)) + string(rune('0' + i/26))})
	}

	train, val, err := Split(ds, 0.9, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	assert.Equal(t, 90, train.Len())
	assert.Equal(t, 10, val.Len())

	seen := make(map[string]int)
	for _, r := range train.Rows {
		seen[r.ID]++
	}
	for _, r := range val.Rows {
		seen[r.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "row %s assigned to both partitions", id)
	}
}

func TestSplitReproducible(t *testing.T) {
	ds := &Dataset{}
	for i := 0; i < 50; i++ {
		ds.Rows = append(ds.Rows, Row{ID: string(rune('a' + i))})
	}

	train1, val1, err := Split(ds, 0.8, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	train2, val2, err := Split(ds, 0.8, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	assert.Equal(t, train1, train2)
	assert.Equal(t, val1, val2)
}

func TestSplitInvalidRatio(t *testing.T) {
	ds := &Dataset{Rows: []Row{{ID: "a"}, {ID: "b"}}}

	_, _, err := Split(ds, 0, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
	_, _, err = Split(ds, 1.5, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestResolver(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, filepath.Join("latent", "high_h64.csv"), latentCSV)
	writeCSV(t, dir, filepath.Join("targets", "measurability_high.csv"), targetCSV)

	d, err := descriptor.Decode("dM4h6432")
	require.NoError(t, err)

	resolver := NewConventionResolver(dir)
	latentPath, targetPath, err := resolver.Resolve(d)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "latent", "high_h64.csv"), latentPath)
	assert.Equal(t, filepath.Join(dir, "targets", "measurability_high.csv"), targetPath)
}

func TestResolverMissingFile(t *testing.T) {
	d, err := descriptor.Decode("dM3u16F9")
	require.NoError(t, err)

	resolver := NewConventionResolver(t.TempDir())
	_, _, err = resolver.Resolve(d)
	assert.ErrorIs(t, err, ErrDatasetNotFound)
}
