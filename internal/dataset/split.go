package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

// Split partitions the dataset into training and held-out rows. The shuffle
// is driven entirely by the provided random source, so a fixed seed yields
// the same partition on every run. No row ever lands in both partitions.
func Split(ds *Dataset, ratio float64, rng *rand.Rand) (train, val *Dataset, err error) {
	if ratio <= 0 || ratio >= 1 {
		return nil, nil, fmt.Errorf("split ratio must be in (0,1), got %v", ratio)
	}

	perm := rng.Perm(len(ds.Rows))
	nTrain := int(math.Round(ratio * float64(len(ds.Rows))))
	if nTrain < 1 {
		nTrain = 1
	}
	if nTrain >= len(ds.Rows) {
		nTrain = len(ds.Rows) - 1
	}

	train, val = &Dataset{}, &Dataset{}
	for i, idx := range perm {
		if i < nTrain {
			train.Rows = append(train.Rows, ds.Rows[idx])
		} else {
			val.Rows = append(val.Rows, ds.Rows[idx])
		}
	}

	return train, val, nil
}
