package policy

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Saturate squashes z smoothly into [-1, 1] with (9 sin z + sin 3z)/8.
func Saturate(z float64) float64 {
	return (9*math.Sin(z) + math.Sin(3*z)) / 8
}

// saturateRows applies maxU·Saturate to every column of u in place. A nil
// maxU leaves u unchanged.
func saturateRows(u *mat.Dense, maxU []float64) {
	if maxU == nil {
		return
	}
	n, c := u.Dims()
	for i := 0; i < n; i++ {
		row := u.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] = maxU[j] * Saturate(row[j])
		}
	}
}
