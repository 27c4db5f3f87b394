package analysis

import "gonum.org/v1/gonum/mat"

// matFromRows builds a dense matrix from row slices for tests.
func matFromRows(rows [][]float64) *mat.Dense {
	out := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, row := range rows {
		out.SetRow(i, row)
	}
	return out
}
