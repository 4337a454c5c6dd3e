package fbank

// LFR stacks m consecutive frames with stride n (low frame rate). The first
// frame is left-padded with (m-1)/2 copies and the tail is padded with the
// last frame, so the output has ceil(T/n) rows of width m*D.
func LFR(features [][]float32, m, n int) [][]float32 {
	T := len(features)
	if T == 0 || m <= 0 || n <= 0 {
		return nil
	}
	d := len(features[0])
	left := (m - 1) / 2
	padded := make([][]float32, 0, T+left)
	for i := 0; i < left; i++ {
		padded = append(padded, features[0])
	}
	padded = append(padded, features...)

	rows := (T + n - 1) / n
	out := make([][]float32, rows)
	for r := 0; r < rows; r++ {
		row := make([]float32, 0, m*d)
		for j := 0; j < m; j++ {
			idx := r*n + j
			if idx >= len(padded) {
				idx = len(padded) - 1
			}
			row = append(row, padded[idx]...)
		}
		out[r] = row
	}
	return out
}

// ApplyCMVN applies (x + negMean) * invStddev per dimension in place, using
// statistics precomputed over a training corpus.
func ApplyCMVN(features [][]float32, negMean, invStddev []float32) {
	for _, f := range features {
		for i := range f {
			if i < len(negMean) && i < len(invStddev) {
				f[i] = (f[i] + negMean[i]) * invStddev[i]
			}
		}
	}
}
