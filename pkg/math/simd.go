// Package math provides small float32 vector helpers for the embedding
// stage's mean-pooling step. Kept free of any dependency on the embedding
// package itself so it stays a pure numeric leaf.
package math

// ScaleVector multiplies all elements by a scalar in-place.
func ScaleVector(v []float32, scalar float32) {
	for i := range v {
		v[i] *= scalar
	}
}

// ZeroVector fills a vector with zeros.
func ZeroVector(v []float32) {
	for i := range v {
		v[i] = 0
	}
}

// MeanVector computes the element-wise mean of multiple vectors, storing
// the result in dst, which must be pre-allocated to the target dimension.
func MeanVector(dst []float32, vectors [][]float32) {
	if len(vectors) == 0 || len(dst) == 0 {
		return
	}

	ZeroVector(dst)

	for _, v := range vectors {
		for i := 0; i < len(dst) && i < len(v); i++ {
			dst[i] += v[i]
		}
	}

	invN := float32(1.0 / float64(len(vectors)))
	ScaleVector(dst, invN)
}
