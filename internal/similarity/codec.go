package similarity

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector packs a vector as little-endian float32s for BLOB storage.
// An empty vector encodes to nil.
func EncodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	if len(b) == 0 {
		return nil, nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// Mean returns the element-wise mean of vectors. Empty vectors are skipped;
// if none remain, or the remaining vectors disagree on length, it returns nil.
func Mean(vectors [][]float32) []float32 {
	var size, n int
	for _, v := range vectors {
		if len(v) == 0 {
			continue
		}
		if size == 0 {
			size = len(v)
		} else if len(v) != size {
			return nil
		}
		n++
	}
	if n == 0 {
		return nil
	}
	sums := make([]float64, size)
	for _, v := range vectors {
		for i, f := range v {
			sums[i] += float64(f)
		}
	}
	out := make([]float32, size)
	for i, s := range sums {
		out[i] = float32(s / float64(n))
	}
	return out
}
