// Package attention implements dot-product attention between decoder queries
// and encoder keys with padding-aware masking.
package attention

import (
	"fmt"
	"math"

	"tdsnet/tensor"
)

// LengthMask builds a [batch][time] validity mask from per-example lengths:
// positions before an example's length are valid.
func LengthMask(lengths []int, timeExt int) [][]bool {
	mask := make([][]bool, len(lengths))
	for b, l := range lengths {
		row := make([]bool, timeExt)
		for t := 0; t < timeExt && t < l; t++ {
			row[t] = true
		}
		mask[b] = row
	}
	return mask
}

// DotAttention computes alignment scores as dot products between queries and
// keys, masks padded encoder positions to -inf before the softmax over
// encoder time, and returns the value-weighted context.
//
// A mask row with no valid position makes the softmax numerically undefined;
// callers must guarantee at least one valid position per example.
type DotAttention struct {
	KeyDim int
}

func NewDotAttention(keyDim int) *DotAttention {
	return &DotAttention{KeyDim: keyDim}
}

// Forward takes queries [B, Tdec, K], keys [B, Tenc, K], values [B, Tenc, V]
// and a validity mask [B][Tenc]. It returns the context [B, Tdec, V] and the
// attention weights [B, Tdec, Tenc].
func (a *DotAttention) Forward(queries, keys, values *tensor.Tensor, mask [][]bool) (*tensor.Tensor, *tensor.Tensor) {
	if queries.Shape[2] != a.KeyDim || keys.Shape[2] != a.KeyDim {
		panic(fmt.Sprintf("attention key dim mismatch: queries %v, keys %v, want key dim %d",
			queries.Shape, keys.Shape, a.KeyDim))
	}

	batch := keys.Shape[0]
	tEnc := keys.Shape[1]

	// scores = queries · keysᵀ  [B, Tdec, Tenc]
	keysT := transposeBatched(keys)
	scores, err := tensor.BatchedMatMul(queries, keysT)
	if err != nil {
		panic(err)
	}

	tDec := scores.Shape[1]
	for b := 0; b < batch; b++ {
		for td := 0; td < tDec; td++ {
			row := scores.Row(b*tDec+td, tEnc)
			for te := 0; te < tEnc; te++ {
				if !mask[b][te] {
					row[te] = math.Inf(-1)
				}
			}
		}
	}

	weights := tensor.Softmax(scores)

	context, err := tensor.BatchedMatMul(weights, values)
	if err != nil {
		panic(err)
	}
	return context, weights
}

// transposeBatched swaps the last two axes of a 3D tensor.
func transposeBatched(t *tensor.Tensor) *tensor.Tensor {
	b, r, c := t.Shape[0], t.Shape[1], t.Shape[2]
	out := tensor.New(b, c, r)
	for bi := 0; bi < b; bi++ {
		base := bi * r * c
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				out.Data[base+j*r+i] = t.Data[base+i*c+j]
			}
		}
	}
	return out
}
