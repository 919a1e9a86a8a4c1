package nn

import (
	"math"

	"tdsnet/tensor"
)

// ============================================================================
// Linear
// ============================================================================

// Linear is an affine projection over the last axis with optional output
// dropout and optional weight normalization. With weight normalization the
// weight matrix is reparameterized as direction × magnitude; the forward
// shape contract is unchanged.
type Linear struct {
	InSize  int
	OutSize int

	Weight *tensor.Tensor // [OutSize, InSize]; direction matrix under weight norm
	Gain   *tensor.Tensor // [OutSize]; per-row magnitude, weight norm only
	Bias   *tensor.Tensor // [OutSize], nil when constructed without bias

	weightNorm bool
	dropout    *Dropout
	name       string
}

type LinearOption func(*Linear)

func WithoutBias() LinearOption {
	return func(l *Linear) { l.Bias = nil }
}

func WithLinearDropout(p float64) LinearOption {
	return func(l *Linear) {
		if p > 0 {
			l.dropout = NewDropout(p)
		}
	}
}

func WithWeightNorm() LinearOption {
	return func(l *Linear) { l.weightNorm = true }
}

func WithLinearName(name string) LinearOption {
	return func(l *Linear) { l.name = name }
}

func NewLinear(inSize, outSize int, opts ...LinearOption) *Linear {
	l := &Linear{
		InSize:  inSize,
		OutSize: outSize,
		Weight:  tensor.New(outSize, inSize),
		Bias:    tensor.Zeros(outSize),
		name:    "linear",
	}

	initUniform(l.Weight, 1.0/math.Sqrt(float64(inSize)), newRand())

	for _, opt := range opts {
		opt(l)
	}

	if l.weightNorm {
		// Initialize the magnitude to the direction rows' norms so the
		// reparameterized weight starts equal to the plain one.
		l.Gain = tensor.New(outSize)
		for o := 0; o < outSize; o++ {
			l.Gain.Data[o] = rowNorm(l.Weight.Row(o, inSize))
		}
	}

	return l
}

func (l *Linear) Name() string { return l.name }

func rowNorm(row []float64) float64 {
	sum := 0.0
	for _, v := range row {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// effectiveWeight returns the weight matrix used by the forward pass.
func (l *Linear) effectiveWeight() *tensor.Tensor {
	if !l.weightNorm {
		return l.Weight
	}
	w := tensor.New(l.OutSize, l.InSize)
	for o := 0; o < l.OutSize; o++ {
		dir := l.Weight.Row(o, l.InSize)
		norm := rowNorm(dir)
		if norm == 0 {
			continue
		}
		scale := l.Gain.Data[o] / norm
		out := w.Row(o, l.InSize)
		for i, v := range dir {
			out[i] = v * scale
		}
	}
	return w
}

// Forward applies the projection to the last axis of input.
func (l *Linear) Forward(input *tensor.Tensor) *tensor.Tensor {
	rows := input.Size() / l.InSize
	x := input.MustReshape(rows, l.InSize)

	y, err := tensor.MatMul(x, l.effectiveWeight().T())
	if err != nil {
		panic(err)
	}
	if l.Bias != nil {
		for r := 0; r < rows; r++ {
			row := y.Row(r, l.OutSize)
			for o := 0; o < l.OutSize; o++ {
				row[o] += l.Bias.Data[o]
			}
		}
	}

	shape := append([]int{}, input.Shape...)
	shape[len(shape)-1] = l.OutSize
	y = y.MustReshape(shape...)

	if l.dropout != nil {
		y = l.dropout.Forward(y)
	}
	return y
}

func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.Weight}
	if l.weightNorm {
		params = append(params, l.Gain)
	}
	if l.Bias != nil {
		params = append(params, l.Bias)
	}
	return params
}

func (l *Linear) SetTraining(training bool) {
	if l.dropout != nil {
		l.dropout.SetTraining(training)
	}
}

// ============================================================================
// Embedding
// ============================================================================

// Embedding maps token indices to dense vectors.
type Embedding struct {
	VocabSize    int
	EmbeddingDim int
	Weight       *tensor.Tensor // [VocabSize, EmbeddingDim]
	name         string
}

func NewEmbedding(vocabSize, embeddingDim int) *Embedding {
	e := &Embedding{
		VocabSize:    vocabSize,
		EmbeddingDim: embeddingDim,
		Weight:       tensor.New(vocabSize, embeddingDim),
		name:         "embedding",
	}
	initUniform(e.Weight, 1.0/math.Sqrt(float64(embeddingDim)), newRand())
	return e
}

func (e *Embedding) Name() string { return e.name }

// Forward looks up every token index in input, appending an embedding axis:
// a [B, U] index tensor becomes [B, U, EmbeddingDim].
func (e *Embedding) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := append([]int{}, input.Shape...)
	shape = append(shape, e.EmbeddingDim)
	output := tensor.New(shape...)

	for i, v := range input.Data {
		idx := int(v)
		copy(output.Data[i*e.EmbeddingDim:(i+1)*e.EmbeddingDim], e.Weight.Row(idx, e.EmbeddingDim))
	}
	return output
}

// Lookup returns the embedding of a single token as a [1, EmbeddingDim]
// tensor.
func (e *Embedding) Lookup(idx int) *tensor.Tensor {
	out := tensor.New(1, e.EmbeddingDim)
	copy(out.Data, e.Weight.Row(idx, e.EmbeddingDim))
	return out
}

func (e *Embedding) Parameters() []*tensor.Tensor { return []*tensor.Tensor{e.Weight} }
