package nn

import (
	"math"

	"tdsnet/tensor"
)

// ============================================================================
// LayerNorm
// ============================================================================

// LayerNorm normalizes every row over the last axis, then applies a learned
// per-feature scale and shift.
type LayerNorm struct {
	NumFeatures int
	Eps         float64
	Gamma       *tensor.Tensor
	Beta        *tensor.Tensor
	name        string
}

func NewLayerNorm(numFeatures int, eps float64) *LayerNorm {
	return &LayerNorm{
		NumFeatures: numFeatures,
		Eps:         eps,
		Gamma:       tensor.Ones(numFeatures),
		Beta:        tensor.Zeros(numFeatures),
		name:        "layernorm",
	}
}

func (l *LayerNorm) Name() string { return l.name }

func (l *LayerNorm) Forward(input *tensor.Tensor) *tensor.Tensor {
	features := l.NumFeatures
	rows := input.Size() / features

	output := tensor.New(input.Shape...)
	for r := 0; r < rows; r++ {
		in := input.Row(r, features)
		out := output.Row(r, features)

		mean := 0.0
		for _, v := range in {
			mean += v
		}
		mean /= float64(features)

		varSum := 0.0
		for _, v := range in {
			diff := v - mean
			varSum += diff * diff
		}
		invStd := 1.0 / math.Sqrt(varSum/float64(features)+l.Eps)

		for i, v := range in {
			out[i] = l.Gamma.Data[i]*(v-mean)*invStd + l.Beta.Data[i]
		}
	}
	return output
}

func (l *LayerNorm) Parameters() []*tensor.Tensor { return []*tensor.Tensor{l.Gamma, l.Beta} }

// ============================================================================
// BatchNorm
// ============================================================================

// BatchNorm normalizes each feature over the batch axis of a [rows, features]
// tensor, tracking running statistics for evaluation mode.
type BatchNorm struct {
	NumFeatures int
	Gamma       *tensor.Tensor
	Beta        *tensor.Tensor
	RunningMean *tensor.Tensor
	RunningVar  *tensor.Tensor
	Momentum    float64
	Eps         float64
	Training    bool
	name        string
}

func NewBatchNorm(numFeatures int) *BatchNorm {
	return &BatchNorm{
		NumFeatures: numFeatures,
		Gamma:       tensor.Ones(numFeatures),
		Beta:        tensor.Zeros(numFeatures),
		RunningMean: tensor.Zeros(numFeatures),
		RunningVar:  tensor.Ones(numFeatures),
		Momentum:    0.1,
		Eps:         1e-5,
		Training:    true,
		name:        "batchnorm",
	}
}

func (l *BatchNorm) Name() string { return l.name }

func (l *BatchNorm) Forward(input *tensor.Tensor) *tensor.Tensor {
	features := l.NumFeatures
	rows := input.Size() / features

	output := tensor.New(input.Shape...)

	if l.Training {
		for f := 0; f < features; f++ {
			sum := 0.0
			for r := 0; r < rows; r++ {
				sum += input.Data[r*features+f]
			}
			mean := sum / float64(rows)

			varSum := 0.0
			for r := 0; r < rows; r++ {
				diff := input.Data[r*features+f] - mean
				varSum += diff * diff
			}
			variance := varSum / float64(rows)

			l.RunningMean.Data[f] = (1-l.Momentum)*l.RunningMean.Data[f] + l.Momentum*mean
			l.RunningVar.Data[f] = (1-l.Momentum)*l.RunningVar.Data[f] + l.Momentum*variance

			invStd := 1.0 / math.Sqrt(variance+l.Eps)
			for r := 0; r < rows; r++ {
				norm := (input.Data[r*features+f] - mean) * invStd
				output.Data[r*features+f] = l.Gamma.Data[f]*norm + l.Beta.Data[f]
			}
		}
	} else {
		for f := 0; f < features; f++ {
			invStd := 1.0 / math.Sqrt(l.RunningVar.Data[f]+l.Eps)
			for r := 0; r < rows; r++ {
				norm := (input.Data[r*features+f] - l.RunningMean.Data[f]) * invStd
				output.Data[r*features+f] = l.Gamma.Data[f]*norm + l.Beta.Data[f]
			}
		}
	}

	return output
}

func (l *BatchNorm) Parameters() []*tensor.Tensor { return []*tensor.Tensor{l.Gamma, l.Beta} }
func (l *BatchNorm) SetTraining(training bool)    { l.Training = training }

// ============================================================================
// SequenceWise
// ============================================================================

// SequenceWise collapses a [T, N, H] tensor to [(T·N), H], applies the
// wrapped per-feature transform, and restores the [T, N, H'] shape. The
// wrapped layer must be independent of time and batch position.
type SequenceWise struct {
	Module Layer
}

func NewSequenceWise(module Layer) *SequenceWise {
	return &SequenceWise{Module: module}
}

func (l *SequenceWise) Name() string { return "sequence_wise" }

func (l *SequenceWise) Forward(input *tensor.Tensor) *tensor.Tensor {
	t, n := input.Shape[0], input.Shape[1]
	x := input.MustReshape(t*n, -1)
	x = l.Module.Forward(x)
	return x.MustReshape(t, n, -1)
}

func (l *SequenceWise) Parameters() []*tensor.Tensor { return l.Module.Parameters() }

func (l *SequenceWise) SetTraining(training bool) {
	if t, ok := l.Module.(Trainable); ok {
		t.SetTraining(training)
	}
}
