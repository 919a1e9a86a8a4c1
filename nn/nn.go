// Package nn provides the forward-pass building blocks of the TDS
// sequence-to-sequence model: convolutions, normalization, recurrent blocks
// and the residual TDS units. Parameters are exposed for an external
// optimizer; no block computes gradients itself.
package nn

import (
	"sync/atomic"
	"time"

	"golang.org/x/exp/rand"

	"tdsnet/tensor"
)

// ============================================================================
// Layer Interface
// ============================================================================

// Layer is a forward transform with learned parameters.
type Layer interface {
	Forward(input *tensor.Tensor) *tensor.Tensor
	Parameters() []*tensor.Tensor
	Name() string
}

// Trainable is implemented by layers whose forward pass differs between
// training and evaluation mode.
type Trainable interface {
	SetTraining(training bool)
}

// ============================================================================
// Sequential
// ============================================================================

// Sequential chains layers in order.
type Sequential struct {
	Layers []Layer
}

func NewSequential() *Sequential {
	return &Sequential{}
}

func (s *Sequential) Add(layer Layer) *Sequential {
	s.Layers = append(s.Layers, layer)
	return s
}

func (s *Sequential) Forward(input *tensor.Tensor) *tensor.Tensor {
	x := input
	for _, layer := range s.Layers {
		x = layer.Forward(x)
	}
	return x
}

func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, layer := range s.Layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

func (s *Sequential) Name() string { return "sequential" }

// SetTraining propagates the mode to every trainable layer in the stack.
func (s *Sequential) SetTraining(training bool) {
	for _, layer := range s.Layers {
		if t, ok := layer.(Trainable); ok {
			t.SetTraining(training)
		}
	}
}

// ============================================================================
// Dropout
// ============================================================================

// Dropout zeroes activations with probability P during training, scaling the
// survivors by 1/(1-P). Evaluation mode is the identity.
type Dropout struct {
	P        float64
	Training bool
	rng      *rand.Rand
	name     string
}

func NewDropout(p float64) *Dropout {
	return &Dropout{
		P:        p,
		Training: true,
		rng:      newRand(),
		name:     "dropout",
	}
}

func (l *Dropout) Name() string { return l.name }

func (l *Dropout) Forward(input *tensor.Tensor) *tensor.Tensor {
	if !l.Training || l.P == 0 {
		return input
	}

	output := tensor.New(input.Shape...)
	scale := 1.0 / (1.0 - l.P)
	for i := range input.Data {
		if l.rng.Float64() > l.P {
			output.Data[i] = input.Data[i] * scale
		}
	}
	return output
}

func (l *Dropout) Parameters() []*tensor.Tensor { return nil }
func (l *Dropout) SetTraining(training bool)    { l.Training = training }

// ============================================================================
// InferenceSoftmax
// ============================================================================

// InferenceSoftmax applies softmax over the last axis in evaluation mode and
// is the identity during training, where loss functions expect raw logits.
type InferenceSoftmax struct {
	Training bool
}

func NewInferenceSoftmax() *InferenceSoftmax {
	return &InferenceSoftmax{Training: true}
}

func (l *InferenceSoftmax) Name() string { return "inference_softmax" }

func (l *InferenceSoftmax) Forward(input *tensor.Tensor) *tensor.Tensor {
	if l.Training {
		return input
	}
	return tensor.Softmax(input)
}

func (l *InferenceSoftmax) Parameters() []*tensor.Tensor { return nil }
func (l *InferenceSoftmax) SetTraining(training bool)    { l.Training = training }

// ============================================================================
// RNG plumbing
// ============================================================================

var seedCounter uint64

// newRand returns an independent generator. Each layer owns its own so that
// forward passes on different models never share RNG state.
func newRand() *rand.Rand {
	seed := uint64(time.Now().UnixNano()) + atomic.AddUint64(&seedCounter, 1)
	return rand.New(rand.NewSource(seed))
}

// initUniform fills t with draws from uniform(-bound, bound).
func initUniform(t *tensor.Tensor, bound float64, rng *rand.Rand) {
	for i := range t.Data {
		t.Data[i] = (2*rng.Float64() - 1) * bound
	}
}
