package nn

import (
	"fmt"
	"math"

	"tdsnet/tensor"
)

// ============================================================================
// Recurrent cell types
// ============================================================================

// CellType enumerates the supported recurrent cells.
type CellType int

const (
	LSTM CellType = iota
	GRU
	RNN
)

func (c CellType) String() string {
	switch c {
	case LSTM:
		return "lstm"
	case GRU:
		return "gru"
	case RNN:
		return "rnn"
	}
	return fmt.Sprintf("cell(%d)", int(c))
}

// ParseCellType maps a configuration name to a cell type. Unknown names are
// a configuration error.
func ParseCellType(s string) (CellType, error) {
	switch s {
	case "lstm":
		return LSTM, nil
	case "gru":
		return GRU, nil
	case "rnn":
		return RNN, nil
	}
	return 0, fmt.Errorf("unsupported rnn type %q (want lstm, gru or rnn)", s)
}

func (c CellType) gates() int {
	switch c {
	case LSTM:
		return 4
	case GRU:
		return 3
	default:
		return 1
	}
}

// ============================================================================
// Cell
// ============================================================================

// cell holds the weights of one direction. Layout follows the usual gate
// ordering (LSTM: i,f,g,o; GRU: r,z,n). No bias terms: the recurrent block
// is constructed biasless.
type cell struct {
	typ        CellType
	hiddenSize int
	Wih        *tensor.Tensor // [gates*H, in]
	Whh        *tensor.Tensor // [gates*H, H]
}

func newCell(typ CellType, inputSize, hiddenSize int) *cell {
	g := typ.gates()
	c := &cell{
		typ:        typ,
		hiddenSize: hiddenSize,
		Wih:        tensor.New(g*hiddenSize, inputSize),
		Whh:        tensor.New(g*hiddenSize, hiddenSize),
	}
	bound := 1.0 / math.Sqrt(float64(hiddenSize))
	rng := newRand()
	initUniform(c.Wih, bound, rng)
	initUniform(c.Whh, bound, rng)
	return c
}

func sigmoid(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) }

// step advances one time step for a [N, in] input. h and c are [N, H]; c is
// ignored unless the cell is an LSTM. Returns the new hidden and cell state.
func (l *cell) step(x, h, c *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	gi, err := tensor.MatMul(x, l.Wih.T())
	if err != nil {
		panic(err)
	}
	gh, err := tensor.MatMul(h, l.Whh.T())
	if err != nil {
		panic(err)
	}

	n := x.Shape[0]
	hs := l.hiddenSize
	g := l.typ.gates()

	newH := tensor.New(n, hs)
	var newC *tensor.Tensor
	if l.typ == LSTM {
		newC = tensor.New(n, hs)
	}

	for b := 0; b < n; b++ {
		giRow := gi.Row(b, g*hs)
		ghRow := gh.Row(b, g*hs)

		switch l.typ {
		case LSTM:
			for j := 0; j < hs; j++ {
				i := sigmoid(giRow[j] + ghRow[j])
				f := sigmoid(giRow[hs+j] + ghRow[hs+j])
				gg := math.Tanh(giRow[2*hs+j] + ghRow[2*hs+j])
				o := sigmoid(giRow[3*hs+j] + ghRow[3*hs+j])

				ct := f*c.Data[b*hs+j] + i*gg
				newC.Data[b*hs+j] = ct
				newH.Data[b*hs+j] = o * math.Tanh(ct)
			}
		case GRU:
			for j := 0; j < hs; j++ {
				r := sigmoid(giRow[j] + ghRow[j])
				z := sigmoid(giRow[hs+j] + ghRow[hs+j])
				nv := math.Tanh(giRow[2*hs+j] + r*ghRow[2*hs+j])

				newH.Data[b*hs+j] = (1-z)*nv + z*h.Data[b*hs+j]
			}
		default:
			for j := 0; j < hs; j++ {
				newH.Data[b*hs+j] = math.Tanh(giRow[j] + ghRow[j])
			}
		}
	}

	return newH, newC
}

// ============================================================================
// BatchRNN
// ============================================================================

// State is the hidden recurrent state threaded through single-step decoding.
// C is nil for non-LSTM cells.
type State struct {
	H *tensor.Tensor // [N, H]
	C *tensor.Tensor // [N, H], LSTM only
}

// BatchRNN runs a recurrent cell over a padded [T, N, H] batch, respecting
// per-example valid lengths: hidden state stops advancing past an example's
// length and padded output positions are zero. An optional per-feature batch
// normalization is applied time-and-batch independently before the cell.
// Bidirectional blocks fold the two directions back to H by elementwise sum.
type BatchRNN struct {
	InputSize     int
	HiddenSize    int
	Cell          CellType
	Bidirectional bool

	batchNorm *SequenceWise
	fwd       *cell
	bwd       *cell
}

type BatchRNNOption func(*BatchRNN)

func WithBatchNorm() BatchRNNOption {
	return func(r *BatchRNN) {
		r.batchNorm = NewSequenceWise(NewBatchNorm(r.InputSize))
	}
}

func WithBidirectional() BatchRNNOption {
	return func(r *BatchRNN) { r.Bidirectional = true }
}

func NewBatchRNN(inputSize, hiddenSize int, typ CellType, opts ...BatchRNNOption) *BatchRNN {
	r := &BatchRNN{
		InputSize:  inputSize,
		HiddenSize: hiddenSize,
		Cell:       typ,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.fwd = newCell(typ, inputSize, hiddenSize)
	if r.Bidirectional {
		r.bwd = newCell(typ, inputSize, hiddenSize)
	}
	return r
}

// InitialState returns a zero state for a batch of the given size.
func (r *BatchRNN) InitialState(batch int) *State {
	st := &State{H: tensor.New(batch, r.HiddenSize)}
	if r.Cell == LSTM {
		st.C = tensor.New(batch, r.HiddenSize)
	}
	return st
}

// Forward runs the full sequence. x is [T, N, InputSize]; lengths holds each
// example's valid length. The output is [T, N, HiddenSize]; positions beyond
// an example's length are zero and must not be relied upon by callers.
func (r *BatchRNN) Forward(x *tensor.Tensor, lengths []int) *tensor.Tensor {
	if r.batchNorm != nil {
		x = r.batchNorm.Forward(x)
	}

	out := r.runDirection(r.fwd, x, lengths, false)
	if r.Bidirectional {
		back := r.runDirection(r.bwd, x, lengths, true)
		out = tensor.Add(out, back)
	}
	return out
}

// runDirection steps the cell over time. In reverse mode each example's
// recursion starts at its own last valid frame: the hidden state stays zero
// while t >= length, which is equivalent to packing the reversed sequence.
func (r *BatchRNN) runDirection(c *cell, x *tensor.Tensor, lengths []int, reverse bool) *tensor.Tensor {
	timeSteps := x.Shape[0]
	n := x.Shape[1]
	in := x.Shape[2]
	hs := r.HiddenSize

	h := tensor.New(n, hs)
	var cs *tensor.Tensor
	if r.Cell == LSTM {
		cs = tensor.New(n, hs)
	}

	out := tensor.New(timeSteps, n, hs)

	for step := 0; step < timeSteps; step++ {
		t := step
		if reverse {
			t = timeSteps - 1 - step
		}

		xt := &tensor.Tensor{
			Data:  x.Data[t*n*in : (t+1)*n*in],
			Shape: []int{n, in},
		}
		newH, newC := c.step(xt, h, cs)

		for b := 0; b < n; b++ {
			if t >= lengths[b] {
				// Past this example's valid extent: keep the previous state
				// and leave the output row zero.
				copy(newH.Row(b, hs), h.Row(b, hs))
				if newC != nil {
					copy(newC.Row(b, hs), cs.Row(b, hs))
				}
				continue
			}
			copy(out.Data[(t*n+b)*hs:(t*n+b+1)*hs], newH.Row(b, hs))
		}

		h = newH
		if newC != nil {
			cs = newC
		}
	}

	return out
}

// StepForward advances a single decoding step. x is [N, InputSize], st the
// explicit hidden state; no length handling is needed for length-1 steps.
func (r *BatchRNN) StepForward(x *tensor.Tensor, st *State) (*tensor.Tensor, *State) {
	if r.batchNorm != nil {
		n := x.Shape[0]
		x = r.batchNorm.Forward(x.MustReshape(1, n, -1)).MustReshape(n, -1)
	}
	newH, newC := r.fwd.step(x, st.H, st.C)
	return newH, &State{H: newH, C: newC}
}

func (r *BatchRNN) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{r.fwd.Wih, r.fwd.Whh}
	if r.bwd != nil {
		params = append(params, r.bwd.Wih, r.bwd.Whh)
	}
	if r.batchNorm != nil {
		params = append(params, r.batchNorm.Parameters()...)
	}
	return params
}

func (r *BatchRNN) SetTraining(training bool) {
	if r.batchNorm != nil {
		r.batchNorm.SetTraining(training)
	}
}
