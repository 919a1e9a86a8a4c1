package seq2seq

import (
	"tdsnet/tensor"
)

// Config holds the encoder and decoder configurations of a full model.
type Config struct {
	Encoder EncoderConfig
	Decoder DecoderConfig
}

// Model composes the TDS encoder with the attention decoder. Training
// forwards build end-of-sequence-framed teacher-forcing sequences and return
// a padded cross-entropy loss; inference forwards decode autoregressively.
type Model struct {
	Encoder *Encoder
	Decoder *Decoder
}

// New constructs both halves from configuration, failing fast on any invalid
// combination.
func New(cfg Config) (*Model, error) {
	enc, err := NewEncoder(cfg.Encoder)
	if err != nil {
		return nil, err
	}
	dec, err := NewDecoder(cfg.Decoder)
	if err != nil {
		return nil, err
	}
	return &Model{Encoder: enc, Decoder: dec}, nil
}

// ForwardTraining encodes the features, frames every target with the
// end-of-sequence symbol (prepended on the decoder input, appended on the
// expected output), pads both to a common length with the padding index,
// runs the teacher-forced decoder and computes the cross-entropy loss over
// all vocabulary logits, ignoring padded positions.
func (m *Model) ForwardTraining(xs *tensor.Tensor, xLens []int, yLabels [][]int) (*tensor.Tensor, []int, float64) {
	encoding, encLens := m.Encoder.Forward(xs, xLens)

	batch := len(yLabels)
	maxU := 0
	for _, y := range yLabels {
		if len(y)+1 > maxU {
			maxU = len(y) + 1
		}
	}

	yIn := tensor.New(batch, maxU)
	yOut := tensor.New(batch, maxU)
	yIn.Fill(float64(m.Decoder.padIdx))
	yOut.Fill(float64(m.Decoder.padIdx))

	yLens := make([]int, batch)
	for b, y := range yLabels {
		inRow := yIn.Row(b, maxU)
		outRow := yOut.Row(b, maxU)

		inRow[0] = float64(m.Decoder.eosIdx)
		for i, tok := range y {
			inRow[i+1] = float64(tok)
			outRow[i] = float64(tok)
		}
		outRow[len(y)] = float64(m.Decoder.eosIdx)
		yLens[b] = len(y) + 1
	}

	probs, lens := m.Decoder.ForwardTraining(encoding, encLens, yIn, yLens)
	loss := crossEntropyLoss(probs, yOut, m.Decoder.padIdx)
	return probs, lens, loss
}

// ForwardInference encodes the features and decodes token by token; the
// batch must contain exactly one example. Returns per-step probabilities,
// the decoded length and the attention trace.
func (m *Model) ForwardInference(xs *tensor.Tensor, xLens []int) (*tensor.Tensor, []int, *tensor.Tensor) {
	encoding, encLens := m.Encoder.Forward(xs, xLens)
	return m.Decoder.ForwardInference(encoding, encLens)
}

// Parameters enumerates all learned tensors for the external optimizer.
func (m *Model) Parameters() []*tensor.Tensor {
	params := m.Encoder.Parameters()
	return append(params, m.Decoder.Parameters()...)
}

// SetTraining switches every mode-dependent layer between training and
// evaluation behavior.
func (m *Model) SetTraining(training bool) {
	m.Encoder.SetTraining(training)
	m.Decoder.SetTraining(training)
}

// crossEntropyLoss computes the mean cross-entropy of [B, U, V] logits
// against [B, U] integer targets, skipping positions whose target equals
// ignoreIdx.
func crossEntropyLoss(logits *tensor.Tensor, targets *tensor.Tensor, ignoreIdx int) float64 {
	vocab := logits.Shape[len(logits.Shape)-1]
	rows := logits.Size() / vocab

	loss := 0.0
	count := 0
	for r := 0; r < rows; r++ {
		target := int(targets.Data[r])
		if target == ignoreIdx {
			continue
		}
		row := logits.Row(r, vocab)
		loss += tensor.LogSumExp(row) - row[target]
		count++
	}

	if count == 0 {
		return 0
	}
	return loss / float64(count)
}
