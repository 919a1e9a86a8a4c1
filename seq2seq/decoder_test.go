package seq2seq_test

import (
	"math"
	"strings"
	"testing"

	"tdsnet/seq2seq"
	"tdsnet/tensor"
)

func validDecoderConfig() seq2seq.DecoderConfig {
	return seq2seq.DecoderConfig{
		Labels:       "abc",
		InputDim:     8,
		EmbeddingDim: 4,
		KeyDim:       4,
		ValueDim:     4,
		RNNHiddenDim: 4,
		RNNType:      "gru",
		Seed:         11,
	}
}

func TestDecoderConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*seq2seq.DecoderConfig)
		want   string
	}{
		{"empty labels", func(c *seq2seq.DecoderConfig) { c.Labels = "" }, "non-empty"},
		{"split mismatch", func(c *seq2seq.DecoderConfig) { c.InputDim = 9 }, "key_dim"},
		{"hidden mismatch", func(c *seq2seq.DecoderConfig) { c.RNNHiddenDim = 5 }, "rnn_hidden_dim"},
		{"bad rnn type", func(c *seq2seq.DecoderConfig) { c.RNNType = "bilstm" }, "unsupported"},
		{"sampling prob range", func(c *seq2seq.DecoderConfig) { c.SamplingProb = 1.5 }, "out of [0,1]"},
		{"cuda device", func(c *seq2seq.DecoderConfig) { c.Device = tensor.CUDA }, "not supported"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validDecoderConfig()
			tc.mutate(&cfg)
			_, err := seq2seq.NewDecoder(cfg)
			if err == nil {
				t.Fatal("NewDecoder should fail")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestDecoderVocabulary(t *testing.T) {
	t.Parallel()

	d, err := seq2seq.NewDecoder(validDecoderConfig())
	if err != nil {
		t.Fatal(err)
	}

	if got := d.VocabDim(); got != 5 {
		t.Errorf("VocabDim()=%d, want 5 (3 labels + eos + padding)", got)
	}
	if got := d.EOSIndex(); got != 3 {
		t.Errorf("EOSIndex()=%d, want 3", got)
	}
	if got := d.PaddingIndex(); got != 4 {
		t.Errorf("PaddingIndex()=%d, want 4", got)
	}
	for i, r := range "abc" {
		idx, ok := d.LabelIndex(r)
		if !ok || idx != i {
			t.Errorf("LabelIndex(%q)=(%d,%v), want (%d,true)", r, idx, ok, i)
		}
	}
	if _, ok := d.LabelIndex('z'); ok {
		t.Error("LabelIndex('z') should report absence")
	}
}

func TestDecoderVocabularyReservedSymbols(t *testing.T) {
	t.Parallel()

	cfg := validDecoderConfig()
	cfg.Labels = "ab" + string(seq2seq.EOS) + string(seq2seq.PaddingValue)
	d, err := seq2seq.NewDecoder(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got := d.VocabDim(); got != 4 {
		t.Errorf("VocabDim()=%d, want 4 (reserved symbols already present)", got)
	}

	cfg.Labels = "ab" + string(seq2seq.EOS)
	if _, err := seq2seq.NewDecoder(cfg); err == nil {
		t.Error("labels holding only the end-of-sequence symbol should fail")
	}

	cfg.Labels = "aab"
	if _, err := seq2seq.NewDecoder(cfg); err == nil {
		t.Error("duplicate labels should fail")
	}
}

func TestDecoderForwardTrainingShape(t *testing.T) {
	t.Parallel()

	d, err := seq2seq.NewDecoder(validDecoderConfig())
	if err != nil {
		t.Fatal(err)
	}

	encoding := tensor.Ones(2, 6, 8)
	y, _ := tensor.FromSlice([]float64{0, 1, 2, 2, 1, 4}, 2, 3)

	probs, lens := d.ForwardTraining(encoding, []int{6, 4}, y, []int{3, 2})

	want := []int{2, 3, 5}
	for i := range want {
		if probs.Shape[i] != want[i] {
			t.Fatalf("output shape=%v, want %v", probs.Shape, want)
		}
	}
	if lens[0] != 3 || lens[1] != 2 {
		t.Errorf("lengths=%v, want [3 2]", lens)
	}
}

func TestDecoderTrainingDeterministicWithoutSampling(t *testing.T) {
	t.Parallel()

	d, err := seq2seq.NewDecoder(validDecoderConfig())
	if err != nil {
		t.Fatal(err)
	}

	encoding := tensor.Ones(1, 5, 8)
	for i := range encoding.Data {
		encoding.Data[i] = math.Cos(float64(i))
	}
	y, _ := tensor.FromSlice([]float64{0, 2, 1}, 1, 3)

	a, _ := d.ForwardTraining(encoding, []int{5}, y, []int{3})
	b, _ := d.ForwardTraining(encoding, []int{5}, y, []int{3})

	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("data[%d]: first=%v second=%v", i, a.Data[i], b.Data[i])
		}
	}
}

func TestDecoderEvalModeEmitsProbabilities(t *testing.T) {
	t.Parallel()

	d, err := seq2seq.NewDecoder(validDecoderConfig())
	if err != nil {
		t.Fatal(err)
	}
	d.SetTraining(false)

	encoding := tensor.Ones(1, 4, 8)
	y, _ := tensor.FromSlice([]float64{1, 2}, 1, 2)

	probs, _ := d.ForwardTraining(encoding, []int{4}, y, []int{2})
	for u := 0; u < 2; u++ {
		var sum float64
		for v := 0; v < 5; v++ {
			sum += probs.At(0, u, v)
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("step %d: probabilities sum to %v, want 1", u, sum)
		}
	}
}

func TestDecoderScheduledSamplingStillRuns(t *testing.T) {
	t.Parallel()

	cfg := validDecoderConfig()
	cfg.SamplingProb = 1
	d, err := seq2seq.NewDecoder(cfg)
	if err != nil {
		t.Fatal(err)
	}

	encoding := tensor.Ones(1, 4, 8)
	y, _ := tensor.FromSlice([]float64{0, 1, 2}, 1, 3)

	probs, _ := d.ForwardTraining(encoding, []int{4}, y, []int{3})
	if probs.Shape[1] != 3 || probs.Shape[2] != 5 {
		t.Errorf("output shape=%v, want [1 3 5]", probs.Shape)
	}
	// Full substitution must not mutate the caller's targets.
	want := []float64{0, 1, 2}
	for i, w := range want {
		if y.Data[i] != w {
			t.Errorf("targets mutated: y[%d]=%v, want %v", i, y.Data[i], w)
		}
	}
}

// outputBias digs the final projection bias out of the parameter list so the
// decoder's next-token choice can be forced from a test.
func outputBias(d *seq2seq.Decoder) (*tensor.Tensor, *tensor.Tensor) {
	params := d.Parameters()
	return params[len(params)-2], params[len(params)-1]
}

func TestDecoderInferenceStopsOnEOS(t *testing.T) {
	t.Parallel()

	d, err := seq2seq.NewDecoder(validDecoderConfig())
	if err != nil {
		t.Fatal(err)
	}

	w, b := outputBias(d)
	w.Fill(0)
	b.Fill(0)
	b.Data[d.EOSIndex()] = 10

	encoding := tensor.Ones(1, 4, 8)
	outputs, lens, att := d.ForwardInference(encoding, []int{4})

	if lens[0] != 0 {
		t.Errorf("decoded length=%d, want 0 (first token is eos)", lens[0])
	}
	if outputs.Shape[1] != 0 {
		t.Errorf("outputs shape=%v, want zero steps", outputs.Shape)
	}
	if att.Shape[1] != 0 {
		t.Errorf("attention shape=%v, want zero steps", att.Shape)
	}
}

func TestDecoderInferenceHitsMaxLen(t *testing.T) {
	t.Parallel()

	cfg := validDecoderConfig()
	cfg.MaxLen = 7
	d, err := seq2seq.NewDecoder(cfg)
	if err != nil {
		t.Fatal(err)
	}

	w, b := outputBias(d)
	w.Fill(0)
	b.Fill(0)
	b.Data[0] = 10 // always decode the first label, never eos

	encoding := tensor.Ones(1, 4, 8)
	outputs, lens, att := d.ForwardInference(encoding, []int{4})

	if lens[0] != 7 {
		t.Errorf("decoded length=%d, want max length 7", lens[0])
	}
	want := []int{1, 7, 5}
	for i := range want {
		if outputs.Shape[i] != want[i] {
			t.Fatalf("outputs shape=%v, want %v", outputs.Shape, want)
		}
	}
	if att.Shape[1] != 7 || att.Shape[2] != 4 {
		t.Errorf("attention shape=%v, want [1 7 4]", att.Shape)
	}

	// Stored rows are post-softmax probabilities.
	for step := 0; step < 7; step++ {
		var sum float64
		for v := 0; v < 5; v++ {
			sum += outputs.At(0, step, v)
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("step %d: probabilities sum to %v, want 1", step, sum)
		}
	}
}

func TestDecoderInferenceRejectsBatches(t *testing.T) {
	t.Parallel()

	d, err := seq2seq.NewDecoder(validDecoderConfig())
	if err != nil {
		t.Fatal(err)
	}

	defer func() {
		if recover() == nil {
			t.Error("batched inference should panic")
		}
	}()
	d.ForwardInference(tensor.Ones(2, 4, 8), []int{4, 4})
}

func TestDecoderForwardRouting(t *testing.T) {
	t.Parallel()

	d, err := seq2seq.NewDecoder(validDecoderConfig())
	if err != nil {
		t.Fatal(err)
	}

	encoding := tensor.Ones(1, 4, 8)
	y, _ := tensor.FromSlice([]float64{0, 1}, 1, 2)

	probs, lens, att := d.Forward(encoding, []int{4}, y, []int{2})
	if att != nil {
		t.Error("training route should not produce an attention trace")
	}
	if probs.Shape[1] != 2 || lens[0] != 2 {
		t.Errorf("training route: shape=%v lens=%v", probs.Shape, lens)
	}

	_, _, att = d.Forward(encoding, []int{4}, nil, nil)
	if att == nil {
		t.Error("inference route should produce an attention trace")
	}
}
