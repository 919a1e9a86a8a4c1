package seq2seq

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/exp/rand"

	"tdsnet/attention"
	"tdsnet/nn"
	"tdsnet/tensor"
)

// Reserved vocabulary symbols, appended to the label alphabet when absent.
const (
	EOS          = '$'
	PaddingValue = '%'
)

// DefaultMaxLen bounds the autoregressive inference loop.
const DefaultMaxLen = 100

// DecoderConfig describes the attention decoder. InputDim must equal
// KeyDim+ValueDim (the encoder output is split into a key half and a value
// half) and RNNHiddenDim must equal KeyDim (queries are dotted with keys).
type DecoderConfig struct {
	Labels       string
	InputDim     int
	EmbeddingDim int
	KeyDim       int
	ValueDim     int
	RNNHiddenDim int
	RNNType      string
	SamplingProb float64

	// MaxLen bounds inference; zero means DefaultMaxLen.
	MaxLen int
	// ReservedTokens is the count of trailing vocabulary entries excluded
	// from scheduled-sampling substitution; zero means 2 (EOS + padding).
	ReservedTokens int

	// Device is the execution context, read-only after construction.
	Device tensor.Device
	// Seed feeds scheduled sampling; zero picks a clock seed.
	Seed uint64
}

// Validate reports the first configuration error.
func (c *DecoderConfig) Validate() error {
	if len(c.Labels) == 0 {
		return fmt.Errorf("decoder: labels must be non-empty")
	}
	if c.InputDim != c.KeyDim+c.ValueDim {
		return fmt.Errorf("decoder: input_dim %d != key_dim %d + value_dim %d", c.InputDim, c.KeyDim, c.ValueDim)
	}
	if c.RNNHiddenDim != c.KeyDim {
		return fmt.Errorf("decoder: rnn_hidden_dim %d != key_dim %d", c.RNNHiddenDim, c.KeyDim)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("decoder: embedding_dim must be positive, got %d", c.EmbeddingDim)
	}
	if _, err := nn.ParseCellType(c.RNNType); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	if c.SamplingProb < 0 || c.SamplingProb > 1 {
		return fmt.Errorf("decoder: sampling_prob %v out of [0,1]", c.SamplingProb)
	}
	if c.Device != tensor.CPU {
		return fmt.Errorf("decoder: device %v not supported by this build", c.Device)
	}
	return nil
}

// Decoder embeds target tokens, runs them through the recurrent block,
// attends over the encoder keys/values and projects to vocabulary logits.
// Training uses teacher forcing with scheduled sampling; inference decodes
// token by token with early stopping on the end-of-sequence symbol.
type Decoder struct {
	cfg DecoderConfig

	labels    []rune
	labelsMap map[rune]int
	vocabDim  int
	eosIdx    int
	padIdx    int
	maxLen    int
	reserved  int

	embedding *nn.Embedding
	rnn       *nn.BatchRNN
	attention *attention.DotAttention
	outputMLP *nn.Linear
	softmax   *nn.InferenceSoftmax

	rng *rand.Rand
}

// NewDecoder validates the configuration and freezes the vocabulary: the
// label alphabet plus the end-of-sequence and padding symbols, with indices
// assigned by position, immutable for the decoder's lifetime.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	labels := []rune(cfg.Labels)
	hasEOS := containsRune(labels, EOS)
	hasPad := containsRune(labels, PaddingValue)
	switch {
	case !hasEOS && !hasPad:
		labels = append(labels, EOS, PaddingValue)
	case hasEOS != hasPad:
		return nil, fmt.Errorf("decoder: labels contain only one of %q and %q", EOS, PaddingValue)
	}

	labelsMap := make(map[rune]int, len(labels))
	for i, r := range labels {
		if _, dup := labelsMap[r]; dup {
			return nil, fmt.Errorf("decoder: duplicate label %q", r)
		}
		labelsMap[r] = i
	}

	maxLen := cfg.MaxLen
	if maxLen == 0 {
		maxLen = DefaultMaxLen
	}
	reserved := cfg.ReservedTokens
	if reserved == 0 {
		reserved = 2
	}
	if reserved >= len(labels) {
		return nil, fmt.Errorf("decoder: %d reserved tokens leaves no sampleable vocabulary", reserved)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	cellType, _ := nn.ParseCellType(cfg.RNNType)

	d := &Decoder{
		cfg:       cfg,
		labels:    labels,
		labelsMap: labelsMap,
		vocabDim:  len(labels),
		eosIdx:    labelsMap[EOS],
		padIdx:    labelsMap[PaddingValue],
		maxLen:    maxLen,
		reserved:  reserved,

		embedding: nn.NewEmbedding(len(labels), cfg.EmbeddingDim),
		rnn:       nn.NewBatchRNN(cfg.EmbeddingDim, cfg.RNNHiddenDim, cellType),
		attention: attention.NewDotAttention(cfg.KeyDim),
		outputMLP: nn.NewLinear(cfg.ValueDim+cfg.RNNHiddenDim, len(labels), nn.WithLinearName("output_mlp")),
		softmax:   nn.NewInferenceSoftmax(),

		rng: rand.New(rand.NewSource(seed)),
	}

	slog.Debug("decoder vocabulary", "size", d.vocabDim, "eos", d.eosIdx, "padding", d.padIdx)
	return d, nil
}

func containsRune(rs []rune, r rune) bool {
	for _, v := range rs {
		if v == r {
			return true
		}
	}
	return false
}

// VocabDim is the vocabulary size including reserved symbols.
func (d *Decoder) VocabDim() int { return d.vocabDim }

// LabelIndex returns the frozen index of a label symbol.
func (d *Decoder) LabelIndex(r rune) (int, bool) {
	i, ok := d.labelsMap[r]
	return i, ok
}

// EOSIndex is the end-of-sequence token index.
func (d *Decoder) EOSIndex() int { return d.eosIdx }

// PaddingIndex is the padding token index.
func (d *Decoder) PaddingIndex() int { return d.padIdx }

// Forward routes to the training forward when targets are supplied and to
// the autoregressive inference forward otherwise. The attention trace is nil
// in training mode.
func (d *Decoder) Forward(encoding *tensor.Tensor, encLens []int, yLabels *tensor.Tensor, yLens []int) (*tensor.Tensor, []int, *tensor.Tensor) {
	if yLabels != nil && yLens != nil {
		probs, lens := d.ForwardTraining(encoding, encLens, yLabels, yLens)
		return probs, lens, nil
	}
	return d.ForwardInference(encoding, encLens)
}

// ForwardTraining runs the teacher-forced pass. encoding is the [B, T, E]
// encoder output with E = KeyDim+ValueDim; yLabels is a [B, U] token index
// tensor padded with the padding index; yLens holds true target lengths.
// It returns per-step vocabulary outputs [B, U, V] (logits in training mode,
// probabilities in evaluation mode) and the target lengths.
func (d *Decoder) ForwardTraining(encoding *tensor.Tensor, encLens []int, yLabels *tensor.Tensor, yLens []int) (*tensor.Tensor, []int) {
	keys, values := d.splitEncoding(encoding)

	ySampled := d.randomSampling(yLabels)
	yEmbed := d.embedding.Forward(ySampled) // [B, U, E]

	// The recurrent block consumes time-major input.
	yEmbedT, err := tensor.SwapAxes01(yEmbed)
	if err != nil {
		panic(err)
	}
	queries := d.rnn.Forward(yEmbedT, yLens) // [U, B, K]
	queries, err = tensor.SwapAxes01(queries)
	if err != nil {
		panic(err)
	}

	mask := attention.LengthMask(encLens, keys.Shape[1])
	summaries, _ := d.attention.Forward(queries, keys, values, mask)

	cat, err := tensor.Cat(summaries, queries)
	if err != nil {
		panic(err)
	}
	outputs := d.outputMLP.Forward(cat)

	return d.softmax.Forward(outputs), yLens
}

// ForwardInference decodes autoregressively for a batch of exactly one
// example, starting from the end-of-sequence token and stopping the moment
// the arg-max token equals it. It returns the per-step probabilities
// [1, steps, V], the elapsed step count, and the attention trace
// [1, steps, Tenc].
func (d *Decoder) ForwardInference(encoding *tensor.Tensor, encLens []int) (*tensor.Tensor, []int, *tensor.Tensor) {
	keys, values := d.splitEncoding(encoding)

	if keys.Shape[0] != 1 {
		panic(fmt.Sprintf("inference requires batch size 1, got %d", keys.Shape[0]))
	}
	tEnc := keys.Shape[1]

	outputs := tensor.New(d.maxLen, 1, d.vocabDim)
	attentions := tensor.New(d.maxLen, 1, tEnc)
	mask := attention.LengthMask(encLens, tEnc)

	state := d.rnn.InitialState(1)
	yPrev := d.embedding.Lookup(d.eosIdx)

	for t := 0; t < d.maxLen; t++ {
		query, newState := d.rnn.StepForward(yPrev, state)
		state = newState

		queries := query.MustReshape(1, 1, d.cfg.RNNHiddenDim)
		summaries, score := d.attention.Forward(queries, keys, values, mask)

		cat, err := tensor.Cat(summaries.MustReshape(1, d.cfg.ValueDim), query)
		if err != nil {
			panic(err)
		}
		output := d.outputMLP.Forward(cat) // [1, V]
		probs := tensor.Softmax(output)

		copy(outputs.Data[t*d.vocabDim:(t+1)*d.vocabDim], probs.Data)
		copy(attentions.Data[t*tEnc:(t+1)*tEnc], score.Data)

		best := tensor.Argmax(probs.Row(0, d.vocabDim))
		if best == d.eosIdx {
			return truncateSteps(outputs, t, d.vocabDim), []int{t}, truncateSteps(attentions, t, tEnc)
		}
		yPrev = d.embedding.Lookup(best)
	}

	return truncateSteps(outputs, d.maxLen, d.vocabDim), []int{d.maxLen}, truncateSteps(attentions, d.maxLen, tEnc)
}

// truncateSteps converts the first steps rows of a [maxLen, 1, W] buffer to
// batch-major [1, steps, W].
func truncateSteps(buf *tensor.Tensor, steps, w int) *tensor.Tensor {
	out := tensor.New(1, steps, w)
	copy(out.Data, buf.Data[:steps*w])
	return out
}

// splitEncoding divides encoder features into the key and value halves.
func (d *Decoder) splitEncoding(encoding *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	keys, values, err := tensor.Split2(encoding, d.cfg.KeyDim)
	if err != nil {
		panic(err)
	}
	return keys, values
}

// randomSampling blends ground-truth tokens with uniformly drawn ones: each
// position keeps its token with probability 1-SamplingProb, otherwise a
// token outside the reserved tail of the vocabulary is substituted. The
// blend is per-position, never batch-uniform.
func (d *Decoder) randomSampling(yLabels *tensor.Tensor) *tensor.Tensor {
	if d.cfg.SamplingProb == 0 {
		return yLabels
	}

	sampled := yLabels.Clone()
	sampleable := d.vocabDim - d.reserved
	for i := range sampled.Data {
		if d.rng.Float64() < d.cfg.SamplingProb {
			sampled.Data[i] = float64(d.rng.Intn(sampleable))
		}
	}
	return sampled
}

func (d *Decoder) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	params = append(params, d.embedding.Parameters()...)
	params = append(params, d.rnn.Parameters()...)
	params = append(params, d.outputMLP.Parameters()...)
	return params
}

func (d *Decoder) SetTraining(training bool) {
	d.rnn.SetTraining(training)
	d.outputMLP.SetTraining(training)
	d.softmax.SetTraining(training)
}
