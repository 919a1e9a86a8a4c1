// Package seq2seq composes the TDS convolutional encoder with the
// attention-based recurrent decoder into a speech-recognition model.
package seq2seq

import (
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"tdsnet/nn"
	"tdsnet/tensor"
)

// EncoderConfig describes the subsample/TDS schedule. Channels and
// KernelSizes run in parallel: a subsample block is inserted before stage i
// whenever Channels[i] differs from the previous channel count.
type EncoderConfig struct {
	InputDim      int
	InChannel     int
	Channels      []int
	KernelSizes   []int
	Dropout       float64
	BottleneckDim int

	// Device is the execution context, read-only after construction.
	Device tensor.Device
	// Seed feeds parameter initialization; zero picks a clock seed.
	Seed uint64
}

// Validate reports the first configuration error, before any member of the
// encoder is usable.
func (c *EncoderConfig) Validate() error {
	if c.InputDim <= 0 || c.InChannel <= 0 {
		return fmt.Errorf("encoder: input_dim and in_channel must be positive, got %d, %d", c.InputDim, c.InChannel)
	}
	if c.InputDim%c.InChannel != 0 {
		return fmt.Errorf("encoder: input_dim %d not divisible by in_channel %d", c.InputDim, c.InChannel)
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("encoder: channel list must be non-empty")
	}
	if len(c.Channels) != len(c.KernelSizes) {
		return fmt.Errorf("encoder: %d channels but %d kernel sizes", len(c.Channels), len(c.KernelSizes))
	}
	if c.Device != tensor.CPU {
		return fmt.Errorf("encoder: device %v not supported by this build", c.Device)
	}
	return nil
}

// Encoder is the state-free TDS block stack: subsample blocks where the
// channel count changes, TDS blocks per schedule entry, optional bottleneck.
type Encoder struct {
	cfg       EncoderConfig
	inputFreq int
	outputDim int

	layers          *nn.Sequential
	bridge          *nn.Linear
	subsampleFactor int
}

// NewEncoder validates the configuration, builds the pipeline and applies
// the uniform fan-in initialization policy.
func NewEncoder(cfg EncoderConfig) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Encoder{
		cfg:             cfg,
		inputFreq:       cfg.InputDim / cfg.InChannel,
		layers:          nn.NewSequential(),
		subsampleFactor: 1,
	}

	inCh := cfg.InChannel
	for i, channel := range cfg.Channels {
		if inCh != channel {
			e.layers.Add(nn.NewSubsampleBlock(inCh, channel, e.inputFreq, cfg.Dropout))
			e.subsampleFactor *= 2
		}
		e.layers.Add(nn.NewTDSBlock(channel, cfg.KernelSizes[i], e.inputFreq, cfg.Dropout))
		inCh = channel
	}

	e.outputDim = inCh * e.inputFreq
	if cfg.BottleneckDim > 0 {
		e.bridge = nn.NewLinear(e.outputDim, cfg.BottleneckDim, nn.WithLinearName("bridge"))
		e.outputDim = cfg.BottleneckDim
	}

	if err := e.resetParameters(); err != nil {
		return nil, err
	}
	return e, nil
}

// resetParameters applies the init policy: zero for 1-D bias parameters,
// uniform ±√(4/fan_in) for 2-D and 4-D weights. Any other rank is a fatal
// configuration error.
func (e *Encoder) resetParameters() error {
	seed := e.cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	src := rand.NewSource(seed)

	for _, p := range e.Parameters() {
		var fanIn int
		switch p.Dim() {
		case 1:
			p.Fill(0)
			slog.Debug("initialize parameter", "shape", p.Shape, "init", "constant", "value", 0)
			continue
		case 2:
			fanIn = p.Shape[1]
		case 4:
			fanIn = p.Shape[1] * p.Shape[2] * p.Shape[3]
		default:
			return fmt.Errorf("encoder: cannot initialize parameter of rank %d (shape %v)", p.Dim(), p.Shape)
		}

		bound := math.Sqrt(4.0 / float64(fanIn))
		u := distuv.Uniform{Min: -bound, Max: bound, Src: src}
		for i := range p.Data {
			p.Data[i] = u.Rand()
		}
		slog.Debug("initialize parameter", "shape", p.Shape, "init", "uniform", "bound", bound)
	}
	return nil
}

// Forward encodes a [B, T, InputDim] feature batch. The returned lengths are
// the input lengths divided by the cumulative subsample factor, with integer
// floor rounding to match the strided convolutions exactly.
func (e *Encoder) Forward(xs *tensor.Tensor, lengths []int) (*tensor.Tensor, []int) {
	bs, timeExt := xs.Shape[0], xs.Shape[1]

	// [B, T, input_dim] -> [B, in_ch, T, freq]
	inCh, freq := e.cfg.InChannel, e.inputFreq
	x := tensor.New(bs, inCh, timeExt, freq)
	for b := 0; b < bs; b++ {
		for t := 0; t < timeExt; t++ {
			for c := 0; c < inCh; c++ {
				src := (b*timeExt+t)*e.cfg.InputDim + c*freq
				dst := ((b*inCh+c)*timeExt + t) * freq
				copy(x.Data[dst:dst+freq], xs.Data[src:src+freq])
			}
		}
	}

	x = e.layers.Forward(x) // [B, out_ch, T', freq]

	// [B, out_ch, T', freq] -> [B, T', out_ch*freq]
	outCh, outT := x.Shape[1], x.Shape[2]
	out := tensor.New(bs, outT, outCh*freq)
	for b := 0; b < bs; b++ {
		for c := 0; c < outCh; c++ {
			for t := 0; t < outT; t++ {
				src := ((b*outCh+c)*outT + t) * freq
				dst := (b*outT+t)*outCh*freq + c*freq
				copy(out.Data[dst:dst+freq], x.Data[src:src+freq])
			}
		}
	}

	if e.bridge != nil {
		out = e.bridge.Forward(out)
	}

	outLens := make([]int, len(lengths))
	for i, l := range lengths {
		outLens[i] = l / e.subsampleFactor
	}
	return out, outLens
}

// OutputDim is the feature dimension of encoded frames.
func (e *Encoder) OutputDim() int { return e.outputDim }

// SubsampleFactor is the cumulative time reduction of the pipeline.
func (e *Encoder) SubsampleFactor() int { return e.subsampleFactor }

func (e *Encoder) Parameters() []*tensor.Tensor {
	params := e.layers.Parameters()
	if e.bridge != nil {
		params = append(params, e.bridge.Parameters()...)
	}
	return params
}

func (e *Encoder) SetTraining(training bool) {
	e.layers.SetTraining(training)
	if e.bridge != nil {
		e.bridge.SetTraining(training)
	}
}
