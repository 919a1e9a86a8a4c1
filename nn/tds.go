package nn

import (
	"fmt"

	"tdsnet/tensor"
)

const layerNormEps = 1e-6

// gatherChannelsLast rearranges [B, C, T, F] into [B, T, C·F] so the
// channel×frequency axis can be layer-normalized per (batch, time) position.
func gatherChannelsLast(x *tensor.Tensor) *tensor.Tensor {
	b, c, t, f := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	out := tensor.New(b, t, c*f)
	for bi := 0; bi < b; bi++ {
		for ci := 0; ci < c; ci++ {
			for ti := 0; ti < t; ti++ {
				src := ((bi*c+ci)*t + ti) * f
				dst := (bi*t+ti)*c*f + ci*f
				copy(out.Data[dst:dst+f], x.Data[src:src+f])
			}
		}
	}
	return out
}

// scatterChannelsFirst is the inverse of gatherChannelsLast.
func scatterChannelsFirst(x *tensor.Tensor, c, f int) *tensor.Tensor {
	b, t := x.Shape[0], x.Shape[1]
	out := tensor.New(b, c, t, f)
	for bi := 0; bi < b; bi++ {
		for ti := 0; ti < t; ti++ {
			for ci := 0; ci < c; ci++ {
				src := (bi*t+ti)*c*f + ci*f
				dst := ((bi*c+ci)*t + ti) * f
				copy(out.Data[dst:dst+f], x.Data[src:src+f])
			}
		}
	}
	return out
}

// ============================================================================
// TDSBlock
// ============================================================================

// TDSBlock is the time-depth separable residual unit: a time-only 2D
// convolution followed by two residual 1×1 convolutions over the flattened
// channel×frequency axis, each stage layer-normalized over C·F. The block
// preserves the [B, C, T, F] shape end to end.
type TDSBlock struct {
	Channel    int
	KernelSize int
	InFreq     int

	conv     *Conv2D
	dropout1 *Dropout
	norm1    *LayerNorm

	conv1    *Conv2D
	dropout2 *Dropout
	conv2    *Conv2D
	dropout3 *Dropout
	norm2    *LayerNorm

	name string
}

func NewTDSBlock(channel, kernelSize, inFreq int, dropout float64) *TDSBlock {
	cf := channel * inFreq
	return &TDSBlock{
		Channel:    channel,
		KernelSize: kernelSize,
		InFreq:     inFreq,

		conv: NewConv2D(channel, channel, kernelSize, 1,
			WithPadding(kernelSize/2, 0),
			WithConvName("tds_conv2d")),
		dropout1: NewDropout(dropout),
		norm1:    NewLayerNorm(cf, layerNormEps),

		conv1:    NewConv2D(cf, cf, 1, 1, WithConvName("tds_conv1d_1")),
		dropout2: NewDropout(dropout),
		conv2:    NewConv2D(cf, cf, 1, 1, WithConvName("tds_conv1d_2")),
		dropout3: NewDropout(dropout),
		norm2:    NewLayerNorm(cf, layerNormEps),

		name: fmt.Sprintf("tds%d_k%d", channel, kernelSize),
	}
}

func (l *TDSBlock) Name() string { return l.name }

func (l *TDSBlock) Forward(input *tensor.Tensor) *tensor.Tensor {
	c, f := l.Channel, l.InFreq

	// Time convolution with residual connection.
	xs := l.conv.Forward(input)
	tensor.ReLUInPlace(xs)
	xs = l.dropout1.Forward(xs)
	xs = tensor.Add(xs, input)

	// Layer norm over the flattened channel×frequency axis.
	flat := l.norm1.Forward(gatherChannelsLast(xs))

	// Depth convolutions operate on [B, C·F, T, 1].
	zs := scatterChannelsFirst(flat, c*f, 1)

	ws := l.conv1.Forward(zs)
	tensor.ReLUInPlace(ws)
	ws = l.dropout2.Forward(ws)
	ws = l.conv2.Forward(ws)
	ws = l.dropout3.Forward(ws)
	ws = tensor.Add(ws, zs)

	flat = l.norm2.Forward(gatherChannelsLast(ws))
	return scatterChannelsFirst(flat, c, f)
}

func (l *TDSBlock) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	params = append(params, l.conv.Parameters()...)
	params = append(params, l.norm1.Parameters()...)
	params = append(params, l.conv1.Parameters()...)
	params = append(params, l.conv2.Parameters()...)
	params = append(params, l.norm2.Parameters()...)
	return params
}

func (l *TDSBlock) SetTraining(training bool) {
	l.dropout1.SetTraining(training)
	l.dropout2.SetTraining(training)
	l.dropout3.SetTraining(training)
}

// ============================================================================
// SubsampleBlock
// ============================================================================

// SubsampleBlock halves temporal resolution with a stride-2 time convolution
// and changes the channel count, layer-normalizing over the new C·F axis.
// Output time length is floor(T/2); callers must halve valid lengths with
// the same rounding.
type SubsampleBlock struct {
	InChannel  int
	OutChannel int
	InFreq     int

	conv    *Conv2D
	dropout *Dropout
	norm    *LayerNorm

	name string
}

func NewSubsampleBlock(inChannel, outChannel, inFreq int, dropout float64) *SubsampleBlock {
	return &SubsampleBlock{
		InChannel:  inChannel,
		OutChannel: outChannel,
		InFreq:     inFreq,

		conv: NewConv2D(inChannel, outChannel, 2, 1,
			WithStride(2, 1),
			WithConvName("subsample_conv")),
		dropout: NewDropout(dropout),
		norm:    NewLayerNorm(outChannel*inFreq, layerNormEps),

		name: fmt.Sprintf("subsample%d_%d", inChannel, outChannel),
	}
}

func (l *SubsampleBlock) Name() string { return l.name }

// OutTime reports the halved time extent for an input extent.
func (l *SubsampleBlock) OutTime(in int) int { return l.conv.OutHeight(in) }

func (l *SubsampleBlock) Forward(input *tensor.Tensor) *tensor.Tensor {
	xs := l.conv.Forward(input)
	tensor.ReLUInPlace(xs)
	xs = l.dropout.Forward(xs)

	flat := l.norm.Forward(gatherChannelsLast(xs))
	return scatterChannelsFirst(flat, l.OutChannel, l.InFreq)
}

func (l *SubsampleBlock) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	params = append(params, l.conv.Parameters()...)
	params = append(params, l.norm.Parameters()...)
	return params
}

func (l *SubsampleBlock) SetTraining(training bool) {
	l.dropout.SetTraining(training)
}
