package nn

import (
	"math"

	"tdsnet/tensor"
)

// ============================================================================
// Conv2D
// ============================================================================

// Conv2D implements 2D convolution over [B, C, H, W] inputs with zero
// padding. The TDS blocks use H as the time axis; masked conv stacks use W.
type Conv2D struct {
	InChannels  int
	OutChannels int
	KernelH     int
	KernelW     int
	StrideH     int
	StrideW     int
	PadH        int
	PadW        int

	Weight *tensor.Tensor // [OutChannels, InChannels, KernelH, KernelW]
	Bias   *tensor.Tensor // [OutChannels]

	name string
}

type Conv2DOption func(*Conv2D)

func WithStride(h, w int) Conv2DOption {
	return func(l *Conv2D) { l.StrideH, l.StrideW = h, w }
}

func WithPadding(h, w int) Conv2DOption {
	return func(l *Conv2D) { l.PadH, l.PadW = h, w }
}

func WithConvName(name string) Conv2DOption {
	return func(l *Conv2D) { l.name = name }
}

// NewConv2D creates a convolution layer with a uniform ±1/√fan_in init.
func NewConv2D(inChannels, outChannels, kernelH, kernelW int, opts ...Conv2DOption) *Conv2D {
	layer := &Conv2D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelH:     kernelH,
		KernelW:     kernelW,
		StrideH:     1,
		StrideW:     1,
		name:        "conv2d",
	}

	for _, opt := range opts {
		opt(layer)
	}

	layer.Weight = tensor.New(outChannels, inChannels, kernelH, kernelW)
	layer.Bias = tensor.Zeros(outChannels)

	fanIn := float64(inChannels * kernelH * kernelW)
	initUniform(layer.Weight, 1.0/math.Sqrt(fanIn), newRand())

	return layer
}

func (l *Conv2D) Name() string { return l.name }

// OutHeight returns the H extent produced from an input of extent in.
func (l *Conv2D) OutHeight(in int) int {
	return (in+2*l.PadH-l.KernelH)/l.StrideH + 1
}

// OutWidth returns the W extent produced from an input of extent in.
func (l *Conv2D) OutWidth(in int) int {
	return (in+2*l.PadW-l.KernelW)/l.StrideW + 1
}

func (l *Conv2D) Forward(input *tensor.Tensor) *tensor.Tensor {
	batch := input.Shape[0]
	inH := input.Shape[2]
	inW := input.Shape[3]

	outH := l.OutHeight(inH)
	outW := l.OutWidth(inW)

	output := tensor.New(batch, l.OutChannels, outH, outW)

	for b := 0; b < batch; b++ {
		for oc := 0; oc < l.OutChannels; oc++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					sum := l.Bias.Data[oc]

					for kh := 0; kh < l.KernelH; kh++ {
						ih := oh*l.StrideH - l.PadH + kh
						if ih < 0 || ih >= inH {
							continue
						}
						for kw := 0; kw < l.KernelW; kw++ {
							iw := ow*l.StrideW - l.PadW + kw
							if iw < 0 || iw >= inW {
								continue
							}
							for ic := 0; ic < l.InChannels; ic++ {
								inIdx := ((b*l.InChannels+ic)*inH+ih)*inW + iw
								wIdx := ((oc*l.InChannels+ic)*l.KernelH+kh)*l.KernelW + kw
								sum += input.Data[inIdx] * l.Weight.Data[wIdx]
							}
						}
					}

					output.Data[((b*l.OutChannels+oc)*outH+oh)*outW+ow] = sum
				}
			}
		}
	}

	return output
}

func (l *Conv2D) Parameters() []*tensor.Tensor { return []*tensor.Tensor{l.Weight, l.Bias} }

// ============================================================================
// MaskConv
// ============================================================================

// WidthScaler reports how a layer transforms its time (last-axis) extent, so
// valid lengths can be recomputed alongside the tensor.
type WidthScaler interface {
	OutWidth(in int) int
}

// MaskConv applies a stack of layers to a [B, C, D, T] tensor, zeroing every
// position at time index >= the example's valid length after each layer.
// This keeps padding from leaking into subsequent convolutions, so results
// do not change with the batch's padded extent.
type MaskConv struct {
	Layers []Layer
}

func NewMaskConv(layers ...Layer) *MaskConv {
	return &MaskConv{Layers: layers}
}

func (m *MaskConv) Name() string { return "mask_conv" }

// Forward runs the stack and returns the masked output together with the
// updated per-example lengths.
func (m *MaskConv) Forward(input *tensor.Tensor, lengths []int) (*tensor.Tensor, []int) {
	x := input
	lens := append([]int{}, lengths...)

	for _, layer := range m.Layers {
		x = layer.Forward(x)

		if ws, ok := layer.(WidthScaler); ok {
			for i, l := range lens {
				lens[i] = ws.OutWidth(l)
			}
		}

		batch := x.Shape[0]
		timeExt := x.Shape[len(x.Shape)-1]
		perExample := x.Size() / batch / timeExt
		for b := 0; b < batch; b++ {
			if lens[b] >= timeExt {
				continue
			}
			base := b * perExample * timeExt
			for row := 0; row < perExample; row++ {
				off := base + row*timeExt
				for t := lens[b]; t < timeExt; t++ {
					x.Data[off+t] = 0
				}
			}
		}
	}

	return x, lens
}

func (m *MaskConv) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, layer := range m.Layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

func (m *MaskConv) SetTraining(training bool) {
	for _, layer := range m.Layers {
		if t, ok := layer.(Trainable); ok {
			t.SetTraining(training)
		}
	}
}
