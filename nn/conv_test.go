package nn_test

import (
	"testing"

	"tdsnet/nn"
	"tdsnet/tensor"
)

func TestConv2DKnownResult(t *testing.T) {
	t.Parallel()

	// 1 input channel, 1 output channel, 2x1 kernel of ones, stride 2:
	// each output frame is the sum of two consecutive time positions.
	conv := nn.NewConv2D(1, 1, 2, 1, nn.WithStride(2, 1))
	conv.Weight.Fill(1)
	conv.Bias.Fill(0)

	x, _ := tensor.FromSlice([]float64{1, 2, 3, 4, 5, 6}, 1, 1, 6, 1)
	y := conv.Forward(x)

	if y.Shape[2] != 3 {
		t.Fatalf("output time=%d, want 3", y.Shape[2])
	}
	want := []float64{3, 7, 11}
	for i, w := range want {
		if y.Data[i] != w {
			t.Errorf("conv output[%d]=%v, want %v", i, y.Data[i], w)
		}
	}
}

func TestConv2DSamePadding(t *testing.T) {
	t.Parallel()

	conv := nn.NewConv2D(1, 1, 3, 1, nn.WithPadding(1, 0))
	x := tensor.Ones(1, 1, 5, 2)
	y := conv.Forward(x)

	if y.Shape[2] != 5 || y.Shape[3] != 2 {
		t.Errorf("same-padded conv output shape=%v, want time 5, freq 2", y.Shape)
	}
}

func TestConv2DOutExtents(t *testing.T) {
	t.Parallel()

	conv := nn.NewConv2D(1, 1, 1, 2, nn.WithStride(1, 2))
	cases := []struct{ in, want int }{
		{2, 1}, {3, 1}, {4, 2}, {9, 4},
	}
	for _, tc := range cases {
		if got := conv.OutWidth(tc.in); got != tc.want {
			t.Errorf("OutWidth(%d)=%d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestMaskConvZeroesBeyondLength(t *testing.T) {
	t.Parallel()

	// Identity 1x1 conv keeps values; masking must still zero padded time.
	conv := nn.NewConv2D(1, 1, 1, 1)
	conv.Weight.Fill(1)
	conv.Bias.Fill(0)

	mc := nn.NewMaskConv(conv)

	// [B=2, C=1, D=1, T=4], second example valid only up to t=2.
	x := tensor.Ones(2, 1, 1, 4)
	y, lens := mc.Forward(x, []int{4, 2})

	if lens[0] != 4 || lens[1] != 2 {
		t.Fatalf("lengths=%v, want [4 2]", lens)
	}
	for tt := 0; tt < 4; tt++ {
		if y.At(0, 0, 0, tt) != 1 {
			t.Errorf("example 0 t=%d: got %v, want 1 (no masking at full length)", tt, y.At(0, 0, 0, tt))
		}
	}
	for tt := 0; tt < 2; tt++ {
		if y.At(1, 0, 0, tt) != 1 {
			t.Errorf("example 1 t=%d: got %v, want 1", tt, y.At(1, 0, 0, tt))
		}
	}
	for tt := 2; tt < 4; tt++ {
		if y.At(1, 0, 0, tt) != 0 {
			t.Errorf("example 1 t=%d: got %v, want 0 (masked)", tt, y.At(1, 0, 0, tt))
		}
	}
}

func TestMaskConvRecomputesLengthsForStride(t *testing.T) {
	t.Parallel()

	// Stride-2 conv over time (the W axis here) halves valid lengths.
	conv := nn.NewConv2D(1, 1, 1, 2, nn.WithStride(1, 2))
	mc := nn.NewMaskConv(conv)

	x := tensor.Ones(2, 1, 1, 8)
	_, lens := mc.Forward(x, []int{8, 5})

	if lens[0] != 4 || lens[1] != 2 {
		t.Errorf("lengths after stride-2 layer=%v, want [4 2]", lens)
	}
}

func TestMaskConvNoOpWhenLengthCoversExtent(t *testing.T) {
	t.Parallel()

	conv := nn.NewConv2D(1, 1, 1, 1)
	conv.Weight.Fill(1)
	conv.Bias.Fill(0)
	mc := nn.NewMaskConv(conv)

	x := tensor.Ones(1, 1, 2, 3)
	y, _ := mc.Forward(x, []int{10})
	for i, v := range y.Data {
		if v != 1 {
			t.Errorf("length beyond extent must not mask: y[%d]=%v", i, v)
		}
	}
}
