package nn_test

import (
	"math"
	"testing"

	"tdsnet/nn"
	"tdsnet/tensor"
)

func TestLinearKnownResult(t *testing.T) {
	t.Parallel()

	l := nn.NewLinear(2, 3)
	copy(l.Weight.Data, []float64{
		1, 0,
		0, 1,
		1, 1,
	})
	copy(l.Bias.Data, []float64{0.5, -0.5, 0})

	x, _ := tensor.FromSlice([]float64{2, 3}, 1, 2)
	y := l.Forward(x)

	want := []float64{2.5, 2.5, 5}
	for i, w := range want {
		if y.Data[i] != w {
			t.Errorf("output[%d]=%v, want %v", i, y.Data[i], w)
		}
	}
}

func TestLinearPreservesLeadingAxes(t *testing.T) {
	t.Parallel()

	l := nn.NewLinear(4, 6)
	x := tensor.Ones(2, 3, 4)
	y := l.Forward(x)

	want := []int{2, 3, 6}
	for i := range want {
		if y.Shape[i] != want[i] {
			t.Fatalf("output shape=%v, want %v", y.Shape, want)
		}
	}
}

func TestLinearWithoutBias(t *testing.T) {
	t.Parallel()

	l := nn.NewLinear(3, 2, nn.WithoutBias())
	if l.Bias != nil {
		t.Fatal("bias should be nil")
	}
	if got := len(l.Parameters()); got != 1 {
		t.Errorf("biasless linear has %d parameters, want 1", got)
	}

	x := tensor.Zeros(1, 3)
	y := l.Forward(x)
	for i, v := range y.Data {
		if v != 0 {
			t.Errorf("zero input through biasless linear: output[%d]=%v", i, v)
		}
	}
}

func TestLinearWeightNormInitialEquivalence(t *testing.T) {
	t.Parallel()

	wn := nn.NewLinear(3, 2, nn.WithWeightNorm())

	plain := nn.NewLinear(3, 2)
	copy(plain.Weight.Data, wn.Weight.Data)
	copy(plain.Bias.Data, wn.Bias.Data)

	x, _ := tensor.FromSlice([]float64{0.5, -1, 2}, 1, 3)
	a := wn.Forward(x)
	b := plain.Forward(x)

	for i := range a.Data {
		if math.Abs(a.Data[i]-b.Data[i]) > 1e-12 {
			t.Errorf("output[%d]: weight-norm=%v plain=%v", i, a.Data[i], b.Data[i])
		}
	}
}

func TestLinearWeightNormGainScalesOutput(t *testing.T) {
	t.Parallel()

	l := nn.NewLinear(2, 1, nn.WithWeightNorm(), nn.WithoutBias())

	x, _ := tensor.FromSlice([]float64{1, 1}, 1, 2)
	before := l.Forward(x).Data[0]

	l.Gain.Data[0] *= 2
	after := l.Forward(x).Data[0]

	if math.Abs(after-2*before) > 1e-12 {
		t.Errorf("doubling gain: before=%v after=%v, want exact doubling", before, after)
	}
}

func TestEmbeddingLookup(t *testing.T) {
	t.Parallel()

	e := nn.NewEmbedding(5, 3)
	for i := range e.Weight.Data {
		e.Weight.Data[i] = float64(i)
	}

	v := e.Lookup(2)
	want := []float64{6, 7, 8}
	for i, w := range want {
		if v.Data[i] != w {
			t.Errorf("Lookup(2)[%d]=%v, want %v", i, v.Data[i], w)
		}
	}
}

func TestEmbeddingForwardAppendsAxis(t *testing.T) {
	t.Parallel()

	e := nn.NewEmbedding(4, 2)
	for i := range e.Weight.Data {
		e.Weight.Data[i] = float64(i)
	}

	idx, _ := tensor.FromSlice([]float64{3, 0, 1}, 1, 3)
	out := e.Forward(idx)

	wantShape := []int{1, 3, 2}
	for i := range wantShape {
		if out.Shape[i] != wantShape[i] {
			t.Fatalf("output shape=%v, want %v", out.Shape, wantShape)
		}
	}
	want := []float64{6, 7, 0, 1, 2, 3}
	for i, w := range want {
		if out.Data[i] != w {
			t.Errorf("output[%d]=%v, want %v", i, out.Data[i], w)
		}
	}
}
