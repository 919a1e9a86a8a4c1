package nn_test

import (
	"math"
	"testing"

	"tdsnet/nn"
	"tdsnet/tensor"
)

func TestDropoutEvalIsIdentity(t *testing.T) {
	t.Parallel()

	d := nn.NewDropout(0.5)
	d.SetTraining(false)

	x := tensor.Ones(2, 3)
	y := d.Forward(x)
	if y != x {
		t.Error("eval-mode dropout should return its input unchanged")
	}
}

func TestDropoutTrainingScalesSurvivors(t *testing.T) {
	t.Parallel()

	d := nn.NewDropout(0.5)

	x := tensor.Ones(1, 1000)
	y := d.Forward(x)

	zeros := 0
	for _, v := range y.Data {
		switch v {
		case 0:
			zeros++
		case 2:
		default:
			t.Fatalf("survivor value %v, want 2 (1 scaled by 1/(1-p))", v)
		}
	}
	// Loose bound: 1000 fair coin flips land between 400 and 600 heads with
	// overwhelming probability.
	if zeros < 400 || zeros > 600 {
		t.Errorf("dropped %d of 1000 at p=0.5, outside [400, 600]", zeros)
	}
}

func TestInferenceSoftmax(t *testing.T) {
	t.Parallel()

	s := nn.NewInferenceSoftmax()

	x, _ := tensor.FromSlice([]float64{1, 2, 3, 0, 0, 0}, 2, 3)

	if y := s.Forward(x); y != x {
		t.Error("training mode should pass logits through")
	}

	s.SetTraining(false)
	y := s.Forward(x)
	for r := 0; r < 2; r++ {
		var sum float64
		for c := 0; c < 3; c++ {
			sum += y.At(r, c)
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("row %d sums to %v, want 1", r, sum)
		}
	}
	if !(y.At(0, 2) > y.At(0, 1) && y.At(0, 1) > y.At(0, 0)) {
		t.Error("softmax must preserve logit ordering")
	}
}

func TestSequentialChainsAndPropagatesMode(t *testing.T) {
	t.Parallel()

	drop := nn.NewDropout(0.9)
	soft := nn.NewInferenceSoftmax()
	seq := nn.NewSequential().Add(drop).Add(soft)

	seq.SetTraining(false)
	if drop.Training || soft.Training {
		t.Fatal("SetTraining(false) did not reach nested layers")
	}

	x, _ := tensor.FromSlice([]float64{0, 0}, 1, 2)
	y := seq.Forward(x)
	for i := range y.Data {
		if math.Abs(y.Data[i]-0.5) > 1e-12 {
			t.Errorf("uniform logits through eval stack: output[%d]=%v, want 0.5", i, y.Data[i])
		}
	}
}

func TestSequentialParameters(t *testing.T) {
	t.Parallel()

	seq := nn.NewSequential().
		Add(nn.NewLinear(2, 3)).
		Add(nn.NewLinear(3, 1, nn.WithoutBias()))

	if got := len(seq.Parameters()); got != 3 {
		t.Errorf("Parameters() returned %d tensors, want 3", got)
	}
}
