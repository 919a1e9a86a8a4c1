package tensor_test

import (
	"testing"

	"tdsnet/tensor"
)

func TestReshapeInfersDimension(t *testing.T) {
	t.Parallel()

	x := tensor.New(2, 3, 4)
	r, err := x.Reshape(6, -1)
	if err != nil {
		t.Fatalf("Reshape(6, -1): unexpected error: %v", err)
	}
	if r.Shape[0] != 6 || r.Shape[1] != 4 {
		t.Errorf("Reshape(6, -1): shape=%v, want [6 4]", r.Shape)
	}
	if &r.Data[0] != &x.Data[0] {
		t.Errorf("Reshape should share backing data")
	}
}

func TestReshapeRejectsSizeMismatch(t *testing.T) {
	t.Parallel()

	x := tensor.New(2, 3)
	if _, err := x.Reshape(4, 2); err == nil {
		t.Fatalf("Reshape(4, 2) of 6 elements: want error, got nil")
	}
}

func TestTranspose(t *testing.T) {
	t.Parallel()

	x, err := tensor.FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	y := x.T()
	if y.Shape[0] != 3 || y.Shape[1] != 2 {
		t.Fatalf("T(): shape=%v, want [3 2]", y.Shape)
	}
	if got := y.At(2, 1); got != 6 {
		t.Errorf("T().At(2,1)=%v, want 6", got)
	}
	if got := y.At(0, 1); got != 4 {
		t.Errorf("T().At(0,1)=%v, want 4", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	x := tensor.Ones(2, 2)
	y := x.Clone()
	y.Data[0] = 7
	if x.Data[0] != 1 {
		t.Errorf("Clone shares data with original: x.Data[0]=%v, want 1", x.Data[0])
	}
}

func TestAtSetRoundTrip(t *testing.T) {
	t.Parallel()

	x := tensor.New(2, 3, 4)
	x.Set(42, 1, 2, 3)
	if got := x.At(1, 2, 3); got != 42 {
		t.Errorf("At(1,2,3)=%v, want 42", got)
	}
	if got := x.Data[1*12+2*4+3]; got != 42 {
		t.Errorf("row-major offset holds %v, want 42", got)
	}
}
