package tensor

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ============================================================================
// Matrix Multiplication
// ============================================================================

// MatMul performs matrix multiplication: C = A @ B.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got %v @ %v", a.Shape, b.Shape)
	}
	if a.Shape[1] != b.Shape[0] {
		return nil, fmt.Errorf("incompatible shapes: %v @ %v", a.Shape, b.Shape)
	}

	m, k := a.Shape[0], a.Shape[1]
	n := b.Shape[1]

	c := Zeros(m, n)
	dst := mat.NewDense(m, n, c.Data)
	dst.Mul(mat.NewDense(m, k, a.Data), mat.NewDense(k, n, b.Data))
	return c, nil
}

// BatchedMatMul multiplies 3D tensors batch-wise: [batch, M, K] @ [batch, K, N].
// Batch entries are independent and are fanned out across CPUs for large
// workloads.
func BatchedMatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 3 || len(b.Shape) != 3 {
		return nil, fmt.Errorf("batched matmul requires 3D tensors, got %v @ %v", a.Shape, b.Shape)
	}
	if a.Shape[0] != b.Shape[0] {
		return nil, fmt.Errorf("batch sizes must match: %d vs %d", a.Shape[0], b.Shape[0])
	}
	if a.Shape[2] != b.Shape[1] {
		return nil, fmt.Errorf("incompatible shapes: %v @ %v", a.Shape, b.Shape)
	}

	batch := a.Shape[0]
	m, k := a.Shape[1], a.Shape[2]
	n := b.Shape[2]

	c := Zeros(batch, m, n)

	mul := func(idx int) {
		lhs := mat.NewDense(m, k, a.Data[idx*m*k:(idx+1)*m*k])
		rhs := mat.NewDense(k, n, b.Data[idx*k*n:(idx+1)*k*n])
		dst := mat.NewDense(m, n, c.Data[idx*m*n:(idx+1)*m*n])
		dst.Mul(lhs, rhs)
	}

	if batch > 1 && batch*m*n*k > 10000 {
		var g errgroup.Group
		g.SetLimit(runtime.NumCPU())
		for idx := 0; idx < batch; idx++ {
			idx := idx
			g.Go(func() error {
				mul(idx)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for idx := 0; idx < batch; idx++ {
			mul(idx)
		}
	}

	return c, nil
}

// ============================================================================
// Element-wise Operations
// ============================================================================

func Add(a, b *Tensor) *Tensor {
	if len(a.Data) != len(b.Data) {
		panic(fmt.Sprintf("tensor size mismatch: %v vs %v", a.Shape, b.Shape))
	}
	c := New(a.Shape...)
	copy(c.Data, a.Data)
	floats.Add(c.Data, b.Data)
	return c
}

func Sub(a, b *Tensor) *Tensor {
	if len(a.Data) != len(b.Data) {
		panic(fmt.Sprintf("tensor size mismatch: %v vs %v", a.Shape, b.Shape))
	}
	c := New(a.Shape...)
	copy(c.Data, a.Data)
	floats.Sub(c.Data, b.Data)
	return c
}

func Mul(a, b *Tensor) *Tensor {
	if len(a.Data) != len(b.Data) {
		panic(fmt.Sprintf("tensor size mismatch: %v vs %v", a.Shape, b.Shape))
	}
	c := New(a.Shape...)
	copy(c.Data, a.Data)
	floats.Mul(c.Data, b.Data)
	return c
}

// ============================================================================
// Activations
// ============================================================================

// ReLU returns max(0, x) elementwise.
func ReLU(t *Tensor) *Tensor {
	c := New(t.Shape...)
	for i, v := range t.Data {
		if v > 0 {
			c.Data[i] = v
		}
	}
	return c
}

// ReLUInPlace applies max(0, x) elementwise in place.
func ReLUInPlace(t *Tensor) {
	for i, v := range t.Data {
		if v < 0 {
			t.Data[i] = 0
		}
	}
}

// ============================================================================
// Softmax
// ============================================================================

// Softmax computes softmax along the last dimension.
func Softmax(t *Tensor) *Tensor {
	if len(t.Shape) < 1 {
		panic("softmax requires at least 1D tensor")
	}

	c := New(t.Shape...)
	lastDim := t.Shape[len(t.Shape)-1]
	rows := t.Size() / lastDim

	for r := 0; r < rows; r++ {
		in := t.Row(r, lastDim)
		out := c.Row(r, lastDim)

		maxVal := floats.Max(in)
		for i, v := range in {
			out[i] = math.Exp(v - maxVal)
		}
		sum := floats.Sum(out)
		floats.Scale(1/sum, out)
	}

	return c
}

// LogSumExp computes log(sum(exp(x))) over a vector, max-shifted for
// stability.
func LogSumExp(x []float64) float64 {
	maxVal := floats.Max(x)
	sum := 0.0
	for _, v := range x {
		sum += math.Exp(v - maxVal)
	}
	return maxVal + math.Log(sum)
}

// ============================================================================
// Reductions
// ============================================================================

func Sum(t *Tensor) float64 {
	return floats.Sum(t.Data)
}

func Mean(t *Tensor) float64 {
	return Sum(t) / float64(len(t.Data))
}

// Argmax returns the index of the maximum element in a vector.
func Argmax(x []float64) int {
	if len(x) == 0 {
		return -1
	}
	return floats.MaxIdx(x)
}

// ============================================================================
// Shape manipulation
// ============================================================================

// Cat concatenates two tensors along the last axis. All leading axes must
// match.
func Cat(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != len(b.Shape) {
		return nil, fmt.Errorf("cat rank mismatch: %v vs %v", a.Shape, b.Shape)
	}
	for i := 0; i < len(a.Shape)-1; i++ {
		if a.Shape[i] != b.Shape[i] {
			return nil, fmt.Errorf("cat shape mismatch: %v vs %v", a.Shape, b.Shape)
		}
	}

	wa := a.Shape[len(a.Shape)-1]
	wb := b.Shape[len(b.Shape)-1]
	rows := a.Size() / wa

	shape := append([]int{}, a.Shape...)
	shape[len(shape)-1] = wa + wb
	c := New(shape...)

	for r := 0; r < rows; r++ {
		copy(c.Data[r*(wa+wb):], a.Row(r, wa))
		copy(c.Data[r*(wa+wb)+wa:], b.Row(r, wb))
	}
	return c, nil
}

// Split2 splits a tensor into two along the last axis at width wa.
func Split2(t *Tensor, wa int) (*Tensor, *Tensor, error) {
	w := t.Shape[len(t.Shape)-1]
	if wa <= 0 || wa >= w {
		return nil, nil, fmt.Errorf("split width %d out of range for last dim %d", wa, w)
	}
	wb := w - wa
	rows := t.Size() / w

	shapeA := append([]int{}, t.Shape...)
	shapeA[len(shapeA)-1] = wa
	shapeB := append([]int{}, t.Shape...)
	shapeB[len(shapeB)-1] = wb

	a := New(shapeA...)
	b := New(shapeB...)
	for r := 0; r < rows; r++ {
		copy(a.Row(r, wa), t.Data[r*w:r*w+wa])
		copy(b.Row(r, wb), t.Data[r*w+wa:(r+1)*w])
	}
	return a, b, nil
}

// SwapAxes01 swaps the first two axes of a 3D tensor, e.g. [T,N,H] -> [N,T,H].
func SwapAxes01(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 3 {
		return nil, fmt.Errorf("swap requires a 3D tensor, got %v", t.Shape)
	}
	d0, d1, d2 := t.Shape[0], t.Shape[1], t.Shape[2]
	c := New(d1, d0, d2)
	for i := 0; i < d0; i++ {
		for j := 0; j < d1; j++ {
			copy(c.Data[(j*d0+i)*d2:(j*d0+i+1)*d2], t.Data[(i*d1+j)*d2:(i*d1+j+1)*d2])
		}
	}
	return c, nil
}
