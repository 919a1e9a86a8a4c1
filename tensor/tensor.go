// Package tensor provides the flat float64 tensor type and the numeric
// operations the network blocks are built from.
package tensor

import (
	"fmt"
)

// DType represents tensor data type.
type DType int

const (
	Float64 DType = iota
	Float32
	Int32
	Int64
)

// Device represents the computation device. Only CPU is backed by this
// build; the value is carried as a read-only execution context.
type Device int

const (
	CPU Device = iota
	CUDA
)

func (d Device) String() string {
	switch d {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	}
	return fmt.Sprintf("device(%d)", int(d))
}

// Tensor represents a multi-dimensional array in row-major layout.
type Tensor struct {
	Data    []float64
	Shape   []int
	Strides []int
	Dtype   DType
	Device  Device
}

// computeStrides calculates strides for row-major layout.
func computeStrides(shape []int) []int {
	if len(shape) == 0 {
		return nil
	}
	strides := make([]int, len(shape))
	strides[len(shape)-1] = 1
	for i := len(shape) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * shape[i+1]
	}
	return strides
}

// New creates a zero-initialized tensor with the given shape.
func New(shape ...int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return &Tensor{
		Data:    make([]float64, size),
		Shape:   append([]int{}, shape...),
		Strides: computeStrides(shape),
		Dtype:   Float64,
		Device:  CPU,
	}
}

// Zeros creates a zero-initialized tensor.
func Zeros(shape ...int) *Tensor {
	return New(shape...)
}

// Ones creates a tensor filled with ones.
func Ones(shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = 1.0
	}
	return t
}

// FromSlice creates a tensor with the given shape backed by a copy of data.
func FromSlice(data []float64, shape ...int) (*Tensor, error) {
	t := New(shape...)
	if len(data) != len(t.Data) {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}
	copy(t.Data, data)
	return t, nil
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	if len(t.Shape) == 0 {
		return 0
	}
	size := 1
	for _, dim := range t.Shape {
		size *= dim
	}
	return size
}

// Dim returns the number of axes.
func (t *Tensor) Dim() int { return len(t.Shape) }

// Clone creates a deep copy.
func (t *Tensor) Clone() *Tensor {
	clone := &Tensor{
		Shape:   append([]int{}, t.Shape...),
		Strides: append([]int{}, t.Strides...),
		Dtype:   t.Dtype,
		Device:  t.Device,
		Data:    make([]float64, len(t.Data)),
	}
	copy(clone.Data, t.Data)
	return clone
}

// Scale multiplies all elements by a scalar in place.
func (t *Tensor) Scale(s float64) {
	for i := range t.Data {
		t.Data[i] *= s
	}
}

// Fill sets all elements to value.
func (t *Tensor) Fill(value float64) {
	for i := range t.Data {
		t.Data[i] = value
	}
}

// Reshape returns a new view of the same data with a different shape.
// A single -1 entry is inferred from the remaining dimensions.
func (t *Tensor) Reshape(newShape ...int) (*Tensor, error) {
	totalSize := t.Size()
	newSize := 1
	unknownIdx := -1

	shape := append([]int{}, newShape...)
	for i, dim := range shape {
		if dim == -1 {
			unknownIdx = i
		} else {
			newSize *= dim
		}
	}

	if unknownIdx != -1 {
		shape[unknownIdx] = totalSize / newSize
		newSize = totalSize
	}

	if newSize != totalSize {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v", totalSize, newShape)
	}

	return &Tensor{
		Data:    t.Data,
		Shape:   shape,
		Strides: computeStrides(shape),
		Dtype:   t.Dtype,
		Device:  t.Device,
	}, nil
}

// MustReshape is Reshape that panics on shape mismatch.
func (t *Tensor) MustReshape(newShape ...int) *Tensor {
	r, err := t.Reshape(newShape...)
	if err != nil {
		panic(err)
	}
	return r
}

// Transpose returns the transposed copy of a 2D tensor.
func (t *Tensor) Transpose() (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("transpose only for 2D tensors, got shape %v", t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	result := New(cols, rows)

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			result.Data[j*rows+i] = t.Data[i*cols+j]
		}
	}
	return result, nil
}

// T is shorthand for Transpose.
func (t *Tensor) T() *Tensor {
	result, err := t.Transpose()
	if err != nil {
		panic(err)
	}
	return result
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float64 {
	offset := 0
	for i, idx := range indices {
		offset += idx * t.Strides[i]
	}
	return t.Data[offset]
}

// Set sets the element at the given indices.
func (t *Tensor) Set(value float64, indices ...int) {
	offset := 0
	for i, idx := range indices {
		offset += idx * t.Strides[i]
	}
	t.Data[offset] = value
}

// Row returns the backing slice of row i of a tensor whose last axis has
// length w. The slice aliases the tensor data.
func (t *Tensor) Row(i, w int) []float64 {
	return t.Data[i*w : (i+1)*w]
}

// String returns a short description.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}
