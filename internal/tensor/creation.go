package tensor

import (
	"math"
	"math/rand/v2"
)

// Zeros creates a tensor filled with zeros.
//
// Example:
//
//	backend := cpu.New()
//	t := tensor.Zeros[float32](Shape{3, 4}, backend)
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	var dummy T
	return New[T, B](MustRaw(shape, inferDataType(dummy), b.Device()), b)
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return Full[T](shape, 1, b)
}

// Full creates a tensor filled with a specific value.
//
// Example:
//
//	t := tensor.Full[float32](Shape{3, 3}, 3.14, backend)
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Randn creates a tensor with values drawn from the standard normal distribution.
// Only float types are supported.
func Randn[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	switch data := any(t.Data()).(type) {
	case []float32:
		for i := range data {
			data[i] = float32(rand.NormFloat64()) //nolint:gosec // G404: weight sampling is not security sensitive
		}
	case []float64:
		for i := range data {
			data[i] = rand.NormFloat64() //nolint:gosec // G404: weight sampling is not security sensitive
		}
	default:
		panic("Randn only supports float32 and float64 types")
	}
	return t
}

// Arange creates a 1-D tensor with values [start, end).
func Arange[T DType, B Backend](start, end int, b B) *Tensor[T, B] {
	n := end - start
	if n <= 0 {
		panic("Arange: end must be greater than start")
	}
	t := Zeros[T, B](Shape{n}, b)
	data := t.Data()
	for i := range data {
		data[i] = T(start + i)
	}
	return t
}

// IsFinite reports whether every element of a float tensor is finite.
func IsFinite[T DType, B Backend](t *Tensor[T, B]) bool {
	for _, v := range t.Data() {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
