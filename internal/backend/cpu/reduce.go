package cpu

import (
	"fmt"

	"github.com/born-ml/continual/internal/tensor"
)

// Sum reduces all elements to a scalar (shape []).
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result := cpu.newResult(tensor.Shape{}, x.DType())
	switch x.DType() {
	case tensor.Float32:
		var s float64
		for _, v := range x.AsFloat32() {
			s += float64(v)
		}
		result.AsFloat32()[0] = float32(s)
	case tensor.Float64:
		var s float64
		for _, v := range x.AsFloat64() {
			s += v
		}
		result.AsFloat64()[0] = s
	default:
		panic(fmt.Sprintf("sum: unsupported dtype %s", x.DType()))
	}
	return result
}

// SumDim sums along dim. With keepDim the reduced dimension stays as size 1.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduceDim("sum_dim", x, dim, keepDim, false)
}

// MeanDim averages along dim. With keepDim the reduced dimension stays as size 1.
func (cpu *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduceDim("mean_dim", x, dim, keepDim, true)
}

func (cpu *CPUBackend) reduceDim(name string, x *tensor.RawTensor, dim int, keepDim, mean bool) *tensor.RawTensor {
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	outer, size, inner := shape.Split(dim)

	result := cpu.newResult(ReducedShape(shape, dim, keepDim), x.DType())
	switch x.DType() {
	case tensor.Float32:
		reduceAlong(result.AsFloat32(), x.AsFloat32(), outer, size, inner, mean)
	case tensor.Float64:
		reduceAlong(result.AsFloat64(), x.AsFloat64(), outer, size, inner, mean)
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}
	return result
}

func reduceAlong[T float](dst, src []T, outer, size, inner int, mean bool) {
	for o := 0; o < outer; o++ {
		base := o * size * inner
		for i := 0; i < inner; i++ {
			var acc T
			for s := 0; s < size; s++ {
				acc += src[base+s*inner+i]
			}
			if mean {
				acc /= T(size)
			}
			dst[o*inner+i] = acc
		}
	}
}

// Argmax returns the int32 index of the largest value along dim.
// The reduced dimension is removed.
func (cpu *CPUBackend) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	outer, size, inner := shape.Split(dim)

	result := cpu.newResult(ReducedShape(shape, dim, false), tensor.Int32)
	dst := result.AsInt32()
	switch x.DType() {
	case tensor.Float32:
		argmaxAlong(dst, x.AsFloat32(), outer, size, inner)
	case tensor.Float64:
		argmaxAlong(dst, x.AsFloat64(), outer, size, inner)
	default:
		panic(fmt.Sprintf("argmax: unsupported dtype %s", x.DType()))
	}
	return result
}

func argmaxAlong[T float](dst []int32, src []T, outer, size, inner int) {
	for o := 0; o < outer; o++ {
		base := o * size * inner
		for i := 0; i < inner; i++ {
			best := 0
			bestVal := src[base+i]
			for s := 1; s < size; s++ {
				if v := src[base+s*inner+i]; v > bestVal {
					best, bestVal = s, v
				}
			}
			dst[o*inner+i] = int32(best) //nolint:gosec // G115: dimension sizes fit in int32
		}
	}
}

// ReducedShape returns the shape left after reducing dim.
func ReducedShape(shape tensor.Shape, dim int, keepDim bool) tensor.Shape {
	out := make(tensor.Shape, 0, len(shape))
	for i, d := range shape {
		switch {
		case i != dim:
			out = append(out, d)
		case keepDim:
			out = append(out, 1)
		}
	}
	return out
}
