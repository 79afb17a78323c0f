package ops

import (
	"fmt"

	"github.com/born-ml/continual/internal/tensor"
)

// reduceBroadcast sums a gradient back down to the shape of the operand that
// was broadcast in the forward pass.
//
//	Forward:  a[3,1] + b[3,4] -> c[3,4]
//	Backward: grad_c[3,4] -> grad_a[3,1] (sum along dim 1)
func reduceBroadcast(grad *tensor.RawTensor, target tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	if grad.Shape().Equal(target) {
		return grad
	}
	if len(target) == 0 {
		return backend.Sum(grad)
	}

	// Leading dimensions the operand never had.
	for len(grad.Shape()) > len(target) {
		grad = backend.SumDim(grad, 0, false)
	}
	for i, d := range target {
		if d == 1 && grad.Shape()[i] != 1 {
			grad = backend.SumDim(grad, i, true)
		}
	}
	return grad
}

// expandTo broadcasts grad to shape.
func expandTo(grad *tensor.RawTensor, shape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	if grad.Shape().Equal(shape) {
		return grad
	}
	zeros := tensor.MustRaw(shape, grad.DType(), grad.Device())
	return backend.Add(zeros, grad)
}

// narrow copies length entries starting at start along dim.
func narrow(t *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	shape := t.Shape()
	outer, size, inner := shape.Split(dim)

	outShape := shape.Clone()
	outShape[dim] = length
	out := tensor.MustRaw(outShape, t.DType(), t.Device())

	elem := t.DType().Size()
	src, dst := t.Data(), out.Data()
	block := length * inner * elem
	for o := 0; o < outer; o++ {
		from := (o*size + start) * inner * elem
		copy(dst[o*block:(o+1)*block], src[from:from+block])
	}
	return out
}

// scalarOf returns the single value of a one-element float tensor.
func scalarOf(t *tensor.RawTensor) float64 {
	switch t.DType() {
	case tensor.Float32:
		return float64(t.AsFloat32()[0])
	case tensor.Float64:
		return t.AsFloat64()[0]
	default:
		panic(fmt.Sprintf("scalarOf: unsupported dtype %s", t.DType()))
	}
}

// zipFloat combines two equally shaped float tensors element by element.
func zipFloat(a, b *tensor.RawTensor, f func(x, y float64) float64) *tensor.RawTensor {
	if !a.Shape().Equal(b.Shape()) {
		panic(fmt.Sprintf("zipFloat: shape mismatch %v vs %v", a.Shape(), b.Shape()))
	}
	out := tensor.MustRaw(a.Shape(), a.DType(), a.Device())
	switch a.DType() {
	case tensor.Float32:
		zip(out.AsFloat32(), a.AsFloat32(), b.AsFloat32(), f)
	case tensor.Float64:
		zip(out.AsFloat64(), a.AsFloat64(), b.AsFloat64(), f)
	default:
		panic(fmt.Sprintf("zipFloat: unsupported dtype %s", a.DType()))
	}
	return out
}

func zip[T float32 | float64](dst, x, y []T, f func(x, y float64) float64) {
	for i := range dst {
		dst[i] = T(f(float64(x[i]), float64(y[i])))
	}
}
