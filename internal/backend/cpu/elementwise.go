package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/continual/internal/tensor"
)

func add[T float](x, y T) T { return x + y }
func sub[T float](x, y T) T { return x - y }
func mul[T float](x, y T) T { return x * y }
func div[T float](x, y T) T { return x / y }

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, add[float32], add[float64])
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("sub", a, b, sub[float32], sub[float64])
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, mul[float32], mul[float64])
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("div", a, b, div[float32], div[float64])
}

func (cpu *CPUBackend) binary(
	name string,
	a, b *tensor.RawTensor,
	f32 func(x, y float32) float32,
	f64 func(x, y float64) float64,
) *tensor.RawTensor {
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("%s: dtype mismatch: %s vs %s", name, a.DType(), b.DType()))
	}
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result := cpu.newResult(outShape, a.DType())
	switch a.DType() {
	case tensor.Float32:
		applyBinary(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), a.Shape(), b.Shape(), outShape, needsBroadcast, f32)
	case tensor.Float64:
		applyBinary(result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), a.Shape(), b.Shape(), outShape, needsBroadcast, f64)
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, a.DType()))
	}
	return result
}

// applyBinary walks the output in row-major order and keeps one offset per
// operand, advancing it by the operand's broadcast stride.
func applyBinary[T float](dst, x, y []T, xShape, yShape, outShape tensor.Shape, broadcast bool, f func(T, T) T) {
	if !broadcast {
		for i := range dst {
			dst[i] = f(x[i], y[i])
		}
		return
	}

	xs := tensor.BroadcastStrides(xShape, outShape)
	ys := tensor.BroadcastStrides(yShape, outShape)
	ndim := len(outShape)
	idx := make([]int, ndim)
	xo, yo := 0, 0
	for i := range dst {
		dst[i] = f(x[xo], y[yo])
		for d := ndim - 1; d >= 0; d-- {
			idx[d]++
			xo += xs[d]
			yo += ys[d]
			if idx[d] < outShape[d] {
				break
			}
			xo -= xs[d] * outShape[d]
			yo -= ys[d] * outShape[d]
			idx[d] = 0
		}
	}
}

// MulScalar multiplies every element by scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return cpu.unary("mul_scalar", x,
		func(v float32) float32 { return v * float32(scalar) },
		func(v float64) float64 { return v * scalar })
}

// AddScalar adds scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return cpu.unary("add_scalar", x,
		func(v float32) float32 { return v + float32(scalar) },
		func(v float64) float64 { return v + scalar })
}

// Exp computes element-wise exponential.
func (cpu *CPUBackend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("exp", x,
		func(v float32) float32 { return float32(math.Exp(float64(v))) },
		math.Exp)
}

// Log computes element-wise natural logarithm.
// Non-positive inputs yield -Inf or NaN like math.Log.
func (cpu *CPUBackend) Log(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("log", x,
		func(v float32) float32 { return float32(math.Log(float64(v))) },
		math.Log)
}

// Sqrt computes element-wise square root.
func (cpu *CPUBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("sqrt", x,
		func(v float32) float32 { return float32(math.Sqrt(float64(v))) },
		math.Sqrt)
}

// Rsqrt computes element-wise reciprocal square root.
func (cpu *CPUBackend) Rsqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("rsqrt", x,
		func(v float32) float32 { return float32(1 / math.Sqrt(float64(v))) },
		func(v float64) float64 { return 1 / math.Sqrt(v) })
}

// ClampMin replaces values below minValue with minValue.
func (cpu *CPUBackend) ClampMin(x *tensor.RawTensor, minValue float64) *tensor.RawTensor {
	lo32 := float32(minValue)
	return cpu.unary("clamp_min", x,
		func(v float32) float32 { return max(v, lo32) },
		func(v float64) float64 { return max(v, minValue) })
}

func (cpu *CPUBackend) unary(
	name string,
	x *tensor.RawTensor,
	f32 func(float32) float32,
	f64 func(float64) float64,
) *tensor.RawTensor {
	result := cpu.newResult(x.Shape(), x.DType())
	switch x.DType() {
	case tensor.Float32:
		applyUnary(result.AsFloat32(), x.AsFloat32(), f32, cpu)
	case tensor.Float64:
		applyUnary(result.AsFloat64(), x.AsFloat64(), f64, cpu)
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s (only float32/float64 supported)", name, x.DType()))
	}
	return result
}

func applyUnary[T float](dst, src []T, f func(T) T, cpu *CPUBackend) {
	cpu.forChunks(len(src), func(start, end int) {
		for i := start; i < end; i++ {
			dst[i] = f(src[i])
		}
	})
}
