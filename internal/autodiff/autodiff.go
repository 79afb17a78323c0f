// Package autodiff implements reverse-mode automatic differentiation using the
// decorator pattern.
//
// AutodiffBackend wraps any Backend and records every differentiable
// operation on a GradientTape while recording is enabled. Backward walks the
// tape from a chosen output and returns gradients keyed by RawTensor.
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//
//	x, _ := tensor.FromSlice([]float32{2}, tensor.Shape{1}, backend)
//	y := x.Mul(x)
//
//	grads := autodiff.Backward(y, backend)
//	fmt.Println(grads[x.Raw()].AsFloat32()) // [4]
package autodiff

import (
	"github.com/born-ml/continual/internal/autodiff/ops"
	"github.com/born-ml/continual/internal/tensor"
)

// AutodiffBackend wraps a Backend and adds automatic differentiation.
// It implements tensor.Backend.
type AutodiffBackend[B tensor.Backend] struct {
	inner B
	tape  *GradientTape
}

// New creates a new AutodiffBackend wrapping the given backend.
func New[B tensor.Backend](backend B) *AutodiffBackend[B] {
	return &AutodiffBackend[B]{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control.
func (b *AutodiffBackend[B]) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend.
func (b *AutodiffBackend[B]) Inner() B {
	return b.inner
}

// Name returns the backend name.
func (b *AutodiffBackend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Device returns the compute device.
func (b *AutodiffBackend[B]) Device() tensor.Device {
	return b.inner.Device()
}

// Add performs element-wise addition and records the operation.
func (b *AutodiffBackend[B]) Add(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Add(a, c)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewAddOp(a, c, result))
	}
	return result
}

// Sub performs element-wise subtraction and records the operation.
func (b *AutodiffBackend[B]) Sub(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sub(a, c)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSubOp(a, c, result))
	}
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *AutodiffBackend[B]) Mul(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Mul(a, c)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMulOp(a, c, result))
	}
	return result
}

// Div performs element-wise division and records the operation.
func (b *AutodiffBackend[B]) Div(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Div(a, c)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewDivOp(a, c, result))
	}
	return result
}

// MatMul performs matrix multiplication and records the operation.
func (b *AutodiffBackend[B]) MatMul(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.MatMul(a, c)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMatMulOp(a, c, result))
	}
	return result
}

// Reshape changes the shape and records the operation.
func (b *AutodiffBackend[B]) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	result := b.inner.Reshape(t, newShape)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewReshapeOp(t, result))
	}
	return result
}

// Transpose permutes dimensions and records the operation.
func (b *AutodiffBackend[B]) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	result := b.inner.Transpose(t, axes...)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewTransposeOp(t, result, axes))
	}
	return result
}

// MulScalar multiplies by a scalar and records the operation.
func (b *AutodiffBackend[B]) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	result := b.inner.MulScalar(x, scalar)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMulScalarOp(x, result, scalar))
	}
	return result
}

// AddScalar adds a scalar and records the operation.
func (b *AutodiffBackend[B]) AddScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	result := b.inner.AddScalar(x, scalar)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewAddScalarOp(x, result))
	}
	return result
}

// Exp computes exp(x) and records the operation.
func (b *AutodiffBackend[B]) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Exp(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewExpOp(x, result))
	}
	return result
}

// Log computes log(x) and records the operation.
func (b *AutodiffBackend[B]) Log(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Log(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewLogOp(x, result))
	}
	return result
}

// Sqrt computes sqrt(x) and records the operation.
func (b *AutodiffBackend[B]) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sqrt(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSqrtOp(x, result))
	}
	return result
}

// Rsqrt computes 1/sqrt(x) and records the operation.
func (b *AutodiffBackend[B]) Rsqrt(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Rsqrt(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewRsqrtOp(x, result))
	}
	return result
}

// ClampMin clamps from below and records the operation.
func (b *AutodiffBackend[B]) ClampMin(x *tensor.RawTensor, minValue float64) *tensor.RawTensor {
	result := b.inner.ClampMin(x, minValue)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewClampMinOp(x, result, minValue))
	}
	return result
}

// Softmax applies softmax along the last dimension and records the operation.
func (b *AutodiffBackend[B]) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	result := b.inner.Softmax(x, dim)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSoftmaxOp(x, result))
	}
	return result
}

// Sum reduces all elements and records the operation.
func (b *AutodiffBackend[B]) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sum(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSumOp(x, result))
	}
	return result
}

// SumDim sums along dim and records the operation.
func (b *AutodiffBackend[B]) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	result := b.inner.SumDim(x, dim, keepDim)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSumDimOp(x, result, dim, keepDim))
	}
	return result
}

// MeanDim averages along dim and records the operation.
func (b *AutodiffBackend[B]) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	result := b.inner.MeanDim(x, dim, keepDim)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMeanDimOp(x, result, dim, keepDim))
	}
	return result
}

// Argmax is not differentiable and is never recorded.
func (b *AutodiffBackend[B]) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return b.inner.Argmax(x, dim)
}

// Cat concatenates along dim and records the operation.
func (b *AutodiffBackend[B]) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	result := b.inner.Cat(tensors, dim)
	if b.tape.IsRecording() {
		inputs := append([]*tensor.RawTensor(nil), tensors...)
		b.tape.Record(ops.NewCatOp(inputs, result, dim))
	}
	return result
}

// CrossEntropy computes the mean cross-entropy and records the operation.
func (b *AutodiffBackend[B]) CrossEntropy(logits, labels *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.CrossEntropy(logits, labels)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewCrossEntropyOp(logits, labels, result))
	}
	return result
}
