package ops_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/born-ml/continual/internal/autodiff/ops"
	"github.com/born-ml/continual/internal/backend/cpu"
	"github.com/born-ml/continual/internal/tensor"
)

func raw(data []float32, shape ...int) *tensor.RawTensor {
	r := tensor.MustRaw(tensor.Shape(shape), tensor.Float32, tensor.CPU)
	copy(r.AsFloat32(), data)
	return r
}

func TestAddOp_BackwardReducesBroadcast(t *testing.T) {
	backend := cpu.New()
	a := raw([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := raw([]float32{1, 1}, 2, 1)
	out := backend.Add(a, b)

	grads := ops.NewAddOp(a, b, out).Backward(raw([]float32{1, 2, 3, 4, 5, 6}, 2, 3), backend)

	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, grads[0].AsFloat32())
	assert.Equal(t, tensor.Shape{2, 1}, grads[1].Shape())
	assert.Equal(t, []float32{6, 15}, grads[1].AsFloat32())
}

func TestMatMulOp_Backward(t *testing.T) {
	backend := cpu.New()
	a := raw([]float32{1, 2, 3, 4}, 2, 2)
	b := raw([]float32{5, 6, 7, 8}, 2, 2)
	out := backend.MatMul(a, b)

	grads := ops.NewMatMulOp(a, b, out).Backward(raw([]float32{1, 1, 1, 1}, 2, 2), backend)

	assert.Equal(t, []float32{11, 15, 11, 15}, grads[0].AsFloat32())
	assert.Equal(t, []float32{4, 4, 6, 6}, grads[1].AsFloat32())
}

func TestTransposeOp_BackwardInvertsPermutation(t *testing.T) {
	backend := cpu.New()
	x := raw(make([]float32, 24), 2, 3, 4)
	out := backend.Transpose(x, 1, 2, 0)

	grads := ops.NewTransposeOp(x, out, []int{1, 2, 0}).Backward(out, backend)

	assert.Equal(t, x.Shape(), grads[0].Shape())
}

func TestCatOp_BackwardSplits(t *testing.T) {
	backend := cpu.New()
	a := raw([]float32{1, 2}, 2, 1)
	b := raw([]float32{3, 4, 5, 6}, 2, 2)
	out := backend.Cat([]*tensor.RawTensor{a, b}, 1)

	grads := ops.NewCatOp([]*tensor.RawTensor{a, b}, out, -1).Backward(out, backend)

	assert.Equal(t, []float32{1, 2}, grads[0].AsFloat32())
	assert.Equal(t, []float32{3, 4, 5, 6}, grads[1].AsFloat32())
}

func TestCrossEntropyOp_Backward(t *testing.T) {
	backend := cpu.New()
	logits := raw([]float32{0, 0, 0, 0}, 2, 2)
	labels := tensor.MustRaw(tensor.Shape{2}, tensor.Int32, tensor.CPU)
	copy(labels.AsInt32(), []int32{0, 1})
	out := backend.CrossEntropy(logits, labels)

	grads := ops.NewCrossEntropyOp(logits, labels, out).Backward(raw([]float32{1}, 1), backend)

	assert.InDeltaSlice(t, []float32{-0.25, 0.25, 0.25, -0.25}, grads[0].AsFloat32(), 1e-6)
	assert.Nil(t, grads[1])
}

func TestSqrtOp_BackwardZeroOutput(t *testing.T) {
	backend := cpu.New()
	x := raw([]float32{0, 4}, 2)
	out := backend.Sqrt(x)

	grads := ops.NewSqrtOp(x, out).Backward(raw([]float32{1, 1}, 2), backend)

	assert.Equal(t, []float32{0, 0.25}, grads[0].AsFloat32())
	assert.False(t, math.IsInf(float64(grads[0].AsFloat32()[0]), 0))
}

func TestClampMinOp_Backward(t *testing.T) {
	backend := cpu.New()
	x := raw([]float32{-1, 0.5, 2}, 3)
	out := backend.ClampMin(x, 0.5)

	grads := ops.NewClampMinOp(x, out, 0.5).Backward(raw([]float32{1, 1, 1}, 3), backend)

	assert.Equal(t, []float32{0, 1, 1}, grads[0].AsFloat32())
}

func TestMeanDimOp_Backward(t *testing.T) {
	backend := cpu.New()
	x := raw([]float32{1, 2, 3, 4}, 2, 2)
	out := backend.MeanDim(x, 1, false)

	grads := ops.NewMeanDimOp(x, out, 1, false).Backward(raw([]float32{1, 2}, 2), backend)

	assert.Equal(t, []float32{0.5, 0.5, 1, 1}, grads[0].AsFloat32())
}
