package tensor_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/continual/internal/backend/cpu"
	"github.com/born-ml/continual/internal/tensor"
)

func TestFromSlice(t *testing.T) {
	b := cpu.New()

	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, b)
	require.NoError(t, err)
	assert.Equal(t, float32(6), x.At(1, 2))
	assert.Equal(t, tensor.Float32, x.DType())
	assert.Equal(t, "Tensor[float32][2 3] on CPU", x.String())

	_, err = tensor.FromSlice([]float32{1, 2}, tensor.Shape{3}, b)
	assert.Error(t, err)
	assert.Panics(t, func() { x.At(2, 0) })
}

func TestCreation(t *testing.T) {
	b := cpu.New()

	assert.Equal(t, []float64{0, 0}, tensor.Zeros[float64](tensor.Shape{2}, b).Data())
	assert.Equal(t, []float32{1, 1, 1}, tensor.Ones[float32](tensor.Shape{3}, b).Data())
	assert.Equal(t, []int32{2, 3, 4}, tensor.Arange[int32](2, 5, b).Data())
	assert.Equal(t, float32(7), tensor.Full[float32](tensor.Shape{1}, 7, b).Item())

	r := tensor.Randn[float32](tensor.Shape{1000}, b)
	var mean float64
	for _, v := range r.Data() {
		mean += float64(v)
	}
	assert.InDelta(t, 0, mean/1000, 0.2)
}

func TestIsFinite(t *testing.T) {
	b := cpu.New()
	x, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2}, b)
	assert.True(t, tensor.IsFinite(x))

	x.Data()[1] = float32(math.NaN())
	assert.False(t, tensor.IsFinite(x))
}

func TestTensorOps(t *testing.T) {
	b := cpu.New()
	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, b)
	y, _ := tensor.FromSlice([]float32{1, 1}, tensor.Shape{2}, b)

	assert.Equal(t, []float32{2, 3, 4, 5}, x.Add(y).Data())
	assert.Equal(t, []float32{1, 3, 2, 4}, x.T().Data())
	assert.Equal(t, []float32{7, 10, 15, 22}, x.MatMul(x).Data())
	assert.Equal(t, tensor.Shape{2, 1, 2}, x.Unsqueeze(1).Shape())
	assert.Equal(t, tensor.Shape{4}, x.Reshape(-1).Shape())
	assert.Equal(t, []int32{1, 1}, x.Argmax(1).Data())

	cat := tensor.Cat([]*tensor.Tensor[float32, *cpu.CPUBackend]{x, x}, 1)
	assert.Equal(t, tensor.Shape{2, 4}, cat.Shape())
}

func TestCloneIsIndependent(t *testing.T) {
	b := cpu.New()
	x, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2}, b)

	c := x.Clone()
	c.Data()[0] = 5
	d := x.Detach()

	assert.Equal(t, float32(1), x.Data()[0])
	assert.NotSame(t, x.Raw(), d.Raw())
}
