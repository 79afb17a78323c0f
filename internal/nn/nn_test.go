package nn_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/continual/internal/backend/cpu"
	"github.com/born-ml/continual/internal/nn"
	"github.com/born-ml/continual/internal/tensor"
)

type cpuTensor = tensor.Tensor[float32, *cpu.CPUBackend]

func mustTensor(t *testing.T, data []float32, shape tensor.Shape) *cpuTensor {
	t.Helper()
	x, err := tensor.FromSlice(data, shape, cpu.New())
	require.NoError(t, err)
	return x
}

func mustRaw(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	return mustTensor(t, data, shape).Raw()
}

func TestTruncNormal_StaysInBounds(t *testing.T) {
	backend := cpu.New()
	w := nn.TruncNormal(tensor.Shape{64, 32}, 0, 1, -0.5, 0.5, nil, backend)

	for _, v := range w.Data() {
		assert.GreaterOrEqual(t, v, float32(-0.5))
		assert.LessOrEqual(t, v, float32(0.5))
	}
}

func TestTruncNormal_SeededSource(t *testing.T) {
	backend := cpu.New()
	a := nn.TruncNormal(tensor.Shape{8, 4}, 0, 0.02, -2, 2, rand.NewPCG(1, 2), backend)
	b := nn.TruncNormal(tensor.Shape{8, 4}, 0, 0.02, -2, 2, rand.NewPCG(1, 2), backend)
	c := nn.TruncNormal(tensor.Shape{8, 4}, 0, 0.02, -2, 2, rand.NewPCG(3, 2), backend)

	assert.Equal(t, a.Data(), b.Data())
	assert.NotEqual(t, a.Data(), c.Data())
}

func TestTruncNormal_InvalidInterval(t *testing.T) {
	assert.Panics(t, func() {
		nn.TruncNormal(tensor.Shape{2}, 0, 1, 1, 1, nil, cpu.New())
	})
	assert.Panics(t, func() {
		nn.TruncNormal(tensor.Shape{2}, 0, 0, -2, 2, nil, cpu.New())
	})
}

func TestKaimingUniform_Bound(t *testing.T) {
	w := nn.KaimingUniform(tensor.Shape{16, 48}, 48, 1, nil, cpu.New())
	bound := float32(math.Sqrt(3.0 / 48))

	for _, v := range w.Data() {
		assert.LessOrEqual(t, float32(math.Abs(float64(v))), bound)
	}
}

func TestNormalize(t *testing.T) {
	x := mustTensor(t, []float32{3, 4, 0, 0}, tensor.Shape{2, 2})
	y := nn.Normalize(x)

	assert.InDeltaSlice(t, []float32{0.6, 0.8, 0, 0}, y.Data(), 1e-6)
}

func TestReduceProxies(t *testing.T) {
	t.Run("single proxy is identity", func(t *testing.T) {
		x := mustTensor(t, []float32{1, 2, 3}, tensor.Shape{1, 3})
		y, err := nn.ReduceProxies(x, 1)
		require.NoError(t, err)
		assert.Same(t, x, y)
	})

	t.Run("attention weighted sum", func(t *testing.T) {
		x := mustTensor(t, []float32{0.6, 0.8, 1, 1}, tensor.Shape{1, 4})
		y, err := nn.ReduceProxies(x, 2)
		require.NoError(t, err)

		e1, e2 := math.Exp(0.6), math.Exp(0.8)
		want := (e1*0.6 + e2*0.8) / (e1 + e2)
		assert.Equal(t, tensor.Shape{1, 2}, y.Shape())
		assert.InDelta(t, want, y.At(0, 0), 1e-6)
		assert.InDelta(t, 1.0, y.At(0, 1), 1e-6)
	})

	t.Run("width not divisible", func(t *testing.T) {
		x := mustTensor(t, []float32{1, 2, 3}, tensor.Shape{1, 3})
		_, err := nn.ReduceProxies(x, 2)
		assert.ErrorIs(t, err, nn.ErrProxyShape)
	})
}

func TestLinear_StrictLoad(t *testing.T) {
	layer := nn.NewLinear(2, 3, true, cpu.New())
	before := layer.Weight().Tensor().Clone().Data()

	tests := []struct {
		name string
		sd   map[string]*tensor.RawTensor
		want error
	}{
		{
			name: "missing bias",
			sd:   map[string]*tensor.RawTensor{"weight": mustRaw(t, make([]float32, 6), tensor.Shape{3, 2})},
			want: nn.ErrMissingKey,
		},
		{
			name: "unexpected key",
			sd: map[string]*tensor.RawTensor{
				"weight": mustRaw(t, make([]float32, 6), tensor.Shape{3, 2}),
				"bias":   mustRaw(t, make([]float32, 3), tensor.Shape{3}),
				"extra":  mustRaw(t, make([]float32, 1), tensor.Shape{1}),
			},
			want: nn.ErrUnexpectedKey,
		},
		{
			name: "shape mismatch",
			sd: map[string]*tensor.RawTensor{
				"weight": mustRaw(t, make([]float32, 6), tensor.Shape{2, 3}),
				"bias":   mustRaw(t, make([]float32, 3), tensor.Shape{3}),
			},
			want: nn.ErrShapeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := layer.LoadStateDict(tt.sd)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, layer.Weight().Tensor().Data())
		})
	}
}

func TestLayerNorm_Forward(t *testing.T) {
	ln := nn.NewLayerNorm(4, nn.DefaultLayerNormEps, cpu.New())
	x := mustTensor(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 4})
	y := ln.Forward(x)

	// mean 2.5, variance 1.25
	inv := 1 / math.Sqrt(1.25+1e-5)
	want := []float32{float32(-1.5 * inv), float32(-0.5 * inv), float32(0.5 * inv), float32(1.5 * inv)}
	assert.InDeltaSlice(t, want, y.Data(), 1e-5)
}

func TestSequential_StateDictKeys(t *testing.T) {
	backend := cpu.New()
	seq := nn.NewSequential[*cpu.CPUBackend](
		nn.NewLayerNorm(4, nn.DefaultLayerNormEps, backend),
		nn.NewLinear(4, 2, true, backend),
	)

	sd := seq.StateDict()
	assert.Len(t, sd, 4)
	for _, key := range []string{"0.weight", "0.bias", "1.weight", "1.bias"} {
		assert.Contains(t, sd, key)
	}
	assert.Len(t, seq.Parameters(), 4)
}

func TestCrossEntropyLoss_UniformLogits(t *testing.T) {
	backend := cpu.New()
	logits := tensor.Zeros[float32](tensor.Shape{2, 4}, backend)
	labels, err := tensor.FromSlice([]int32{0, 3}, tensor.Shape{2}, backend)
	require.NoError(t, err)

	loss := nn.NewCrossEntropyLoss(backend).Forward(logits, labels)
	assert.InDelta(t, math.Log(4), loss.Item(), 1e-5)
}

func TestAccuracy(t *testing.T) {
	backend := cpu.New()
	logits := mustTensor(t, []float32{
		0.9, 0.1, 0,
		0.1, 0.8, 0.1,
		0.2, 0.7, 0.1,
		0, 0, 1,
	}, tensor.Shape{4, 3})
	labels, err := tensor.FromSlice([]int32{0, 1, 2, 2}, tensor.Shape{4}, backend)
	require.NoError(t, err)

	assert.InDelta(t, 0.75, nn.Accuracy(logits, labels), 1e-6)

	correct, total := nn.CountCorrect(logits, labels, func(label int32) bool { return label >= 2 })
	assert.Equal(t, 1, correct)
	assert.Equal(t, 2, total)
}

func TestParameter_Trainable(t *testing.T) {
	layer := nn.NewLinear(2, 2, true, cpu.New())
	params := layer.Parameters()
	params[0].SetRequiresGrad(false)

	trainable := nn.Trainable(params)
	require.Len(t, trainable, 1)
	assert.Same(t, params[1], trainable[0])
}
