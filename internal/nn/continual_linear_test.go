package nn_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/continual/internal/autodiff"
	"github.com/born-ml/continual/internal/backend/cpu"
	"github.com/born-ml/continual/internal/nn"
	"github.com/born-ml/continual/internal/tensor"
)

func TestSimpleContinualLinear_StateDictKeys(t *testing.T) {
	backend := cpu.New()

	plain := nn.NewSimpleContinualLinear(8, 4, backend)
	assert.ElementsMatch(t, []string{"heads.0.0.weight", "heads.0.0.bias"}, keys(plain.StateDict()))

	normed := nn.NewSimpleContinualLinear(8, 4, backend, nn.WithLayerNorm())
	normed.Update(2, true)
	assert.ElementsMatch(t, []string{
		"heads.0.0.weight", "heads.0.0.bias", "heads.0.1.weight", "heads.0.1.bias",
		"heads.1.0.weight", "heads.1.0.bias", "heads.1.1.weight", "heads.1.1.bias",
	}, keys(normed.StateDict()))
	assert.Equal(t, tensor.Shape{8}, normed.StateDict()["heads.1.0.weight"].Shape())
	assert.Equal(t, tensor.Shape{2, 8}, normed.StateDict()["heads.1.1.weight"].Shape())
}

func TestSimpleContinualLinear_Init(t *testing.T) {
	head := nn.NewSimpleContinualLinear(64, 32, cpu.New())
	sd := head.StateDict()

	weights := sd["heads.0.0.weight"].AsFloat32()
	var sumSq float64
	for _, v := range weights {
		assert.LessOrEqual(t, math.Abs(float64(v)), 2.0)
		sumSq += float64(v) * float64(v)
	}
	std := math.Sqrt(sumSq / float64(len(weights)))
	assert.InDelta(t, nn.ContinualHeadStd, std, 0.005)

	for _, v := range sd["heads.0.0.bias"].AsFloat32() {
		assert.Zero(t, v)
	}
}

func TestSimpleContinualLinear_SameSourceSameHeads(t *testing.T) {
	backend := cpu.New()
	build := func() *nn.SimpleContinualLinear[*cpu.CPUBackend] {
		head := nn.NewSimpleContinualLinear(8, 3, backend, nn.WithLayerNorm(), nn.WithContinualSource(rand.NewPCG(42, 43)))
		head.Update(2, true)
		return head
	}
	a, b := build(), build()

	for k, v := range a.StateDict() {
		assert.Equal(t, v.AsFloat32(), b.StateDict()[k].AsFloat32(), k)
	}
	assert.NotEqual(t, a.StateDict()["heads.0.1.weight"].AsFloat32()[:8], a.StateDict()["heads.1.1.weight"].AsFloat32()[:8])
}

func TestSimpleContinualLinear_ForwardConcatenates(t *testing.T) {
	backend := cpu.New()
	head := nn.NewSimpleContinualLinear(3, 2, backend)
	head.Update(1, false)

	assert.Equal(t, 2, head.NumHeads())
	assert.Equal(t, []int{2, 1}, head.HeadSizes())
	assert.Equal(t, 3, head.OutFeatures())

	sd := head.StateDict()
	copy(sd["heads.0.0.weight"].AsFloat32(), []float32{1, 0, 0, 0, 1, 0})
	copy(sd["heads.1.0.weight"].AsFloat32(), []float32{0, 0, 1})
	sd["heads.1.0.bias"].AsFloat32()[0] = 10

	out := head.Forward(mustTensor(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}))
	assert.Equal(t, tensor.Shape{2, 3}, out.Logits.Shape())
	assert.Equal(t, []float32{1, 2, 13, 4, 5, 16}, out.Logits.Data())
}

func TestSimpleContinualLinear_FeatureExpansion(t *testing.T) {
	backend := cpu.New()
	head := nn.NewSimpleContinualLinear(4, 3, backend, nn.WithFeatureExpansion())
	head.Update(2, true)
	x := tensor.Randn[float32](tensor.Shape{5, 4}, backend)

	assert.Panics(t, func() { head.Forward(x) })
	assert.Panics(t, func() { head.ForwardExpanded([]*cpuTensor{x}) })

	out := head.ForwardExpanded([]*cpuTensor{x, x.MulScalar(2)})
	assert.Equal(t, tensor.Shape{5, 5}, out.Logits.Shape())

	plain := nn.NewSimpleContinualLinear(4, 3, backend)
	assert.Panics(t, func() { plain.ForwardExpanded([]*cpuTensor{x}) })
}

func TestSimpleContinualLinear_UpdateFreezesOldHeads(t *testing.T) {
	head := nn.NewSimpleContinualLinear(4, 3, cpu.New(), nn.WithLayerNorm())
	head.Update(2, true)

	params := head.Parameters()
	require.Len(t, params, 8)
	for _, p := range params[:4] {
		assert.False(t, p.RequiresGrad(), p.Name())
	}
	for _, p := range params[4:] {
		assert.True(t, p.RequiresGrad(), p.Name())
	}
	assert.Len(t, nn.Trainable(params), 4)

	head.Update(1, false)
	params = head.Parameters()
	assert.Len(t, nn.Trainable(params), 8)
	for _, p := range params[:4] {
		assert.False(t, p.RequiresGrad(), p.Name())
	}
}

func TestSimpleContinualLinear_BackupRecall(t *testing.T) {
	head := nn.NewSimpleContinualLinear(4, 3, cpu.New())
	assert.ErrorIs(t, head.Recall(), nn.ErrNoBackup)

	head.Backup()
	require.True(t, head.HasBackup())
	weight := head.StateDict()["heads.0.0.weight"].AsFloat32()
	saved := append([]float32(nil), weight...)

	for i := range weight {
		weight[i] = float32(math.NaN())
	}
	require.NoError(t, head.Recall())
	assert.Equal(t, saved, head.StateDict()["heads.0.0.weight"].AsFloat32())

	// The backup survives a recall.
	weight[0] = 42
	require.NoError(t, head.Recall())
	assert.Equal(t, saved[0], head.StateDict()["heads.0.0.weight"].AsFloat32()[0])
}

func TestSimpleContinualLinear_RecallAfterUpdate(t *testing.T) {
	head := nn.NewSimpleContinualLinear(4, 3, cpu.New())
	head.Backup()
	head.Update(2, true)

	sd := head.StateDict()
	weight := sd["heads.0.0.weight"].AsFloat32()
	weight[0] = 42

	err := head.Recall()
	assert.ErrorIs(t, err, nn.ErrMissingKey)
	assert.Equal(t, float32(42), head.StateDict()["heads.0.0.weight"].AsFloat32()[0])
	assert.False(t, head.Parameters()[0].RequiresGrad())
}

func TestSimpleContinualLinear_GradientsReachNewHead(t *testing.T) {
	backend := autodiff.New(cpu.New())
	head := nn.NewSimpleContinualLinear(4, 2, backend, nn.WithLayerNorm())
	head.Update(2, true)

	backend.Tape().StartRecording()
	x := tensor.Randn[float32](tensor.Shape{6, 4}, backend)
	labels, err := tensor.FromSlice([]int32{0, 1, 2, 3, 2, 3}, tensor.Shape{6}, backend)
	require.NoError(t, err)

	loss := nn.NewCrossEntropyLoss(backend).Forward(head.Forward(x).Logits, labels)
	grads := autodiff.Backward(loss, backend)

	for _, p := range head.Parameters() {
		grad, ok := grads[p.Tensor().Raw()]
		require.True(t, ok, p.Name())
		assert.Equal(t, p.Tensor().Shape(), grad.Shape())
	}
}

func keys(sd map[string]*tensor.RawTensor) []string {
	out := make([]string, 0, len(sd))
	for k := range sd {
		out = append(out, k)
	}
	return out
}
