package nn_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/continual/autodiff"
	"github.com/born-ml/continual/backend/cpu"
	"github.com/born-ml/continual/nn"
	"github.com/born-ml/continual/optim"
	"github.com/born-ml/continual/tensor"
)

func TestPublicAPI_ContinualSession(t *testing.T) {
	backend := autodiff.New(cpu.New())
	head := nn.NewSimpleContinualLinear(4, 2, backend)
	head.Backup()
	head.Update(2, true)

	x := tensor.Randn[float32](tensor.Shape{3, 4}, backend)
	labels, err := tensor.FromSlice([]int32{2, 3, 2}, tensor.Shape{3}, backend)
	require.NoError(t, err)

	opt := optim.NewSGD(head.Parameters(), optim.SGDConfig{LR: 0.1}, backend)
	before := append([]float32(nil), head.StateDict()["heads.0.0.weight"].AsFloat32()...)

	backend.Tape().StartRecording()
	loss := nn.NewCrossEntropyLoss(backend).Forward(head.Forward(x).Logits, labels)
	opt.Step(autodiff.Backward(loss, backend))

	assert.Equal(t, before, head.StateDict()["heads.0.0.weight"].AsFloat32())
	assert.ErrorIs(t, head.Recall(), nn.ErrMissingKey)

	path := filepath.Join(t.TempDir(), "head.safetensors")
	require.NoError(t, nn.Save(head, path, "SimpleContinualLinear", nn.ContinualMetadata(head)))
	loaded, err := nn.LoadSimpleContinualLinear(path, backend)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, loaded.HeadSizes())
}

func TestPublicAPI_CosineHeads(t *testing.T) {
	backend := cpu.New()
	head := nn.NewCosineLinear(8, 3, backend, nn.WithProxies(2), nn.WithProxyReduction())

	split, err := nn.ExpandCosine[*cpu.Backend](head, 2, backend)
	require.NoError(t, err)

	out := split.Forward(tensor.Randn[float32](tensor.Shape{5, 8}, backend))
	assert.Equal(t, tensor.Shape{5, 5}, out.Logits.Shape())
	assert.Equal(t, tensor.Shape{5, 3}, out.OldScores.Shape())
	assert.Equal(t, tensor.Shape{5, 2}, out.NewScores.Shape())
	assert.True(t, tensor.IsFinite(out.Logits))
}
