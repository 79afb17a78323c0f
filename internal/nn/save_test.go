package nn_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/continual/internal/backend/cpu"
	"github.com/born-ml/continual/internal/nn"
	"github.com/born-ml/continual/internal/tensor"
)

// fakeOptimizer keeps one state tensor so checkpoints have something to store.
type fakeOptimizer struct {
	velocity *tensor.RawTensor
}

func (f *fakeOptimizer) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{"velocity.0": f.velocity}
}

func (f *fakeOptimizer) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	return f.velocity.CopyFrom(sd["velocity.0"])
}

func (f *fakeOptimizer) GetLR() float32 { return 0.1 }

func TestSaveLoad_Formats(t *testing.T) {
	for _, name := range []string{"head.born", "head.safetensors"} {
		t.Run(name, func(t *testing.T) {
			backend := cpu.New()
			path := filepath.Join(t.TempDir(), name)

			src := nn.NewCosineLinear(6, 4, backend, nn.WithProxies(2))
			require.NoError(t, nn.Save(src, path, "CosineLinear", map[string]string{"run": "abc"}))

			dst := nn.NewCosineLinear(6, 4, backend, nn.WithProxies(2))
			header, err := nn.Load(path, dst)
			require.NoError(t, err)

			assert.Equal(t, "CosineLinear", header.ModelType)
			assert.Equal(t, "abc", header.Metadata["run"])
			assert.Equal(t, src.Weight().Tensor().Data(), dst.Weight().Tensor().Data())
		})
	}
}

func TestLoad_StructureMismatch(t *testing.T) {
	backend := cpu.New()
	path := filepath.Join(t.TempDir(), "head.born")
	require.NoError(t, nn.Save(nn.NewCosineLinear(6, 4, backend), path, "CosineLinear", nil))

	_, err := nn.Load(path, nn.NewCosineLinear(6, 5, backend))
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
}

func TestLoadSimpleContinualLinear(t *testing.T) {
	for _, name := range []string{"continual.born", "continual.safetensors"} {
		t.Run(name, func(t *testing.T) {
			backend := cpu.New()
			path := filepath.Join(t.TempDir(), name)

			src := nn.NewSimpleContinualLinear(8, 5, backend, nn.WithLayerNorm())
			src.Update(3, true)
			src.Update(2, true)
			require.NoError(t, nn.Save(src, path, nn.ModelTypeContinual, nn.ContinualMetadata(src)))

			dst, err := nn.LoadSimpleContinualLinear(path, backend)
			require.NoError(t, err)

			assert.Equal(t, []int{5, 3, 2}, dst.HeadSizes())
			assert.True(t, dst.WithNorm())
			assert.False(t, dst.FeatureExpansion())
			for key, raw := range src.StateDict() {
				assert.Equal(t, raw.AsFloat32(), dst.StateDict()[key].AsFloat32(), key)
			}
		})
	}
}

func TestNewSimpleContinualLinearFromMetadata_Errors(t *testing.T) {
	backend := cpu.New()

	_, err := nn.NewSimpleContinualLinearFromMetadata(map[string]string{nn.MetaEmbedDim: "8"}, backend)
	assert.ErrorIs(t, err, nn.ErrMissingMeta)

	_, err = nn.NewSimpleContinualLinearFromMetadata(map[string]string{
		nn.MetaModelType: "CosineLinear", nn.MetaEmbedDim: "8", nn.MetaHeadSizes: "2",
	}, backend)
	assert.ErrorIs(t, err, nn.ErrUnknownModel)

	_, err = nn.NewSimpleContinualLinearFromMetadata(map[string]string{
		nn.MetaEmbedDim: "8", nn.MetaHeadSizes: "2,x",
	}, backend)
	assert.Error(t, err)
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	backend := cpu.New()
	path := filepath.Join(t.TempDir(), "session-1.born")

	head := nn.NewSimpleContinualLinear(4, 2, backend)
	head.Update(2, true)
	opt := &fakeOptimizer{velocity: mustRaw(t, []float32{1, 2, 3}, tensor.Shape{3})}

	ckpt := &nn.Checkpoint{
		Model:        head,
		Optimizer:    opt,
		Session:      1,
		Epoch:        5,
		Step:         120,
		Loss:         0.25,
		ModelType:    nn.ModelTypeContinual,
		Metadata:     nn.ContinualMetadata(head),
		TrainingMeta: map[string]any{"classes": 4},
	}
	require.NoError(t, ckpt.Save(path))

	restored, err := nn.LoadSimpleContinualLinear(path, backend)
	require.NoError(t, err)
	restoredOpt := &fakeOptimizer{velocity: mustRaw(t, make([]float32, 3), tensor.Shape{3})}

	loaded, err := nn.LoadCheckpoint(path, restored, restoredOpt)
	require.NoError(t, err)

	assert.Equal(t, 1, loaded.Session)
	assert.Equal(t, 5, loaded.Epoch)
	assert.Equal(t, int64(120), loaded.Step)
	assert.InDelta(t, 0.25, loaded.Loss, 1e-12)
	assert.Equal(t, nn.ModelTypeContinual, loaded.ModelType)
	assert.Equal(t, []float32{1, 2, 3}, restoredOpt.velocity.AsFloat32())
	assert.Equal(t, head.StateDict()["heads.1.0.weight"].AsFloat32(), restored.StateDict()["heads.1.0.weight"].AsFloat32())
}

func TestLoadCheckpoint_NotCheckpoint(t *testing.T) {
	backend := cpu.New()
	path := filepath.Join(t.TempDir(), "plain.born")
	head := nn.NewSimpleLinear(3, 2, true, backend)
	require.NoError(t, nn.Save(head, path, "SimpleLinear", nil))

	_, err := nn.LoadCheckpoint(path, head, nil)
	assert.ErrorIs(t, err, nn.ErrNotCheckpoint)
}

func TestSave_ReportsWriteFailure(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	head := nn.NewSimpleContinualLinear(4, 2, cpu.New())

	err := nn.Save(head, "/dev/full", nn.ModelTypeContinual, nn.ContinualMetadata(head))
	assert.Error(t, err)

	err = nn.Save(head, filepath.Join(t.TempDir(), "missing", "head.born"), nn.ModelTypeContinual, nil)
	assert.Error(t, err)
}
