package trainer_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/born-ml/continual/internal/config"
	"github.com/born-ml/continual/internal/nn"
	"github.com/born-ml/continual/internal/trainer"
)

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Model.EmbedDim = 16
	cfg.Sessions = config.SessionsConfig{InitClasses: 3, Increment: 2, Count: 3}
	cfg.Training.Epochs = 20
	cfg.Training.BatchSize = 16
	cfg.Data = config.DataConfig{SamplesPerClass: 40, TestPerClass: 10, Noise: 0.3, Seed: 7}
	cfg.Output.Dir = t.TempDir()
	return cfg
}

func TestSynthetic_Deterministic(t *testing.T) {
	a := trainer.NewSynthetic(8, 4, 5, 2, 0.1, 11)
	b := trainer.NewSynthetic(8, 4, 5, 2, 0.1, 11)

	xa, ya := a.Train(1, 3)
	xb, yb := b.Train(1, 3)
	assert.Equal(t, xa, xb)
	assert.Equal(t, ya, yb)
	assert.Len(t, xa, 2*5*8)
	assert.Equal(t, []int32{1, 1, 1, 1, 1, 2, 2, 2, 2, 2}, ya)

	xt, yt := a.Test(0, 4)
	assert.Len(t, xt, 4*2*8)
	assert.Len(t, yt, 8)

	assert.Panics(t, func() { a.Train(3, 3) })
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Training.Epochs = 0

	_, err := trainer.New(cfg, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNew_SeedControlsHeadWeights(t *testing.T) {
	for _, head := range []string{config.HeadContinual, config.HeadCosine, config.HeadLinear} {
		t.Run(head, func(t *testing.T) {
			cfg := smallConfig(t)
			cfg.Model.Head = head

			a, err := trainer.New(cfg, zaptest.NewLogger(t))
			require.NoError(t, err)
			b, err := trainer.New(cfg, zaptest.NewLogger(t))
			require.NoError(t, err)

			sa, sb := a.Head().StateDict(), b.Head().StateDict()
			require.Len(t, sb, len(sa))
			for k, v := range sa {
				assert.Equal(t, v.AsFloat32(), sb[k].AsFloat32(), k)
			}

			cfg.Data.Seed++
			c, err := trainer.New(cfg, zaptest.NewLogger(t))
			require.NoError(t, err)
			key := "weight"
			if head == config.HeadContinual {
				key = "heads.0.0.weight"
			}
			assert.NotEqual(t, sa[key].AsFloat32(), c.Head().StateDict()[key].AsFloat32())
		})
	}
}

func TestRun_ContinualHead(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Model.LayerNorm = true

	tr, err := trainer.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	results, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, i, r.Session)
		assert.Equal(t, 3+2*i, r.Classes)
		assert.FileExists(t, r.Checkpoint)
	}
	assert.Greater(t, results[0].Accuracy, 0.5)
	assert.Zero(t, results[0].OldAccuracy)

	head, ok := tr.Head().(*nn.SimpleContinualLinear[trainer.Backend])
	require.True(t, ok)
	assert.Equal(t, []int{3, 2, 2}, head.HeadSizes())

	// Old heads are frozen, so head 0 still matches the session 0 checkpoint.
	first, err := nn.LoadSimpleContinualLinear(results[0].Checkpoint, tr.Backend())
	require.NoError(t, err)
	for _, key := range []string{"heads.0.0.weight", "heads.0.1.weight", "heads.0.1.bias"} {
		assert.Equal(t, first.StateDict()[key].AsFloat32(), head.StateDict()[key].AsFloat32(), key)
	}

	last, err := nn.LoadSimpleContinualLinear(results[2].Checkpoint, tr.Backend())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 2}, last.HeadSizes())

	ckpt, err := nn.LoadCheckpoint(results[2].Checkpoint, last, nil)
	require.NoError(t, err)
	assert.Equal(t, tr.RunID(), ckpt.Metadata[trainer.MetaRunID])
	assert.Equal(t, "7", ckpt.Metadata[trainer.MetaClasses])
	assert.Equal(t, 2, ckpt.Session)
}

func TestRun_CosineHeadSafeTensors(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Model.Head = config.HeadCosine
	cfg.Model.Proxies = 2
	cfg.Output.Format = config.FormatSafeTensors

	tr, err := trainer.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	results, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	head, ok := tr.Head().(*nn.SplitCosineLinear[trainer.Backend])
	require.True(t, ok)
	assert.Equal(t, 7, head.NumClasses())
	assert.Equal(t, 5, head.FC1().NumClasses())

	reloaded := nn.NewSplitCosineLinear(16, 5, 2, tr.Backend(), nn.WithProxies(2))
	header, err := nn.Load(results[2].Checkpoint, reloaded)
	require.NoError(t, err)
	assert.Equal(t, "SplitCosineLinear", header.ModelType)
	assert.Equal(t, head.Sigma().Tensor().Data(), reloaded.Sigma().Tensor().Data())
}

func TestRun_LinearHead(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Model.Head = config.HeadLinear
	cfg.Training.Optimizer = "adam"
	cfg.Training.LR = 0.01

	tr, err := trainer.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	results, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, results[2].Classes)
	assert.Equal(t, 7, tr.Head().OutFeatures())
}

func TestRun_FeatureExpansion(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Model.FeatureExpansion = true
	cfg.Sessions.Count = 2

	tr, err := trainer.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	results, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 2)

	loaded, err := nn.LoadSimpleContinualLinear(results[1].Checkpoint, tr.Backend())
	require.NoError(t, err)
	assert.True(t, loaded.FeatureExpansion())
}

func TestRunSession_DivergenceRestoresBackup(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Training.LR = 1e38

	tr, err := trainer.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	before := nn.CloneStateDict(tr.Head().StateDict())

	_, err = tr.RunSession(context.Background(), 0)
	require.ErrorIs(t, err, trainer.ErrDiverged)

	for key, raw := range tr.Head().StateDict() {
		assert.Equal(t, before[key].AsFloat32(), raw.AsFloat32(), key)
	}
	entries, err := os.ReadDir(cfg.Output.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_Cancelled(t *testing.T) {
	tr, err := trainer.New(smallConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := tr.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}
