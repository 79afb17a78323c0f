// Package trainer runs class-incremental sessions over synthetic backbone
// features, growing a classifier head session by session.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/born-ml/continual/internal/autodiff"
	"github.com/born-ml/continual/internal/backend/cpu"
	"github.com/born-ml/continual/internal/config"
	"github.com/born-ml/continual/internal/nn"
	"github.com/born-ml/continual/internal/optim"
	"github.com/born-ml/continual/internal/tensor"
)

// Backend is the backend heads are trained on.
type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

// ErrDiverged is returned when a training loss stops being finite.
var ErrDiverged = errors.New("training diverged")

// Metadata keys stamped into every checkpoint.
const (
	MetaRunID   = "run_id"
	MetaSession = "session"
	MetaClasses = "classes"
	MetaHead    = "head"
)

// SessionResult summarizes one finished session.
type SessionResult struct {
	Session     int
	Classes     int
	NewClasses  int
	Loss        float64 // mean loss of the last epoch
	Accuracy    float64 // over every class seen so far
	OldAccuracy float64 // over classes of earlier sessions, 0 in session 0
	NewAccuracy float64 // over classes added in this session
	Checkpoint  string
	Duration    time.Duration
}

// Trainer owns the head, the data and the backend of one run.
type Trainer struct {
	cfg     *config.Config
	logger  *zap.Logger
	backend Backend
	runID   string
	data    *Dataset
	head    nn.Classifier[Backend]
	classes int
	step    int64
	rng     *rand.Rand
	initSrc rand.Source
}

// New validates cfg, generates the data and builds the session 0 head.
func New(cfg *config.Config, logger *zap.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	backend := autodiff.New(cpu.New())
	t := &Trainer{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		runID:   uuid.NewString(),
		data: NewSynthetic(cfg.Model.EmbedDim, cfg.TotalClasses(),
			cfg.Data.SamplesPerClass, cfg.Data.TestPerClass, cfg.Data.Noise, cfg.Data.Seed),
		classes: cfg.Sessions.InitClasses,
		rng:     rand.New(rand.NewPCG(cfg.Data.Seed, cfg.Data.Seed+1)),
		initSrc: rand.NewPCG(cfg.Data.Seed, cfg.Data.Seed+2),
	}
	t.head = t.newHead()

	t.logger.Info("trainer ready",
		zap.String("run_id", t.runID),
		zap.String("head", cfg.Model.Head),
		zap.Int("embed_dim", cfg.Model.EmbedDim),
		zap.Int("sessions", cfg.Sessions.Count),
		zap.Int("total_classes", cfg.TotalClasses()),
	)
	return t, nil
}

func (t *Trainer) newHead() nn.Classifier[Backend] {
	m := t.cfg.Model
	switch m.Head {
	case config.HeadCosine:
		return nn.NewCosineLinear(m.EmbedDim, t.classes, t.backend,
			nn.WithProxies(m.Proxies), nn.WithProxyReduction(), nn.WithCosineSource(t.initSrc))
	case config.HeadLinear:
		return nn.NewSimpleLinearWithSource(m.EmbedDim, t.classes, true, t.initSrc, t.backend)
	default:
		opts := []nn.ContinualOption{nn.WithContinualSource(t.initSrc)}
		if m.LayerNorm {
			opts = append(opts, nn.WithLayerNorm())
		}
		if m.FeatureExpansion {
			opts = append(opts, nn.WithFeatureExpansion())
		}
		return nn.NewSimpleContinualLinear(m.EmbedDim, t.classes, t.backend, opts...)
	}
}

// RunID returns the id stamped into this run's checkpoints.
func (t *Trainer) RunID() string {
	return t.runID
}

// Head returns the current classifier head.
func (t *Trainer) Head() nn.Classifier[Backend] {
	return t.head
}

// Backend returns the training backend.
func (t *Trainer) Backend() Backend {
	return t.backend
}

// Run executes every configured session in order.
func (t *Trainer) Run(ctx context.Context) ([]SessionResult, error) {
	results := make([]SessionResult, 0, t.cfg.Sessions.Count)
	for session := 0; session < t.cfg.Sessions.Count; session++ {
		result, err := t.RunSession(ctx, session)
		if err != nil {
			return results, fmt.Errorf("session %d: %w", session, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// RunSession grows the head (except in session 0), trains it on the new
// classes, evaluates on every class seen so far and writes a checkpoint.
func (t *Trainer) RunSession(ctx context.Context, session int) (SessionResult, error) {
	start := time.Now()
	oldClasses := 0
	if session > 0 {
		oldClasses = t.classes
		if err := t.grow(t.cfg.Sessions.Increment); err != nil {
			return SessionResult{}, err
		}
	}

	log := t.logger.With(zap.Int("session", session), zap.Int("classes", t.classes))
	if c, ok := t.head.(*nn.SimpleContinualLinear[Backend]); ok {
		c.Backup()
	}

	trainable := nn.Trainable(t.head.Parameters())
	opt, err := optim.New(t.cfg.Training.Optimizer, trainable, optim.Options{
		LR:          float32(t.cfg.Training.LR),
		Momentum:    float32(t.cfg.Training.Momentum),
		WeightDecay: float32(t.cfg.Training.WeightDecay),
	}, t.backend)
	if err != nil {
		return SessionResult{}, err
	}
	log.Debug("session started", zap.Int("trainable_params", len(trainable)))

	loss, err := t.train(ctx, opt, oldClasses, log)
	if err != nil {
		return SessionResult{}, err
	}

	result := t.evaluate(oldClasses)
	result.Session = session
	result.NewClasses = t.classes - oldClasses
	result.Loss = loss

	result.Checkpoint, err = t.saveCheckpoint(session, loss, opt)
	if err != nil {
		return SessionResult{}, err
	}
	result.Duration = time.Since(start)

	log.Info("session finished",
		zap.Float64("loss", result.Loss),
		zap.Float64("accuracy", result.Accuracy),
		zap.Float64("old_accuracy", result.OldAccuracy),
		zap.Float64("new_accuracy", result.NewAccuracy),
		zap.String("checkpoint", result.Checkpoint),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// grow adds extra classes to the head in the way its kind expects.
func (t *Trainer) grow(extra int) error {
	switch head := t.head.(type) {
	case *nn.SimpleContinualLinear[Backend]:
		head.Update(extra, t.cfg.Training.FreezeOld)
	case *nn.SimpleLinear[Backend]:
		t.head = head.Expand(extra)
	case *nn.CosineLinear[Backend], *nn.SplitCosineLinear[Backend]:
		next, err := nn.ExpandCosine(t.head, extra, t.backend)
		if err != nil {
			return err
		}
		t.head = next
	default:
		return fmt.Errorf("%w: %T", nn.ErrUnknownModel, t.head)
	}
	t.classes += extra
	return nil
}

// train runs the configured epochs over the classes [lo, t.classes) and
// returns the mean loss of the last epoch.
func (t *Trainer) train(ctx context.Context, opt optim.Optimizer, lo int, log *zap.Logger) (float64, error) {
	features, labels := t.data.Train(lo, t.classes)
	dim := t.data.EmbedDim()
	batchSize := t.cfg.Training.BatchSize
	criterion := nn.NewCrossEntropyLoss(t.backend)
	tape := t.backend.Tape()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	var epochLoss float64
	for epoch := 0; epoch < t.cfg.Training.Epochs; epoch++ {
		order := t.rng.Perm(len(labels))
		var total float64
		batches := 0

		for startIdx := 0; startIdx < len(order); startIdx += batchSize {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			idx := order[startIdx:min(startIdx+batchSize, len(order))]
			x, y, err := t.batch(features, labels, idx, dim)
			if err != nil {
				return 0, err
			}

			tape.Clear()
			tape.StartRecording()
			loss := criterion.Forward(t.forward(x).Logits, y)
			value := float64(loss.Item())
			if math.IsNaN(value) || math.IsInf(value, 0) {
				tape.StopRecording()
				return 0, t.rollback(epoch, value, log)
			}

			grads := autodiff.Backward(loss, t.backend)
			tape.StopRecording()
			opt.Step(grads)
			t.step++

			total += value
			batches++
		}

		epochLoss = total / float64(batches)
		log.Debug("epoch finished", zap.Int("epoch", epoch), zap.Float64("loss", epochLoss))
	}
	return epochLoss, nil
}

// rollback restores the continual head from its pre-session backup.
func (t *Trainer) rollback(epoch int, loss float64, log *zap.Logger) error {
	diverged := fmt.Errorf("%w at epoch %d: loss %v", ErrDiverged, epoch, loss)
	c, ok := t.head.(*nn.SimpleContinualLinear[Backend])
	if !ok {
		log.Error("training diverged", zap.Int("epoch", epoch))
		return diverged
	}
	if err := c.Recall(); err != nil {
		return errors.Join(diverged, err)
	}
	log.Warn("training diverged, head restored from backup", zap.Int("epoch", epoch))
	return diverged
}

func (t *Trainer) batch(features []float32, labels []int32, idx []int, dim int) (*tensor.Tensor[float32, Backend], *tensor.Tensor[int32, Backend], error) {
	xs := make([]float32, 0, len(idx)*dim)
	ys := make([]int32, 0, len(idx))
	for _, i := range idx {
		xs = append(xs, features[i*dim:(i+1)*dim]...)
		ys = append(ys, labels[i])
	}
	x, err := tensor.FromSlice(xs, tensor.Shape{len(idx), dim}, t.backend)
	if err != nil {
		return nil, nil, err
	}
	y, err := tensor.FromSlice(ys, tensor.Shape{len(idx)}, t.backend)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// forward feeds x to the head. With feature expansion every head receives
// the same synthetic features.
func (t *Trainer) forward(x *tensor.Tensor[float32, Backend]) *nn.Output[Backend] {
	if c, ok := t.head.(*nn.SimpleContinualLinear[Backend]); ok && c.FeatureExpansion() {
		xs := make([]*tensor.Tensor[float32, Backend], c.NumHeads())
		for i := range xs {
			xs[i] = x
		}
		return c.ForwardExpanded(xs)
	}
	return t.head.Forward(x)
}

// evaluate scores the head on the test split of every class seen so far.
func (t *Trainer) evaluate(oldClasses int) SessionResult {
	features, labels := t.data.Test(0, t.classes)
	x, y, err := t.batch(features, labels, identity(len(labels)), t.data.EmbedDim())
	if err != nil {
		panic(err)
	}
	logits := t.forward(x).Logits

	ratio := func(correct, total int) float64 {
		if total == 0 {
			return 0
		}
		return float64(correct) / float64(total)
	}
	boundary := int32(oldClasses) //nolint:gosec // G115: class counts are small

	result := SessionResult{Classes: t.classes}
	result.Accuracy = ratio(nn.CountCorrect(logits, y, nil))
	result.OldAccuracy = ratio(nn.CountCorrect(logits, y, func(label int32) bool { return label < boundary }))
	result.NewAccuracy = ratio(nn.CountCorrect(logits, y, func(label int32) bool { return label >= boundary }))
	return result
}

func identity(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// saveCheckpoint writes session-<n>.born (with optimizer state) or
// session-<n>.safetensors.
func (t *Trainer) saveCheckpoint(session int, loss float64, opt optim.Optimizer) (string, error) {
	if err := os.MkdirAll(t.cfg.Output.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	metadata := map[string]string{
		MetaRunID:   t.runID,
		MetaSession: strconv.Itoa(session),
		MetaClasses: strconv.Itoa(t.classes),
		MetaHead:    t.cfg.Model.Head,
	}
	var modelType string
	switch head := t.head.(type) {
	case *nn.SimpleContinualLinear[Backend]:
		for k, v := range nn.ContinualMetadata(head) {
			metadata[k] = v
		}
		modelType = nn.ModelTypeContinual
	case *nn.SplitCosineLinear[Backend]:
		modelType = "SplitCosineLinear"
	case *nn.CosineLinear[Backend]:
		modelType = "CosineLinear"
	default:
		modelType = "SimpleLinear"
	}

	path := filepath.Join(t.cfg.Output.Dir, fmt.Sprintf("session-%d.%s", session, t.cfg.Output.Format))
	if t.cfg.Output.Format == config.FormatSafeTensors {
		if err := nn.Save(t.head, path, modelType, metadata); err != nil {
			return "", fmt.Errorf("failed to save %s: %w", path, err)
		}
		return path, nil
	}

	ckpt := &nn.Checkpoint{
		Model:     t.head,
		Optimizer: opt,
		Session:   session,
		Epoch:     t.cfg.Training.Epochs,
		Step:      t.step,
		Loss:      loss,
		ModelType: modelType,
		Metadata:  metadata,
	}
	if err := ckpt.Save(path); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", path, err)
	}
	return path, nil
}
