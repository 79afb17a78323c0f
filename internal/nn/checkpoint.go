package nn

import (
	"fmt"
	"strings"
	"time"

	"github.com/born-ml/continual/internal/serialization"
	"github.com/born-ml/continual/internal/tensor"
)

// optimizerPrefix marks optimizer tensors inside a checkpoint.
const optimizerPrefix = "optimizer."

// OptimizerState represents an optimizer that can save/load its state.
//
// Checkpoints use it to serialize optimizer state without importing the
// optim package.
type OptimizerState interface {
	// StateDict returns the optimizer state for serialization.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict loads optimizer state from serialization.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error

	// GetLR returns the current learning rate.
	GetLR() float32
}

// optimizerDescriber is implemented by optimizers that report their kind and
// hyperparameters.
type optimizerDescriber interface {
	Name() string
	Config() map[string]float64
}

// Checkpoint is a training snapshot taken at the end of a session.
//
// Example:
//
//	ckpt := &nn.Checkpoint{
//	    Model:     head,
//	    Optimizer: optimizer,
//	    Session:   2,
//	    Epoch:     10,
//	    Loss:      0.41,
//	    ModelType: nn.ModelTypeContinual,
//	    Metadata:  nn.ContinualMetadata(head),
//	}
//	err := ckpt.Save("session-2.born")
type Checkpoint struct {
	Model        Stateful
	Optimizer    OptimizerState // optional
	Session      int
	Epoch        int
	Step         int64
	Loss         float64
	ModelType    string
	Metadata     map[string]string // structure and run identifiers
	TrainingMeta map[string]any
	CreatedAt    time.Time
}

// Save writes the checkpoint to a .born file. Optimizer tensors are stored
// under the "optimizer." prefix.
func (c *Checkpoint) Save(path string) (err error) {
	combined := make(map[string]*tensor.RawTensor)
	for name, raw := range c.Model.StateDict() {
		combined[name] = raw
	}

	meta := &serialization.CheckpointMeta{
		IsCheckpoint: true,
		Session:      c.Session,
		Epoch:        c.Epoch,
		Step:         c.Step,
		Loss:         c.Loss,
		TrainingMeta: c.TrainingMeta,
	}
	if c.Optimizer != nil {
		for name, raw := range c.Optimizer.StateDict() {
			combined[optimizerPrefix+name] = raw
		}
		meta.OptimizerType, meta.OptimizerConfig = describeOptimizer(c.Optimizer)
	}

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	writer, err := serialization.NewBornWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create writer: %w", err)
	}
	defer func() {
		if closeErr := writer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	header := serialization.Header{
		ModelType:      c.ModelType,
		CreatedAt:      createdAt,
		Metadata:       c.Metadata,
		CheckpointMeta: meta,
	}
	if err := writer.WriteStateDict(combined, header); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint restores model and, when non-nil, optimizer from a
// checkpoint file. Both must be built with the structure they were saved
// with.
func LoadCheckpoint(path string, model Stateful, optimizer OptimizerState) (*Checkpoint, error) {
	reader, err := serialization.NewBornReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	header := reader.Header()
	if header.CheckpointMeta == nil || !header.CheckpointMeta.IsCheckpoint {
		return nil, fmt.Errorf("%w: %s", ErrNotCheckpoint, path)
	}

	stateDict, err := reader.ReadStateDict()
	if err != nil {
		return nil, fmt.Errorf("failed to read state dict: %w", err)
	}
	modelState, optimizerState := splitOptimizerState(stateDict)

	if err := model.LoadStateDict(modelState); err != nil {
		return nil, fmt.Errorf("failed to load model state: %w", err)
	}
	if optimizer != nil {
		if err := optimizer.LoadStateDict(optimizerState); err != nil {
			return nil, fmt.Errorf("failed to load optimizer state: %w", err)
		}
	}

	meta := header.CheckpointMeta
	return &Checkpoint{
		Model:        model,
		Optimizer:    optimizer,
		Session:      meta.Session,
		Epoch:        meta.Epoch,
		Step:         meta.Step,
		Loss:         meta.Loss,
		ModelType:    header.ModelType,
		Metadata:     header.Metadata,
		TrainingMeta: meta.TrainingMeta,
		CreatedAt:    header.CreatedAt,
	}, nil
}

// splitOptimizerState separates model tensors from "optimizer." tensors.
func splitOptimizerState(stateDict map[string]*tensor.RawTensor) (model, optimizer map[string]*tensor.RawTensor) {
	model = make(map[string]*tensor.RawTensor)
	optimizer = make(map[string]*tensor.RawTensor)
	for name, raw := range stateDict {
		if rest, ok := strings.CutPrefix(name, optimizerPrefix); ok {
			optimizer[rest] = raw
		} else {
			model[name] = raw
		}
	}
	return model, optimizer
}

func describeOptimizer(opt OptimizerState) (string, map[string]float64) {
	if d, ok := opt.(optimizerDescriber); ok {
		return d.Name(), d.Config()
	}
	return "Optimizer", map[string]float64{"lr": float64(opt.GetLR())}
}
