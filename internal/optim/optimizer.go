// Package optim implements optimization algorithms for training classifier
// heads.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum and weight decay
//   - Adam: Adaptive Moment Estimation
//
// Optimizers skip frozen parameters (RequiresGrad false) and parameters
// that received no gradient, so a head whose old classes were frozen by
// SimpleContinualLinear.Update only trains its newest head.
//
// Example usage:
//
//	optimizer := optim.NewSGD(head.Parameters(), optim.SGDConfig{
//	    LR:       0.1,
//	    Momentum: 0.9,
//	}, backend)
//
//	backend.Tape().StartRecording()
//	out := head.Forward(features)
//	loss := criterion.Forward(out.Logits, labels)
//	grads := autodiff.Backward(loss, backend)
//	optimizer.Step(grads)
//	backend.Tape().Clear()
package optim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/born-ml/continual/internal/nn"
	"github.com/born-ml/continual/internal/tensor"
)

// ErrStateShape is returned when a loaded state buffer does not match its
// parameter.
var ErrStateShape = errors.New("optimizer state shape mismatch")

// ErrUnknownOptimizer is returned by New for unsupported names.
var ErrUnknownOptimizer = errors.New("unknown optimizer")

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies gradient updates to all trainable parameters.
	//
	// grads maps parameter raw tensors to their gradients, as returned by
	// autodiff.Backward.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32

	// SetLR updates the learning rate.
	SetLR(lr float32)

	// StateDict returns the optimizer buffers for checkpointing.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict restores buffers saved by StateDict.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error

	// Name returns the optimizer kind ("sgd", "adam").
	Name() string

	// Config returns the hyperparameters recorded in checkpoints.
	Config() map[string]float64
}

// Options is the union of hyperparameters accepted by New.
type Options struct {
	LR          float32
	Momentum    float32
	WeightDecay float32
	Betas       [2]float32
	Eps         float32
}

// New creates an optimizer by name.
func New[B tensor.Backend](name string, params []*nn.Parameter[B], opts Options, backend B) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "sgd":
		return NewSGD(params, SGDConfig{LR: opts.LR, Momentum: opts.Momentum, WeightDecay: opts.WeightDecay}, backend), nil
	case "adam":
		return NewAdam(params, AdamConfig{LR: opts.LR, Betas: opts.Betas, Eps: opts.Eps, WeightDecay: opts.WeightDecay}, backend), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptimizer, name)
	}
}

// gradientFor returns the gradient of param, or nil if the parameter is
// frozen or did not take part in the forward pass.
func gradientFor[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) []float32 {
	if param == nil || !param.RequiresGrad() {
		return nil
	}
	grad, ok := grads[param.Tensor().Raw()]
	if !ok || grad == nil {
		return nil
	}
	return grad.AsFloat32()
}

// loadBuffer validates a saved buffer against param and returns a copy.
func loadBuffer[B tensor.Backend](param *nn.Parameter[B], key string, raw *tensor.RawTensor) (*tensor.RawTensor, error) {
	if !raw.Shape().Equal(param.Tensor().Shape()) || raw.DType() != tensor.Float32 {
		return nil, fmt.Errorf("%w for %s: expected %v float32, got %v %s",
			ErrStateShape, key, param.Tensor().Shape(), raw.Shape(), raw.DType())
	}
	return raw.Clone(), nil
}

func newBuffer[B tensor.Backend](param *nn.Parameter[B]) *tensor.RawTensor {
	return tensor.MustRaw(param.Tensor().Shape(), tensor.Float32, tensor.CPU)
}
