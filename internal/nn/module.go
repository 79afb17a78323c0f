// Package nn implements the neural network modules used by continual
// classifier heads.
//
// This package provides:
//   - Module and Classifier interfaces
//   - Parameter: trainable tensors that can be frozen
//   - Linear, LayerNorm, Sequential, Normalize: building blocks
//   - SimpleLinear, CosineLinear, SplitCosineLinear, SimpleContinualLinear:
//     classifier heads that grow as new classes arrive
//   - CrossEntropyLoss and Accuracy
//   - Save, Load and Checkpoint on top of the .born format
//
// State dictionary keys use the dotted naming of the equivalent PyTorch
// modules (for example "heads.0.1.weight"), so weights map 1:1 to state
// dicts produced elsewhere.
package nn

import (
	"github.com/born-ml/continual/internal/tensor"
)

// Stateful is implemented by anything whose parameters can be exported and
// restored by name.
type Stateful interface {
	// StateDict returns the live parameter tensors keyed by name.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict copies values into the parameters. Keys, shapes and
	// dtypes must match exactly; on error no parameter is modified.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// Module is the base interface for tensor-to-tensor components.
type Module[B tensor.Backend] interface {
	Stateful

	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all parameters of this module in a stable order.
	Parameters() []*Parameter[B]
}

// Output is the result of a classifier head.
//
// Logits is always set. OldScores and NewScores are set by heads that keep
// the scores of previously learned and newly added classes apart.
type Output[B tensor.Backend] struct {
	Logits    *tensor.Tensor[float32, B]
	OldScores *tensor.Tensor[float32, B]
	NewScores *tensor.Tensor[float32, B]
}

// Classifier is a head that maps features [batch, in] to class scores.
type Classifier[B tensor.Backend] interface {
	Stateful

	// Forward computes class scores for a batch of features.
	Forward(x *tensor.Tensor[float32, B]) *Output[B]

	// Parameters returns all parameters of this head in a stable order.
	Parameters() []*Parameter[B]

	// OutFeatures is the number of output units. For proxy heads this is
	// classes times proxies.
	OutFeatures() int
}
