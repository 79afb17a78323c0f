package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/continual/internal/tensor"
)

// Linear implements a fully connected layer: y = x @ W.T + b.
//
//   - x has shape [batch_size, in_features]
//   - W has shape [out_features, in_features]
//   - b has shape [out_features]
//
// Weights use Kaiming uniform initialization with linear gain, biases start
// at zero. Heads that need a different scheme overwrite the weights after
// construction.
type Linear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter[B]
	bias        *Parameter[B]
}

// NewLinear creates a new Linear layer. With bias false the layer has no
// bias parameter.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, bias bool, backend B) *Linear[B] {
	return NewLinearWithSource(inFeatures, outFeatures, bias, nil, backend)
}

// NewLinearWithSource is NewLinear with the weights drawn from src.
func NewLinearWithSource[B tensor.Backend](inFeatures, outFeatures int, bias bool, src rand.Source, backend B) *Linear[B] {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("NewLinear: invalid dimensions in=%d out=%d", inFeatures, outFeatures))
	}
	l := &Linear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight: NewParameter("weight",
			KaimingUniform(tensor.Shape{outFeatures, inFeatures}, inFeatures, 1, src, backend)),
	}
	if bias {
		l.bias = NewParameter("bias", Zeros(tensor.Shape{outFeatures}, backend))
	}
	return l
}

// Forward computes x @ W.T + b.
func (l *Linear[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("Linear.Forward: expected 2D input [batch, features], got shape %v", shape))
	}
	if shape[1] != l.inFeatures {
		panic(fmt.Sprintf("Linear.Forward: expected input with %d features, got %d", l.inFeatures, shape[1]))
	}

	output := input.MatMul(l.weight.Tensor().T())
	if l.bias != nil {
		output = output.Add(l.bias.Tensor())
	}
	return output
}

// Parameters returns [weight, bias] or [weight].
func (l *Linear[B]) Parameters() []*Parameter[B] {
	if l.bias != nil {
		return []*Parameter[B]{l.weight, l.bias}
	}
	return []*Parameter[B]{l.weight}
}

// Weight returns the weight parameter.
func (l *Linear[B]) Weight() *Parameter[B] {
	return l.weight
}

// Bias returns the bias parameter, or nil.
func (l *Linear[B]) Bias() *Parameter[B] {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *Linear[B]) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear[B]) OutFeatures() int {
	return l.outFeatures
}

// StateDict returns "weight" and, if present, "bias".
func (l *Linear[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := map[string]*tensor.RawTensor{"weight": l.weight.Tensor().Raw()}
	if l.bias != nil {
		stateDict["bias"] = l.bias.Tensor().Raw()
	}
	return stateDict
}

// LoadStateDict loads parameters from a state dictionary.
func (l *Linear[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return loadStateDict(l.StateDict(), stateDict)
}
