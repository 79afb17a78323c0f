package nn

import (
	"fmt"

	"github.com/born-ml/continual/internal/tensor"
)

// DefaultLayerNormEps is the epsilon used by NewLayerNorm.
const DefaultLayerNormEps = 1e-5

// LayerNorm normalizes over the last dimension:
//
//	y = (x - mean(x)) / sqrt(var(x) + eps) * weight + bias
//
// var is the biased variance. weight starts at ones and bias at zeros.
type LayerNorm[B tensor.Backend] struct {
	normalizedShape int
	eps             float64
	weight          *Parameter[B]
	bias            *Parameter[B]
}

// NewLayerNorm creates a LayerNorm over a last dimension of the given size.
func NewLayerNorm[B tensor.Backend](normalizedShape int, eps float64, backend B) *LayerNorm[B] {
	if normalizedShape <= 0 {
		panic(fmt.Sprintf("NewLayerNorm: invalid size %d", normalizedShape))
	}
	return &LayerNorm[B]{
		normalizedShape: normalizedShape,
		eps:             eps,
		weight:          NewParameter("weight", Ones(tensor.Shape{normalizedShape}, backend)),
		bias:            NewParameter("bias", Zeros(tensor.Shape{normalizedShape}, backend)),
	}
}

// Forward applies layer normalization.
func (ln *LayerNorm[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != ln.normalizedShape {
		panic(fmt.Sprintf("LayerNorm.Forward: expected last dimension %d, got shape %v", ln.normalizedShape, shape))
	}

	mean := x.MeanDim(-1, true)
	centered := x.Sub(mean)
	variance := centered.Mul(centered).MeanDim(-1, true)
	normed := centered.Mul(variance.AddScalar(ln.eps).Rsqrt())
	return normed.Mul(ln.weight.Tensor()).Add(ln.bias.Tensor())
}

// Parameters returns [weight, bias].
func (ln *LayerNorm[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{ln.weight, ln.bias}
}

// StateDict returns "weight" and "bias".
func (ln *LayerNorm[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		"weight": ln.weight.Tensor().Raw(),
		"bias":   ln.bias.Tensor().Raw(),
	}
}

// LoadStateDict loads parameters from a state dictionary.
func (ln *LayerNorm[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return loadStateDict(ln.StateDict(), stateDict)
}
