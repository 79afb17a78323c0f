package nn

import (
	"github.com/born-ml/continual/internal/tensor"
)

// Parameter represents a named tensor owned by a module.
//
// Parameters start trainable. Freezing one with SetRequiresGrad(false)
// keeps it in the state dict and in the forward pass, but optimizers skip
// it.
//
// Example:
//
//	weight := nn.NewParameter("weight", weightTensor)
//	weight.SetRequiresGrad(false) // freeze
type Parameter[B tensor.Backend] struct {
	name         string
	tensor       *tensor.Tensor[float32, B]
	grad         *tensor.Tensor[float32, B]
	requiresGrad bool
}

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:         name,
		tensor:       t,
		requiresGrad: true,
	}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// Grad returns the gradient tensor, or nil before a backward pass.
func (p *Parameter[B]) Grad() *tensor.Tensor[float32, B] {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter[B]) SetGrad(grad *tensor.Tensor[float32, B]) {
	p.grad = grad
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter[B]) ZeroGrad() {
	p.grad = nil
}

// RequiresGrad reports whether optimizers should update this parameter.
func (p *Parameter[B]) RequiresGrad() bool {
	return p.requiresGrad
}

// SetRequiresGrad freezes (false) or unfreezes (true) the parameter.
func (p *Parameter[B]) SetRequiresGrad(requiresGrad bool) {
	p.requiresGrad = requiresGrad
}

// Trainable filters params down to those that require gradients.
func Trainable[B tensor.Backend](params []*Parameter[B]) []*Parameter[B] {
	out := make([]*Parameter[B], 0, len(params))
	for _, p := range params {
		if p.requiresGrad {
			out = append(out, p)
		}
	}
	return out
}
