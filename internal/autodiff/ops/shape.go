package ops

import "github.com/born-ml/continual/internal/tensor"

// ReshapeOp represents a reshape. The gradient is reshaped back.
type ReshapeOp struct{ unaryOp }

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(input, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{unaryOp{input, output}}
}

// Backward reshapes the gradient to the input shape.
func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Reshape(outputGrad, op.input.Shape())}
}

// TransposeOp represents a permutation of dimensions.
type TransposeOp struct {
	unaryOp
	axes []int
}

// NewTransposeOp creates a new TransposeOp. Empty axes means the dimensions
// were reversed.
func NewTransposeOp(input, output *tensor.RawTensor, axes []int) *TransposeOp {
	ndim := len(input.Shape())
	resolved := make([]int, ndim)
	for i := range resolved {
		if len(axes) == 0 {
			resolved[i] = ndim - 1 - i
		} else {
			resolved[i] = axes[i]
		}
	}
	return &TransposeOp{unaryOp: unaryOp{input, output}, axes: resolved}
}

// Backward applies the inverse permutation to the gradient.
func (op *TransposeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inverse := make([]int, len(op.axes))
	for i, a := range op.axes {
		inverse[a] = i
	}
	return []*tensor.RawTensor{backend.Transpose(outputGrad, inverse...)}
}

// CatOp represents concatenation along a dimension.
type CatOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
	dim    int
}

// NewCatOp creates a new CatOp.
func NewCatOp(inputs []*tensor.RawTensor, output *tensor.RawTensor, dim int) *CatOp {
	return &CatOp{
		inputs: inputs,
		output: output,
		dim:    output.Shape().NormalizeDim(dim),
	}
}

// Inputs returns the concatenated tensors.
func (op *CatOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the concatenated result.
func (op *CatOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward splits the gradient back into the input slices.
func (op *CatOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	grads := make([]*tensor.RawTensor, len(op.inputs))
	offset := 0
	for i, in := range op.inputs {
		size := in.Shape()[op.dim]
		grads[i] = narrow(outputGrad, op.dim, offset, size)
		offset += size
	}
	return grads
}
