package ops

import "github.com/born-ml/continual/internal/tensor"

// SumOp represents the sum of all elements.
type SumOp struct{ unaryOp }

// NewSumOp creates a new SumOp.
func NewSumOp(input, output *tensor.RawTensor) *SumOp {
	return &SumOp{unaryOp{input, output}}
}

// Backward broadcasts the scalar gradient to the input shape.
func (op *SumOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{expandTo(outputGrad, op.input.Shape(), backend)}
}

// SumDimOp represents a sum along one dimension.
type SumDimOp struct {
	unaryOp
	dim     int
	keepDim bool
}

// NewSumDimOp creates a new SumDimOp.
func NewSumDimOp(input, output *tensor.RawTensor, dim int, keepDim bool) *SumDimOp {
	return &SumDimOp{
		unaryOp: unaryOp{input, output},
		dim:     input.Shape().NormalizeDim(dim),
		keepDim: keepDim,
	}
}

// Backward broadcasts the gradient back along the reduced dimension.
func (op *SumDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{expandReduced(outputGrad, op.input.Shape(), op.dim, op.keepDim, backend)}
}

// MeanDimOp represents a mean along one dimension.
type MeanDimOp struct {
	unaryOp
	dim     int
	keepDim bool
}

// NewMeanDimOp creates a new MeanDimOp.
func NewMeanDimOp(input, output *tensor.RawTensor, dim int, keepDim bool) *MeanDimOp {
	return &MeanDimOp{
		unaryOp: unaryOp{input, output},
		dim:     input.Shape().NormalizeDim(dim),
		keepDim: keepDim,
	}
}

// Backward broadcasts the gradient and divides by the reduced size.
func (op *MeanDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	shape := op.input.Shape()
	grad := expandReduced(outputGrad, shape, op.dim, op.keepDim, backend)
	return []*tensor.RawTensor{backend.MulScalar(grad, 1/float64(shape[op.dim]))}
}

// expandReduced restores the reduced dimension as size 1 and broadcasts the
// gradient to the original shape.
func expandReduced(grad *tensor.RawTensor, shape tensor.Shape, dim int, keepDim bool, backend tensor.Backend) *tensor.RawTensor {
	if !keepDim {
		kept := shape.Clone()
		kept[dim] = 1
		grad = backend.Reshape(grad, kept)
	}
	return expandTo(grad, shape, backend)
}
