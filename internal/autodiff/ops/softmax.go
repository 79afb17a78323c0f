package ops

import "github.com/born-ml/continual/internal/tensor"

// SoftmaxOp represents softmax along the last dimension.
//
// Backward, per row:
//
//	∂L/∂x_j = s_j * (∂L/∂s_j - Σ_i ∂L/∂s_i * s_i)
//
// Leading dimensions are treated as batch, so [B, C] and [B, N, P] are both
// handled.
type SoftmaxOp struct{ unaryOp }

// NewSoftmaxOp creates a new softmax operation.
func NewSoftmaxOp(input, output *tensor.RawTensor) *SoftmaxOp {
	return &SoftmaxOp{unaryOp{input, output}}
}

// Backward computes the gradient with respect to the input.
func (op *SoftmaxOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	dot := backend.SumDim(backend.Mul(outputGrad, op.output), -1, true)
	return []*tensor.RawTensor{backend.Mul(op.output, backend.Sub(outputGrad, dot))}
}
