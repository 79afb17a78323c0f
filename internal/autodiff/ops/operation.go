// Package ops defines the differentiable operations recorded by the autodiff tape.
//
// Each operation keeps references to its inputs and output from the forward
// pass and maps an output gradient to one gradient per input. A nil entry
// means no gradient flows to that input (for example integer labels).
//
// Supported operations:
//   - AddOp, SubOp, MulOp, DivOp: element-wise arithmetic with broadcasting
//   - MatMulOp: d(A@B)/dA = grad@B^T, d(A@B)/dB = A^T@grad
//   - ReshapeOp, TransposeOp, CatOp: shape manipulation
//   - MulScalarOp, AddScalarOp: scalar arithmetic
//   - ExpOp, LogOp, SqrtOp, RsqrtOp, ClampMinOp: element-wise math
//   - SoftmaxOp: softmax along the last dimension of any rank
//   - SumOp, SumDimOp, MeanDimOp: reductions
//   - CrossEntropyOp: fused softmax cross-entropy against int32 labels
package ops

import "github.com/born-ml/continual/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// The returned slice is parallel to Inputs().
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// unaryOp holds the bookkeeping shared by single-input operations.
type unaryOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// Inputs returns the input tensor.
func (op *unaryOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor.
func (op *unaryOp) Output() *tensor.RawTensor {
	return op.output
}

// binaryOp holds the bookkeeping shared by two-input operations.
type binaryOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

func newBinaryOp(a, b, output *tensor.RawTensor) binaryOp {
	return binaryOp{inputs: []*tensor.RawTensor{a, b}, output: output}
}

// Inputs returns the input tensors [a, b].
func (op *binaryOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the output tensor.
func (op *binaryOp) Output() *tensor.RawTensor {
	return op.output
}
