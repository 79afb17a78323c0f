package ops

import (
	"fmt"

	"github.com/born-ml/continual/internal/tensor"
)

// CrossEntropyOp represents mean(-log softmax(logits)[label]) over a batch.
//
// Backward:
//
//	∂L/∂logits = (softmax(logits) - onehot(labels)) / N
//
// Labels are integer data and receive no gradient.
type CrossEntropyOp struct{ binaryOp }

// NewCrossEntropyOp creates a new CrossEntropyOp.
func NewCrossEntropyOp(logits, labels, output *tensor.RawTensor) *CrossEntropyOp {
	return &CrossEntropyOp{newBinaryOp(logits, labels, output)}
}

// Backward computes the gradient with respect to the logits.
func (op *CrossEntropyOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	logits, labels := op.inputs[0], op.inputs[1]
	n, c := logits.Shape()[0], logits.Shape()[1]

	onehot := tensor.MustRaw(logits.Shape(), logits.DType(), logits.Device())
	switch logits.DType() {
	case tensor.Float32:
		setOneHot(onehot.AsFloat32(), labels.AsInt32(), c)
	case tensor.Float64:
		setOneHot(onehot.AsFloat64(), labels.AsInt32(), c)
	default:
		panic(fmt.Sprintf("cross_entropy backward: unsupported dtype %s", logits.DType()))
	}

	grad := backend.Sub(backend.Softmax(logits, -1), onehot)
	grad = backend.MulScalar(grad, scalarOf(outputGrad)/float64(n))
	return []*tensor.RawTensor{grad, nil}
}

func setOneHot[T float32 | float64](dst []T, labels []int32, classes int) {
	for i, y := range labels {
		dst[i*classes+int(y)] = 1
	}
}
