package nn

import (
	"fmt"

	"github.com/born-ml/continual/internal/tensor"
)

// CrossEntropyLoss computes the mean cross-entropy between logits and
// integer class labels:
//
//	Loss = mean(-log_softmax(logits)[i, target[i]])
//
// Example:
//
//	criterion := nn.NewCrossEntropyLoss(backend)
//	loss := criterion.Forward(out.Logits, labels)
type CrossEntropyLoss[B tensor.Backend] struct {
	backend B
}

// NewCrossEntropyLoss creates a new cross-entropy loss function.
func NewCrossEntropyLoss[B tensor.Backend](backend B) *CrossEntropyLoss[B] {
	return &CrossEntropyLoss[B]{backend: backend}
}

// Forward returns the scalar loss. logits is [N, C] and targets is [N].
func (c *CrossEntropyLoss[B]) Forward(logits *tensor.Tensor[float32, B], targets *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	return tensor.New[float32, B](c.backend.CrossEntropy(logits.Raw(), targets.Raw()), c.backend)
}

// Parameters returns nil; the loss has no trainable parameters.
func (c *CrossEntropyLoss[B]) Parameters() []*Parameter[B] {
	return nil
}

// Accuracy returns the fraction of rows whose argmax equals the target.
func Accuracy[B tensor.Backend](logits *tensor.Tensor[float32, B], targets *tensor.Tensor[int32, B]) float32 {
	correct, total := CountCorrect(logits, targets, nil)
	if total == 0 {
		return 0
	}
	return float32(correct) / float32(total)
}

// CountCorrect counts correct predictions over the rows whose target passes
// keep. A nil keep counts every row.
func CountCorrect[B tensor.Backend](logits *tensor.Tensor[float32, B], targets *tensor.Tensor[int32, B], keep func(target int32) bool) (correct, total int) {
	shape := logits.Shape()
	if len(shape) != 2 || targets.NumElements() != shape[0] {
		panic(fmt.Sprintf("CountCorrect: logits %v do not match targets %v", shape, targets.Shape()))
	}

	predicted := logits.Argmax(1).Raw().AsInt32()
	for i, target := range targets.Raw().AsInt32() {
		if keep != nil && !keep(target) {
			continue
		}
		total++
		if predicted[i] == target {
			correct++
		}
	}
	return correct, total
}
