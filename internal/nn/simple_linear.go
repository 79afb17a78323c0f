package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/continual/internal/tensor"
)

// SimpleLinear is a plain linear classifier head: logits = x @ W.T + b.
//
// The weight uses Kaiming uniform initialization with linear gain and the
// bias starts at zero.
type SimpleLinear[B tensor.Backend] struct {
	linear  *Linear[B]
	src     rand.Source
	backend B
}

// NewSimpleLinear creates a SimpleLinear head.
func NewSimpleLinear[B tensor.Backend](inFeatures, outFeatures int, bias bool, backend B) *SimpleLinear[B] {
	return NewSimpleLinearWithSource(inFeatures, outFeatures, bias, nil, backend)
}

// NewSimpleLinearWithSource creates a SimpleLinear head whose weights, and
// the rows added by Expand, are drawn from src.
func NewSimpleLinearWithSource[B tensor.Backend](inFeatures, outFeatures int, bias bool, src rand.Source, backend B) *SimpleLinear[B] {
	return &SimpleLinear[B]{
		linear:  NewLinearWithSource(inFeatures, outFeatures, bias, src, backend),
		src:     src,
		backend: backend,
	}
}

// Forward computes the logits.
func (s *SimpleLinear[B]) Forward(x *tensor.Tensor[float32, B]) *Output[B] {
	return &Output[B]{Logits: s.linear.Forward(x)}
}

// Expand returns a head with extra more output classes. Rows of the
// existing classes are copied; the new rows are freshly initialized.
func (s *SimpleLinear[B]) Expand(extra int) *SimpleLinear[B] {
	if extra <= 0 {
		panic(fmt.Sprintf("SimpleLinear.Expand: extra must be positive, got %d", extra))
	}
	old := s.linear
	next := NewSimpleLinearWithSource(old.InFeatures(), old.OutFeatures()+extra, old.Bias() != nil, s.src, s.backend)

	copy(next.linear.Weight().Tensor().Raw().Data(), old.Weight().Tensor().Raw().Data())
	if old.Bias() != nil {
		copy(next.linear.Bias().Tensor().Raw().Data(), old.Bias().Tensor().Raw().Data())
	}
	return next
}

// Weight returns the weight parameter [out, in].
func (s *SimpleLinear[B]) Weight() *Parameter[B] {
	return s.linear.Weight()
}

// Bias returns the bias parameter, or nil.
func (s *SimpleLinear[B]) Bias() *Parameter[B] {
	return s.linear.Bias()
}

// InFeatures returns the input width.
func (s *SimpleLinear[B]) InFeatures() int {
	return s.linear.InFeatures()
}

// OutFeatures returns the number of classes.
func (s *SimpleLinear[B]) OutFeatures() int {
	return s.linear.OutFeatures()
}

// Parameters returns [weight, bias] or [weight].
func (s *SimpleLinear[B]) Parameters() []*Parameter[B] {
	return s.linear.Parameters()
}

// StateDict returns "weight" and, if present, "bias".
func (s *SimpleLinear[B]) StateDict() map[string]*tensor.RawTensor {
	return s.linear.StateDict()
}

// LoadStateDict loads parameters from a state dictionary.
func (s *SimpleLinear[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return s.linear.LoadStateDict(stateDict)
}
