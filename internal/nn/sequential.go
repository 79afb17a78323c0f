package nn

import (
	"fmt"
	"strconv"

	"github.com/born-ml/continual/internal/tensor"
)

// Sequential chains modules, feeding each output into the next module.
//
// State dict keys are prefixed with the module index ("0.weight",
// "1.bias"), matching nn.Sequential in PyTorch.
type Sequential[B tensor.Backend] struct {
	modules []Module[B]
}

// NewSequential creates a Sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return &Sequential[B]{modules: modules}
}

// Forward runs every module in order.
func (s *Sequential[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out := input
	for _, m := range s.modules {
		out = m.Forward(out)
	}
	return out
}

// Parameters returns the parameters of every module in order.
func (s *Sequential[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Add appends a module.
func (s *Sequential[B]) Add(module Module[B]) {
	s.modules = append(s.modules, module)
}

// Len returns the number of modules.
func (s *Sequential[B]) Len() int {
	return len(s.modules)
}

// Module returns the module at index. Panics if index is out of bounds.
func (s *Sequential[B]) Module(index int) Module[B] {
	if index < 0 || index >= len(s.modules) {
		panic(fmt.Sprintf("Sequential.Module: index %d out of bounds [0, %d)", index, len(s.modules)))
	}
	return s.modules[index]
}

// StateDict returns the parameters of every module prefixed with its index.
func (s *Sequential[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for i, m := range s.modules {
		mergePrefixed(stateDict, strconv.Itoa(i), m.StateDict())
	}
	return stateDict
}

// LoadStateDict loads parameters from a state dictionary.
func (s *Sequential[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return loadStateDict(s.StateDict(), stateDict)
}
