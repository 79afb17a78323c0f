package ops

import "github.com/born-ml/continual/internal/tensor"

// ExpOp represents output = exp(x). d/dx = exp(x) = output.
type ExpOp struct{ unaryOp }

// NewExpOp creates a new ExpOp.
func NewExpOp(input, output *tensor.RawTensor) *ExpOp {
	return &ExpOp{unaryOp{input, output}}
}

// Backward computes grad * output.
func (op *ExpOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Mul(outputGrad, op.output)}
}

// LogOp represents output = log(x). d/dx = 1/x.
type LogOp struct{ unaryOp }

// NewLogOp creates a new LogOp.
func NewLogOp(input, output *tensor.RawTensor) *LogOp {
	return &LogOp{unaryOp{input, output}}
}

// Backward computes grad / x.
func (op *LogOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Div(outputGrad, op.input)}
}

// SqrtOp represents output = sqrt(x). d/dx = 1/(2*sqrt(x)).
//
// Where the output is exactly zero the gradient is defined as zero, so the
// norm of an all-zero row does not poison the graph with Inf.
type SqrtOp struct{ unaryOp }

// NewSqrtOp creates a new SqrtOp.
func NewSqrtOp(input, output *tensor.RawTensor) *SqrtOp {
	return &SqrtOp{unaryOp{input, output}}
}

// Backward computes grad / (2 * output).
func (op *SqrtOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{zipFloat(outputGrad, op.output, func(g, out float64) float64 {
		if out == 0 {
			return 0
		}
		return g * 0.5 / out
	})}
}

// RsqrtOp represents output = 1/sqrt(x). d/dx = -0.5 * output³.
type RsqrtOp struct{ unaryOp }

// NewRsqrtOp creates a new RsqrtOp.
func NewRsqrtOp(input, output *tensor.RawTensor) *RsqrtOp {
	return &RsqrtOp{unaryOp{input, output}}
}

// Backward computes -0.5 * grad * output³.
func (op *RsqrtOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{zipFloat(outputGrad, op.output, func(g, out float64) float64 {
		return -0.5 * g * out * out * out
	})}
}

// ClampMinOp represents output = max(x, min). The gradient flows where
// x >= min.
type ClampMinOp struct {
	unaryOp
	minValue float64
}

// NewClampMinOp creates a new ClampMinOp.
func NewClampMinOp(input, output *tensor.RawTensor, minValue float64) *ClampMinOp {
	return &ClampMinOp{unaryOp: unaryOp{input, output}, minValue: minValue}
}

// Backward masks the gradient where the input was clamped.
func (op *ClampMinOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{zipFloat(outputGrad, op.input, func(g, x float64) float64 {
		if x >= op.minValue {
			return g
		}
		return 0
	})}
}
