package nn

import (
	"github.com/born-ml/continual/internal/tensor"
)

// NormalizeEps is the lower bound applied to norms by Normalize.
const NormalizeEps = 1e-12

// Normalize scales every row of a 2-D tensor to unit L2 norm:
//
//	x / max(||x||₂, eps)
//
// Rows with a zero norm stay zero.
func Normalize[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	norm := x.Mul(x).SumDim(1, true).Sqrt().ClampMin(NormalizeEps)
	return x.Div(norm)
}
