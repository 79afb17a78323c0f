package nn

import (
	"fmt"

	"github.com/born-ml/continual/internal/tensor"
)

// ReduceProxies collapses nbProxy similarity scores per class into one.
//
// out has shape [batch, classes*nbProxy], laid out class-major. The scores
// of each class are weighted by their own softmax and summed:
//
//	s = out.view(batch, classes, nbProxy)
//	reduced = Σ_p softmax(s)_p * s_p
//
// With nbProxy == 1 out is returned unchanged.
func ReduceProxies[B tensor.Backend](out *tensor.Tensor[float32, B], nbProxy int) (*tensor.Tensor[float32, B], error) {
	if nbProxy == 1 {
		return out, nil
	}
	shape := out.Shape()
	if nbProxy < 1 || len(shape) != 2 || shape[1]%nbProxy != 0 {
		return nil, fmt.Errorf("%w: shape %v, nb_proxy %d", ErrProxyShape, shape, nbProxy)
	}

	bs, nbClasses := shape[0], shape[1]/nbProxy
	simi := out.Reshape(bs, nbClasses, nbProxy)
	attentions := simi.Softmax(-1)
	return attentions.Mul(simi).SumDim(-1, false), nil
}

// mustReduceProxies is ReduceProxies for widths that are proxy multiples by
// construction.
func mustReduceProxies[B tensor.Backend](out *tensor.Tensor[float32, B], nbProxy int) *tensor.Tensor[float32, B] {
	reduced, err := ReduceProxies(out, nbProxy)
	if err != nil {
		panic(err)
	}
	return reduced
}
