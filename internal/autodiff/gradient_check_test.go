package autodiff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/continual/internal/autodiff"
	"github.com/born-ml/continual/internal/backend/cpu"
	"github.com/born-ml/continual/internal/tensor"
)

// checkGradients compares tape gradients of the scalar f against central
// finite differences for every element of every input.
func checkGradients(t *testing.T, inputs [][]float64, shapes []tensor.Shape, f func(b adBackend, xs []*T64) *T64) {
	t.Helper()
	backend := autodiff.New(cpu.New())

	build := func(vals [][]float64) []*T64 {
		xs := make([]*T64, len(vals))
		for i := range vals {
			x, err := tensor.FromSlice(vals[i], shapes[i], backend)
			require.NoError(t, err)
			xs[i] = x
		}
		return xs
	}

	backend.Tape().StartRecording()
	xs := build(inputs)
	grads := autodiff.Backward(f(backend, xs), backend)
	backend.Tape().StopRecording()

	const eps = 1e-6
	for i := range inputs {
		g, ok := grads[xs[i].Raw()]
		require.True(t, ok, "no gradient for input %d", i)
		analytic := g.AsFloat64()
		for j := range inputs[i] {
			orig := inputs[i][j]
			inputs[i][j] = orig + eps
			plus := f(backend, build(inputs)).Item()
			inputs[i][j] = orig - eps
			minus := f(backend, build(inputs)).Item()
			inputs[i][j] = orig

			assert.InDelta(t, (plus-minus)/(2*eps), analytic[j], 1e-5, "input %d element %d", i, j)
		}
	}
}

func l2Normalize(x *T64) *T64 {
	norm := x.Mul(x).SumDim(-1, true).Sqrt().ClampMin(1e-12)
	return x.Div(norm)
}

func TestGradient_CosineCrossEntropy(t *testing.T) {
	x := []float64{0.5, -1.2, 0.3, 2.0, 1.1, 0.4, -0.7, 0.9, -0.3, 0.8, 1.5, -0.2}
	w := []float64{
		0.1, 0.2, -0.3, 0.4,
		-0.5, 0.6, 0.7, -0.8,
		0.9, -0.1, 0.2, 0.3,
		0.4, 0.5, -0.6, 0.1,
		-0.2, -0.3, 0.5, 0.7,
	}
	sigma := []float64{1.5}

	checkGradients(t, [][]float64{x, w, sigma}, []tensor.Shape{{3, 4}, {5, 4}, {1}},
		func(b adBackend, xs []*T64) *T64 {
			logits := l2Normalize(xs[0]).MatMul(l2Normalize(xs[1]).T()).Mul(xs[2])
			labels, _ := tensor.FromSlice([]int32{0, 3, 4}, tensor.Shape{3}, b)
			return tensor.New[float64](b.CrossEntropy(logits.Raw(), labels.Raw()), b)
		})
}

func TestGradient_ProxyReduction(t *testing.T) {
	logits := []float64{0.2, -0.4, 1.3, 0.7, -0.9, 0.1, 0.5, 0.5, -1.0, 2.0, 0.3, -0.6}

	checkGradients(t, [][]float64{logits}, []tensor.Shape{{2, 6}},
		func(_ adBackend, xs []*T64) *T64 {
			simi := xs[0].Reshape(2, 3, 2)
			attn := simi.Softmax(-1)
			reduced := attn.Mul(simi).SumDim(-1, false)
			return reduced.Exp().MeanDim(0, false).Log().Sum()
		})
}

func TestGradient_LayerNormShape(t *testing.T) {
	x := []float64{1, 2, 4, -1, 0.5, 3}
	gamma := []float64{1.2, 0.8, -0.5}
	beta := []float64{0.1, 0.2, 0.3}

	checkGradients(t, [][]float64{x, gamma, beta}, []tensor.Shape{{2, 3}, {3}, {3}},
		func(_ adBackend, xs []*T64) *T64 {
			mean := xs[0].MeanDim(-1, true)
			centered := xs[0].Sub(mean)
			variance := centered.Mul(centered).MeanDim(-1, true)
			normed := centered.Mul(variance.AddScalar(1e-5).Rsqrt())
			out := normed.Mul(xs[1]).Add(xs[2])
			return out.Mul(out).Sum()
		})
}

func TestGradient_CatTransposeDiv(t *testing.T) {
	a := []float64{1, 2, 3, 4}
	b := []float64{0.5, -1.5}

	checkGradients(t, [][]float64{a, b}, []tensor.Shape{{2, 2}, {2, 1}},
		func(_ adBackend, xs []*T64) *T64 {
			joined := tensor.Cat([]*T64{xs[0], xs[1]}, 1)
			scaled := joined.Transpose().MulScalar(0.5).Div(xs[1].T().AddScalar(3))
			return scaled.Mul(scaled).Sum()
		})
}
