package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/born-ml/continual/internal/tensor"
)

// Default truncation bounds for TruncNormal. They are absolute values, not
// multiples of std.
const (
	DefaultTruncLow  = -2.0
	DefaultTruncHigh = 2.0
)

// TruncNormal fills a tensor with draws from N(mean, std²) truncated to the
// absolute interval [a, b]. Every element that lands outside the interval is
// redrawn until all of them fall inside. Draws come from src, or from the
// global source when src is nil.
//
// Panics if a >= b or std <= 0.
func TruncNormal[B tensor.Backend](shape tensor.Shape, mean, std, a, b float64, src rand.Source, backend B) *tensor.Tensor[float32, B] {
	if a >= b {
		panic(fmt.Sprintf("TruncNormal: invalid interval [%v, %v]", a, b))
	}
	if std <= 0 {
		panic(fmt.Sprintf("TruncNormal: std must be positive, got %v", std))
	}

	dist := distuv.Normal{Mu: mean, Sigma: std, Src: src}
	t := tensor.Zeros[float32](shape, backend)
	data := t.Data()
	for i := range data {
		v := dist.Rand()
		for v < a || v > b {
			v = dist.Rand()
		}
		data[i] = float32(v)
	}
	return t
}

// KaimingUniform fills a tensor from U(-bound, bound) with
// bound = gain * sqrt(3 / fanIn). A linear nonlinearity has gain 1.
func KaimingUniform[B tensor.Backend](shape tensor.Shape, fanIn int, gain float64, src rand.Source, backend B) *tensor.Tensor[float32, B] {
	if fanIn <= 0 {
		panic(fmt.Sprintf("KaimingUniform: fanIn must be positive, got %d", fanIn))
	}
	bound := gain * math.Sqrt(3.0/float64(fanIn))
	return Uniform(shape, -bound, bound, src, backend)
}

// Uniform fills a tensor from U(low, high). A nil src draws from the global
// source.
func Uniform[B tensor.Backend](shape tensor.Shape, low, high float64, src rand.Source, backend B) *tensor.Tensor[float32, B] {
	dist := distuv.Uniform{Min: low, Max: high, Src: src}
	t := tensor.Zeros[float32](shape, backend)
	data := t.Data()
	for i := range data {
		data[i] = float32(dist.Rand())
	}
	return t
}

// Constant creates a tensor filled with value.
func Constant[B tensor.Backend](shape tensor.Shape, value float32, backend B) *tensor.Tensor[float32, B] {
	return tensor.Full[float32](shape, value, backend)
}

// Zeros creates a tensor filled with zeros.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](shape, backend)
}

// Ones creates a tensor filled with ones.
func Ones[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Ones[float32](shape, backend)
}
