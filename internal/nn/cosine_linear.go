package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/born-ml/continual/internal/tensor"
)

// cosineConfig holds the options shared by the cosine heads.
type cosineConfig struct {
	nbProxy  int
	toReduce bool
	sigma    bool
	src      rand.Source
}

// CosineOption configures CosineLinear and SplitCosineLinear.
type CosineOption func(*cosineConfig)

// WithProxies sets the number of weight rows (proxies) per class.
func WithProxies(n int) CosineOption {
	return func(c *cosineConfig) {
		c.nbProxy = n
	}
}

// WithProxyReduction makes CosineLinear reduce proxy scores to one score
// per class.
func WithProxyReduction() CosineOption {
	return func(c *cosineConfig) {
		c.toReduce = true
	}
}

// WithoutSigma removes the learnable scale.
func WithoutSigma() CosineOption {
	return func(c *cosineConfig) {
		c.sigma = false
	}
}

// WithCosineSource draws the initial weights from src. Heads built by
// ExpandCosine keep drawing from the same source.
func WithCosineSource(src rand.Source) CosineOption {
	return func(c *cosineConfig) {
		c.src = src
	}
}

func newCosineConfig(opts []CosineOption) cosineConfig {
	cfg := cosineConfig{nbProxy: 1, sigma: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.nbProxy < 1 {
		panic(fmt.Sprintf("invalid number of proxies %d", cfg.nbProxy))
	}
	return cfg
}

// CosineLinear scores features by cosine similarity against each weight row:
//
//	logits = sigma * reduce(normalize(x) @ normalize(W).T)
//
// W has out*nbProxy rows initialized from U(-1/sqrt(in), 1/sqrt(in)) and
// sigma starts at 1.
//
// Example:
//
//	head := nn.NewCosineLinear(512, 10, backend, nn.WithProxies(2), nn.WithProxyReduction())
//	out := head.Forward(features) // out.Logits: [batch, 10]
type CosineLinear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	nbProxy     int
	toReduce    bool
	weight      *Parameter[B]
	sigma       *Parameter[B]
	src         rand.Source
}

// NewCosineLinear creates a cosine head for out classes.
func NewCosineLinear[B tensor.Backend](inFeatures, out int, backend B, opts ...CosineOption) *CosineLinear[B] {
	if inFeatures <= 0 || out <= 0 {
		panic(fmt.Sprintf("NewCosineLinear: invalid dimensions in=%d out=%d", inFeatures, out))
	}
	cfg := newCosineConfig(opts)

	outFeatures := out * cfg.nbProxy
	stdv := 1 / math.Sqrt(float64(inFeatures))
	c := &CosineLinear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		nbProxy:     cfg.nbProxy,
		toReduce:    cfg.toReduce,
		weight:      NewParameter("weight", Uniform(tensor.Shape{outFeatures, inFeatures}, -stdv, stdv, cfg.src, backend)),
		src:         cfg.src,
	}
	if cfg.sigma {
		c.sigma = NewParameter("sigma", Ones(tensor.Shape{1}, backend))
	}
	return c
}

// Forward computes the cosine logits.
func (c *CosineLinear[B]) Forward(x *tensor.Tensor[float32, B]) *Output[B] {
	if shape := x.Shape(); len(shape) != 2 || shape[1] != c.inFeatures {
		panic(fmt.Sprintf("CosineLinear.Forward: expected input [batch, %d], got %v", c.inFeatures, shape))
	}

	out := Normalize(x).MatMul(Normalize(c.weight.Tensor()).T())
	if c.toReduce {
		out = mustReduceProxies(out, c.nbProxy)
	}
	if c.sigma != nil {
		out = out.Mul(c.sigma.Tensor())
	}
	return &Output[B]{Logits: out}
}

// Weight returns the weight parameter [out*nbProxy, in].
func (c *CosineLinear[B]) Weight() *Parameter[B] {
	return c.weight
}

// Sigma returns the scale parameter, or nil when disabled.
func (c *CosineLinear[B]) Sigma() *Parameter[B] {
	return c.sigma
}

// InFeatures returns the input width.
func (c *CosineLinear[B]) InFeatures() int {
	return c.inFeatures
}

// OutFeatures returns classes times proxies.
func (c *CosineLinear[B]) OutFeatures() int {
	return c.outFeatures
}

// NumClasses returns the number of classes.
func (c *CosineLinear[B]) NumClasses() int {
	return c.outFeatures / c.nbProxy
}

// NbProxy returns the number of proxies per class.
func (c *CosineLinear[B]) NbProxy() int {
	return c.nbProxy
}

// Parameters returns [weight, sigma] or [weight].
func (c *CosineLinear[B]) Parameters() []*Parameter[B] {
	if c.sigma != nil {
		return []*Parameter[B]{c.weight, c.sigma}
	}
	return []*Parameter[B]{c.weight}
}

// StateDict returns "weight" and, if present, "sigma".
func (c *CosineLinear[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := map[string]*tensor.RawTensor{"weight": c.weight.Tensor().Raw()}
	if c.sigma != nil {
		stateDict["sigma"] = c.sigma.Tensor().Raw()
	}
	return stateDict
}

// LoadStateDict loads parameters from a state dictionary.
func (c *CosineLinear[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return loadStateDict(c.StateDict(), stateDict)
}
