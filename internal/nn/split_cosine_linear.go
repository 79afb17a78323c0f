package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/continual/internal/tensor"
)

// SplitCosineLinear keeps the cosine weights of old classes (fc1) and new
// classes (fc2) in separate sub-heads that share one scale:
//
//	logits     = sigma * reduce(cat(fc1(x), fc2(x)))
//	old_scores = reduce(fc1(x))
//	new_scores = reduce(fc2(x))
//
// fc1 and fc2 are CosineLinear heads without reduction and without sigma.
// The old/new scores are not scaled.
type SplitCosineLinear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	nbProxy     int
	fc1         *CosineLinear[B]
	fc2         *CosineLinear[B]
	sigma       *Parameter[B]
	src         rand.Source
}

// NewSplitCosineLinear creates a split head for out1 old and out2 new
// classes. WithProxies and WithoutSigma apply; proxy reduction always
// happens at the split level.
func NewSplitCosineLinear[B tensor.Backend](inFeatures, out1, out2 int, backend B, opts ...CosineOption) *SplitCosineLinear[B] {
	cfg := newCosineConfig(opts)

	s := &SplitCosineLinear[B]{
		inFeatures:  inFeatures,
		outFeatures: (out1 + out2) * cfg.nbProxy,
		nbProxy:     cfg.nbProxy,
		fc1:         NewCosineLinear(inFeatures, out1, backend, WithProxies(cfg.nbProxy), WithoutSigma(), WithCosineSource(cfg.src)),
		fc2:         NewCosineLinear(inFeatures, out2, backend, WithProxies(cfg.nbProxy), WithoutSigma(), WithCosineSource(cfg.src)),
		src:         cfg.src,
	}
	if cfg.sigma {
		s.sigma = NewParameter("sigma", Ones(tensor.Shape{1}, backend))
	}
	return s
}

// Forward computes logits plus the separate old and new class scores.
func (s *SplitCosineLinear[B]) Forward(x *tensor.Tensor[float32, B]) *Output[B] {
	out1 := s.fc1.Forward(x).Logits
	out2 := s.fc2.Forward(x).Logits

	out := mustReduceProxies(tensor.Cat([]*tensor.Tensor[float32, B]{out1, out2}, 1), s.nbProxy)
	if s.sigma != nil {
		out = out.Mul(s.sigma.Tensor())
	}

	return &Output[B]{
		Logits:    out,
		OldScores: mustReduceProxies(out1, s.nbProxy),
		NewScores: mustReduceProxies(out2, s.nbProxy),
	}
}

// FC1 returns the sub-head of previously learned classes.
func (s *SplitCosineLinear[B]) FC1() *CosineLinear[B] {
	return s.fc1
}

// FC2 returns the sub-head of new classes.
func (s *SplitCosineLinear[B]) FC2() *CosineLinear[B] {
	return s.fc2
}

// Sigma returns the shared scale parameter, or nil when disabled.
func (s *SplitCosineLinear[B]) Sigma() *Parameter[B] {
	return s.sigma
}

// InFeatures returns the input width.
func (s *SplitCosineLinear[B]) InFeatures() int {
	return s.inFeatures
}

// OutFeatures returns all classes times proxies.
func (s *SplitCosineLinear[B]) OutFeatures() int {
	return s.outFeatures
}

// NumClasses returns the number of old plus new classes.
func (s *SplitCosineLinear[B]) NumClasses() int {
	return s.outFeatures / s.nbProxy
}

// NbProxy returns the number of proxies per class.
func (s *SplitCosineLinear[B]) NbProxy() int {
	return s.nbProxy
}

// Parameters returns fc1, fc2 and sigma parameters.
func (s *SplitCosineLinear[B]) Parameters() []*Parameter[B] {
	params := append(s.fc1.Parameters(), s.fc2.Parameters()...)
	if s.sigma != nil {
		params = append(params, s.sigma)
	}
	return params
}

// StateDict returns "fc1.weight", "fc2.weight" and, if present, "sigma".
func (s *SplitCosineLinear[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	mergePrefixed(stateDict, "fc1", s.fc1.StateDict())
	mergePrefixed(stateDict, "fc2", s.fc2.StateDict())
	if s.sigma != nil {
		stateDict["sigma"] = s.sigma.Tensor().Raw()
	}
	return stateDict
}

// LoadStateDict loads parameters from a state dictionary.
func (s *SplitCosineLinear[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return loadStateDict(s.StateDict(), stateDict)
}

// ExpandCosine builds the split head for the next session from a trained
// cosine head. fc1 receives every weight row of prev (fc1 followed by fc2
// when prev is already split), fc2 is fresh for the extra classes, and the
// scale and random source are carried over.
//
// The split head always reduces proxies, so a CosineLinear with several
// proxies and no WithProxyReduction is rejected with ErrUnreduced.
func ExpandCosine[B tensor.Backend](prev Classifier[B], extra int, backend B) (*SplitCosineLinear[B], error) {
	if extra <= 0 {
		return nil, fmt.Errorf("ExpandCosine: extra must be positive, got %d", extra)
	}

	var (
		inFeatures, oldClasses, nbProxy int
		oldRows                         [][]byte
		sigma                           *Parameter[B]
		src                             rand.Source
	)
	switch p := prev.(type) {
	case *CosineLinear[B]:
		if p.nbProxy > 1 && !p.toReduce {
			return nil, fmt.Errorf("ExpandCosine: %w: head has %d proxies per class", ErrUnreduced, p.nbProxy)
		}
		inFeatures, oldClasses, nbProxy = p.inFeatures, p.NumClasses(), p.nbProxy
		oldRows = [][]byte{p.weight.Tensor().Raw().Data()}
		sigma, src = p.sigma, p.src
	case *SplitCosineLinear[B]:
		inFeatures, oldClasses, nbProxy = p.inFeatures, p.NumClasses(), p.nbProxy
		oldRows = [][]byte{p.fc1.weight.Tensor().Raw().Data(), p.fc2.weight.Tensor().Raw().Data()}
		sigma, src = p.sigma, p.src
	default:
		return nil, fmt.Errorf("%w: cannot expand %T as a cosine head", ErrUnknownModel, prev)
	}

	opts := []CosineOption{WithProxies(nbProxy), WithCosineSource(src)}
	if sigma == nil {
		opts = append(opts, WithoutSigma())
	}
	next := NewSplitCosineLinear(inFeatures, oldClasses, extra, backend, opts...)

	dst := next.fc1.weight.Tensor().Raw().Data()
	offset := 0
	for _, rows := range oldRows {
		offset += copy(dst[offset:], rows)
	}
	if sigma != nil {
		if err := next.sigma.Tensor().Raw().CopyFrom(sigma.Tensor().Raw()); err != nil {
			return nil, fmt.Errorf("ExpandCosine: %w", err)
		}
	}
	return next, nil
}
