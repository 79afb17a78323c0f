package nn

import (
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/born-ml/continual/internal/tensor"
)

// ContinualHeadStd is the standard deviation of the truncated normal used for
// head weights.
const ContinualHeadStd = 0.02

type continualConfig struct {
	featExpand bool
	withNorm   bool
	src        rand.Source
}

// ContinualOption configures SimpleContinualLinear.
type ContinualOption func(*continualConfig)

// WithFeatureExpansion makes head i consume its own feature tensor.
// The module must then be driven through ForwardExpanded.
func WithFeatureExpansion() ContinualOption {
	return func(c *continualConfig) {
		c.featExpand = true
	}
}

// WithLayerNorm puts a LayerNorm in front of every head's linear layer.
func WithLayerNorm() ContinualOption {
	return func(c *continualConfig) {
		c.withNorm = true
	}
}

// WithContinualSource draws the weights of every head, including the heads
// added by Update, from src.
func WithContinualSource(src rand.Source) ContinualOption {
	return func(c *continualConfig) {
		c.src = src
	}
}

// SimpleContinualLinear is a classifier that grows by one head per session.
//
// Each head is [LayerNorm(embedDim)], Linear(embedDim, n) and the logits of
// all heads are concatenated in creation order. State dict keys follow
// "heads.<head>.<layer>.<param>", so with layer norm the linear layer of
// head 0 is "heads.0.1.weight" and without it "heads.0.0.weight".
//
// Backup keeps a deep copy of the current state that Recall restores, which
// lets a trainer roll back a session that went wrong.
//
// Example:
//
//	head := nn.NewSimpleContinualLinear(768, 10, backend, nn.WithLayerNorm())
//	head.Backup()
//	head.Update(10, true) // freeze the first head, add 10 classes
//	out := head.Forward(features) // out.Logits: [batch, 20]
type SimpleContinualLinear[B tensor.Backend] struct {
	embedDim   int
	featExpand bool
	withNorm   bool
	heads      []*Sequential[B]
	sizes      []int
	backup     map[string]*tensor.RawTensor
	src        rand.Source
	backend    B
}

// NewSimpleContinualLinear creates the module with a single head of
// nbClasses outputs.
func NewSimpleContinualLinear[B tensor.Backend](embedDim, nbClasses int, backend B, opts ...ContinualOption) *SimpleContinualLinear[B] {
	if embedDim <= 0 {
		panic(fmt.Sprintf("NewSimpleContinualLinear: invalid embed dim %d", embedDim))
	}
	var cfg continualConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &SimpleContinualLinear[B]{
		embedDim:   embedDim,
		featExpand: cfg.featExpand,
		withNorm:   cfg.withNorm,
		src:        cfg.src,
		backend:    backend,
	}
	c.addHead(nbClasses)
	return c
}

func (c *SimpleContinualLinear[B]) addHead(nbClasses int) {
	if nbClasses <= 0 {
		panic(fmt.Sprintf("SimpleContinualLinear: head size must be positive, got %d", nbClasses))
	}

	fc := NewLinearWithSource(c.embedDim, nbClasses, true, c.src, c.backend)
	weight := TruncNormal(fc.Weight().Tensor().Shape(), 0, ContinualHeadStd, DefaultTruncLow, DefaultTruncHigh, c.src, c.backend)
	copy(fc.Weight().Tensor().Raw().Data(), weight.Raw().Data())

	head := NewSequential[B]()
	if c.withNorm {
		head.Add(NewLayerNorm(c.embedDim, DefaultLayerNormEps, c.backend))
	}
	head.Add(fc)

	c.heads = append(c.heads, head)
	c.sizes = append(c.sizes, nbClasses)
}

// Forward runs every head on x and concatenates the logits along dim 1.
// Panics when the module was built with feature expansion.
func (c *SimpleContinualLinear[B]) Forward(x *tensor.Tensor[float32, B]) *Output[B] {
	if c.featExpand {
		panic("SimpleContinualLinear.Forward: module uses feature expansion, call ForwardExpanded")
	}
	outs := make([]*tensor.Tensor[float32, B], len(c.heads))
	for i, head := range c.heads {
		outs[i] = head.Forward(x)
	}
	return &Output[B]{Logits: c.concat(outs)}
}

// ForwardExpanded runs head i on xs[i]. Panics unless the module was built
// with feature expansion and len(xs) equals NumHeads.
func (c *SimpleContinualLinear[B]) ForwardExpanded(xs []*tensor.Tensor[float32, B]) *Output[B] {
	if !c.featExpand {
		panic("SimpleContinualLinear.ForwardExpanded: module was built without feature expansion")
	}
	if len(xs) != len(c.heads) {
		panic(fmt.Sprintf("SimpleContinualLinear.ForwardExpanded: expected %d feature tensors, got %d", len(c.heads), len(xs)))
	}
	outs := make([]*tensor.Tensor[float32, B], len(c.heads))
	for i, head := range c.heads {
		outs[i] = head.Forward(xs[i])
	}
	return &Output[B]{Logits: c.concat(outs)}
}

func (c *SimpleContinualLinear[B]) concat(outs []*tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if len(outs) == 1 {
		return outs[0]
	}
	return tensor.Cat(outs, 1)
}

// Update freezes the existing heads when freezeOld is set and appends a new
// trainable head of nbClasses outputs.
func (c *SimpleContinualLinear[B]) Update(nbClasses int, freezeOld bool) {
	if freezeOld {
		for _, p := range c.Parameters() {
			p.SetRequiresGrad(false)
		}
	}
	c.addHead(nbClasses)
}

// Backup stores a deep copy of the current state dict, replacing any
// previous backup.
func (c *SimpleContinualLinear[B]) Backup() {
	c.backup = CloneStateDict(c.StateDict())
}

// Recall restores the parameters saved by the last Backup. It returns
// ErrNoBackup if Backup was never called, and a strict load error if the
// structure changed since the backup; parameters are then left untouched.
// Trainability flags are not restored.
func (c *SimpleContinualLinear[B]) Recall() error {
	if c.backup == nil {
		return ErrNoBackup
	}
	if err := loadStateDict(c.StateDict(), c.backup); err != nil {
		return fmt.Errorf("recall: %w", err)
	}
	return nil
}

// HasBackup reports whether Backup has been called.
func (c *SimpleContinualLinear[B]) HasBackup() bool {
	return c.backup != nil
}

// NumHeads returns the number of heads.
func (c *SimpleContinualLinear[B]) NumHeads() int {
	return len(c.heads)
}

// HeadSizes returns the number of classes of every head.
func (c *SimpleContinualLinear[B]) HeadSizes() []int {
	return append([]int(nil), c.sizes...)
}

// Head returns head i.
func (c *SimpleContinualLinear[B]) Head(i int) *Sequential[B] {
	if i < 0 || i >= len(c.heads) {
		panic(fmt.Sprintf("SimpleContinualLinear.Head: index %d out of bounds [0, %d)", i, len(c.heads)))
	}
	return c.heads[i]
}

// OutFeatures returns the total number of classes.
func (c *SimpleContinualLinear[B]) OutFeatures() int {
	total := 0
	for _, n := range c.sizes {
		total += n
	}
	return total
}

// EmbedDim returns the input width of every head.
func (c *SimpleContinualLinear[B]) EmbedDim() int {
	return c.embedDim
}

// FeatureExpansion reports whether heads consume separate feature tensors.
func (c *SimpleContinualLinear[B]) FeatureExpansion() bool {
	return c.featExpand
}

// WithNorm reports whether heads start with a LayerNorm.
func (c *SimpleContinualLinear[B]) WithNorm() bool {
	return c.withNorm
}

// Parameters returns the parameters of every head in order.
func (c *SimpleContinualLinear[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, head := range c.heads {
		params = append(params, head.Parameters()...)
	}
	return params
}

// StateDict returns every head's parameters under "heads.<i>.".
func (c *SimpleContinualLinear[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for i, head := range c.heads {
		mergePrefixed(stateDict, "heads."+strconv.Itoa(i), head.StateDict())
	}
	return stateDict
}

// LoadStateDict loads parameters from a state dictionary.
func (c *SimpleContinualLinear[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return loadStateDict(c.StateDict(), stateDict)
}
