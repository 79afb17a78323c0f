// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides classifier heads for class-incremental learning.
//
// Heads:
//   - SimpleLinear: plain linear logits
//   - CosineLinear: scaled cosine similarity with optional proxies per class
//   - SplitCosineLinear: cosine head split into old and new classes
//   - SimpleContinualLinear: one head per session with backup and recall
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	head := nn.NewSimpleContinualLinear(768, 10, backend, nn.WithLayerNorm())
//	head.Backup()
//	head.Update(10, true)
//	out := head.Forward(features)
package nn

import (
	"math/rand/v2"

	"github.com/born-ml/continual/internal/nn"
	"github.com/born-ml/continual/internal/tensor"
)

// Module interface defines the common interface for layers.
type Module[B tensor.Backend] = nn.Module[B]

// Classifier is the interface every head implements.
type Classifier[B tensor.Backend] = nn.Classifier[B]

// Output carries logits and, for split heads, old and new class scores.
type Output[B tensor.Backend] = nn.Output[B]

// Parameter represents a trainable parameter.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// Sentinel errors.
var (
	ErrMissingKey    = nn.ErrMissingKey
	ErrUnexpectedKey = nn.ErrUnexpectedKey
	ErrShapeMismatch = nn.ErrShapeMismatch
	ErrNoBackup      = nn.ErrNoBackup
	ErrProxyShape    = nn.ErrProxyShape
	ErrUnreduced     = nn.ErrUnreduced
)

// Heads

// SimpleLinear is a linear classifier head.
type SimpleLinear[B tensor.Backend] = nn.SimpleLinear[B]

// NewSimpleLinear creates a linear head with Kaiming uniform weights.
func NewSimpleLinear[B tensor.Backend](inFeatures, outFeatures int, bias bool, backend B) *SimpleLinear[B] {
	return nn.NewSimpleLinear(inFeatures, outFeatures, bias, backend)
}

// NewSimpleLinearWithSource creates a linear head whose weights are drawn from src.
func NewSimpleLinearWithSource[B tensor.Backend](inFeatures, outFeatures int, bias bool, src rand.Source, backend B) *SimpleLinear[B] {
	return nn.NewSimpleLinearWithSource(inFeatures, outFeatures, bias, src, backend)
}

// CosineOption configures the cosine heads.
type CosineOption = nn.CosineOption

// WithProxies sets the number of proxies per class.
func WithProxies(n int) CosineOption {
	return nn.WithProxies(n)
}

// WithProxyReduction reduces proxy scores to one score per class.
func WithProxyReduction() CosineOption {
	return nn.WithProxyReduction()
}

// WithoutSigma removes the learnable scale.
func WithoutSigma() CosineOption {
	return nn.WithoutSigma()
}

// WithCosineSource draws the initial weights from src.
func WithCosineSource(src rand.Source) CosineOption {
	return nn.WithCosineSource(src)
}

// CosineLinear is a cosine-similarity head.
type CosineLinear[B tensor.Backend] = nn.CosineLinear[B]

// NewCosineLinear creates a cosine head for out classes.
func NewCosineLinear[B tensor.Backend](inFeatures, out int, backend B, opts ...CosineOption) *CosineLinear[B] {
	return nn.NewCosineLinear(inFeatures, out, backend, opts...)
}

// SplitCosineLinear is a cosine head split into old and new classes.
type SplitCosineLinear[B tensor.Backend] = nn.SplitCosineLinear[B]

// NewSplitCosineLinear creates a split head for out1 old and out2 new classes.
func NewSplitCosineLinear[B tensor.Backend](inFeatures, out1, out2 int, backend B, opts ...CosineOption) *SplitCosineLinear[B] {
	return nn.NewSplitCosineLinear(inFeatures, out1, out2, backend, opts...)
}

// ExpandCosine grows a trained cosine head by extra classes.
func ExpandCosine[B tensor.Backend](prev Classifier[B], extra int, backend B) (*SplitCosineLinear[B], error) {
	return nn.ExpandCosine(prev, extra, backend)
}

// ContinualOption configures SimpleContinualLinear.
type ContinualOption = nn.ContinualOption

// WithFeatureExpansion feeds head i its own feature tensor.
func WithFeatureExpansion() ContinualOption {
	return nn.WithFeatureExpansion()
}

// WithLayerNorm puts a LayerNorm in front of every head.
func WithLayerNorm() ContinualOption {
	return nn.WithLayerNorm()
}

// WithContinualSource draws the weights of every head from src.
func WithContinualSource(src rand.Source) ContinualOption {
	return nn.WithContinualSource(src)
}

// SimpleContinualLinear grows by one head per session.
type SimpleContinualLinear[B tensor.Backend] = nn.SimpleContinualLinear[B]

// NewSimpleContinualLinear creates the module with one head of nbClasses.
func NewSimpleContinualLinear[B tensor.Backend](embedDim, nbClasses int, backend B, opts ...ContinualOption) *SimpleContinualLinear[B] {
	return nn.NewSimpleContinualLinear(embedDim, nbClasses, backend, opts...)
}

// Functions

// ReduceProxies collapses proxy scores to one score per class.
func ReduceProxies[B tensor.Backend](out *tensor.Tensor[float32, B], nbProxy int) (*tensor.Tensor[float32, B], error) {
	return nn.ReduceProxies(out, nbProxy)
}

// TruncNormal samples N(mean, std²) truncated to the absolute interval [a, b].
// A nil src draws from the global source.
func TruncNormal[B tensor.Backend](shape tensor.Shape, mean, std, a, b float64, src rand.Source, backend B) *tensor.Tensor[float32, B] {
	return nn.TruncNormal(shape, mean, std, a, b, src, backend)
}

// CrossEntropyLoss computes the mean cross-entropy over class labels.
type CrossEntropyLoss[B tensor.Backend] = nn.CrossEntropyLoss[B]

// NewCrossEntropyLoss creates a cross-entropy loss.
func NewCrossEntropyLoss[B tensor.Backend](backend B) *CrossEntropyLoss[B] {
	return nn.NewCrossEntropyLoss(backend)
}

// Accuracy returns the fraction of correct argmax predictions.
func Accuracy[B tensor.Backend](logits *tensor.Tensor[float32, B], targets *tensor.Tensor[int32, B]) float32 {
	return nn.Accuracy(logits, targets)
}

// Serialization

// Stateful is anything with a state dict.
type Stateful = nn.Stateful

// Save writes model to a .born or .safetensors file, chosen by extension.
func Save(model Stateful, path, modelType string, metadata map[string]string) error {
	return nn.Save(model, path, modelType, metadata)
}

// Load reads a .born or .safetensors file into model.
func Load(path string, model Stateful) error {
	_, err := nn.Load(path, model)
	return err
}

// LoadSimpleContinualLinear rebuilds a SimpleContinualLinear from a file
// saved with its structure metadata.
func LoadSimpleContinualLinear[B tensor.Backend](path string, backend B) (*SimpleContinualLinear[B], error) {
	return nn.LoadSimpleContinualLinear(path, backend)
}

// ContinualMetadata returns the structure metadata of c.
func ContinualMetadata[B tensor.Backend](c *SimpleContinualLinear[B]) map[string]string {
	return nn.ContinualMetadata(c)
}
