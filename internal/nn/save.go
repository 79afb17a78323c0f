package nn

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/born-ml/continual/internal/serialization"
	"github.com/born-ml/continual/internal/tensor"
)

// Metadata keys written for SimpleContinualLinear models.
const (
	MetaModelType  = "model_type"
	MetaEmbedDim   = "embed_dim"
	MetaHeadSizes  = "head_sizes"
	MetaWithNorm   = "with_norm"
	MetaFeatExpand = "feat_expand"
)

// ModelTypeContinual is the model type recorded for SimpleContinualLinear.
const ModelTypeContinual = "SimpleContinualLinear"

// SafeTensorsExt selects the SafeTensors format in Save and Load; any other
// extension uses .born.
const SafeTensorsExt = ".safetensors"

func isSafeTensors(path string) bool {
	return strings.EqualFold(filepath.Ext(path), SafeTensorsExt)
}

// Save writes the state dict of model to path.
//
// Example:
//
//	err := nn.Save(head, "head.born", nn.ModelTypeContinual, nn.ContinualMetadata(head))
func Save(model Stateful, path, modelType string, metadata map[string]string) (err error) {
	stateDict := model.StateDict()

	if isSafeTensors(path) {
		meta := make(map[string]string, len(metadata)+1)
		for k, v := range metadata {
			meta[k] = v
		}
		meta[MetaModelType] = modelType
		return serialization.WriteSafeTensors(path, stateDict, meta)
	}

	writer, err := serialization.NewBornWriter(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := writer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return writer.WriteStateDict(stateDict, serialization.Header{
		ModelType: modelType,
		Metadata:  metadata,
	})
}

// ReadFile reads every tensor and the header of a .born or .safetensors
// file. For SafeTensors the header is synthesized from "__metadata__".
func ReadFile(path string) (map[string]*tensor.RawTensor, serialization.Header, error) {
	if isSafeTensors(path) {
		stateDict, meta, err := serialization.ReadSafeTensors(path)
		if err != nil {
			return nil, serialization.Header{}, err
		}
		return stateDict, serialization.Header{ModelType: meta[MetaModelType], Metadata: meta}, nil
	}

	reader, err := serialization.NewBornReader(path)
	if err != nil {
		return nil, serialization.Header{}, err
	}
	defer func() {
		_ = reader.Close()
	}()

	stateDict, err := reader.ReadStateDict()
	if err != nil {
		return nil, serialization.Header{}, err
	}
	return stateDict, reader.Header(), nil
}

// Load reads path into model and returns the file header. Optimizer state
// stored by a checkpoint is ignored.
func Load(path string, model Stateful) (serialization.Header, error) {
	stateDict, header, err := ReadFile(path)
	if err != nil {
		return serialization.Header{}, err
	}
	modelState, _ := splitOptimizerState(stateDict)
	if err := model.LoadStateDict(modelState); err != nil {
		return serialization.Header{}, fmt.Errorf("load %s: %w", path, err)
	}
	return header, nil
}

// ContinualMetadata describes the structure of c so the module can be
// rebuilt by NewSimpleContinualLinearFromMetadata.
func ContinualMetadata[B tensor.Backend](c *SimpleContinualLinear[B]) map[string]string {
	sizes := make([]string, len(c.sizes))
	for i, n := range c.sizes {
		sizes[i] = strconv.Itoa(n)
	}
	return map[string]string{
		MetaModelType:  ModelTypeContinual,
		MetaEmbedDim:   strconv.Itoa(c.embedDim),
		MetaHeadSizes:  strings.Join(sizes, ","),
		MetaWithNorm:   strconv.FormatBool(c.withNorm),
		MetaFeatExpand: strconv.FormatBool(c.featExpand),
	}
}

// NewSimpleContinualLinearFromMetadata builds an untrained module with the
// head structure described by meta. Every parameter is trainable.
func NewSimpleContinualLinearFromMetadata[B tensor.Backend](meta map[string]string, backend B) (*SimpleContinualLinear[B], error) {
	for _, key := range []string{MetaEmbedDim, MetaHeadSizes} {
		if meta[key] == "" {
			return nil, fmt.Errorf("%w: %q", ErrMissingMeta, key)
		}
	}
	if mt, ok := meta[MetaModelType]; ok && mt != ModelTypeContinual {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, mt)
	}

	embedDim, err := strconv.Atoi(meta[MetaEmbedDim])
	if err != nil || embedDim <= 0 {
		return nil, fmt.Errorf("invalid %s %q", MetaEmbedDim, meta[MetaEmbedDim])
	}
	var sizes []int
	for _, field := range strings.Split(meta[MetaHeadSizes], ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid %s %q", MetaHeadSizes, meta[MetaHeadSizes])
		}
		sizes = append(sizes, n)
	}

	var opts []ContinualOption
	if b, err := parseBoolMeta(meta, MetaWithNorm); err != nil {
		return nil, err
	} else if b {
		opts = append(opts, WithLayerNorm())
	}
	if b, err := parseBoolMeta(meta, MetaFeatExpand); err != nil {
		return nil, err
	} else if b {
		opts = append(opts, WithFeatureExpansion())
	}

	c := NewSimpleContinualLinear(embedDim, sizes[0], backend, opts...)
	for _, n := range sizes[1:] {
		c.Update(n, false)
	}
	return c, nil
}

func parseBoolMeta(meta map[string]string, key string) (bool, error) {
	v, ok := meta[key]
	if !ok {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", key, v)
	}
	return b, nil
}

// LoadSimpleContinualLinear rebuilds a SimpleContinualLinear from a file
// written by Save or Checkpoint.Save with ContinualMetadata.
func LoadSimpleContinualLinear[B tensor.Backend](path string, backend B) (*SimpleContinualLinear[B], error) {
	stateDict, header, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := NewSimpleContinualLinearFromMetadata(header.Metadata, backend)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	modelState, _ := splitOptimizerState(stateDict)
	if err := c.LoadStateDict(modelState); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return c, nil
}
