package serialization

import (
	"time"

	"github.com/born-ml/continual/internal/tensor"
)

// Format constants.
const (
	MagicBytes      = "BORN"
	FormatVersion   = 2  // v2: SHA-256 checksum in the JSON header
	HeaderAlignment = 64 // tensor data starts on a 64-byte boundary
	prefixSize      = 4 + 4 + 4 + 8
)

// Data type string constants for serialization.
const (
	DTypeFloat32 = "float32"
	DTypeFloat64 = "float64"
	DTypeInt32   = "int32"
)

// Flags for the .born format.
const (
	FlagHasOptimizer uint32 = 1 << 1 // optimizer state included
	FlagHasMetadata  uint32 = 1 << 2 // custom metadata included
)

// Header represents the JSON header in a .born file.
type Header struct {
	FormatVersion  int               `json:"format_version"`
	ModelType      string            `json:"model_type"`
	CreatedAt      time.Time         `json:"created_at"`
	Tensors        []TensorMeta      `json:"tensors"`
	Metadata       map[string]string `json:"metadata"`
	CheckpointMeta *CheckpointMeta   `json:"checkpoint,omitempty"`
	Checksum       string            `json:"checksum"` // hex SHA-256 of the data section
}

// CheckpointMeta contains training state for checkpoint files.
type CheckpointMeta struct {
	IsCheckpoint    bool               `json:"is_checkpoint"`
	Session         int                `json:"session"`
	Epoch           int                `json:"epoch"`
	Step            int64              `json:"step"`
	Loss            float64            `json:"loss"`
	OptimizerType   string             `json:"optimizer_type"`
	OptimizerConfig map[string]float64 `json:"optimizer_config"`
	TrainingMeta    map[string]any     `json:"training_meta"`
}

// TensorMeta describes a tensor in the .born file.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from the start of the data section
	Size   int64  `json:"size"`
}

// dtypeToString converts tensor.DataType to its serialized name.
func dtypeToString(dt tensor.DataType) string {
	switch dt {
	case tensor.Float32:
		return DTypeFloat32
	case tensor.Float64:
		return DTypeFloat64
	case tensor.Int32:
		return DTypeInt32
	default:
		return "unknown"
	}
}

// stringToDtype converts a serialized name to tensor.DataType.
func stringToDtype(s string) (tensor.DataType, bool) {
	switch s {
	case DTypeFloat32:
		return tensor.Float32, true
	case DTypeFloat64:
		return tensor.Float64, true
	case DTypeInt32:
		return tensor.Int32, true
	default:
		return 0, false
	}
}
