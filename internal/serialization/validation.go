package serialization

import (
	"fmt"
	"sort"
	"strings"
)

// Validation limits for resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024
	MaxTensorCount   = 100_000
	MaxTensorNameLen = 4096
)

// ValidationLevel controls the strictness of validation.
type ValidationLevel int

const (
	// ValidationStrict checks offsets, names, sizes and the checksum.
	ValidationStrict ValidationLevel = iota
	// ValidationNormal checks offsets and sizes only.
	ValidationNormal
	// ValidationNone skips validation. Use only with trusted input.
	ValidationNone
)

// ValidateTensorOffsets checks for overlapping tensor regions and
// out-of-bounds access.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	if len(tensors) > MaxTensorCount {
		return &ValidationError{
			Err:     ErrTooManyTensors,
			Details: fmt.Sprintf("got %d, max %d", len(tensors), MaxTensorCount),
		}
	}

	sorted := make([]TensorMeta, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	for i, t := range sorted {
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Err:     ErrNegativeOffset,
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d", t.Offset, t.Size),
			}
		}
		if t.Offset+t.Size > dataSize {
			return &ValidationError{
				Err:     ErrOutOfBounds,
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", t.Offset, t.Size, dataSize),
			}
		}
		if i < len(sorted)-1 {
			next := sorted[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{
					Err:     ErrOffsetOverlap,
					Tensor:  t.Name,
					Tensor2: next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}
	return nil
}

// ValidateTensorName rejects empty, oversized, or path-like tensor names.
func ValidateTensorName(name string) error {
	switch {
	case name == "":
		return &ValidationError{Err: ErrInvalidTensorName, Details: "empty name"}
	case len(name) > MaxTensorNameLen:
		return &ValidationError{
			Err:     ErrInvalidTensorName,
			Tensor:  name[:32] + "...",
			Details: fmt.Sprintf("length %d exceeds %d", len(name), MaxTensorNameLen),
		}
	case strings.ContainsAny(name, "\x00/\\"):
		return &ValidationError{Err: ErrInvalidTensorName, Tensor: name, Details: "contains a forbidden character"}
	case strings.Contains(name, ".."):
		return &ValidationError{Err: ErrInvalidTensorName, Tensor: name, Details: "contains '..'"}
	}
	return nil
}

// validateTensorSizes checks every tensor's byte size against its shape and dtype.
func validateTensorSizes(tensors []TensorMeta) error {
	for _, t := range tensors {
		dt, ok := stringToDtype(t.DType)
		if !ok {
			return &ValidationError{Err: ErrUnsupportedDType, Tensor: t.Name, Details: t.DType}
		}
		elems := int64(1)
		for _, d := range t.Shape {
			if d <= 0 {
				return &ValidationError{Err: ErrSizeMismatch, Tensor: t.Name, Details: fmt.Sprintf("invalid shape %v", t.Shape)}
			}
			elems *= int64(d)
		}
		if want := elems * int64(dt.Size()); want != t.Size {
			return &ValidationError{
				Err:     ErrSizeMismatch,
				Tensor:  t.Name,
				Details: fmt.Sprintf("shape %v %s needs %d bytes, header says %d", t.Shape, t.DType, want, t.Size),
			}
		}
	}
	return nil
}

// ValidateHeader validates a parsed header against the data section size.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}
	if err := ValidateTensorOffsets(h.Tensors, dataSize); err != nil {
		return err
	}
	if err := validateTensorSizes(h.Tensors); err != nil {
		return err
	}
	if level != ValidationStrict {
		return nil
	}

	seen := make(map[string]bool, len(h.Tensors))
	for _, t := range h.Tensors {
		if err := ValidateTensorName(t.Name); err != nil {
			return err
		}
		if seen[t.Name] {
			return &ValidationError{Err: ErrInvalidTensorName, Tensor: t.Name, Details: "duplicate name"}
		}
		seen[t.Name] = true
	}
	return nil
}
