package nn

import (
	"fmt"
	"maps"
	"slices"

	"github.com/born-ml/continual/internal/tensor"
)

// loadStateDict copies src into the live tensors of dst.
//
// Every key in dst must be present in src with the same shape and dtype,
// and src must not contain extra keys. Validation runs before any copy, so
// a failed load leaves dst untouched.
func loadStateDict(dst, src map[string]*tensor.RawTensor) error {
	for _, name := range slices.Sorted(maps.Keys(dst)) {
		want := dst[name]
		got, ok := src[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrMissingKey, name)
		}
		if !got.Shape().Equal(want.Shape()) {
			return fmt.Errorf("%w for %q: expected %v, got %v", ErrShapeMismatch, name, want.Shape(), got.Shape())
		}
		if got.DType() != want.DType() {
			return fmt.Errorf("%w for %q: expected %s, got %s", ErrDTypeMismatch, name, want.DType(), got.DType())
		}
	}
	for _, name := range slices.Sorted(maps.Keys(src)) {
		if _, ok := dst[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnexpectedKey, name)
		}
	}

	for name, want := range dst {
		if err := want.CopyFrom(src[name]); err != nil {
			return fmt.Errorf("load %q: %w", name, err)
		}
	}
	return nil
}

// mergePrefixed adds every entry of src to dst under prefix + "." + key.
func mergePrefixed(dst map[string]*tensor.RawTensor, prefix string, src map[string]*tensor.RawTensor) {
	for name, raw := range src {
		dst[prefix+"."+name] = raw
	}
}

// CloneStateDict returns a deep copy of stateDict.
func CloneStateDict(stateDict map[string]*tensor.RawTensor) map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor, len(stateDict))
	for name, raw := range stateDict {
		out[name] = raw.Clone()
	}
	return out
}
