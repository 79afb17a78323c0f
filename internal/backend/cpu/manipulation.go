package cpu

import (
	"fmt"

	"github.com/born-ml/continual/internal/tensor"
)

// Reshape returns a copy of t with a new shape. One dimension may be -1.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	resolved, err := resolveShape(newShape, t.NumElements())
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	out, err := t.WithShape(resolved)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return out
}

// resolveShape fills in a single -1 dimension from the element count.
func resolveShape(shape tensor.Shape, numElements int) (tensor.Shape, error) {
	out := shape.Clone()
	inferred := -1
	known := 1
	for i, d := range out {
		switch {
		case d == -1 && inferred >= 0:
			return nil, fmt.Errorf("only one dimension can be inferred in %v", shape)
		case d == -1:
			inferred = i
		default:
			known *= d
		}
	}
	if inferred >= 0 {
		if known == 0 || numElements%known != 0 {
			return nil, fmt.Errorf("cannot infer dimension of %v for %d elements", shape, numElements)
		}
		out[inferred] = numElements / known
	}
	if out.NumElements() != numElements {
		return nil, fmt.Errorf("shape %v does not hold %d elements", shape, numElements)
	}
	return out, nil
}

// Transpose permutes dimensions. With no axes, all dimensions are reversed.
//
// The kernel is dtype agnostic: elements are moved as byte blocks.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	ndim := len(shape)
	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: expected %d axes, got %d", ndim, len(axes)))
	}

	seen := make([]bool, ndim)
	outShape := make(tensor.Shape, ndim)
	for i, a := range axes {
		if a < 0 || a >= ndim || seen[a] {
			panic(fmt.Sprintf("transpose: invalid permutation %v", axes))
		}
		seen[a] = true
		outShape[i] = shape[a]
	}

	result := cpu.newResult(outShape, t.DType())
	elem := t.DType().Size()
	src, dst := t.Data(), result.Data()
	inStrides := t.Strides()

	// Stride in the input for each output dimension.
	permStrides := make([]int, ndim)
	for i, a := range axes {
		permStrides[i] = inStrides[a]
	}

	idx := make([]int, ndim)
	in := 0
	for out := 0; out < result.NumElements(); out++ {
		copy(dst[out*elem:(out+1)*elem], src[in*elem:(in+1)*elem])
		for d := ndim - 1; d >= 0; d-- {
			idx[d]++
			in += permStrides[d]
			if idx[d] < outShape[d] {
				break
			}
			in -= permStrides[d] * outShape[d]
			idx[d] = 0
		}
	}
	return result
}

// Cat concatenates tensors along dim. All inputs must share dtype, rank and
// every dimension except dim.
func (cpu *CPUBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: no tensors")
	}
	first := tensors[0].Shape()
	dim = first.NormalizeDim(dim)
	dtype := tensors[0].DType()

	outShape := first.Clone()
	outShape[dim] = 0
	for i, t := range tensors {
		s := t.Shape()
		if t.DType() != dtype {
			panic(fmt.Sprintf("cat: tensor %d has dtype %s, expected %s", i, t.DType(), dtype))
		}
		if len(s) != len(first) {
			panic(fmt.Sprintf("cat: tensor %d has rank %d, expected %d", i, len(s), len(first)))
		}
		for d := range s {
			if d != dim && s[d] != first[d] {
				panic(fmt.Sprintf("cat: tensor %d has shape %v, incompatible with %v along dim %d", i, s, first, dim))
			}
		}
		outShape[dim] += s[dim]
	}

	result := cpu.newResult(outShape, dtype)
	dst := result.Data()
	elem := dtype.Size()
	outer, outSize, inner := outShape.Split(dim)

	offset := 0
	for _, t := range tensors {
		src := t.Data()
		size := t.Shape()[dim]
		block := size * inner * elem
		for o := 0; o < outer; o++ {
			dstStart := (o*outSize + offset) * inner * elem
			copy(dst[dstStart:dstStart+block], src[o*block:(o+1)*block])
		}
		offset += size
	}
	return result
}
