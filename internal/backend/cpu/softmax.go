package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/continual/internal/tensor"
)

// Softmax applies a numerically stable softmax along the last dimension.
//
// Every leading dimension is treated as a batch of rows, so [B, C] and
// [B, N, P] inputs are both supported.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	if len(shape) == 0 || shape.NormalizeDim(dim) != len(shape)-1 {
		panic(fmt.Sprintf("softmax: only the last dimension is supported, got dim %d for shape %v", dim, shape))
	}
	cols := shape[len(shape)-1]
	rows := x.NumElements() / cols

	result := cpu.newResult(shape, x.DType())
	switch x.DType() {
	case tensor.Float32:
		softmaxRows(cpu, result.AsFloat32(), x.AsFloat32(), rows, cols)
	case tensor.Float64:
		softmaxRows(cpu, result.AsFloat64(), x.AsFloat64(), rows, cols)
	default:
		panic(fmt.Sprintf("softmax: unsupported dtype %s", x.DType()))
	}
	return result
}

func softmaxRows[T float](cpu *CPUBackend, dst, src []T, rows, cols int) {
	cpu.forChunks(rows, func(start, end int) {
		for r := start; r < end; r++ {
			softmaxRow(dst[r*cols:(r+1)*cols], src[r*cols:(r+1)*cols])
		}
	})
}

func softmaxRow[T float](dst, src []T) {
	maxVal := src[0]
	for _, v := range src[1:] {
		maxVal = max(maxVal, v)
	}
	var sum float64
	for i, v := range src {
		e := math.Exp(float64(v - maxVal))
		dst[i] = T(e)
		sum += e
	}
	for i := range dst {
		dst[i] = T(float64(dst[i]) / sum)
	}
}

// CrossEntropy computes mean(-log softmax(logits)[label]) for logits [N, C]
// and int32 labels [N]. The result is a scalar.
func (cpu *CPUBackend) CrossEntropy(logits, labels *tensor.RawTensor) *tensor.RawTensor {
	n, c := checkCrossEntropyShapes(logits, labels)
	lbl := labels.AsInt32()

	result := cpu.newResult(tensor.Shape{}, logits.DType())
	switch logits.DType() {
	case tensor.Float32:
		result.AsFloat32()[0] = float32(crossEntropy(logits.AsFloat32(), lbl, n, c))
	case tensor.Float64:
		result.AsFloat64()[0] = crossEntropy(logits.AsFloat64(), lbl, n, c)
	default:
		panic(fmt.Sprintf("cross_entropy: unsupported dtype %s", logits.DType()))
	}
	return result
}

func crossEntropy[T float](logits []T, labels []int32, n, c int) float64 {
	var total float64
	for i := 0; i < n; i++ {
		row := logits[i*c : (i+1)*c]
		maxVal := row[0]
		for _, v := range row[1:] {
			maxVal = max(maxVal, v)
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v - maxVal))
		}
		logSumExp := float64(maxVal) + math.Log(sum)
		total += logSumExp - float64(row[labels[i]])
	}
	return total / float64(n)
}

// checkCrossEntropyShapes validates logits [N, C] against labels [N].
func checkCrossEntropyShapes(logits, labels *tensor.RawTensor) (n, c int) {
	ls, ys := logits.Shape(), labels.Shape()
	if len(ls) != 2 {
		panic(fmt.Sprintf("cross_entropy: logits must be 2D [N, C], got %v", ls))
	}
	if labels.DType() != tensor.Int32 {
		panic(fmt.Sprintf("cross_entropy: labels must be int32, got %s", labels.DType()))
	}
	if len(ys) != 1 || ys[0] != ls[0] {
		panic(fmt.Sprintf("cross_entropy: labels shape %v does not match logits %v", ys, ls))
	}
	n, c = ls[0], ls[1]
	for i, y := range labels.AsInt32() {
		if y < 0 || int(y) >= c {
			panic(fmt.Sprintf("cross_entropy: label %d at index %d out of range [0, %d)", y, i, c))
		}
	}
	return n, c
}
