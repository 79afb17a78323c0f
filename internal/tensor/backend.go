package tensor

// Backend defines the interface that compute backends implement.
// Backends operate on RawTensors and always return freshly allocated results.
//
// Shape or dtype misuse is a programmer error and panics with an "op: detail"
// message.
type Backend interface {
	// Element-wise binary operations with NumPy broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// MatMul multiplies two 2-D tensors: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Scalar operations.
	MulScalar(x *RawTensor, scalar float64) *RawTensor
	AddScalar(x *RawTensor, scalar float64) *RawTensor

	// Element-wise math.
	Exp(x *RawTensor) *RawTensor
	Log(x *RawTensor) *RawTensor
	Sqrt(x *RawTensor) *RawTensor
	Rsqrt(x *RawTensor) *RawTensor
	ClampMin(x *RawTensor, minValue float64) *RawTensor

	// Softmax along the last dimension.
	Softmax(x *RawTensor, dim int) *RawTensor

	// Reductions.
	Sum(x *RawTensor) *RawTensor
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	Argmax(x *RawTensor, dim int) *RawTensor

	// Cat concatenates tensors along dim.
	Cat(tensors []*RawTensor, dim int) *RawTensor

	// CrossEntropy returns the mean cross-entropy of logits [N, C] against
	// int32 class labels [N] as a scalar.
	CrossEntropy(logits, labels *RawTensor) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
