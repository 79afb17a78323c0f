package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataTypeSize(t *testing.T) {
	tests := []struct {
		dtype DataType
		size  int
		name  string
	}{
		{Float32, 4, "float32"},
		{Float64, 8, "float64"},
		{Int32, 4, "int32"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.size, tt.dtype.Size())
		assert.Equal(t, tt.name, tt.dtype.String())
	}
	assert.True(t, Float64.IsFloat())
	assert.False(t, Int32.IsFloat())
}

func TestShapeBasics(t *testing.T) {
	s := Shape{2, 3, 4}

	assert.Equal(t, 24, s.NumElements())
	assert.Equal(t, 1, Shape{}.NumElements())
	assert.Equal(t, []int{12, 4, 1}, s.ComputeStrides())
	assert.True(t, s.Equal(s.Clone()))
	assert.False(t, s.Equal(Shape{2, 3}))
	assert.NoError(t, s.Validate())
	assert.Error(t, Shape{2, 0}.Validate())
}

func TestShapeNormalizeDim(t *testing.T) {
	s := Shape{2, 3}
	assert.Equal(t, 1, s.NormalizeDim(-1))
	assert.Equal(t, 0, s.NormalizeDim(0))
	assert.Panics(t, func() { s.NormalizeDim(2) })
	assert.Panics(t, func() { s.NormalizeDim(-3) })
}

func TestShapeSplit(t *testing.T) {
	outer, size, inner := Shape{2, 3, 4, 5}.Split(1)
	assert.Equal(t, 2, outer)
	assert.Equal(t, 3, size)
	assert.Equal(t, 20, inner)
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		a, b      Shape
		want      Shape
		broadcast bool
		wantErr   bool
	}{
		{Shape{3, 5}, Shape{3, 5}, Shape{3, 5}, false, false},
		{Shape{3, 1}, Shape{3, 5}, Shape{3, 5}, true, false},
		{Shape{5}, Shape{3, 5}, Shape{3, 5}, true, false},
		{Shape{}, Shape{2, 2}, Shape{2, 2}, true, false},
		{Shape{3, 4}, Shape{3, 5}, nil, false, true},
	}

	for _, tt := range tests {
		got, broadcast, err := BroadcastShapes(tt.a, tt.b)
		if tt.wantErr {
			assert.Error(t, err, "%v vs %v", tt.a, tt.b)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.broadcast, broadcast)
	}
}

func TestBroadcastStrides(t *testing.T) {
	assert.Equal(t, []int{0, 1}, BroadcastStrides(Shape{5}, Shape{3, 5}))
	assert.Equal(t, []int{1, 0}, BroadcastStrides(Shape{3, 1}, Shape{3, 5}))
}

func TestRawTensor(t *testing.T) {
	r, err := NewRaw(Shape{2, 2}, Float32, CPU)
	require.NoError(t, err)
	assert.Equal(t, 16, r.ByteSize())

	copy(r.AsFloat32(), []float32{1, 2, 3, 4})
	c := r.Clone()
	c.AsFloat32()[0] = 9
	assert.Equal(t, float32(1), r.AsFloat32()[0])

	v, err := r.WithShape(Shape{4})
	require.NoError(t, err)
	assert.Equal(t, Shape{4}, v.Shape())
	_, err = r.WithShape(Shape{3})
	assert.Error(t, err)

	require.NoError(t, r.CopyFrom(c))
	assert.Equal(t, float32(9), r.AsFloat32()[0])
	assert.Error(t, r.CopyFrom(v))

	assert.Panics(t, func() { r.AsFloat64() })

	_, err = NewRaw(Shape{0}, Float32, CPU)
	assert.Error(t, err)
}
