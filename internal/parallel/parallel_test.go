package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 8}

	var counter int64
	n := 1000
	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	assert.Equal(t, int64(n), counter)
}

func TestFor_Sequential(t *testing.T) {
	var counter int64
	For(100, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, Sequential())

	assert.Equal(t, int64(100), counter)
}

func TestForRange_CoversEveryIndexOnce(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 3, MinChunkSize: 5}
	hits := make([]int32, 101)

	ForRange(len(hits), func(start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&hits[i], 1)
		}
	}, cfg)

	for i, h := range hits {
		assert.Equal(t, int32(1), h, "index %d", i)
	}
}

func TestForRange_SmallInputRunsOnce(t *testing.T) {
	cfg := DefaultConfig()
	calls := 0
	ForRange(10, func(start, end int) {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 10, end)
	}, cfg)
	assert.Equal(t, 1, calls)
}

func TestForRange_Empty(t *testing.T) {
	ForRange(0, func(_, _ int) {
		t.Fatal("f must not be called for an empty range")
	}, DefaultConfig())
}
