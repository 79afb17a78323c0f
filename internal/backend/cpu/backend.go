// Package cpu implements the pure Go CPU backend. Matrix products are delegated to gonum BLAS.
package cpu

import (
	"github.com/born-ml/continual/internal/parallel"
	"github.com/born-ml/continual/internal/tensor"
)

// CPUBackend implements tensor operations on CPU.
type CPUBackend struct {
	device   tensor.Device
	parallel parallel.Config
}

// New creates a new CPU backend with the default parallel configuration.
func New() *CPUBackend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with an explicit parallel configuration.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{
		device:   tensor.CPU,
		parallel: cfg,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// float is the set of element types the arithmetic kernels are written for.
type float interface {
	~float32 | ~float64
}

// newResult allocates a result tensor on this backend.
func (cpu *CPUBackend) newResult(shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	return tensor.MustRaw(shape, dtype, cpu.device)
}

// forChunks runs f over [0, n) using the backend's parallel configuration.
func (cpu *CPUBackend) forChunks(n int, f func(start, end int)) {
	parallel.ForRange(n, f, cpu.parallel)
}
