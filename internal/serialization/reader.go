package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/born-ml/continual/internal/tensor"
)

// BornReader reads state dictionaries from .born files.
// The data section is held in memory after a successful open.
type BornReader struct {
	header Header
	flags  uint32
	data   []byte
	index  map[string]TensorMeta
	closed bool
}

// ReaderOptions configures the behavior of BornReader.
type ReaderOptions struct {
	SkipChecksumValidation bool
	ValidationLevel        ValidationLevel
}

// NewBornReader opens a .born file with strict validation.
func NewBornReader(path string) (*BornReader, error) {
	return NewBornReaderWithOptions(path, ReaderOptions{ValidationLevel: ValidationStrict})
}

// NewBornReaderWithOptions opens a .born file with custom options.
func NewBornReaderWithOptions(path string, opts ReaderOptions) (*BornReader, error) {
	//nolint:gosec // G304: path is chosen by the caller
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return Read(file, opts)
}

// Read decodes a .born stream.
func Read(in io.Reader, opts ReaderOptions) (*BornReader, error) {
	prefix := make([]byte, prefixSize)
	if _, err := io.ReadFull(in, prefix); err != nil {
		return nil, fmt.Errorf("failed to read prefix: %w", err)
	}
	if string(prefix[0:4]) != MagicBytes {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMagic, prefix[0:4])
	}
	if version := binary.LittleEndian.Uint32(prefix[4:8]); version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	flags := binary.LittleEndian.Uint32(prefix[8:12])
	headerSize := binary.LittleEndian.Uint64(prefix[12:20])
	if headerSize > MaxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(in, headerJSON); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if _, err := io.CopyN(io.Discard, in, int64(padding(int(headerSize)))); err != nil {
		return nil, fmt.Errorf("failed to skip padding: %w", err)
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	if err := ValidateHeader(&header, int64(len(data)), opts.ValidationLevel); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if opts.ValidationLevel == ValidationStrict && !opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(data), header.Checksum); err != nil {
			return nil, err
		}
	}

	index := make(map[string]TensorMeta, len(header.Tensors))
	for _, t := range header.Tensors {
		index[t.Name] = t
	}
	return &BornReader{header: header, flags: flags, data: data, index: index}, nil
}

// Header returns the parsed header.
func (r *BornReader) Header() Header {
	return r.header
}

// Metadata returns the custom string metadata.
func (r *BornReader) Metadata() map[string]string {
	return r.header.Metadata
}

// Flags returns the format flags.
func (r *BornReader) Flags() uint32 {
	return r.flags
}

// TensorNames returns the stored tensor names in sorted order.
func (r *BornReader) TensorNames() []string {
	names := make([]string, 0, len(r.index))
	for name := range r.index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TensorInfo returns metadata for one tensor.
func (r *BornReader) TensorInfo(name string) (TensorMeta, error) {
	meta, ok := r.index[name]
	if !ok {
		return TensorMeta{}, fmt.Errorf("%w: %q", ErrTensorNotFound, name)
	}
	return meta, nil
}

// LoadTensor copies one tensor out of the file.
func (r *BornReader) LoadTensor(name string) (*tensor.RawTensor, error) {
	if r.closed {
		return nil, ErrClosed
	}
	meta, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	dtype, ok := stringToDtype(meta.DType)
	if !ok {
		return nil, fmt.Errorf("%w: %s for tensor %q", ErrUnsupportedDType, meta.DType, name)
	}
	raw, err := tensor.NewRaw(tensor.Shape(meta.Shape), dtype, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	if int64(raw.ByteSize()) != meta.Size {
		return nil, fmt.Errorf("%w: tensor %q", ErrSizeMismatch, name)
	}
	copy(raw.Data(), r.data[meta.Offset:meta.Offset+meta.Size])
	return raw, nil
}

// ReadStateDict loads every tensor.
func (r *BornReader) ReadStateDict() (map[string]*tensor.RawTensor, error) {
	stateDict := make(map[string]*tensor.RawTensor, len(r.index))
	for name := range r.index {
		raw, err := r.LoadTensor(name)
		if err != nil {
			return nil, err
		}
		stateDict[name] = raw
	}
	return stateDict, nil
}

// Close releases the in-memory data section.
func (r *BornReader) Close() error {
	r.closed = true
	r.data = nil
	return nil
}
