package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/continual/internal/tensor"
)

const safeTensorsMetadataKey = "__metadata__"

// SafeTensorHeader represents a tensor entry in the SafeTensors header.
type SafeTensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// SafeTensorsWriter writes state dictionaries in SafeTensors format.
type SafeTensorsWriter struct {
	file   *os.File
	closed bool
}

// NewSafeTensorsWriter creates a new SafeTensors file writer.
func NewSafeTensorsWriter(path string) (*SafeTensorsWriter, error) {
	//nolint:gosec // G304: path is chosen by the caller
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &SafeTensorsWriter{file: file}, nil
}

// WriteStateDict writes stateDict with optional string metadata.
func (w *SafeTensorsWriter) WriteStateDict(stateDict map[string]*tensor.RawTensor, metadata map[string]string) error {
	if w.closed {
		return ErrClosed
	}
	return EncodeSafeTensors(w.file, stateDict, metadata)
}

// Close closes the underlying file.
func (w *SafeTensorsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// WriteSafeTensors writes tensors to a SafeTensors file.
func WriteSafeTensors(path string, stateDict map[string]*tensor.RawTensor, metadata map[string]string) (err error) {
	w, err := NewSafeTensorsWriter(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := w.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return w.WriteStateDict(stateDict, metadata)
}

// EncodeSafeTensors encodes stateDict in SafeTensors format:
//
//	[8 bytes: header size (uint64 LE)]
//	[header: JSON, space padded to 8 bytes]
//	[tensor data in alphabetical order]
func EncodeSafeTensors(out io.Writer, stateDict map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := sortedNames(stateDict)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header[safeTensorsMetadataKey] = metadata
	}
	var offset int64
	for _, name := range names {
		raw := stateDict[name]
		dtype, err := dtypeToSafeTensors(raw.DType())
		if err != nil {
			return fmt.Errorf("tensor %q: %w", name, err)
		}
		shape := make([]int64, len(raw.Shape()))
		for i, d := range raw.Shape() {
			shape[i] = int64(d)
		}
		size := int64(raw.ByteSize())
		header[name] = SafeTensorHeader{DType: dtype, Shape: shape, DataOffsets: [2]int64{offset, offset + size}}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	for len(headerJSON)%8 != 0 {
		headerJSON = append(headerJSON, ' ')
	}

	bw := bufio.NewWriter(out)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := bw.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, name := range names {
		if _, err := bw.Write(stateDict[name].Data()); err != nil {
			return fmt.Errorf("failed to write tensor %q: %w", name, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// ReadSafeTensors reads a SafeTensors file.
func ReadSafeTensors(path string) (map[string]*tensor.RawTensor, map[string]string, error) {
	//nolint:gosec // G304: path is chosen by the caller
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()
	return DecodeSafeTensors(file)
}

// DecodeSafeTensors decodes a SafeTensors stream into a state dictionary and
// its string metadata.
func DecodeSafeTensors(in io.Reader) (map[string]*tensor.RawTensor, map[string]string, error) {
	var headerSize uint64
	if err := binary.Read(in, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}
	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(in, headerJSON); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &entries); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header: %w", err)
	}

	var metadata map[string]string
	metas := make([]TensorMeta, 0, len(entries))
	for name, msg := range entries {
		if name == safeTensorsMetadataKey {
			if err := json.Unmarshal(msg, &metadata); err != nil {
				return nil, nil, fmt.Errorf("failed to parse metadata: %w", err)
			}
			continue
		}
		var h SafeTensorHeader
		if err := json.Unmarshal(msg, &h); err != nil {
			return nil, nil, fmt.Errorf("failed to parse tensor %q: %w", name, err)
		}
		dtype, err := dtypeFromSafeTensors(h.DType)
		if err != nil {
			return nil, nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		shape := make([]int, len(h.Shape))
		for i, d := range h.Shape {
			shape[i] = int(d)
		}
		metas = append(metas, TensorMeta{
			Name:   name,
			DType:  dtypeToString(dtype),
			Shape:  shape,
			Offset: h.DataOffsets[0],
			Size:   h.DataOffsets[1] - h.DataOffsets[0],
		})
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	header := Header{Tensors: metas}
	if err := ValidateHeader(&header, int64(len(data)), ValidationStrict); err != nil {
		return nil, nil, fmt.Errorf("validation failed: %w", err)
	}

	r := &BornReader{header: header, data: data, index: make(map[string]TensorMeta, len(metas))}
	for _, m := range metas {
		r.index[m.Name] = m
	}
	stateDict, err := r.ReadStateDict()
	if err != nil {
		return nil, nil, err
	}
	return stateDict, metadata, nil
}

func dtypeToSafeTensors(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return "F32", nil
	case tensor.Float64:
		return "F64", nil
	case tensor.Int32:
		return "I32", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
}

func dtypeFromSafeTensors(s string) (tensor.DataType, error) {
	switch s {
	case "F32":
		return tensor.Float32, nil
	case "F64":
		return tensor.Float64, nil
	case "I32":
		return tensor.Int32, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedDType, s)
	}
}
