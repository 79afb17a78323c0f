package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/born-ml/continual/internal/tensor"
)

// BornWriter writes state dictionaries to a .born file.
type BornWriter struct {
	file   *os.File
	closed bool
}

// NewBornWriter creates a new .born file writer.
func NewBornWriter(path string) (*BornWriter, error) {
	//nolint:gosec // G304: path is chosen by the caller
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &BornWriter{file: file}, nil
}

// WriteStateDict writes stateDict with the given header.
//
// Tensors, offsets and the checksum are filled in from stateDict; any
// values already present in header for those fields are replaced.
func (w *BornWriter) WriteStateDict(stateDict map[string]*tensor.RawTensor, header Header) error {
	if w.closed {
		return ErrClosed
	}
	return Write(w.file, stateDict, header)
}

// Close closes the underlying file. Closing twice is a no-op.
func (w *BornWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// Write encodes stateDict in the .born format.
func Write(out io.Writer, stateDict map[string]*tensor.RawTensor, header Header) error {
	names := sortedNames(stateDict)

	header.FormatVersion = FormatVersion
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	var total int64
	header.Tensors = make([]TensorMeta, 0, len(names))
	for _, name := range names {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		raw := stateDict[name]
		size := int64(raw.ByteSize())
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  dtypeToString(raw.DType()),
			Shape:  []int(raw.Shape().Clone()),
			Offset: total,
			Size:   size,
		})
		total += size
	}

	data := make([]byte, 0, total)
	for _, name := range names {
		data = append(data, stateDict[name].Data()...)
	}
	header.Checksum = ComputeChecksum(data)

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if len(headerJSON) > MaxHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, len(headerJSON))
	}

	flags := uint32(0)
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if header.CheckpointMeta != nil && header.CheckpointMeta.IsCheckpoint {
		flags |= FlagHasOptimizer
	}

	prefix := make([]byte, prefixSize)
	copy(prefix[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(prefix[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(prefix[8:12], flags)
	binary.LittleEndian.PutUint64(prefix[12:20], uint64(len(headerJSON)))

	bw := bufio.NewWriter(out)
	if _, err := bw.Write(prefix); err != nil {
		return fmt.Errorf("failed to write prefix: %w", err)
	}
	if _, err := bw.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := bw.Write(make([]byte, padding(len(headerJSON)))); err != nil {
		return fmt.Errorf("failed to write padding: %w", err)
	}
	if _, err := bw.Write(data); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// padding returns the number of zero bytes that align the data section.
func padding(headerSize int) int {
	pos := prefixSize + headerSize
	return (HeaderAlignment - pos%HeaderAlignment) % HeaderAlignment
}

func sortedNames(stateDict map[string]*tensor.RawTensor) []string {
	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
