// Package serialization reads and writes tensor state dictionaries.
//
// The native .born container:
//
//	[4 bytes: Magic "BORN"]
//	[4 bytes: Version (uint32 LE)]
//	[4 bytes: Flags (uint32 LE)]
//	[8 bytes: Header Size (uint64 LE)]
//	[Header: JSON metadata, including the SHA-256 checksum of the data section]
//	[Zero padding to a 64-byte boundary]
//	[Tensor data: raw little-endian bytes in sorted-name order]
//
// SafeTensors files are supported as well, so head weights can be exchanged
// with PyTorch state dicts.
//
// Example usage:
//
//	w, err := serialization.NewBornWriter("head.born")
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//	err = w.WriteStateDict(model.StateDict(), serialization.Header{ModelType: "CosineLinear"})
//
//	r, err := serialization.NewBornReader("head.born")
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	stateDict, err := r.ReadStateDict()
package serialization
