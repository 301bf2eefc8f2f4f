// Package compress provides the block compressors used for archived
// artifacts, selectable by name.
package compress

import "fmt"

// Compressor compresses and decompresses whole byte blocks.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// ByName returns the compressor registered under the given name. Supported
// names are "zstd", "lz4" and "none".
func ByName(name string) (Compressor, error) {
	switch name {
	case "zstd":
		return NewZstd(), nil
	case "lz4":
		return LZ4{}, nil
	case "none", "":
		return None{}, nil
	}
	return nil, fmt.Errorf("compress: unknown compressor %q", name)
}

// None is the identity compressor.
type None struct{}

func (None) Name() string                           { return "none" }
func (None) Compress(data []byte) ([]byte, error)   { return data, nil }
func (None) Decompress(data []byte) ([]byte, error) { return data, nil }
