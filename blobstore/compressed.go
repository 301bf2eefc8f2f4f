package blobstore

import (
	"context"

	"github.com/visq/visq/compress"
)

// Compressed wraps a Store so every blob is compressed on Put and
// decompressed on Get. Keys are unchanged.
type Compressed struct {
	inner Store
	comp  compress.Compressor
}

// NewCompressed wraps inner with the given compressor.
func NewCompressed(inner Store, comp compress.Compressor) *Compressed {
	return &Compressed{inner: inner, comp: comp}
}

func (c *Compressed) Put(ctx context.Context, key string, data []byte) error {
	compressed, err := c.comp.Compress(data)
	if err != nil {
		return err
	}
	return c.inner.Put(ctx, key, compressed)
}

func (c *Compressed) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return c.comp.Decompress(data)
}

func (c *Compressed) Delete(ctx context.Context, key string) error {
	return c.inner.Delete(ctx, key)
}

func (c *Compressed) Keys(ctx context.Context) ([]string, error) {
	return c.inner.Keys(ctx)
}
