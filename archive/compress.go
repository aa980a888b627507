package archive

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compressor turns raw pulled bytes into their archived representation and
// declares the metadata a reader needs to decompress them.
//
// Implementations must be safe for concurrent use.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	ContentEncoding() string
	FileExtension() string
}

// Zstd compresses payloads with zstd at the default level. One encoder is
// shared by all pulls; EncodeAll is safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
}

func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Zstd{enc: enc}, nil
}

func (z *Zstd) Compress(data []byte) ([]byte, error) {
	return z.enc.EncodeAll(data, nil), nil
}

func (z *Zstd) ContentEncoding() string { return "application/zstd" }

func (z *Zstd) FileExtension() string { return ".zst" }
