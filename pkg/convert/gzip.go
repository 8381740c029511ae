package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// maxDecompressedBytes bounds how far a decompressed animation may
// expand. Well-formed stickers stay far below this.
const maxDecompressedBytes = 32 << 20

var gzipMagic = []byte{0x1f, 0x8b}

func isGzipped(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic)
}

// decompress inflates a gzipped payload, or returns data unchanged when
// it carries no gzip magic.
func decompress(data []byte) ([]byte, error) {
	if !isGzipped(data) {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("convert: open gzip stream: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, maxDecompressedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("convert: decompress: %w", err)
	}
	if len(raw) > maxDecompressedBytes {
		return nil, fmt.Errorf("convert: decompressed payload exceeds %d bytes", maxDecompressedBytes)
	}
	return raw, nil
}

// gzipStrategy is the fast path: a TGS file is a gzipped Lottie
// document, so decompressing and validating is usually all it takes.
type gzipStrategy struct{}

func (gzipStrategy) Name() string    { return "gzip" }
func (gzipStrategy) Available() bool { return true }

func (gzipStrategy) Convert(_ context.Context, data []byte) ([]byte, error) {
	raw, err := decompress(data)
	if err != nil {
		return nil, err
	}
	return ValidateLottie(raw)
}
