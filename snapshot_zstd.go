//go:build zstd

package pintos

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

type zstdCompressor struct{}

func (zstdCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

// zstdReadCloser adapts *zstd.Decoder (whose Close takes no error) to
// io.ReadCloser.
type zstdReadCloser struct {
	*zstd.Decoder
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

func (zstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return zstdReadCloser{d}, nil
}

func init() {
	RegisterExportCompressor("zstd", zstdCompressor{})
}
