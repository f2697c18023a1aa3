//go:build xz

package pintos

import (
	"io"

	"github.com/ulikunitz/xz"
)

type xzCompressor struct{}

func (xzCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return xz.NewWriter(w)
}

func (xzCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(xr), nil
}

func init() {
	RegisterExportCompressor("xz", xzCompressor{})
}
