// core/index/codec.go
package index

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Codec names the compression applied to the k-mer table body.
type Codec string

const (
	CodecZstd Codec = "zstd"
	CodecXZ   Codec = "xz"
	CodecNone Codec = "none"
)

// ParseCodec accepts zstd (the default for ""), xz or none.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CodecZstd, nil
	case CodecZstd, CodecXZ, CodecNone:
		return c, nil
	}
	return "", fmt.Errorf("index: unknown codec %q (want zstd, xz or none)", s)
}

func (c Codec) tableName() string {
	switch c {
	case CodecZstd:
		return tableBase + ".zst"
	case CodecXZ:
		return tableBase + ".xz"
	}
	return tableBase
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (c Codec) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecZstd:
		return zstd.NewWriter(w)
	case CodecXZ:
		return xz.NewWriter(w)
	case CodecNone:
		return nopWriteCloser{w}, nil
	}
	return nil, fmt.Errorf("index: unknown codec %q", string(c))
}

func (c Codec) newReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case CodecXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case CodecNone:
		return io.NopCloser(r), nil
	}
	return nil, fmt.Errorf("index: unknown codec %q", string(c))
}
