package leaf

import (
	"bytes"
	"io"
)

func bodyFromBytes(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}
