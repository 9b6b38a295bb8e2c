package httpapi

import (
	"bytes"
	"io"
)

func httptestBody(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}

// countingReader records how many bytes the handler pulled from the body.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
