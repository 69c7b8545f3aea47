package tmdb

import "io"

// capReader reads at most n bytes from r. Reading past the cap yields err instead of io.EOF,
// so an oversized body is reported rather than silently truncated.
type capReader struct {
	r   io.Reader
	n   int64
	err error
}

func newCapReader(r io.Reader, n int64, err error) io.Reader {
	return &capReader{r: r, n: n, err: err}
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.n <= 0 {
		// Probe a single byte to tell an exact-size body from an oversized one.
		var b [1]byte
		n, err := c.r.Read(b[:])
		if n > 0 {
			return 0, c.err
		}
		if err == nil {
			return 0, nil
		}
		return 0, err
	}
	if int64(len(p)) > c.n {
		p = p[:c.n]
	}
	n, err := c.r.Read(p)
	c.n -= int64(n)
	return n, err
}
