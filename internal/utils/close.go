package utils

import (
	"io"
)

// CancelOnClose releases a context when the wrapped body is closed.
type CancelOnClose struct {
	io.ReadCloser
	Cancel func()
}

// Close closes c and ignores any error.
// Use for best-effort cleanup in defer where error handling is not critical.
func Close(c io.Closer) {
	_ = c.Close()
}

func (c *CancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	if c.Cancel != nil {
		c.Cancel()
	}
	return err
}
