package cache

import (
	"context"
	"errors"

	"github.com/qass/buffercache/internal/buffer"
	"github.com/qass/buffercache/internal/schema"
)

// Handle refers to an indexed buffer file. Opening it decodes the file
// again; the record is what the index held at query time.
type Handle struct {
	Path   string
	Record *schema.Record
}

// Open decodes the file. The caller must Close the returned buffer. A file
// removed since indexing fails with a *buffer.NotFoundError.
func (h *Handle) Open(ctx context.Context) (*buffer.Buffer, error) {
	return buffer.OpenContext(ctx, h.Path)
}

// With opens the file, runs fn and closes the file on every path out,
// including a panic in fn.
func (h *Handle) With(ctx context.Context, fn func(*buffer.Buffer) error) (err error) {
	b, err := h.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, b.Close())
	}()
	return fn(b)
}
