package buffer

import (
	"context"
	"errors"
	"os"
	"sync"
)

// Buffer is an open decoder session over one buffer file. It owns exactly
// one file descriptor until Close.
type Buffer struct {
	Path    string
	Size    int64
	Header  *Header
	Payload *Payload

	file      *os.File
	closeOnce sync.Once
	closeErr  error
}

// Close releases the file descriptor. It is safe to call more than once.
func (b *Buffer) Close() error {
	b.closeOnce.Do(func() {
		if err := b.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			b.closeErr = ioError(b.Path, "close", err)
		}
	})
	return b.closeErr
}

// Open opens and decodes the buffer at path. The caller must Close it.
func Open(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioError(path, "open", err)
	}
	return decodeFile(f, path)
}

type openResult struct {
	buf *Buffer
	err error
}

// OpenContext is Open bounded by ctx. When ctx ends first the descriptor is
// closed, which unblocks a read stuck on a slow filesystem, and an IOError
// wrapping ctx.Err() is returned.
func OpenContext(ctx context.Context, path string) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, &IOError{Path: path, Op: "open", Err: err}
	}

	var (
		mu        sync.Mutex
		file      *os.File
		abandoned bool
	)
	done := make(chan openResult, 1)

	go func() {
		f, err := os.Open(path)
		if err != nil {
			done <- openResult{err: ioError(path, "open", err)}
			return
		}
		mu.Lock()
		if abandoned {
			mu.Unlock()
			_ = f.Close()
			done <- openResult{err: &IOError{Path: path, Op: "open", Err: context.Canceled}}
			return
		}
		file = f
		mu.Unlock()

		b, err := decodeFile(f, path)
		done <- openResult{buf: b, err: err}
	}()

	select {
	case r := <-done:
		return r.buf, r.err
	case <-ctx.Done():
		mu.Lock()
		abandoned = true
		if file != nil {
			_ = file.Close()
		}
		mu.Unlock()
		go func() {
			if r := <-done; r.buf != nil {
				_ = r.buf.Close()
			}
		}()
		return nil, &IOError{Path: path, Op: "decode", Err: ctx.Err()}
	}
}

// ReadHeader decodes only the header of the buffer at path.
func ReadHeader(ctx context.Context, path string) (*Header, error) {
	b, err := OpenContext(ctx, path)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	return b.Header, nil
}

func decodeFile(f *os.File, path string) (*Buffer, error) {
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ioError(path, "stat", err)
	}
	h, err := Decode(f, fi.Size())
	if err != nil {
		_ = f.Close()
		return nil, withPath(err, path)
	}
	return &Buffer{
		Path:    path,
		Size:    fi.Size(),
		Header:  h,
		Payload: &Payload{r: f, h: h, path: path},
		file:    f,
	}, nil
}
