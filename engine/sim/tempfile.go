package sim

import (
	"errors"
	"io"
	"os"
	"sync"
)

// defaultTempMemSize is the in-memory size of a temporary file stream when
// none is given.
const defaultTempMemSize = 1024 * 1024

// tempBuffer keeps data in memory up to a limit and spills the rest to a
// temporary file.
type tempBuffer struct {
	mu    sync.Mutex
	limit int64
	mem   []byte
	file  *os.File
	size  int64
}

func newTempBuffer(limit int64) *tempBuffer {
	if limit <= 0 {
		limit = defaultTempMemSize
	}
	return &tempBuffer{limit: limit}
}

func (t *tempBuffer) writeAt(p []byte, off int64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	end := off + int64(len(p))
	if t.file == nil && end > t.limit {
		if err := t.spill(); err != nil {
			return 0, err
		}
	}
	if t.file != nil {
		n, err := t.file.WriteAt(p, off)
		t.size = max(t.size, off+int64(n))
		return n, err
	}
	if end > int64(len(t.mem)) {
		t.mem = append(t.mem, make([]byte, end-int64(len(t.mem)))...)
	}
	copy(t.mem[off:], p)
	t.size = max(t.size, end)
	return len(p), nil
}

func (t *tempBuffer) readAt(p []byte, off int64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if off >= t.size {
		return 0, io.EOF
	}
	if t.file != nil {
		n, err := t.file.ReadAt(p[:min(int64(len(p)), t.size-off)], off)
		if errors.Is(err, io.EOF) && n > 0 {
			err = nil
		}
		return n, err
	}
	return copy(p, t.mem[off:t.size]), nil
}

func (t *tempBuffer) spill() error {
	f, err := os.CreateTemp("", "omnicas-stream-*")
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(t.mem[:t.size], 0); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return err
	}
	t.file = f
	t.mem = nil
	return nil
}

func (t *tempBuffer) length() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Close removes the spill file, if any.
func (t *tempBuffer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mem = nil
	if t.file == nil {
		return nil
	}
	name := t.file.Name()
	err := t.file.Close()
	if rerr := os.Remove(name); err == nil {
		err = rerr
	}
	t.file = nil
	return err
}

func (t *tempBuffer) reader() *tempView { return &tempView{t: t} }

func (t *tempBuffer) writer() *tempView { return &tempView{t: t} }

// tempView is a positioned reader or writer over a tempBuffer.
type tempView struct {
	t   *tempBuffer
	pos int64
}

func (v *tempView) Read(p []byte) (int, error) {
	n, err := v.t.readAt(p, v.pos)
	v.pos += int64(n)
	return n, err
}

func (v *tempView) Write(p []byte) (int, error) {
	n, err := v.t.writeAt(p, v.pos)
	v.pos += int64(n)
	return n, err
}

func (v *tempView) Seek(offset int64, whence int) (int64, error) {
	return seekTo(&v.pos, v.t.length(), offset, whence)
}
