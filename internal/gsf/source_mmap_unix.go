//go:build unix

package gsf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var errMmapClosed = errors.New("gsf: memory map closed")

// mmapSource maps the whole file read-only. Records decoded from it copy what
// they keep, so the mapping can be released once the stream is closed.
type mmapSource struct {
	data []byte
}

func newMmapSource(f *os.File, size int64) (*mmapSource, error) {
	if int64(int(size)) != size {
		return nil, fmt.Errorf("mmap %s: file too large (%d bytes)", f.Name(), size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	// the mapping outlives the descriptor
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	src := &mmapSource{data: data}
	runtime.SetFinalizer(src, (*mmapSource).Close)
	return src, nil
}

func (m *mmapSource) Size() int64 {
	return int64(len(m.data))
}

func (m *mmapSource) ReadAt(p []byte, off int64) (int, error) {
	if m.data == nil {
		return 0, errMmapClosed
	}
	if off < 0 || off > int64(len(m.data)) {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *mmapSource) Close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	runtime.SetFinalizer(m, nil)
	return unix.Munmap(data)
}
