package gsf

import (
	"errors"
	"io"
	"os"
	"sync"
)

const (
	minBlockSize = 4 << 20
)

// dataSource is the random-access view of a GSF file shared by the stream
// and every record it hands out.
type dataSource interface {
	io.ReaderAt
	Size() int64
	Close() error
}

// blockSource serves reads from a window of the file so that the many small
// header and sub-record reads of a sequential scan hit memory. It is safe for
// concurrent use.
type blockSource struct {
	mu        sync.Mutex
	file      *os.File
	size      int64
	blockSize int
	buf       []byte
	bufStart  int64
	bufLen    int
}

func newBlockSource(f *os.File, size int64, blockSize int) *blockSource {
	if blockSize < minBlockSize {
		blockSize = minBlockSize
	}
	return &blockSource{file: f, size: size, blockSize: blockSize}
}

func (bs *blockSource) Size() int64 {
	return bs.size
}

func (bs *blockSource) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.file == nil {
		return nil
	}
	err := bs.file.Close()
	bs.file = nil
	bs.buf = nil
	bs.bufLen = 0
	return err
}

func (bs *blockSource) contains(offset int64, length int) bool {
	return offset >= bs.bufStart && offset+int64(length) <= bs.bufStart+int64(bs.bufLen)
}

func (bs *blockSource) fill(offset int64) error {
	if bs.buf == nil {
		bs.buf = make([]byte, bs.blockSize)
	}
	toRead := int64(bs.blockSize)
	if remain := bs.size - offset; remain < toRead {
		toRead = remain
	}
	if toRead <= 0 {
		bs.bufLen = 0
		return io.EOF
	}
	n, err := bs.file.ReadAt(bs.buf[:toRead], offset)
	if err != nil && !errors.Is(err, io.EOF) {
		bs.bufLen = 0
		return err
	}
	bs.bufStart = offset
	bs.bufLen = n
	return nil
}

// ReadAt satisfies io.ReaderAt. Reads larger than the window bypass it.
func (bs *blockSource) ReadAt(p []byte, offset int64) (int, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.file == nil {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if offset < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if offset >= bs.size {
		return 0, io.EOF
	}
	if len(p) > bs.blockSize {
		return bs.file.ReadAt(p, offset)
	}
	if !bs.contains(offset, len(p)) {
		if err := bs.fill(offset); err != nil {
			return 0, err
		}
	}
	start := int(offset - bs.bufStart)
	n := copy(p, bs.buf[start:bs.bufLen])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// memorySource wraps an in-memory or caller-owned io.ReaderAt.
type memorySource struct {
	r    io.ReaderAt
	size int64
}

func (ms memorySource) ReadAt(p []byte, offset int64) (int, error) {
	return ms.r.ReadAt(p, offset)
}

func (ms memorySource) Size() int64 {
	return ms.size
}

func (ms memorySource) Close() error {
	if c, ok := ms.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func openSource(path string, memoryMap bool) (dataSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if memoryMap && info.Size() > 0 {
		src, err := newMmapSource(f, info.Size())
		if err == nil {
			return src, nil
		}
		if !errors.Is(err, errMmapUnsupported) {
			f.Close()
			return nil, err
		}
	}
	return newBlockSource(f, info.Size(), minBlockSize), nil
}
