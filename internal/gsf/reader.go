package gsf

import (
	"errors"
	"fmt"
	"io"
	"time"

	"example.com/gsfgate/internal/common"
)

// ReaderOptions configure a stream.
type ReaderOptions struct {
	Snippet SnippetType
	// MemoryMap maps the file instead of reading it through a block cache.
	MemoryMap bool
	// PreloadScaleFactors loads the first ping's table when the file opens.
	PreloadScaleFactors bool
}

// NavPoint is one ping position.
type NavPoint struct {
	Time      time.Time
	Longitude float64
	Latitude  float64
}

// Reader iterates the records of a GSF stream. It holds the stream position
// and the scale factor table injected into every ping it returns.
type Reader struct {
	source dataSource
	cur    *Cursor
	size   int64
	opts   ReaderOptions
	table  ScaleFactorTable

	metrics *common.Metrics
	// scanning suppresses metrics during whole-file helper scans.
	scanning bool
}

// Open opens the GSF file at path.
func Open(path string, opts ReaderOptions) (*Reader, error) {
	src, err := openSource(path, opts.MemoryMap)
	if err != nil {
		return nil, err
	}
	r := newReader(src, opts)
	if opts.PreloadScaleFactors {
		if _, err := r.LoadScaleFactors(); err != nil {
			r.Close()
			return nil, fmt.Errorf("load scale factors from %s: %w", path, err)
		}
	}
	return r, nil
}

// NewReader reads a GSF stream of size bytes from ra. Closing the reader
// closes ra when it implements io.Closer.
func NewReader(ra io.ReaderAt, size int64, opts ReaderOptions) *Reader {
	return newReader(memorySource{r: ra, size: size}, opts)
}

func newReader(src dataSource, opts ReaderOptions) *Reader {
	return &Reader{
		source: src,
		cur:    NewCursor(src, src.Size()),
		size:   src.Size(),
		opts:   opts,
	}
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.source == nil {
		return nil
	}
	err := r.source.Close()
	r.source = nil
	return err
}

// SetMetrics attaches a metrics recorder to the reader.
func (r *Reader) SetMetrics(m *common.Metrics) {
	r.metrics = m
	if r.metrics != nil {
		r.metrics.SetTotalBytes(r.size)
	}
}

// Size reports the stream length in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// Options reports the options the reader was opened with.
func (r *Reader) Options() ReaderOptions {
	return r.opts
}

// Source exposes the stream bytes for decoding indexed records.
func (r *Reader) Source() io.ReaderAt {
	return r.source
}

// Position is the offset of the next record.
func (r *Reader) Position() int64 {
	return r.cur.Position()
}

// Seek moves the stream to offset, which must be a record boundary.
func (r *Reader) Seek(offset int64) error {
	if offset < 0 || offset > r.size {
		return fmt.Errorf("seek to %d outside stream of %d bytes", offset, r.size)
	}
	_, err := r.cur.Seek(offset, io.SeekStart)
	return err
}

// Rewind returns to the first record.
func (r *Reader) Rewind() {
	r.cur.pos = 0
}

// HasMore reports whether a datagram header can still be read.
func (r *Reader) HasMore() bool {
	return r.source != nil && r.cur.Remaining() >= datagramHeaderSize
}

// ScaleFactors returns the table injected into pings. Callers must not
// modify it.
func (r *Reader) ScaleFactors() ScaleFactorTable {
	return r.table
}

// SetScaleFactors replaces the injected table, for instance with one loaded
// from another file of the same survey.
func (r *Reader) SetScaleFactors(t ScaleFactorTable) {
	r.table = t
}

// Next returns the record at the stream position and advances past it. It
// returns io.EOF once fewer than 8 bytes remain. A datagram header whose
// length runs past the end of the stream, or whose checksum word is cut
// short, yields ErrMalformedHeader and exhausts the stream.
func (r *Reader) Next() (Record, error) {
	if r.source == nil {
		return nil, io.EOF
	}
	start := r.cur.Position()
	hdr, ok, err := Sniff(r.cur)
	if err != nil {
		r.exhaust()
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("%w: %w", ErrMalformedHeader, err)
		}
		return nil, &RecordError{Offset: start, Type: hdr.Type, Err: err}
	}
	if !ok {
		if rem := r.cur.Remaining(); rem > 0 {
			common.Logf("ignoring %d trailing bytes at offset %d", rem, start)
			r.exhaust()
		}
		return nil, io.EOF
	}
	info := RecordInfo{Offset: start, Header: hdr}
	if info.End() > r.size {
		common.Logf("%s record at offset %d declares %d bytes, stream has %d", hdr.Type, start, info.Size(), r.size-start)
		r.exhaust()
		return nil, &RecordError{Offset: start, Type: hdr.Type, Err: fmt.Errorf("record overruns stream: %w", ErrMalformedHeader)}
	}
	r.cur.pos = info.End()
	if r.metrics != nil && !r.scanning {
		r.metrics.AddRecord(hdr.Type.String(), info.Size())
		if hdr.Type == RecordSwathBathymetry {
			r.metrics.IncPing()
		}
	}
	return newRecord(r.source, info, r.table, DecodeOptions{Snippet: r.opts.Snippet}), nil
}

func (r *Reader) exhaust() {
	r.cur.pos = r.size
}

// RawBytes returns n bytes at offset without moving the stream.
func (r *Reader) RawBytes(offset int64, n int) ([]byte, error) {
	if r.source == nil {
		return nil, io.EOF
	}
	if offset < 0 || n < 0 {
		return nil, fmt.Errorf("raw bytes: invalid range %d+%d", offset, n)
	}
	c := NewCursor(r.source, r.size)
	c.pos = offset
	return c.ReadExact(n)
}

// scan visits every record from the start of the stream and restores the
// position afterwards. Visiting stops at the first error fn returns.
func (r *Reader) scan(fn func(Record) error) error {
	saved := r.cur.Position()
	r.scanning = true
	defer func() {
		r.cur.pos = saved
		r.scanning = false
	}()
	r.Rewind()
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

var errStopScan = errors.New("stop scan")

// LoadScaleFactors decodes the table carried by the first decodable ping,
// caches it for subsequent pings and restores the stream position. Pings
// that fail to decode are logged and skipped. A stream without pings, or
// one that breaks off before a ping decodes, yields an empty table.
func (r *Reader) LoadScaleFactors() (ScaleFactorTable, error) {
	table := ScaleFactorTable{}
	err := r.scan(func(rec Record) error {
		ping, ok := rec.(*PingRecord)
		if !ok {
			return nil
		}
		p, err := decodePing(ping.src, ping.info, nil, DecodeOptions{Snippet: SnippetNone})
		if err != nil {
			common.Logf("scale factors: skipping %v", err)
			if r.metrics != nil {
				r.metrics.IncDecodeError()
			}
			return nil
		}
		if p.ScaleFactors != nil {
			table = p.ScaleFactors
		}
		return errStopScan
	})
	if err != nil && !errors.Is(err, errStopScan) {
		common.Logf("scale factors: stream ended early: %v", err)
	}
	r.table = table
	return table, nil
}

// RecordCount counts the pings in the stream.
func (r *Reader) RecordCount() (int, error) {
	count := 0
	err := r.scan(func(rec Record) error {
		if rec.Info().Header.Type == RecordSwathBathymetry {
			count++
		}
		return nil
	})
	return count, err
}

// LoadNavigation reads the position of every ping, decoding ping headers
// only. Pings whose header cannot be decoded are logged and left out.
func (r *Reader) LoadNavigation() ([]NavPoint, error) {
	var nav []NavPoint
	err := r.scan(func(rec Record) error {
		ping, ok := rec.(*PingRecord)
		if !ok {
			return nil
		}
		p, err := ping.DecodeHeaderOnly()
		if err != nil {
			common.Logf("navigation: %v", err)
			if r.metrics != nil {
				r.metrics.IncDecodeError()
			}
			return nil
		}
		nav = append(nav, NavPoint{Time: p.Time(), Longitude: p.Longitude, Latitude: p.Latitude})
		return nil
	})
	return nav, err
}
