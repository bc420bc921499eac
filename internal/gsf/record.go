package gsf

import (
	"fmt"
	"io"
)

const versionLength = 12

// RecordInfo locates one record in the stream.
type RecordInfo struct {
	Offset int64
	Header DatagramHeader
}

// BodyOffset is the absolute offset of the first body byte.
func (ri RecordInfo) BodyOffset() int64 {
	return ri.Offset + int64(ri.Header.HeaderLen)
}

// Size is the record length including its datagram header.
func (ri RecordInfo) Size() int64 {
	return ri.Header.TotalSize()
}

// End is the offset of the byte after the record.
func (ri RecordInfo) End() int64 {
	return ri.Offset + ri.Size()
}

// Record is a located but not yet decoded GSF record. Creating one reads
// nothing beyond its datagram header.
type Record interface {
	Info() RecordInfo
	// Bytes returns the record verbatim, datagram header included.
	Bytes() ([]byte, error)
}

type baseRecord struct {
	info RecordInfo
	src  io.ReaderAt
}

func (b *baseRecord) Info() RecordInfo {
	return b.info
}

func (b *baseRecord) Bytes() ([]byte, error) {
	c := NewCursor(b.src, b.info.End())
	if _, err := c.Seek(b.info.Offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf, err := c.ReadExact(int(b.info.Size()))
	if err != nil {
		return nil, recordError(b.info, err)
	}
	return buf, nil
}

func (b *baseRecord) body() *Cursor {
	c := NewCursor(b.src, b.info.End())
	c.pos = b.info.BodyOffset()
	return c
}

// FileHeader is the decoded content of the file identifier record.
type FileHeader struct {
	Version string
}

// HeaderRecord is record type 1.
type HeaderRecord struct {
	baseRecord
}

func (h *HeaderRecord) Decode() (FileHeader, error) {
	version, err := h.body().ReadNativeString(versionLength)
	if err != nil {
		return FileHeader{}, recordError(h.info, fmt.Errorf("version: %w", err))
	}
	return FileHeader{Version: version}, nil
}

// PingRecord is record type 2. The scale factor table it carries is the one
// the stream held when the record was read.
type PingRecord struct {
	baseRecord
	table ScaleFactorTable
	opts  DecodeOptions
}

func (p *PingRecord) ScaleFactors() ScaleFactorTable {
	return p.table
}

// Decode parses the ping with the options the stream was opened with.
func (p *PingRecord) Decode() (*Ping, error) {
	return decodePing(p.src, p.info, p.table, p.opts)
}

// DecodeHeaderOnly parses the fixed ping header and skips the beam data.
func (p *PingRecord) DecodeHeaderOnly() (*Ping, error) {
	opts := p.opts
	opts.HeaderOnly = true
	return decodePing(p.src, p.info, p.table, opts)
}

// DecodeWith parses the ping with explicit options.
func (p *PingRecord) DecodeWith(opts DecodeOptions) (*Ping, error) {
	return decodePing(p.src, p.info, p.table, opts)
}

// UnknownRecord is any record type this package does not decode.
type UnknownRecord struct {
	baseRecord
}

func newRecord(src io.ReaderAt, info RecordInfo, table ScaleFactorTable, opts DecodeOptions) Record {
	base := baseRecord{info: info, src: src}
	switch info.Header.Type {
	case RecordHeader:
		return &HeaderRecord{baseRecord: base}
	case RecordSwathBathymetry:
		return &PingRecord{baseRecord: base, table: table, opts: opts}
	default:
		return &UnknownRecord{baseRecord: base}
	}
}

// NewHeaderRecord wraps an indexed file header record.
func NewHeaderRecord(src io.ReaderAt, info RecordInfo) *HeaderRecord {
	return &HeaderRecord{baseRecord: baseRecord{info: info, src: src}}
}

// NewPingRecord wraps an indexed ping for decoding outside a stream.
func NewPingRecord(src io.ReaderAt, info RecordInfo, table ScaleFactorTable, opts DecodeOptions) *PingRecord {
	return &PingRecord{baseRecord: baseRecord{info: info, src: src}, table: table, opts: opts}
}
