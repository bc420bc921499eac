// Package gsftest builds GSF byte streams for tests and sample files.
package gsftest

import (
	"bytes"
	"encoding/binary"
	"math"
)

const (
	TypeHeader   = 1
	TypePing     = 2
	TypeComment  = 6
	TypeAttitude = 12

	checksumFlag = 0x80000000
)

// Datagram wraps body in a datagram header. With checksum set the header
// carries a checksum word of the body bytes.
func Datagram(recordType uint32, body []byte, checksum bool) []byte {
	var buf bytes.Buffer
	word := recordType & 0x003FFFFF
	if checksum {
		word |= checksumFlag
	}
	putU32(&buf, uint32(len(body)))
	putU32(&buf, word)
	if checksum {
		var sum uint32
		for _, b := range body {
			sum += uint32(b)
		}
		putU32(&buf, sum)
	}
	buf.Write(body)
	return buf.Bytes()
}

// Pad4 appends zero bytes until len(b) is a multiple of four.
func Pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// HeaderBody is the body of a file identifier record.
func HeaderBody(version string) []byte {
	b := make([]byte, 12)
	copy(b, version)
	return b
}

// Tag is a sub-record tag word.
func Tag(id uint8, size int) []byte {
	var buf bytes.Buffer
	putU32(&buf, uint32(id)<<24|uint32(size)&0x00FFFFFF)
	return buf.Bytes()
}

// ScaleFactor is one entry of a scale factor sub-record.
type ScaleFactor struct {
	ID          uint8
	Compression uint8
	Multiplier  int32
	Offset      int32
}

// ScaleFactors encodes a complete scale factor sub-record, tag included.
func ScaleFactors(sfs ...ScaleFactor) []byte {
	var body bytes.Buffer
	putU32(&body, uint32(len(sfs)))
	for _, sf := range sfs {
		putU32(&body, uint32(sf.ID)<<24|uint32(sf.Compression)<<16)
		putU32(&body, uint32(sf.Multiplier))
		putU32(&body, uint32(sf.Offset))
	}
	return append(Tag(100, body.Len()), body.Bytes()...)
}

// Array encodes a beam array sub-record of raw values at width bytes each.
func Array(id uint8, width int, raw ...int64) []byte {
	var body bytes.Buffer
	for _, v := range raw {
		switch width {
		case 1:
			body.WriteByte(byte(v))
		case 2:
			putU16(&body, uint16(v))
		default:
			putU32(&body, uint32(v))
		}
	}
	return append(Tag(id, body.Len()), body.Bytes()...)
}

// Raw encodes an arbitrary sub-record.
func Raw(id uint8, body []byte) []byte {
	return append(Tag(id, len(body)), body...)
}

// PingHeader holds the fixed ping header in engineering units.
type PingHeader struct {
	Seconds          int32
	Nanoseconds      int32
	Longitude        float64
	Latitude         float64
	NumBeams         int16
	CentreBeam       int16
	PingFlags        int16
	TideCorrector    float64
	DepthCorrector   float64
	Heading          float64
	Pitch            float64
	Roll             float64
	Heave            float64
	Course           float64
	Speed            float64
	Height           float64
	Separation       float64
	GPSTideCorrector float64
}

// Bytes encodes the 56 byte header.
func (h PingHeader) Bytes() []byte {
	var buf bytes.Buffer
	putU32(&buf, uint32(h.Seconds))
	putU32(&buf, uint32(h.Nanoseconds))
	putU32(&buf, uint32(int32(math.Round(h.Longitude*1e7))))
	putU32(&buf, uint32(int32(math.Round(h.Latitude*1e7))))
	putU16(&buf, uint16(h.NumBeams))
	putU16(&buf, uint16(h.CentreBeam))
	putU16(&buf, uint16(h.PingFlags))
	putU16(&buf, 0)
	putU16(&buf, uint16(hundredths(h.TideCorrector)))
	putU32(&buf, uint32(hundredths(h.DepthCorrector)))
	putU16(&buf, uint16(hundredths(h.Heading)))
	putU16(&buf, uint16(hundredths(h.Pitch)))
	putU16(&buf, uint16(hundredths(h.Roll)))
	putU16(&buf, uint16(hundredths(h.Heave)))
	putU16(&buf, uint16(hundredths(h.Course)))
	putU16(&buf, uint16(hundredths(h.Speed)))
	putU32(&buf, uint32(hundredths(h.Height)))
	putU32(&buf, uint32(hundredths(h.Separation)))
	putU32(&buf, uint32(hundredths(h.GPSTideCorrector)))
	putU16(&buf, 0)
	return buf.Bytes()
}

// Ping assembles a ping body from its header and sub-records.
type Ping struct {
	Header     PingHeader
	Subrecords [][]byte
}

// Add appends encoded sub-records.
func (p *Ping) Add(subs ...[]byte) *Ping {
	p.Subrecords = append(p.Subrecords, subs...)
	return p
}

// Body returns the ping body padded to four bytes.
func (p *Ping) Body() []byte {
	body := p.Header.Bytes()
	for _, s := range p.Subrecords {
		body = append(body, s...)
	}
	return Pad4(body)
}

// Record returns the ping as a complete datagram.
func (p *Ping) Record(checksum bool) []byte {
	return Datagram(TypePing, p.Body(), checksum)
}

// Sonar is the R2Sonic imagery header in engineering units.
type Sonar struct {
	Model               string
	Serial              string
	PingNumber          int32
	SoundSpeed          float64
	Frequency           float64
	SourceLevel         float64
	PulseWidth          float64
	BeamWidthVertical   float64
	BeamWidthHorizontal float64
	ReceiverGain        float64
	Spreading           float64
	Absorption          float64
}

// Beam is one beam's snippet.
type Beam struct {
	Detect  uint16
	Samples []uint16
}

// Intensity encodes a snippet sub-record, tag included, followed by the
// padding that realigns the ping to four bytes.
func Intensity(sonar Sonar, beams ...Beam) []byte {
	var body bytes.Buffer
	body.WriteByte(16)
	putU32(&body, 0)
	body.Write(make([]byte, 16))

	body.Write(fixed(sonar.Model, 12))
	body.Write(fixed(sonar.Serial, 12))
	words := [21]int32{
		2:  sonar.PingNumber,
		4:  scaled(sonar.SoundSpeed, 1e2),
		5:  scaled(sonar.Frequency, 1e3),
		6:  scaled(sonar.SourceLevel, 1e2),
		7:  scaled(sonar.PulseWidth, 1e7),
		8:  scaled(sonar.BeamWidthVertical, 1e6),
		9:  scaled(sonar.BeamWidthHorizontal, 1e6),
		16: scaled(sonar.ReceiverGain, 1e2),
		17: scaled(sonar.Spreading, 1e3),
		18: scaled(sonar.Absorption, 1e3),
	}
	for _, w := range words {
		putU32(&body, uint32(w))
	}
	putU16(&body, 0)
	putU16(&body, uint16(len(beams)))
	for i := 0; i < 6; i++ {
		putU32(&body, 0)
	}
	body.Write(make([]byte, 32))

	for _, b := range beams {
		putU16(&body, uint16(len(b.Samples)))
		putU16(&body, b.Detect)
		body.Write(make([]byte, 8))
		for _, s := range b.Samples {
			putU16(&body, s)
		}
	}
	out := append(Tag(21, body.Len()), body.Bytes()...)
	return Pad4(out)
}

func fixed(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

func scaled(v, div float64) int32 {
	return int32(math.Round(v * div))
}

func hundredths(v float64) int32 {
	return int32(math.Round(v * 100))
}

func putU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// Stream concatenates records.
func Stream(records ...[]byte) []byte {
	var out []byte
	for _, r := range records {
		out = append(out, r...)
	}
	return out
}
