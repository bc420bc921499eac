package gsf

import (
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	pingHeaderSize   = 56
	subrecordTagSize = 4

	latLonScale = 1e7
	fieldScale  = 1e2
)

// DecodeOptions controls how much of a ping is decoded.
type DecodeOptions struct {
	Snippet SnippetType
	// HeaderOnly decodes the fixed ping header and skips every sub-record.
	HeaderOnly bool
}

type decodeState int

const (
	stateAtHeader decodeState = iota
	stateHeaderDecoded
	stateSubrecords
	stateDone
)

func (s decodeState) String() string {
	switch s {
	case stateAtHeader:
		return "ping header"
	case stateHeaderDecoded:
		return "after ping header"
	case stateSubrecords:
		return "sub-records"
	default:
		return "done"
	}
}

// Ping is one decoded swath bathymetry record. Every populated beam array
// holds exactly NumBeams values; arrays absent from the record stay nil.
type Ping struct {
	Seconds     int32
	Nanoseconds int32
	// Longitude and Latitude are decimal degrees.
	Longitude float64
	Latitude  float64

	NumBeams   int16
	CentreBeam int16
	PingFlags  int16
	Reserved   int16

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
	Spare            int16

	Depth            []float64
	AcrossTrack      []float64
	AlongTrack       []float64
	TravelTime       []float64
	BeamAngle        []float64
	MeanCalAmplitude []float64
	MeanRelAmplitude []float64
	QualityFactor    []float64
	BeamFlags        []float64
	BeamAngleForward []float64
	VerticalError    []float64
	HorizontalError  []float64
	Intensity        []float64
	SectorNumber     []float64

	Imagery *Imagery

	// ScaleFactors is the table the arrays were scaled with. It may be
	// shared with the stream and other pings and must not be modified.
	ScaleFactors ScaleFactorTable
	// MissingScaleFactors lists sub-records decoded with identity scaling
	// because the table had no entry for them.
	MissingScaleFactors []uint8

	rejects []RejectReason
}

// Time returns the ping timestamp in UTC.
func (p *Ping) Time() time.Time {
	return time.Unix(int64(p.Seconds), int64(p.Nanoseconds)).UTC()
}

// Frequency returns the sonar frequency in hertz when the ping carried a
// snippet sensor header, and 0 otherwise.
func (p *Ping) Frequency() float64 {
	if p.Imagery == nil || p.Imagery.R2Sonic == nil {
		return 0
	}
	return p.Imagery.R2Sonic.Frequency
}

// PingNumber is the sonar's ping counter from the snippet sensor header, or
// -1 when the ping has none.
func (p *Ping) PingNumber() int32 {
	if p.Imagery == nil || p.Imagery.R2Sonic == nil {
		return -1
	}
	return p.Imagery.R2Sonic.PingNumber
}

// Array returns the beam array of the given kind.
func (p *Ping) Array(kind ArrayKind) []float64 {
	switch kind {
	case KindDepth:
		return p.Depth
	case KindAcrossTrack:
		return p.AcrossTrack
	case KindAlongTrack:
		return p.AlongTrack
	case KindTravelTime:
		return p.TravelTime
	case KindBeamAngle:
		return p.BeamAngle
	case KindMeanCalAmplitude:
		return p.MeanCalAmplitude
	case KindMeanRelAmplitude:
		return p.MeanRelAmplitude
	case KindQualityFactor:
		return p.QualityFactor
	case KindBeamFlags:
		return p.BeamFlags
	case KindBeamAngleForward:
		return p.BeamAngleForward
	case KindVerticalError:
		return p.VerticalError
	case KindHorizontalError:
		return p.HorizontalError
	case KindIntensity:
		return p.Intensity
	case KindSectorNumber:
		return p.SectorNumber
	default:
		return nil
	}
}

func (p *Ping) setArray(kind ArrayKind, values []float64) {
	switch kind {
	case KindDepth:
		p.Depth = values
	case KindAcrossTrack:
		p.AcrossTrack = values
	case KindAlongTrack:
		p.AlongTrack = values
	case KindTravelTime:
		p.TravelTime = values
	case KindBeamAngle:
		p.BeamAngle = values
	case KindMeanCalAmplitude:
		p.MeanCalAmplitude = values
	case KindMeanRelAmplitude:
		p.MeanRelAmplitude = values
	case KindQualityFactor:
		p.QualityFactor = values
	case KindBeamFlags:
		p.BeamFlags = values
	case KindBeamAngleForward:
		p.BeamAngleForward = values
	case KindVerticalError:
		p.VerticalError = values
	case KindHorizontalError:
		p.HorizontalError = values
	case KindIntensity:
		p.Intensity = values
	case KindSectorNumber:
		p.SectorNumber = values
	}
}

// pingDecoder walks one ping body. Its cursor is bounded by the record end so
// no read can leave the record.
type pingDecoder struct {
	c     *Cursor
	end   int64
	opts  DecodeOptions
	table ScaleFactorTable
	state decodeState
	ping  *Ping
}

func decodePing(src io.ReaderAt, info RecordInfo, table ScaleFactorTable, opts DecodeOptions) (*Ping, error) {
	d := &pingDecoder{
		c:     NewCursor(src, info.End()),
		end:   info.End(),
		opts:  opts,
		table: table,
		ping:  &Ping{},
	}
	if _, err := d.c.Seek(info.BodyOffset(), io.SeekStart); err != nil {
		return nil, recordError(info, err)
	}
	if err := d.run(); err != nil {
		return nil, recordError(info, fmt.Errorf("%s: %w", d.state, err))
	}
	return d.ping, nil
}

func (d *pingDecoder) run() error {
	if err := d.decodeHeader(); err != nil {
		return err
	}
	d.state = stateHeaderDecoded
	if d.ping.NumBeams < 0 {
		return fmt.Errorf("negative beam count %d: %w", d.ping.NumBeams, ErrMalformedRecord)
	}
	d.state = stateSubrecords
	for d.end-d.c.Position() >= subrecordTagSize {
		done, err := d.next()
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	d.ping.ScaleFactors = d.table
	d.state = stateDone
	return nil
}

func (d *pingDecoder) decodeHeader() error {
	if d.c.Remaining() < pingHeaderSize {
		return io.ErrUnexpectedEOF
	}
	var i32 [4]int32
	for i := range i32 {
		v, err := d.c.I32()
		if err != nil {
			return err
		}
		i32[i] = v
	}
	var i16 [5]int16
	for i := range i16 {
		v, err := d.c.I16()
		if err != nil {
			return err
		}
		i16[i] = v
	}
	depthCorrector, err := d.c.I32()
	if err != nil {
		return err
	}
	heading, err := d.c.U16()
	if err != nil {
		return err
	}
	var att [3]int16
	for i := range att {
		if att[i], err = d.c.I16(); err != nil {
			return err
		}
	}
	course, err := d.c.U16()
	if err != nil {
		return err
	}
	speed, err := d.c.U16()
	if err != nil {
		return err
	}
	var tail [3]int32
	for i := range tail {
		if tail[i], err = d.c.I32(); err != nil {
			return err
		}
	}
	spare, err := d.c.I16()
	if err != nil {
		return err
	}

	p := d.ping
	p.Seconds = i32[0]
	p.Nanoseconds = i32[1]
	p.Longitude = float64(i32[2]) / latLonScale
	p.Latitude = float64(i32[3]) / latLonScale
	p.NumBeams = i16[0]
	p.CentreBeam = i16[1]
	p.PingFlags = i16[2]
	p.Reserved = i16[3]
	p.TideCorrector = float64(i16[4]) / fieldScale
	p.DepthCorrector = float64(depthCorrector) / fieldScale
	p.Heading = float64(heading) / fieldScale
	p.Pitch = float64(att[0]) / fieldScale
	p.Roll = float64(att[1]) / fieldScale
	p.Heave = float64(att[2]) / fieldScale
	p.Course = float64(course) / fieldScale
	p.Speed = float64(speed) / fieldScale
	p.Height = float64(tail[0]) / fieldScale
	p.Separation = float64(tail[1]) / fieldScale
	p.GPSTideCorrector = float64(tail[2]) / fieldScale
	p.Spare = spare
	return nil
}

// next decodes one sub-record. done reports that the rest of the body was
// skipped.
func (d *pingDecoder) next() (done bool, err error) {
	tag, err := d.c.U32()
	if err != nil {
		return false, err
	}
	id := uint8(tag >> 24)
	size := int64(tag & 0x00FFFFFF)
	start := d.c.Position()
	spec := lookupSubrecord(id)
	if spec.trustedLength && start+size > d.end {
		return false, fmt.Errorf("sub-record %s at offset %d declares %d bytes, %d left in record: %w",
			spec.name, start, size, d.end-start, ErrMalformedRecord)
	}

	if d.opts.HeaderOnly {
		if !spec.trustedLength {
			_, err := d.c.Seek(d.end, io.SeekStart)
			return true, err
		}
		_, err := d.c.Seek(start+size, io.SeekStart)
		return false, err
	}

	numBeams := int(d.ping.NumBeams)
	switch spec.kind {
	case KindScaleFactors:
		table, err := decodeScaleFactors(d.c, size)
		if err != nil {
			return false, err
		}
		// the injected table is shared; the merged result belongs to this ping
		d.table = d.table.Merge(table)
	case KindIntensity:
		sf := d.scaleFactor(id)
		img, values, err := decodeIntensity(d.c, numBeams, sf, d.opts.Snippet)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return false, fmt.Errorf("snippet series at offset %d overruns record: %w", start, ErrMalformedRecord)
			}
			return false, err
		}
		d.ping.Imagery = img
		d.ping.Intensity = values
		if pad := size % 4; pad != 0 {
			skip := 4 - pad
			if skip > d.c.Remaining() {
				skip = d.c.Remaining()
			}
			if err := d.c.Skip(skip); err != nil {
				return false, err
			}
		}
		return false, nil
	case KindUnknown:
	default:
		if err := d.decodeArray(id, spec, int(size), numBeams); err != nil {
			return false, err
		}
	}
	_, err = d.c.Seek(start+size, io.SeekStart)
	return false, err
}

func (d *pingDecoder) decodeArray(id uint8, spec subrecordSpec, size, numBeams int) error {
	sf, ok := d.table.Lookup(id)
	width := elementWidth(size, numBeams)
	signed := spec.signed
	if !ok {
		sf = d.scaleFactor(id)
		width, signed = 2, true
	}
	if numBeams*width > size {
		return fmt.Errorf("sub-record %s holds %d bytes, %d beams of %d bytes need %d: %w",
			spec.name, size, numBeams, width, numBeams*width, ErrMalformedRecord)
	}
	values, err := readBeamArray(d.c, numBeams, width, signed, sf)
	if err != nil {
		return err
	}
	d.ping.setArray(spec.kind, values)
	return nil
}

// scaleFactor returns the table entry for id, or identity scaling noted on
// the ping as missing.
func (d *pingDecoder) scaleFactor(id uint8) ScaleFactor {
	if sf, ok := d.table.Lookup(id); ok {
		return sf
	}
	d.ping.MissingScaleFactors = append(d.ping.MissingScaleFactors, id)
	return defaultScaleFactor(id)
}
