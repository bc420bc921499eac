package gsf

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	datagramHeaderSize = 8
	checksumSize       = 4

	checksumFlag  = 0x80000000
	reservedMask  = 0x7FC00000
	reservedShift = 22
	recordIDMask  = 0x003FFFFF
)

// RecordType is the GSF record identifier carried in the datagram header.
type RecordType uint32

const (
	RecordHeader               RecordType = 1
	RecordSwathBathymetry      RecordType = 2
	RecordSoundVelocityProfile RecordType = 3
	RecordProcessingParameters RecordType = 4
	RecordSensorParameters     RecordType = 5
	RecordComment              RecordType = 6
	RecordHistory              RecordType = 7
	RecordNavigationError      RecordType = 8
	RecordSwathBathySummary    RecordType = 9
	RecordSingleBeamSounding   RecordType = 10
	RecordHVNavigationError    RecordType = 11
	RecordAttitude             RecordType = 12
)

var recordTypeNames = map[RecordType]string{
	RecordHeader:               "HEADER",
	RecordSwathBathymetry:      "SWATH_BATHYMETRY",
	RecordSoundVelocityProfile: "SOUND_VELOCITY_PROFILE",
	RecordProcessingParameters: "PROCESSING_PARAMETERS",
	RecordSensorParameters:     "SENSOR_PARAMETERS",
	RecordComment:              "COMMENT",
	RecordHistory:              "HISTORY",
	RecordNavigationError:      "NAVIGATION_ERROR",
	RecordSwathBathySummary:    "SWATH_BATHY_SUMMARY",
	RecordSingleBeamSounding:   "SINGLE_BEAM_SOUNDING",
	RecordHVNavigationError:    "HV_NAVIGATION_ERROR",
	RecordAttitude:             "ATTITUDE",
}

func (t RecordType) String() string {
	if name, ok := recordTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RECORD_%d", uint32(t))
}

// ParseRecordType accepts a record type name such as "ATTITUDE" in any case,
// or its numeric identifier.
func ParseRecordType(s string) (RecordType, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		if n == 0 || n > recordIDMask {
			return 0, fmt.Errorf("record type %d out of range", n)
		}
		return RecordType(n), nil
	}
	upper := strings.ToUpper(s)
	for t, name := range recordTypeNames {
		if name == upper {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown record type %q", s)
}

// RecordTypes lists the known record types in identifier order.
func RecordTypes() []RecordType {
	out := make([]RecordType, 0, len(recordTypeNames))
	for t := RecordHeader; t <= RecordAttitude; t++ {
		out = append(out, t)
	}
	return out
}

// DatagramHeader is the envelope in front of every GSF record.
type DatagramHeader struct {
	DataSize    uint32
	Type        RecordType
	Reserved    uint16
	HasChecksum bool
	Checksum    uint32
	// HeaderLen is 8, or 12 when a checksum follows the type word.
	HeaderLen int
}

// TotalSize is the number of bytes the record occupies in the stream.
func (h DatagramHeader) TotalSize() int64 {
	return int64(h.HeaderLen) + int64(h.DataSize)
}

// ParseDatagramHeader decodes the fixed 8 byte prefix. The checksum, when
// flagged, is not part of buf.
func ParseDatagramHeader(buf []byte) (DatagramHeader, error) {
	var hdr DatagramHeader
	if len(buf) < datagramHeaderSize {
		return hdr, io.ErrUnexpectedEOF
	}
	hdr.DataSize = binary.BigEndian.Uint32(buf[0:4])
	word := binary.BigEndian.Uint32(buf[4:8])
	hdr.Type = RecordType(word & recordIDMask)
	hdr.Reserved = uint16((word & reservedMask) >> reservedShift)
	hdr.HasChecksum = word&checksumFlag != 0
	hdr.HeaderLen = datagramHeaderSize
	if hdr.HasChecksum {
		hdr.HeaderLen += checksumSize
	}
	return hdr, nil
}

// Sniff reads the datagram header at the cursor. ok is false, with a nil
// error, when fewer than 8 bytes remain. On success the cursor sits at the
// first body byte.
func Sniff(c *Cursor) (hdr DatagramHeader, ok bool, err error) {
	if c.Remaining() < datagramHeaderSize {
		return hdr, false, nil
	}
	buf, err := c.fixed(datagramHeaderSize)
	if err != nil {
		return hdr, false, err
	}
	hdr, err = ParseDatagramHeader(buf)
	if err != nil {
		return hdr, false, err
	}
	if hdr.HasChecksum {
		sum, err := c.U32()
		if err != nil {
			return hdr, false, err
		}
		hdr.Checksum = sum
	}
	return hdr, true, nil
}
