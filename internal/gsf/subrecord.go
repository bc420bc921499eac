package gsf

import (
	"fmt"
)

// ArrayKind identifies a ping sub-record.
type ArrayKind int

const (
	KindUnknown ArrayKind = iota
	KindDepth
	KindAcrossTrack
	KindAlongTrack
	KindTravelTime
	KindBeamAngle
	KindMeanCalAmplitude
	KindMeanRelAmplitude
	KindQualityFactor
	KindBeamFlags
	KindBeamAngleForward
	KindVerticalError
	KindHorizontalError
	KindIntensity
	KindSectorNumber
	KindScaleFactors
)

type subrecordSpec struct {
	kind ArrayKind
	name string
	// signed arrays are read as two's complement at their element width.
	signed bool
	// trustedLength is false where the tag size does not describe the bytes
	// the writer actually emitted.
	trustedLength bool
}

var subrecords = map[uint8]subrecordSpec{
	1:   {kind: KindDepth, name: "DEPTH", trustedLength: true},
	2:   {kind: KindAcrossTrack, name: "ACROSS_TRACK", signed: true, trustedLength: true},
	3:   {kind: KindAlongTrack, name: "ALONG_TRACK", signed: true, trustedLength: true},
	4:   {kind: KindTravelTime, name: "TRAVEL_TIME", trustedLength: true},
	5:   {kind: KindBeamAngle, name: "BEAM_ANGLE", signed: true, trustedLength: true},
	6:   {kind: KindMeanCalAmplitude, name: "MEAN_CAL_AMPLITUDE", trustedLength: true},
	7:   {kind: KindMeanRelAmplitude, name: "MEAN_REL_AMPLITUDE", trustedLength: true},
	9:   {kind: KindQualityFactor, name: "QUALITY_FACTOR", trustedLength: true},
	16:  {kind: KindBeamFlags, name: "BEAM_FLAGS", trustedLength: true},
	18:  {kind: KindBeamAngleForward, name: "BEAM_ANGLE_FORWARD", trustedLength: true},
	19:  {kind: KindVerticalError, name: "VERTICAL_ERROR", trustedLength: true},
	20:  {kind: KindHorizontalError, name: "HORIZONTAL_ERROR", trustedLength: true},
	21:  {kind: KindIntensity, name: "INTENSITY_SERIES", trustedLength: false},
	22:  {kind: KindSectorNumber, name: "SECTOR_NUMBER", trustedLength: true},
	100: {kind: KindScaleFactors, name: "SCALE_FACTORS", trustedLength: true},
}

func lookupSubrecord(id uint8) subrecordSpec {
	if spec, ok := subrecords[id]; ok {
		return spec
	}
	return subrecordSpec{kind: KindUnknown, name: fmt.Sprintf("SUBRECORD_%d", id), trustedLength: true}
}

// SubrecordName is the name of ping sub-record id, SUBRECORD_<id> when the
// id is not decoded.
func SubrecordName(id uint8) string {
	return lookupSubrecord(id).name
}

func (k ArrayKind) String() string {
	for _, spec := range subrecords {
		if spec.kind == k {
			return spec.name
		}
	}
	return "UNKNOWN"
}

// elementWidth returns the byte width of one beam value. Only exact 1, 2 and
// 4 byte layouts are recognised; anything else is read as 4 bytes.
func elementWidth(size, numBeams int) int {
	if numBeams <= 0 || size%numBeams != 0 {
		return 4
	}
	switch w := size / numBeams; w {
	case 1, 2, 4:
		return w
	default:
		return 4
	}
}

// readBeamArray reads numBeams raw values of the given width and applies sf.
func readBeamArray(c *Cursor, numBeams, width int, signed bool, sf ScaleFactor) ([]float64, error) {
	out := make([]float64, numBeams)
	for i := range out {
		var raw float64
		switch width {
		case 1:
			v, err := c.U8()
			if err != nil {
				return nil, err
			}
			if signed {
				raw = float64(int8(v))
			} else {
				raw = float64(v)
			}
		case 2:
			v, err := c.U16()
			if err != nil {
				return nil, err
			}
			if signed {
				raw = float64(int16(v))
			} else {
				raw = float64(v)
			}
		default:
			v, err := c.U32()
			if err != nil {
				return nil, err
			}
			if signed {
				raw = float64(int32(v))
			} else {
				raw = float64(v)
			}
		}
		val, err := sf.Apply(raw)
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}
