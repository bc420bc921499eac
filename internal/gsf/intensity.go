package gsf

import (
	"fmt"
	"io"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	intensityHeaderSize = 1 + 4 + 16

	// mean5dBWindow is the half-width of the band around the mean level
	// inside which samples are kept.
	mean5dBWindow = 5.0
)

// SnippetType selects how a beam's sample series is reduced to one value.
type SnippetType int

const (
	SnippetNone SnippetType = iota
	SnippetMean
	SnippetMax
	SnippetMean5dB
	SnippetDetect
)

var snippetNames = [...]string{
	SnippetNone:    "none",
	SnippetMean:    "mean",
	SnippetMax:     "max",
	SnippetMean5dB: "mean5db",
	SnippetDetect:  "detect",
}

func (s SnippetType) String() string {
	if s >= 0 && int(s) < len(snippetNames) {
		return snippetNames[s]
	}
	return fmt.Sprintf("snippet(%d)", int(s))
}

// ParseSnippetType accepts the names printed by String, case-insensitively.
func ParseSnippetType(name string) (SnippetType, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i, n := range snippetNames {
		if n == key {
			return SnippetType(i), nil
		}
	}
	return SnippetNone, fmt.Errorf("unknown snippet type %q", name)
}

// MarshalText and UnmarshalText let configuration files name the reduction.
func (s SnippetType) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SnippetType) UnmarshalText(text []byte) error {
	v, err := ParseSnippetType(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Imagery is the decoded header of a snippet sub-record.
type Imagery struct {
	BitsPerSample      int8
	AppliedCorrections uint32
	R2Sonic            *R2SonicImagery
	// BottomDetect holds the bottom detect sample index of each beam.
	BottomDetect []uint16
}

// decodeIntensity reads a snippet sub-record and reduces each beam's samples
// with mode. The number of bytes it consumes is derived from the sample
// counts, never from the sub-record tag.
func decodeIntensity(c *Cursor, numBeams int, sf ScaleFactor, mode SnippetType) (*Imagery, []float64, error) {
	if c.Remaining() < intensityHeaderSize+r2sonicImageryHeaderSize {
		return nil, nil, io.ErrUnexpectedEOF
	}
	bits, err := c.I8()
	if err != nil {
		return nil, nil, err
	}
	corrections, err := c.U32()
	if err != nil {
		return nil, nil, err
	}
	if err := c.Skip(16); err != nil {
		return nil, nil, err
	}
	sensor, err := decodeR2SonicImagery(c)
	if err != nil {
		return nil, nil, err
	}
	img := &Imagery{
		BitsPerSample:      bits,
		AppliedCorrections: corrections,
		R2Sonic:            sensor,
		BottomDetect:       make([]uint16, numBeams),
	}
	values := make([]float64, numBeams)
	var raw []uint16
	for b := 0; b < numBeams; b++ {
		count, err := c.U16()
		if err != nil {
			return nil, nil, err
		}
		detect, err := c.U16()
		if err != nil {
			return nil, nil, err
		}
		if err := c.Skip(8); err != nil {
			return nil, nil, err
		}
		img.BottomDetect[b] = detect
		if mode == SnippetNone {
			if err := c.Skip(int64(count) * 2); err != nil {
				return nil, nil, err
			}
			continue
		}
		raw = raw[:0]
		for i := 0; i < int(count); i++ {
			s, err := c.U16()
			if err != nil {
				return nil, nil, err
			}
			raw = append(raw, s)
		}
		v, err := ReduceSnippet(raw, int(detect), sf, mode)
		if err != nil {
			return nil, nil, err
		}
		values[b] = v
	}
	return img, values, nil
}

// ReduceSnippet reduces one beam's raw samples to a single value. Zero
// samples carry no signal and are ignored, except by SnippetDetect, which
// picks the sample at the bottom detect index.
func ReduceSnippet(raw []uint16, detect int, sf ScaleFactor, mode SnippetType) (float64, error) {
	switch mode {
	case SnippetNone:
		return 0, nil
	case SnippetDetect:
		if detect <= 0 || detect >= len(raw) {
			return 0, nil
		}
		return sf.Apply(float64(raw[detect]))
	}
	samples := nonZero(raw)
	if len(samples) == 0 {
		return 0, nil
	}
	switch mode {
	case SnippetMean:
		return sf.Apply(stat.Mean(samples, nil))
	case SnippetMax:
		return sf.Apply(floats.Max(samples))
	case SnippetMean5dB:
		return mean5dB(samples, sf, scaleThenLog)
	default:
		return 0, fmt.Errorf("snippet reduction %v not supported", mode)
	}
}

func nonZero(raw []uint16) []float64 {
	out := make([]float64, 0, len(raw))
	for _, s := range raw {
		if s != 0 {
			out = append(out, float64(s))
		}
	}
	return out
}

type dbOrder int

const (
	// scaleThenLog converts 20·log10(raw/multiplier + offset).
	scaleThenLog dbOrder = iota
	// logThenScale converts 20·log10(raw) and scales the level.
	logThenScale
)

// mean5dB averages the levels of the samples that lie within ±5 dB of the
// mean level. With no survivors it returns the mean level itself.
func mean5dB(samples []float64, sf ScaleFactor, order dbOrder) (float64, error) {
	if sf.Multiplier == 0 {
		return 0, fmt.Errorf("sub-record %d: %w", sf.SubrecordID, ErrMalformedScaleFactor)
	}
	levels := make([]float64, 0, len(samples))
	for _, s := range samples {
		var db float64
		switch order {
		case logThenScale:
			db = 20*math.Log10(s)/sf.Multiplier + sf.Offset
		default:
			v := s/sf.Multiplier + sf.Offset
			if v <= 0 {
				continue
			}
			db = 20 * math.Log10(v)
		}
		levels = append(levels, db)
	}
	if len(levels) == 0 {
		return 0, nil
	}
	mean := stat.Mean(levels, nil)
	kept := make([]float64, 0, len(levels))
	for _, db := range levels {
		if math.Abs(db-mean) <= mean5dBWindow {
			kept = append(kept, db)
		}
	}
	if len(kept) == 0 {
		return mean, nil
	}
	return stat.Mean(kept, nil), nil
}
