package gsf

import (
	"fmt"
	"sort"
)

const (
	scaleFactorSubrecordID = 100
	// each table entry is tag, multiplier, offset
	scaleFactorEntrySize = 12
	maxScaleFactors      = 255
)

// ScaleFactor converts a stored integer of one beam array into engineering
// units: value = raw/Multiplier + Offset.
type ScaleFactor struct {
	SubrecordID     uint8
	CompressionFlag uint8
	Multiplier      float64
	Offset          float64
}

// Apply scales a raw value. A zero multiplier is never divided by.
func (sf ScaleFactor) Apply(raw float64) (float64, error) {
	if sf.Multiplier == 0 {
		return 0, fmt.Errorf("sub-record %d: %w", sf.SubrecordID, ErrMalformedScaleFactor)
	}
	return raw/sf.Multiplier + sf.Offset, nil
}

// FieldSize reports the element width the writer declared in the high nibble
// of the compression flag, or 0 when it left the width implicit.
func (sf ScaleFactor) FieldSize() int {
	switch sf.CompressionFlag >> 4 {
	case 1:
		return 1
	case 2:
		return 2
	case 4:
		return 4
	default:
		return 0
	}
}

// defaultScaleFactor stands in for a sub-record the table does not cover.
func defaultScaleFactor(id uint8) ScaleFactor {
	return ScaleFactor{SubrecordID: id, Multiplier: 1}
}

// ScaleFactorTable maps beam-array sub-record ids to their scale factors.
// A table handed to a record is shared and must be treated as read-only.
type ScaleFactorTable map[uint8]ScaleFactor

func (t ScaleFactorTable) Lookup(id uint8) (ScaleFactor, bool) {
	sf, ok := t[id]
	return sf, ok
}

func (t ScaleFactorTable) Len() int {
	return len(t)
}

func (t ScaleFactorTable) Clone() ScaleFactorTable {
	if t == nil {
		return nil
	}
	out := make(ScaleFactorTable, len(t))
	for id, sf := range t {
		out[id] = sf
	}
	return out
}

// Merge returns a new table holding t overlaid with the entries of other.
func (t ScaleFactorTable) Merge(other ScaleFactorTable) ScaleFactorTable {
	out := make(ScaleFactorTable, len(t)+len(other))
	for id, sf := range t {
		out[id] = sf
	}
	for id, sf := range other {
		out[id] = sf
	}
	return out
}

// IDs returns the covered sub-record ids in ascending order.
func (t ScaleFactorTable) IDs() []uint8 {
	ids := make([]uint8, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func decodeScaleFactors(c *Cursor, size int64) (ScaleFactorTable, error) {
	count, err := c.I32()
	if err != nil {
		return nil, err
	}
	if count < 0 || count > maxScaleFactors {
		return nil, fmt.Errorf("scale factor count %d: %w", count, ErrMalformedRecord)
	}
	if need := 4 + int64(count)*scaleFactorEntrySize; need > size {
		return nil, fmt.Errorf("scale factor table needs %d bytes, sub-record has %d: %w", need, size, ErrMalformedRecord)
	}
	table := make(ScaleFactorTable, count)
	for i := int32(0); i < count; i++ {
		tag, err := c.U32()
		if err != nil {
			return nil, err
		}
		mult, err := c.I32()
		if err != nil {
			return nil, err
		}
		off, err := c.I32()
		if err != nil {
			return nil, err
		}
		id := uint8(tag >> 24)
		table[id] = ScaleFactor{
			SubrecordID:     id,
			CompressionFlag: uint8(tag >> 16),
			Multiplier:      float64(mult),
			Offset:          float64(off),
		}
	}
	return table, nil
}
