// Package arc accumulates the backscatter angular response curve of a survey:
// the mean intensity seen at each whole-degree take-off angle across the
// swath, and the per-angle correction that flattens it.
package arc

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"go-hep.org/x/hep/hbook"
	"gonum.org/v1/gonum/stat"

	"example.com/gsfgate/internal/common"
	"example.com/gsfgate/internal/gsf"
)

const (
	MinAngle = -90
	MaxAngle = 89

	numBuckets = MaxAngle - MinAngle + 1
)

var csvHeader = []string{
	"TakeOffAngle(Deg)",
	"BackscatterAmplitude(dB)",
	"Sector",
	"SampleSum",
	"SampleCount",
	"Correction",
}

// Curve holds one angular response curve. Buckets are one degree wide and
// centred on whole degrees from MinAngle to MaxAngle.
type Curve struct {
	// Frequency selects the pings accumulated from files, in hertz. Zero
	// accepts every frequency.
	Frequency float64

	hist    *hbook.H1D
	sectors [numBuckets]int
}

// Bucket is one populated degree of the curve.
type Bucket struct {
	Angle float64
	// Amplitude is the mean intensity of the bucket.
	Amplitude float64
	// Sector is the transmit sector of the last beam added.
	Sector     int
	Sum        float64
	Count      int64
	Correction float64
}

// New returns an empty curve for pings at frequency hertz.
func New(frequency float64) *Curve {
	return &Curve{
		Frequency: frequency,
		hist:      hbook.NewH1D(numBuckets, MinAngle-0.5, MaxAngle+0.5),
	}
}

func bucketIndex(angle float64) (int, bool) {
	if math.IsNaN(angle) {
		return 0, false
	}
	deg := math.Round(angle)
	if deg < MinAngle || deg > MaxAngle {
		return 0, false
	}
	return int(deg) - MinAngle, true
}

// Add accumulates a single beam.
func (c *Curve) Add(angle, intensity float64, sector int) bool {
	i, ok := bucketIndex(angle)
	if !ok {
		return false
	}
	c.hist.Fill(float64(i+MinAngle), intensity)
	c.sectors[i] = sector
	return true
}

// merge folds count beams whose intensities sum to sum into the bucket
// containing angle. Each beam is taken at the mean intensity.
func (c *Curve) merge(angle, sum float64, count int64, sector int) bool {
	i, ok := bucketIndex(angle)
	if !ok {
		return false
	}
	x := float64(i + MinAngle)
	mean := sum / float64(count)
	d := &c.bin(i).Dist
	d.Dist.N += count
	d.Dist.SumW += sum
	d.Dist.SumW2 += sum * mean
	d.Stats.SumWX += sum * x
	d.Stats.SumWX2 += sum * x * x
	c.sectors[i] = sector
	return true
}

// Accumulate adds every usable beam of p and returns how many were added.
// Beams rejected by a clip, beams without intensity and beams outside the
// angular range are left out.
func (c *Curve) Accumulate(p *gsf.Ping) int {
	n := int(p.NumBeams)
	if n == 0 || len(p.BeamAngle) != n || len(p.Intensity) != n {
		return 0
	}
	added := 0
	for i := 0; i < n; i++ {
		if p.Rejected(i) || p.Intensity[i] == 0 {
			continue
		}
		sector := 0
		if len(p.SectorNumber) == n {
			sector = int(p.SectorNumber[i])
		}
		if c.Add(p.BeamAngle[i], p.Intensity[i], sector) {
			added++
		}
	}
	return added
}

// FileStats describes one AccumulateFile run.
type FileStats struct {
	Pings        int
	Skipped      int
	DecodeErrors int
	Beams        int
}

// AccumulateFile adds the pings of the GSF file at path whose frequency
// matches the curve. prepare, when set, runs on each decoded ping before it
// is accumulated. Pings that fail to decode are logged and counted.
func (c *Curve) AccumulateFile(path string, opts gsf.ReaderOptions, prepare func(*gsf.Ping)) (FileStats, error) {
	var st FileStats
	opts.PreloadScaleFactors = true
	r, err := gsf.Open(path, opts)
	if err != nil {
		return st, err
	}
	defer r.Close()
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			common.Logf("arc: %s: %v", path, err)
			return st, nil
		}
		ping, ok := rec.(*gsf.PingRecord)
		if !ok {
			continue
		}
		p, err := ping.Decode()
		if err != nil {
			common.Logf("arc: %s: %v", path, err)
			st.DecodeErrors++
			continue
		}
		if c.Frequency != 0 && p.Frequency() != c.Frequency {
			st.Skipped++
			continue
		}
		if prepare != nil {
			prepare(p)
		}
		st.Pings++
		st.Beams += c.Accumulate(p)
	}
}

func (c *Curve) bin(i int) *hbook.Bin1D {
	return &c.hist.Binning.Bins[i]
}

// Entries is the number of beams accumulated.
func (c *Curve) Entries() int64 {
	var n int64
	for i := 0; i < numBuckets; i++ {
		n += c.bin(i).Entries()
	}
	return n
}

// Mean is the mean amplitude across the populated buckets, each bucket
// weighted equally. An empty curve has mean 0.
func (c *Curve) Mean() float64 {
	var amps []float64
	for i := 0; i < numBuckets; i++ {
		b := c.bin(i)
		if b.Entries() > 0 {
			amps = append(amps, b.SumW()/float64(b.Entries()))
		}
	}
	if len(amps) == 0 {
		return 0
	}
	return stat.Mean(amps, nil)
}

// Buckets returns the populated buckets in angle order. Correction is the
// offset that brings each bucket to the swath mean.
func (c *Curve) Buckets() []Bucket {
	mean := c.Mean()
	var out []Bucket
	for i := 0; i < numBuckets; i++ {
		b := c.bin(i)
		if b.Entries() == 0 {
			continue
		}
		amp := b.SumW() / float64(b.Entries())
		out = append(out, Bucket{
			Angle:      float64(i + MinAngle),
			Amplitude:  amp,
			Sector:     c.sectors[i],
			Sum:        b.SumW(),
			Count:      b.Entries(),
			Correction: mean - amp,
		})
	}
	return out
}

// Correction returns the correction for the bucket containing angle. ok is
// false when the bucket holds no beams.
func (c *Curve) Correction(angle float64) (float64, bool) {
	i, ok := bucketIndex(angle)
	if !ok {
		return 0, false
	}
	b := c.bin(i)
	if b.Entries() == 0 {
		return 0, false
	}
	return c.Mean() - b.SumW()/float64(b.Entries()), true
}

// WriteCSV writes the populated buckets with a header row.
func (c *Curve) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, b := range c.Buckets() {
		row := []string{
			formatFloat(b.Angle),
			formatFloat(b.Amplitude),
			strconv.Itoa(b.Sector),
			formatFloat(b.Sum),
			strconv.FormatInt(b.Count, 10),
			formatFloat(b.Correction),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// ReadCSV loads a curve written by WriteCSV. Columns are matched by header
// name and surrounding spaces are ignored.
func ReadCSV(r io.Reader, frequency float64) (*Curve, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range []string{"TakeOffAngle(Deg)", "Sector", "SampleSum", "SampleCount"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	c := New(frequency)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return c, nil
		}
		if err != nil {
			return nil, err
		}
		field := func(name string) string {
			return strings.TrimSpace(row[cols[name]])
		}
		angle, err := strconv.ParseFloat(field("TakeOffAngle(Deg)"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: angle: %w", line, err)
		}
		sector, err := strconv.Atoi(field("Sector"))
		if err != nil {
			return nil, fmt.Errorf("line %d: sector: %w", line, err)
		}
		sum, err := strconv.ParseFloat(field("SampleSum"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: sample sum: %w", line, err)
		}
		count, err := strconv.ParseInt(field("SampleCount"), 10, 64)
		if err != nil || count <= 0 {
			return nil, fmt.Errorf("line %d: invalid sample count %q", line, field("SampleCount"))
		}
		if !c.merge(angle, sum, count, sector) {
			return nil, fmt.Errorf("line %d: angle %v outside %d..%d", line, angle, MinAngle, MaxAngle)
		}
	}
}
