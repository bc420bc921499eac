// Package report summarises a GSF survey line as JSON and PDF.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"example.com/gsfgate/internal/common"
	"example.com/gsfgate/internal/gsf"
)

// Summary describes one GSF file.
type Summary struct {
	File         string         `json:"file"`
	SHA256       string         `json:"sha256"`
	Size         int64          `json:"size"`
	Version      string         `json:"version,omitempty"`
	Records      map[string]int `json:"records"`
	Pings        int            `json:"pings"`
	DecodeErrors int            `json:"decodeErrors"`
	// Truncated is set when the file ends inside a record.
	Truncated           bool       `json:"truncated,omitempty"`
	MissingScaleFactors []string   `json:"missingScaleFactors,omitempty"`
	FirstPing           *time.Time `json:"firstPing,omitempty"`
	LastPing            *time.Time `json:"lastPing,omitempty"`
	Bounds              *Bounds    `json:"bounds,omitempty"`
	Frequencies         []float64  `json:"frequencies,omitempty"`
	Beams               BeamStats  `json:"beams"`
	GeneratedAt         time.Time  `json:"generatedAt"`
}

// Bounds is the bounding box of the ping positions in decimal degrees.
type Bounds struct {
	MinLongitude float64 `json:"minLongitude"`
	MaxLongitude float64 `json:"maxLongitude"`
	MinLatitude  float64 `json:"minLatitude"`
	MaxLatitude  float64 `json:"maxLatitude"`
}

// BeamStats are computed over every beam of every decoded ping.
type BeamStats struct {
	Total           int     `json:"total"`
	DepthMin        float64 `json:"depthMin"`
	DepthMax        float64 `json:"depthMax"`
	DepthMean       float64 `json:"depthMean"`
	DepthStdDev     float64 `json:"depthStdDev"`
	IntensityMean   float64 `json:"intensityMean"`
	BackscatterMean float64 `json:"backscatterMean"`
}

// Options control Summarize.
type Options struct {
	Reader  gsf.ReaderOptions
	Workers int
	// Prepare, when set, runs on every decoded ping before it is counted.
	Prepare func(*gsf.Ping)
	// Sonar derives the backscatter correction parameters from a ping's
	// sonar header. Nil uses the R2Sonic defaults.
	Sonar   func(*gsf.R2SonicImagery) gsf.SonarParams
	Metrics *common.Metrics
}

// Summarize hashes, indexes and decodes the file at path.
func Summarize(ctx context.Context, path string, opts Options) (Summary, error) {
	sum := Summary{File: filepath.Base(path), Records: map[string]int{}}
	hash, size, err := common.Sha256OfFile(path)
	if err != nil {
		return sum, err
	}
	sum.SHA256 = hash
	sum.Size = size

	opts.Reader.PreloadScaleFactors = true
	r, err := gsf.Open(path, opts.Reader)
	if err != nil {
		return sum, err
	}
	defer r.Close()
	if opts.Metrics != nil {
		r.SetMetrics(opts.Metrics)
	}

	index, err := r.BuildIndex()
	if err != nil {
		if !errors.Is(err, gsf.ErrMalformedHeader) {
			return sum, err
		}
		common.Logf("report: %s: %v", path, err)
		sum.Truncated = true
	}
	for _, info := range index {
		sum.Records[info.Header.Type.String()]++
		if info.Header.Type == gsf.RecordHeader && sum.Version == "" {
			sum.Version = fileVersion(r.Source(), info)
		}
	}

	results, err := gsf.DecodePings(ctx, r.Source(), index, r.ScaleFactors(), gsf.DecodeOptions{Snippet: opts.Reader.Snippet}, opts.Workers)
	if err != nil {
		return sum, err
	}
	acc := newAccumulator()
	for _, res := range results {
		if res.Err != nil {
			common.Logf("report: %v", res.Err)
			sum.DecodeErrors++
			if opts.Metrics != nil {
				opts.Metrics.IncDecodeError()
			}
			continue
		}
		if opts.Prepare != nil {
			opts.Prepare(res.Ping)
		}
		acc.add(res.Ping, opts.Sonar)
	}
	acc.fill(&sum)
	sum.GeneratedAt = time.Now().UTC()
	return sum, nil
}

func fileVersion(src io.ReaderAt, info gsf.RecordInfo) string {
	rec := gsf.NewHeaderRecord(src, info)
	fh, err := rec.Decode()
	if err != nil {
		common.Logf("report: %v", err)
		return ""
	}
	return fh.Version
}

type accumulator struct {
	pings       int
	first, last time.Time
	bounds      *Bounds
	freqs       map[float64]bool
	missing     map[uint8]bool
	depth       []float64
	intensity   []float64
	backscatter []float64
}

func newAccumulator() *accumulator {
	return &accumulator{freqs: map[float64]bool{}, missing: map[uint8]bool{}}
}

func (a *accumulator) add(p *gsf.Ping, sonar func(*gsf.R2SonicImagery) gsf.SonarParams) {
	a.pings++
	t := p.Time()
	if a.first.IsZero() || t.Before(a.first) {
		a.first = t
	}
	if t.After(a.last) {
		a.last = t
	}
	if a.bounds == nil {
		a.bounds = &Bounds{MinLongitude: p.Longitude, MaxLongitude: p.Longitude, MinLatitude: p.Latitude, MaxLatitude: p.Latitude}
	} else {
		a.bounds.MinLongitude = math.Min(a.bounds.MinLongitude, p.Longitude)
		a.bounds.MaxLongitude = math.Max(a.bounds.MaxLongitude, p.Longitude)
		a.bounds.MinLatitude = math.Min(a.bounds.MinLatitude, p.Latitude)
		a.bounds.MaxLatitude = math.Max(a.bounds.MaxLatitude, p.Latitude)
	}
	if f := p.Frequency(); f > 0 {
		a.freqs[f] = true
	}
	for _, id := range p.MissingScaleFactors {
		a.missing[id] = true
	}
	for i, d := range p.Depth {
		if !p.Rejected(i) {
			a.depth = append(a.depth, d)
		}
	}
	for i, v := range p.Intensity {
		if v > 0 && !p.Rejected(i) {
			a.intensity = append(a.intensity, v)
		}
	}
	for i, bs := range p.CorrectedBackscatter(sonar) {
		if bs != 0 && !p.Rejected(i) {
			a.backscatter = append(a.backscatter, bs)
		}
	}
}

func (a *accumulator) fill(s *Summary) {
	s.Pings = a.pings
	if a.pings > 0 {
		first, last := a.first, a.last
		s.FirstPing = &first
		s.LastPing = &last
	}
	s.Bounds = a.bounds
	for f := range a.freqs {
		s.Frequencies = append(s.Frequencies, f)
	}
	sort.Float64s(s.Frequencies)
	ids := make([]int, 0, len(a.missing))
	for id := range a.missing {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	for _, id := range ids {
		s.MissingScaleFactors = append(s.MissingScaleFactors, gsf.SubrecordName(uint8(id)))
	}

	s.Beams.Total = len(a.depth)
	if len(a.depth) > 0 {
		s.Beams.DepthMin = floats.Min(a.depth)
		s.Beams.DepthMax = floats.Max(a.depth)
		s.Beams.DepthMean, s.Beams.DepthStdDev = stat.MeanStdDev(a.depth, nil)
		if math.IsNaN(s.Beams.DepthStdDev) {
			s.Beams.DepthStdDev = 0
		}
	}
	if len(a.intensity) > 0 {
		s.Beams.IntensityMean = stat.Mean(a.intensity, nil)
	}
	if len(a.backscatter) > 0 {
		s.Beams.BackscatterMean = stat.Mean(a.backscatter, nil)
	}
}

func SaveJSON(s Summary, out string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadJSON(path string) (Summary, error) {
	var s Summary
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(b, &s)
	return s, err
}
