package arc

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/gsfgate/internal/gsf"
	"example.com/gsfgate/internal/gsf/gsftest"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9
}

func swathPing() *gsf.Ping {
	return &gsf.Ping{
		NumBeams:      4,
		BeamAngle:     []float64{-45.2, 0.4, 44.6, 120},
		Intensity:     []float64{10, 20, 30, 40},
		SectorNumber:  []float64{1, 2, 3, 3},
		TravelTime:    []float64{0.1, 0.1, 0.1, 0.1},
		QualityFactor: []float64{0, 0, 0, 0},
	}
}

func TestAccumulateBuckets(t *testing.T) {
	c := New(0)
	if got := c.Accumulate(swathPing()); got != 3 {
		t.Fatalf("Accumulate = %d, want 3", got)
	}
	second := swathPing()
	second.Intensity = []float64{30, 0, 50, 40}
	if got := c.Accumulate(second); got != 2 {
		t.Fatalf("Accumulate = %d, want 2", got)
	}

	buckets := c.Buckets()
	want := []struct {
		angle, amp float64
		count      int64
		sector     int
	}{
		{-45, 20, 2, 1},
		{0, 20, 1, 2},
		{45, 40, 2, 3},
	}
	if len(buckets) != len(want) {
		t.Fatalf("Buckets = %+v", buckets)
	}
	for i, w := range want {
		b := buckets[i]
		if b.Angle != w.angle || !almostEqual(b.Amplitude, w.amp) || b.Count != w.count || b.Sector != w.sector {
			t.Fatalf("bucket %d = %+v, want %+v", i, b, w)
		}
	}
	if c.Entries() != 5 {
		t.Fatalf("Entries = %d, want 5", c.Entries())
	}
	mean := (20.0 + 20 + 40) / 3
	if !almostEqual(c.Mean(), mean) {
		t.Fatalf("Mean = %v, want %v", c.Mean(), mean)
	}
	corr, ok := c.Correction(44.9)
	if !ok || !almostEqual(corr, mean-40) {
		t.Fatalf("Correction(44.9) = %v, %v, want %v", corr, ok, mean-40)
	}
	if _, ok := c.Correction(10); ok {
		t.Fatalf("Correction for an empty bucket reported ok")
	}
}

func TestAccumulateSkipsRejectedBeams(t *testing.T) {
	p := swathPing()
	p.ClipPolarAngle(-30, 30)
	c := New(0)
	if got := c.Accumulate(p); got != 1 {
		t.Fatalf("Accumulate = %d, want 1", got)
	}
	if b := c.Buckets(); len(b) != 1 || b[0].Angle != 0 {
		t.Fatalf("Buckets = %+v", b)
	}
}

func TestAccumulateIgnoresIncompletePing(t *testing.T) {
	p := swathPing()
	p.Intensity = nil
	if got := New(0).Accumulate(p); got != 0 {
		t.Fatalf("Accumulate = %d, want 0", got)
	}
}

func TestAngleRange(t *testing.T) {
	c := New(0)
	tests := []struct {
		angle float64
		ok    bool
	}{
		{-90, true}, {-90.4, true}, {-90.6, false}, {89.4, true}, {89.5, false}, {math.NaN(), false},
	}
	for _, tc := range tests {
		if got := c.Add(tc.angle, 1, 0); got != tc.ok {
			t.Fatalf("Add(%v) = %v, want %v", tc.angle, got, tc.ok)
		}
	}
}

func TestEmptyCurve(t *testing.T) {
	c := New(0)
	if c.Mean() != 0 || len(c.Buckets()) != 0 {
		t.Fatalf("empty curve: mean %v buckets %v", c.Mean(), c.Buckets())
	}
}

func TestCSVRoundTrip(t *testing.T) {
	c := New(400000)
	c.Accumulate(swathPing())
	c.Add(-45, 30, 1)

	var buf bytes.Buffer
	if err := c.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "TakeOffAngle(Deg),BackscatterAmplitude(dB),Sector,SampleSum,SampleCount,Correction" {
		t.Fatalf("header = %q", lines[0])
	}
	if len(lines) != 4 {
		t.Fatalf("CSV has %d lines, want 4", len(lines))
	}

	loaded, err := ReadCSV(&buf, 400000)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	got, want := loaded.Buckets(), c.Buckets()
	if len(got) != len(want) {
		t.Fatalf("loaded %d buckets, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Angle != want[i].Angle || got[i].Count != want[i].Count || got[i].Sector != want[i].Sector ||
			!almostEqual(got[i].Sum, want[i].Sum) {
			t.Fatalf("bucket %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReadCSVSpacedColumns(t *testing.T) {
	in := "TakeOffAngle(Deg), BackscatterAmplitude(dB), Sector, SampleSum, SampleCount, Correction\n" +
		"-10.000, 25.000, 2, 50, 2, 0.000\n"
	c, err := ReadCSV(strings.NewReader(in), 0)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	b := c.Buckets()
	if len(b) != 1 || b[0].Angle != -10 || b[0].Count != 2 || !almostEqual(b[0].Amplitude, 25) {
		t.Fatalf("Buckets = %+v", b)
	}
}

func TestReadCSVLargeSampleCount(t *testing.T) {
	in := "TakeOffAngle(Deg),Sector,SampleSum,SampleCount\n" +
		"30,1,3e13,1000000000000\n" +
		"31,1,40,2\n"
	c, err := ReadCSV(strings.NewReader(in), 0)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	b := c.Buckets()
	if len(b) != 2 || b[0].Count != 1000000000000 || !almostEqual(b[0].Amplitude, 30) || !almostEqual(b[1].Amplitude, 20) {
		t.Fatalf("Buckets = %+v", b)
	}
	if c.Entries() != 1000000000002 {
		t.Fatalf("Entries = %d, want 1000000000002", c.Entries())
	}
	if corr, ok := c.Correction(31); !ok || !almostEqual(corr, 5) {
		t.Fatalf("Correction(31) = %v, %v, want 5", corr, ok)
	}
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "empty", in: ""},
		{name: "missing column", in: "TakeOffAngle(Deg),Sector\n1,2\n"},
		{name: "bad count", in: "TakeOffAngle(Deg),Sector,SampleSum,SampleCount\n1,2,3,0\n"},
		{name: "angle out of range", in: "TakeOffAngle(Deg),Sector,SampleSum,SampleCount\n95,2,3,1\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(tc.in), 0); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func surveyPing(sonar gsftest.Sonar) []byte {
	p := &gsftest.Ping{Header: gsftest.PingHeader{Seconds: 1700000000, NumBeams: 2, Latitude: 10, Longitude: 20}}
	p.Add(
		gsftest.ScaleFactors(
			gsftest.ScaleFactor{ID: 4, Multiplier: 10000},
			gsftest.ScaleFactor{ID: 5, Multiplier: 100},
			gsftest.ScaleFactor{ID: 21, Multiplier: 1},
			gsftest.ScaleFactor{ID: 22, Multiplier: 1},
		),
		gsftest.Array(4, 4, 1000, 1000),
		gsftest.Array(5, 2, -3000, 3000),
		gsftest.Array(22, 1, 0, 1),
		gsftest.Intensity(sonar,
			gsftest.Beam{Samples: []uint16{10, 30}},
			gsftest.Beam{Samples: []uint16{40}},
		),
	)
	return p.Record(false)
}

func TestAccumulateFileFiltersFrequency(t *testing.T) {
	high := gsftest.Sonar{Model: "R2Sonic 2024", Frequency: 400000, SoundSpeed: 1500}
	low := high
	low.Frequency = 200000
	data := gsftest.Stream(
		gsftest.Datagram(gsftest.TypeHeader, gsftest.HeaderBody("GSF-v03.09"), false),
		surveyPing(high),
		surveyPing(low),
		surveyPing(high),
	)
	path := filepath.Join(t.TempDir(), "line.gsf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c := New(400000)
	prepared := 0
	st, err := c.AccumulateFile(path, gsf.ReaderOptions{Snippet: gsf.SnippetMean}, func(*gsf.Ping) { prepared++ })
	if err != nil {
		t.Fatalf("AccumulateFile: %v", err)
	}
	if st.Pings != 2 || st.Skipped != 1 || st.Beams != 4 || st.DecodeErrors != 0 || prepared != 2 {
		t.Fatalf("stats = %+v, prepared %d", st, prepared)
	}
	b := c.Buckets()
	if len(b) != 2 || b[0].Angle != -30 || !almostEqual(b[0].Amplitude, 20) || b[1].Sector != 1 || !almostEqual(b[1].Amplitude, 40) {
		t.Fatalf("Buckets = %+v", b)
	}

	if _, err := c.AccumulateFile(path+".missing", gsf.ReaderOptions{}, nil); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}
