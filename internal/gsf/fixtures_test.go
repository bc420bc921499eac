package gsf

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"example.com/gsfgate/internal/gsf/gsftest"
)

var testSonar = gsftest.Sonar{
	Model:               "R2Sonic 2024",
	Serial:              "100234",
	PingNumber:          7,
	SoundSpeed:          1468.59,
	Frequency:           400000,
	SourceLevel:         197,
	PulseWidth:          0.000275,
	BeamWidthVertical:   0.017453,
	BeamWidthHorizontal: 0.008727,
	ReceiverGain:        8,
	Spreading:           35,
	Absorption:          80,
}

var testHeader = gsftest.PingHeader{
	Seconds:     1700000000,
	Nanoseconds: 500000000,
	Longitude:   -70.5,
	Latitude:    42.25,
	NumBeams:    3,
	CentreBeam:  1,
	Heading:     123.45,
	Pitch:       -1.5,
	Roll:        2.25,
	Heave:       0.1,
	Speed:       4.5,
}

func testScaleFactors() []byte {
	return gsftest.ScaleFactors(
		gsftest.ScaleFactor{ID: 1, Multiplier: 100},
		gsftest.ScaleFactor{ID: 2, Multiplier: 100},
		gsftest.ScaleFactor{ID: 4, Multiplier: 10000},
		gsftest.ScaleFactor{ID: 5, Multiplier: 100},
		gsftest.ScaleFactor{ID: 9, Multiplier: 1},
		gsftest.ScaleFactor{ID: 21, Multiplier: 1},
	)
}

// testPing is a three beam ping. With scale factors the arrays decode to
// depth 10/10.5/11, across -5/0/5, travel time 0.15/0.14/0.15, angle
// -45/0/45 and mean intensity 265/100/0.
func testPing(withScaleFactors bool) *gsftest.Ping {
	p := &gsftest.Ping{Header: testHeader}
	if withScaleFactors {
		p.Add(testScaleFactors())
	}
	p.Add(
		gsftest.Array(1, 2, 1000, 1050, 1100),
		gsftest.Array(2, 2, -500, 0, 500),
		gsftest.Array(4, 4, 1500, 1400, 1500),
		gsftest.Array(5, 2, -4500, 0, 4500),
		gsftest.Array(9, 1, 0, 0, 0),
		gsftest.Intensity(testSonar,
			gsftest.Beam{Detect: 3, Samples: []uint16{0, 10, 20, 30, 0, 1000}},
			gsftest.Beam{Detect: 1, Samples: []uint16{100, 100}},
			gsftest.Beam{},
		),
	)
	return p
}

// testStream is a file header, an attitude record and three pings, the first
// carrying the scale factor table.
func testStream() []byte {
	return gsftest.Stream(
		gsftest.Datagram(gsftest.TypeHeader, gsftest.HeaderBody("GSF-v03.09"), false),
		gsftest.Datagram(gsftest.TypeAttitude, make([]byte, 16), false),
		testPing(true).Record(false),
		testPing(false).Record(true),
		testPing(false).Record(false),
	)
}

func newTestReader(data []byte, opts ReaderOptions) *Reader {
	return NewReader(bytes.NewReader(data), int64(len(data)), opts)
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "survey.gsf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func assertArray(t *testing.T, name string, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s length = %d, want %d", name, len(got), len(want))
	}
	for i := range want {
		if !almostEqual(got[i], want[i], 1e-9) {
			t.Fatalf("%s[%d] = %v, want %v", name, i, got[i], want[i])
		}
	}
}
