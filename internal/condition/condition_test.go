package condition

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"example.com/gsfgate/internal/common"
	"example.com/gsfgate/internal/gsf"
	"example.com/gsfgate/internal/gsf/gsftest"
)

func samplePing() []byte {
	p := &gsftest.Ping{Header: gsftest.PingHeader{Seconds: 1700000000, NumBeams: 2}}
	p.Add(
		gsftest.ScaleFactors(gsftest.ScaleFactor{ID: 1, Multiplier: 100}),
		gsftest.Array(1, 2, 1000, 1100),
	)
	return p.Record(false)
}

func writeInput(t *testing.T, records ...[]byte) (string, []byte) {
	t.Helper()
	data := gsftest.Stream(records...)
	path := filepath.Join(t.TempDir(), "line_0001.gsf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path, data
}

func TestConditionDropsExcludedTypes(t *testing.T) {
	header := gsftest.Datagram(gsftest.TypeHeader, gsftest.HeaderBody("GSF-v03.09"), false)
	attitude := gsftest.Datagram(gsftest.TypeAttitude, make([]byte, 16), false)
	comment := gsftest.Datagram(gsftest.TypeComment, gsftest.Pad4([]byte("line start")), true)
	ping := samplePing()
	in, _ := writeInput(t, header, attitude, ping, comment, attitude, ping)

	out := filepath.Join(filepath.Dir(in), "out", "subset.gsf")
	audit := filepath.Join(filepath.Dir(in), "audit.jsonl")
	st, err := Condition(in, out, Options{
		Exclude:  []gsf.RecordType{gsf.RecordAttitude, gsf.RecordComment},
		AuditLog: audit,
	})
	if err != nil {
		t.Fatalf("Condition: %v", err)
	}
	if st.Records != 6 || st.Written != 3 || st.DroppedTotal() != 3 || st.Dropped[gsf.RecordAttitude] != 2 {
		t.Fatalf("stats = %+v", st)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := gsftest.Stream(header, ping, ping)
	if !bytes.Equal(got, want) || st.BytesWritten != int64(len(want)) {
		t.Fatalf("output differs: %d bytes, want %d", len(got), len(want))
	}

	entries, err := common.ReadAuditLog(audit)
	if err != nil {
		t.Fatalf("ReadAuditLog: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("audit has %d entries, want 3", len(entries))
	}
	first := entries[0]
	if first.Action != "drop" || first.RecordType != "ATTITUDE" || first.Offset != int64(len(header)) || first.Size != int64(len(attitude)) {
		t.Fatalf("audit entry = %+v", first)
	}
	hdr, err := first.HeaderBytes()
	if err != nil || !bytes.Equal(hdr, attitude[:8]) {
		t.Fatalf("HeaderBytes = %x, %v", hdr, err)
	}
	if entries[1].RecordType != "COMMENT" || len(entries[1].HeaderHex) != 24 {
		t.Fatalf("checksummed entry = %+v", entries[1])
	}
}

func TestConditionWithoutExclusionsCopiesVerbatim(t *testing.T) {
	in, data := writeInput(t,
		gsftest.Datagram(gsftest.TypeHeader, gsftest.HeaderBody("GSF-v03.09"), false),
		samplePing(),
	)
	out := filepath.Join(t.TempDir(), "copy.gsf")
	if _, err := Condition(in, out, Options{Reader: gsf.ReaderOptions{MemoryMap: true}}); err != nil {
		t.Fatalf("Condition: %v", err)
	}
	got, _ := os.ReadFile(out)
	if !bytes.Equal(got, data) {
		t.Fatalf("copy differs from input")
	}
}

func TestConditionStopsAtTruncatedRecord(t *testing.T) {
	header := gsftest.Datagram(gsftest.TypeHeader, gsftest.HeaderBody("GSF-v03.09"), false)
	ping := samplePing()
	tests := []struct {
		name string
		last []byte
	}{
		{name: "body overrun", last: ping[:len(ping)-6]},
		{name: "checksum word cut", last: gsftest.Datagram(gsftest.TypePing, nil, true)[:10]},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in, _ := writeInput(t, header, tc.last)
			out := filepath.Join(t.TempDir(), "subset.gsf")

			m := common.NewMetrics()
			st, err := Condition(in, out, Options{Metrics: m})
			if err != nil {
				t.Fatalf("Condition: %v", err)
			}
			if !st.Truncated || st.Written != 1 {
				t.Fatalf("stats = %+v", st)
			}
			if snap := m.Snapshot(); snap.Records != 1 {
				t.Fatalf("metrics records = %d, want 1", snap.Records)
			}
			got, _ := os.ReadFile(out)
			if !bytes.Equal(got, header) {
				t.Fatalf("output = %d bytes, want the header record only", len(got))
			}
		})
	}
}

func TestConditionRefusesInPlace(t *testing.T) {
	in, _ := writeInput(t, samplePing())
	if _, err := Condition(in, in, Options{}); err == nil {
		t.Fatalf("expected error writing over the input")
	}
}

func TestOutputPathIncrements(t *testing.T) {
	in, _ := writeInput(t, samplePing())
	dir := filepath.Dir(in)
	want := []string{
		filepath.Join(dir, "conditioned", "line_0001_subset.gsf"),
		filepath.Join(dir, "conditioned", "line_0001_subset_1.gsf"),
		filepath.Join(dir, "conditioned", "line_0001_subset_2.gsf"),
	}
	for i, w := range want {
		got, err := OutputPath(in, "conditioned")
		if err != nil {
			t.Fatalf("OutputPath: %v", err)
		}
		if got != w {
			t.Fatalf("OutputPath #%d = %s, want %s", i, got, w)
		}
		if err := os.WriteFile(got, nil, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	got, err := OutputPath(in, "")
	if err != nil || got != filepath.Join(dir, "line_0001_subset.gsf") {
		t.Fatalf("OutputPath next to input = %s, %v", got, err)
	}
}

func TestParseExclude(t *testing.T) {
	got, err := ParseExclude([]string{"attitude,6", " ", "12"})
	if err != nil {
		t.Fatalf("ParseExclude: %v", err)
	}
	want := []gsf.RecordType{gsf.RecordAttitude, gsf.RecordComment, gsf.RecordAttitude}
	if len(got) != len(want) {
		t.Fatalf("ParseExclude = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ParseExclude = %v, want %v", got, want)
		}
	}
	if _, err := ParseExclude([]string{"bogus"}); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}
