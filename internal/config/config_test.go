package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"example.com/gsfgate/internal/gsf"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gsfctl.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
decode:
  snippet: MEAN5DB
  memoryMap: true
condition:
  exclude: [attitude, "6"]
  auditLog: logs/audit.jsonl
clip:
  polarAngleLeft: -60
  polarAngleRight: 60
logs:
  directory: logs
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts := cfg.ReaderOptions()
	if opts.Snippet != gsf.SnippetMean5dB || !opts.MemoryMap || !opts.PreloadScaleFactors {
		t.Fatalf("ReaderOptions = %+v", opts)
	}
	if cfg.Decode.Workers != runtime.NumCPU() {
		t.Fatalf("Workers = %d", cfg.Decode.Workers)
	}
	dir := filepath.Dir(path)
	if cfg.Condition.AuditLog != filepath.Join(dir, "logs", "audit.jsonl") {
		t.Fatalf("AuditLog = %s", cfg.Condition.AuditLog)
	}
	if cfg.Logs.Directory != filepath.Join(dir, "logs") || cfg.Logs.MaxSizeMB != 25 {
		t.Fatalf("Logs = %+v", cfg.Logs)
	}
	if cfg.Server.Port != 8080 || cfg.Server.StorageDir != filepath.Join(dir, "data") {
		t.Fatalf("Server = %+v", cfg.Server)
	}
	if cfg.Condition.OutputDir != "conditioned" || cfg.Correction.VTXOffset != gsf.DefaultVTXOffset {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	types, err := cfg.ExcludeTypes()
	if err != nil || len(types) != 2 || types[0] != gsf.RecordAttitude || types[1] != gsf.RecordComment {
		t.Fatalf("ExcludeTypes = %v, %v", types, err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown snippet", body: "decode:\n  snippet: median\n"},
		{name: "unknown field", body: "decode:\n  snipet: mean\n"},
		{name: "empty polar window", body: "clip:\n  polarAngleLeft: 10\n  polarAngleRight: -10\n"},
		{name: "inverted tvg", body: "correction:\n  tvgMin: 80\n  tvgMax: 4\n"},
		{name: "bad port", body: "server:\n  port: 70000\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Condition.Exclude = []string{"ATTITUDE"}
	cfg.Arc.Frequency = 400000
	data, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	loaded, err := Load(writeConfig(t, string(data)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Arc.Frequency != 400000 || len(loaded.Condition.Exclude) != 1 || loaded.Decode.Snippet != "mean" {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestClipper(t *testing.T) {
	if Default().Clipper() != nil {
		t.Fatalf("default configuration clips")
	}
	cfg := Default()
	cfg.Clip = ClipConfig{PolarAngleLeft: -30, PolarAngleRight: 30, MinIntensity: 15}
	p := &gsf.Ping{
		NumBeams:      3,
		BeamAngle:     []float64{-40, 0, 20},
		TravelTime:    []float64{0.1, 0.1, 0.1},
		Intensity:     []float64{50, 50, 10},
		QualityFactor: []float64{0, 0, 0},
	}
	cfg.Clipper()(p)
	if !p.Rejected(0) || p.Rejected(1) || p.Rejections(2) != gsf.RejectIntensity {
		t.Fatalf("rejections = %v %v %v", p.Rejections(0), p.Rejections(1), p.Rejections(2))
	}
}

func TestSonarParams(t *testing.T) {
	cfg := Default()
	cfg.Correction = CorrectionConfig{VTXOffset: -0.5, TVGMin: 1, TVGMax: 90}
	p := cfg.SonarParams(&gsf.R2SonicImagery{SoundSpeed: 1500})
	if p.VTXOffset != -0.5 || p.TVG.Min != 1 || p.TVG.Max != 90 || p.SoundSpeed != 1500 {
		t.Fatalf("SonarParams = %+v", p)
	}
}
