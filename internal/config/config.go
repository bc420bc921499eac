// Package config loads the gsfctl YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/gsfgate/internal/common"
	"example.com/gsfgate/internal/gsf"
)

type Config struct {
	Decode     DecodeConfig     `yaml:"decode"`
	Condition  ConditionConfig  `yaml:"condition"`
	Clip       ClipConfig       `yaml:"clip"`
	Arc        ArcConfig        `yaml:"arc"`
	Correction CorrectionConfig `yaml:"correction"`
	Server     ServerConfig     `yaml:"server"`
	Logs       common.LogConfig `yaml:"logs"`
}

type DecodeConfig struct {
	// Snippet is one of none, mean, max, mean5db, detect.
	Snippet             string `yaml:"snippet"`
	PreloadScaleFactors bool   `yaml:"preloadScaleFactors"`
	MemoryMap           bool   `yaml:"memoryMap"`
	Workers             int    `yaml:"workers"`
}

type ConditionConfig struct {
	// Exclude lists record type names or numbers.
	Exclude   []string `yaml:"exclude"`
	OutputDir string   `yaml:"outputDir"`
	AuditLog  string   `yaml:"auditLog"`
}

// ClipConfig holds the beam rejection limits. A zero limit is not applied.
type ClipConfig struct {
	PolarAngleLeft  float64 `yaml:"polarAngleLeft"`
	PolarAngleRight float64 `yaml:"polarAngleRight"`
	MinTravelTime   float64 `yaml:"minTravelTime"`
	MinIntensity    float64 `yaml:"minIntensity"`
}

type ArcConfig struct {
	// Frequency in hertz; 0 accumulates every ping.
	Frequency float64 `yaml:"frequency"`
	OutputDir string  `yaml:"outputDir"`
}

type CorrectionConfig struct {
	VTXOffset float64 `yaml:"vtxOffset"`
	TVGMin    float64 `yaml:"tvgMin"`
	TVGMax    float64 `yaml:"tvgMax"`
}

// ServerConfig is read by gsfd only.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	StorageDir string `yaml:"storageDir"`
	// MaxUploadMB bounds the part of a multipart upload held in memory.
	MaxUploadMB int `yaml:"maxUploadMB"`
}

// Default is the configuration used when no file is given.
func Default() Config {
	return Config{
		Decode: DecodeConfig{
			Snippet:             gsf.SnippetMean.String(),
			PreloadScaleFactors: true,
			Workers:             runtime.NumCPU(),
		},
		Condition: ConditionConfig{
			OutputDir: "conditioned",
		},
		Arc: ArcConfig{
			OutputDir: "arc",
		},
		Correction: CorrectionConfig{
			VTXOffset: gsf.DefaultVTXOffset,
			TVGMin:    gsf.R2SonicTVGLimits.Min,
			TVGMax:    gsf.R2SonicTVGLimits.Max,
		},
		Server: ServerConfig{
			Port:        8080,
			StorageDir:  "data",
			MaxUploadMB: 512,
		},
		Logs: common.LogConfig{
			MaxSizeMB:  25,
			MaxAgeDays: 7,
			MaxBackups: 5,
		},
	}
}

// Load reads the file at path over Default and resolves relative paths
// against the file's directory.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	baseDir := filepath.Dir(path)
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}
	cfg.Condition.AuditLog = resolvePath(cfg.Condition.AuditLog)
	cfg.Logs.Directory = resolvePath(cfg.Logs.Directory)
	cfg.Server.StorageDir = resolvePath(cfg.Server.StorageDir)
	if err := cfg.normalize(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.Decode.Snippet == "" {
		c.Decode.Snippet = gsf.SnippetMean.String()
	}
	if _, err := gsf.ParseSnippetType(c.Decode.Snippet); err != nil {
		return err
	}
	if c.Decode.Workers <= 0 {
		c.Decode.Workers = runtime.NumCPU()
	}
	if c.Clip.PolarAngleLeft > c.Clip.PolarAngleRight {
		return fmt.Errorf("clip: polar angle window %v..%v is empty", c.Clip.PolarAngleLeft, c.Clip.PolarAngleRight)
	}
	if c.Correction.TVGMax < c.Correction.TVGMin {
		return fmt.Errorf("correction: tvgMax %v below tvgMin %v", c.Correction.TVGMax, c.Correction.TVGMin)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: port %d out of range", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 512
	}
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = 25
	}
	if c.Logs.MaxAgeDays <= 0 {
		c.Logs.MaxAgeDays = 7
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = 5
	}
	return nil
}

// Marshal encodes cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReaderOptions converts the decode section for gsf.Open.
func (c Config) ReaderOptions() gsf.ReaderOptions {
	snippet, err := gsf.ParseSnippetType(c.Decode.Snippet)
	if err != nil {
		snippet = gsf.SnippetMean
	}
	return gsf.ReaderOptions{
		Snippet:             snippet,
		MemoryMap:           c.Decode.MemoryMap,
		PreloadScaleFactors: c.Decode.PreloadScaleFactors,
	}
}

// ExcludeTypes parses the conditioning exclusion list.
func (c Config) ExcludeTypes() ([]gsf.RecordType, error) {
	var out []gsf.RecordType
	for _, item := range c.Condition.Exclude {
		t, err := gsf.ParseRecordType(item)
		if err != nil {
			return nil, fmt.Errorf("condition.exclude: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Clipper returns a function applying the configured clips to a ping, or
// nil when no clip is configured.
func (c Config) Clipper() func(*gsf.Ping) {
	clip := c.Clip
	polar := clip.PolarAngleLeft != 0 || clip.PolarAngleRight != 0
	if !polar && clip.MinTravelTime == 0 && clip.MinIntensity == 0 {
		return nil
	}
	return func(p *gsf.Ping) {
		if polar {
			p.ClipPolarAngle(clip.PolarAngleLeft, clip.PolarAngleRight)
		}
		if clip.MinTravelTime != 0 {
			p.ClipTravelTime(clip.MinTravelTime)
		}
		if clip.MinIntensity != 0 {
			p.ClipIntensity(clip.MinIntensity)
		}
	}
}

// SonarParams adjusts the backscatter parameters derived from a ping's
// sonar header with the configured correction settings.
func (c Config) SonarParams(h *gsf.R2SonicImagery) gsf.SonarParams {
	p := gsf.R2SonicParams(h, c.Correction.VTXOffset)
	p.TVG = gsf.TVGLimits{Min: c.Correction.TVGMin, Max: c.Correction.TVGMax}
	return p
}
