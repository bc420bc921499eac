package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"example.com/gsfgate/internal/arc"
	"example.com/gsfgate/internal/common"
	"example.com/gsfgate/internal/condition"
	"example.com/gsfgate/internal/config"
	"example.com/gsfgate/internal/gsf"
	"example.com/gsfgate/internal/manifest"
	"example.com/gsfgate/internal/report"
)

// Server runs GSF jobs for HTTP clients and keeps the files they produce
// available for download.
type Server struct {
	artifacts  *ArtifactStore
	workDir    string
	uploadsDir string
	cfg        config.Config
	maxUpload  int64
}

// Options configures server creation.
type Options struct {
	StorageDir string
	// Config supplies the decode, clip, conditioning and correction settings
	// every request runs with.
	Config config.Config
}

// NewServer creates a private work directory below opts.StorageDir.
func NewServer(opts Options) (*Server, error) {
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "gsfd-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	maxUpload := opts.Config.Server.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 512
	}
	return &Server{
		artifacts:  newArtifactStore(),
		workDir:    workDir,
		uploadsDir: uploadsDir,
		cfg:        opts.Config,
		maxUpload:  int64(maxUpload) << 20,
	}, nil
}

// Close removes the work directory and every artifact in it.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	return name, f.Close()
}

// resolvePath accepts an artifact id or a local path and returns the file
// path together with the name to report it under.
func (s *Server) resolvePath(token string) (string, string, error) {
	if token == "" {
		return "", "", errors.New("empty input path")
	}
	if art, ok := s.artifacts.get(token); ok {
		return art.Path, art.Name, nil
	}
	path := filepath.Clean(token)
	if _, err := os.Stat(path); err != nil {
		return "", "", err
	}
	return path, filepath.Base(path), nil
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

// decodeRequest reads a JSON POST body into v.
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if !allowMethod(w, r, http.MethodPost) {
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// fail reports a server-side failure to the client and the log.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	common.Logf("%s %s: %v", r.Method, r.URL.Path, err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input string `json:"input"`
		PDF   bool   `json:"pdf"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	inputPath, name, err := s.resolvePath(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	sum, err := report.Summarize(r.Context(), inputPath, report.Options{
		Reader:  s.cfg.ReaderOptions(),
		Workers: s.cfg.Decode.Workers,
		Prepare: s.cfg.Clipper(),
		Sonar:   s.cfg.SonarParams,
	})
	if err != nil {
		fail(w, r, fmt.Errorf("summarize %s: %w", name, err))
		return
	}
	sum.File = name
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	type output struct {
		ext  string
		save func(report.Summary, string) error
	}
	outputs := []output{{".json", report.SaveJSON}}
	if req.PDF {
		outputs = append(outputs, output{".pdf", report.SavePDF})
	}
	var artifacts []ArtifactRef
	for _, o := range outputs {
		path, err := s.tempPath("summary-*" + o.ext)
		if err == nil {
			err = o.save(sum, path)
		}
		if err != nil {
			fail(w, r, fmt.Errorf("write summary%s: %w", o.ext, err))
			return
		}
		ref, err := s.publish(path, stem+"_summary"+o.ext, "", "summary")
		if err != nil {
			fail(w, r, err)
			return
		}
		artifacts = append(artifacts, ref)
	}
	writeJSON(w, http.StatusOK, struct {
		Summary   report.Summary `json:"summary"`
		Artifacts []ArtifactRef  `json:"artifacts"`
	}{sum, artifacts})
}

func (s *Server) handleCondition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input   string   `json:"input"`
		Exclude []string `json:"exclude"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	inputPath, name, err := s.resolvePath(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	var types []gsf.RecordType
	if len(req.Exclude) > 0 {
		types, err = condition.ParseExclude(req.Exclude)
	} else {
		types, err = s.cfg.ExcludeTypes()
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("exclude: %v", err), http.StatusBadRequest)
		return
	}
	if len(types) == 0 {
		http.Error(w, "exclude required", http.StatusBadRequest)
		return
	}
	outPath, err := s.tempPath("subset-*.gsf")
	if err != nil {
		fail(w, r, err)
		return
	}
	auditPath, err := s.tempPath("audit-*.jsonl")
	if err != nil {
		fail(w, r, err)
		return
	}
	st, err := condition.Condition(inputPath, outPath, condition.Options{
		Exclude:  types,
		AuditLog: auditPath,
		Reader:   s.cfg.ReaderOptions(),
	})
	if err != nil {
		fail(w, r, fmt.Errorf("condition %s: %w", name, err))
		return
	}
	ext := filepath.Ext(name)
	subset, err := s.publish(outPath, strings.TrimSuffix(name, ext)+"_subset"+ext, "", "subset")
	if err != nil {
		fail(w, r, err)
		return
	}
	audit, err := s.publish(auditPath, "audit.jsonl", "", "audit")
	if err != nil {
		fail(w, r, err)
		return
	}
	dropped := make(map[string]int, len(st.Dropped))
	for t, n := range st.Dropped {
		dropped[t.String()] = n
	}
	writeJSON(w, http.StatusOK, struct {
		Records   int            `json:"records"`
		Written   int            `json:"written"`
		Dropped   map[string]int `json:"dropped"`
		Truncated bool           `json:"truncated,omitempty"`
		Artifacts []ArtifactRef  `json:"artifacts"`
	}{st.Records, st.Written, dropped, st.Truncated, []ArtifactRef{subset, audit}})
}

func (s *Server) handleARC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Inputs    []string `json:"inputs"`
		Frequency *float64 `json:"frequency"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	frequency := s.cfg.Arc.Frequency
	if req.Frequency != nil {
		frequency = *req.Frequency
	}
	curve := arc.New(frequency)
	var total arc.FileStats
	for _, in := range req.Inputs {
		path, _, err := s.resolvePath(in)
		if err != nil {
			http.Error(w, fmt.Sprintf("resolve %s: %v", in, err), http.StatusBadRequest)
			return
		}
		st, err := curve.AccumulateFile(path, s.cfg.ReaderOptions(), s.cfg.Clipper())
		if err != nil {
			fail(w, r, fmt.Errorf("accumulate %s: %w", in, err))
			return
		}
		total.Pings += st.Pings
		total.Skipped += st.Skipped
		total.DecodeErrors += st.DecodeErrors
		total.Beams += st.Beams
	}
	if curve.Entries() == 0 {
		http.Error(w, fmt.Sprintf("no beams accumulated at %g Hz", frequency), http.StatusUnprocessableEntity)
		return
	}
	csvPath, err := s.tempPath("arc-*.csv")
	if err == nil {
		err = writeCurve(curve, csvPath)
	}
	if err != nil {
		fail(w, r, fmt.Errorf("write curve: %w", err))
		return
	}
	name := "AngularResponseCurve.csv"
	if frequency != 0 {
		name = fmt.Sprintf("AngularResponseCurve_%gkHz.csv", frequency/1000)
	}
	ref, err := s.publish(csvPath, name, "", "arc")
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Stats    arc.FileStats `json:"stats"`
		Mean     float64       `json:"mean"`
		Buckets  []arc.Bucket  `json:"buckets"`
		Artifact ArtifactRef   `json:"artifact"`
	}{total, curve.Mean(), curve.Buckets(), ref})
}

func writeCurve(curve *arc.Curve, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = curve.WriteCSV(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

type pingEvent struct {
	Type      string    `json:"type"`
	Offset    int64     `json:"offset"`
	Time      time.Time `json:"time"`
	Longitude float64   `json:"longitude"`
	Latitude  float64   `json:"latitude"`
	Heading   float64   `json:"heading"`
	NumBeams  int16     `json:"numBeams"`
}

type errorEvent struct {
	Type   string `json:"type"`
	Offset int64  `json:"offset,omitempty"`
	Error  string `json:"error"`
}

type summaryEvent struct {
	Type         string `json:"type"`
	Pings        int    `json:"pings"`
	DecodeErrors int    `json:"decodeErrors"`
}

// handlePings streams the header of every ping as NDJSON, followed by a
// summary object.
func (s *Server) handlePings(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	inputPath, _, err := s.resolvePath(q.Get("input"))
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}
	reader, err := gsf.Open(inputPath, s.cfg.ReaderOptions())
	if err != nil {
		fail(w, r, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	out := NewNDJSONWriter(w)
	done := summaryEvent{Type: "summary"}
	for limit == 0 || done.Pings < limit {
		if r.Context().Err() != nil {
			return
		}
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out.WriteObject(errorEvent{Type: "error", Error: err.Error()})
			break
		}
		ping, ok := rec.(*gsf.PingRecord)
		if !ok {
			continue
		}
		offset := rec.Info().Offset
		p, err := ping.DecodeHeaderOnly()
		if err != nil {
			done.DecodeErrors++
			out.WriteObject(errorEvent{Type: "error", Offset: offset, Error: err.Error()})
			continue
		}
		done.Pings++
		err = out.WriteObject(pingEvent{
			Type:      "ping",
			Offset:    offset,
			Time:      p.Time(),
			Longitude: p.Longitude,
			Latitude:  p.Latitude,
			Heading:   p.Heading,
			NumBeams:  p.NumBeams,
		})
		if err != nil {
			common.Logf("pings: %v", err)
			return
		}
	}
	out.WriteObject(done)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Inputs  []string `json:"inputs"`
		ShaAlgo string   `json:"shaAlgo"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	if req.ShaAlgo != "" && !strings.EqualFold(req.ShaAlgo, "sha256") {
		http.Error(w, "only sha256 supported", http.StatusBadRequest)
		return
	}
	paths := make([]string, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		resolved, _, err := s.resolvePath(in)
		if err != nil {
			http.Error(w, fmt.Sprintf("resolve %s: %v", in, err), http.StatusBadRequest)
			return
		}
		paths = append(paths, resolved)
	}
	m, err := manifest.Build(paths)
	if err != nil {
		fail(w, r, err)
		return
	}
	outPath, err := s.tempPath("manifest-*.json")
	if err == nil {
		err = manifest.Save(m, outPath)
	}
	if err != nil {
		fail(w, r, fmt.Errorf("write manifest: %w", err))
		return
	}
	ref, err := s.publish(outPath, "manifest.json", "", "manifest")
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Manifest manifest.Manifest `json:"manifest"`
		Artifact ArtifactRef       `json:"artifact"`
	}{m, ref})
}

func (s *Server) handleRecordTypes(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	type recordType struct {
		ID   uint32 `json:"id"`
		Name string `json:"name"`
	}
	var out []recordType
	for _, t := range gsf.RecordTypes() {
		out = append(out, recordType{ID: uint32(t), Name: t.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleArtifactList(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.artifacts.list())
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	art, ok := s.artifacts.get(strings.TrimPrefix(r.URL.Path, "/artifacts/"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		fail(w, r, err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	http.ServeContent(w, r, art.Name, art.Created, f)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		common.Logf("write response: %v", err)
	}
}
