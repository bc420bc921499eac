package server

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/gsfgate/internal/common"
	"example.com/gsfgate/internal/config"
	"example.com/gsfgate/internal/gsf/gsftest"
	"example.com/gsfgate/internal/report"
)

func testLine() []byte {
	sonar := gsftest.Sonar{
		Model:               "2024",
		SoundSpeed:          1500,
		Frequency:           200000,
		SourceLevel:         200,
		PulseWidth:          0.00005,
		BeamWidthVertical:   0.0175,
		BeamWidthHorizontal: 0.0175,
		ReceiverGain:        10,
		Spreading:           30,
		Absorption:          60,
	}
	ping := func(seconds int32, sf bool) []byte {
		p := &gsftest.Ping{Header: gsftest.PingHeader{Seconds: seconds, Longitude: -3.25, Latitude: 50.5, NumBeams: 3, Heading: 180}}
		if sf {
			p.Add(gsftest.ScaleFactors(
				gsftest.ScaleFactor{ID: 1, Multiplier: 100},
				gsftest.ScaleFactor{ID: 4, Multiplier: 10000},
				gsftest.ScaleFactor{ID: 5, Multiplier: 100},
				gsftest.ScaleFactor{ID: 21, Multiplier: 1},
			))
		}
		p.Add(
			gsftest.Array(1, 2, 1500, 1400, 1500),
			gsftest.Array(4, 2, 250, 200, 250),
			gsftest.Array(5, 2, -3000, 0, 3000),
			gsftest.Intensity(sonar,
				gsftest.Beam{Detect: 1, Samples: []uint16{100, 120}},
				gsftest.Beam{Detect: 1, Samples: []uint16{400, 420}},
				gsftest.Beam{Detect: 1, Samples: []uint16{110, 130}},
			),
		)
		return p.Record(false)
	}
	return gsftest.Stream(
		gsftest.Datagram(gsftest.TypeHeader, gsftest.HeaderBody("GSF-v03.09"), false),
		gsftest.Datagram(gsftest.TypeComment, gsftest.Pad4([]byte("survey start")), false),
		ping(1_700_000_100, true),
		ping(1_700_000_101, false),
		ping(1_700_000_102, false),
	)
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	common.SetLogOutput(io.Discard)
	t.Cleanup(func() { common.SetLogOutput(os.Stderr) })
	cfg := config.Default()
	cfg.Decode.Workers = 2
	cfg.Condition.Exclude = []string{"COMMENT"}
	srv, err := NewServer(Options{StorageDir: t.TempDir(), Config: cfg})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(NewRouter(srv))
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func upload(t *testing.T, baseURL, name string, data []byte) ArtifactRef {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write(data)
	mw.Close()
	resp, err := http.Post(baseURL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status %d: %s", resp.StatusCode, b)
	}
	var out struct {
		Files []ArtifactRef `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if len(out.Files) != 1 {
		t.Fatalf("uploaded files = %+v", out.Files)
	}
	return out.Files[0]
}

func postJSON(t *testing.T, url string, payload any, out any) int {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func download(t *testing.T, baseURL, id string) []byte {
	t.Helper()
	resp, err := http.Get(baseURL + "/artifacts/" + id)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	return b
}

func TestUploadAndSummary(t *testing.T) {
	_, ts := newTestServer(t)
	ref := upload(t, ts.URL, "line_0001.gsf", testLine())
	if ref.Name != "line_0001.gsf" || ref.Kind != "upload" || ref.ContentType != "application/octet-stream" {
		t.Fatalf("upload ref = %+v", ref)
	}
	if want := fmt.Sprintf("%x", sha256.Sum256(testLine())); ref.SHA256 != want {
		t.Fatalf("upload sha256 = %s, want %s", ref.SHA256, want)
	}

	var resp struct {
		Summary   report.Summary `json:"summary"`
		Artifacts []ArtifactRef  `json:"artifacts"`
	}
	if code := postJSON(t, ts.URL+"/summary", map[string]any{"input": ref.ID, "pdf": true}, &resp); code != http.StatusOK {
		t.Fatalf("summary status %d", code)
	}
	if resp.Summary.File != "line_0001.gsf" || resp.Summary.Pings != 3 || resp.Summary.Records["COMMENT"] != 1 {
		t.Fatalf("summary = %+v", resp.Summary)
	}
	if len(resp.Artifacts) != 2 || resp.Artifacts[0].Name != "line_0001_summary.json" || resp.Artifacts[1].ContentType != "application/pdf" {
		t.Fatalf("artifacts = %+v", resp.Artifacts)
	}
	var saved report.Summary
	if err := json.Unmarshal(download(t, ts.URL, resp.Artifacts[0].ID), &saved); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if saved.SHA256 != resp.Summary.SHA256 || saved.Beams.Total != 9 {
		t.Fatalf("saved summary = %+v", saved)
	}
	if pdf := download(t, ts.URL, resp.Artifacts[1].ID); !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatalf("pdf artifact does not start with %%PDF")
	}
}

func TestConditionUsesConfiguredExclusions(t *testing.T) {
	_, ts := newTestServer(t)
	line := testLine()
	ref := upload(t, ts.URL, "line.gsf", line)

	var resp struct {
		Records   int            `json:"records"`
		Written   int            `json:"written"`
		Dropped   map[string]int `json:"dropped"`
		Artifacts []ArtifactRef  `json:"artifacts"`
	}
	if code := postJSON(t, ts.URL+"/condition", map[string]any{"input": ref.ID}, &resp); code != http.StatusOK {
		t.Fatalf("condition status %d", code)
	}
	if resp.Records != 5 || resp.Written != 4 || resp.Dropped["COMMENT"] != 1 {
		t.Fatalf("condition = %+v", resp)
	}
	if resp.Artifacts[0].Name != "line_subset.gsf" {
		t.Fatalf("subset name = %s", resp.Artifacts[0].Name)
	}
	subset := download(t, ts.URL, resp.Artifacts[0].ID)
	// Header record (20 bytes) followed by the pings; the comment is gone.
	commentLen := 8 + len(gsftest.Pad4([]byte("survey start")))
	if len(subset) != len(line)-commentLen || !bytes.Equal(subset[:20], line[:20]) || !bytes.Equal(subset[20:], line[20+commentLen:]) {
		t.Fatalf("subset is not the input without the comment")
	}
	audit := download(t, ts.URL, resp.Artifacts[1].ID)
	if !strings.Contains(string(audit), `"COMMENT"`) {
		t.Fatalf("audit = %s", audit)
	}

	if code := postJSON(t, ts.URL+"/condition", map[string]any{"input": ref.ID, "exclude": []string{"bogus"}}, nil); code != http.StatusBadRequest {
		t.Fatalf("bad exclude status = %d", code)
	}
}

func TestARC(t *testing.T) {
	_, ts := newTestServer(t)
	ref := upload(t, ts.URL, "line.gsf", testLine())
	var resp struct {
		Mean     float64     `json:"mean"`
		Artifact ArtifactRef `json:"artifact"`
	}
	if code := postJSON(t, ts.URL+"/arc", map[string]any{"inputs": []string{ref.ID}, "frequency": 200000}, &resp); code != http.StatusOK {
		t.Fatalf("arc status %d", code)
	}
	if resp.Artifact.Name != "AngularResponseCurve_200kHz.csv" {
		t.Fatalf("artifact = %+v", resp.Artifact)
	}
	csv := string(download(t, ts.URL, resp.Artifact.ID))
	if strings.Count(csv, "\n") != 4 {
		t.Fatalf("csv = %s", csv)
	}
	if code := postJSON(t, ts.URL+"/arc", map[string]any{"inputs": []string{ref.ID}, "frequency": 400000}, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("wrong frequency status = %d", code)
	}
}

func TestPingsStream(t *testing.T) {
	_, ts := newTestServer(t)
	ref := upload(t, ts.URL, "line.gsf", testLine())
	resp, err := http.Get(ts.URL + "/pings?input=" + ref.ID + "&limit=2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type = %s", ct)
	}
	var events []map[string]any
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev map[string]any
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		events = append(events, ev)
	}
	if len(events) != 3 {
		t.Fatalf("events = %v", events)
	}
	if events[0]["type"] != "ping" || events[0]["latitude"] != 50.5 || events[1]["numBeams"] != float64(3) {
		t.Fatalf("ping events = %v", events[:2])
	}
	if events[2]["type"] != "summary" || events[2]["pings"] != float64(2) {
		t.Fatalf("summary event = %v", events[2])
	}
}

func TestManifestAndArtifactList(t *testing.T) {
	_, ts := newTestServer(t)
	ref := upload(t, ts.URL, "line.gsf", testLine())
	var resp struct {
		Artifact ArtifactRef `json:"artifact"`
	}
	if code := postJSON(t, ts.URL+"/manifest", map[string]any{"inputs": []string{ref.ID}}, &resp); code != http.StatusOK {
		t.Fatalf("manifest status %d", code)
	}
	if code := postJSON(t, ts.URL+"/manifest", map[string]any{"inputs": []string{ref.ID}, "shaAlgo": "md5"}, nil); code != http.StatusBadRequest {
		t.Fatalf("md5 status = %d", code)
	}

	listResp, err := http.Get(ts.URL + "/artifacts")
	if err != nil {
		t.Fatalf("GET artifacts: %v", err)
	}
	defer listResp.Body.Close()
	var refs []ArtifactRef
	if err := json.NewDecoder(listResp.Body).Decode(&refs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("artifacts = %+v", refs)
	}

	missing, err := http.Get(ts.URL + "/artifacts/unknown")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown artifact status = %d", missing.StatusCode)
	}
}

func TestRecordTypesAndMethods(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/record-types")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var types []struct {
		ID   uint32 `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&types); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(types) != 12 || types[1].Name != "SWATH_BATHYMETRY" {
		t.Fatalf("record types = %+v", types)
	}

	get, err := http.Get(ts.URL + "/summary")
	if err != nil {
		t.Fatalf("GET summary: %v", err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /summary status = %d", get.StatusCode)
	}
}

func TestSummaryOfLocalPath(t *testing.T) {
	_, ts := newTestServer(t)
	path := filepath.Join(t.TempDir(), "local.gsf")
	if err := os.WriteFile(path, testLine(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	var resp struct {
		Summary report.Summary `json:"summary"`
	}
	if code := postJSON(t, ts.URL+"/summary", map[string]any{"input": path}, &resp); code != http.StatusOK {
		t.Fatalf("summary status %d", code)
	}
	if resp.Summary.File != "local.gsf" || resp.Summary.Version != "GSF-v03.09" {
		t.Fatalf("summary = %+v", resp.Summary)
	}
	if code := postJSON(t, ts.URL+"/summary", map[string]any{"input": filepath.Join(t.TempDir(), "nope.gsf")}, nil); code != http.StatusBadRequest {
		t.Fatalf("missing input status = %d", code)
	}
}

func TestUploadRejectsForeignGSF(t *testing.T) {
	_, ts := newTestServer(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "line.gsf")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	// a ping where the file header record belongs
	part.Write(gsftest.Datagram(gsftest.TypePing, make([]byte, 56), false))
	mw.Close()
	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("upload status = %d, want 400", resp.StatusCode)
	}
}
