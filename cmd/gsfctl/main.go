package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"example.com/gsfgate/internal/arc"
	"example.com/gsfgate/internal/common"
	"example.com/gsfgate/internal/condition"
	"example.com/gsfgate/internal/config"
	"example.com/gsfgate/internal/gsf"
	"example.com/gsfgate/internal/manifest"
	"example.com/gsfgate/internal/report"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// stdout receives command output; tests replace it.
var stdout io.Writer = os.Stdout

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	var err error
	switch os.Args[1] {
	case "info":
		err = infoCmd(os.Args[2:])
	case "count":
		err = countCmd(os.Args[2:])
	case "nav":
		err = navCmd(os.Args[2:])
	case "dump":
		err = dumpCmd(os.Args[2:])
	case "condition":
		err = conditionCmd(os.Args[2:])
	case "arc":
		err = arcCmd(os.Args[2:])
	case "report":
		err = reportCmd(os.Args[2:])
	case "manifest":
		err = manifestCmd(os.Args[2:])
	case "version":
		fmt.Printf("gsfctl %s (built %s)\n", version, buildDate)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Printf(`gsfctl %s (built %s) <command> [options]

Commands:
  info      --in <file.gsf>
  count     --in <file.gsf> [--by-type]
  nav       --in <file.gsf> [--out <nav.csv>]
  dump      --in <file.gsf> [--out <pings.jsonl>] [--header-only] [--backscatter] [--limit <n>]
  condition --in <files|dirs> [--exclude <types>] [--out-dir <dir>] [--audit <audit.jsonl>]
  arc       --in <files|dirs> [--freq <hz>] [--out-dir <dir>]
  report    --in <file.gsf> [--out <summary.json>] [--pdf <summary.pdf>]
  manifest  --inputs <comma-separated> --out <manifest.json> | --verify <manifest.json>
  version

Every command accepts --config <gsfctl.yaml>; condition, arc, dump and report
also accept --metrics and --progress.
`, version, buildDate)
}

type globalFlags struct {
	config   *string
	metrics  *bool
	progress *bool
}

func addGlobalFlags(fs *flag.FlagSet) *globalFlags {
	return &globalFlags{
		config:   fs.String("config", "", "gsfctl YAML configuration"),
		metrics:  fs.Bool("metrics", false, "print throughput metrics"),
		progress: fs.Bool("progress", false, "display progress updates"),
	}
}

// setup loads the configuration and routes logging. The returned function
// releases the log file.
func (g *globalFlags) setup() (config.Config, func(), error) {
	cfg := config.Default()
	if *g.config != "" {
		loaded, err := config.Load(*g.config)
		if err != nil {
			return cfg, nil, fmt.Errorf("config: %w", err)
		}
		cfg = loaded
	}
	closer, err := common.SetupLogging(cfg.Logs)
	if err != nil {
		return cfg, nil, fmt.Errorf("logging: %w", err)
	}
	return cfg, func() { closer.Close() }, nil
}

type runMetrics struct {
	metrics      *common.Metrics
	show         bool
	stopProgress func()
}

// startMetrics returns nil unless --metrics or --progress was given.
func (g *globalFlags) startMetrics(paths ...string) *runMetrics {
	if !*g.metrics && !*g.progress {
		return nil
	}
	rm := &runMetrics{metrics: common.NewMetrics(), show: *g.metrics}
	var total int64
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	rm.metrics.SetTotalBytes(total)
	rm.metrics.Start()
	if *g.progress {
		rm.stopProgress = common.StartProgressPrinter(os.Stderr, rm.metrics, 500*time.Millisecond)
	}
	return rm
}

func (rm *runMetrics) get() *common.Metrics {
	if rm == nil {
		return nil
	}
	return rm.metrics
}

func (rm *runMetrics) finish() {
	if rm == nil {
		return
	}
	if rm.stopProgress != nil {
		rm.stopProgress()
	}
	rm.metrics.Stop()
	if !rm.show {
		return
	}
	fmt.Fprintf(stdout, "Metrics: %s\n", rm.metrics.Snapshot())
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// expandInputs replaces directories with the GSF files below them.
func expandInputs(list string) ([]string, error) {
	var out []string
	for _, p := range splitList(list) {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		files, err := common.FindGSFFiles(p)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	if len(out) == 0 {
		return nil, errors.New("no input files")
	}
	return out, nil
}

func createOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func infoCmd(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	in := fs.String("in", "", "input .gsf")
	g := addGlobalFlags(fs)
	fs.Parse(args)
	if *in == "" {
		return errors.New("required: --in")
	}
	cfg, done, err := g.setup()
	if err != nil {
		return err
	}
	defer done()

	r, err := gsf.Open(*in, cfg.ReaderOptions())
	if err != nil {
		return err
	}
	defer r.Close()
	index, indexErr := r.BuildIndex()
	if indexErr != nil && !errors.Is(indexErr, gsf.ErrMalformedHeader) {
		return indexErr
	}
	counts := make(map[gsf.RecordType]int)
	var fileVersion string
	for _, info := range index {
		counts[info.Header.Type]++
		if info.Header.Type == gsf.RecordHeader && fileVersion == "" {
			if fh, err := gsf.NewHeaderRecord(r.Source(), info).Decode(); err == nil {
				fileVersion = fh.Version
			}
		}
	}
	table := r.ScaleFactors()
	if table.Len() == 0 {
		if table, err = r.LoadScaleFactors(); err != nil {
			common.Logf("info: %s: %v", *in, err)
		}
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "File:\t%s\n", *in)
	fmt.Fprintf(tw, "Size:\t%s\n", common.FormatBytes(r.Size()))
	fmt.Fprintf(tw, "Version:\t%s\n", fileVersion)
	fmt.Fprintf(tw, "Records:\t%d\n", len(index))
	if indexErr != nil {
		fmt.Fprintf(tw, "Warning:\t%v\n", indexErr)
	}
	types := make([]gsf.RecordType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		fmt.Fprintf(tw, "  %s\t%d\n", t, counts[t])
	}
	fmt.Fprintf(tw, "Scale factors:\t%d\n", table.Len())
	for _, id := range table.IDs() {
		sf, _ := table.Lookup(id)
		fmt.Fprintf(tw, "  %s\tx%g\t%+g\tflags 0x%02x\n", gsf.SubrecordName(id), sf.Multiplier, sf.Offset, sf.CompressionFlag)
	}
	return tw.Flush()
}

func countCmd(args []string) error {
	fs := flag.NewFlagSet("count", flag.ExitOnError)
	in := fs.String("in", "", "input .gsf")
	byType := fs.Bool("by-type", false, "count each record type")
	g := addGlobalFlags(fs)
	fs.Parse(args)
	if *in == "" {
		return errors.New("required: --in")
	}
	cfg, done, err := g.setup()
	if err != nil {
		return err
	}
	defer done()

	opts := cfg.ReaderOptions()
	opts.PreloadScaleFactors = false
	r, err := gsf.Open(*in, opts)
	if err != nil {
		return err
	}
	defer r.Close()
	if !*byType {
		n, err := r.RecordCount()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, n)
		return nil
	}
	index, err := r.BuildIndex()
	if err != nil {
		return err
	}
	counts := make(map[gsf.RecordType]int)
	for _, info := range index {
		counts[info.Header.Type]++
	}
	for _, t := range gsf.RecordTypes() {
		if counts[t] > 0 {
			fmt.Fprintf(stdout, "%s %d\n", t, counts[t])
		}
	}
	return nil
}

func navCmd(args []string) error {
	fs := flag.NewFlagSet("nav", flag.ExitOnError)
	in := fs.String("in", "", "input .gsf")
	out := fs.String("out", "-", "output CSV, - for stdout")
	g := addGlobalFlags(fs)
	fs.Parse(args)
	if *in == "" {
		return errors.New("required: --in")
	}
	cfg, done, err := g.setup()
	if err != nil {
		return err
	}
	defer done()

	r, err := gsf.Open(*in, cfg.ReaderOptions())
	if err != nil {
		return err
	}
	defer r.Close()
	nav, err := r.LoadNavigation()
	if err != nil {
		return err
	}

	w, closeOut, err := createOutput(*out)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.Write([]string{"time", "longitude", "latitude"})
	for _, pt := range nav {
		cw.Write([]string{
			pt.Time.Format(time.RFC3339Nano),
			strconv.FormatFloat(pt.Longitude, 'f', 7, 64),
			strconv.FormatFloat(pt.Latitude, 'f', 7, 64),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

type pingDump struct {
	Offset              int64     `json:"offset"`
	Time                time.Time `json:"time"`
	Longitude           float64   `json:"longitude"`
	Latitude            float64   `json:"latitude"`
	Heading             float64   `json:"heading"`
	NumBeams            int16     `json:"numBeams"`
	Frequency           float64   `json:"frequency,omitempty"`
	Depth               []float64 `json:"depth,omitempty"`
	AcrossTrack         []float64 `json:"acrossTrack,omitempty"`
	AlongTrack          []float64 `json:"alongTrack,omitempty"`
	TravelTime          []float64 `json:"travelTime,omitempty"`
	BeamAngle           []float64 `json:"beamAngle,omitempty"`
	QualityFactor       []float64 `json:"qualityFactor,omitempty"`
	Intensity           []float64 `json:"intensity,omitempty"`
	Backscatter         []float64 `json:"backscatter,omitempty"`
	Rejected            []int     `json:"rejected,omitempty"`
	MissingScaleFactors []string  `json:"missingScaleFactors,omitempty"`
}

func newPingDump(offset int64, p *gsf.Ping) pingDump {
	d := pingDump{
		Offset:        offset,
		Time:          p.Time(),
		Longitude:     p.Longitude,
		Latitude:      p.Latitude,
		Heading:       p.Heading,
		NumBeams:      p.NumBeams,
		Frequency:     p.Frequency(),
		Depth:         p.Depth,
		AcrossTrack:   p.AcrossTrack,
		AlongTrack:    p.AlongTrack,
		TravelTime:    p.TravelTime,
		BeamAngle:     p.BeamAngle,
		QualityFactor: p.QualityFactor,
		Intensity:     p.Intensity,
	}
	for i := 0; i < int(p.NumBeams); i++ {
		if p.Rejected(i) {
			d.Rejected = append(d.Rejected, i)
		}
	}
	for _, id := range p.MissingScaleFactors {
		d.MissingScaleFactors = append(d.MissingScaleFactors, gsf.SubrecordName(id))
	}
	return d
}

// backscatter corrects every beam with the configured correction settings.
func backscatter(p *gsf.Ping, cfg config.Config) []float64 {
	out := p.CorrectedBackscatter(cfg.SonarParams)
	for i, bs := range out {
		// JSON has no encoding for NaN or infinities.
		if math.IsNaN(bs) || math.IsInf(bs, 0) {
			out[i] = 0
		}
	}
	return out
}

func dumpCmd(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	in := fs.String("in", "", "input .gsf")
	out := fs.String("out", "-", "output JSONL, - for stdout")
	headerOnly := fs.Bool("header-only", false, "decode the ping header only")
	withBackscatter := fs.Bool("backscatter", false, "add corrected backscatter per beam")
	limit := fs.Int("limit", 0, "stop after this many pings (0 = all)")
	g := addGlobalFlags(fs)
	fs.Parse(args)
	if *in == "" {
		return errors.New("required: --in")
	}
	cfg, done, err := g.setup()
	if err != nil {
		return err
	}
	defer done()

	r, err := gsf.Open(*in, cfg.ReaderOptions())
	if err != nil {
		return err
	}
	defer r.Close()
	rm := g.startMetrics(*in)
	if m := rm.get(); m != nil {
		r.SetMetrics(m)
	}
	w, closeOut, err := createOutput(*out)
	if err != nil {
		rm.finish()
		return err
	}
	clip := cfg.Clipper()
	enc := json.NewEncoder(w)
	written, failed := 0, 0
	for *limit == 0 || written < *limit {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			common.Logf("dump: %s: %v", *in, err)
			break
		}
		ping, ok := rec.(*gsf.PingRecord)
		if !ok {
			continue
		}
		var p *gsf.Ping
		if *headerOnly {
			p, err = ping.DecodeHeaderOnly()
		} else {
			p, err = ping.Decode()
		}
		if err != nil {
			common.Logf("dump: %v", err)
			failed++
			if m := rm.get(); m != nil {
				m.IncDecodeError()
			}
			continue
		}
		if clip != nil {
			clip(p)
		}
		d := newPingDump(rec.Info().Offset, p)
		if *withBackscatter {
			d.Backscatter = backscatter(p, cfg)
		}
		if err := enc.Encode(d); err != nil {
			closeOut()
			rm.finish()
			return err
		}
		written++
	}
	rm.finish()
	if failed > 0 {
		common.Logf("dump: %d pings could not be decoded", failed)
	}
	return closeOut()
}

func conditionCmd(args []string) error {
	fs := flag.NewFlagSet("condition", flag.ExitOnError)
	in := fs.String("in", "", "comma-separated .gsf files or directories")
	exclude := fs.String("exclude", "", "comma-separated record types to drop (overrides config)")
	outDir := fs.String("out-dir", "", "output directory, relative to each input (overrides config)")
	audit := fs.String("audit", "", "JSONL audit log of dropped records (overrides config)")
	g := addGlobalFlags(fs)
	fs.Parse(args)
	if *in == "" {
		return errors.New("required: --in")
	}
	cfg, done, err := g.setup()
	if err != nil {
		return err
	}
	defer done()

	inputs, err := expandInputs(*in)
	if err != nil {
		return err
	}
	var types []gsf.RecordType
	if *exclude != "" {
		types, err = condition.ParseExclude([]string{*exclude})
	} else {
		types, err = cfg.ExcludeTypes()
	}
	if err != nil {
		return err
	}
	if len(types) == 0 {
		return errors.New("nothing to exclude: set --exclude or condition.exclude")
	}
	dir := cfg.Condition.OutputDir
	if *outDir != "" {
		dir = *outDir
	}
	auditLog := cfg.Condition.AuditLog
	if *audit != "" {
		auditLog = *audit
	}

	rm := g.startMetrics(inputs...)
	defer rm.finish()
	for _, path := range inputs {
		out, err := condition.OutputPath(path, dir)
		if err != nil {
			return err
		}
		st, err := condition.Condition(path, out, condition.Options{
			Exclude:  types,
			AuditLog: auditLog,
			Reader:   cfg.ReaderOptions(),
			Metrics:  rm.get(),
		})
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(stdout, "Wrote %s: records=%d written=%d dropped=%d bytes=%s\n",
			out, st.Records, st.Written, st.DroppedTotal(), common.FormatBytes(st.BytesWritten))
		if st.Truncated {
			fmt.Fprintf(stdout, "WARNING: %s ends inside a record\n", path)
		}
	}
	return nil
}

func arcFileName(freq float64) string {
	if freq == 0 {
		return "AngularResponseCurve.csv"
	}
	return fmt.Sprintf("AngularResponseCurve_%gkHz.csv", freq/1000)
}

func arcCmd(args []string) error {
	fs := flag.NewFlagSet("arc", flag.ExitOnError)
	in := fs.String("in", "", "comma-separated .gsf files or directories")
	freq := fs.Float64("freq", -1, "sonar frequency in Hz, 0 for every ping (overrides config)")
	outDir := fs.String("out-dir", "", "output directory (overrides config)")
	g := addGlobalFlags(fs)
	fs.Parse(args)
	if *in == "" {
		return errors.New("required: --in")
	}
	cfg, done, err := g.setup()
	if err != nil {
		return err
	}
	defer done()

	inputs, err := expandInputs(*in)
	if err != nil {
		return err
	}
	frequency := cfg.Arc.Frequency
	if *freq >= 0 {
		frequency = *freq
	}
	dir := cfg.Arc.OutputDir
	if *outDir != "" {
		dir = *outDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	curve := arc.New(frequency)
	rm := g.startMetrics(inputs...)
	var total arc.FileStats
	for _, path := range inputs {
		st, err := curve.AccumulateFile(path, cfg.ReaderOptions(), cfg.Clipper())
		if err != nil {
			rm.finish()
			return fmt.Errorf("%s: %w", path, err)
		}
		if m := rm.get(); m != nil {
			if info, err := os.Stat(path); err == nil {
				m.AddBytes(info.Size())
			}
		}
		total.Pings += st.Pings
		total.Skipped += st.Skipped
		total.DecodeErrors += st.DecodeErrors
		total.Beams += st.Beams
	}
	rm.finish()
	if curve.Entries() == 0 {
		return fmt.Errorf("no beams accumulated at %g Hz (%d pings skipped)", frequency, total.Skipped)
	}

	out, err := condition.NextFreeName(filepath.Join(dir, arcFileName(frequency)))
	if err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := curve.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %s: pings=%d beams=%d skipped=%d decodeErrors=%d mean=%.2f dB\n",
		out, total.Pings, total.Beams, total.Skipped, total.DecodeErrors, curve.Mean())
	return nil
}

func reportCmd(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	in := fs.String("in", "", "input .gsf")
	out := fs.String("out", "", "summary JSON (defaults to <input>_summary.json)")
	pdfPath := fs.String("pdf", "", "output summary PDF")
	g := addGlobalFlags(fs)
	fs.Parse(args)
	if *in == "" {
		return errors.New("required: --in")
	}
	cfg, done, err := g.setup()
	if err != nil {
		return err
	}
	defer done()

	rm := g.startMetrics(*in)
	sum, err := report.Summarize(context.Background(), *in, report.Options{
		Reader:  cfg.ReaderOptions(),
		Workers: cfg.Decode.Workers,
		Prepare: cfg.Clipper(),
		Sonar:   cfg.SonarParams,
		Metrics: rm.get(),
	})
	rm.finish()
	if err != nil {
		return err
	}
	jsonPath := *out
	if jsonPath == "" {
		jsonPath = strings.TrimSuffix(*in, filepath.Ext(*in)) + "_summary.json"
	}
	if err := report.SaveJSON(sum, jsonPath); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	fmt.Fprintln(stdout, "Wrote", jsonPath)
	if *pdfPath != "" {
		if err := report.SavePDF(sum, *pdfPath); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
		fmt.Fprintln(stdout, "Wrote PDF:", *pdfPath)
	}
	fmt.Fprintf(stdout, "pings=%d decodeErrors=%d beams=%d truncated=%v\n", sum.Pings, sum.DecodeErrors, sum.Beams.Total, sum.Truncated)
	return nil
}

func manifestCmd(args []string) error {
	fs := flag.NewFlagSet("manifest", flag.ExitOnError)
	inputs := fs.String("inputs", "", "comma-separated paths")
	out := fs.String("out", "manifest.json", "output json")
	verify := fs.String("verify", "", "manifest to check against the files it lists")
	fs.Parse(args)

	if *verify != "" {
		m, err := manifest.Load(*verify)
		if err != nil {
			return err
		}
		changed, err := manifest.Verify(m)
		if err != nil {
			return err
		}
		if len(changed) > 0 {
			return fmt.Errorf("%d file(s) changed: %s", len(changed), strings.Join(changed, ", "))
		}
		fmt.Fprintf(stdout, "OK: %d file(s) match\n", len(m.Items))
		return nil
	}

	paths := splitList(*inputs)
	if len(paths) == 0 {
		return errors.New("required: --inputs")
	}
	m, err := manifest.Build(paths)
	if err != nil {
		return fmt.Errorf("manifest build: %w", err)
	}
	if err := manifest.Save(m, *out); err != nil {
		return fmt.Errorf("manifest save: %w", err)
	}
	fmt.Fprintln(stdout, "Wrote", *out)
	return nil
}
