package common

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metrics tracks decode progress across the goroutines of one run.
type Metrics struct {
	mu           sync.Mutex
	start        time.Time
	end          time.Time
	bytes        int64
	totalBytes   int64
	byType       map[string]int64
	pings        int64
	decodeErrors int64
}

func NewMetrics() *Metrics {
	return &Metrics{byType: make(map[string]int64)}
}

// Start begins the clock. Calling it again while running has no effect.
func (m *Metrics) Start() {
	m.mu.Lock()
	if m.start.IsZero() {
		m.start = time.Now()
		m.end = time.Time{}
	}
	m.mu.Unlock()
}

func (m *Metrics) Stop() {
	m.mu.Lock()
	if !m.start.IsZero() && m.end.IsZero() {
		m.end = time.Now()
	}
	m.mu.Unlock()
}

// AddRecord counts one sniffed record of the named type occupying size
// bytes of the stream.
func (m *Metrics) AddRecord(recordType string, size int64) {
	if size <= 0 {
		return
	}
	m.mu.Lock()
	m.bytes += size
	m.byType[recordType]++
	m.mu.Unlock()
}

func (m *Metrics) IncPing() {
	m.mu.Lock()
	m.pings++
	m.mu.Unlock()
}

// AddBytes advances the byte counter without counting a record, for work
// that consumes whole files at once.
func (m *Metrics) AddBytes(n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.bytes += n
	m.mu.Unlock()
}

func (m *Metrics) IncDecodeError() {
	m.mu.Lock()
	m.decodeErrors++
	m.mu.Unlock()
}

// SetTotalBytes sets the amount of input the run is expected to consume.
func (m *Metrics) SetTotalBytes(total int64) {
	m.mu.Lock()
	m.totalBytes = max(total, 0)
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := MetricsSnapshot{
		Bytes:         m.bytes,
		TotalBytes:    m.totalBytes,
		Pings:         m.pings,
		DecodeErrors:  m.decodeErrors,
		RecordsByType: make(map[string]int64, len(m.byType)),
	}
	for k, v := range m.byType {
		snap.RecordsByType[k] = v
		snap.Records += v
	}
	switch {
	case m.start.IsZero():
	case m.end.IsZero():
		snap.Duration = time.Since(m.start)
	default:
		snap.Duration = m.end.Sub(m.start)
	}
	return snap
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Duration      time.Duration
	Bytes         int64
	TotalBytes    int64
	Records       int64
	RecordsByType map[string]int64
	Pings         int64
	DecodeErrors  int64
}

func (s MetricsSnapshot) ThroughputBytesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Bytes) / s.Duration.Seconds()
}

// PingsPerSecond is the ping decode rate over the run so far.
func (s MetricsSnapshot) PingsPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Pings) / s.Duration.Seconds()
}

// Completion is the consumed share of TotalBytes, clamped to [0, 1].
func (s MetricsSnapshot) Completion() float64 {
	if s.TotalBytes <= 0 {
		return 0
	}
	ratio := float64(s.Bytes) / float64(s.TotalBytes)
	if math.IsNaN(ratio) {
		return 0
	}
	return math.Min(math.Max(ratio, 0), 1)
}

// String renders the end-of-run summary line.
func (s MetricsSnapshot) String() string {
	types := make([]string, 0, len(s.RecordsByType))
	for name := range s.RecordsByType {
		types = append(types, name)
	}
	sort.Strings(types)
	var counts strings.Builder
	for i, name := range types {
		if i > 0 {
			counts.WriteByte(',')
		}
		fmt.Fprintf(&counts, "%s:%d", name, s.RecordsByType[name])
	}
	return fmt.Sprintf("duration=%s records=%d [%s] pings=%d decodeErrors=%d processed=%s throughput=%.2f MB/s",
		s.Duration.Round(10*time.Millisecond),
		s.Records,
		counts.String(),
		s.Pings,
		s.DecodeErrors,
		FormatBytes(s.Bytes),
		s.ThroughputBytesPerSecond()/1_000_000,
	)
}

var byteUnits = []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	v := float64(b) / unit
	exp := 0
	for v >= unit && exp < len(byteUnits)-1 {
		v /= unit
		exp++
	}
	return fmt.Sprintf("%.2f %s", v, byteUnits[exp])
}

func progressLine(s MetricsSnapshot) string {
	rate := fmt.Sprintf("%d pings %.1f pings/s %.2f MiB/s", s.Pings, s.PingsPerSecond(), s.ThroughputBytesPerSecond()/(1<<20))
	if s.TotalBytes > 0 {
		return fmt.Sprintf("Progress: %6.2f%% (%s / %s) %s", s.Completion()*100, FormatBytes(s.Bytes), FormatBytes(s.TotalBytes), rate)
	}
	return fmt.Sprintf("Processed: %s %s", FormatBytes(s.Bytes), rate)
}

// StartProgressPrinter redraws a progress line on w every interval until the
// returned stop function is called.
func StartProgressPrinter(w io.Writer, m *Metrics, interval time.Duration) func() {
	if m == nil || w == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		width := 0
		for {
			select {
			case <-ticker.C:
				line := progressLine(m.Snapshot())
				fmt.Fprintf(w, "\r%-*s", width, line)
				width = max(width, len(line))
			case <-done:
				if width > 0 {
					fmt.Fprintf(w, "\r%s\r\n", strings.Repeat(" ", width))
				}
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
