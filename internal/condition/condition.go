// Package condition writes subsets of GSF files: every record is copied
// byte for byte unless its type is excluded.
package condition

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"example.com/gsfgate/internal/common"
	"example.com/gsfgate/internal/gsf"
)

const (
	subsetSuffix = "_subset"
	headerHexLen = 12
)

// Options select what Condition drops.
type Options struct {
	Exclude []gsf.RecordType
	// AuditLog, when set, receives one JSONL entry per dropped record.
	AuditLog string
	Reader   gsf.ReaderOptions
	Metrics  *common.Metrics
}

// Stats summarise one conditioning run.
type Stats struct {
	Records      int
	Written      int
	Dropped      map[gsf.RecordType]int
	BytesWritten int64
	// Truncated is set when the input ended inside a record; everything
	// before it was still written.
	Truncated bool
}

// DroppedTotal is the number of records left out.
func (s Stats) DroppedTotal() int {
	n := 0
	for _, c := range s.Dropped {
		n += c
	}
	return n
}

// ParseExclude turns record type names or numbers into record types.
func ParseExclude(list []string) ([]gsf.RecordType, error) {
	var out []gsf.RecordType
	for _, item := range list {
		for _, part := range strings.Split(item, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			t, err := gsf.ParseRecordType(part)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// Condition copies in to out, leaving out records whose type is excluded.
func Condition(in, out string, opts Options) (Stats, error) {
	st := Stats{Dropped: make(map[gsf.RecordType]int)}
	if sameFile(in, out) {
		return st, fmt.Errorf("output %s would overwrite the input", out)
	}
	exclude := make(map[gsf.RecordType]bool, len(opts.Exclude))
	for _, t := range opts.Exclude {
		exclude[t] = true
	}

	r, err := gsf.Open(in, opts.Reader)
	if err != nil {
		return st, err
	}
	defer r.Close()
	if opts.Metrics != nil {
		r.SetMetrics(opts.Metrics)
	}

	if dir := filepath.Dir(out); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return st, err
		}
	}
	f, err := os.Create(out)
	if err != nil {
		return st, err
	}
	w := bufio.NewWriter(f)

	var audit []common.AuditEntry
	err = copyRecords(r, w, exclude, &st, func(rec gsf.Record, raw []byte) {
		if opts.AuditLog == "" {
			return
		}
		info := rec.Info()
		audit = append(audit, common.AuditEntry{
			Action:     "drop",
			RecordType: info.Header.Type.String(),
			Offset:     info.Offset,
			Size:       info.Size(),
			HeaderHex:  hex.EncodeToString(raw[:min(len(raw), headerHexLen)]),
			Source:     in,
		})
	})
	if flushErr := w.Flush(); err == nil {
		err = flushErr
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return st, err
	}
	if opts.AuditLog != "" {
		if err := common.NewAuditLog(opts.AuditLog).Append(audit...); err != nil {
			return st, fmt.Errorf("audit log: %w", err)
		}
	}
	return st, nil
}

func copyRecords(r *gsf.Reader, w io.Writer, exclude map[gsf.RecordType]bool, st *Stats, dropped func(gsf.Record, []byte)) error {
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if errors.Is(err, gsf.ErrMalformedHeader) || errors.Is(err, io.ErrUnexpectedEOF) {
				common.Logf("condition: %v", err)
				st.Truncated = true
				return nil
			}
			return err
		}
		st.Records++
		raw, err := rec.Bytes()
		if err != nil {
			return err
		}
		if t := rec.Info().Header.Type; exclude[t] {
			st.Dropped[t]++
			dropped(rec, raw)
			continue
		}
		n, err := w.Write(raw)
		st.BytesWritten += int64(n)
		if err != nil {
			return err
		}
		st.Written++
	}
}

func sameFile(a, b string) bool {
	sa, err := os.Stat(a)
	if err != nil {
		return false
	}
	sb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(sa, sb)
}

// OutputPath names the subset file for in inside dir, creating dir when
// needed. Existing files are never reused: name_subset.gsf is followed by
// name_subset_1.gsf and so on. An empty dir means the input's directory.
func OutputPath(in, dir string) (string, error) {
	if dir == "" {
		dir = filepath.Dir(in)
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(in), dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ext := filepath.Ext(in)
	stem := strings.TrimSuffix(filepath.Base(in), ext) + subsetSuffix
	return NextFreeName(filepath.Join(dir, stem+ext))
}

// NextFreeName returns path when nothing exists there, otherwise the first
// of name_1.ext, name_2.ext, ... that is free.
func NextFreeName(path string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path, nil
	} else if err != nil {
		return "", err
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
	}
}
