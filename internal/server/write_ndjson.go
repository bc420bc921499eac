package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

// NDJSONWriter streams one JSON object per line and flushes after each, so
// clients see pings while the file is still being read.
type NDJSONWriter struct {
	mu    sync.Mutex
	enc   *json.Encoder
	flush func()
}

// NewNDJSONWriter wraps w. Flushing is skipped when w is not an
// http.Flusher.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	nw := &NDJSONWriter{enc: json.NewEncoder(w), flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		nw.flush = f.Flush
	}
	return nw
}

// WriteObject encodes v followed by a newline.
func (w *NDJSONWriter) WriteObject(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(v); err != nil {
		return err
	}
	w.flush()
	return nil
}
