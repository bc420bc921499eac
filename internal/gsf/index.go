package gsf

import (
	"context"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// BuildIndex sniffs every datagram header in the stream without decoding any
// body, then restores the stream position. When a header is malformed the
// records before it are returned along with the error.
func (r *Reader) BuildIndex() ([]RecordInfo, error) {
	var index []RecordInfo
	err := r.scan(func(rec Record) error {
		index = append(index, rec.Info())
		return nil
	})
	return index, err
}

// PingResult is the outcome of decoding one indexed ping.
type PingResult struct {
	Info RecordInfo
	Ping *Ping
	Err  error
}

// DecodePings decodes the pings of index concurrently. Every worker shares
// table read-only. Results keep index order and carry per-ping failures; the
// returned error is set only when ctx ends first.
func DecodePings(ctx context.Context, src io.ReaderAt, index []RecordInfo, table ScaleFactorTable, opts DecodeOptions, workers int) ([]PingResult, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	var pings []RecordInfo
	for _, info := range index {
		if info.Header.Type == RecordSwathBathymetry {
			pings = append(pings, info)
		}
	}
	results := make([]PingResult, len(pings))
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(workers)
	for i := range pings {
		i := i
		if gctx.Err() != nil {
			break
		}
		grp.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := decodePing(src, pings[i], table, opts)
			results[i] = PingResult{Info: pings[i], Ping: p, Err: err}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// DecodePings indexes the stream and decodes all of its pings concurrently
// with the reader's scale factor table.
func (r *Reader) DecodePings(ctx context.Context, workers int) ([]PingResult, error) {
	index, err := r.BuildIndex()
	if err != nil {
		return nil, err
	}
	results, err := DecodePings(ctx, r.source, index, r.table, DecodeOptions{Snippet: r.opts.Snippet}, workers)
	if r.metrics != nil {
		for _, res := range results {
			if res.Err != nil {
				r.metrics.IncDecodeError()
			}
		}
	}
	return results, err
}
