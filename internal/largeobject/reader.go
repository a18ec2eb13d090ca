// Package largeobject implements the manifest-assembled GET described in
// spec.md §4.7: a "large object" is a zero-body object whose
// X-Object-Manifest header points at a container/prefix; GETting it means
// listing every object under that prefix and streaming their bodies back
// to back as one logical body, with range arithmetic and a rate limit
// layered on top.
package largeobject

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"object-proxy/internal/proxyerr"
)

// Segment is one entry in a manifest's backing container listing
// (spec.md §3's "Large-object listing entry").
type Segment struct {
	Name         string
	Bytes        int64
	Hash         string // the segment's own Etag
	ContentType  string
	LastModified time.Time
}

// Lister lists the objects under a manifest's container/prefix, in
// listing order — the order segments concatenate in.
type Lister interface {
	ListSegments(ctx context.Context, container, prefix string, limit int) ([]Segment, error)
}

// Fetcher opens one segment's body, optionally restricted to a byte range
// expressed the same way the HTTP Range header suffix is: "N-" means from
// byte N to the end, "0-N" means the first N+1 bytes. An empty rng fetches
// the whole segment.
type Fetcher interface {
	FetchSegment(ctx context.Context, container, name, rng string) (io.ReadCloser, error)
}

// RateLimit configures the inter-segment throttle spec.md §4.7 calls for:
// after AfterSegment segments have been loaded in one response, the reader
// sleeps between subsequent loads to cap at PerSecond segments/sec.
type RateLimit struct {
	AfterSegment int
	PerSecond    float64
}

func (r RateLimit) sleepInterval() time.Duration {
	if r.PerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / r.PerSecond)
}

// Manifest resolves a manifest's segment list once, up front, so its total
// size and composite Etag are known before any body byte is streamed
// (needed to set Content-Length and Etag on the response headers).
type Manifest struct {
	Container string
	Prefix    string
	Segments  []Segment
	TotalSize int64
	Etag      string
}

// Resolve lists every segment under container/prefix (capped at
// listingLimit entries, per spec.md's CONTAINER_LISTING_LIMIT) and computes
// the composite size/etag spec.md §4.7 and §8 define: Content-Length is the
// sum of segment sizes, Etag is md5(concat(segment.Hash for segment in
// listing)).
func Resolve(ctx context.Context, lister Lister, container, prefix string, listingLimit int) (Manifest, error) {
	segs, err := lister.ListSegments(ctx, container, prefix, listingLimit)
	if err != nil {
		return Manifest{}, proxyerr.Wrap(proxyerr.KindManifestError, 502, err, "list manifest segments")
	}

	h := md5.New()
	var total int64
	for _, s := range segs {
		total += s.Bytes
		io.WriteString(h, s.Hash)
	}
	return Manifest{
		Container: container,
		Prefix:    prefix,
		Segments:  segs,
		TotalSize: total,
		Etag:      hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// segmentSpan describes the portion of one segment a range request needs:
// [offsetStart, offsetEnd) within that segment's own bytes, end == -1
// meaning "to the segment's end".
type segmentSpan struct {
	segment     Segment
	offsetStart int64
	offsetEnd   int64 // exclusive, or -1 for "rest of segment"
}

// planRange maps the composite byte range [start, end) (end exclusive) onto
// the ordered list of segment spans needed to satisfy it, per spec.md
// §4.7's "scanning cumulative sizes" algorithm. A range entirely outside
// [0, total) is reported via ok=false (416).
func planRange(segments []Segment, start, end, total int64) (spans []segmentSpan, ok bool) {
	if total == 0 || start >= total || start < 0 || end <= start {
		return nil, false
	}
	if end > total {
		end = total
	}

	var cursor int64
	for _, seg := range segments {
		segStart := cursor
		segEnd := cursor + seg.Bytes
		cursor = segEnd

		if segEnd <= start || segStart >= end {
			continue
		}
		spanStart := int64(0)
		if start > segStart {
			spanStart = start - segStart
		}
		spanEnd := int64(-1)
		if end < segEnd {
			spanEnd = end - segStart
		}
		spans = append(spans, segmentSpan{segment: seg, offsetStart: spanStart, offsetEnd: spanEnd})
	}
	return spans, len(spans) > 0
}

func (s segmentSpan) rangeHeader() string {
	if s.offsetStart == 0 && s.offsetEnd == -1 {
		return ""
	}
	if s.offsetEnd == -1 {
		return fmt.Sprintf("%d-", s.offsetStart)
	}
	return fmt.Sprintf("%d-%d", s.offsetStart, s.offsetEnd-1)
}

// Reader streams a manifest's composite body (or one byte-range slice of
// it) across a sequence of per-segment fetches, rate-limited per
// spec.md §4.7. It satisfies io.ReadCloser.
type Reader struct {
	ctx       context.Context
	fetcher   Fetcher
	container string
	spans     []segmentSpan
	limit     RateLimit

	idx      int
	current  io.ReadCloser
	loaded   int
	lastLoad time.Time
}

// Open builds a Reader over the manifest's full body.
func Open(ctx context.Context, m Manifest, fetcher Fetcher, limit RateLimit) (*Reader, error) {
	spans := make([]segmentSpan, len(m.Segments))
	for i, s := range m.Segments {
		spans[i] = segmentSpan{segment: s, offsetStart: 0, offsetEnd: -1}
	}
	return &Reader{ctx: ctx, fetcher: fetcher, container: m.Container, spans: spans, limit: limit}, nil
}

// OpenRange builds a Reader over the [start, end) slice of the manifest's
// composite body (end exclusive). Returns a *proxyerr.Error with status 416
// if the range cannot be satisfied.
func OpenRange(ctx context.Context, m Manifest, fetcher Fetcher, limit RateLimit, start, end int64) (*Reader, error) {
	spans, ok := planRange(m.Segments, start, end, m.TotalSize)
	if !ok {
		return nil, proxyerr.New(proxyerr.KindValidation, 416, "range not satisfiable")
	}
	return &Reader{ctx: ctx, fetcher: fetcher, container: m.Container, spans: spans, limit: limit}, nil
}

// Read implements io.Reader, pulling segments in order and concatenating
// their (possibly range-restricted) bodies. A mid-stream segment fetch
// failure aborts the read with a ManifestError — spec.md §4.7: "cannot be
// restarted transparently".
func (r *Reader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if r.idx >= len(r.spans) {
				return 0, io.EOF
			}
			if err := r.throttle(); err != nil {
				return 0, err
			}
			span := r.spans[r.idx]
			body, err := r.fetcher.FetchSegment(r.ctx, r.container, span.segment.Name, span.rangeHeader())
			if err != nil {
				return 0, proxyerr.Wrap(proxyerr.KindManifestError, 0, err, "fetch manifest segment "+span.segment.Name)
			}
			r.current = body
			r.idx++
			r.loaded++
		}

		n, err := r.current.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF || err == nil {
			r.current.Close()
			r.current = nil
			continue
		}
		r.current.Close()
		r.current = nil
		return 0, proxyerr.Wrap(proxyerr.KindManifestError, 0, err, "read manifest segment body")
	}
}

// throttle sleeps between segment loads once rate_limit_after_segment
// segments have already been loaded in this response, capping throughput
// at rate_limit_segments_per_sec (spec.md §4.7).
func (r *Reader) throttle() error {
	if r.limit.AfterSegment <= 0 || r.loaded < r.limit.AfterSegment {
		r.lastLoad = time.Now()
		return nil
	}
	interval := r.limit.sleepInterval()
	if interval <= 0 {
		r.lastLoad = time.Now()
		return nil
	}
	if elapsed := time.Since(r.lastLoad); elapsed < interval {
		select {
		case <-time.After(interval - elapsed):
		case <-r.ctx.Done():
			return r.ctx.Err()
		}
	}
	r.lastLoad = time.Now()
	return nil
}

func (r *Reader) Close() error {
	if r.current != nil {
		return r.current.Close()
	}
	return nil
}
