// Package replication implements the fan-out engine: for one client
// request it opens a backend connection per candidate node, streams the
// client body into all of them in lockstep, enforces quorum, and picks the
// "best" response to hand back to the client (spec.md §4.5).
package replication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"object-proxy/internal/errorlimiter"
	"object-proxy/internal/nodeiter"
	"object-proxy/internal/proxyerr"
	"object-proxy/internal/ring"
	"object-proxy/internal/transport"
)

// DefaultChunkSize is the size of the fixed chunks the body pump reads from
// the client and fans out to every live backend (spec.md §4.5.1 step 3).
const DefaultChunkSize = 64 * 1024

// Options configures one Dispatcher. All durations come straight from the
// proxy Config (spec.md §6).
type Options struct {
	ConnectTimeout time.Duration
	NodeTimeout    time.Duration
	ChunkSize      int
	// Abort507 controls what a 507 (disk full) seen during the Expect:
	// 100-continue phase does. When true, the write stops waiting for the
	// remaining candidates at that point and goes ahead only if the
	// connections already ready meet quorum, failing with a QuorumFailure
	// otherwise. When false, the 507 node is dropped and the remaining
	// candidates are still awaited.
	Abort507 bool
}

func (o Options) chunkSize() int {
	if o.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

// FanoutRequest describes one client request translated into backend calls.
// PathFor builds the "/device/partition/account/container/object" path for
// a specific device, keeping the replication engine ignorant of path
// layout details owned by the controllers package.
type FanoutRequest struct {
	Method        string
	PathFor       func(ring.Device) string
	Headers       http.Header
	Body          io.Reader
	ContentLength int64 // -1 for chunked/unknown-length bodies
	// ReplicaCount is the ring's configured primary replica count for this
	// partition — used for the quorum threshold, independent of however
	// many handoff candidates the NodeIterator may additionally try.
	ReplicaCount int
	// Newest selects spec.md §4.5.3 semantics: wait for every response and
	// pick the highest X-Timestamp instead of racing to the first 2xx.
	Newest bool
}

// BackendResponse is one node's reply, retained for best-response selection.
type BackendResponse struct {
	Device  ring.Device
	Status  int
	Headers http.Header
	Body    io.ReadCloser
}

// Result is what the Dispatcher hands back to a controller.
type Result struct {
	Status       int
	Headers      http.Header
	Body         io.ReadCloser
	HandoffsUsed int
}

// Dispatcher is safe for concurrent use; one instance is shared across all
// in-flight requests.
type Dispatcher struct {
	transport transport.Transport
	limiter   *errorlimiter.Limiter
	opts      Options
}

// New builds a Dispatcher.
func New(t transport.Transport, limiter *errorlimiter.Limiter, opts Options) *Dispatcher {
	return &Dispatcher{transport: t, limiter: limiter, opts: opts}
}

func quorumRequired(replicas int) int {
	if replicas <= 0 {
		return 1
	}
	return (replicas+1)/2 + 1
}

// recordStatus charges the ErrorLimiter for a completed backend response:
// 507 is weighted heavily, other 5xx lightly, 4xx never increments (spec.md
// §4.3 — "never increment on 4xx").
func (d *Dispatcher) recordStatus(deviceID string, status int) {
	switch {
	case status == http.StatusInsufficientStorage:
		d.limiter.Record(deviceID, errorlimiter.WeightFatal)
	case status >= 500:
		d.limiter.Record(deviceID, errorlimiter.WeightTransient)
	}
}

func drainCandidates(it *nodeiter.Iterator) []ring.Device {
	var devices []ring.Device
	for {
		d, ok := it.Next()
		if !ok {
			break
		}
		devices = append(devices, d)
	}
	return devices
}

// ─── Reads (GET/HEAD) ───────────────────────────────────────────────────────

// Read fans a GET/HEAD out to every candidate node, then applies spec.md
// §4.5.2/§4.5.3's best-response selection. Ordinary reads race to the first
// 2xx and cancel the rest; Newest reads wait for everything and pick the
// highest X-Timestamp.
func (d *Dispatcher) Read(ctx context.Context, it *nodeiter.Iterator, req FanoutRequest) (Result, error) {
	devices := drainCandidates(it)
	if len(devices) == 0 {
		return Result{}, proxyerr.QuorumFailure("no candidate nodes for partition")
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type attempt struct {
		resp BackendResponse
		err  error
	}
	results := make(chan attempt, len(devices))
	var wg sync.WaitGroup
	for _, dev := range devices {
		wg.Add(1)
		go func(dev ring.Device) {
			defer wg.Done()
			conn, err := d.transport.Dial(cctx, dev.String(), d.opts.ConnectTimeout)
			if err != nil {
				d.limiter.Record(dev.ID, errorlimiter.WeightTransient)
				results <- attempt{err: err}
				return
			}
			nctx, ncancel := context.WithTimeout(cctx, d.opts.NodeTimeout)
			defer ncancel()
			resp, err := conn.Do(nctx, transport.Request{
				Method:        req.Method,
				Path:          req.PathFor(dev),
				Headers:       req.Headers,
				ContentLength: 0,
			})
			if err != nil {
				conn.Close()
				d.limiter.Record(dev.ID, errorlimiter.WeightTransient)
				results <- attempt{err: err}
				return
			}
			d.recordStatus(dev.ID, resp.Status)
			results <- attempt{resp: BackendResponse{Device: dev, Status: resp.Status, Headers: resp.Headers, Body: resp.Body}}
		}(dev)
	}
	go func() { wg.Wait(); close(results) }()

	var collected []BackendResponse
	for a := range results {
		if a.err != nil {
			continue
		}
		collected = append(collected, a.resp)
		if !req.Newest && is2xx(a.resp.Status) {
			cancel() // stop the rest; first 2xx wins (spec.md §4.5.3)
			return toResult(a.resp, it.HandoffsUsed()), nil
		}
	}

	if len(collected) == 0 {
		return Result{}, proxyerr.QuorumFailure("no backend responded")
	}
	if req.Newest {
		// Put responses back into node order so pickNewest's first-wins
		// tie-break follows node order rather than arrival order.
		pos := make(map[string]int, len(devices))
		for i, dev := range devices {
			pos[dev.ID] = i
		}
		sort.SliceStable(collected, func(i, j int) bool {
			return pos[collected[i].Device.ID] < pos[collected[j].Device.ID]
		})
		best := pickNewest(collected)
		return toResult(best, it.HandoffsUsed()), nil
	}
	best, err := selectBest(collected)
	if err != nil {
		return Result{}, err
	}
	return toResult(best, it.HandoffsUsed()), nil
}

// pickNewest implements spec.md §4.5.3: among every 2xx response, the one
// with the highest X-Timestamp wins, ties broken deterministically by node
// order (earliest-dialed device wins a tie, matching spec.md §5).
func pickNewest(responses []BackendResponse) BackendResponse {
	var best BackendResponse
	haveBest := false
	var bestTS string
	for _, r := range responses {
		if !is2xx(r.Status) {
			continue
		}
		ts := r.Headers.Get("X-Timestamp")
		if !haveBest || ts > bestTS {
			best, bestTS, haveBest = r, ts, true
		}
	}
	if !haveBest {
		best, _ = selectBest(responses)
	}
	return best
}

// selectBest implements spec.md §4.5.2's bucket-by-status-class rule for
// reads once every responder has answered without a 2xx winning the race
// (and for pickNewest when no 2xx exists): prefer 2xx, then 3xx, then a 4xx
// returned by a majority of responders, else 503.
func selectBest(responses []BackendResponse) (BackendResponse, error) {
	for _, r := range responses {
		if is2xx(r.Status) {
			return r, nil
		}
	}
	for _, r := range responses {
		if r.Status >= 300 && r.Status < 400 {
			return r, nil
		}
	}
	if winner, ok := modalStatus(responses, 400, 500); ok {
		var first BackendResponse
		count := 0
		for _, r := range responses {
			if r.Status == winner {
				if count == 0 {
					first = r
				}
				count++
			}
		}
		if count*2 > len(responses) {
			return first, nil
		}
	}
	return BackendResponse{}, proxyerr.QuorumFailure("no quorum among backend responses")
}

// modalStatus returns the most common status code among responses whose
// status falls in [lo, hi); ties are broken by the lowest status value for
// determinism. ok is false if no response falls in range.
func modalStatus(responses []BackendResponse, lo, hi int) (int, bool) {
	counts := map[int]int{}
	for _, r := range responses {
		if r.Status >= lo && r.Status < hi {
			counts[r.Status]++
		}
	}
	if len(counts) == 0 {
		return 0, false
	}
	statuses := make([]int, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool {
		if counts[statuses[i]] != counts[statuses[j]] {
			return counts[statuses[i]] > counts[statuses[j]]
		}
		return statuses[i] < statuses[j]
	})
	return statuses[0], true
}

func is2xx(status int) bool { return status >= 200 && status < 300 }

func toResult(r BackendResponse, handoffs int) Result {
	return Result{Status: r.Status, Headers: r.Headers, Body: r.Body, HandoffsUsed: handoffs}
}

// ─── Writes with a streamed body (PUT) ─────────────────────────────────────

type liveConn struct {
	device ring.Device
	conn   transport.Conn
	dead   bool
}

// Write performs the full PUT dispatch: open connections, Expect:
// 100-continue handshake, quorum check, then pump the client body into
// every ready backend in lockstep chunks (spec.md §4.5.1).
func (d *Dispatcher) Write(ctx context.Context, it *nodeiter.Iterator, req FanoutRequest) (Result, error) {
	required := quorumRequired(req.ReplicaCount)

	live, err := d.openForWrite(ctx, it, req, required)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		for _, c := range live {
			c.conn.Close()
		}
	}()

	if req.Body != nil {
		if err := d.pumpBody(ctx, req.Body, live, required); err != nil {
			return Result{}, err
		}
	}

	responses := d.finishAll(ctx, live)
	status, headers, err := decideWriteOutcome(responses, req.ReplicaCount)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: status, Headers: headers, HandoffsUsed: it.HandoffsUsed()}, nil
}

// openForWrite dials every candidate concurrently and performs the Expect:
// 100-continue handshake, returning only the connections that are ready to
// receive the body. It fails fast with a QuorumFailure if fewer than
// `required` connections become ready.
func (d *Dispatcher) openForWrite(ctx context.Context, it *nodeiter.Iterator, req FanoutRequest, required int) ([]*liveConn, error) {
	devices := drainCandidates(it)
	if len(devices) == 0 {
		return nil, proxyerr.QuorumFailure("no candidate nodes for partition")
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type attempt struct {
		live     *liveConn
		fatal507 bool
	}
	results := make(chan attempt, len(devices))
	var wg sync.WaitGroup
	for _, dev := range devices {
		wg.Add(1)
		go func(dev ring.Device) {
			defer wg.Done()
			conn, err := d.transport.Dial(cctx, dev.String(), d.opts.ConnectTimeout)
			if err != nil {
				d.limiter.Record(dev.ID, errorlimiter.WeightTransient)
				results <- attempt{}
				return
			}
			nctx, ncancel := context.WithTimeout(cctx, d.opts.NodeTimeout)
			status, err := conn.Expect100(nctx, transport.Request{
				Method:        req.Method,
				Path:          req.PathFor(dev),
				Headers:       req.Headers,
				ContentLength: req.ContentLength,
			})
			ncancel()
			if err != nil {
				d.limiter.Record(dev.ID, errorlimiter.WeightTransient)
				conn.Close()
				results <- attempt{}
				return
			}
			if status == http.StatusInsufficientStorage {
				d.limiter.Record(dev.ID, errorlimiter.WeightFatal)
				conn.Close()
				results <- attempt{fatal507: true}
				return
			}
			if status != http.StatusContinue {
				d.limiter.Record(dev.ID, errorlimiter.WeightTransient)
				conn.Close()
				results <- attempt{}
				return
			}
			results <- attempt{live: &liveConn{device: dev, conn: conn}}
		}(dev)
	}
	go func() { wg.Wait(); close(results) }()

	var live []*liveConn
	for a := range results {
		if a.live != nil {
			live = append(live, a.live)
		}
		if a.fatal507 && d.opts.Abort507 {
			cancel()
			break
		}
	}
	if len(live) < required {
		for _, l := range live {
			l.conn.Close()
		}
		return nil, proxyerr.QuorumFailure(fmt.Sprintf("only %d/%d backends ready to receive body", len(live), required))
	}
	return live, nil
}

// pumpBody reads the client body in fixed chunks and writes each chunk to
// every still-live backend in parallel before reading the next chunk — the
// proxy never buffers a whole body (spec.md §4.5.1 step 3).
func (d *Dispatcher) pumpBody(ctx context.Context, body io.Reader, live []*liveConn, required int) error {
	buf := make([]byte, d.opts.chunkSize())
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			var wg sync.WaitGroup
			for _, c := range live {
				if c.dead {
					continue
				}
				wg.Add(1)
				go func(c *liveConn) {
					defer wg.Done()
					nctx, cancel := context.WithTimeout(ctx, d.opts.NodeTimeout)
					defer cancel()
					if err := c.conn.WriteChunk(nctx, chunk); err != nil {
						d.limiter.Record(c.device.ID, errorlimiter.WeightTransient)
						c.dead = true
					}
				}(c)
			}
			wg.Wait()

			alive := 0
			for _, c := range live {
				if !c.dead {
					alive++
				}
			}
			if alive < required {
				return proxyerr.QuorumFailure("backends fell below quorum during body pump")
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return classifyClientReadError(rerr)
		}
	}
}

// classifyClientReadError maps a failed read of the client body to a
// client-facing error: a timeout (the client stalled past its read
// deadline) becomes a ClientTimeout (408), anything else a
// ClientDisconnect (499).
func classifyClientReadError(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return proxyerr.Wrap(proxyerr.KindClientTimeout, http.StatusRequestTimeout, err, "client body read timed out")
	}
	return proxyerr.Wrap(proxyerr.KindClientDisconnect, 499, err, "client body read failed")
}

// finishAll closes the body stream on every live connection and reads its
// final response, skipping any that error out.
func (d *Dispatcher) finishAll(ctx context.Context, live []*liveConn) []BackendResponse {
	type result struct {
		resp BackendResponse
		ok   bool
	}
	results := make(chan result, len(live))
	var wg sync.WaitGroup
	for _, c := range live {
		wg.Add(1)
		go func(c *liveConn) {
			defer wg.Done()
			nctx, cancel := context.WithTimeout(ctx, d.opts.NodeTimeout)
			defer cancel()
			resp, err := c.conn.FinishAndRead(nctx)
			if err != nil {
				d.limiter.Record(c.device.ID, errorlimiter.WeightTransient)
				results <- result{}
				return
			}
			d.recordStatus(c.device.ID, resp.Status)
			results <- result{resp: BackendResponse{Device: c.device, Status: resp.Status, Headers: resp.Headers, Body: resp.Body}, ok: true}
		}(c)
	}
	wg.Wait()
	close(results)

	var out []BackendResponse
	for r := range results {
		if r.ok {
			out = append(out, r.resp)
		}
	}
	return out
}

// ─── Writes without a body (DELETE, metadata POST) ─────────────────────────

// WriteNoBody fans a bodyless write (DELETE, or a metadata-only POST) out
// to every candidate node and applies the same quorum decision as Write.
func (d *Dispatcher) WriteNoBody(ctx context.Context, it *nodeiter.Iterator, req FanoutRequest) (Result, error) {
	devices := drainCandidates(it)
	if len(devices) == 0 {
		return Result{}, proxyerr.QuorumFailure("no candidate nodes for partition")
	}

	results := make(chan BackendResponse, len(devices))
	var wg sync.WaitGroup
	for _, dev := range devices {
		wg.Add(1)
		go func(dev ring.Device) {
			defer wg.Done()
			conn, err := d.transport.Dial(ctx, dev.String(), d.opts.ConnectTimeout)
			if err != nil {
				d.limiter.Record(dev.ID, errorlimiter.WeightTransient)
				return
			}
			defer conn.Close()
			nctx, cancel := context.WithTimeout(ctx, d.opts.NodeTimeout)
			defer cancel()
			resp, err := conn.Do(nctx, transport.Request{Method: req.Method, Path: req.PathFor(dev), Headers: req.Headers, ContentLength: 0})
			if err != nil {
				d.limiter.Record(dev.ID, errorlimiter.WeightTransient)
				return
			}
			d.recordStatus(dev.ID, resp.Status)
			results <- BackendResponse{Device: dev, Status: resp.Status, Headers: resp.Headers, Body: resp.Body}
		}(dev)
	}
	wg.Wait()
	close(results)

	var collected []BackendResponse
	for r := range results {
		collected = append(collected, r)
	}
	status, headers, err := decideWriteOutcome(collected, req.ReplicaCount)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: status, Headers: headers, HandoffsUsed: it.HandoffsUsed()}, nil
}

// decideWriteOutcome implements the write-quorum rule from spec.md §8's
// concrete scenarios (used here in preference to the section's own
// looser-worded invariant bullet): a 2xx wins once at least
// quorumRequired(replicas) backends agree on 2xx-class, and the highest
// 2xx status among them is returned (e.g. 201 over 200, since that is the
// more specific "created" signal for a PUT). Failing that quorum, the
// single most common status in the 300-599 range among whatever backends
// actually responded is returned, even if it does not itself reach the
// same threshold. When no response falls in that range (nothing
// responded, or only 2xx responses short of quorum) the result is 503.
func decideWriteOutcome(responses []BackendResponse, replicaCount int) (int, http.Header, error) {
	if len(responses) == 0 {
		return 0, nil, proxyerr.QuorumFailure("no backend responded")
	}

	required := quorumRequired(replicaCount)
	var successes []BackendResponse
	for _, r := range responses {
		if is2xx(r.Status) {
			successes = append(successes, r)
		}
	}
	if len(successes) >= required {
		if err := checkEtagConsistency(successes); err != nil {
			return 0, nil, err
		}
		best := successes[0]
		for _, r := range successes[1:] {
			if r.Status > best.Status {
				best = r
			}
		}
		return best.Status, best.Headers, nil
	}

	if status, ok := modalStatus(responses, 300, 600); ok {
		for _, r := range responses {
			if r.Status == status {
				return r.Status, r.Headers, nil
			}
		}
	}
	return 0, nil, proxyerr.QuorumFailure(fmt.Sprintf("write quorum not met: %d/%d", len(successes), required))
}

// checkEtagConsistency enforces spec.md §4.5.2's data-integrity guard: if
// backends that reported success disagree on the resulting Etag, the
// overall write is an InconsistentEtag server error, not retriable.
func checkEtagConsistency(successes []BackendResponse) error {
	var etag string
	seen := false
	for _, r := range successes {
		e := r.Headers.Get("Etag")
		if e == "" {
			continue
		}
		if !seen {
			etag, seen = e, true
			continue
		}
		if e != etag {
			return proxyerr.New(proxyerr.KindInconsistentEtag, http.StatusInternalServerError,
				"backends disagree on etag for the same write")
		}
	}
	return nil
}
