// Package transport defines the boundary between the replication engine and
// the network: everything the fan-out engine needs from a backend
// connection, abstracted behind an interface so tests can inject a
// deterministic fake instead of opening real sockets (spec.md's Design
// Notes call this out explicitly: "replace [monkey-patched global hooks]
// with a Transport interface... tests inject a deterministic fake").
package transport

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Request describes one outbound backend call. Path already includes the
// "/device/partition/..." prefix spec.md §6 specifies.
type Request struct {
	Method  string
	Path    string
	Headers http.Header
	// Body, if non-nil, is read by the transport in chunks and streamed to
	// the backend; Transport implementations must not buffer it whole.
	Body io.Reader
	// ContentLength is -1 when unknown (chunked transfer).
	ContentLength int64
}

// Response is what one backend returned.
type Response struct {
	Status  int
	Headers http.Header
	Body    io.ReadCloser
}

// Conn represents one open, not-yet-committed connection to a backend
// device, modelled after the per-connection state machine spec.md's Design
// Notes describe: Connecting -> Expecting100 -> SendingBody -> ReadingResponse -> Closed.
type Conn interface {
	// Expect100 performs the Expect: 100-continue handshake for a write and
	// reports whether the backend is ready to receive the body. A non-nil
	// error or status 507 means the caller should abandon this connection
	// and try the next node.
	Expect100(ctx context.Context, req Request) (status int, err error)

	// WriteChunk writes one body chunk to the backend, bounded by the
	// context deadline (node_timeout is applied by the caller via ctx).
	WriteChunk(ctx context.Context, chunk []byte) error

	// FinishAndRead closes the body stream (if any) and reads the backend's
	// final response.
	FinishAndRead(ctx context.Context) (Response, error)

	// Do performs a full, non-streamed round trip (GET/HEAD/DELETE/internal
	// COPY) — a convenience for verbs without a client body to pump.
	Do(ctx context.Context, req Request) (Response, error)

	// Close releases the connection immediately, e.g. on client disconnect.
	Close() error
}

// Transport opens Conns to devices. One Transport instance is shared across
// the life of the process; each ReplicatedRequest opens however many Conns
// it needs for one client request and discards them afterwards.
type Transport interface {
	// Dial opens a connection to addr bounded by connectTimeout. Callers
	// pass ring.Device.String() ("ip:port/device"); HTTPTransport dials its
	// ip:port part, and FakeTransport uses the whole string as its queue key.
	// A connection failure here is a NodeTransientError at the call site.
	Dial(ctx context.Context, addr string, connectTimeout time.Duration) (Conn, error)
}
