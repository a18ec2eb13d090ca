package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// HTTPTransport dials real TCP connections and speaks HTTP/1.1 to storage
// nodes directly over the socket so the fan-out engine gets fine-grained
// control over the Expect: 100-continue handshake and per-chunk write
// deadlines — net/http's client round-trips don't expose that level of
// control.
type HTTPTransport struct{}

// NewHTTP returns the production Transport.
func NewHTTP() *HTTPTransport { return &HTTPTransport{} }

func (t *HTTPTransport) Dial(ctx context.Context, addr string, connectTimeout time.Duration) (Conn, error) {
	// addr may carry a "/device" suffix (ring.Device.String()); only the
	// ip:port part is dialled.
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	d := net.Dialer{Timeout: connectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &httpConn{conn: conn, br: bufio.NewReaderSize(conn, 4096), addr: addr}, nil
}

type httpConn struct {
	conn    net.Conn
	br      *bufio.Reader
	addr    string
	method  string
	chunked bool
}

func (c *httpConn) deadline(ctx context.Context) (time.Time, bool) {
	return ctx.Deadline()
}

// Expect100 sends the request line/headers announcing Expect: 100-continue
// and returns the interim status the backend replied with. A caller sees
// 100 on the happy path, or e.g. 507 if the backend already knows it cannot
// accept the body (disk full).
func (c *httpConn) Expect100(ctx context.Context, req Request) (int, error) {
	c.method = req.Method
	c.chunked = req.ContentLength < 0

	if dl, ok := c.deadline(ctx); ok {
		_ = c.conn.SetWriteDeadline(dl)
	}

	w := bufio.NewWriter(c.conn)
	fmt.Fprintf(w, "%s %s HTTP/1.1\r\n", req.Method, req.Path)
	if host := req.Headers.Get("Host"); host != "" {
		fmt.Fprintf(w, "Host: %s\r\n", host)
	} else {
		fmt.Fprintf(w, "Host: %s\r\n", c.addr)
	}
	if c.chunked {
		fmt.Fprint(w, "Transfer-Encoding: chunked\r\n")
	} else {
		fmt.Fprintf(w, "Content-Length: %d\r\n", req.ContentLength)
	}
	fmt.Fprint(w, "Expect: 100-continue\r\n")
	for k, vs := range req.Headers {
		if k == "Host" {
			continue
		}
		for _, v := range vs {
			fmt.Fprintf(w, "%s: %s\r\n", k, v)
		}
	}
	fmt.Fprint(w, "\r\n")
	if err := w.Flush(); err != nil {
		return 0, err
	}

	if dl, ok := c.deadline(ctx); ok {
		_ = c.conn.SetReadDeadline(dl)
	}
	return readInterimStatus(c.br)
}

// WriteChunk writes one client-read chunk to the backend, chunked-encoding
// it when the original request had no known Content-Length.
func (c *httpConn) WriteChunk(ctx context.Context, chunk []byte) error {
	if dl, ok := c.deadline(ctx); ok {
		_ = c.conn.SetWriteDeadline(dl)
	}
	if len(chunk) == 0 {
		return nil
	}
	if c.chunked {
		if _, err := fmt.Fprintf(c.conn, "%x\r\n", len(chunk)); err != nil {
			return err
		}
		if _, err := c.conn.Write(chunk); err != nil {
			return err
		}
		_, err := c.conn.Write([]byte("\r\n"))
		return err
	}
	_, err := c.conn.Write(chunk)
	return err
}

// FinishAndRead terminates the body (closing the chunked stream if needed)
// and reads the backend's final response.
func (c *httpConn) FinishAndRead(ctx context.Context) (Response, error) {
	if c.chunked {
		if _, err := c.conn.Write([]byte("0\r\n\r\n")); err != nil {
			return Response{}, err
		}
	}
	if dl, ok := c.deadline(ctx); ok {
		_ = c.conn.SetReadDeadline(dl)
	}
	resp, err := http.ReadResponse(c.br, &http.Request{Method: c.method})
	if err != nil {
		return Response{}, err
	}
	return Response{Status: resp.StatusCode, Headers: resp.Header, Body: resp.Body}, nil
}

// Do performs a full, unstreamed round trip: used for GET/HEAD/DELETE and
// internal COPY calls that have no client body to pump chunk-by-chunk.
func (c *httpConn) Do(ctx context.Context, req Request) (Response, error) {
	httpReq, err := http.NewRequest(req.Method, "http://"+c.addr+req.Path, req.Body)
	if err != nil {
		return Response{}, err
	}
	httpReq.Header = req.Headers
	if req.ContentLength >= 0 {
		httpReq.ContentLength = req.ContentLength
	}

	if dl, ok := c.deadline(ctx); ok {
		_ = c.conn.SetDeadline(dl)
	}
	if err := httpReq.Write(c.conn); err != nil {
		return Response{}, err
	}
	resp, err := http.ReadResponse(c.br, httpReq)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: resp.StatusCode, Headers: resp.Header, Body: resp.Body}, nil
}

func (c *httpConn) Close() error { return c.conn.Close() }

// readInterimStatus parses a 1xx interim response's status line and
// discards its (usually empty) header block, leaving the reader positioned
// at the start of whatever comes next on the wire.
func readInterimStatus(br *bufio.Reader) (int, error) {
	tp := textproto.NewReader(br)
	line, err := tp.ReadLine()
	if err != nil {
		return 0, err
	}
	parts := splitStatusLine(line)
	if len(parts) < 2 {
		return 0, fmt.Errorf("transport: malformed status line %q", line)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("transport: malformed status code %q: %w", parts[1], err)
	}
	if _, err := tp.ReadMIMEHeader(); err != nil {
		return status, err
	}
	return status, nil
}

func splitStatusLine(line string) []string {
	out := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(line) && len(out) < 2; i++ {
		if line[i] == ' ' {
			out = append(out, line[start:i])
			start = i + 1
		}
	}
	out = append(out, line[start:])
	return out
}
