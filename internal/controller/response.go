package controller

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"object-proxy/internal/proxyerr"
	"object-proxy/internal/replication"
)

// writeAuthResult sends the authorize hook's short-circuit response
// verbatim (spec.md §4.6: "any non-null return short-circuits with that
// response").
func writeAuthResult(c *gin.Context, r *AuthResult) {
	c.Data(r.Status, "text/plain; charset=utf-8", []byte(r.Body))
}

// writeProxyErr translates a proxyerr.Error (or any error) into the
// response spec.md §4.9 and §7 require: the right status code, and
// X-Trans-Id carried through for traceability.
func writeProxyErr(c *gin.Context, err error) {
	status := proxyerr.StatusOf(err)
	if kind, ok := proxyerr.AsKind(err); ok && kind == proxyerr.KindQuorumFailure {
		c.Header("Content-Length", "0")
	}
	c.AbortWithStatus(status)
}

// writeBackendResult streams a replicated fan-out Result back to the
// client, forwarding the chosen backend's headers and ensuring
// Content-Length is always present, even for HEAD (spec.md §4.9).
func writeBackendResult(c *gin.Context, result replication.Result) {
	for k, vs := range result.Headers {
		if k == "Content-Length" {
			continue
		}
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}

	if result.Body == nil {
		c.Writer.Header().Set("Content-Length", "0")
		c.Status(result.Status)
		return
	}
	defer result.Body.Close()

	if cl := result.Headers.Get("Content-Length"); cl != "" {
		c.Writer.Header().Set("Content-Length", cl)
	}
	c.Status(result.Status)
	if c.Request.Method == http.MethodHead {
		return
	}
	_, _ = io.Copy(c.Writer, result.Body)
}

// writeStreamedBody is used by the object GET path for large-object and
// range responses, where the body is a computed io.ReadCloser (not a raw
// backend response) and Content-Length/Etag must be set explicitly before
// any byte is written.
func writeStreamedBody(c *gin.Context, status int, contentLength int64, headers http.Header, body io.ReadCloser) {
	for k, vs := range headers {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.Header().Set("Content-Length", strconv.FormatInt(contentLength, 10))
	c.Status(status)
	if body == nil {
		return
	}
	defer body.Close()
	if c.Request.Method == http.MethodHead {
		return
	}
	_, _ = io.Copy(c.Writer, body)
}
