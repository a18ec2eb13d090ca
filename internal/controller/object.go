package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"object-proxy/internal/largeobject"
	"object-proxy/internal/lookupcache"
	"object-proxy/internal/proxyerr"
	"object-proxy/internal/replication"
	"object-proxy/internal/versionedwriter"
)

// ObjectController implements spec.md §4.6.3.
type ObjectController struct {
	Deps *Deps
}

func NewObjectController(d *Deps) *ObjectController { return &ObjectController{Deps: d} }

func (oc *ObjectController) Register(g gin.IRoutes) {
	g.GET("", oc.handleGet)
	g.HEAD("", oc.handleGet)
	g.PUT("", oc.handlePut)
	g.POST("", oc.handlePost)
	g.DELETE("", oc.handleDelete)
	g.Handle("COPY", "", oc.handleCopy)
}

func (oc *ObjectController) authorize(c *gin.Context, account string) *AuthResult {
	if oc.Deps.Authorize == nil {
		return nil
	}
	return oc.Deps.Authorize(c.Request, account)
}

// ─── Container metadata lookup ──────────────────────────────────────────────

func (oc *ObjectController) headContainer(ctx context.Context, account, container string) (lookupcache.Entry, error) {
	key := account + "/" + container
	if e, ok, _ := oc.Deps.Cache.Get(key); ok {
		return e, nil
	}

	partition, it, _ := oc.Deps.candidates(account, container, "", nil)
	req := replication.FanoutRequest{
		Method:  http.MethodHead,
		PathFor: pathForBuilder(partition, account, container, ""),
		Headers: http.Header{},
	}
	result, err := oc.Deps.Dispatcher.Read(ctx, it, req)
	if err != nil {
		return lookupcache.Entry{}, err
	}
	e := lookupcache.Entry{
		Status:           result.Status,
		ReadACL:          result.Headers.Get("X-Container-Read"),
		WriteACL:         result.Headers.Get("X-Container-Write"),
		VersionsLocation: result.Headers.Get("X-Versions-Location"),
	}
	if result.Status >= 200 && result.Status < 300 {
		oc.Deps.Cache.Set(key, e, 10*time.Second)
	}
	return e, nil
}

// ─── GET/HEAD ────────────────────────────────────────────────────────────────

func (oc *ObjectController) handleGet(c *gin.Context) {
	account, container, object := c.Param("account"), c.Param("container"), objectName(c)
	if r := oc.authorize(c, account); r != nil {
		writeAuthResult(c, r)
		return
	}

	partition, it, _ := oc.Deps.candidates(account, container, object, handoffCounter(c))
	req := replication.FanoutRequest{
		Method:  c.Request.Method,
		PathFor: pathForBuilder(partition, account, container, object),
		Headers: c.Request.Header.Clone(),
		Newest:  c.GetHeader("X-Newest") == "true",
	}
	result, err := oc.Deps.Dispatcher.Read(c.Request.Context(), it, req)
	if err != nil {
		writeProxyErr(c, err)
		return
	}

	manifest := result.Headers.Get("X-Object-Manifest")
	if manifest == "" || result.Status < 200 || result.Status >= 300 {
		writeBackendResult(c, result)
		return
	}
	if result.Body != nil {
		result.Body.Close()
	}
	oc.serveManifest(c, account, manifest, result.Headers)
}

// serveManifest implements spec.md §4.7: list the manifest's segments,
// recompute Content-Length/Etag, and stream the concatenated body,
// honoring a Range header over the composite.
func (oc *ObjectController) serveManifest(c *gin.Context, account, manifest string, backendHeaders http.Header) {
	container, prefix, ok := strings.Cut(manifest, "/")
	if !ok {
		writeProxyErr(c, proxyerr.New(proxyerr.KindManifestError, http.StatusBadGateway, "malformed X-Object-Manifest"))
		return
	}

	src := objectDataSource{oc: oc, account: account}
	m, err := largeobject.Resolve(c.Request.Context(), src, container, prefix, oc.Deps.Cfg.ContainerListingLimit)
	if err != nil {
		writeProxyErr(c, err)
		return
	}

	limit := largeobject.RateLimit{
		AfterSegment: oc.Deps.Cfg.RateLimitAfterSegment,
		PerSecond:    oc.Deps.Cfg.RateLimitSegmentsPerSec,
	}

	headers := http.Header{"Etag": []string{m.Etag}}
	if ct := backendHeaders.Get("Content-Type"); ct != "" {
		headers.Set("Content-Type", ct)
	}

	rangeHeader := c.GetHeader("Range")
	if rangeHeader == "" {
		r, err := largeobject.Open(c.Request.Context(), m, src, limit)
		if err != nil {
			writeProxyErr(c, err)
			return
		}
		writeStreamedBody(c, http.StatusOK, m.TotalSize, headers, r)
		return
	}

	start, end, perr := parseRange(rangeHeader, m.TotalSize)
	if perr != nil {
		writeProxyErr(c, perr)
		return
	}
	r, err := largeobject.OpenRange(c.Request.Context(), m, src, limit, start, end)
	if err != nil {
		writeProxyErr(c, err)
		return
	}
	headers.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, m.TotalSize))
	writeStreamedBody(c, http.StatusPartialContent, end-start, headers, r)
}

// parseRange parses a single-range "bytes=start-end" header against a
// known total length, spec.md §4.7's byte-range algorithm.
func parseRange(header string, total int64) (start, end int64, err error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, proxyerr.New(proxyerr.KindValidation, http.StatusRequestedRangeNotSatisfiable, "unsupported range unit")
	}
	spec := strings.SplitN(header[len(prefix):], ",", 2)[0]
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, proxyerr.New(proxyerr.KindValidation, http.StatusRequestedRangeNotSatisfiable, "malformed range")
	}
	if parts[0] == "" {
		// suffix range: "-N" means the last N bytes.
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, proxyerr.New(proxyerr.KindValidation, http.StatusRequestedRangeNotSatisfiable, "malformed range")
		}
		if n > total {
			n = total
		}
		return total - n, total, nil
	}
	s, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, proxyerr.New(proxyerr.KindValidation, http.StatusRequestedRangeNotSatisfiable, "malformed range")
	}
	if parts[1] == "" {
		return s, total, nil
	}
	e, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, proxyerr.New(proxyerr.KindValidation, http.StatusRequestedRangeNotSatisfiable, "malformed range")
	}
	return s, e + 1, nil
}

// ─── PUT ─────────────────────────────────────────────────────────────────────

func (oc *ObjectController) handlePut(c *gin.Context) {
	account, container, object := c.Param("account"), c.Param("container"), objectName(c)
	if r := oc.authorize(c, account); r != nil {
		writeAuthResult(c, r)
		return
	}
	if err := ValidateMetadata(c.Request.Header, oc.Deps.Cfg); err != nil {
		writeProxyErr(c, err)
		return
	}
	if err := ResolveDeleteAt(c.Request.Header, time.Now()); err != nil {
		writeProxyErr(c, err)
		return
	}
	if c.Request.ContentLength > oc.Deps.Cfg.MaxFileSize {
		writeProxyErr(c, proxyerr.Validation(http.StatusRequestEntityTooLarge, "object too large"))
		return
	}

	containerEntry, err := oc.headContainer(c.Request.Context(), account, container)
	if err != nil {
		writeProxyErr(c, err)
		return
	}
	if containerEntry.Status < 200 || containerEntry.Status >= 300 {
		c.Status(http.StatusNotFound)
		return
	}

	headers := cloneHeaders(c.Request.Header)
	var body io.Reader = c.Request.Body
	contentLength := c.Request.ContentLength

	if copyFrom := headers.Get("X-Copy-From"); copyFrom != "" {
		srcContainer, srcObject, ok := strings.Cut(strings.TrimPrefix(copyFrom, "/"), "/")
		if !ok {
			writeProxyErr(c, proxyerr.Validation(http.StatusBadRequest, "malformed X-Copy-From"))
			return
		}
		srcResult, err := oc.internalGet(c.Request.Context(), account, srcContainer, srcObject)
		if err != nil {
			writeProxyErr(c, err)
			return
		}
		if srcResult.Status < 200 || srcResult.Status >= 300 {
			c.Status(http.StatusNotFound)
			return
		}

		if manifest := srcResult.Headers.Get("X-Object-Manifest"); manifest != "" {
			// Copy of a manifest (spec.md §4.7): the source's own body is
			// empty, so resolve its segments into a single concatenated
			// stream instead of copying that empty body verbatim.
			if srcResult.Body != nil {
				srcResult.Body.Close()
			}
			r, n, merr := oc.resolveManifestCopySource(c.Request.Context(), account, manifest)
			if merr != nil {
				writeProxyErr(c, merr)
				return
			}
			defer r.Close()
			body = r
			contentLength = n
		} else {
			defer srcResult.Body.Close()
			body = srcResult.Body
			contentLength = -1
			if cl := srcResult.Headers.Get("Content-Length"); cl != "" {
				if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
					contentLength = n
				}
			}
		}
		headers = mergeCopyHeaders(srcResult.Headers, headers)
		headers.Del("X-Copy-From")
	}

	timestamp := time.Now()
	headers.Set("X-Timestamp", NewTimestamp(timestamp))

	if oc.Deps.Cfg.AllowVersions && containerEntry.VersionsLocation != "" {
		existing, err := oc.internalHead(c.Request.Context(), account, container, object)
		if err != nil {
			writeProxyErr(c, err)
			return
		}
		currentExists := existing.Status >= 200 && existing.Status < 300
		currentIsManifest := existing.Headers.Get("X-Object-Manifest") != ""
		vw := versionedwriter.New(objectDataSource{oc: oc, account: account}, oc.softLock)
		if err := vw.PreparePut(c.Request.Context(), container, object, containerEntry.VersionsLocation, currentExists, currentIsManifest, timestamp); err != nil {
			writeProxyErr(c, err)
			return
		}
	}

	partition, it, replicas := oc.Deps.candidates(account, container, object, handoffCounter(c))
	req := replication.FanoutRequest{
		Method:        http.MethodPut,
		PathFor:       pathForBuilder(partition, account, container, object),
		Headers:       headers,
		Body:          body,
		ContentLength: contentLength,
		ReplicaCount:  replicas,
	}
	result, err := oc.Deps.Dispatcher.Write(c.Request.Context(), it, req)
	if err != nil {
		writeProxyErr(c, err)
		return
	}
	writeBackendResult(c, result)
}

// mergeCopyHeaders implements spec.md §4.6.3's copy-header merge rule:
// destination wins for X-Object-Meta-*, source Content-Type wins unless
// the destination request explicitly overrides it.
func mergeCopyHeaders(src, dst http.Header) http.Header {
	out := cloneHeaders(dst)
	if out.Get("Content-Type") == "" {
		if ct := src.Get("Content-Type"); ct != "" {
			out.Set("Content-Type", ct)
		}
	}
	for k, vs := range src {
		lower := strings.ToLower(k)
		if strings.HasPrefix(lower, "x-object-meta-") && out.Get(k) == "" {
			out[k] = vs
		}
	}
	return out
}

// ─── POST ────────────────────────────────────────────────────────────────────

func (oc *ObjectController) handlePost(c *gin.Context) {
	account, container, object := c.Param("account"), c.Param("container"), objectName(c)
	if r := oc.authorize(c, account); r != nil {
		writeAuthResult(c, r)
		return
	}
	if err := ValidateMetadata(c.Request.Header, oc.Deps.Cfg); err != nil {
		writeProxyErr(c, err)
		return
	}
	if err := ResolveDeleteAt(c.Request.Header, time.Now()); err != nil {
		writeProxyErr(c, err)
		return
	}

	headers := cloneHeaders(c.Request.Header)
	headers.Set("X-Timestamp", NewTimestamp(time.Now()))

	if !oc.Deps.Cfg.ObjectPostAsCopy {
		partition, it, replicas := oc.Deps.candidates(account, container, object, handoffCounter(c))
		req := replication.FanoutRequest{
			Method:       http.MethodPost,
			PathFor:      pathForBuilder(partition, account, container, object),
			Headers:      headers,
			ReplicaCount: replicas,
		}
		result, err := oc.Deps.Dispatcher.WriteNoBody(c.Request.Context(), it, req)
		if err != nil {
			writeProxyErr(c, err)
			return
		}
		writeBackendResult(c, result)
		return
	}

	// post_as_copy: re-PUT the object to itself so the backend's metadata
	// is fully rewritten rather than diffed (spec.md §4.6.3).
	srcResult, err := oc.internalGet(c.Request.Context(), account, container, object)
	if err != nil {
		writeProxyErr(c, err)
		return
	}
	if srcResult.Status < 200 || srcResult.Status >= 300 {
		writeBackendResult(c, srcResult)
		return
	}
	defer srcResult.Body.Close()
	merged := mergeCopyHeaders(srcResult.Headers, headers)

	contentLength := int64(-1)
	if cl := srcResult.Headers.Get("Content-Length"); cl != "" {
		if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
			contentLength = n
		}
	}

	partition, it, replicas := oc.Deps.candidates(account, container, object, handoffCounter(c))
	req := replication.FanoutRequest{
		Method:        http.MethodPut,
		PathFor:       pathForBuilder(partition, account, container, object),
		Headers:       merged,
		Body:          srcResult.Body,
		ContentLength: contentLength,
		ReplicaCount:  replicas,
	}
	result, err := oc.Deps.Dispatcher.Write(c.Request.Context(), it, req)
	if err != nil {
		writeProxyErr(c, err)
		return
	}
	writeBackendResult(c, result)
}

// ─── DELETE ──────────────────────────────────────────────────────────────────

func (oc *ObjectController) handleDelete(c *gin.Context) {
	account, container, object := c.Param("account"), c.Param("container"), objectName(c)
	if r := oc.authorize(c, account); r != nil {
		writeAuthResult(c, r)
		return
	}

	containerEntry, err := oc.headContainer(c.Request.Context(), account, container)
	if err != nil {
		writeProxyErr(c, err)
		return
	}
	if containerEntry.Status < 200 || containerEntry.Status >= 300 {
		// spec.md §4.6.3: "on 4xx from account/container lookup, return 404
		// without touching object nodes".
		c.Status(http.StatusNotFound)
		return
	}

	if oc.Deps.Cfg.AllowVersions && containerEntry.VersionsLocation != "" {
		vw := versionedwriter.New(objectDataSource{oc: oc, account: account}, oc.softLock)
		restored, err := vw.PrepareDelete(c.Request.Context(), container, object, containerEntry.VersionsLocation)
		if err != nil {
			writeProxyErr(c, err)
			return
		}
		if restored {
			c.Status(http.StatusOK)
			return
		}
	}

	partition, it, replicas := oc.Deps.candidates(account, container, object, handoffCounter(c))
	req := replication.FanoutRequest{
		Method:       http.MethodDelete,
		PathFor:      pathForBuilder(partition, account, container, object),
		Headers:      http.Header{"X-Timestamp": []string{NewTimestamp(time.Now())}},
		ReplicaCount: replicas,
	}
	result, err := oc.Deps.Dispatcher.WriteNoBody(c.Request.Context(), it, req)
	if err != nil {
		writeProxyErr(c, err)
		return
	}
	writeBackendResult(c, result)
}

func (oc *ObjectController) softLock(key string) (func(), error) {
	return oc.Deps.Cache.SoftLock(key, 2*time.Second, 3)
}

// ─── COPY ────────────────────────────────────────────────────────────────────

// handleCopy implements spec.md §4.6.3: "equivalent to a PUT with
// X-Copy-From: <source> and the copy request's destination as the PUT
// path". It rewrites the request onto the object PUT path and reuses
// handlePut's logic verbatim.
func (oc *ObjectController) handleCopy(c *gin.Context) {
	dest := c.GetHeader("Destination")
	if dest == "" {
		writeProxyErr(c, proxyerr.Validation(http.StatusBadRequest, "COPY requires a Destination header"))
		return
	}
	dest = strings.TrimPrefix(dest, "/")
	destContainer, destObject, ok := strings.Cut(dest, "/")
	if !ok {
		writeProxyErr(c, proxyerr.Validation(http.StatusBadRequest, "malformed Destination header"))
		return
	}

	container, object := c.Param("container"), objectName(c)
	c.Request.Header.Set("X-Copy-From", "/"+container+"/"+object)
	c.Request.ContentLength = 0
	c.Request.Body = http.NoBody
	setParam(c, "container", destContainer)
	setParam(c, "object", destObject)
	oc.handlePut(c)
}

// resolveManifestCopySource implements spec.md §4.7's "Copy of a manifest"
// rule: a COPY/X-Copy-From source that is itself a large-object manifest
// resolves all its segments into a single new object, rejecting with 413
// if the segment count exceeds CONTAINER_LISTING_LIMIT. Listing one entry
// past the limit is how the overflow is detected without trusting the
// backend to report a true total.
func (oc *ObjectController) resolveManifestCopySource(ctx context.Context, account, manifest string) (io.ReadCloser, int64, error) {
	container, prefix, ok := strings.Cut(manifest, "/")
	if !ok {
		return nil, 0, proxyerr.New(proxyerr.KindManifestError, http.StatusBadGateway, "malformed X-Object-Manifest")
	}

	src := objectDataSource{oc: oc, account: account}
	limit := oc.Deps.Cfg.ContainerListingLimit
	m, err := largeobject.Resolve(ctx, src, container, prefix, limit+1)
	if err != nil {
		return nil, 0, err
	}
	if len(m.Segments) > limit {
		return nil, 0, proxyerr.Validation(http.StatusRequestEntityTooLarge, "manifest segment count exceeds container listing limit")
	}

	rl := largeobject.RateLimit{AfterSegment: oc.Deps.Cfg.RateLimitAfterSegment, PerSecond: oc.Deps.Cfg.RateLimitSegmentsPerSec}
	r, err := largeobject.Open(ctx, m, src, rl)
	if err != nil {
		return nil, 0, err
	}
	return r, m.TotalSize, nil
}

// ─── Internal GET/HEAD helpers ───────────────────────────────────────────────

func (oc *ObjectController) internalGet(ctx context.Context, account, container, object string) (replication.Result, error) {
	partition, it, _ := oc.Deps.candidates(account, container, object, nil)
	req := replication.FanoutRequest{
		Method:  http.MethodGet,
		PathFor: pathForBuilder(partition, account, container, object),
		Headers: http.Header{},
	}
	return oc.Deps.Dispatcher.Read(ctx, it, req)
}

func (oc *ObjectController) internalHead(ctx context.Context, account, container, object string) (replication.Result, error) {
	partition, it, _ := oc.Deps.candidates(account, container, object, nil)
	req := replication.FanoutRequest{
		Method:  http.MethodHead,
		PathFor: pathForBuilder(partition, account, container, object),
		Headers: http.Header{},
	}
	return oc.Deps.Dispatcher.Read(ctx, it, req)
}

// setParam overwrites an existing gin path parameter in place, falling
// back to appending it. gin.Params.Get returns the first match, so a COPY
// rewriting the destination container/object must replace the route's
// original entries rather than append new ones after them.
func setParam(c *gin.Context, key, value string) {
	for i := range c.Params {
		if c.Params[i].Key == key {
			c.Params[i].Value = value
			return
		}
	}
	c.Params = append(c.Params, gin.Param{Key: key, Value: value})
}

// objectName reassembles the wildcard object-name path parameter. The
// router has already URL-decoded it once (spec.md §4.9: "trailing
// segments kept verbatim, URL-decoded") before setting this param, so
// this just strips the leading "/" gin's wildcard convention leaves on.
func objectName(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("object"), "/")
}

// ─── objectDataSource: largeobject.Lister/Fetcher + versionedwriter.Backend ──

// objectDataSource adapts ObjectController's dispatch machinery to the
// narrow interfaces largeobject and versionedwriter depend on, closing
// over the account the rest of those packages don't need to know about.
type objectDataSource struct {
	oc      *ObjectController
	account string
}

func (s objectDataSource) ListSegments(ctx context.Context, container, prefix string, limit int) ([]largeobject.Segment, error) {
	partition, it, _ := s.oc.Deps.candidates(s.account, container, "", nil)
	q := url.Values{}
	q.Set("format", "json")
	q.Set("prefix", prefix)
	q.Set("limit", strconv.Itoa(limit))
	req := replication.FanoutRequest{
		Method:  http.MethodGet,
		PathFor: pathForBuilderQuery(partition, s.account, container, "", q.Encode()),
		Headers: http.Header{},
	}
	result, err := s.oc.Deps.Dispatcher.Read(ctx, it, req)
	if err != nil {
		return nil, err
	}
	if result.Body == nil {
		return nil, nil
	}
	defer result.Body.Close()
	if result.Status < 200 || result.Status >= 300 {
		return nil, proxyerr.New(proxyerr.KindManifestError, http.StatusBadGateway, "manifest container listing failed")
	}

	var entries []struct {
		Name         string `json:"name"`
		Bytes        int64  `json:"bytes"`
		Hash         string `json:"hash"`
		ContentType  string `json:"content_type"`
		LastModified string `json:"last_modified"`
	}
	if err := json.NewDecoder(result.Body).Decode(&entries); err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindManifestError, http.StatusBadGateway, err, "decode manifest listing")
	}

	segs := make([]largeobject.Segment, 0, len(entries))
	for _, e := range entries {
		lm, _ := time.Parse(time.RFC3339Nano, e.LastModified)
		segs = append(segs, largeobject.Segment{
			Name: e.Name, Bytes: e.Bytes, Hash: e.Hash, ContentType: e.ContentType, LastModified: lm,
		})
	}
	return segs, nil
}

func (s objectDataSource) FetchSegment(ctx context.Context, container, name, rng string) (io.ReadCloser, error) {
	partition, it, _ := s.oc.Deps.candidates(s.account, container, name, nil)
	headers := http.Header{}
	if rng != "" {
		headers.Set("Range", "bytes="+rng)
	}
	req := replication.FanoutRequest{
		Method:  http.MethodGet,
		PathFor: pathForBuilder(partition, s.account, container, name),
		Headers: headers,
	}
	result, err := s.oc.Deps.Dispatcher.Read(ctx, it, req)
	if err != nil {
		return nil, err
	}
	if result.Status < 200 || result.Status >= 300 {
		if result.Body != nil {
			result.Body.Close()
		}
		return nil, fmt.Errorf("segment %s/%s returned %d", container, name, result.Status)
	}
	if result.Body == nil {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return result.Body, nil
}

func (s objectDataSource) ContainerExists(ctx context.Context, container string) (bool, error) {
	e, err := s.oc.headContainer(ctx, s.account, container)
	if err != nil {
		return false, err
	}
	return e.Status >= 200 && e.Status < 300, nil
}

func (s objectDataSource) Copy(ctx context.Context, srcContainer, srcObject, dstContainer, dstObject string) error {
	srcResult, err := s.oc.internalGet(ctx, s.account, srcContainer, srcObject)
	if err != nil {
		return err
	}
	if srcResult.Status < 200 || srcResult.Status >= 300 {
		if srcResult.Body != nil {
			srcResult.Body.Close()
		}
		return proxyerr.New(proxyerr.KindLookupMiss, http.StatusNotFound, "copy source missing")
	}
	defer srcResult.Body.Close()

	headers := cloneHeaders(srcResult.Headers)
	headers.Set("X-Timestamp", NewTimestamp(time.Now()))
	contentLength := int64(-1)
	if cl := srcResult.Headers.Get("Content-Length"); cl != "" {
		if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
			contentLength = n
		}
	}

	partition, it, replicas := s.oc.Deps.candidates(s.account, dstContainer, dstObject, nil)
	req := replication.FanoutRequest{
		Method:        http.MethodPut,
		PathFor:       pathForBuilder(partition, s.account, dstContainer, dstObject),
		Headers:       headers,
		Body:          srcResult.Body,
		ContentLength: contentLength,
		ReplicaCount:  replicas,
	}
	_, err = s.oc.Deps.Dispatcher.Write(ctx, it, req)
	return err
}

func (s objectDataSource) Delete(ctx context.Context, container, object string) error {
	partition, it, replicas := s.oc.Deps.candidates(s.account, container, object, nil)
	req := replication.FanoutRequest{
		Method:       http.MethodDelete,
		PathFor:      pathForBuilder(partition, s.account, container, object),
		Headers:      http.Header{"X-Timestamp": []string{NewTimestamp(time.Now())}},
		ReplicaCount: replicas,
	}
	_, err := s.oc.Deps.Dispatcher.WriteNoBody(ctx, it, req)
	return err
}

func (s objectDataSource) ListVersionEntries(ctx context.Context, versionsContainer, prefix string) ([]string, error) {
	segs, err := s.ListSegments(ctx, versionsContainer, prefix, 10000)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(segs))
	for i, seg := range segs {
		names[i] = seg.Name
	}
	return names, nil
}
