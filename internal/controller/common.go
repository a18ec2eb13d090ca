// Package controller implements the per-resource verb handlers spec.md
// §4.6 describes: AccountController, ContainerController, and
// ObjectController, all built on top of the ring, the lookup cache, and the
// replicated-request fan-out engine.
package controller

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"object-proxy/internal/config"
	"object-proxy/internal/errorlimiter"
	"object-proxy/internal/lookupcache"
	"object-proxy/internal/metrics"
	"object-proxy/internal/nodeiter"
	"object-proxy/internal/proxyerr"
	"object-proxy/internal/replication"
	"object-proxy/internal/ring"
)

// AuthResult is what an authorize hook returns to short-circuit a request;
// any non-nil result is sent to the client as-is (spec.md §4.6: "any
// non-null return short-circuits with that response").
type AuthResult struct {
	Status int
	Body   string
}

// AuthFunc is the environment-supplied authorization callable controllers
// consult before doing anything else.
type AuthFunc func(req *http.Request, account string) *AuthResult

// Deps bundles everything every controller needs, injected once at
// Application construction (spec.md §9's "Global error-limiter and cache"
// redesign cue: explicit dependencies, no module-level state).
type Deps struct {
	Ring       *ring.Ring
	Limiter    *errorlimiter.Limiter
	Dispatcher *replication.Dispatcher
	Cache      lookupcache.Cache
	Cfg        config.Config
	Metrics    *metrics.Counters
	Authorize  AuthFunc
}

// candidates resolves the ring partition and builds a NodeIterator over its
// primaries + lazy handoffs, wired to this Deps' ErrorLimiter and
// log_handoffs setting. onHandoff, if the caller wants to observe handoff
// substitutions, is invoked once per substitution.
func (d *Deps) candidates(account, container, object string, onHandoff func(ring.Device)) (partition int, it *nodeiter.Iterator, replicaCount int) {
	partition, primaries := d.Ring.Lookup(account, container, object)
	it = nodeiter.New(d.Ring, d.Limiter, partition, primaries, d.Cfg.LogHandoffs, onHandoff)
	return partition, it, len(primaries)
}

// backendPath builds the "/device/partition/account[/container[/object]]"
// path spec.md §6 specifies for backend requests.
func backendPath(dev ring.Device, partition int, account, container, object string) string {
	p := fmt.Sprintf("/%s/%d/%s", dev.Device, partition, account)
	if container != "" {
		p += "/" + container
	}
	if object != "" {
		p += "/" + object
	}
	return p
}

func pathForBuilder(partition int, account, container, object string) func(ring.Device) string {
	return func(dev ring.Device) string {
		return backendPath(dev, partition, account, container, object)
	}
}

// pathForBuilderQuery is pathForBuilder plus a raw query string (used for
// container listing requests: ?format=json&prefix=...).
func pathForBuilderQuery(partition int, account, container, object, query string) func(ring.Device) string {
	return func(dev ring.Device) string {
		p := backendPath(dev, partition, account, container, object)
		if query != "" {
			p += "?" + query
		}
		return p
	}
}

// cloneHeaders makes a defensive copy so mutating a request's headers (e.g.
// converting X-Remove-* to an empty value) never affects the caller's
// original http.Header.
func cloneHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// ─── Metadata constraints (spec.md §4.6.3's table) ─────────────────────────

// ValidateMetadata enforces the meta-key/value length, count, and
// overall-size limits PUT/POST requests are bound by, returning a
// *proxyerr.Error (400) on the first violation. It mutates headers in
// place, converting any X-Remove-<Foo> header into X-<Foo> with an empty
// value, the way spec.md's table specifies.
func ValidateMetadata(headers http.Header, cfg config.Config) error {
	count := 0
	overall := 0
	for k, vs := range headers {
		if !strings.HasPrefix(strings.ToLower(k), "x-object-meta-") &&
			!strings.HasPrefix(strings.ToLower(k), "x-container-meta-") &&
			!strings.HasPrefix(strings.ToLower(k), "x-account-meta-") {
			continue
		}
		count++
		if count > cfg.MaxMetaCount {
			return proxyerr.Validation(http.StatusBadRequest, "too many metadata headers")
		}
		if len(k) > cfg.MaxMetaNameLength {
			return proxyerr.Validation(http.StatusBadRequest, fmt.Sprintf("metadata key %q too long", k))
		}
		for _, v := range vs {
			if len(v) > cfg.MaxMetaValueLength {
				return proxyerr.Validation(http.StatusBadRequest, fmt.Sprintf("metadata value for %q too long", k))
			}
			overall += len(k) + len(v)
			if overall > cfg.MaxMetaOverallSize {
				return proxyerr.Validation(http.StatusBadRequest, "metadata exceeds overall size limit")
			}
		}
	}
	applyRemoveHeaders(headers)
	return nil
}

// applyRemoveHeaders converts "X-Remove-Foo: anything" into "X-Foo: "
// (empty value), which backends interpret as "delete this metadata key".
func applyRemoveHeaders(headers http.Header) {
	for k := range headers {
		lower := strings.ToLower(k)
		const prefix = "x-remove-"
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		target := "X-" + k[len("X-Remove-"):]
		headers.Del(k)
		headers.Set(target, "")
	}
}

// ─── X-Delete-After / X-Delete-At ───────────────────────────────────────────

// ResolveDeleteAt converts an X-Delete-After: N header into an absolute
// X-Delete-At before dispatch (spec.md §4.6.3). A negative or non-integer
// value is a validation error.
func ResolveDeleteAt(headers http.Header, now time.Time) error {
	after := headers.Get("X-Delete-After")
	if after == "" {
		if at := headers.Get("X-Delete-At"); at != "" {
			if n, err := strconv.ParseInt(at, 10, 64); err != nil || n < 0 {
				return proxyerr.Validation(http.StatusBadRequest, "invalid X-Delete-At")
			}
		}
		return nil
	}
	n, err := strconv.ParseInt(after, 10, 64)
	if err != nil || n < 0 {
		return proxyerr.Validation(http.StatusBadRequest, "invalid X-Delete-After")
	}
	headers.Del("X-Delete-After")
	headers.Set("X-Delete-At", strconv.FormatInt(now.Unix()+n, 10))
	return nil
}

// ─── ACL validation ──────────────────────────────────────────────────────────

// CleanACL validates a container ACL header's syntax: a comma-separated
// list of entries, none of them empty or containing control characters.
// Invalid syntax is a 400 (spec.md §4.6.2: "raises on invalid syntax").
func CleanACL(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	parts := strings.Split(value, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return "", proxyerr.Validation(http.StatusBadRequest, "empty ACL entry")
		}
		for _, r := range p {
			if r < 0x20 {
				return "", proxyerr.Validation(http.StatusBadRequest, "control character in ACL entry")
			}
		}
		cleaned = append(cleaned, p)
	}
	return strings.Join(cleaned, ","), nil
}

// ─── Request timestamp ───────────────────────────────────────────────────────

// NewTimestamp formats now as the monotonic microsecond string spec.md §6
// requires backends receive as X-Timestamp.
func NewTimestamp(now time.Time) string {
	return strconv.FormatInt(now.UnixMicro(), 10)
}

// withTimeout is a small helper so controllers don't repeat the
// context.WithTimeout/defer cancel dance for the whole-request deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
