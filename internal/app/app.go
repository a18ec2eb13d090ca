// Package app wires the proxy's gin.Engine together: path parsing and
// dispatch (spec.md §4.9), middleware, and the controllers, from a single
// Deps bundle supplied by cmd/proxyd.
package app

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"object-proxy/internal/controller"
	"object-proxy/internal/httpmw"
	"object-proxy/internal/metrics"
	"object-proxy/internal/nodeiter"
)

var errInvalidUTF8 = errors.New("app: path segment is not valid UTF-8")

// Application builds and owns the gin.Engine that serves every request.
type Application struct {
	Engine *gin.Engine
	deps   *controller.Deps

	// accountRouter, containerRouter, and objectRouter are built once at
	// construction, not per request: each is a minimal gin.Engine whose
	// sole purpose is to let the controllers' existing Register(gin.IRoutes)
	// methods populate a method→handler table that dispatch() then reuses
	// for every matching request.
	accountRouter   *gin.Engine
	containerRouter *gin.Engine
	objectRouter    *gin.Engine
}

// New constructs an Application, registering middleware and routes in this
// order: transaction ID first, then logging, then the deny-host check, then
// content-length enforcement, then panic recovery (inside the
// content-length writer, so its 500 reply is flushed with a length), then
// handoff counting, then dispatch.
func New(deps *controller.Deps, log *logrus.Logger) *Application {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(
		httpmw.TransIDMiddleware(),
		httpmw.Logger(log),
		denyHostMiddleware(deps),
		httpmw.EnforceContentLength(),
		httpmw.Recovery(log),
		httpmw.HandoffCounter(deps.Metrics, deps.Cfg.LogHandoffs),
	)

	a := &Application{
		Engine:          engine,
		deps:            deps,
		accountRouter:   resourceRouter(func(g gin.IRoutes) { controller.NewAccountController(deps).Register(g) }),
		containerRouter: resourceRouter(func(g gin.IRoutes) { controller.NewContainerController(deps).Register(g) }),
		objectRouter:    resourceRouter(func(g gin.IRoutes) { controller.NewObjectController(deps).Register(g) }),
	}
	a.registerRoutes()
	return a
}

// resourceRouter builds a bare gin.Engine (no middleware of its own — the
// outer Application's middleware already ran) purely to host one
// controller's verb handlers.
func resourceRouter(register func(gin.IRoutes)) *gin.Engine {
	e := gin.New()
	e.HandleMethodNotAllowed = false
	register(&e.RouterGroup)
	return e
}

// denyHostMiddleware rejects any request whose Host header matches
// deny_host_headers with 403, before any controller runs (spec.md §4.9).
func denyHostMiddleware(deps *controller.Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Cfg.HostDenied(c.Request.Host) {
			c.Writer.Header().Set("Content-Length", "0")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

// registerRoutes implements spec.md §4.9's path-parsing table. gin's
// router can't express "/v1" and "/v1/:account" and the object wildcard
// as one tree without ambiguity warnings, so dispatch is done by hand in
// a single catch-all handler instead of relying on gin's route table for
// the variable-depth /v1/... segments.
func (a *Application) registerRoutes() {
	a.Engine.NoRoute(a.dispatch)
	a.Engine.GET("/", notFound)
	a.Engine.NoMethod(a.dispatch)

	debug := a.Engine.Group("/debug")
	registerDebugRoutes(debug, a.deps)
}

func notFound(c *gin.Context) {
	c.Writer.Header().Set("Content-Length", "0")
	c.Status(http.StatusNotFound)
}

var objectMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPut: true,
	http.MethodPost: true, http.MethodDelete: true, "COPY": true,
}

var containerMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPut: true,
	http.MethodPost: true, http.MethodDelete: true,
}

var accountMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPut: true,
	http.MethodPost: true, http.MethodDelete: true,
}

// dispatch implements the full /v1/<account>[/<container>[/<object>]]
// parse-and-route table by hand (spec.md §4.9), since the object segment
// is a greedy wildcard that must survive embedded slashes verbatim.
func (a *Application) dispatch(c *gin.Context) {
	// EscapedPath, not Path: segments are decoded exactly once below, by
	// us, so an object name containing a literal "%2F" isn't silently
	// turned into a path separator by net/http's own decoding first.
	path := c.Request.URL.EscapedPath()

	if path == "/" {
		notFound(c)
		return
	}

	trimmed := strings.TrimPrefix(path, "/")
	segments := strings.SplitN(trimmed, "/", 3)

	if segments[0] != "v1" {
		notFound(c)
		return
	}
	if len(segments) == 1 {
		c.Writer.Header().Set("Content-Length", "0")
		c.Status(http.StatusPreconditionFailed)
		return
	}

	account, err := decodeSegment(segments[1])
	if err != nil {
		preconditionFailed(c)
		return
	}

	if len(segments) == 2 || segments[2] == "" {
		a.dispatchVerb(c, accountMethods, a.accountRouter, func(c *gin.Context) {
			c.Params = append(c.Params, gin.Param{Key: "account", Value: account})
		})
		return
	}

	rest := segments[2]
	container, objectPart, hasObject := strings.Cut(rest, "/")
	container, err = decodeSegment(container)
	if err != nil {
		preconditionFailed(c)
		return
	}

	if !hasObject || objectPart == "" {
		a.dispatchVerb(c, containerMethods, a.containerRouter, func(c *gin.Context) {
			c.Params = append(c.Params,
				gin.Param{Key: "account", Value: account},
				gin.Param{Key: "container", Value: container},
			)
		})
		return
	}

	// Decode the whole trailing object path in one shot — it is allowed to
	// contain embedded (already-delimiting) slashes verbatim, so it is not
	// re-split segment by segment the way account/container are.
	decodedObject, err := decodeURLSegment(objectPart)
	if err != nil || !utf8.ValidString(decodedObject) {
		preconditionFailed(c)
		return
	}

	a.dispatchVerb(c, objectMethods, a.objectRouter, func(c *gin.Context) {
		c.Params = append(c.Params,
			gin.Param{Key: "account", Value: account},
			gin.Param{Key: "container", Value: container},
			gin.Param{Key: "object", Value: "/" + decodedObject},
		)
	})
}

// decodeSegment URL-decodes one path segment and rejects the result if it
// isn't valid UTF-8 (spec.md §4.9: "non-UTF-8 in decoded segments ⇒ 412").
func decodeSegment(seg string) (string, error) {
	decoded, err := decodeURLSegment(seg)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(decoded) {
		return "", errInvalidUTF8
	}
	return decoded, nil
}

func preconditionFailed(c *gin.Context) {
	c.Writer.Header().Set("Content-Length", "0")
	c.Status(http.StatusPreconditionFailed)
}

// methodAllowed rejects methods the controller doesn't implement, and
// method names that look like reflected/private Go identifiers rather
// than real HTTP verbs (spec.md §4.9: names starting with "_" or
// containing characters outside the HTTP token grammar ⇒ 405).
func methodAllowed(method string, allowed map[string]bool) bool {
	if method == "" || strings.HasPrefix(method, "_") {
		return false
	}
	for _, r := range method {
		if r <= 0x20 || r >= 0x7f {
			return false
		}
	}
	return allowed[method]
}

// dispatchVerb validates the resolved resource's method set, attaches the
// resolved path parameters, and runs the handler the resource's pre-built
// router registered for the request method (spec.md §4.9's per-resource
// method table) on this same gin.Context, so the handler sees the
// parameters set here.
func (a *Application) dispatchVerb(c *gin.Context, allowed map[string]bool, router *gin.Engine, setParams func(*gin.Context)) {
	if !methodAllowed(c.Request.Method, allowed) {
		c.Writer.Header().Set("Content-Length", "0")
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	setParams(c)
	for _, route := range router.Routes() {
		if route.Method == c.Request.Method {
			route.HandlerFunc(c)
			return
		}
	}
	c.Writer.Header().Set("Content-Length", "0")
	c.Status(http.StatusMethodNotAllowed)
}

func registerDebugRoutes(g *gin.RouterGroup, deps *controller.Deps) {
	g.GET("/nodes", func(c *gin.Context) {
		snaps := deps.Limiter.Snapshots()
		out := make([]gin.H, 0, len(snaps))
		for _, s := range snaps {
			out = append(out, gin.H{
				"node_id":    s.NodeID,
				"errors":     s.Errors,
				"suppressed": s.Suppressed,
			})
		}
		c.JSON(http.StatusOK, out)
	})
	g.POST("/nodes/:id/reset", func(c *gin.Context) {
		deps.Limiter.Reset(c.Param("id"))
		c.Status(http.StatusNoContent)
	})
	// A single catch-all handles both "/ring/devices" (the flat device
	// dump) and "/ring/:account/:container?/:object?" (a resolved
	// lookup) — gin's tree rejects a static child and a catch-all
	// sibling at the same level, so the split happens by hand instead.
	g.GET("/ring/*path", func(c *gin.Context) {
		ringDebug(c, deps)
	})
	g.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, metricsSnapshotJSON(deps.Metrics))
	})
}

// ringDebug serves SPEC_FULL.md §6's ring introspection surface:
// "/ring/devices" dumps the flat device table, anything else is read as
// "/ring/:account/:container?/:object?" and returns the resolved
// partition plus the ordered node list (primaries then handoffs,
// skipping error-limited nodes) a live request for that path would try.
func ringDebug(c *gin.Context, deps *controller.Deps) {
	segments := strings.Split(strings.Trim(c.Param("path"), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		c.Status(http.StatusNotFound)
		return
	}

	if segments[0] == "devices" && len(segments) == 1 {
		devs := deps.Ring.Devices()
		out := make([]gin.H, 0, len(devs))
		for _, d := range devs {
			out = append(out, gin.H{
				"id": d.ID, "device": d.Device, "ip": d.IP, "port": d.Port,
				"zone": d.Zone,
			})
		}
		c.JSON(http.StatusOK, out)
		return
	}

	account := segments[0]
	var container, object string
	if len(segments) > 1 {
		container = segments[1]
	}
	if len(segments) > 2 {
		object = strings.Join(segments[2:], "/")
	}

	partition, primaries := deps.Ring.Lookup(account, container, object)
	it := nodeiter.New(deps.Ring, deps.Limiter, partition, primaries, false, nil)
	nodes := make([]gin.H, 0, len(primaries))
	for {
		d, ok := it.Next()
		if !ok {
			break
		}
		nodes = append(nodes, gin.H{
			"id": d.ID, "device": d.Device, "ip": d.IP, "port": d.Port,
			"zone": d.Zone,
		})
	}
	c.JSON(http.StatusOK, gin.H{"partition": partition, "nodes": nodes})
}

func metricsSnapshotJSON(m *metrics.Counters) gin.H {
	s := m.Snapshot()
	return gin.H{
		"handoff_warnings":  s.HandoffWarnings,
		"quorum_failures":   s.QuorumFailures,
		"error_limit_trips": s.ErrorLimitTrips,
	}
}

// decodeURLSegment percent-decodes one raw path segment the way gin's own
// router would before handing it to handlers.
func decodeURLSegment(seg string) (string, error) {
	return url.PathUnescape(seg)
}
