package controller

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"object-proxy/internal/config"
	"object-proxy/internal/transport"
)

func objectRouter(deps *Deps) *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	g := e.Group("/:account/:container/*object")
	NewObjectController(deps).Register(g)
	return e
}

const segmentListingJSON = `[` +
	`{"name":"seg/0","bytes":6,"hash":"h0","content_type":"application/octet-stream","last_modified":"2020-01-01T00:00:00Z"},` +
	`{"name":"seg/1","bytes":6,"hash":"h1","content_type":"application/octet-stream","last_modified":"2020-01-01T00:00:00Z"}` +
	`]`

func enqueueAll(ft *transport.FakeTransport, devs []string, resp transport.FakeResponse) {
	for _, d := range devs {
		ft.Enqueue(d, resp)
	}
}

func TestObjectPut_CopyFromManifestResolvesSegments(t *testing.T) {
	cfg := config.Default()
	ft := transport.NewFake()
	deps, ringDevs := testDeps(t, cfg, ft)
	devs := make([]string, len(ringDevs))
	for i, d := range ringDevs {
		devs[i] = d.String()
	}

	// 1: headContainer HEAD on the destination container.
	enqueueAll(ft, devs, transport.FakeResponse{Status: http.StatusNoContent, Headers: http.Header{}})
	// 2: internalGet on the copy source — a manifest, zero-length body.
	manifestHeaders := http.Header{"X-Object-Manifest": {"segments/seg"}, "Content-Length": {"0"}}
	enqueueAll(ft, devs, transport.FakeResponse{Status: http.StatusOK, Headers: manifestHeaders})
	// 3: ListSegments GET against the manifest's container/prefix.
	enqueueAll(ft, devs, transport.FakeResponse{Status: http.StatusOK, Headers: http.Header{}, Body: []byte(segmentListingJSON)})
	// 4: the destination PUT itself; its connections are opened before the
	// body is pumped, and the manifest body fetches its segments lazily.
	enqueueAll(ft, devs, transport.FakeResponse{ExpectStatus: http.StatusContinue, Status: http.StatusCreated, Headers: http.Header{}})
	// 5, 6: FetchSegment GETs, one per listed segment, during the body pump.
	enqueueAll(ft, devs, transport.FakeResponse{Status: http.StatusOK, Headers: http.Header{}, Body: []byte("hello1")})
	enqueueAll(ft, devs, transport.FakeResponse{Status: http.StatusOK, Headers: http.Header{}, Body: []byte("hello2")})

	e := objectRouter(deps)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/acct/dest/obj", nil)
	req.Header.Set("X-Copy-From", "/segments/seg")
	e.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestObjectPut_CopyFromManifestOverListingLimitIsTooLarge(t *testing.T) {
	cfg := config.Default()
	cfg.ContainerListingLimit = 1 // lower than the 2 segments the fake listing returns
	ft := transport.NewFake()
	deps, ringDevs := testDeps(t, cfg, ft)
	devs := make([]string, len(ringDevs))
	for i, d := range ringDevs {
		devs[i] = d.String()
	}

	enqueueAll(ft, devs, transport.FakeResponse{Status: http.StatusNoContent, Headers: http.Header{}})
	manifestHeaders := http.Header{"X-Object-Manifest": {"segments/seg"}, "Content-Length": {"0"}}
	enqueueAll(ft, devs, transport.FakeResponse{Status: http.StatusOK, Headers: manifestHeaders})
	enqueueAll(ft, devs, transport.FakeResponse{Status: http.StatusOK, Headers: http.Header{}, Body: []byte(segmentListingJSON)})

	e := objectRouter(deps)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/acct/dest/obj", nil)
	req.Header.Set("X-Copy-From", "/segments/seg")
	e.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
