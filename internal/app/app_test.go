package app

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"object-proxy/internal/config"
	"object-proxy/internal/controller"
	"object-proxy/internal/errorlimiter"
	"object-proxy/internal/lookupcache"
	"object-proxy/internal/metrics"
	"object-proxy/internal/replication"
	"object-proxy/internal/ring"
	"object-proxy/internal/transport"
)

// testRing builds a 3-replica ring whose two partitions both map to the
// same three devices, so a write needs all
// 3 devices to ack (quorumRequired(3) == 3) and a read can pick among them.
func testRing(t *testing.T) (*ring.Ring, []ring.Device) {
	t.Helper()
	devs := []ring.Device{
		{ID: "d0", IP: "127.0.0.1", Port: 6000, Device: "sda", Zone: 0},
		{ID: "d1", IP: "127.0.0.1", Port: 6001, Device: "sdb", Zone: 1},
		{ID: "d2", IP: "127.0.0.1", Port: 6002, Device: "sdc", Zone: 2},
	}
	partitions := 2
	rows := make([][]string, len(devs))
	for r, d := range devs {
		row := make([]string, partitions)
		for i := range row {
			row[i] = d.ID
		}
		rows[r] = row
	}
	r, err := ring.New(1, "seed", devs, rows)
	require.NoError(t, err)
	return r, devs
}

func newTestApp(t *testing.T, cfg config.Config, ft *transport.FakeTransport) (*Application, []ring.Device) {
	t.Helper()
	r, devs := testRing(t)
	limiter := errorlimiter.New(cfg.ErrorSuppressionLimit, cfg.ErrorSuppressionInterval())
	dispatcher := replication.New(ft, limiter, replication.Options{
		ConnectTimeout: time.Second,
		NodeTimeout:    time.Second,
		Abort507:       cfg.Abort507,
	})
	deps := &controller.Deps{
		Ring:       r,
		Limiter:    limiter,
		Dispatcher: dispatcher,
		Cache:      lookupcache.NewMemCache(),
		Cfg:        cfg,
		Metrics:    metrics.New(),
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(deps, log), devs
}

func baseConfig() config.Config {
	cfg := config.Default()
	cfg.ListenAddr = ":0"
	cfg.ErrorSuppressionLimit = 1000
	cfg.ErrorSuppressionIntervalSeconds = 60
	return cfg
}

func TestDispatch_RootIsNotFound(t *testing.T) {
	app, _ := newTestApp(t, baseConfig(), transport.NewFake())
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	app.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "0", w.Header().Get("Content-Length"))
}

func TestDispatch_V1AloneIsPreconditionFailed(t *testing.T) {
	app, _ := newTestApp(t, baseConfig(), transport.NewFake())
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1", nil)
	app.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestDispatch_DeniedHostIsForbidden(t *testing.T) {
	cfg := baseConfig()
	cfg.DenyHostHeaders = []string{"evil.example"}
	app, _ := newTestApp(t, cfg, transport.NewFake())
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/acct", nil)
	req.Host = "evil.example"
	app.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDispatch_ObjectMethodNotAllowed(t *testing.T) {
	app, _ := newTestApp(t, baseConfig(), transport.NewFake())
	w := httptest.NewRecorder()
	req := httptest.NewRequest("TRACE", "/v1/a/c/o", nil)
	app.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestDispatch_AccountAutocreate(t *testing.T) {
	cfg := baseConfig()
	cfg.AccountAutocreate = true
	ft := transport.NewFake()
	_, devs := testRing(t)
	// First HEAD: every device reports missing. Autocreate PUT needs a full
	// 3/3 quorum (quorumRequired(3) == 3). Second HEAD: every device now 204.
	for _, d := range devs {
		ft.Enqueue(d.String(), transport.FakeResponse{Status: http.StatusNotFound, Headers: http.Header{}})
		ft.Enqueue(d.String(), transport.FakeResponse{ExpectStatus: http.StatusContinue, Status: http.StatusCreated, Headers: http.Header{}})
		ft.Enqueue(d.String(), transport.FakeResponse{Status: http.StatusNoContent, Headers: http.Header{}})
	}

	app, _ := newTestApp(t, cfg, ft)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodHead, "/v1/newacct", nil)
	app.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDispatch_AccountAutocreateDenied(t *testing.T) {
	cfg := baseConfig()
	cfg.AccountAutocreate = true
	ft := transport.NewFake()
	_, devs := testRing(t)
	// Every device reports the account missing, then every device denies
	// the autocreate PUT outright (403). The client must see that denial,
	// not a second read that would just report 404 again.
	for _, d := range devs {
		ft.Enqueue(d.String(), transport.FakeResponse{Status: http.StatusNotFound, Headers: http.Header{}})
		ft.Enqueue(d.String(), transport.FakeResponse{Status: http.StatusForbidden, Headers: http.Header{}})
	}

	app, _ := newTestApp(t, cfg, ft)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodHead, "/v1/newacct", nil)
	app.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDispatch_AccountAutocreateDisabled(t *testing.T) {
	cfg := baseConfig()
	cfg.AccountAutocreate = false
	ft := transport.NewFake()
	_, devs := testRing(t)
	for _, d := range devs {
		ft.Enqueue(d.String(), transport.FakeResponse{Status: http.StatusNotFound, Headers: http.Header{}})
	}

	app, _ := newTestApp(t, cfg, ft)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodHead, "/v1/newacct", nil)
	app.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDispatch_DebugNodesEndpoint(t *testing.T) {
	app, _ := newTestApp(t, baseConfig(), transport.NewFake())
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/nodes", nil)
	app.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDispatch_DebugRingDevices(t *testing.T) {
	app, devs := newTestApp(t, baseConfig(), transport.NewFake())
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/ring/devices", nil)
	app.Engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), devs[0].ID)
}

func TestDispatch_DebugRingLookup(t *testing.T) {
	app, devs := newTestApp(t, baseConfig(), transport.NewFake())
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/ring/someacct/somecontainer", nil)
	app.Engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	for _, d := range devs {
		assert.Contains(t, w.Body.String(), d.ID)
	}
}
