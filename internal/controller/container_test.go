package controller

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"object-proxy/internal/config"
	"object-proxy/internal/errorlimiter"
	"object-proxy/internal/lookupcache"
	"object-proxy/internal/metrics"
	"object-proxy/internal/replication"
	"object-proxy/internal/ring"
	"object-proxy/internal/transport"
)

// testDeps builds a 3-device, 3-replica ring so a write needs full
// agreement (quorumRequired(3) == 3), matching internal/app's test ring.
func testDeps(t *testing.T, cfg config.Config, ft *transport.FakeTransport) (*Deps, []ring.Device) {
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

	limiter := errorlimiter.New(1000, time.Minute)
	dispatcher := replication.New(ft, limiter, replication.Options{
		ConnectTimeout: time.Second,
		NodeTimeout:    time.Second,
		Abort507:       cfg.Abort507,
	})
	return &Deps{
		Ring:       r,
		Limiter:    limiter,
		Dispatcher: dispatcher,
		Cache:      lookupcache.NewMemCache(),
		Cfg:        cfg,
		Metrics:    metrics.New(),
	}, devs
}

func containerRouter(deps *Deps) *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	g := e.Group("/:account/:container")
	NewContainerController(deps).Register(g)
	return e
}

func TestContainerPut_AutocreateDenied(t *testing.T) {
	cfg := config.Default()
	cfg.AccountAutocreate = true
	ft := transport.NewFake()
	deps, devs := testDeps(t, cfg, ft)
	for _, d := range devs {
		// headAccount's HEAD: account missing everywhere.
		ft.Enqueue(d.String(), transport.FakeResponse{Status: http.StatusNotFound, Headers: http.Header{}})
		// ensureAccount's autocreate PUT: denied everywhere.
		ft.Enqueue(d.String(), transport.FakeResponse{Status: http.StatusForbidden, Headers: http.Header{}})
	}

	e := containerRouter(deps)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/acct/newcontainer", nil)
	e.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestContainerPut_AutocreateDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.AccountAutocreate = false
	ft := transport.NewFake()
	deps, devs := testDeps(t, cfg, ft)
	for _, d := range devs {
		ft.Enqueue(d.String(), transport.FakeResponse{Status: http.StatusNotFound, Headers: http.Header{}})
	}

	e := containerRouter(deps)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/acct/newcontainer", nil)
	e.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContainerPut_AccountExistsSucceeds(t *testing.T) {
	cfg := config.Default()
	cfg.AccountAutocreate = true
	ft := transport.NewFake()
	deps, devs := testDeps(t, cfg, ft)
	for _, d := range devs {
		ft.Enqueue(d.String(), transport.FakeResponse{Status: http.StatusNoContent, Headers: http.Header{}})
		ft.Enqueue(d.String(), transport.FakeResponse{Status: http.StatusCreated, Headers: http.Header{}})
	}

	e := containerRouter(deps)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/acct/newcontainer", nil)
	e.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
}
