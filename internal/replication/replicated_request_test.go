package replication

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"object-proxy/internal/errorlimiter"
	"object-proxy/internal/nodeiter"
	"object-proxy/internal/proxyerr"
	"object-proxy/internal/ring"
	"object-proxy/internal/transport"
)

func devices(n int) []ring.Device {
	out := make([]ring.Device, n)
	for i := range out {
		out[i] = ring.Device{ID: fmt.Sprintf("d%d", i), IP: "10.0.0.1", Port: 6000 + i, Device: fmt.Sprintf("sd%d", i), Zone: i}
	}
	return out
}

// iterFor builds a NodeIterator with no handoff candidates, since these
// tests only exercise the dispatcher's quorum/selection logic over a fixed
// primary set.
func iterFor(primaries []ring.Device) *nodeiter.Iterator {
	r, err := ring.New(4, "seed", primaries, oneRow(primaries))
	if err != nil {
		panic(err)
	}
	limiter := errorlimiter.New(1000, time.Minute)
	_, got := r.Lookup("a", "", "")
	return nodeiter.New(r, limiter, 0, got, false, nil)
}

// oneRow builds a trivial ring.New-compatible assignment: every partition
// maps to the same device per replica.
func oneRow(primaries []ring.Device) [][]string {
	partitions := 16
	out := make([][]string, len(primaries))
	for r, d := range primaries {
		row := make([]string, partitions)
		for p := range row {
			row[p] = d.ID
		}
		out[r] = row
	}
	return out
}

func pathFor(dev ring.Device) string { return "/" + dev.Device + "/0/a/c/o" }

func newDispatcher(ft *transport.FakeTransport, abort507 bool) *Dispatcher {
	return New(ft, errorlimiter.New(1000, time.Minute), Options{
		ConnectTimeout: time.Second,
		NodeTimeout:    time.Second,
		Abort507:       abort507,
	})
}

func TestWrite_QuorumScenarios(t *testing.T) {
	cases := []struct {
		name     string
		statuses []int // -1 = connect failure
		want     int
		wantErr  bool
	}{
		{"majority 2xx wins highest status", []int{200, 200, 201, 201, 500}, 201, false},
		{"too few ready connections -> 503", []int{200, 200, 201, -1, -1}, 0, true},
		{"majority same 4xx wins", []int{200, 200, 204, 404, 404}, 404, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			devs := devices(len(tc.statuses))
			ft := transport.NewFake()
			for i, d := range devs {
				addr := d.String()
				if tc.statuses[i] == -1 {
					ft.Enqueue(addr, transport.FakeResponse{ConnectErr: fmt.Errorf("dial refused")})
				} else {
					ft.Enqueue(addr, transport.FakeResponse{Status: tc.statuses[i], Headers: http.Header{}})
				}
			}

			dispatcher := newDispatcher(ft, true)
			it := iterFor(devs)
			req := FanoutRequest{
				Method:        http.MethodPut,
				PathFor:       pathFor,
				Headers:       http.Header{},
				Body:          bytes.NewReader([]byte("hello")),
				ContentLength: 5,
				ReplicaCount:  len(devs),
			}

			res, err := dispatcher.Write(context.Background(), it, req)
			if tc.wantErr {
				require.Error(t, err)
				kind, ok := proxyerr.AsKind(err)
				require.True(t, ok)
				assert.Equal(t, proxyerr.KindQuorumFailure, kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Status)
		})
	}
}

func TestWrite_InconsistentEtag(t *testing.T) {
	devs := devices(3)
	ft := transport.NewFake()
	etags := []string{"\"abc\"", "\"abc\"", "\"def\""}
	for i, d := range devs {
		h := http.Header{}
		h.Set("Etag", etags[i])
		ft.Enqueue(d.String(), transport.FakeResponse{Status: 201, Headers: h})
	}

	dispatcher := newDispatcher(ft, true)
	it := iterFor(devs)
	req := FanoutRequest{
		Method:        http.MethodPut,
		PathFor:       pathFor,
		Headers:       http.Header{},
		Body:          bytes.NewReader([]byte("x")),
		ContentLength: 1,
		ReplicaCount:  3,
	}

	_, err := dispatcher.Write(context.Background(), it, req)
	require.Error(t, err)
	kind, ok := proxyerr.AsKind(err)
	require.True(t, ok)
	assert.Equal(t, proxyerr.KindInconsistentEtag, kind)
}

func TestWrite_507AbortsImmediately(t *testing.T) {
	devs := devices(3)
	ft := transport.NewFake()
	ft.Enqueue(devs[0].String(), transport.FakeResponse{ExpectStatus: http.StatusInsufficientStorage})
	ft.Enqueue(devs[1].String(), transport.FakeResponse{ExpectStatus: http.StatusContinue, Status: 201, Headers: http.Header{}})
	ft.Enqueue(devs[2].String(), transport.FakeResponse{ExpectStatus: http.StatusContinue, Status: 201, Headers: http.Header{}})

	dispatcher := newDispatcher(ft, true)
	it := iterFor(devs)
	req := FanoutRequest{
		Method:        http.MethodPut,
		PathFor:       pathFor,
		Headers:       http.Header{},
		Body:          bytes.NewReader([]byte("x")),
		ContentLength: 1,
		ReplicaCount:  3,
	}

	_, err := dispatcher.Write(context.Background(), it, req)
	require.Error(t, err)
	kind, ok := proxyerr.AsKind(err)
	require.True(t, ok)
	assert.Equal(t, proxyerr.KindQuorumFailure, kind)
}

func TestRead_FirstTwoXXWins(t *testing.T) {
	devs := devices(3)
	ft := transport.NewFake()
	ft.Enqueue(devs[0].String(), transport.FakeResponse{Status: 404, Headers: http.Header{}})
	ft.Enqueue(devs[1].String(), transport.FakeResponse{Status: 200, Headers: http.Header{"X-Timestamp": {"2"}}})
	ft.Enqueue(devs[2].String(), transport.FakeResponse{Status: 200, Headers: http.Header{"X-Timestamp": {"1"}}})

	dispatcher := newDispatcher(ft, true)
	it := iterFor(devs)
	req := FanoutRequest{Method: http.MethodGet, PathFor: pathFor, Headers: http.Header{}, ReplicaCount: 3}

	res, err := dispatcher.Read(context.Background(), it, req)
	require.NoError(t, err)
	assert.Equal(t, 200, res.Status)
}

func TestRead_Newest_WaitsForAllAndPicksHighestTimestamp(t *testing.T) {
	devs := devices(3)
	ft := transport.NewFake()
	ft.Enqueue(devs[0].String(), transport.FakeResponse{Status: 200, Headers: http.Header{"X-Timestamp": {"100"}}})
	ft.Enqueue(devs[1].String(), transport.FakeResponse{Status: 200, Headers: http.Header{"X-Timestamp": {"300"}}})
	ft.Enqueue(devs[2].String(), transport.FakeResponse{Status: 200, Headers: http.Header{"X-Timestamp": {"200"}}})

	dispatcher := newDispatcher(ft, true)
	it := iterFor(devs)
	req := FanoutRequest{Method: http.MethodGet, PathFor: pathFor, Headers: http.Header{}, ReplicaCount: 3, Newest: true}

	res, err := dispatcher.Read(context.Background(), it, req)
	require.NoError(t, err)
	assert.Equal(t, "300", res.Headers.Get("X-Timestamp"))
}

func TestWrite_SmallChunkSizeReachesQuorum(t *testing.T) {
	devs := devices(2)
	ft := transport.NewFake()
	for _, d := range devs {
		ft.Enqueue(d.String(), transport.FakeResponse{ExpectStatus: http.StatusContinue, Status: 201, Headers: http.Header{}})
	}

	dispatcher := New(ft, errorlimiter.New(1000, time.Minute), Options{
		ConnectTimeout: time.Second,
		NodeTimeout:    time.Second,
		ChunkSize:      4,
		Abort507:       true,
	})
	it := iterFor(devs)
	body := []byte("the quick brown fox")
	req := FanoutRequest{
		Method:        http.MethodPut,
		PathFor:       pathFor,
		Headers:       http.Header{},
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
		ReplicaCount:  2,
	}

	res, err := dispatcher.Write(context.Background(), it, req)
	require.NoError(t, err)
	assert.Equal(t, 201, res.Status)
}

func TestWrite_Expect100FailureCountsAsQuorumLoss(t *testing.T) {
	devs := devices(3)
	ft := transport.NewFake()
	ft.Enqueue(devs[0].String(), transport.FakeResponse{WriteErr: fmt.Errorf("broken pipe")})
	ft.Enqueue(devs[1].String(), transport.FakeResponse{WriteErr: fmt.Errorf("broken pipe")})
	ft.Enqueue(devs[2].String(), transport.FakeResponse{ExpectStatus: http.StatusContinue, Status: 201, Headers: http.Header{}})

	dispatcher := newDispatcher(ft, true)
	it := iterFor(devs)
	req := FanoutRequest{
		Method:        http.MethodPut,
		PathFor:       pathFor,
		Headers:       http.Header{},
		Body:          bytes.NewReader([]byte("payload")),
		ContentLength: 7,
		ReplicaCount:  3,
	}

	_, err := dispatcher.Write(context.Background(), it, req)
	require.Error(t, err)
	kind, ok := proxyerr.AsKind(err)
	require.True(t, ok)
	assert.Equal(t, proxyerr.KindQuorumFailure, kind)
}
