package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkym/matrixsync/pkg/matrix"
)

func TestSyncFinishedCountsOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SyncFinished(matrix.OutcomeSuccess, 10*time.Millisecond)
	m.SyncFinished(matrix.OutcomeSuccess, 20*time.Millisecond)
	m.SyncFinished(matrix.OutcomeHTTPError, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SyncRequestsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncRequestsTotal.WithLabelValues("http_error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.SyncRequestDuration))
}

func TestStreamRestarted(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.StreamRestarted(&matrix.HTTPStatusError{Method: "GET", Path: "/sync", StatusCode: 502})
	m.StreamRestarted(&matrix.HTTPStatusError{Method: "GET", Path: "/sync", StatusCode: 429})
	m.StreamRestarted(io.ErrUnexpectedEOF)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StreamRestarts.WithLabelValues("http_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamRestarts.WithLabelValues("transport_error")))
}

func TestSnapshotEmitted(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	limited := true
	snapshot := &matrix.SyncResponse{
		NextBatch: "s1",
		Rooms: &matrix.Rooms{
			Join: map[string]matrix.JoinedRoom{
				"!a:b": {Timeline: &matrix.Timeline{
					Events:  []matrix.RoomEvent{{Type: "m.room.message"}, {Type: "m.room.message"}},
					Limited: &limited,
				}},
			},
			Leave: map[string]matrix.LeftRoom{"!c:d": {}},
		},
		Presence: &matrix.Presence{Events: []matrix.Event{{Type: "m.presence"}}},
	}

	m.SnapshotEmitted(snapshot)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RoomUpdatesTotal))
	assert.Greater(t, testutil.ToFloat64(m.LastSnapshotTime), 0.0)
}

func TestTrackStream(t *testing.T) {
	homeserver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"next_batch":"s"}`))
	}))
	defer homeserver.Close()

	client, err := matrix.NewClient(matrix.ClientConfig{HomeserverURL: homeserver.URL})
	require.NoError(t, err)

	m := NewMetrics(prometheus.NewRegistry())
	stream := client.StartEventPolling(context.Background(), "t", matrix.PollOptions{Observer: m})
	m.TrackStream(stream)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams))

	<-stream.Updates()
	stream.Cancel()
	<-stream.Done()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ActiveStreams) == 0
	}, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.SnapshotsTotal), 1.0)
}

func TestServerHandler(t *testing.T) {
	s := NewServer(ServerConfig{})
	s.GetMetrics().SyncFinished(matrix.OutcomeSuccess, time.Second)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	tests := []struct {
		path       string
		wantStatus int
		contains   string
	}{
		{"/metrics", http.StatusOK, "matrixsync_sync_requests_total"},
		{"/health", http.StatusOK, `"status":"healthy"`},
		{"/", http.StatusOK, "matrixsync metrics"},
		{"/missing", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.True(t, strings.Contains(string(body), tt.contains))
		})
	}
}

func TestServerDefaults(t *testing.T) {
	s := NewServer(ServerConfig{})
	assert.Equal(t, DefaultAddr, s.addr)
	assert.NotNil(t, s.GetRegistry())
}
