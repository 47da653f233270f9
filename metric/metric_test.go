package metric

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/xbridge/types"
)

func TestMetrics_Record(t *testing.T) {
	m := New()
	m.Accepted()
	m.Accepted()
	m.Closed("eof")
	m.RadioSent(72)
	m.RadioSent(28)
	m.RadioReceived(4)
	m.ProtocolError("unknown_name")
	m.Flushed(120 * time.Millisecond)
	m.Drop("no_client")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsActive))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.RadioBytes.WithLabelValues("tx")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RadioFrames.WithLabelValues("tx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProtocolErrors.WithLabelValues("unknown_name")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TCPFlushes))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.RadioSent(1)
		nilMetrics.Closed("eof")
		nilMetrics.Flushed(time.Second)
	})
}

func TestServer_Routes(t *testing.T) {
	m := New()
	m.RadioSent(10)
	snap := types.Snapshot{Mode: "multiplexed", MTU: 72, Endpoints: []types.EndpointStatus{{Endpoint: "mux", Connected: true}}}

	srv := NewServer("127.0.0.1:0", NewRegistry(m), func() types.Snapshot { return snap }, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/status")
	require.NoError(t, err)
	var got types.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, 72, got.MTU)
	require.Len(t, got.Endpoints, 1)
	assert.True(t, got.Endpoints[0].Connected)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body := new(strings.Builder)
	_, _ = io.Copy(body, resp.Body)
	resp.Body.Close()
	assert.Contains(t, body.String(), `xbridge_radio_bytes_total{direction="tx"} 10`)
}
