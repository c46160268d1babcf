package metrics

import (
	"fmt"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestRelayCounters(t *testing.T) {
	r := New()
	r.ConnectionAccepted()
	r.ConnectionAccepted()
	r.Connections(2)
	r.ConnectionClosed()
	r.Connections(1)
	r.ConnectionRefused()
	r.BytesRelayed(5)
	r.BytesRelayed(7)
	r.Iteration()
	r.WaitFailed()

	assert.Equal(t, float64(1), testutil.ToFloat64(r.connections))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.accepted))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.closed))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.refused))
	assert.Equal(t, float64(12), testutil.ToFloat64(r.bytes))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.iterations))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.waitErrors))
}

func TestConnectionsGaugeFollowsRegistry(t *testing.T) {
	r := New()
	r.ConnectionAccepted()
	r.ConnectionAccepted()
	r.Connections(2)

	// shutdown closes both peers without a ConnectionClosed for either
	r.Connections(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(r.connections))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.closed))
}

func TestListenAndServe(t *testing.T) {
	r := New()
	r.BytesRelayed(42)

	srv, addr, err := r.ListenAndServe("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "pollrelay_relayed_bytes_total 42"))
}
