package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ValentinKolb/gstore/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	st := &httpServerTransport{}
	st.RegisterHandler(func(shardId uint64, req []byte) []byte {
		return append([]byte{byte(shardId)}, req...)
	})
	srv := httptest.NewServer(st.routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	client := NewHttpClientTransport()
	require.NoError(t, client.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{srv.URL}, RetryCount: 2},
	}))
	defer client.Close()

	resp, err := client.Send(7, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, append([]byte{7}, "ping"...), resp)
}

func TestInvalidShard(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/abc", "application/octet-stream", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// count at least one request
	_, err := http.Post(srv.URL+"/1", "application/octet-stream", strings.NewReader("x"))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "gstore_rpc_http_requests_total")
}

func TestClientErrors(t *testing.T) {
	client := NewHttpClientTransport()
	_, err := client.Send(1, nil)
	assert.Error(t, err, "send before connect")

	assert.Error(t, client.Connect(common.ClientConfig{}), "no endpoints")

	require.NoError(t, client.Connect(common.ClientConfig{
		TimeoutSecond: 1,
		Transport:     common.ClientTransportConfig{Endpoints: []string{"127.0.0.1:1"}},
	}))
	_, err = client.Send(1, []byte("x"))
	assert.Error(t, err)
}
