package base

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/gstore/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unixConnector is a minimal connector pair for tests
type unixConnector struct{}

func (c *unixConnector) GetName() string { return "unix" }

func (c *unixConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	return net.Listen("unix", config.Transport.Endpoint)
}

func (c *unixConnector) Connect(endpoint string) (net.Conn, error) {
	return net.Dial("unix", endpoint)
}

func (c *unixConnector) UpgradeConnection(net.Conn, common.ServerConfig) error { return nil }

type unixClientConnector struct{ unixConnector }

func (c *unixClientConnector) UpgradeConnection(net.Conn, common.ClientConfig) error { return nil }

func TestFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := bytes.Repeat([]byte{0xab}, 100)
	go func() {
		_ = writeFrame(client, 3, 42, payload)
	}()

	// buffer smaller than the payload forces a temporary allocation
	shardID, requestID, data, err := readFrame(server, make([]byte, 32), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), shardID)
	assert.Equal(t, uint64(42), requestID)
	assert.Equal(t, payload, data)
}

func TestEmptyFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = writeFrame(client, 1, 2, nil)
	}()
	_, _, data, err := readFrame(server, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestFrameAboveLimit(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// only the header is sent, the reader must give up before the payload
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint64(header[:8], 1)
	binary.BigEndian.PutUint64(header[8:16], 7)
	binary.BigEndian.PutUint32(header[16:], math.MaxUint32)
	go func() {
		_, _ = client.Write(header)
	}()

	_, _, data, err := readFrame(server, nil, 1024)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Nil(t, data)
}

func TestFrameAtLimit(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := bytes.Repeat([]byte{1}, 64)
	go func() {
		_ = writeFrame(client, 1, 1, payload)
	}()
	_, _, data, err := readFrame(server, nil, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func startServer(t *testing.T, maxFrameSize int) string {
	endpoint := filepath.Join(t.TempDir(), "gstore.sock")
	st := NewBaseServerTransport(&unixConnector{}, 64)
	st.RegisterHandler(func(shardId uint64, req []byte) []byte {
		return []byte(fmt.Sprintf("%d:%s", shardId, req))
	})

	done := make(chan error, 1)
	go func() {
		done <- st.Listen(common.ServerConfig{
			TimeoutSecond: 5,
			Transport: common.ServerTransportConfig{
				Endpoint:       endpoint,
				WorkersPerConn: 4,
				MaxFrameSize:   maxFrameSize,
			},
		})
	}()
	t.Cleanup(func() {
		_ = st.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Errorf("Listen did not return after Close")
		}
	})

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", endpoint)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return endpoint
}

func TestClientServer(t *testing.T) {
	endpoint := startServer(t, 0)

	client := NewBaseClientTransport(&unixClientConnector{})
	require.NoError(t, client.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{endpoint},
			RetryCount:             2,
			ConnectionsPerEndpoint: 2,
		},
	}))
	defer client.Close()

	// concurrent requests are correlated by their request id
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{'x'}, i*10) // some exceed the server buffer
			resp, err := client.Send(uint64(i), payload)
			if assert.NoError(t, err) {
				assert.Equal(t, fmt.Sprintf("%d:%s", i, payload), string(resp))
			}
		}(i)
	}
	wg.Wait()
}

func TestClientConnectFails(t *testing.T) {
	client := NewBaseClientTransport(&unixClientConnector{})
	assert.Error(t, client.Connect(common.ClientConfig{}))
	assert.Error(t, client.Connect(common.ClientConfig{
		Transport: common.ClientTransportConfig{Endpoints: []string{filepath.Join(t.TempDir(), "missing.sock")}},
	}))
}

func TestServerDropsOversizedRequest(t *testing.T) {
	endpoint := startServer(t, 16)

	conn, err := net.Dial("unix", endpoint)
	require.NoError(t, err)
	defer conn.Close()

	// a request within the limit is answered
	require.NoError(t, writeFrame(conn, 2, 1, []byte("small")))
	_, requestID, data, err := readFrame(conn, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), requestID)
	assert.Equal(t, "2:small", string(data))

	// a larger one closes the connection without an answer
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_ = writeFrame(conn, 2, 2, bytes.Repeat([]byte{'x'}, 17))
	_, _, _, err = readFrame(conn, nil, 0)
	assert.Error(t, err)
}
