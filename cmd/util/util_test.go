package util

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashString(t *testing.T) {
	assert.Equal(t, HashString("node-1"), HashString("node-1"))
	assert.NotEqual(t, HashString("node-1"), HashString("node-2"))
	assert.NotZero(t, HashString(""))
}

func TestWriteResult(t *testing.T) {
	v := struct {
		Name  string `json:"name" yaml:"name"`
		Count int    `json:"count" yaml:"count"`
	}{"vertex", 3}

	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, "json", v))
	assert.JSONEq(t, `{"name":"vertex","count":3}`, buf.String())

	buf.Reset()
	require.NoError(t, WriteResult(&buf, "yaml", v))
	assert.YAMLEq(t, "name: vertex\ncount: 3\n", buf.String())

	assert.Error(t, WriteResult(&buf, "xml", v))
}

func TestWrapString(t *testing.T) {
	wrapped := WrapString("a b c d e f g h i j k l m n o p q r s t u v w x y z a b c d e f g h i j k l m n o p q r s t u v w x y z")
	for _, line := range bytes.Split([]byte(wrapped), []byte("\n")) {
		assert.LessOrEqual(t, len(line), 80)
	}
}

func TestGetClientConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("transport-endpoints", "localhost:1,localhost:2")
	viper.Set("transport-write-buffer", 2)
	viper.Set("shard", 5)

	conf := GetClientConfig()
	assert.Equal(t, []string{"localhost:1", "localhost:2"}, conf.Transport.Endpoints)
	assert.Equal(t, 2048, conf.Transport.SocketConf.WriteBufferSize)
	assert.Equal(t, uint64(5), GetShardID())

	viper.Set("transport", "carrier-pigeon")
	_, err := GetClientTransport()
	assert.Error(t, err)
}
