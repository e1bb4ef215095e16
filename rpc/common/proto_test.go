package common

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ValentinKolb/gstore/lib/backend"
	"github.com/ValentinKolb/gstore/lib/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandEnvelope(t *testing.T) {
	resp := raft.CommandResponse{Status: false, Message: "store doesn't accept entries of type vertex", Code: backend.RetCInvalidOperation}
	msg := NewCommandResponse(resp)
	assert.Equal(t, MsgTCommand, msg.MsgType)
	assert.False(t, msg.Ok)
	assert.Equal(t, resp, msg.CommandResponse())

	ok := NewCommandResponse(raft.CommandResponse{Status: true, Data: []byte{1}})
	assert.Equal(t, raft.CommandResponse{Status: true, Data: []byte{1}}, ok.CommandResponse())
}

func TestSnowflakeResponse(t *testing.T) {
	ids := []int64{1, 1 << 40, 1<<62 + 5}
	msg := NewSnowflakeResponse(ids, nil)
	assert.Len(t, msg.Value, 24)

	got, err := msg.SnowflakeIDs()
	require.NoError(t, err)
	assert.Equal(t, ids, got)

	failed := NewSnowflakeResponse(nil, errors.New("clock moved backwards"))
	assert.Equal(t, "clock moved backwards", failed.Err)
	assert.Nil(t, failed.Value)

	_, err = (&Message{Value: []byte{1, 2, 3}}).SnowflakeIDs()
	assert.Error(t, err)
}

func TestMessageTypeJSON(t *testing.T) {
	for _, mt := range []MessageType{MsgTUnknown, MsgTSuccess, MsgTError, MsgTCommand, MsgTRead, MsgTSnowflake, MsgTInfo} {
		t.Run(mt.String(), func(t *testing.T) {
			data, err := json.Marshal(mt)
			require.NoError(t, err)
			assert.Equal(t, `"`+mt.String()+`"`, string(data))

			var got MessageType
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, mt, got)
		})
	}

	var mt MessageType
	assert.Error(t, json.Unmarshal([]byte(`"set"`), &mt))
	assert.Error(t, json.Unmarshal([]byte(`"custom"`), &mt))
}

func TestLogLevels(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "warning", "error"} {
		assert.True(t, ValidLogLevel(level), level)
		assert.NotPanics(t, func() { parseLogLevel(level) })
	}
	assert.False(t, ValidLogLevel("trace"))
	assert.Panics(t, func() { parseLogLevel("trace") })
}
