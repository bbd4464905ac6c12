package wire

import (
	"bytes"
	"context"
	"testing"

	"github.com/akiban/pgwire/buffer"
	"github.com/akiban/pgwire/types"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

func TestWriteParametersFixedOrder(t *testing.T) {
	ctx := setClientParameters(context.Background(), Parameters{ParamUsername: "alice"})
	out := &bytes.Buffer{}
	w := buffer.NewWriter(slogt.New(t), out)

	_, err := (&Server{}).writeParameters(ctx, w, nil)
	require.NoError(t, err)

	r := buffer.NewReader(slogt.New(t), out, buffer.DefaultBufferSize)

	expected := []struct {
		key   ParameterStatus
		value string
	}{
		{ParamClientEncoding, "UTF8"},
		{ParamServerEncoding, "UTF8"},
		{ParamServerVersion, serverVersion},
		{ParamSessionAuthorization, "alice"},
	}

	for _, want := range expected {
		typed, _, err := r.ReadTypedMsg()
		require.NoError(t, err)
		require.Equal(t, types.ServerParameterStatus, types.ServerMessage(typed))

		key, err := r.GetString()
		require.NoError(t, err)
		require.Equal(t, string(want.key), key)

		value, err := r.GetString()
		require.NoError(t, err)
		require.Equal(t, want.value, value)
	}
}

func TestWriteParametersHonorsClientEncodingOverride(t *testing.T) {
	ctx := context.Background()
	out := &bytes.Buffer{}
	w := buffer.NewWriter(slogt.New(t), out)

	_, err := (&Server{}).writeParameters(ctx, w, Parameters{ParamClientEncoding: "UTF8"})
	require.NoError(t, err)

	r := buffer.NewReader(slogt.New(t), out, buffer.DefaultBufferSize)
	_, _, err = r.ReadTypedMsg()
	require.NoError(t, err)

	_, err = r.GetString()
	require.NoError(t, err)
	value, err := r.GetString()
	require.NoError(t, err)
	require.Equal(t, "UTF8", value)
}

func TestWriteParametersEchoesNegotiatedEncoding(t *testing.T) {
	ctx := setClientParameters(context.Background(), Parameters{ParamClientEncoding: "LATIN1"})
	out := &bytes.Buffer{}
	w := buffer.NewWriter(slogt.New(t), out)
	w.SetEncoding("LATIN1")

	_, err := (&Server{}).writeParameters(ctx, w, nil)
	require.NoError(t, err)

	r := buffer.NewReader(slogt.New(t), out, buffer.DefaultBufferSize)

	_, _, err = r.ReadTypedMsg()
	require.NoError(t, err)
	_, err = r.GetString()
	require.NoError(t, err)
	clientEncoding, err := r.GetString()
	require.NoError(t, err)
	require.Equal(t, "LATIN1", clientEncoding)

	_, _, err = r.ReadTypedMsg()
	require.NoError(t, err)
	_, err = r.GetString()
	require.NoError(t, err)
	serverEncoding, err := r.GetString()
	require.NoError(t, err)
	require.Equal(t, "LATIN1", serverEncoding)
}

func TestReadyForQueryWritesStatusByte(t *testing.T) {
	out := &bytes.Buffer{}
	w := buffer.NewWriter(slogt.New(t), out)

	require.NoError(t, readyForQuery(w, types.ServerIdle))

	r := buffer.NewReader(slogt.New(t), out, buffer.DefaultBufferSize)
	typed, _, err := r.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerReady, types.ServerMessage(typed))

	status, err := r.GetByte()
	require.NoError(t, err)
	require.Equal(t, byte(types.ServerIdle), status)
}
