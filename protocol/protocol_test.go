package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hackstrix/goworker/codec"
	"github.com/hackstrix/goworker/protocol"
)

func TestRequestResponseRoundTrip(t *testing.T) {
	argWire, err := codec.Encode(12, true)
	require.NoError(t, err)

	req := protocol.CallRequest{
		UID:    1,
		Target: protocol.Target{Kind: protocol.TargetIndex, Index: 0},
		Sig:    0xdeadbeef,
		Args:   []codec.Wire{argWire},
	}
	data, err := protocol.EncodeRequest(req)
	require.NoError(t, err)

	msg, err := protocol.Parse(data)
	require.NoError(t, err)
	require.NotNil(t, msg.Request)
	require.Equal(t, uint64(1), msg.Request.UID)
	require.Equal(t, protocol.TargetIndex, msg.Request.Target.Kind)

	resultWire, err := codec.Encode(25, true)
	require.NoError(t, err)
	resp := protocol.CallResponse{UID: 1, Result: &resultWire}
	data, err = protocol.EncodeResponse(resp)
	require.NoError(t, err)

	msg, err = protocol.Parse(data)
	require.NoError(t, err)
	require.NotNil(t, msg.Response)
	require.Equal(t, uint64(1), msg.Response.UID)
	require.Nil(t, msg.Response.Error)
}

func TestControlTokens(t *testing.T) {
	data, err := protocol.EncodeControl(protocol.TokenReady)
	require.NoError(t, err)
	msg, err := protocol.Parse(data)
	require.NoError(t, err)
	require.Equal(t, protocol.TokenReady, msg.Control)
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	_, err := protocol.Parse([]byte(`{"kind":"request","body":{}}`))
	require.ErrorIs(t, err, protocol.ErrMalformed)

	_, err = protocol.Parse([]byte(`not json`))
	require.ErrorIs(t, err, protocol.ErrMalformed)

	_, err = protocol.Parse([]byte(`{"kind":"control","body":"NOT_A_TOKEN"}`))
	require.ErrorIs(t, err, protocol.ErrMalformed)
}
