package workerrt_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hackstrix/goworker/codec"
	"github.com/hackstrix/goworker/protocol"
	"github.com/hackstrix/goworker/registry"
	"github.com/hackstrix/goworker/workerrt"
)

func sum(a, b int) int { return a + b }

func throwErr() error { return errors.New("Something went wrong") }

func encodeArgs(t *testing.T, args ...any) []codec.Wire {
	t.Helper()
	wires := make([]codec.Wire, len(args))
	for i, a := range args {
		w, err := codec.Encode(a, true)
		require.NoError(t, err)
		wires[i] = w
	}
	return wires
}

// run drives a single request/response exchange through workerrt.Run,
// without any transport in between.
func run(t *testing.T, opts workerrt.Options, req protocol.CallRequest) protocol.CallResponse {
	t.Helper()
	recv := make(chan []byte, 1)
	out := make(chan []byte, 4)

	data, err := protocol.EncodeRequest(req)
	require.NoError(t, err)
	recv <- data
	close(recv)

	workerrt.Run(recv, func(b []byte) { out <- b }, opts)
	close(out)

	for frame := range out {
		msg, err := protocol.Parse(frame)
		require.NoError(t, err)
		if msg.Response != nil {
			return *msg.Response
		}
	}
	t.Fatal("no response frame observed")
	return protocol.CallResponse{}
}

// TestRegisteredSum mirrors scenario S1.
func TestRegisteredSum(t *testing.T) {
	reg := registry.New()
	_, err := reg.Register(sum)
	require.NoError(t, err)
	entry, ok := reg.Lookup(0)
	require.True(t, ok)

	resp := run(t, workerrt.Options{Registry: reg}, protocol.CallRequest{
		UID:    1,
		Target: protocol.Target{Kind: protocol.TargetIndex, Index: 0},
		Sig:    entry.Signature,
		Args:   encodeArgs(t, 12, 13),
	})

	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
	got, err := codec.Decode(*resp.Result)
	require.NoError(t, err)
	require.Equal(t, float64(25), got)
}

// TestRegistryMismatch mirrors scenario S3.
func TestRegistryMismatch(t *testing.T) {
	reg := registry.New()
	_, _ = reg.Register(sum)

	resp := run(t, workerrt.Options{Registry: reg}, protocol.CallRequest{
		UID:    2,
		Target: protocol.Target{Kind: protocol.TargetIndex, Index: 0},
		Sig:    0xffffffff, // wrong signature simulates drift
		Args:   encodeArgs(t, 1, 2),
	})

	require.NotNil(t, resp.Error)
	got, err := codec.Decode(*resp.Error)
	require.NoError(t, err)
	werr := got.(*codec.WireError)
	require.Equal(t, workerrt.ErrRegistryMismatch, werr.Message)
}

// TestErrorPropagation mirrors scenario S4.
func TestErrorPropagation(t *testing.T) {
	reg := registry.New()
	_, err := reg.Register(throwErr)
	require.NoError(t, err)
	entry, _ := reg.Lookup(0)

	resp := run(t, workerrt.Options{Registry: reg}, protocol.CallRequest{
		UID:    3,
		Target: protocol.Target{Kind: protocol.TargetIndex, Index: 0},
		Sig:    entry.Signature,
		Args:   encodeArgs(t),
	})

	require.NotNil(t, resp.Error)
	got, err := codec.Decode(*resp.Error)
	require.NoError(t, err)
	werr := got.(*codec.WireError)
	require.Equal(t, "Something went wrong", werr.Message)
}

// TestUnregisteredSourceEval mirrors scenario S2.
func TestUnregisteredSourceEval(t *testing.T) {
	resp := run(t, workerrt.Options{Eval: workerrt.GojaEvaluator{}}, protocol.CallRequest{
		UID:    4,
		Target: protocol.Target{Kind: protocol.TargetSource, Source: "(a, b) => Promise.resolve(a*b)"},
		Sig:    0,
		Args:   encodeArgs(t, 10, 10),
	})

	require.Nil(t, resp.Error)
	got, err := codec.Decode(*resp.Result)
	require.NoError(t, err)
	require.Equal(t, float64(100), got)
}
