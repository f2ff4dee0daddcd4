// Package protocol defines the three message shapes that cross a
// worker boundary — Call Request, Call Response, and the READY/TICK
// control tokens — and their validation rules, per spec.md §4.4.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/hackstrix/goworker/codec"
)

// TargetKind discriminates a Call Request's target: either a registry
// index (the common case) or raw source text (the no-closure fallback
// path, spec.md §4.5 step 1).
type TargetKind int

const (
	TargetIndex TargetKind = iota
	TargetSource
)

// Target is the tagged union spec.md writes as `target:int|string`.
type Target struct {
	Kind   TargetKind `json:"kind"`
	Index  int        `json:"index,omitempty"`
	Source string     `json:"source,omitempty"`
}

// CallRequest is spec.md's [uid, target, sig, args].
type CallRequest struct {
	UID    uint64      `json:"uid"`
	Target Target      `json:"target"`
	Sig    uint32      `json:"sig"`
	Args   []codec.Wire `json:"args"`
}

// CallResponse is spec.md's [uid, error, result]. Exactly one of Error
// / Result is meaningful, matching the spec's "exactly one" rule.
type CallResponse struct {
	UID    uint64     `json:"uid"`
	Error  *codec.Wire `json:"error,omitempty"`
	Result *codec.Wire `json:"result,omitempty"`
}

// Control tokens, emitted as the JSON string body of a control envelope.
const (
	TokenReady = "READY"
	TokenTick  = "TICK"
)

// envelope discriminates the three message kinds on the wire by its
// "kind" field ("control", "request" or "response"); "body" holds the
// JSON token string, CallRequest or CallResponse. A request body must
// carry a non-null "args" array, and a response body a non-null "error"
// or "result".
type envelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

const (
	kindRequest  = "request"
	kindResponse = "response"
	kindControl  = "control"
)

// ErrMalformed is returned by Parse for a frame matching none of the
// three shapes. Per spec.md §4.4, callers must drop such frames rather
// than propagate the error — this tolerates out-of-band framing noise
// from the underlying transport.
var ErrMalformed = errors.New("protocol: message does not match a known shape")

// EncodeRequest serializes a Call Request frame.
func EncodeRequest(req CallRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: kindRequest, Body: body})
}

// EncodeResponse serializes a Call Response frame.
func EncodeResponse(resp CallResponse) ([]byte, error) {
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: kindResponse, Body: body})
}

// EncodeControl serializes a READY/TICK control token frame.
func EncodeControl(token string) ([]byte, error) {
	body, err := json.Marshal(token)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: kindControl, Body: body})
}

// Message is the result of Parse: exactly one of Request, Response,
// Control is non-zero/non-empty.
type Message struct {
	Request  *CallRequest
	Response *CallResponse
	Control  string
}

// Parse validates and decodes a frame. Frames that do not match one of
// the three known shapes return ErrMalformed; the worker runtime and
// pool must treat that as "silently drop", not as a fatal error.
func Parse(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, ErrMalformed
	}

	switch env.Kind {
	case kindControl:
		var token string
		if err := json.Unmarshal(env.Body, &token); err != nil {
			return Message{}, ErrMalformed
		}
		if token != TokenReady && token != TokenTick {
			return Message{}, ErrMalformed
		}
		return Message{Control: token}, nil

	case kindRequest:
		var req CallRequest
		if err := json.Unmarshal(env.Body, &req); err != nil {
			return Message{}, ErrMalformed
		}
		if req.Args == nil {
			return Message{}, ErrMalformed
		}
		return Message{Request: &req}, nil

	case kindResponse:
		var resp CallResponse
		if err := json.Unmarshal(env.Body, &resp); err != nil {
			return Message{}, ErrMalformed
		}
		if resp.Error == nil && resp.Result == nil {
			return Message{}, ErrMalformed
		}
		return Message{Response: &resp}, nil

	default:
		return Message{}, ErrMalformed
	}
}
