package wire

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

var codec = sonic.ConfigStd

// Request is the decrypted payload of an inbound message frame.
type Request struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Reply is the plaintext of an outbound message frame.
type Reply struct {
	ReturnAction string `json:"return_action"`
	Data         any    `json:"data"`
}

func DecodeRequest(plaintext []byte) (Request, error) {
	var req Request
	if err := codec.Unmarshal(plaintext, &req); err != nil {
		return Request{}, err
	}
	if req.Action == "" {
		return Request{}, ErrMalformedFrame
	}
	return req, nil
}

// ReturnAction is data.return_action when the client supplied one, else the
// action name.
func (r Request) ReturnAction() string {
	var peek struct {
		ReturnAction string `json:"return_action"`
	}
	if len(r.Data) > 0 && codec.Unmarshal(r.Data, &peek) == nil && peek.ReturnAction != "" {
		return peek.ReturnAction
	}
	return r.Action
}

func EncodeReply(reply Reply) ([]byte, error) {
	return codec.Marshal(reply)
}

// EncodeRequest is the client half of DecodeRequest.
func EncodeRequest(req Request) ([]byte, error) {
	return codec.Marshal(req)
}

// DecodeReply is the client half of EncodeReply. Data is left raw.
func DecodeReply(plaintext []byte) (string, json.RawMessage, error) {
	var out struct {
		ReturnAction string          `json:"return_action"`
		Data         json.RawMessage `json:"data"`
	}
	if err := codec.Unmarshal(plaintext, &out); err != nil {
		return "", nil, err
	}
	return out.ReturnAction, out.Data, nil
}
