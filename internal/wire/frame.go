package wire

import (
	"encoding/base64"
	"errors"
	"strings"
)

const (
	handshakePrefix = "i:"
	messagePrefix   = "m:"
)

var ErrMalformedFrame = errors.New("wire: malformed frame")

type FrameKind int

const (
	FrameHandshake FrameKind = iota + 1
	FrameMessage
)

func (k FrameKind) String() string {
	switch k {
	case FrameHandshake:
		return "handshake"
	case FrameMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Frame is one decoded text frame.
//
//	i:<base64 public key>
//	m:<tag>:<base64 ciphertext>
type Frame struct {
	Kind       FrameKind
	PublicKey  []byte
	Tag        string
	Ciphertext []byte
}

func ParseFrame(s string) (Frame, error) {
	switch {
	case strings.HasPrefix(s, handshakePrefix):
		key, err := base64.StdEncoding.DecodeString(s[len(handshakePrefix):])
		if err != nil || len(key) == 0 {
			return Frame{}, ErrMalformedFrame
		}
		return Frame{Kind: FrameHandshake, PublicKey: key}, nil

	case strings.HasPrefix(s, messagePrefix):
		tag, body, ok := strings.Cut(s[len(messagePrefix):], ":")
		if !ok || tag == "" {
			return Frame{}, ErrMalformedFrame
		}
		ct, err := base64.StdEncoding.DecodeString(body)
		if err != nil || len(ct) == 0 {
			return Frame{}, ErrMalformedFrame
		}
		return Frame{Kind: FrameMessage, Tag: tag, Ciphertext: ct}, nil

	default:
		return Frame{}, ErrMalformedFrame
	}
}

func FormatHandshake(publicKey []byte) string {
	return handshakePrefix + base64.StdEncoding.EncodeToString(publicKey)
}

func FormatMessage(tag string, ciphertext []byte) string {
	return messagePrefix + tag + ":" + base64.StdEncoding.EncodeToString(ciphertext)
}
