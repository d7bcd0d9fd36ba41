// Package session implements the per-connection state machine of the
// realtime transport.
package session

import (
	"errors"
	"sync"

	"farmgate/internal/wire"
	"farmgate/pkg/jwt"
)

type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	// StateKeyNegotiated: keys are derived but no message has been accepted yet.
	StateKeyNegotiated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateKeyNegotiated:
		return "key_negotiated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Inbound is the outcome of one accepted frame: a handshake reply to write
// back, a request to dispatch, or neither when the frame is ignored.
type Inbound struct {
	Reply   string
	Request *wire.Request
}

// Session is exclusively owned by one connection. Seal may be called from
// handler goroutines concurrently with HandleFrame.
type Session struct {
	suite wire.Suite

	mu       sync.Mutex
	state    State
	identity jwt.Identity
	keys     *wire.SessionKeys
}

func New(suite wire.Suite) *Session {
	return &Session{suite: suite, state: StateConnecting}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Identity() jwt.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Authenticated records the verified identity.
func (s *Session) Authenticated(claims *jwt.Claims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		s.identity = claims.Identity
		s.state = StateAuthenticated
	}
}

// Close moves the session to its terminal state.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.keys = nil
}

// HandleFrame advances the state machine by one text frame.
func (s *Session) HandleFrame(raw string) (Inbound, error) {
	frame, err := wire.ParseFrame(raw)
	if err != nil {
		return Inbound{}, closeErr(CloseMalformed, "malformed frame")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnecting:
		return Inbound{}, closeErr(CloseUnauthenticated, "unauthenticated")
	case StateClosed:
		return Inbound{}, closeErr(CloseInternal, "session closed")
	}

	if frame.Kind == wire.FrameHandshake {
		if s.keys != nil {
			// Keys are fixed for the connection's lifetime.
			return Inbound{}, nil
		}
		return s.handshake(frame.PublicKey)
	}

	if s.keys == nil {
		return Inbound{}, closeErr(CloseUnauthenticated, "unauthenticated")
	}
	if frame.Tag != s.keys.Tag {
		return Inbound{}, closeErr(CloseUnauthorized, "unauthorized")
	}
	plaintext, err := s.keys.Open(frame.Ciphertext)
	if err != nil {
		return Inbound{}, closeErr(CloseMalformed, "malformed frame")
	}
	req, err := wire.DecodeRequest(plaintext)
	if err != nil {
		return Inbound{}, closeErr(CloseMalformed, "malformed frame")
	}
	s.state = StateActive
	return Inbound{Request: &req}, nil
}

// handshake derives the session keys.
func (s *Session) handshake(peer []byte) (Inbound, error) {
	kp, err := wire.GenerateKey(nil)
	if err != nil {
		return Inbound{}, closeErr(CloseInternal, "internal error")
	}
	secret, err := kp.SharedSecret(peer)
	if errors.Is(err, wire.ErrBadPublicKey) {
		return Inbound{}, closeErr(CloseMalformed, "malformed frame")
	}
	if err != nil {
		return Inbound{}, closeErr(CloseInternal, "internal error")
	}
	keys, err := wire.DeriveKeys(s.suite, secret)
	if err != nil {
		return Inbound{}, closeErr(CloseInternal, "internal error")
	}
	s.keys = keys
	s.state = StateKeyNegotiated
	return Inbound{Reply: wire.FormatHandshake(kp.Public)}, nil
}

// Seal encrypts an outbound reply into a message frame.
func (s *Session) Seal(returnAction string, data any) (string, error) {
	plaintext, err := wire.EncodeReply(wire.Reply{ReturnAction: returnAction, Data: data})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	keys := s.keys
	s.mu.Unlock()
	if keys == nil {
		return "", closeErr(CloseUnauthenticated, "unauthenticated")
	}

	ct, err := keys.Seal(plaintext)
	if err != nil {
		return "", err
	}
	return wire.FormatMessage(keys.Tag, ct), nil
}
