package session

import "fmt"

// Close codes sent to the client when the connection is torn down.
const (
	CloseInvalidToken    = 4000
	CloseExpired         = 4001
	CloseUnauthenticated = 4003
	CloseUnauthorized    = 4004
	CloseMalformed       = 4005
	CloseInternal        = 1013
)

// CloseError ends a session with a websocket close code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("close %d: %s", e.Code, e.Reason)
}

func closeErr(code int, reason string) *CloseError {
	return &CloseError{Code: code, Reason: reason}
}
