package handler

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"farmgate/internal/session"
)

// closeFrame maps a session error to a websocket close frame.
func closeFrame(err error) (int, string) {
	var ce *session.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	return session.CloseInternal, "internal error"
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) || errors.Is(err, websocket.ErrCloseSent)
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}
