package service

import "errors"

var (
	ErrMalformedRequest = errors.New("malformed auth request")
	ErrStaleRequest     = errors.New("auth request is stale")
	ErrRequestSignature = errors.New("auth request signature mismatch")
	ErrInvalidInitData  = errors.New("invalid telegram init data")
)
