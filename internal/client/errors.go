package client

import "errors"

var (
	// ErrConnectionFailed covers dial and transport failures during a connection attempt.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrAuthFailed means the gateway rejected the auth handshake.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrClosed is returned when Disconnect overtook a Connect in flight.
	ErrClosed = errors.New("client closed")
)
