package websocket

import "errors"

var (
	ErrClientQueueFull  = errors.New("client message queue is full")
	ErrConnectionClosed = errors.New("connection closed")
	ErrInvalidFrame     = errors.New("invalid frame format")
)
