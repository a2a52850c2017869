package server

import "errors"

var (
	ErrServerClosed = errors.New("server: server closed")
)
