package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrNotConnected       = errors.New("not connected")
	ErrContextDone        = errors.New("context cancelled")
	ErrQueueFull          = errors.New("queue full")
	ErrAllEndpointsFailed = errors.New("all rpc endpoints failed")
	ErrMissingCredentials = errors.New("missing credentials")
)
