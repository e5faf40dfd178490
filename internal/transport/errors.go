package transport

import "errors"

var (
	// ErrAlreadyInGroup is returned by Join on a transport that already joined.
	ErrAlreadyInGroup = errors.New("transport already joined a multicast group")

	// ErrNotInGroup is returned by group sends before Join.
	ErrNotInGroup = errors.New("transport has not joined a multicast group")

	// ErrClosed is returned by Receive once the transport is closed.
	ErrClosed = errors.New("transport closed")

	// ErrFrameLost marks a NACK'd frame that no log holds any more.
	ErrFrameLost = errors.New("frame permanently lost")
)
