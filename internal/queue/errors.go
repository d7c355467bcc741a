package queue

import "errors"

var (
	// ErrQueueClosed is returned when trying to enqueue to a closed queue
	ErrQueueClosed = errors.New("queue is closed")
	// ErrQueueFull is returned when the buffer is full. Callers answering Slack
	// within the acknowledgement window must not block.
	ErrQueueFull = errors.New("queue is full")
)
