package pipeline

import "errors"

// Sentinel errors for pipeline operations.
// These errors enable reliable error classification using errors.Is().

// Configuration errors. Rejected at call time, prior state retained.
var (
	// ErrChannelActive indicates the channel id is already active.
	ErrChannelActive = errors.New("channel already active")

	// ErrChannelNotActive indicates the channel id is not active.
	ErrChannelNotActive = errors.New("channel not active")

	// ErrSlotCapacityTooSmall indicates the channel's slot assignment cannot
	// carry one codec frame per cycle.
	ErrSlotCapacityTooSmall = errors.New("slot capacity below frame size")
)

// Scheduler state errors.
var (
	// ErrSchedulerRunning indicates the scheduler has already been started.
	ErrSchedulerRunning = errors.New("scheduler already running")

	// ErrSchedulerNotRunning indicates the scheduler has not been started.
	ErrSchedulerNotRunning = errors.New("scheduler not running")

	// ErrSessionFault indicates repeated deadline misses escalated to a
	// session-level fault. The session requires an explicit restart.
	ErrSessionFault = errors.New("session fault: deadline miss threshold exceeded")
)
