package elevate

import "errors"

var (
	// ErrLinkUnavailable is returned when the serial port cannot be opened.
	ErrLinkUnavailable = errors.New("serial link unavailable")

	// ErrLinkWrite is returned when a write to an open port fails.
	ErrLinkWrite = errors.New("serial write failed")

	// ErrLinkLost fails a command that was outstanding when the link dropped.
	ErrLinkLost = errors.New("serial link lost")

	// ErrInvalidCommand rejects an out-of-range zone or value before any I/O.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrCommandTimeout is returned after the retry budget is exhausted
	// without a correlated response.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrStaleCommand drops a queued command that outlived the replay window
	// across a link outage.
	ErrStaleCommand = errors.New("stale command discarded")

	// ErrClosed is returned when submitting to a stopped controller.
	ErrClosed = errors.New("controller closed")

	// ErrMalformedLine marks an inbound line that could not be decoded.
	ErrMalformedLine = errors.New("malformed line")
)
