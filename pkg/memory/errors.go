package memory

import "errors"

var (
	// ErrRangeOverlap is returned when a compact summary would cover
	// transcript time already covered by an existing summary for the user.
	ErrRangeOverlap = errors.New("compact summary exchange range overlaps existing summary")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExecuted is returned by MarkFollowUpExecuted when another
	// tick won the claim first.
	ErrAlreadyExecuted = errors.New("follow-up already executed")
)
