package engine

import "errors"

// Every engine error is a well-defined refusal: the operation returns one of
// these and leaves the session state untouched. None of them is fatal.
var (
	ErrUnknownUser       = errors.New("unknown user session")
	ErrAttemptsExhausted = errors.New("daily attempts exhausted")
	ErrNothingPending    = errors.New("nothing pending")
	ErrNotCompleted      = errors.New("mission not completed")
	ErrAlreadyClaimed    = errors.New("mission already claimed")
	ErrUnknownMission    = errors.New("unknown mission")
	ErrUnknownFriend     = errors.New("unknown friend")
	ErrAlreadyReferred   = errors.New("player already attributed to a referrer")
)
