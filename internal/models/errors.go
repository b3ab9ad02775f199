package models

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrStepNotFound          = errors.New("step not found")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrInvalidArguments      = errors.New("invalid arguments")
	ErrUnknownTool           = errors.New("unknown tool")
	ErrAmbiguous             = errors.New("ambiguous match")
	ErrThreadBusy            = errors.New("thread busy")
	ErrMaxIterationsExceeded = errors.New("max iterations exceeded")
	ErrTurnCancelled         = errors.New("turn cancelled")
)
