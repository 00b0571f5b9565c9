package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidPrompt        = errors.New("invalid prompt")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrTaskBusy             = errors.New("task is being processed")
	ErrProviderUnconfigured = errors.New("provider unconfigured")
	ErrNoIdleTasks          = errors.New("no idle tasks")
	ErrBatchActive          = errors.New("batch is active")
	ErrUnsupportedImage     = errors.New("unsupported image type")
	ErrImageTooLarge        = errors.New("image too large")
)
