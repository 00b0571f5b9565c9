package image

import "errors"

var (
	ErrInvalidConfig       = errors.New("image: invalid provider configuration")
	ErrMissingAPIKey       = errors.New("api key is required")
	ErrMissingBaseURL      = errors.New("base url is required")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrNoImages            = errors.New("No images generated")
	ErrEmptyPrompt         = errors.New("image: prompt is required")
)
