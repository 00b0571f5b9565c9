package image

import (
	"context"
	"fmt"
	"strings"
)

// Provider identifies a generation backend.
type Provider string

const (
	ProviderOpenAI          Provider = "openai"
	ProviderStableDiffusion Provider = "stablediffusion"
	ProviderTuzi            Provider = "tuzi"
	ProviderGemini          Provider = "gemini"
)

// Providers lists every backend the factory can build.
var Providers = []Provider{ProviderOpenAI, ProviderStableDiffusion, ProviderTuzi, ProviderGemini}

// ParseProvider normalizes a free-form provider selector.
func ParseProvider(raw string) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "", "_", "", " ", "").Replace(key)
	switch key {
	case "openai", "dalle":
		return ProviderOpenAI, nil
	case "stablediffusion", "stablediffusionwebui", "sd", "sdwebui":
		return ProviderStableDiffusion, nil
	case "tuzi":
		return ProviderTuzi, nil
	case "gemini", "nanobanana":
		return ProviderGemini, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, raw)
}

// Stage labels a progress event for display.
type Stage string

const (
	StagePreparing  Stage = "preparing"
	StageGenerating Stage = "generating"
	StageProcessing Stage = "processing"
	StageCompleted  Stage = "completed"
	StageError      Stage = "error"
)

// Attachment is a resolved reference image sent along with a prompt.
type Attachment struct {
	Name string
	MIME string
	Data []byte
}

// Request is the provider-neutral generation request built per dispatch.
type Request struct {
	Prompt            string
	Attachments       []Attachment
	Count             int
	Width             int
	Height            int
	Model             string
	Seed              *int64
	Steps             int
	CFGScale          float64
	Sampler           string
	DenoisingStrength float64
	Quality           string
}

// Progress is emitted while a task is being generated.
type Progress struct {
	TaskID  string `json:"task_id"`
	Percent int    `json:"progress"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message,omitempty"`
}

// Result is the single terminal event of a dispatch.
type Result struct {
	TaskID  string   `json:"task_id"`
	Images  []string `json:"images"`
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
}

// ProgressFunc receives progress events.
type ProgressFunc func(Progress)

// CompleteFunc receives the terminal event.
type CompleteFunc func(Result)

// Generator is implemented by every provider adapter. Generate returns the
// generated image references after the success event has been emitted, or an
// error after the failure event has been emitted.
type Generator interface {
	Provider() Provider
	SetProgressHandler(ProgressFunc)
	SetCompleteHandler(CompleteFunc)
	Generate(ctx context.Context, taskID string, req Request) ([]string, error)
}

// BlobSink stores decoded image bytes and returns an addressable reference.
type BlobSink interface {
	SaveBlob(ctx context.Context, taskID string, data []byte, mime string) (string, error)
}

// dataURL formats an attachment as an inline data URL.
func dataURL(a Attachment) string {
	mime := a.MIME
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + encodeBase64(a.Data)
}
