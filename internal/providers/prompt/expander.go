// Package prompt turns a free-form intent into concrete generation prompts.
package prompt

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrExpansionFailed wraps any failure of an LLM backed expansion.
	ErrExpansionFailed = errors.New("failed to create tasks from prompt")
	// ErrNoTasks is returned when nothing usable could be derived.
	ErrNoTasks = errors.New("no valid tasks found")
	// ErrMissingAPIKey is returned by constructors that need credentials.
	ErrMissingAPIKey = errors.New("llm api key is required")
)

// Request is the user's intent plus the number of uploaded reference images,
// which the model addresses as "0.png", "1.png", ...
type Request struct {
	Prompt        string
	UploadedCount int
}

// Draft is one expanded task. ImageIndexes point into the upload list.
type Draft struct {
	Prompt       string `json:"prompt"`
	ImageIndexes []int  `json:"image_indexes,omitempty"`
}

// Expander derives task drafts and improves single prompts.
type Expander interface {
	Expand(ctx context.Context, req Request) ([]Draft, error)
	Improve(ctx context.Context, prompt string) (string, error)
}

// StaticExpander needs no LLM: every non-empty line becomes a task and, when
// images were uploaded, each task references all of them.
type StaticExpander struct{}

func NewStaticExpander() *StaticExpander {
	return &StaticExpander{}
}

func (s *StaticExpander) Expand(_ context.Context, req Request) ([]Draft, error) {
	var indexes []int
	for i := 0; i < req.UploadedCount; i++ {
		indexes = append(indexes, i)
	}
	var drafts []Draft
	for _, line := range strings.Split(req.Prompt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		d := Draft{Prompt: line}
		if len(indexes) > 0 {
			d.ImageIndexes = append([]int(nil), indexes...)
		}
		drafts = append(drafts, d)
	}
	if len(drafts) == 0 {
		return nil, ErrNoTasks
	}
	return drafts, nil
}

func (s *StaticExpander) Improve(_ context.Context, prompt string) (string, error) {
	return strings.TrimSpace(prompt), nil
}

var _ Expander = (*StaticExpander)(nil)
