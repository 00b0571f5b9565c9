// Package task holds the in-memory task collection shared by the HTTP layer
// and the batch coordinator.
package task

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"imagebatch/internal/domain"
)

// Store is an ordered, mutex protected task collection. Every mutation is
// keyed by task id and returns copies, so callbacks for different tasks may
// interleave freely.
type Store struct {
	mu    sync.RWMutex
	order []string
	tasks map[string]*domain.Task
	now   func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		tasks: make(map[string]*domain.Task),
		now:   time.Now,
	}
}

// Create appends a single Idle task.
func (s *Store) Create(original string, draft domain.TaskDraft) (domain.Task, error) {
	created, err := s.Add(original, []domain.TaskDraft{draft})
	if err != nil {
		return domain.Task{}, err
	}
	return created[0], nil
}

// Add appends Idle tasks for every draft in order. Either all drafts are
// stored or none are.
func (s *Store) Add(original string, drafts []domain.TaskDraft) ([]domain.Task, error) {
	if len(drafts) == 0 {
		return nil, domain.ErrInvalidPrompt
	}
	original = strings.TrimSpace(original)
	ts := s.now()
	pending := make([]*domain.Task, 0, len(drafts))
	for _, d := range drafts {
		prompt := strings.TrimSpace(d.Prompt)
		if prompt == "" {
			return nil, domain.ErrInvalidPrompt
		}
		t := &domain.Task{
			ID:               uuid.NewString(),
			OriginalPrompt:   original,
			Prompt:           prompt,
			AttachedImageIDs: append([]string{}, d.AttachedImageIDs...),
			Status:           domain.TaskStatusIdle,
			GeneratedImages:  []domain.GeneratedImage{},
			CreatedAt:        ts,
			UpdatedAt:        ts,
		}
		if t.OriginalPrompt == "" {
			t.OriginalPrompt = prompt
		}
		pending = append(pending, t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, 0, len(pending))
	for _, t := range pending {
		s.tasks[t.ID] = t
		s.order = append(s.order, t.ID)
		out = append(out, t.Clone())
	}
	return out, nil
}

// Get returns a copy of the task.
func (s *Store) Get(id string) (domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t.Clone(), nil
}

// List returns every task in display order.
func (s *Store) List() []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	return out
}

// Idle returns the ids of Idle tasks in display order.
func (s *Store) Idle() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, id := range s.order {
		if s.tasks[id].Status == domain.TaskStatusIdle {
			ids = append(ids, id)
		}
	}
	return ids
}

// UpdatePrompt edits the prompt and attachments of an Idle task. A nil
// attachments slice leaves the current references untouched.
func (s *Store) UpdatePrompt(id, prompt string, attachments []string) (domain.Task, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.Task{}, domain.ErrInvalidPrompt
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	if t.Status != domain.TaskStatusIdle {
		return domain.Task{}, domain.ErrTaskBusy
	}
	t.Prompt = prompt
	if attachments != nil {
		t.AttachedImageIDs = append([]string{}, attachments...)
	}
	t.UpdatedAt = s.now()
	return t.Clone(), nil
}

// Delete removes a task that is not currently dispatched.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status.InFlight() {
		return domain.ErrTaskBusy
	}
	delete(s.tasks, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Clear drops every task.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*domain.Task)
	s.order = nil
}

// Transition moves a task from one status to another, failing when the task
// is not in from or the edge is not allowed.
func (s *Store) Transition(id string, from, to domain.TaskStatus) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	if t.Status != from || !from.CanTransition(to) {
		return domain.Task{}, domain.ErrInvalidTransition
	}
	t.Status = to
	if to == domain.TaskStatusGenerating {
		t.Progress = 0
	}
	t.UpdatedAt = s.now()
	return t.Clone(), nil
}

// SetProgress records progress for a Generating task. Values never decrease
// and stay below 100 until Complete.
func (s *Store) SetProgress(id string, percent int) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	if t.Status != domain.TaskStatusGenerating {
		return domain.Task{}, domain.ErrInvalidTransition
	}
	if percent > 99 {
		percent = 99
	}
	if percent > t.Progress {
		t.Progress = percent
		t.UpdatedAt = s.now()
	}
	return t.Clone(), nil
}

// Complete stores the generated images and marks the task Completed.
func (s *Store) Complete(id string, urls []string) (domain.Task, error) {
	if len(urls) == 0 {
		return domain.Task{}, domain.ErrInvalidTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	if !t.Status.CanTransition(domain.TaskStatusCompleted) {
		return domain.Task{}, domain.ErrInvalidTransition
	}
	images := make([]domain.GeneratedImage, 0, len(urls))
	for _, u := range urls {
		images = append(images, domain.GeneratedImage{ID: uuid.NewString(), URL: u})
	}
	t.Status = domain.TaskStatusCompleted
	t.Progress = 100
	t.GeneratedImages = images
	t.Error = ""
	t.UpdatedAt = s.now()
	return t.Clone(), nil
}

// Fail marks a Generating task Failed with a non-empty message.
func (s *Store) Fail(id, message string) (domain.Task, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "generation failed"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	if !t.Status.CanTransition(domain.TaskStatusFailed) {
		return domain.Task{}, domain.ErrInvalidTransition
	}
	t.Status = domain.TaskStatusFailed
	t.Error = message
	t.GeneratedImages = []domain.GeneratedImage{}
	t.UpdatedAt = s.now()
	return t.Clone(), nil
}

// Reset returns a Failed task to Idle and clears its outcome.
func (s *Store) Reset(id string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	if !t.Status.CanTransition(domain.TaskStatusIdle) {
		return domain.Task{}, domain.ErrInvalidTransition
	}
	t.Status = domain.TaskStatusIdle
	t.Error = ""
	t.Progress = 0
	t.GeneratedImages = []domain.GeneratedImage{}
	t.UpdatedAt = s.now()
	return t.Clone(), nil
}

// Reorder moves an Idle task to position index, clamped to the list bounds.
func (s *Store) Reorder(id string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status != domain.TaskStatusIdle {
		return domain.ErrTaskBusy
	}
	from := -1
	for i, v := range s.order {
		if v == id {
			from = i
			break
		}
	}
	rest := append(s.order[:from:from], s.order[from+1:]...)
	if index < 0 {
		index = 0
	}
	if index > len(rest) {
		index = len(rest)
	}
	order := make([]string, 0, len(s.order))
	order = append(order, rest[:index]...)
	order = append(order, id)
	order = append(order, rest[index:]...)
	s.order = order
	return nil
}

// Counts summarises the collection.
func (s *Store) Counts() domain.TaskCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c domain.TaskCounts
	for _, t := range s.tasks {
		c.Total++
		switch {
		case t.Status == domain.TaskStatusIdle:
			c.Idle++
		case t.Status.InFlight():
			c.Processing++
		case t.Status == domain.TaskStatusCompleted:
			c.Completed++
		case t.Status == domain.TaskStatusFailed:
			c.Failed++
		}
	}
	return c
}
