package domain

import "time"

// TaskStatus enumerates the lifecycle states of a generation task.
type TaskStatus string

const (
	TaskStatusIdle       TaskStatus = "idle"
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusGenerating TaskStatus = "generating"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// transitions lists every edge a task may take. Anything else is rejected.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusIdle:       {TaskStatusPending},
	TaskStatusPending:    {TaskStatusGenerating},
	TaskStatusGenerating: {TaskStatusCompleted, TaskStatusFailed},
	TaskStatusFailed:     {TaskStatusIdle},
}

// CanTransition reports whether a task may move from one status to another.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// InFlight reports whether the task currently occupies a concurrency slot.
func (s TaskStatus) InFlight() bool {
	return s == TaskStatusPending || s == TaskStatusGenerating
}

// Terminal reports whether the status ends a dispatch.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusIdle, TaskStatusPending, TaskStatusGenerating, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// GeneratedImage is one result produced for a task.
type GeneratedImage struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Task is a unit of generation work derived from the user's intent.
type Task struct {
	ID               string           `json:"id"`
	OriginalPrompt   string           `json:"original_prompt"`
	Prompt           string           `json:"prompt"`
	AttachedImageIDs []string         `json:"attached_image_ids"`
	Status           TaskStatus       `json:"status"`
	Progress         int              `json:"progress"`
	GeneratedImages  []GeneratedImage `json:"generated_images"`
	Error            string           `json:"error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (t Task) Clone() Task {
	out := t
	if t.AttachedImageIDs != nil {
		out.AttachedImageIDs = append([]string(nil), t.AttachedImageIDs...)
	}
	if t.GeneratedImages != nil {
		out.GeneratedImages = append([]GeneratedImage(nil), t.GeneratedImages...)
	}
	return out
}

// TaskDraft is the input used to create a new Idle task.
type TaskDraft struct {
	Prompt           string
	AttachedImageIDs []string
}

// TaskCounts summarises the task collection for presentation.
type TaskCounts struct {
	Total      int `json:"total"`
	Idle       int `json:"idle"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// UploadedImage describes an attachment held by the image store.
type UploadedImage struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MIME      string    `json:"mime"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
