package task

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagebatch/internal/domain"
)

func seed(t *testing.T, s *Store, prompts ...string) []domain.Task {
	t.Helper()
	drafts := make([]domain.TaskDraft, 0, len(prompts))
	for _, p := range prompts {
		drafts = append(drafts, domain.TaskDraft{Prompt: p})
	}
	out, err := s.Add("intent", drafts)
	require.NoError(t, err)
	return out
}

func ids(tasks []domain.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestAddCreatesIdleTasksInOrder(t *testing.T) {
	s := NewStore()
	created := seed(t, s, "a", " b ", "c")

	require.Len(t, created, 3)
	assert.Equal(t, "b", created[1].Prompt)
	assert.Equal(t, "intent", created[1].OriginalPrompt)
	for _, task := range created {
		assert.Equal(t, domain.TaskStatusIdle, task.Status)
		assert.NotEmpty(t, task.ID)
		assert.Empty(t, task.GeneratedImages)
	}
	assert.Equal(t, ids(created), s.Idle())
	assert.Equal(t, ids(created), ids(s.List()))
}

func TestAddRejectsBlankPromptAtomically(t *testing.T) {
	s := NewStore()
	_, err := s.Add("x", []domain.TaskDraft{{Prompt: "ok"}, {Prompt: "  "}})
	require.ErrorIs(t, err, domain.ErrInvalidPrompt)
	assert.Empty(t, s.List())
}

func TestLifecycleSuccess(t *testing.T) {
	s := NewStore()
	task := seed(t, s, "a")[0]

	_, err := s.Transition(task.ID, domain.TaskStatusIdle, domain.TaskStatusPending)
	require.NoError(t, err)
	_, err = s.Transition(task.ID, domain.TaskStatusPending, domain.TaskStatusGenerating)
	require.NoError(t, err)

	_, err = s.SetProgress(task.ID, 40)
	require.NoError(t, err)
	got, err := s.SetProgress(task.ID, 20)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress, "progress must not decrease")
	got, _ = s.SetProgress(task.ID, 100)
	assert.Equal(t, 99, got.Progress, "100 is reserved for completion")

	done, err := s.Complete(task.ID, []string{"https://x/1.png", "https://x/2.png"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.Len(t, done.GeneratedImages, 2)
	assert.Equal(t, "https://x/2.png", done.GeneratedImages[1].URL)
	assert.NotEqual(t, done.GeneratedImages[0].ID, done.GeneratedImages[1].ID)
}

func TestLifecycleFailureAndReset(t *testing.T) {
	s := NewStore()
	task := seed(t, s, "a")[0]
	_, _ = s.Transition(task.ID, domain.TaskStatusIdle, domain.TaskStatusPending)
	_, _ = s.Transition(task.ID, domain.TaskStatusPending, domain.TaskStatusGenerating)
	_, _ = s.SetProgress(task.ID, 30)

	failed, err := s.Fail(task.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)

	reset, err := s.Reset(task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusIdle, reset.Status)
	assert.Empty(t, reset.Error)
	assert.Zero(t, reset.Progress)
	assert.Empty(t, reset.GeneratedImages)
}

func TestRejectsIllegalTransitions(t *testing.T) {
	s := NewStore()
	task := seed(t, s, "a")[0]

	_, err := s.Transition(task.ID, domain.TaskStatusIdle, domain.TaskStatusGenerating)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = s.Transition(task.ID, domain.TaskStatusPending, domain.TaskStatusGenerating)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "stale from status")
	_, err = s.Complete(task.ID, []string{"u"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = s.Fail(task.ID, "x")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = s.Reset(task.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = s.SetProgress(task.ID, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, _ = s.Transition(task.ID, domain.TaskStatusIdle, domain.TaskStatusPending)
	_, _ = s.Transition(task.ID, domain.TaskStatusPending, domain.TaskStatusGenerating)
	_, err = s.Complete(task.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "completion needs images")

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEditAndDeleteOnlyWhenNotDispatched(t *testing.T) {
	s := NewStore()
	tasks := seed(t, s, "a", "b")

	edited, err := s.UpdatePrompt(tasks[0].ID, "a2", []string{"img-1"})
	require.NoError(t, err)
	assert.Equal(t, "a2", edited.Prompt)
	assert.Equal(t, []string{"img-1"}, edited.AttachedImageIDs)

	_, _ = s.Transition(tasks[1].ID, domain.TaskStatusIdle, domain.TaskStatusPending)
	_, err = s.UpdatePrompt(tasks[1].ID, "b2", nil)
	assert.ErrorIs(t, err, domain.ErrTaskBusy)
	assert.ErrorIs(t, s.Delete(tasks[1].ID), domain.ErrTaskBusy)

	require.NoError(t, s.Delete(tasks[0].ID))
	assert.ErrorIs(t, s.Delete(tasks[0].ID), domain.ErrNotFound)
	assert.Equal(t, []string{tasks[1].ID}, ids(s.List()))
}

func TestReorder(t *testing.T) {
	s := NewStore()
	tasks := seed(t, s, "a", "b", "c", "d")

	require.NoError(t, s.Reorder(tasks[3].ID, 0))
	assert.Equal(t, []string{tasks[3].ID, tasks[0].ID, tasks[1].ID, tasks[2].ID}, ids(s.List()))

	require.NoError(t, s.Reorder(tasks[3].ID, 99))
	assert.Equal(t, ids(tasks), ids(s.List()))

	require.NoError(t, s.Reorder(tasks[0].ID, 2))
	assert.Equal(t, []string{tasks[1].ID, tasks[2].ID, tasks[0].ID, tasks[3].ID}, ids(s.List()))
}

func TestCountsAndClear(t *testing.T) {
	s := NewStore()
	tasks := seed(t, s, "a", "b", "c", "d")
	_, _ = s.Transition(tasks[0].ID, domain.TaskStatusIdle, domain.TaskStatusPending)
	_, _ = s.Transition(tasks[1].ID, domain.TaskStatusIdle, domain.TaskStatusPending)
	_, _ = s.Transition(tasks[1].ID, domain.TaskStatusPending, domain.TaskStatusGenerating)
	_, _ = s.Complete(tasks[1].ID, []string{"u"})

	assert.Equal(t, domain.TaskCounts{Total: 4, Idle: 2, Processing: 1, Completed: 1}, s.Counts())

	s.Clear()
	assert.Equal(t, domain.TaskCounts{}, s.Counts())
	assert.Empty(t, s.Idle())
}

func TestReturnedCopiesAreDetached(t *testing.T) {
	s := NewStore()
	created, err := s.Create("", domain.TaskDraft{Prompt: "a", AttachedImageIDs: []string{"x"}})
	require.NoError(t, err)
	created.AttachedImageIDs[0] = "mutated"

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got.AttachedImageIDs)
	assert.Equal(t, "a", got.OriginalPrompt)
}

func TestConcurrentProgressUpdates(t *testing.T) {
	s := NewStore()
	tasks := seed(t, s, "a", "b", "c", "d", "e", "f")
	for _, task := range tasks {
		_, _ = s.Transition(task.ID, domain.TaskStatusIdle, domain.TaskStatusPending)
		_, _ = s.Transition(task.ID, domain.TaskStatusPending, domain.TaskStatusGenerating)
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		for p := 0; p <= 90; p += 10 {
			wg.Add(1)
			go func(id string, p int) {
				defer wg.Done()
				_, _ = s.SetProgress(id, p)
			}(task.ID, p)
		}
	}
	wg.Wait()

	for _, task := range s.List() {
		assert.Equal(t, 90, task.Progress, fmt.Sprintf("task %s", task.Prompt))
	}
}
