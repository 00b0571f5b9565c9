package image

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// emitter is embedded by every adapter and owns the event contract: progress
// never decreases, stays below 100 until success, and exactly one terminal
// event is delivered per adapter.
type emitter struct {
	mu         sync.Mutex
	onProgress ProgressFunc
	onComplete CompleteFunc
	last       int
	done       bool
}

// SetProgressHandler registers the progress callback.
func (e *emitter) SetProgressHandler(fn ProgressFunc) {
	e.mu.Lock()
	e.onProgress = fn
	e.mu.Unlock()
}

// SetCompleteHandler registers the terminal callback.
func (e *emitter) SetCompleteHandler(fn CompleteFunc) {
	e.mu.Lock()
	e.onComplete = fn
	e.mu.Unlock()
}

func (e *emitter) progress(taskID string, pct int, stage Stage, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	if pct > 99 {
		pct = 99
	}
	if pct < e.last {
		pct = e.last
	}
	e.last = pct
	if e.onProgress != nil {
		e.onProgress(Progress{TaskID: taskID, Percent: pct, Stage: stage, Message: message})
	}
}

func (e *emitter) succeed(taskID string, images []string) ([]string, error) {
	if len(images) == 0 {
		return nil, e.fail(taskID, ErrNoImages)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return images, nil
	}
	e.done = true
	e.last = 100
	if e.onProgress != nil {
		e.onProgress(Progress{TaskID: taskID, Percent: 100, Stage: StageCompleted})
	}
	if e.onComplete != nil {
		e.onComplete(Result{TaskID: taskID, Images: append([]string(nil), images...), Success: true})
	}
	return images, nil
}

func (e *emitter) fail(taskID string, err error) error {
	if err == nil {
		err = errors.New("generation failed")
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = "generation failed"
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return err
	}
	e.done = true
	if e.onComplete != nil {
		e.onComplete(Result{TaskID: taskID, Success: false, Error: message})
	}
	return err
}

// run executes fn and converts its outcome, including panics, into exactly one
// terminal event.
func (e *emitter) run(taskID string, fn func() ([]string, error)) (images []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			images = nil
			err = e.fail(taskID, fmt.Errorf("adapter panic: %v", r))
		}
	}()
	images, err = fn()
	if err != nil {
		return nil, e.fail(taskID, err)
	}
	return e.succeed(taskID, images)
}
