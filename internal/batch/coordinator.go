// Package batch runs Idle tasks through image generators with a bounded
// number of dispatches in flight.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"imagebatch/internal/domain"
	"imagebatch/internal/infra"
	"imagebatch/internal/providers/image"
)

// TaskSource is the task collection the coordinator reads and mutates.
type TaskSource interface {
	Get(id string) (domain.Task, error)
	Idle() []string
	Transition(id string, from, to domain.TaskStatus) (domain.Task, error)
	SetProgress(id string, percent int) (domain.Task, error)
	Complete(id string, urls []string) (domain.Task, error)
	Fail(id, message string) (domain.Task, error)
	Reset(id string) (domain.Task, error)
	Delete(id string) error
	Clear()
}

// ImageResolver loads attachment binaries for a dispatch.
type ImageResolver interface {
	Resolve(ctx context.Context, ids []string) ([]image.Attachment, error)
}

// Options wires the coordinator's collaborators. Images, Logger and
// Listener are optional.
type Options struct {
	Tasks    TaskSource
	Images   ImageResolver
	Factory  image.Factory
	Logger   *infra.Logger
	Listener Listener
}

// Coordinator schedules Idle tasks FIFO, keeps at most BatchSize dispatches
// in flight and routes adapter events into the task source.
type Coordinator struct {
	tasks    TaskSource
	images   ImageResolver
	factory  image.Factory
	logger   *infra.Logger
	listener Listener

	mu       sync.Mutex
	cfg      Config
	active   bool
	paused   bool
	queue    []string
	inflight int
	registry map[string]image.Generator
	wake     chan struct{}
	done     chan struct{}
}

// New builds a Coordinator.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	listener := opts.Listener
	if listener == nil {
		listener = func(Event) {}
	}
	return &Coordinator{
		tasks:    opts.Tasks,
		images:   opts.Images,
		factory:  opts.Factory,
		logger:   logger,
		listener: listener,
		registry: make(map[string]image.Generator),
		wake:     make(chan struct{}, 1),
	}
}

// StartBatch validates cfg and schedules every Idle task in list order.
// Configuration problems leave all tasks Idle.
func (c *Coordinator) StartBatch(cfg Config) error {
	cfg, err := validate(c.factory, cfg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return domain.ErrBatchActive
	}
	ids := c.tasks.Idle()
	if len(ids) == 0 {
		c.mu.Unlock()
		return domain.ErrNoIdleTasks
	}
	c.cfg = cfg
	done := c.startLocked(ids)
	state := c.stateLocked()
	c.mu.Unlock()

	c.logger.Info().Int("tasks", len(ids)).Int("batch_size", cfg.BatchSize).Str("provider", cfg.Image.Provider).Msg("batch: started")
	c.listener(Event{Type: EventState, State: &state})
	go c.loop(done)
	return nil
}

// Pause drops the pending queue. Dispatched tasks run to completion and their
// terminal events are still recorded.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	if !c.active || c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = true
	dropped := len(c.queue)
	c.queue = nil
	c.signal()
	state := c.stateLocked()
	c.mu.Unlock()

	c.logger.Info().Int("dropped", dropped).Int("in_flight", state.InFlight).Msg("batch: paused")
	c.listener(Event{Type: EventState, State: &state})
}

// Resume rescans the tasks that are still Idle and schedules them with cfg,
// starting a new run when the previous one has drained.
func (c *Coordinator) Resume(cfg Config) error {
	cfg, err := validate(c.factory, cfg)
	if err != nil {
		return err
	}
	var done chan struct{}
	c.mu.Lock()
	c.cfg = cfg
	ids := c.tasks.Idle()
	if c.active {
		c.paused = false
		c.enqueueLocked(ids)
		c.signal()
	} else if len(ids) > 0 {
		done = c.startLocked(ids)
	}
	state := c.stateLocked()
	c.mu.Unlock()

	c.logger.Info().Int("queued", state.Queued).Bool("active", state.Active).Msg("batch: resumed")
	c.listener(Event{Type: EventState, State: &state})
	if done != nil {
		go c.loop(done)
	}
	return nil
}

// Retry returns a Failed task to Idle. During an unpaused run the task joins
// the live queue.
func (c *Coordinator) Retry(taskID string) error {
	task, err := c.tasks.Reset(taskID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.active && !c.paused {
		c.enqueueLocked([]string{taskID})
		c.signal()
	}
	c.mu.Unlock()
	c.listener(Event{Type: EventTaskUpdated, Task: &task})
	return nil
}

// Delete removes a task. While a run is active only Idle tasks may be
// removed; a queued one leaves the queue with it.
func (c *Coordinator) Delete(taskID string) error {
	c.mu.Lock()
	if c.active {
		t, err := c.tasks.Get(taskID)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		if t.Status != domain.TaskStatusIdle {
			c.mu.Unlock()
			return domain.ErrBatchActive
		}
	}
	if err := c.tasks.Delete(taskID); err != nil {
		c.mu.Unlock()
		return err
	}
	for i, id := range c.queue {
		if id == taskID {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.listener(Event{Type: EventTaskDeleted, Task: &domain.Task{ID: taskID}})
	return nil
}

// ClearAll discards the adapter registry and every task. It refuses while a
// run is active.
func (c *Coordinator) ClearAll() error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return domain.ErrBatchActive
	}
	c.registry = make(map[string]image.Generator)
	c.queue = nil
	c.tasks.Clear()
	c.mu.Unlock()
	c.listener(Event{Type: EventCleared})
	return nil
}

// Reconfigure swaps the snapshot used for tasks admitted from now on.
// Adapters already dispatched keep the configuration they were built with.
func (c *Coordinator) Reconfigure(cfg Config) error {
	cfg, err := validate(c.factory, cfg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	c.signal()
	state := c.stateLocked()
	c.mu.Unlock()
	c.listener(Event{Type: EventState, State: &state})
	return nil
}

// State reports the current run state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Wait blocks until the current run drains or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	active := c.active
	c.mu.Unlock()
	if !active || done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) stateLocked() State {
	return State{
		Active:    c.active,
		Paused:    c.paused,
		Queued:    len(c.queue),
		InFlight:  c.inflight,
		BatchSize: c.cfg.normalized().BatchSize,
	}
}

// startLocked marks a new run active. The caller starts the loop on the
// returned channel once it has released the lock.
func (c *Coordinator) startLocked(ids []string) chan struct{} {
	c.active = true
	c.paused = false
	c.queue = nil
	c.enqueueLocked(ids)
	c.done = make(chan struct{})
	return c.done
}

// enqueueLocked appends ids that are not already queued or dispatched.
func (c *Coordinator) enqueueLocked(ids []string) {
	seen := make(map[string]struct{}, len(c.queue))
	for _, id := range c.queue {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		if _, ok := c.registry[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		c.queue = append(c.queue, id)
	}
}

// signal wakes the loop without blocking; one pending wake is enough.
func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// loop admits queued tasks while slots are free and ends once nothing is
// queued (or the run is paused) and no dispatch is in flight.
func (c *Coordinator) loop(done chan struct{}) {
	defer close(done)
	for {
		var (
			admitted []dispatch
			rejected []domain.Task
		)
		c.mu.Lock()
		for !c.paused && len(c.queue) > 0 && c.inflight < c.cfg.BatchSize {
			id := c.queue[0]
			c.queue = c.queue[1:]
			d, failed, ok := c.admitLocked(id)
			if failed != nil {
				rejected = append(rejected, *failed)
			}
			if !ok {
				continue
			}
			c.inflight++
			admitted = append(admitted, d)
		}
		finished := c.inflight == 0 && (c.paused || len(c.queue) == 0)
		if finished {
			c.active = false
			c.paused = false
			c.queue = nil
		}
		state := c.stateLocked()
		c.mu.Unlock()

		for i := range rejected {
			c.listener(Event{Type: EventTaskUpdated, Task: &rejected[i]})
		}
		for _, d := range admitted {
			c.listener(Event{Type: EventTaskUpdated, Task: &d.task})
			go c.run(d)
		}
		if finished {
			c.logger.Info().Msg("batch: drained")
			c.listener(Event{Type: EventState, State: &state})
			return
		}
		<-c.wake
	}
}

type dispatch struct {
	task domain.Task
	gen  image.Generator
	cfg  Config
}

// admitLocked moves the task Idle→Pending→Generating and binds a fresh
// adapter to it. Tasks deleted or moved out of Idle since they were queued
// are skipped. A task whose adapter cannot be built is failed and returned.
func (c *Coordinator) admitLocked(id string) (dispatch, *domain.Task, bool) {
	if _, busy := c.registry[id]; busy {
		return dispatch{}, nil, false
	}
	if _, err := c.tasks.Transition(id, domain.TaskStatusIdle, domain.TaskStatusPending); err != nil {
		c.logger.Debug().Err(err).Str("task_id", id).Msg("batch: skip queued task")
		return dispatch{}, nil, false
	}
	task, err := c.tasks.Transition(id, domain.TaskStatusPending, domain.TaskStatusGenerating)
	if err != nil {
		c.logger.Error().Err(err).Str("task_id", id).Msg("batch: could not start task")
		return dispatch{}, nil, false
	}
	gen, err := c.factory(c.cfg.Image)
	if err != nil {
		failed, ferr := c.tasks.Fail(id, err.Error())
		if ferr != nil {
			return dispatch{}, nil, false
		}
		return dispatch{}, &failed, false
	}
	c.registry[id] = gen
	return dispatch{task: task, gen: gen, cfg: c.cfg}, nil, true
}

// run executes one dispatch. The adapter's own terminal event normally
// finishes the task; anything it fails to report is synthesized here.
func (c *Coordinator) run(d dispatch) {
	id := d.task.ID
	ctx := context.Background()
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	d.gen.SetProgressHandler(func(p image.Progress) { c.onProgress(id, d.gen, p) })
	d.gen.SetCompleteHandler(func(r image.Result) { c.finish(id, d.gen, r.Images, resultErr(r)) })

	images, err := c.generate(ctx, d)
	if err == nil && len(images) == 0 {
		err = image.ErrNoImages
	}
	c.finish(id, d.gen, images, err)
}

func (c *Coordinator) generate(ctx context.Context, d dispatch) (images []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Str("task_id", d.task.ID).Interface("panic", r).Msg("batch: adapter panic")
			images, err = nil, fmt.Errorf("adapter panic: %v", r)
		}
	}()
	var attachments []image.Attachment
	if len(d.task.AttachedImageIDs) > 0 {
		if c.images == nil {
			return nil, errors.New("attachments cannot be resolved: no image store")
		}
		attachments, err = c.images.Resolve(ctx, d.task.AttachedImageIDs)
		if err != nil {
			return nil, err
		}
	}
	req := image.Request{
		Prompt:      d.task.Prompt,
		Attachments: attachments,
		Count:       d.cfg.Count,
		Width:       d.cfg.Width,
		Height:      d.cfg.Height,
	}
	return d.gen.Generate(ctx, d.task.ID, req)
}

func (c *Coordinator) onProgress(id string, gen image.Generator, p image.Progress) {
	c.mu.Lock()
	bound := c.registry[id] == gen
	c.mu.Unlock()
	if !bound {
		return
	}
	task, err := c.tasks.SetProgress(id, p.Percent)
	if err != nil {
		return
	}
	p.TaskID = id
	c.listener(Event{Type: EventProgress, Task: &task, Progress: &p})
}

// finish consumes the first terminal outcome for a binding, records it and
// releases the slot. Later outcomes for the same binding are ignored.
func (c *Coordinator) finish(id string, gen image.Generator, images []string, failure error) {
	c.mu.Lock()
	if c.registry[id] != gen {
		c.mu.Unlock()
		return
	}
	delete(c.registry, id)
	c.mu.Unlock()

	var (
		task domain.Task
		err  error
	)
	switch {
	case failure != nil:
		task, err = c.tasks.Fail(id, failure.Error())
	case len(images) == 0:
		task, err = c.tasks.Fail(id, image.ErrNoImages.Error())
	default:
		task, err = c.tasks.Complete(id, images)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("task_id", id).Msg("batch: record outcome")
	} else {
		ev := c.logger.Info()
		if task.Status == domain.TaskStatusFailed {
			ev = c.logger.Warn().Str("error", task.Error)
		}
		ev.Str("task_id", id).Str("status", string(task.Status)).Int("images", len(task.GeneratedImages)).Msg("batch: task finished")
		c.listener(Event{Type: EventTaskUpdated, Task: &task})
	}

	c.mu.Lock()
	c.inflight--
	c.signal()
	c.mu.Unlock()
}

func resultErr(r image.Result) error {
	if r.Success {
		return nil
	}
	if r.Error == "" {
		return errors.New("generation failed")
	}
	return errors.New(r.Error)
}
