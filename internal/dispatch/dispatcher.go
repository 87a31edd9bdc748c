// Package dispatch executes lifecycle tasks pulled off the queue: it resolves
// the provider backend for an instance's template, runs the backend call,
// folds the result onto the instance, and appends an execution record. The
// dispatcher is the only component that talks to backends.
//
// Concurrency model: workers run tasks independently with no per-instance
// ordering. Instance updates are last-write-wins; deployments that need
// serialized execution per instance opt in via WithSingleFlight. The creation
// throttle is best-effort: it reads a count and may transiently admit one
// task too many.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/serverfleet/serverfleet/internal/db/models"
	"github.com/serverfleet/serverfleet/internal/notify"
	"github.com/serverfleet/serverfleet/internal/provider"
	"github.com/serverfleet/serverfleet/internal/safego"
	"github.com/serverfleet/serverfleet/internal/telemetry"
)

// errRescheduled signals that a task was pushed back by the throttle. It is
// control flow, not a failure: no execution record, no user notification.
var errRescheduled = errors.New("task rescheduled by throttle")

// defaultThrottleDelay is how long a throttled task waits before its next
// admission attempt.
const defaultThrottleDelay = 60 * time.Second

// InstanceStore is the instance persistence the dispatcher needs.
type InstanceStore interface {
	GetByID(ctx context.Context, instanceID string) (*models.ServerInstance, error)
	Update(ctx context.Context, s *models.ServerInstance) error
	HardDelete(ctx context.Context, instanceID string) error
	CountInCreation(ctx context.Context, templateID string) (int, error)
}

// TemplateStore loads the template an instance was ordered from.
type TemplateStore interface {
	GetByID(ctx context.Context, templateID string) (*models.ServerTemplate, error)
}

// ExecutionStore appends audit entries.
type ExecutionStore interface {
	Append(ctx context.Context, rec *models.ExecutionRecord) error
}

// Dispatcher runs lifecycle tasks.
type Dispatcher struct {
	registry  *provider.Registry
	queue     Queue
	instances InstanceStore
	templates TemplateStore
	records   ExecutionStore
	sink      notify.Sink

	throttleDelay time.Duration

	// instance-serialization, enabled via WithSingleFlight
	flightMu sync.Mutex
	flights  map[string]*sync.Mutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithThrottleDelay overrides the reschedule delay of the creation throttle.
func WithThrottleDelay(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.throttleDelay = d
		}
	}
}

// WithSingleFlight serializes task execution per instance id. Off by default;
// the data model tolerates concurrent updates (last write wins) and most
// deployments prefer throughput.
func WithSingleFlight() Option {
	return func(dp *Dispatcher) {
		dp.flights = make(map[string]*sync.Mutex)
	}
}

// NewDispatcher wires a dispatcher. A nil sink falls back to the log sink.
func NewDispatcher(
	registry *provider.Registry,
	queue Queue,
	instances InstanceStore,
	templates TemplateStore,
	records ExecutionStore,
	sink notify.Sink,
	opts ...Option,
) *Dispatcher {
	if sink == nil {
		sink = notify.LogSink{}
	}
	d := &Dispatcher{
		registry:      registry,
		queue:         queue,
		instances:     instances,
		templates:     templates,
		records:       records,
		sink:          sink,
		throttleDelay: defaultThrottleDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run consumes the queue with the given number of workers until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		safego.Go(func() {
			defer wg.Done()
			d.worker(ctx)
		})
	}
	wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		task, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("dequeue failed", "error", err)
			continue
		}
		d.Execute(ctx, task)
	}
}

// Execute runs one task end to end: throttle, backend call, fold, audit.
// Throttle reschedules are silent; any other failure is fatal and produces
// exactly one admin-visible execution record.
func (d *Dispatcher) Execute(ctx context.Context, task *Task) {
	start := time.Now()
	err := d.run(ctx, task)
	telemetry.TaskDuration.WithLabelValues(task.Name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		telemetry.TaskExecutionsTotal.WithLabelValues(task.Name, "ok").Inc()
	case errors.Is(err, errRescheduled):
		telemetry.TaskExecutionsTotal.WithLabelValues(task.Name, "rescheduled").Inc()
	default:
		telemetry.TaskExecutionsTotal.WithLabelValues(task.Name, "failed").Inc()
		d.failFatal(ctx, task, err)
	}
}

func (d *Dispatcher) run(ctx context.Context, task *Task) error {
	if d.flights != nil {
		unlock := d.lockInstance(task.InstanceID)
		defer unlock()
	}

	inst, err := d.instances.GetByID(ctx, task.InstanceID)
	if err != nil {
		return fmt.Errorf("load instance %s: %w", task.InstanceID, err)
	}
	if inst == nil {
		return fmt.Errorf("instance %s not found", task.InstanceID)
	}

	tmpl, err := d.templates.GetByID(ctx, inst.TemplateID)
	if err != nil {
		return fmt.Errorf("load template %s: %w", inst.TemplateID, err)
	}
	if tmpl == nil {
		return fmt.Errorf("template %s not found", inst.TemplateID)
	}

	throttled, err := d.throttled(ctx, tmpl)
	if err != nil {
		return err
	}
	if throttled {
		return d.reschedule(ctx, task, tmpl)
	}

	backend, err := d.registry.Resolve(tmpl.ProviderReference, tmpl.TemplateParams)
	if err != nil {
		return fmt.Errorf("resolve backend for template %s: %w", tmpl.ID, err)
	}

	switch task.Name {
	case TaskCreate:
		return d.runCreate(ctx, task, inst, tmpl, backend)
	case TaskStart:
		return d.runPower(ctx, task, inst, backend, "started")
	case TaskStop:
		return d.runPower(ctx, task, inst, backend, "stopped")
	case TaskRestart:
		return d.runPower(ctx, task, inst, backend, "restarted")
	case TaskResetPassword:
		return d.runResetPassword(ctx, task, inst, backend)
	case TaskProlong:
		return d.runProlong(ctx, task, inst, tmpl, backend)
	case TaskDelete:
		return d.runDelete(ctx, task, inst, backend)
	default:
		return fmt.Errorf("unknown task name %q", task.Name)
	}
}

// throttled reports whether the template's parallel-execution cap is
// exceeded. The count includes the task's own instance while it has no
// server id, so "count > cap" admits exactly cap creations at a time.
// A cap of 0 means unlimited.
func (d *Dispatcher) throttled(ctx context.Context, tmpl *models.ServerTemplate) (bool, error) {
	if tmpl.MaxParallelExecutions <= 0 {
		return false, nil
	}
	count, err := d.instances.CountInCreation(ctx, tmpl.ID)
	if err != nil {
		return false, fmt.Errorf("count in-creation instances: %w", err)
	}
	return count > tmpl.MaxParallelExecutions, nil
}

func (d *Dispatcher) reschedule(ctx context.Context, task *Task, tmpl *models.ServerTemplate) error {
	task.Attempt++
	if err := d.queue.EnqueueAfter(ctx, task, d.throttleDelay); err != nil {
		return fmt.Errorf("reschedule throttled task: %w", err)
	}
	telemetry.ThrottleReschedulesTotal.WithLabelValues(tmpl.Name).Inc()
	slog.Info("task throttled",
		"task", task.Name, "instance", task.InstanceID,
		"template", tmpl.Name, "attempt", task.Attempt)
	return errRescheduled
}

func (d *Dispatcher) runCreate(ctx context.Context, task *Task, inst *models.ServerInstance, tmpl *models.ServerTemplate, backend provider.Backend) error {
	// Let the user know work has started; provisioning can take a while.
	d.sink.Push(inst.UserID, notify.SeverityInfo, "your server is being created")

	info, err := backend.Create(ctx, provider.CreateRequest{
		InstanceID:   inst.ID,
		UserID:       inst.UserID,
		TemplateName: tmpl.Name,
		Description:  tmpl.Description,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	update := info.Update()
	rendered, err := RenderUserMessage(tmpl.UserMessage, NewMessageData(info, inst.RemovalAt))
	if err != nil {
		return err
	}
	if rendered != "" {
		update.UserMessage = &rendered
	}

	inst.Fold(update)
	if err := d.instances.Update(ctx, inst); err != nil {
		return fmt.Errorf("persist create result: %w", err)
	}

	d.record(ctx, task, inst, info.Message)
	d.notifyUser(ctx, inst, info.Message, "your server is ready")
	return nil
}

// runPower handles start, stop, and restart; they differ only in which
// optional capability the backend must implement.
func (d *Dispatcher) runPower(ctx context.Context, task *Task, inst *models.ServerInstance, backend provider.Backend, verb string) error {
	serverID, err := requireServerID(inst)
	if err != nil {
		return err
	}

	var info *provider.Info
	switch task.Name {
	case TaskStart:
		starter, ok := backend.(provider.Starter)
		if !ok {
			return fmt.Errorf("start: %w", provider.ErrCapabilityUnsupported)
		}
		info, err = starter.Start(ctx, serverID)
	case TaskStop:
		stopper, ok := backend.(provider.Stopper)
		if !ok {
			return fmt.Errorf("stop: %w", provider.ErrCapabilityUnsupported)
		}
		info, err = stopper.Stop(ctx, serverID)
	case TaskRestart:
		restarter, ok := backend.(provider.Restarter)
		if !ok {
			return fmt.Errorf("restart: %w", provider.ErrCapabilityUnsupported)
		}
		info, err = restarter.Restart(ctx, serverID)
	}
	if err != nil {
		return fmt.Errorf("%s server: %w", verb, err)
	}

	inst.Fold(info.Update())
	if err := d.instances.Update(ctx, inst); err != nil {
		return fmt.Errorf("persist %s result: %w", verb, err)
	}

	d.record(ctx, task, inst, info.Message)
	d.notifyUser(ctx, inst, info.Message, "your server was "+verb)
	return nil
}

func (d *Dispatcher) runResetPassword(ctx context.Context, task *Task, inst *models.ServerInstance, backend provider.Backend) error {
	serverID, err := requireServerID(inst)
	if err != nil {
		return err
	}
	resetter, ok := backend.(provider.PasswordResetter)
	if !ok {
		return fmt.Errorf("reset password: %w", provider.ErrCapabilityUnsupported)
	}

	info, err := resetter.ResetPassword(ctx, serverID)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	inst.Fold(info.Update())
	if err := d.instances.Update(ctx, inst); err != nil {
		return fmt.Errorf("persist password reset: %w", err)
	}

	d.record(ctx, task, inst, info.Message)
	d.notifyUser(ctx, inst, info.Message, "your server password was reset")
	return nil
}

// runProlong extends the instance's lifetime by the template's prolong step
// and re-arms the expiry notification. Backends get a chance to react via the
// optional Prolonger capability; when they pass, the current server info is
// re-fetched instead so the fold still refreshes state.
func (d *Dispatcher) runProlong(ctx context.Context, task *Task, inst *models.ServerInstance, tmpl *models.ServerTemplate, backend provider.Backend) error {
	if tmpl.ProlongByDays == nil {
		return fmt.Errorf("template %s does not allow prolonging", tmpl.ID)
	}

	inst.RemovalAt = inst.RemovalAt.AddDate(0, 0, *tmpl.ProlongByDays)
	inst.InfoMailSent = false
	inst.ProlongSecret = nil

	var info *provider.Info
	var err error
	if prolonger, ok := backend.(provider.Prolonger); ok && inst.ServerID != nil {
		info, err = prolonger.Prolong(ctx, *inst.ServerID)
		if err != nil {
			return fmt.Errorf("prolong server: %w", err)
		}
	}
	if info == nil && inst.ServerID != nil {
		info, err = backend.GetInfo(ctx, *inst.ServerID)
		if err != nil {
			return fmt.Errorf("refresh server info: %w", err)
		}
	}
	if info != nil {
		inst.Fold(info.Update())
	}

	if err := d.instances.Update(ctx, inst); err != nil {
		return fmt.Errorf("persist prolong: %w", err)
	}

	var msg *provider.StatusMessage
	if info != nil {
		msg = info.Message
	}
	d.record(ctx, task, inst, msg)
	d.notifyUser(ctx, inst, msg, fmt.Sprintf("your server's lifetime was extended until %s", inst.RemovalAt.Format(time.RFC1123)))
	return nil
}

// runDelete destroys the backend server and removes the instance row. A
// backend-originated failure is retried once; if the retry fails too, the row
// is removed anyway so a broken provider cannot pin instances forever. The
// execution record is appended before the row goes away so the foreign key
// detaches it instead of dropping it.
func (d *Dispatcher) runDelete(ctx context.Context, task *Task, inst *models.ServerInstance, backend provider.Backend) error {
	var msg *provider.StatusMessage
	if inst.ServerID != nil {
		info, err := backend.Delete(ctx, *inst.ServerID)
		if err != nil && provider.IsBackendError(err) {
			slog.Warn("backend delete failed, retrying once",
				"instance", inst.ID, "server", *inst.ServerID, "error", err)
			info, err = backend.Delete(ctx, *inst.ServerID)
		}
		switch {
		case err == nil:
			msg = info.Message
		case provider.IsBackendError(err):
			// The server may leak on the provider side; the admin trace
			// carries enough to clean up by hand.
			msg = &provider.StatusMessage{
				AdminMessage: fmt.Sprintf("backend delete failed twice for server %s, removing instance anyway", *inst.ServerID),
				AdminTrace:   err.Error(),
			}
		default:
			return fmt.Errorf("delete server: %w", err)
		}
	}

	d.record(ctx, task, inst, msg)
	if err := d.instances.HardDelete(ctx, inst.ID); err != nil {
		return fmt.Errorf("remove instance row: %w", err)
	}

	d.sink.Push(inst.UserID, notify.SeveritySuccess, "your server was deleted")
	return nil
}

// failFatal reports a failed task: exactly one admin-visible execution
// record, plus a generic user notification when the instance still exists.
// Failures inside the handler itself are logged, never propagated.
func (d *Dispatcher) failFatal(ctx context.Context, task *Task, taskErr error) {
	slog.Error("task failed",
		"task", task.Name, "job", task.ID,
		"instance", task.InstanceID, "error", taskErr)

	rec := &models.ExecutionRecord{
		JobID:        task.ID,
		TaskName:     task.Name,
		AdminMessage: strPtr(fmt.Sprintf("task %s failed", task.Name)),
		AdminTrace:   strPtr(taskErr.Error()),
	}

	inst, err := d.instances.GetByID(ctx, task.InstanceID)
	if err != nil {
		slog.Error("loading instance for failure report failed", "instance", task.InstanceID, "error", err)
	}
	// The instance is left untouched: a failed backend call must not rewrite
	// state the backend never reported. Its state only ever changes by folding
	// results.
	if inst != nil {
		rec.InstanceID = &inst.ID
		rec.UserID = &inst.UserID
		d.sink.Push(inst.UserID, notify.SeverityError, "an operation on your server failed, support has been notified")
	}

	if err := d.records.Append(ctx, rec); err != nil {
		slog.Error("appending failure record failed", "job", task.ID, "error", err)
	}
}

// record appends a success execution record carrying the backend's status
// message. Audit failures are logged, not propagated; the operation itself
// already succeeded.
func (d *Dispatcher) record(ctx context.Context, task *Task, inst *models.ServerInstance, msg *provider.StatusMessage) {
	rec := &models.ExecutionRecord{
		InstanceID: &inst.ID,
		UserID:     &inst.UserID,
		JobID:      task.ID,
		TaskName:   task.Name,
	}
	if msg != nil {
		if msg.UserMessage != "" {
			rec.UserMessage = &msg.UserMessage
		}
		if msg.UserTrace != "" {
			rec.UserTrace = &msg.UserTrace
		}
		if msg.AdminMessage != "" {
			rec.AdminMessage = &msg.AdminMessage
		}
		if msg.AdminTrace != "" {
			rec.AdminTrace = &msg.AdminTrace
		}
	}
	if err := d.records.Append(ctx, rec); err != nil {
		slog.Error("appending execution record failed", "job", task.ID, "error", err)
	}
}

// notifyUser pushes a success message, preferring the backend's user-facing
// text over the generic fallback.
func (d *Dispatcher) notifyUser(_ context.Context, inst *models.ServerInstance, msg *provider.StatusMessage, fallback string) {
	text := fallback
	if msg != nil && msg.UserMessage != "" {
		text = msg.UserMessage
	}
	d.sink.Push(inst.UserID, notify.SeveritySuccess, text)
}

func (d *Dispatcher) lockInstance(instanceID string) (unlock func()) {
	d.flightMu.Lock()
	mu, ok := d.flights[instanceID]
	if !ok {
		mu = &sync.Mutex{}
		d.flights[instanceID] = mu
	}
	d.flightMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func requireServerID(inst *models.ServerInstance) (string, error) {
	if inst.ServerID == nil || *inst.ServerID == "" {
		return "", fmt.Errorf("instance %s has no backend server yet", inst.ID)
	}
	return *inst.ServerID, nil
}

func strPtr(s string) *string { return &s }
