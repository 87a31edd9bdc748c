// task.go defines the task envelope travelling over the queue: one task per
// lifecycle operation, addressed by instance id.
package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// Task names, one per lifecycle operation.
const (
	TaskCreate        = "server.create"
	TaskStart         = "server.start"
	TaskStop          = "server.stop"
	TaskRestart       = "server.restart"
	TaskResetPassword = "server.reset_password"
	TaskProlong       = "server.prolong"
	TaskDelete        = "server.delete"
)

// Task is the queue envelope for one lifecycle operation on one instance.
// Attempt counts throttle reschedules, not retries: a task that fails fatally
// is never re-enqueued by the dispatcher.
type Task struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	InstanceID string    `json:"instance_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTask builds a task with a fresh job id.
func NewTask(name, instanceID string) *Task {
	return &Task{
		ID:         uuid.New().String(),
		Name:       name,
		InstanceID: instanceID,
		EnqueuedAt: time.Now(),
	}
}
