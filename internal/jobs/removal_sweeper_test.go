package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/serverfleet/serverfleet/internal/db/models"
	"github.com/serverfleet/serverfleet/internal/dispatch"
)

type fakeRemovalStore struct {
	due     []*models.ServerInstance
	listErr error
	updated []*models.ServerInstance
}

func (f *fakeRemovalStore) ListDueForRemoval(_ context.Context, _ time.Time) ([]*models.ServerInstance, error) {
	return f.due, f.listErr
}

func (f *fakeRemovalStore) Update(_ context.Context, s *models.ServerInstance) error {
	f.updated = append(f.updated, s)
	return nil
}

type captureQueue struct {
	tasks []*dispatch.Task
}

func (q *captureQueue) Enqueue(_ context.Context, t *dispatch.Task) error {
	q.tasks = append(q.tasks, t)
	return nil
}

func (q *captureQueue) EnqueueAfter(_ context.Context, t *dispatch.Task, _ time.Duration) error {
	q.tasks = append(q.tasks, t)
	return nil
}

func (q *captureQueue) Dequeue(_ context.Context) (*dispatch.Task, error) {
	return nil, errors.New("not used")
}

func TestRemovalSweepEnqueuesDueInstances(t *testing.T) {
	store := &fakeRemovalStore{
		due: []*models.ServerInstance{
			{ID: "inst-1", RemovalAt: time.Now().Add(-time.Hour)},
			{ID: "inst-2", RemovalAt: time.Now().Add(-time.Minute)},
		},
	}
	q := &captureQueue{}
	NewRemovalSweeper(store, q, time.Minute).RunOnce(context.Background())

	if len(q.tasks) != 2 {
		t.Fatalf("expected 2 delete tasks, got %d", len(q.tasks))
	}
	for _, task := range q.tasks {
		if task.Name != dispatch.TaskDelete {
			t.Errorf("task name = %q, want %q", task.Name, dispatch.TaskDelete)
		}
	}
	if len(store.updated) != 2 || !store.updated[0].MarkedForDeletion {
		t.Error("due instances must be soft-marked before enqueue")
	}
}

func TestRemovalSweepReenqueuesMarkedInstances(t *testing.T) {
	// An instance marked in an earlier sweep whose delete task got lost
	// (restart with the memory queue, dropped redelivery) must be picked up
	// again; otherwise it is orphaned forever.
	store := &fakeRemovalStore{
		due: []*models.ServerInstance{
			{ID: "inst-1", MarkedForDeletion: true, RemovalAt: time.Now().Add(-time.Hour)},
		},
	}
	q := &captureQueue{}
	NewRemovalSweeper(store, q, time.Minute).RunOnce(context.Background())

	if len(q.tasks) != 1 || q.tasks[0].Name != dispatch.TaskDelete {
		t.Fatalf("marked overdue instance must be re-enqueued, got %+v", q.tasks)
	}
	if len(store.updated) != 0 {
		t.Errorf("already-marked instances need no further update, got %d", len(store.updated))
	}
}

func TestRemovalSweepToleratesListFailure(t *testing.T) {
	store := &fakeRemovalStore{listErr: errors.New("db down")}
	q := &captureQueue{}
	NewRemovalSweeper(store, q, time.Minute).RunOnce(context.Background())

	if len(q.tasks) != 0 {
		t.Errorf("list failure must not enqueue, got %d tasks", len(q.tasks))
	}
}
