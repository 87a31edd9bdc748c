// execution_record.go defines the ExecutionRecord model, the append-only
// audit trail of every lifecycle task execution.
package models

import "time"

// ExecutionRecord is one audit entry for one task execution. User fields are
// visible to the instance owner; admin fields are visible to administrators
// only. Records are never updated or deleted; the instance reference is
// nullable so a record survives deletion of its instance.
type ExecutionRecord struct {
	ID         string
	InstanceID *string
	UserID     *string
	JobID      string
	TaskName   string

	UserMessage  *string
	UserTrace    *string
	AdminMessage *string
	AdminTrace   *string

	CreatedAt time.Time
}
