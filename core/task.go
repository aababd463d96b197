package core

import "time"

// TaskStatus is the lifecycle status of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is a unit of collaborative work. It is mutated only by the orchestrator.
type Task struct {
	ID               string     `json:"id"`
	Description      string     `json:"description"`
	AssignedAgentIDs []string   `json:"assigned_agent_ids,omitempty"`
	Status           TaskStatus `json:"status"`
	Result           string     `json:"result,omitempty"`
	Error            string     `json:"error,omitempty"`
	ChainID          string     `json:"chain_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewTask creates a pending task with a fresh id.
func NewTask(description string) Task {
	now := time.Now().UTC()
	return Task{
		ID:          NewID(),
		Description: description,
		Status:      TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy.
func (t Task) Clone() Task {
	t.AssignedAgentIDs = append([]string(nil), t.AssignedAgentIDs...)
	return t
}
