package structs

import (
	"time"

	"github.com/google/uuid"

	"machmap/pkg/dyld"
	"machmap/pkg/vm"
)

// Task is one command invocation handed to the registry.
type Task struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Params    string    `json:"parameters"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTask creates a task with a fresh ID.
func NewTask(command, params string) Task {
	return Task{
		ID:        uuid.NewString(),
		Command:   command,
		Params:    params,
		Timestamp: time.Now().UTC(),
	}
}

// NewResponse creates a new response for this task
func (t *Task) NewResponse() Response {
	return Response{
		TaskID: t.ID,
	}
}

// Response is what the driver prints or records for a finished task.
type Response struct {
	TaskID     string `json:"task_id"`
	UserOutput string `json:"user_output"`
	Status     string `json:"status"`
	Completed  bool   `json:"completed"`
}

// CommandResult represents the result of executing a command
type CommandResult struct {
	Output    string
	Status    string
	Completed bool
}

// Command interface for all commands
type Command interface {
	Name() string
	Description() string
	Execute(task Task) CommandResult
}

// Snapshot is one point-in-time inventory of a process.
type Snapshot struct {
	ID      string       `json:"id"`
	PID     int          `json:"pid"`
	TakenAt time.Time    `json:"taken_at"`
	Images  []dyld.Image `json:"images,omitempty"`
	Regions []vm.Region  `json:"regions,omitempty"`
	// Error is set when the region walk aborted; Regions then holds only the
	// prefix collected before the failure.
	Error string `json:"error,omitempty"`
}

// Complete reports whether the snapshot covers the whole address space.
func (s Snapshot) Complete() bool { return s.Error == "" }

// NewSnapshot stamps an empty snapshot for pid.
func NewSnapshot(pid int) Snapshot {
	return Snapshot{
		ID:      uuid.NewString(),
		PID:     pid,
		TakenAt: time.Now().UTC(),
	}
}
