package runtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task. Failed tasks are not retried.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskPayload is the closed set of work an agent can queue for itself.
// Only the types in this package implement it.
type TaskPayload interface {
	taskKind() string
}

// RelayTask sends Body to one agent.
type RelayTask struct {
	To   string
	Body string
}

// BroadcastTask sends Body to every other agent.
type BroadcastTask struct {
	Body string
}

// StatusReportTask summarises hub state and reports it as this agent's activity.
type StatusReportTask struct{}

// PromptTask asks the responder for a completion and, if ReplyTo is set,
// sends the result to that agent.
type PromptTask struct {
	Prompt  string
	ReplyTo string
}

func (RelayTask) taskKind() string        { return "relay" }
func (BroadcastTask) taskKind() string    { return "broadcast" }
func (StatusReportTask) taskKind() string { return "status_report" }
func (PromptTask) taskKind() string       { return "prompt" }

// Task is one queued unit of work.
type Task struct {
	ID          string      `json:"id"`
	Kind        string      `json:"kind"`
	Payload     TaskPayload `json:"-"`
	Status      TaskStatus  `json:"status"`
	Result      string      `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
}

const taskHistorySize = 100

// TaskQueue is a FIFO of pending tasks plus a bounded history of finished ones.
type TaskQueue struct {
	mu      sync.Mutex
	pending []*Task
	history []Task
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Push queues a payload and returns a snapshot of the new task.
func (q *TaskQueue) Push(payload TaskPayload, now time.Time) Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := &Task{
		ID:        uuid.NewString(),
		Kind:      payload.taskKind(),
		Payload:   payload,
		Status:    TaskPending,
		CreatedAt: now,
	}
	q.pending = append(q.pending, t)
	return *t
}

// pop removes and returns the oldest pending task.
func (q *TaskQueue) pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, false
	}
	t := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return t, true
}

// finish records a task's outcome in the history.
func (q *TaskQueue) finish(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.history = append(q.history, *t)
	if over := len(q.history) - taskHistorySize; over > 0 {
		q.history = append([]Task(nil), q.history[over:]...)
	}
}

// Pending returns the number of queued tasks.
func (q *TaskQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// History returns finished tasks, oldest first.
func (q *TaskQueue) History() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Task(nil), q.history...)
}
