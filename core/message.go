package core

import (
	"time"

	"github.com/google/uuid"
)

// MessageType tags the semantic category of a message envelope.
type MessageType string

const (
	// MessageTaskRequest asks an agent to process an attached Task.
	MessageTaskRequest MessageType = "task_request"
	// MessageTaskResponse carries a TaskResult back to the requesting endpoint.
	MessageTaskResponse MessageType = "task_response"
	// MessageStatusUpdate announces an agent or project state change.
	MessageStatusUpdate MessageType = "status_update"
	// MessageProjectPlan carries a derived phase plan.
	MessageProjectPlan MessageType = "project_plan"
	// MessageCodeGeneration carries generated artifact metadata.
	MessageCodeGeneration MessageType = "code_generation"
	// MessageFileOperation announces a file-level operation performed by a worker.
	MessageFileOperation MessageType = "file_operation"
	// MessageError reports a failure that is not tied to a single task response.
	MessageError MessageType = "error"
)

// Message is the immutable envelope exchanged between agents and endpoints
// over the bus. Once created it must not be mutated; Broadcast produces
// independent clones rather than sharing one instance. CorrelationID groups
// request/response chains and is preserved across clones and replies.
type Message struct {
	ID            string      `json:"id"`
	Type          MessageType `json:"type"`
	From          string      `json:"from"`
	To            string      `json:"to"`
	Content       any         `json:"content,omitempty"`
	CorrelationID string      `json:"correlation_id"`
	Timestamp     time.Time   `json:"timestamp"`
}

// NewMessage creates a message with a fresh id and correlation id.
func NewMessage(msgType MessageType, from, to string, content any) Message {
	id := NewID()
	return Message{
		ID:            id,
		Type:          msgType,
		From:          from,
		To:            to,
		Content:       content,
		CorrelationID: id,
		Timestamp:     time.Now().UTC(),
	}
}

// NewTaskRequest builds a task_request envelope addressed to the task's
// assigned agent.
func NewTaskRequest(from string, task Task) Message {
	return NewMessage(MessageTaskRequest, from, task.AgentID, task)
}

// NewReply builds a response envelope addressed back to the sender of orig,
// sharing its correlation id so request/response chains stay linked.
func NewReply(orig Message, msgType MessageType, content any) Message {
	m := NewMessage(msgType, orig.To, orig.From, content)
	m.CorrelationID = orig.CorrelationID
	return m
}

// CloneFor returns an independent copy of the message addressed to a new
// destination. The clone receives a fresh id but keeps the original
// correlation id, so fan-out copies remain traceable to one broadcast.
func (m Message) CloneFor(to string) Message {
	c := m
	c.ID = NewID()
	c.To = to
	return c
}

// Task extracts an attached Task payload, reporting whether one was present.
func (m Message) Task() (Task, bool) {
	t, ok := m.Content.(Task)
	return t, ok
}

// Result extracts an attached TaskResult payload.
func (m Message) Result() (TaskResult, bool) {
	r, ok := m.Content.(TaskResult)
	return r, ok
}

// NewID mints a unique identifier for messages, tasks, projects and
// protocol instances.
func NewID() string { return uuid.NewString() }
