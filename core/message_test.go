package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMessage(t *testing.T) {
	m := NewMessage(MessageTaskRequest, "scheduler", "backend-1", "payload")

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, m.ID, m.CorrelationID)
	assert.Equal(t, MessageTaskRequest, m.Type)
	assert.Equal(t, "scheduler", m.From)
	assert.Equal(t, "backend-1", m.To)
	assert.False(t, m.Timestamp.IsZero())
}

func TestMessage_CloneFor(t *testing.T) {
	orig := NewMessage(MessageStatusUpdate, "orchestrator", "", map[string]any{"state": "executing"})

	clone := orig.CloneFor("frontend-1")

	assert.NotEqual(t, orig.ID, clone.ID)
	assert.Equal(t, orig.CorrelationID, clone.CorrelationID)
	assert.Equal(t, "frontend-1", clone.To)
	assert.Equal(t, orig.From, clone.From)
	assert.Equal(t, orig.Content, clone.Content)
}

func TestNewReply_SharesCorrelation(t *testing.T) {
	task := NewTask("proj-1", "implementation", KindBackend, "build api")
	task.AgentID = "backend-1"
	req := NewTaskRequest("scheduler", task)

	reply := NewReply(req, MessageTaskResponse, TaskResult{TaskID: task.ID})

	assert.Equal(t, req.CorrelationID, reply.CorrelationID)
	assert.Equal(t, "backend-1", reply.From)
	assert.Equal(t, "scheduler", reply.To)
	assert.NotEqual(t, req.ID, reply.ID)
}

func TestMessage_TaskExtraction(t *testing.T) {
	task := NewTask("proj-1", "implementation", KindFrontend, "build ui")
	task.AgentID = "frontend-1"
	req := NewTaskRequest("scheduler", task)

	got, ok := req.Task()
	assert.True(t, ok)
	assert.Equal(t, task.ID, got.ID)

	_, ok = req.Result()
	assert.False(t, ok)
}
