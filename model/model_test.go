package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockBackend_CannedResponse(t *testing.T) {
	m := NewMockBackend()
	m.AddResponse("build a login page", "<html>login</html>")

	resp, err := m.Generate(context.Background(), Request{Prompt: "build a login page"})

	require.NoError(t, err)
	assert.Equal(t, "<html>login</html>", resp.Text)
	assert.Equal(t, "mock-model", resp.Model)
	assert.Equal(t, 1, m.Calls())
}

func TestMockBackend_UnmatchedPromptEchoes(t *testing.T) {
	m := NewMockBackend()

	resp, err := m.Generate(context.Background(), Request{Prompt: "anything"})

	require.NoError(t, err)
	assert.Contains(t, resp.Text, "anything")
}

func TestMockBackend_FailFirst(t *testing.T) {
	m := NewMockBackend()
	m.FailFirst = 2

	_, err := m.Generate(context.Background(), Request{Prompt: "p"})
	assert.Error(t, err)
	_, err = m.Generate(context.Background(), Request{Prompt: "p"})
	assert.Error(t, err)
	_, err = m.Generate(context.Background(), Request{Prompt: "p"})
	assert.NoError(t, err)
}

func TestMockBackend_ErrFailsEveryCall(t *testing.T) {
	m := NewMockBackend()
	m.Err = errors.New("backend down")

	_, err := m.Generate(context.Background(), Request{Prompt: "p"})
	assert.EqualError(t, err, "backend down")
}

func TestMockBackend_HonorsContextDeadline(t *testing.T) {
	m := NewMockBackend()
	m.Delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Generate(ctx, Request{Prompt: "p"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
