package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/protocol"
)

var ErrInjected = errors.New("injected failure")

// SentMessage is one message recorded by RecordingMessenger.
type SentMessage struct {
	ConversationID string
	Text           string
	At             time.Time
}

// RecordingMessenger records sends and can be told to fail the next N calls.
type RecordingMessenger struct {
	mu       sync.Mutex
	Sent     []SentMessage
	failures int
}

func (m *RecordingMessenger) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures = n
}

func (m *RecordingMessenger) Send(_ context.Context, conversationID, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--

		return "", ErrInjected
	}

	m.Sent = append(m.Sent, SentMessage{ConversationID: conversationID, Text: text, At: time.Now()})

	return fmt.Sprintf("msg-%d", len(m.Sent)), nil
}

func (m *RecordingMessenger) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]SentMessage(nil), m.Sent...)
}

func (m *RecordingMessenger) Texts() []string {
	texts := make([]string, 0)
	for _, sent := range m.Messages() {
		texts = append(texts, sent.Text)
	}

	return texts
}

// RecordingEmailSender records emails and can be told to fail the next N calls.
type RecordingEmailSender struct {
	mu       sync.Mutex
	Sent     []protocol.Email
	Attempts int
	failures int
}

func (s *RecordingEmailSender) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = n
}

func (s *RecordingEmailSender) Send(_ context.Context, email protocol.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Attempts++

	if s.failures > 0 {
		s.failures--

		return ErrInjected
	}

	s.Sent = append(s.Sent, email)

	return nil
}

// StubLanguageModel answers by prompt; unknown prompts answer Default.
type StubLanguageModel struct {
	mu      sync.Mutex
	Answers map[string]bool
	Default bool
	Err     error
	Delay   time.Duration
	Calls   []string
}

func (l *StubLanguageModel) Evaluate(ctx context.Context, prompt, _ string) (bool, error) {
	l.mu.Lock()
	l.Calls = append(l.Calls, prompt)
	delay := l.Delay
	l.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	if l.Err != nil {
		return false, l.Err
	}

	if answer, ok := l.Answers[prompt]; ok {
		return answer, nil
	}

	return l.Default, nil
}

// RecordingScheduler keeps enqueued tasks in memory with pending dedupe.
type RecordingScheduler struct {
	mu    sync.Mutex
	Tasks []*models.Task
}

func (s *RecordingScheduler) Enqueue(_ context.Context, task *models.Task, runAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.Tasks {
		if existing.DedupeKey == task.DedupeKey && existing.Status == models.TaskPending {
			return false, nil
		}
	}

	task.RunAt = runAt
	task.Status = models.TaskPending
	s.Tasks = append(s.Tasks, task)

	return true, nil
}

// Pending returns pending tasks of a type.
func (s *RecordingScheduler) Pending(taskType models.TaskType) []*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*models.Task, 0)

	for _, task := range s.Tasks {
		if task.Type == taskType && task.Status == models.TaskPending {
			pending = append(pending, task)
		}
	}

	return pending
}

// Take marks a task dispatched and returns it.
func (s *RecordingScheduler) Take(task *models.Task) *models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	task.Status = models.TaskDispatched

	return task
}
